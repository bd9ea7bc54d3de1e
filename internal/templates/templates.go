// Package templates stores reusable outbound message bodies with simple
// {{placeholder}} substitution. Used by queued sends and template blasts.
package templates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrTemplateNotFound is returned when no active template matches a name
var ErrTemplateNotFound = errors.New("template not found")

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Template is a named reusable message body
type Template struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Render substitutes {{name}} placeholders from vars. Placeholders with no
// matching variable are left in place so the gap is visible downstream.
func (t *Template) Render(vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(t.Body, func(match string) string {
		key := strings.TrimSpace(strings.Trim(match, "{}"))
		if value, ok := vars[key]; ok {
			return value
		}
		return match
	})
}

// Placeholders returns the distinct placeholder names in the body, in order
// of first appearance.
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var names []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(t.Body, -1) {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// Storage provides access to stored message templates
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new storage instance
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// GetByName returns the active template with the given name
func (s *Storage) GetByName(ctx context.Context, name string) (*Template, error) {
	query := `
	SELECT id, name, body, active, created_at, updated_at
	FROM message_templates
	WHERE name = $1 AND active = TRUE
	`

	var t Template
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&t.ID, &t.Name, &t.Body, &t.Active, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &t, nil
}

// List returns all templates, active first, alphabetical within each group
func (s *Storage) List(ctx context.Context) ([]*Template, error) {
	query := `
	SELECT id, name, body, active, created_at, updated_at
	FROM message_templates
	ORDER BY active DESC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Body, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, nil
}

// Upsert creates or replaces a template by name
func (s *Storage) Upsert(ctx context.Context, name, body string) (*Template, error) {
	query := `
	INSERT INTO message_templates (name, body, active, created_at, updated_at)
	VALUES ($1, $2, TRUE, NOW(), NOW())
	ON CONFLICT (name) DO UPDATE
	SET body = $2, active = TRUE, updated_at = NOW()
	RETURNING id, name, body, active, created_at, updated_at
	`

	var t Template
	err := s.db.QueryRowContext(ctx, query, name, body).Scan(
		&t.ID, &t.Name, &t.Body, &t.Active, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert template: %w", err)
	}
	return &t, nil
}

// Deactivate hides a template from lookups without deleting it
func (s *Storage) Deactivate(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE message_templates SET active = FALSE, updated_at = NOW() WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to deactivate template: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}
