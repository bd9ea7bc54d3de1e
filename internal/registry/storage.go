package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Storage reads agent definitions and their attachments. Aside from seeding
// a fresh database, this core never writes agent rows; the administrative
// surface owns them.
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new storage instance
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// ListActive retrieves all active agent definitions with prompts, tools, and
// documents attached.
func (s *Storage) ListActive(ctx context.Context) ([]*AgentDefinition, error) {
	return s.list(ctx, string(AgentActive))
}

// ListAll retrieves every definition regardless of status, for the admin
// read surface.
func (s *Storage) ListAll(ctx context.Context) ([]*AgentDefinition, error) {
	return s.list(ctx, "")
}

func (s *Storage) list(ctx context.Context, status string) ([]*AgentDefinition, error) {
	query := `
	SELECT id, name, type_tag, status, description, base_instructions,
	       temperature, max_tokens, timeout_seconds, max_retries, model_overrides,
	       created_at, updated_at
	FROM agent_definitions
	WHERE ($1 = '' OR status = $1)
	ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent definitions: %w", err)
	}
	defer rows.Close()

	var agents []*AgentDefinition
	for rows.Next() {
		var agent AgentDefinition
		var agentStatus string
		var overrides sql.NullString
		err := rows.Scan(
			&agent.ID, &agent.Name, &agent.TypeTag, &agentStatus,
			&agent.Description, &agent.BaseInstructions,
			&agent.Params.Temperature, &agent.Params.MaxTokens,
			&agent.Params.TimeoutSecs, &agent.Params.MaxRetries,
			&overrides, &agent.CreatedAt, &agent.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent definition: %w", err)
		}

		agent.Status = AgentStatus(agentStatus)
		agent.Key = NormalizeKey(agent.Name)
		if overrides.Valid {
			agent.ModelOverrides = []byte(overrides.String)
		}
		agents = append(agents, &agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent definitions: %w", err)
	}

	for _, agent := range agents {
		if err := s.attach(ctx, agent); err != nil {
			return nil, err
		}
	}

	log.Debug().Int("count", len(agents)).Str("status", status).Msg("Loaded agent definitions")
	return agents, nil
}

// Seed inserts the given definitions, skipping names that already exist.
// Returns how many rows were inserted.
func (s *Storage) Seed(ctx context.Context, defs []*AgentDefinition) (int, error) {
	query := `
	INSERT INTO agent_definitions (
		name, type_tag, status, description, base_instructions,
		temperature, max_tokens, timeout_seconds, max_retries
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (name) DO NOTHING
	`

	inserted := 0
	for _, def := range defs {
		result, err := s.db.ExecContext(ctx, query,
			def.Name, def.TypeTag, string(def.Status), def.Description, def.BaseInstructions,
			def.Params.Temperature, def.Params.MaxTokens, def.Params.TimeoutSecs, def.Params.MaxRetries,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed agent %q: %w", def.Name, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to get affected rows: %w", err)
		}
		inserted += int(rows)
	}

	log.Debug().Int("inserted", inserted).Int("offered", len(defs)).Msg("Seeded agent definitions")
	return inserted, nil
}

// GetByID retrieves one definition with its attachments
func (s *Storage) GetByID(ctx context.Context, id int64) (*AgentDefinition, error) {
	query := `
	SELECT id, name, type_tag, status, description, base_instructions,
	       temperature, max_tokens, timeout_seconds, max_retries, model_overrides,
	       created_at, updated_at
	FROM agent_definitions
	WHERE id = $1
	`

	var agent AgentDefinition
	var agentStatus string
	var overrides sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&agent.ID, &agent.Name, &agent.TypeTag, &agentStatus,
		&agent.Description, &agent.BaseInstructions,
		&agent.Params.Temperature, &agent.Params.MaxTokens,
		&agent.Params.TimeoutSecs, &agent.Params.MaxRetries,
		&overrides, &agent.CreatedAt, &agent.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("agent definition not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get agent definition: %w", err)
	}

	agent.Status = AgentStatus(agentStatus)
	agent.Key = NormalizeKey(agent.Name)
	if overrides.Valid {
		agent.ModelOverrides = []byte(overrides.String)
	}

	if err := s.attach(ctx, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// attach loads prompts, tools, and documents for one definition
func (s *Storage) attach(ctx context.Context, agent *AgentDefinition) error {
	promptQuery := `
	SELECT id, prompt_type, content, priority, created_at
	FROM agent_prompts
	WHERE agent_id = $1
	ORDER BY priority DESC, created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, promptQuery, agent.ID)
	if err != nil {
		return fmt.Errorf("failed to load agent prompts: %w", err)
	}
	for rows.Next() {
		var block PromptBlock
		var promptType string
		if err := rows.Scan(&block.ID, &promptType, &block.Content, &block.Priority, &block.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan prompt block: %w", err)
		}
		block.Type = PromptType(promptType)
		agent.Prompts = append(agent.Prompts, block)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating prompt blocks: %w", err)
	}

	toolQuery := `
	SELECT id, name, description
	FROM agent_tools
	WHERE agent_id = $1
	ORDER BY id ASC
	`
	rows, err = s.db.QueryContext(ctx, toolQuery, agent.ID)
	if err != nil {
		return fmt.Errorf("failed to load agent tools: %w", err)
	}
	for rows.Next() {
		var binding ToolBinding
		if err := rows.Scan(&binding.ID, &binding.Name, &binding.Description); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan tool binding: %w", err)
		}
		agent.Tools = append(agent.Tools, binding)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating tool bindings: %w", err)
	}

	docQuery := `
	SELECT id, name, kind, description, usage_instructions, content, priority
	FROM agent_documents
	WHERE agent_id = $1
	ORDER BY priority DESC, id ASC
	`
	rows, err = s.db.QueryContext(ctx, docQuery, agent.ID)
	if err != nil {
		return fmt.Errorf("failed to load agent documents: %w", err)
	}
	for rows.Next() {
		var doc ContextDocument
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.Kind, &doc.Description,
			&doc.UsageInstructions, &doc.Content, &doc.Priority); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan context document: %w", err)
		}
		agent.Documents = append(agent.Documents, doc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating context documents: %w", err)
	}

	return nil
}
