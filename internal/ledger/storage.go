package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ErrDuplicateEvent is returned when an idempotency key has already been
// recorded. Concurrent duplicate deliveries race on the unique constraint;
// the loser observes this error and treats the event as already handled.
var ErrDuplicateEvent = errors.New("duplicate event")

// ErrEventNotFound is returned when no ledger entry matches the lookup
var ErrEventNotFound = errors.New("event not found")

// uniqueViolation is the Postgres error code for unique constraint violations
const uniqueViolation = "23505"

// Storage provides methods to store and retrieve webhook events
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new storage instance
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// CreateEvent inserts a new ledger entry with status pending. A unique
// constraint on the idempotency key makes this the authoritative dedupe
// point: the second insert for a key returns ErrDuplicateEvent.
func (s *Storage) CreateEvent(ctx context.Context, event *Event) error {
	query := `
	INSERT INTO webhook_events (
		event_id, idempotency_key, kind, payload, status, attempts, created_at
	) VALUES (
		$1, $2, $3, $4, $5, 0, NOW()
	) RETURNING id, created_at
	`

	err := s.db.QueryRowContext(
		ctx, query,
		event.EventID, event.IdempotencyKey, string(event.Kind), []byte(event.Payload), string(StatusPending),
	).Scan(&event.ID, &event.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("failed to create event: %w", err)
	}

	event.Status = StatusPending

	log.Debug().
		Str("event_id", event.EventID).
		Str("idempotency_key", event.IdempotencyKey).
		Str("kind", string(event.Kind)).
		Msg("Recorded webhook event")

	return nil
}

// GetByIdempotencyKey retrieves an event by its idempotency key
func (s *Storage) GetByIdempotencyKey(ctx context.Context, key string) (*Event, error) {
	query := `
	SELECT id, event_id, idempotency_key, kind, payload, status, attempts,
	       error_detail, conversation_id, message_id, created_at, started_at, completed_at
	FROM webhook_events
	WHERE idempotency_key = $1
	`

	var event Event
	var kind, status string
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&event.ID, &event.EventID, &event.IdempotencyKey, &kind, &event.Payload,
		&status, &event.Attempts, &event.ErrorDetail,
		&event.ConversationID, &event.MessageID,
		&event.CreatedAt, &event.StartedAt, &event.CompletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	event.Kind = EventKind(kind)
	event.Status = EventStatus(status)
	return &event, nil
}

// MarkProcessing transitions an event to processing and bumps its attempt count
func (s *Storage) MarkProcessing(ctx context.Context, id int64) error {
	query := `
	UPDATE webhook_events
	SET status = $1, attempts = attempts + 1, started_at = NOW()
	WHERE id = $2
	`
	if _, err := s.db.ExecContext(ctx, query, string(StatusProcessing), id); err != nil {
		return fmt.Errorf("failed to mark event processing: %w", err)
	}
	return nil
}

// MarkProcessed finalizes an event, recording the conversation and message it
// produced when applicable.
func (s *Storage) MarkProcessed(ctx context.Context, id int64, conversationID, messageID sql.NullInt64) error {
	query := `
	UPDATE webhook_events
	SET status = $1, conversation_id = $2, message_id = $3, completed_at = NOW()
	WHERE id = $4
	`
	if _, err := s.db.ExecContext(ctx, query, string(StatusProcessed), conversationID, messageID, id); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// MarkFailed finalizes an event with the captured error detail
func (s *Storage) MarkFailed(ctx context.Context, id int64, detail string) error {
	query := `
	UPDATE webhook_events
	SET status = $1, error_detail = $2, completed_at = NOW()
	WHERE id = $3
	`
	if _, err := s.db.ExecContext(ctx, query, string(StatusFailed), detail, id); err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

// MarkIgnored finalizes an event that required no processing, with a reason
func (s *Storage) MarkIgnored(ctx context.Context, id int64, reason string) error {
	query := `
	UPDATE webhook_events
	SET status = $1, error_detail = $2, completed_at = NOW()
	WHERE id = $3
	`
	if _, err := s.db.ExecContext(ctx, query, string(StatusIgnored), reason, id); err != nil {
		return fmt.Errorf("failed to mark event ignored: %w", err)
	}
	return nil
}

// PruneBefore deletes terminal events completed before the cutoff. Pending and
// processing entries are never pruned.
func (s *Storage) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
	DELETE FROM webhook_events
	WHERE completed_at IS NOT NULL
	  AND completed_at < $1
	  AND status IN ($2, $3, $4)
	`

	result, err := s.db.ExecContext(ctx, query, cutoff,
		string(StatusProcessed), string(StatusFailed), string(StatusIgnored))
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	log.Debug().Int64("pruned", rows).Time("cutoff", cutoff).Msg("Pruned terminal events")
	return rows, nil
}
