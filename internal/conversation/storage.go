package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrMessageNotFound is returned when no message matches a provider id lookup
var ErrMessageNotFound = errors.New("message not found")

// Storage provides methods to store and retrieve conversations and messages
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new storage instance
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// GetOrCreateByParticipant resolves the conversation for a participant,
// creating it on first contact. An ended conversation is reactivated: a new
// inbound message from the participant reopens the exchange.
func (s *Storage) GetOrCreateByParticipant(ctx context.Context, participant, externalID string) (*Conversation, error) {
	query := `
	INSERT INTO conversations (participant, external_id, status, last_activity_at, created_at, updated_at)
	VALUES ($1, NULLIF($2, ''), $3, NOW(), NOW(), NOW())
	ON CONFLICT (participant) DO UPDATE
	SET status = $3,
	    external_id = COALESCE(NULLIF($2, ''), conversations.external_id),
	    updated_at = NOW()
	RETURNING id, external_id, participant, status, message_count, unread_count,
	          last_activity_at, metadata, created_at, updated_at
	`

	var conv Conversation
	var status string
	err := s.db.QueryRowContext(ctx, query, participant, externalID, string(ConversationActive)).Scan(
		&conv.ID, &conv.ExternalID, &conv.Participant, &status,
		&conv.MessageCount, &conv.UnreadCount, &conv.LastActivityAt,
		&conv.Metadata, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create conversation: %w", err)
	}

	conv.Status = ConversationStatus(status)
	return &conv, nil
}

// GetByID retrieves a conversation by its id
func (s *Storage) GetByID(ctx context.Context, id int64) (*Conversation, error) {
	query := `
	SELECT id, external_id, participant, status, message_count, unread_count,
	       last_activity_at, metadata, created_at, updated_at
	FROM conversations
	WHERE id = $1
	`

	var conv Conversation
	var status string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.ExternalID, &conv.Participant, &status,
		&conv.MessageCount, &conv.UnreadCount, &conv.LastActivityAt,
		&conv.Metadata, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	conv.Status = ConversationStatus(status)
	return &conv, nil
}

// AppendInbound appends an inbound message and updates the conversation's
// counters and activity timestamp in a single transaction, so creation-time
// ordering holds under concurrent deliveries for the same participant.
func (s *Storage) AppendInbound(ctx context.Context, msg *Message) error {
	return s.appendInTx(ctx, msg, `
	UPDATE conversations
	SET message_count = message_count + 1,
	    unread_count = unread_count + 1,
	    last_activity_at = NOW(),
	    updated_at = NOW()
	WHERE id = $1
	`)
}

// AppendOutboundPending appends an outbound message in pending state. Callers
// mark it sent or failed after the channel call resolves.
func (s *Storage) AppendOutboundPending(ctx context.Context, msg *Message) error {
	msg.Direction = DirectionOutbound
	msg.DeliveryStatus = DeliveryPending
	return s.appendInTx(ctx, msg, `
	UPDATE conversations
	SET message_count = message_count + 1,
	    last_activity_at = NOW(),
	    updated_at = NOW()
	WHERE id = $1
	`)
}

func (s *Storage) appendInTx(ctx context.Context, msg *Message, counterQuery string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
	INSERT INTO messages (
		conversation_id, external_id, direction, kind, content,
		delivery_status, auto_generated, triggered_by, metadata, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, '{}'), NOW()
	) RETURNING id, created_at
	`

	var externalID interface{}
	if msg.ExternalID.Valid && msg.ExternalID.String != "" {
		externalID = msg.ExternalID.String
	}
	var triggeredBy interface{}
	if msg.TriggeredBy.Valid {
		triggeredBy = msg.TriggeredBy.Int64
	}

	err = tx.QueryRowContext(ctx, insert,
		msg.ConversationID, externalID, string(msg.Direction), msg.Kind, msg.Content,
		string(msg.DeliveryStatus), msg.AutoGenerated, triggeredBy, nullableJSON(msg.Metadata),
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, counterQuery, msg.ConversationID); err != nil {
		return fmt.Errorf("failed to update conversation counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Debug().
		Int64("conversation_id", msg.ConversationID).
		Int64("message_id", msg.ID).
		Str("direction", string(msg.Direction)).
		Msg("Appended message")

	return nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// MarkMessageSent records the provider message id after a successful send
func (s *Storage) MarkMessageSent(ctx context.Context, id int64, providerMessageID string) error {
	query := `
	UPDATE messages
	SET delivery_status = $1, external_id = $2
	WHERE id = $3
	`
	if _, err := s.db.ExecContext(ctx, query, string(DeliverySent), providerMessageID, id); err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}
	return nil
}

// MarkMessageFailed records a send failure with its error text
func (s *Storage) MarkMessageFailed(ctx context.Context, id int64, detail string) error {
	query := `
	UPDATE messages
	SET delivery_status = $1, error_detail = $2
	WHERE id = $3
	`
	if _, err := s.db.ExecContext(ctx, query, string(DeliveryFailed), detail, id); err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}
	return nil
}

// UpdateDeliveryStatusByExternalID updates the delivery status of the message
// the provider refers to. Unknown provider ids return ErrMessageNotFound;
// callers log and move on rather than failing the event.
func (s *Storage) UpdateDeliveryStatusByExternalID(ctx context.Context, externalID string, status DeliveryStatus) (int64, error) {
	query := `
	UPDATE messages
	SET delivery_status = $1
	WHERE external_id = $2
	RETURNING conversation_id
	`

	var conversationID int64
	err := s.db.QueryRowContext(ctx, query, string(status), externalID).Scan(&conversationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrMessageNotFound
		}
		return 0, fmt.Errorf("failed to update delivery status: %w", err)
	}
	return conversationID, nil
}

// MarkRead zeroes the unread counter after a read receipt
func (s *Storage) MarkRead(ctx context.Context, conversationID int64) error {
	query := `
	UPDATE conversations
	SET unread_count = 0, updated_at = NOW()
	WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, conversationID); err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return nil
}

// MarkEnded marks a conversation's lifecycle as ended. The row is kept; a
// later inbound message reactivates it.
func (s *Storage) MarkEnded(ctx context.Context, conversationID int64) error {
	query := `
	UPDATE conversations
	SET status = $1, updated_at = NOW()
	WHERE id = $2
	`
	if _, err := s.db.ExecContext(ctx, query, string(ConversationEnded), conversationID); err != nil {
		return fmt.Errorf("failed to mark conversation ended: %w", err)
	}
	return nil
}

// ListMessages returns the messages of a conversation ordered by creation time
func (s *Storage) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	query := `
	SELECT id, conversation_id, external_id, direction, kind, content,
	       delivery_status, auto_generated, triggered_by, error_detail, metadata, created_at
	FROM messages
	WHERE conversation_id = $1
	ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var direction, deliveryStatus string
		err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.ExternalID, &direction, &msg.Kind,
			&msg.Content, &deliveryStatus, &msg.AutoGenerated, &msg.TriggeredBy,
			&msg.ErrorDetail, &msg.Metadata, &msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Direction = Direction(direction)
		msg.DeliveryStatus = DeliveryStatus(deliveryStatus)
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// RecentMessageContents returns the latest message texts for a participant,
// oldest first. Used by the conversation_history tool.
func (s *Storage) RecentMessageContents(ctx context.Context, participant string, limit int) ([]string, error) {
	query := `
	SELECT m.direction, m.content
	FROM messages m
	JOIN conversations c ON c.id = m.conversation_id
	WHERE c.participant = $1
	ORDER BY m.created_at DESC, m.id DESC
	LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, participant, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent messages: %w", err)
	}
	defer rows.Close()

	var contents []string
	for rows.Next() {
		var direction, content string
		if err := rows.Scan(&direction, &content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		contents = append(contents, fmt.Sprintf("[%s] %s", direction, content))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	// Reverse to oldest-first for readability in prompts
	for i, j := 0, len(contents)-1; i < j; i, j = i+1, j-1 {
		contents[i], contents[j] = contents[j], contents[i]
	}

	return contents, nil
}
