// Package ledger is the durable, idempotent record of every provider event
// the service has seen, together with its processing outcome.
package ledger

import (
	"database/sql"
	"encoding/json"
	"time"
)

// EventKind classifies a provider notification
type EventKind string

const (
	KindMessageReceived       EventKind = "message_received"
	KindMessageSent           EventKind = "message_sent"
	KindMessageDelivered      EventKind = "message_delivered"
	KindMessageRead           EventKind = "message_read"
	KindMessageFailed         EventKind = "message_failed"
	KindConversationLifecycle EventKind = "conversation_lifecycle"
	KindUnknown               EventKind = "unknown"
)

// IsStatusChange reports whether the kind updates an existing message's
// delivery status rather than introducing new content.
func (k EventKind) IsStatusChange() bool {
	switch k {
	case KindMessageDelivered, KindMessageRead, KindMessageFailed:
		return true
	}
	return false
}

// EventStatus is the processing lifecycle of a ledger entry
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusProcessed  EventStatus = "processed"
	StatusFailed     EventStatus = "failed"
	StatusIgnored    EventStatus = "ignored"
)

// Event represents one provider notification and its processing record
type Event struct {
	ID             int64           `json:"id"`
	EventID        string          `json:"event_id"` // UUID assigned at ingestion
	IdempotencyKey string          `json:"idempotency_key"`
	Kind           EventKind       `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Status         EventStatus     `json:"status"`
	Attempts       int             `json:"attempts"`
	ErrorDetail    sql.NullString  `json:"-"`
	ConversationID sql.NullInt64   `json:"-"`
	MessageID      sql.NullInt64   `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      sql.NullTime    `json:"-"`
	CompletedAt    sql.NullTime    `json:"-"`
}
