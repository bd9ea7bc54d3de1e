package conversation

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ConversationStatus is the lifecycle of an exchange with one participant
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationEnded  ConversationStatus = "ended"
)

// Direction of a message relative to this service
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus of a message on the provider side
type DeliveryStatus string

const (
	DeliveryReceived  DeliveryStatus = "received" // inbound messages
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Conversation identifies a durable exchange with one external participant.
// Message and unread counters are maintained transactionally with appends.
type Conversation struct {
	ID             int64              `json:"id"`
	ExternalID     sql.NullString     `json:"-"` // provider conversation id
	Participant    string             `json:"participant"`
	Status         ConversationStatus `json:"status"`
	MessageCount   int                `json:"message_count"`
	UnreadCount    int                `json:"unread_count"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	Metadata       json.RawMessage    `json:"metadata"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Address returns the identifier outbound sends should target: the provider
// conversation id when known, otherwise the participant identity.
func (c *Conversation) Address() string {
	if c.ExternalID.Valid && c.ExternalID.String != "" {
		return c.ExternalID.String
	}
	return c.Participant
}

// Message is one turn in a conversation. Outbound auto-replies always carry
// a TriggeredBy reference to the inbound message that caused them.
type Message struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversation_id"`
	ExternalID     sql.NullString  `json:"-"` // provider message id
	Direction      Direction       `json:"direction"`
	Kind           string          `json:"kind"` // text, image, audio, document
	Content        string          `json:"content"`
	DeliveryStatus DeliveryStatus  `json:"delivery_status"`
	AutoGenerated  bool            `json:"auto_generated"`
	TriggeredBy    sql.NullInt64   `json:"-"`
	ErrorDetail    sql.NullString  `json:"-"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsText reports whether the message carries plain text content
func (m *Message) IsText() bool {
	return m.Kind == "" || m.Kind == "text"
}
