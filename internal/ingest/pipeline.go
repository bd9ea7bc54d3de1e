// Package ingest turns raw provider webhook deliveries into ledger entries,
// conversation updates, and auto-generated replies. Every valid delivery is
// recorded exactly once; duplicates are acknowledged without side effects,
// and malformed payloads are rejected before anything is persisted.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/convoflow/internal/capability"
	"github.com/convoflow/internal/conversation"
	"github.com/convoflow/internal/ledger"
	"github.com/convoflow/internal/logging"
	"github.com/convoflow/internal/router"
)

// maxHistoryExchanges bounds how much conversation history is replayed into
// the routing turn.
const maxHistoryExchanges = 20

// EventStore is the ledger surface the pipeline writes to
type EventStore interface {
	CreateEvent(ctx context.Context, event *ledger.Event) error
	MarkProcessing(ctx context.Context, id int64) error
	MarkProcessed(ctx context.Context, id int64, conversationID, messageID sql.NullInt64) error
	MarkFailed(ctx context.Context, id int64, detail string) error
	MarkIgnored(ctx context.Context, id int64, reason string) error
}

// ConversationStore is the conversation surface the pipeline writes to
type ConversationStore interface {
	GetOrCreateByParticipant(ctx context.Context, participant, externalID string) (*conversation.Conversation, error)
	AppendInbound(ctx context.Context, msg *conversation.Message) error
	AppendOutboundPending(ctx context.Context, msg *conversation.Message) error
	MarkMessageSent(ctx context.Context, id int64, providerMessageID string) error
	UpdateDeliveryStatusByExternalID(ctx context.Context, externalID string, status conversation.DeliveryStatus) (int64, error)
	MarkRead(ctx context.Context, conversationID int64) error
	MarkEnded(ctx context.Context, conversationID int64) error
	ListMessages(ctx context.Context, conversationID int64) ([]*conversation.Message, error)
}

// Responder routes an inbound turn to an agent and returns its reply
type Responder interface {
	Route(ctx context.Context, turn router.Turn) (*router.Result, error)
}

// ReplyDispatcher records and delivers an auto-generated reply
type ReplyDispatcher interface {
	Dispatch(ctx context.Context, conv *conversation.Conversation, text string, triggeredBy int64) (*conversation.Message, error)
}

// Result summarizes what one delivery did
type Result struct {
	EventID        string `json:"event_id"`
	Status         string `json:"status"` // processed, ignored, failed
	Reason         string `json:"reason,omitempty"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	MessageID      int64  `json:"message_id,omitempty"`
	Reply          string `json:"reply,omitempty"`
}

// Pipeline is the event processing core
type Pipeline struct {
	events        EventStore
	conversations ConversationStore
	responder     Responder
	dispatcher    ReplyDispatcher
	seen          *ledger.SeenCache
	autoRespond   bool
	log           zerolog.Logger
}

// New creates a pipeline. Responder and dispatcher may be nil, in which case
// inbound messages are recorded but never answered.
func New(events EventStore, conversations ConversationStore, responder Responder, dispatcher ReplyDispatcher, seen *ledger.SeenCache, autoRespond bool) *Pipeline {
	return &Pipeline{
		events:        events,
		conversations: conversations,
		responder:     responder,
		dispatcher:    dispatcher,
		seen:          seen,
		autoRespond:   autoRespond,
		log:           logging.Component("ingest"),
	}
}

// eventPayload is the provider's delivery body. Fields are optional; the
// kind is inferred from whatever combination is present.
type eventPayload struct {
	EventType      string `json:"event_type"`
	Direction      string `json:"direction"`
	Status         string `json:"status"`
	MessageID      string `json:"message_id"`
	Participant    string `json:"participant"`
	ConversationID string `json:"conversation_id"`
	ContentType    string `json:"content_type"`
	Content        string `json:"content"`
}

// Ingest records one webhook delivery and applies its effects. The returned
// Result always describes a terminal outcome; err is non-nil only when the
// outcome itself could not be recorded.
func (p *Pipeline) Ingest(ctx context.Context, payload []byte, idempotencyKey string) (*Result, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		// No key from the provider; this delivery can only be deduped
		// against itself, but the ledger entry still needs one.
		key = "generated-" + uuid.NewString()
	}

	// Malformed payloads are rejected before the cache or the ledger is
	// touched. A provider retry with a valid body is a fresh delivery.
	var parsed eventPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		p.log.Warn().Err(err).Str("idempotency_key", key).Msg("Rejected malformed delivery")
		return &Result{Status: "failed", Reason: "invalid payload: " + err.Error()}, nil
	}

	if p.seen != nil && p.seen.CheckAndMark(key) {
		p.log.Debug().Str("idempotency_key", key).Msg("Duplicate delivery short-circuited by cache")
		return &Result{Status: "ignored", Reason: "duplicate delivery"}, nil
	}

	event := &ledger.Event{
		EventID:        uuid.NewString(),
		IdempotencyKey: key,
		Kind:           inferKind(&parsed),
		Payload:        json.RawMessage(payload),
	}

	if err := p.events.CreateEvent(ctx, event); err != nil {
		if errors.Is(err, ledger.ErrDuplicateEvent) {
			// The first delivery's record stands untouched.
			p.log.Debug().Str("idempotency_key", key).Msg("Duplicate delivery rejected by ledger")
			return &Result{Status: "ignored", Reason: "duplicate delivery"}, nil
		}
		// The ledger never recorded this key, so the cache must not hold
		// it either or the provider's redelivery would be swallowed.
		if p.seen != nil {
			p.seen.Forget(key)
		}
		return nil, fmt.Errorf("failed to record event: %w", err)
	}

	result := &Result{EventID: event.EventID}

	if err := p.events.MarkProcessing(ctx, event.ID); err != nil {
		return nil, fmt.Errorf("failed to mark event processing: %w", err)
	}

	err := p.process(ctx, event, &parsed, result)
	if err != nil {
		detail := err.Error()
		if markErr := p.events.MarkFailed(ctx, event.ID, detail); markErr != nil {
			p.log.Error().Err(markErr).Int64("event", event.ID).Msg("Could not record event failure")
		}
		result.Status = "failed"
		result.Reason = detail
		return result, err
	}

	if result.Status == "ignored" {
		if err := p.events.MarkIgnored(ctx, event.ID, result.Reason); err != nil {
			return nil, err
		}
		return result, nil
	}

	convID := sql.NullInt64{Int64: result.ConversationID, Valid: result.ConversationID > 0}
	msgID := sql.NullInt64{Int64: result.MessageID, Valid: result.MessageID > 0}
	if err := p.events.MarkProcessed(ctx, event.ID, convID, msgID); err != nil {
		return nil, err
	}
	result.Status = "processed"
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, event *ledger.Event, payload *eventPayload, result *Result) error {
	switch event.Kind {
	case ledger.KindMessageReceived:
		return p.handleReceived(ctx, payload, result)
	case ledger.KindMessageSent:
		return p.handleSent(ctx, payload, result)
	case ledger.KindMessageDelivered:
		return p.handleStatusChange(ctx, payload, conversation.DeliveryDelivered, result)
	case ledger.KindMessageRead:
		return p.handleStatusChange(ctx, payload, conversation.DeliveryRead, result)
	case ledger.KindMessageFailed:
		return p.handleStatusChange(ctx, payload, conversation.DeliveryFailed, result)
	case ledger.KindConversationLifecycle:
		return p.handleLifecycle(ctx, payload, result)
	default:
		result.Status = "ignored"
		result.Reason = "unsupported event kind"
		return nil
	}
}

func (p *Pipeline) handleReceived(ctx context.Context, payload *eventPayload, result *Result) error {
	if payload.Participant == "" {
		result.Status = "ignored"
		result.Reason = "message without participant"
		return nil
	}

	conv, err := p.conversations.GetOrCreateByParticipant(ctx, payload.Participant, payload.ConversationID)
	if err != nil {
		return err
	}
	result.ConversationID = conv.ID

	msg := &conversation.Message{
		ConversationID: conv.ID,
		Direction:      conversation.DirectionInbound,
		Kind:           messageKind(payload.ContentType),
		Content:        payload.Content,
		DeliveryStatus: conversation.DeliveryReceived,
	}
	if payload.MessageID != "" {
		msg.ExternalID = sql.NullString{String: payload.MessageID, Valid: true}
	}
	if err := p.conversations.AppendInbound(ctx, msg); err != nil {
		return err
	}
	result.MessageID = msg.ID

	if !p.autoRespond || p.responder == nil || !msg.IsText() {
		return nil
	}

	p.respond(ctx, conv, msg, result)
	return nil
}

// respond routes the turn and dispatches the reply. Failures here never fail
// the event: the inbound message is already durably recorded.
func (p *Pipeline) respond(ctx context.Context, conv *conversation.Conversation, inbound *conversation.Message, result *Result) {
	history, err := p.turnHistory(ctx, conv.ID)
	if err != nil {
		p.log.Warn().Err(err).Int64("conversation_id", conv.ID).Msg("Could not load history, replying to latest message only")
		history = []capability.Exchange{{Role: capability.RoleUser, Content: inbound.Content}}
	}

	routed, err := p.responder.Route(ctx, router.Turn{
		History: history,
		Metadata: map[string]string{
			"participant": conv.Participant,
		},
	})
	if err != nil {
		p.log.Warn().Err(err).Int64("conversation_id", conv.ID).Msg("Routing failed, no reply generated")
		return
	}

	if p.dispatcher == nil || routed.Reply == "" {
		return
	}

	sent, err := p.dispatcher.Dispatch(ctx, conv, routed.Reply, inbound.ID)
	if err != nil {
		p.log.Warn().Err(err).Int64("conversation_id", conv.ID).Msg("Could not record outbound reply")
		return
	}
	result.Reply = routed.Reply
	if sent != nil {
		p.log.Debug().
			Int64("conversation_id", conv.ID).
			Int64("reply_id", sent.ID).
			Str("agent", routed.AgentKey).
			Str("delivery_status", string(sent.DeliveryStatus)).
			Msg("Reply dispatched")
	}
}

// turnHistory replays recent conversation messages as routing exchanges
func (p *Pipeline) turnHistory(ctx context.Context, conversationID int64) ([]capability.Exchange, error) {
	messages, err := p.conversations.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(messages) > maxHistoryExchanges {
		messages = messages[len(messages)-maxHistoryExchanges:]
	}

	history := make([]capability.Exchange, 0, len(messages))
	for _, msg := range messages {
		if !msg.IsText() || msg.Content == "" {
			continue
		}
		role := capability.RoleUser
		if msg.Direction == conversation.DirectionOutbound {
			role = capability.RoleAssistant
		}
		history = append(history, capability.Exchange{Role: role, Content: msg.Content})
	}
	return history, nil
}

// handleSent records a message the provider sent outside this service, for
// example from a human operator's console.
func (p *Pipeline) handleSent(ctx context.Context, payload *eventPayload, result *Result) error {
	if payload.Participant == "" {
		result.Status = "ignored"
		result.Reason = "message without participant"
		return nil
	}

	conv, err := p.conversations.GetOrCreateByParticipant(ctx, payload.Participant, payload.ConversationID)
	if err != nil {
		return err
	}
	result.ConversationID = conv.ID

	msg := &conversation.Message{
		ConversationID: conv.ID,
		Kind:           messageKind(payload.ContentType),
		Content:        payload.Content,
	}
	if err := p.conversations.AppendOutboundPending(ctx, msg); err != nil {
		return err
	}
	if err := p.conversations.MarkMessageSent(ctx, msg.ID, payload.MessageID); err != nil {
		return err
	}
	result.MessageID = msg.ID
	return nil
}

func (p *Pipeline) handleStatusChange(ctx context.Context, payload *eventPayload, status conversation.DeliveryStatus, result *Result) error {
	if payload.MessageID == "" {
		result.Status = "ignored"
		result.Reason = "status change without message id"
		return nil
	}

	convID, err := p.conversations.UpdateDeliveryStatusByExternalID(ctx, payload.MessageID, status)
	if err != nil {
		if errors.Is(err, conversation.ErrMessageNotFound) {
			// Receipts can outlive their message or arrive before it.
			p.log.Debug().Str("message_id", payload.MessageID).Msg("Status change for unknown message")
			result.Status = "ignored"
			result.Reason = "unknown message id"
			return nil
		}
		return err
	}
	result.ConversationID = convID

	if status == conversation.DeliveryRead {
		if err := p.conversations.MarkRead(ctx, convID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) handleLifecycle(ctx context.Context, payload *eventPayload, result *Result) error {
	if payload.Participant == "" {
		result.Status = "ignored"
		result.Reason = "lifecycle event without participant"
		return nil
	}
	if payload.Status != "ended" {
		result.Status = "ignored"
		result.Reason = "unsupported lifecycle status: " + payload.Status
		return nil
	}

	conv, err := p.conversations.GetOrCreateByParticipant(ctx, payload.Participant, payload.ConversationID)
	if err != nil {
		return err
	}
	if err := p.conversations.MarkEnded(ctx, conv.ID); err != nil {
		return err
	}
	result.ConversationID = conv.ID
	return nil
}

// inferKind maps a payload to an event kind. An explicit event_type wins;
// otherwise direction and status decide.
func inferKind(p *eventPayload) ledger.EventKind {
	switch p.EventType {
	case "message_received":
		return ledger.KindMessageReceived
	case "message_sent":
		return ledger.KindMessageSent
	case "message_delivered":
		return ledger.KindMessageDelivered
	case "message_read":
		return ledger.KindMessageRead
	case "message_failed":
		return ledger.KindMessageFailed
	case "conversation_lifecycle", "conversation_ended":
		return ledger.KindConversationLifecycle
	}
	if p.EventType != "" {
		return ledger.KindUnknown
	}

	switch p.Direction {
	case "inbound":
		return ledger.KindMessageReceived
	case "outbound":
		switch p.Status {
		case "sent", "":
			return ledger.KindMessageSent
		case "delivered":
			return ledger.KindMessageDelivered
		case "read":
			return ledger.KindMessageRead
		case "failed":
			return ledger.KindMessageFailed
		}
	}

	switch p.Status {
	case "delivered":
		return ledger.KindMessageDelivered
	case "read":
		return ledger.KindMessageRead
	case "failed":
		return ledger.KindMessageFailed
	}
	return ledger.KindUnknown
}

func messageKind(contentType string) string {
	switch contentType {
	case "", "text":
		return "text"
	default:
		return contentType
	}
}
