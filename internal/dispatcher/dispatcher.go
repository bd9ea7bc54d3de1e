// Package dispatcher records auto-generated replies as outbound messages and
// delivers them through the channel. Delivery failures are recorded on the
// message row and never bubble up into event processing.
package dispatcher

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/convoflow/internal/capability"
	"github.com/convoflow/internal/conversation"
	"github.com/convoflow/internal/logging"
	"github.com/convoflow/internal/retry"
)

// MessageStore is the conversation storage surface the dispatcher writes to
type MessageStore interface {
	AppendOutboundPending(ctx context.Context, msg *conversation.Message) error
	MarkMessageSent(ctx context.Context, id int64, providerMessageID string) error
	MarkMessageFailed(ctx context.Context, id int64, detail string) error
}

// Dispatcher sends replies and keeps their delivery state in sync
type Dispatcher struct {
	store  MessageStore
	sender capability.ChannelSender
	retry  retry.Config
	log    zerolog.Logger
}

// New creates a dispatcher over the message store and the channel sender
func New(store MessageStore, sender capability.ChannelSender) *Dispatcher {
	return &Dispatcher{
		store:  store,
		sender: sender,
		retry:  retry.SendConfig(),
		log:    logging.Component("dispatcher"),
	}
}

// Dispatch records text as a pending outbound message on the conversation,
// sends it through the channel, and marks the row sent or failed. TriggeredBy
// links the reply to the inbound message that caused it.
//
// A send failure is not an error to the caller: the reply row carries the
// failure detail and the inbound event that triggered it still counts as
// processed. Only a storage failure, where no outbound row exists at all, is
// returned as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *conversation.Conversation, text string, triggeredBy int64) (*conversation.Message, error) {
	msg := &conversation.Message{
		ConversationID: conv.ID,
		Kind:           "text",
		Content:        text,
		AutoGenerated:  true,
	}
	if triggeredBy > 0 {
		msg.TriggeredBy = sql.NullInt64{Int64: triggeredBy, Valid: true}
	}

	if err := d.store.AppendOutboundPending(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to record outbound message: %w", err)
	}

	var providerID string
	result := retry.WithBackoff(ctx, d.retry, func() error {
		var err error
		providerID, err = d.sender.SendText(ctx, conv.Address(), text)
		return err
	}, d.log)

	if !result.Success {
		detail := "send failed"
		if result.LastError != nil {
			detail = result.LastError.Error()
		}
		d.log.Warn().
			Int64("conversation_id", conv.ID).
			Int64("message_id", msg.ID).
			Int("attempts", result.Attempts).
			Str("detail", detail).
			Msg("Outbound send failed")
		if err := d.store.MarkMessageFailed(ctx, msg.ID, detail); err != nil {
			d.log.Error().Err(err).Int64("message_id", msg.ID).Msg("Could not record send failure")
		}
		msg.DeliveryStatus = conversation.DeliveryFailed
		msg.ErrorDetail = sql.NullString{String: detail, Valid: true}
		return msg, nil
	}

	if err := d.store.MarkMessageSent(ctx, msg.ID, providerID); err != nil {
		d.log.Error().Err(err).Int64("message_id", msg.ID).Msg("Could not record successful send")
	}
	msg.DeliveryStatus = conversation.DeliverySent
	if providerID != "" {
		msg.ExternalID = sql.NullString{String: providerID, Valid: true}
	}

	d.log.Debug().
		Int64("conversation_id", conv.ID).
		Int64("message_id", msg.ID).
		Str("provider_message_id", providerID).
		Msg("Dispatched outbound message")

	return msg, nil
}
