// Package jobqueue runs background outbound work on River: single queued
// sends and template blasts that fan out one send job per recipient.
package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog"

	"github.com/convoflow/internal/conversation"
	"github.com/convoflow/internal/logging"
	"github.com/convoflow/internal/templates"
)

// ConversationResolver resolves the conversation a queued send targets
type ConversationResolver interface {
	GetOrCreateByParticipant(ctx context.Context, participant, externalID string) (*conversation.Conversation, error)
}

// TemplateLookup loads message templates by name
type TemplateLookup interface {
	GetByName(ctx context.Context, name string) (*templates.Template, error)
}

// Dispatcher records and delivers one outbound message
type Dispatcher interface {
	Dispatch(ctx context.Context, conv *conversation.Conversation, text string, triggeredBy int64) (*conversation.Message, error)
}

// SendMessageArgs queues one outbound message. Either Text or Template must
// be set; Template wins when both are.
type SendMessageArgs struct {
	Participant string            `json:"participant"`
	Text        string            `json:"text,omitempty"`
	Template    string            `json:"template,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
}

// Kind returns the job kind for River
func (SendMessageArgs) Kind() string {
	return "outbound_send"
}

// SendMessageWorker delivers queued outbound messages
type SendMessageWorker struct {
	river.WorkerDefaults[SendMessageArgs]
	conversations ConversationResolver
	templates     TemplateLookup
	dispatcher    Dispatcher
	log           zerolog.Logger
}

// Work resolves the conversation, renders the template if one is named, and
// dispatches the message. A failed delivery is returned as an error so River
// retries the job.
func (w *SendMessageWorker) Work(ctx context.Context, job *river.Job[SendMessageArgs]) error {
	args := job.Args
	if args.Participant == "" {
		return fmt.Errorf("send job without participant")
	}

	text := args.Text
	if args.Template != "" {
		tmpl, err := w.templates.GetByName(ctx, args.Template)
		if err != nil {
			return fmt.Errorf("failed to load template %q: %w", args.Template, err)
		}
		text = tmpl.Render(args.Variables)
	}
	if text == "" {
		return fmt.Errorf("send job with empty message body")
	}

	conv, err := w.conversations.GetOrCreateByParticipant(ctx, args.Participant, "")
	if err != nil {
		return fmt.Errorf("failed to resolve conversation: %w", err)
	}

	msg, err := w.dispatcher.Dispatch(ctx, conv, text, 0)
	if err != nil {
		return err
	}
	if msg.DeliveryStatus == conversation.DeliveryFailed {
		detail := "delivery failed"
		if msg.ErrorDetail.Valid {
			detail = msg.ErrorDetail.String
		}
		return fmt.Errorf("outbound send failed: %s", detail)
	}

	w.log.Debug().
		Str("participant", args.Participant).
		Int64("message_id", msg.ID).
		Msg("Queued send delivered")
	return nil
}

// TemplateBlastArgs fans a template out to many recipients, one send job per
// participant so failures retry independently.
type TemplateBlastArgs struct {
	Template   string            `json:"template"`
	Recipients []string          `json:"recipients"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// Kind returns the job kind for River
func (TemplateBlastArgs) Kind() string {
	return "template_blast"
}

// TemplateBlastWorker expands a blast into individual send jobs
type TemplateBlastWorker struct {
	river.WorkerDefaults[TemplateBlastArgs]
	templates  TemplateLookup
	insertSend func(ctx context.Context, args SendMessageArgs) error
	log        zerolog.Logger
}

// Work validates the template exists, then queues one send per recipient
func (w *TemplateBlastWorker) Work(ctx context.Context, job *river.Job[TemplateBlastArgs]) error {
	args := job.Args
	if args.Template == "" {
		return fmt.Errorf("blast job without template name")
	}
	if _, err := w.templates.GetByName(ctx, args.Template); err != nil {
		return fmt.Errorf("failed to load template %q: %w", args.Template, err)
	}

	var failed int
	for _, participant := range args.Recipients {
		if participant == "" {
			continue
		}
		err := w.insertSend(ctx, SendMessageArgs{
			Participant: participant,
			Template:    args.Template,
			Variables:   args.Variables,
		})
		if err != nil {
			failed++
			w.log.Warn().Err(err).Str("participant", participant).Msg("Could not queue blast send")
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to queue %d of %d blast sends", failed, len(args.Recipients))
	}

	w.log.Info().
		Str("template", args.Template).
		Int("recipients", len(args.Recipients)).
		Msg("Template blast expanded")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
	log    zerolog.Logger
}

// NewJobQueue creates a job queue connected to the given database
func NewJobQueue(ctx context.Context, databaseURL string, config *QueueConfig, conversations ConversationResolver, templateStore TemplateLookup, dispatcher Dispatcher) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	log := logging.Component("jobqueue")

	blastWorker := &TemplateBlastWorker{templates: templateStore, log: log}

	workers := river.NewWorkers()
	river.AddWorker(workers, &SendMessageWorker{
		conversations: conversations,
		templates:     templateStore,
		dispatcher:    dispatcher,
		log:           log,
	})
	river.AddWorker(workers, blastWorker)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	jq := &JobQueue{
		client: client,
		pool:   pool,
		config: config,
		log:    log,
	}
	blastWorker.insertSend = func(ctx context.Context, args SendMessageArgs) error {
		_, err := client.Insert(ctx, args, nil)
		return err
	}

	return jq, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and releases the pool
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// QueueSend queues one outbound message
func (jq *JobQueue) QueueSend(ctx context.Context, args SendMessageArgs) error {
	if _, err := jq.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("failed to queue send job: %w", err)
	}
	return nil
}

// QueueTemplateBlast queues a template blast
func (jq *JobQueue) QueueTemplateBlast(ctx context.Context, args TemplateBlastArgs) error {
	if _, err := jq.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("failed to queue blast job: %w", err)
	}
	return nil
}
