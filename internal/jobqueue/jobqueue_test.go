package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/internal/conversation"
	"github.com/convoflow/internal/templates"
)

type fakeResolver struct {
	participants []string
}

func (f *fakeResolver) GetOrCreateByParticipant(ctx context.Context, participant, externalID string) (*conversation.Conversation, error) {
	f.participants = append(f.participants, participant)
	return &conversation.Conversation{ID: 1, Participant: participant}, nil
}

type fakeTemplates struct {
	byName map[string]*templates.Template
}

func (f *fakeTemplates) GetByName(ctx context.Context, name string) (*templates.Template, error) {
	if t, ok := f.byName[name]; ok {
		return t, nil
	}
	return nil, templates.ErrTemplateNotFound
}

type fakeDispatcher struct {
	texts      []string
	failSend   bool
	dispatchEr error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, conv *conversation.Conversation, text string, triggeredBy int64) (*conversation.Message, error) {
	if f.dispatchEr != nil {
		return nil, f.dispatchEr
	}
	f.texts = append(f.texts, text)
	msg := &conversation.Message{ID: int64(len(f.texts)), ConversationID: conv.ID, Content: text, DeliveryStatus: conversation.DeliverySent}
	if f.failSend {
		msg.DeliveryStatus = conversation.DeliveryFailed
		msg.ErrorDetail = sql.NullString{String: "provider rejected", Valid: true}
	}
	return msg, nil
}

func sendJob(args SendMessageArgs) *river.Job[SendMessageArgs] {
	return &river.Job[SendMessageArgs]{Args: args}
}

func TestSendMessageWorker_PlainText(t *testing.T) {
	resolver := &fakeResolver{}
	dispatcher := &fakeDispatcher{}
	w := &SendMessageWorker{conversations: resolver, templates: &fakeTemplates{}, dispatcher: dispatcher}

	err := w.Work(context.Background(), sendJob(SendMessageArgs{
		Participant: "+15550001111",
		Text:        "your order shipped",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"+15550001111"}, resolver.participants)
	assert.Equal(t, []string{"your order shipped"}, dispatcher.texts)
}

func TestSendMessageWorker_RendersTemplate(t *testing.T) {
	store := &fakeTemplates{byName: map[string]*templates.Template{
		"welcome": {Name: "welcome", Body: "Hello {{name}}!"},
	}}
	dispatcher := &fakeDispatcher{}
	w := &SendMessageWorker{conversations: &fakeResolver{}, templates: store, dispatcher: dispatcher}

	err := w.Work(context.Background(), sendJob(SendMessageArgs{
		Participant: "+15550001111",
		Template:    "welcome",
		Variables:   map[string]string{"name": "Ada"},
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello Ada!"}, dispatcher.texts)
}

func TestSendMessageWorker_MissingTemplate(t *testing.T) {
	w := &SendMessageWorker{conversations: &fakeResolver{}, templates: &fakeTemplates{}, dispatcher: &fakeDispatcher{}}

	err := w.Work(context.Background(), sendJob(SendMessageArgs{
		Participant: "+15550001111",
		Template:    "nope",
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
}

func TestSendMessageWorker_FailedDeliveryIsRetryable(t *testing.T) {
	dispatcher := &fakeDispatcher{failSend: true}
	w := &SendMessageWorker{conversations: &fakeResolver{}, templates: &fakeTemplates{}, dispatcher: dispatcher}

	err := w.Work(context.Background(), sendJob(SendMessageArgs{
		Participant: "+15550001111",
		Text:        "hi",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider rejected")
}

func TestSendMessageWorker_RejectsEmptyJob(t *testing.T) {
	w := &SendMessageWorker{conversations: &fakeResolver{}, templates: &fakeTemplates{}, dispatcher: &fakeDispatcher{}}

	err := w.Work(context.Background(), sendJob(SendMessageArgs{Participant: "+15550001111"}))
	require.Error(t, err)

	err = w.Work(context.Background(), sendJob(SendMessageArgs{Text: "hi"}))
	require.Error(t, err)
}

func TestTemplateBlastWorker_FansOutSends(t *testing.T) {
	store := &fakeTemplates{byName: map[string]*templates.Template{
		"promo": {Name: "promo", Body: "Sale on {{day}}"},
	}}
	var queued []SendMessageArgs
	w := &TemplateBlastWorker{
		templates: store,
		insertSend: func(ctx context.Context, args SendMessageArgs) error {
			queued = append(queued, args)
			return nil
		},
	}

	err := w.Work(context.Background(), &river.Job[TemplateBlastArgs]{Args: TemplateBlastArgs{
		Template:   "promo",
		Recipients: []string{"+15550001111", "", "+15550002222"},
		Variables:  map[string]string{"day": "Friday"},
	}})
	require.NoError(t, err)

	require.Len(t, queued, 2)
	assert.Equal(t, "promo", queued[0].Template)
	assert.Equal(t, "+15550002222", queued[1].Participant)
	assert.Equal(t, "Friday", queued[0].Variables["day"])
}

func TestTemplateBlastWorker_UnknownTemplate(t *testing.T) {
	w := &TemplateBlastWorker{
		templates: &fakeTemplates{},
		insertSend: func(ctx context.Context, args SendMessageArgs) error {
			t.Fatal("should not queue sends for unknown template")
			return nil
		},
	}

	err := w.Work(context.Background(), &river.Job[TemplateBlastArgs]{Args: TemplateBlastArgs{
		Template:   "ghost",
		Recipients: []string{"+15550001111"},
	}})
	require.Error(t, err)
}

func TestTemplateBlastWorker_PartialInsertFailure(t *testing.T) {
	store := &fakeTemplates{byName: map[string]*templates.Template{
		"promo": {Name: "promo", Body: "hi"},
	}}
	calls := 0
	w := &TemplateBlastWorker{
		templates: store,
		insertSend: func(ctx context.Context, args SendMessageArgs) error {
			calls++
			if calls == 1 {
				return errors.New("insert failed")
			}
			return nil
		},
	}

	err := w.Work(context.Background(), &river.Job[TemplateBlastArgs]{Args: TemplateBlastArgs{
		Template:   "promo",
		Recipients: []string{"+15550001111", "+15550002222"},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
}
