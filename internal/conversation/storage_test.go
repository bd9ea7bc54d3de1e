package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/internal/database"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("CONVOFLOW_TEST_DATABASE_URL")
	if url == "" || testing.Short() {
		t.Skip("CONVOFLOW_TEST_DATABASE_URL not set, skipping database test")
	}

	db, err := database.NewDB(url)
	require.NoError(t, err)
	require.NoError(t, database.EnsureSchema(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	return db
}

func testParticipant() string {
	return fmt.Sprintf("+49%s", uuid.NewString()[:12])
}

func TestStorage_GetOrCreateByParticipant(t *testing.T) {
	storage := NewStorage(testDB(t))
	ctx := context.Background()
	participant := testParticipant()

	conv, err := storage.GetOrCreateByParticipant(ctx, participant, "wa-conv-1")
	require.NoError(t, err)
	assert.Equal(t, participant, conv.Participant)
	assert.Equal(t, ConversationActive, conv.Status)
	assert.Equal(t, "wa-conv-1", conv.ExternalID.String)

	// Same participant resolves to the same row.
	again, err := storage.GetOrCreateByParticipant(ctx, participant, "")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
	assert.Equal(t, "wa-conv-1", again.ExternalID.String)
}

func TestStorage_EndedConversationIsReactivated(t *testing.T) {
	storage := NewStorage(testDB(t))
	ctx := context.Background()
	participant := testParticipant()

	conv, err := storage.GetOrCreateByParticipant(ctx, participant, "")
	require.NoError(t, err)
	require.NoError(t, storage.MarkEnded(ctx, conv.ID))

	stored, err := storage.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, ConversationEnded, stored.Status)

	reopened, err := storage.GetOrCreateByParticipant(ctx, participant, "")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, reopened.ID)
	assert.Equal(t, ConversationActive, reopened.Status)
}

func TestStorage_AppendAndCounters(t *testing.T) {
	storage := NewStorage(testDB(t))
	ctx := context.Background()

	conv, err := storage.GetOrCreateByParticipant(ctx, testParticipant(), "")
	require.NoError(t, err)

	inbound := &Message{
		ConversationID: conv.ID,
		ExternalID:     sql.NullString{String: "wamid." + uuid.NewString(), Valid: true},
		Direction:      DirectionInbound,
		Kind:           "text",
		Content:        "hello",
		DeliveryStatus: DeliveryReceived,
	}
	require.NoError(t, storage.AppendInbound(ctx, inbound))
	assert.NotZero(t, inbound.ID)

	outbound := &Message{
		ConversationID: conv.ID,
		Kind:           "text",
		Content:        "hi there",
		AutoGenerated:  true,
		TriggeredBy:    sql.NullInt64{Int64: inbound.ID, Valid: true},
	}
	require.NoError(t, storage.AppendOutboundPending(ctx, outbound))
	assert.Equal(t, DeliveryPending, outbound.DeliveryStatus)

	// Inbound bumps both counters, outbound only the message count.
	stored, err := storage.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.MessageCount)
	assert.Equal(t, 1, stored.UnreadCount)

	messages, err := storage.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, DirectionInbound, messages[0].Direction)
	assert.Equal(t, DirectionOutbound, messages[1].Direction)
	assert.Equal(t, inbound.ID, messages[1].TriggeredBy.Int64)
}

func TestStorage_DeliveryStatusByExternalID(t *testing.T) {
	storage := NewStorage(testDB(t))
	ctx := context.Background()

	conv, err := storage.GetOrCreateByParticipant(ctx, testParticipant(), "")
	require.NoError(t, err)

	msg := &Message{ConversationID: conv.ID, Kind: "text", Content: "ping"}
	require.NoError(t, storage.AppendOutboundPending(ctx, msg))

	providerID := "wamid." + uuid.NewString()
	require.NoError(t, storage.MarkMessageSent(ctx, msg.ID, providerID))

	convID, err := storage.UpdateDeliveryStatusByExternalID(ctx, providerID, DeliveryDelivered)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, convID)

	_, err = storage.UpdateDeliveryStatusByExternalID(ctx, "wamid.unknown-"+uuid.NewString(), DeliveryRead)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestStorage_RecentMessageContents(t *testing.T) {
	storage := NewStorage(testDB(t))
	ctx := context.Background()
	participant := testParticipant()

	conv, err := storage.GetOrCreateByParticipant(ctx, participant, "")
	require.NoError(t, err)

	for _, text := range []string{"first", "second", "third"} {
		msg := &Message{
			ConversationID: conv.ID,
			Direction:      DirectionInbound,
			Kind:           "text",
			Content:        text,
			DeliveryStatus: DeliveryReceived,
		}
		require.NoError(t, storage.AppendInbound(ctx, msg))
	}

	contents, err := storage.RecentMessageContents(ctx, participant, 2)
	require.NoError(t, err)
	require.Len(t, contents, 2)
	assert.Equal(t, "[inbound] second", contents[0])
	assert.Equal(t, "[inbound] third", contents[1])
}
