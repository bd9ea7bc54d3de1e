package registry

import (
	"context"
	"database/sql"
	"os"
	"testing"

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

func TestStorage_SeedIsIdempotent(t *testing.T) {
	storage := NewStorage(testDB(t))
	ctx := context.Background()

	_, err := storage.Seed(ctx, BuiltinAgents())
	require.NoError(t, err)

	// Existing names are kept untouched on a second run.
	inserted, err := storage.Seed(ctx, BuiltinAgents())
	require.NoError(t, err)
	assert.Zero(t, inserted)

	agents, err := storage.ListActive(ctx)
	require.NoError(t, err)

	keys := make(map[string]bool)
	for _, agent := range agents {
		keys[agent.Key] = true
	}
	assert.True(t, keys["documents"], "seeded documents agent should be listed")
	assert.True(t, keys["general"], "seeded general agent should be listed")
}
