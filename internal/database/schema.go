package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaDDL bootstraps the tables owned by this service. River's own tables
// come from its migrations and are not created here.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS webhook_events (
	id               BIGSERIAL PRIMARY KEY,
	event_id         UUID NOT NULL,
	idempotency_key  TEXT NOT NULL UNIQUE,
	kind             TEXT NOT NULL,
	payload          JSONB NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	attempts         INT NOT NULL DEFAULT 0,
	error_detail     TEXT,
	conversation_id  BIGINT,
	message_id       BIGINT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS conversations (
	id               BIGSERIAL PRIMARY KEY,
	external_id      TEXT,
	participant      TEXT NOT NULL UNIQUE,
	status           TEXT NOT NULL DEFAULT 'active',
	message_count    INT NOT NULL DEFAULT 0,
	unread_count     INT NOT NULL DEFAULT 0,
	last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	metadata         JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
	id               BIGSERIAL PRIMARY KEY,
	conversation_id  BIGINT NOT NULL REFERENCES conversations(id),
	external_id      TEXT,
	direction        TEXT NOT NULL,
	kind             TEXT NOT NULL DEFAULT 'text',
	content          TEXT NOT NULL,
	delivery_status  TEXT NOT NULL DEFAULT 'pending',
	auto_generated   BOOLEAN NOT NULL DEFAULT FALSE,
	triggered_by     BIGINT REFERENCES messages(id),
	error_detail     TEXT,
	metadata         JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_external
	ON messages (external_id);

CREATE TABLE IF NOT EXISTS agent_definitions (
	id                BIGSERIAL PRIMARY KEY,
	name              TEXT NOT NULL UNIQUE,
	type_tag          TEXT NOT NULL DEFAULT 'general',
	status            TEXT NOT NULL DEFAULT 'active',
	description       TEXT NOT NULL DEFAULT '',
	base_instructions TEXT NOT NULL DEFAULT '',
	temperature       DOUBLE PRECISION NOT NULL DEFAULT 0.2,
	max_tokens        INT NOT NULL DEFAULT 1024,
	timeout_seconds   INT NOT NULL DEFAULT 30,
	max_retries       INT NOT NULL DEFAULT 2,
	model_overrides   JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS agent_prompts (
	id          BIGSERIAL PRIMARY KEY,
	agent_id    BIGINT NOT NULL REFERENCES agent_definitions(id) ON DELETE CASCADE,
	prompt_type TEXT NOT NULL,
	content     TEXT NOT NULL,
	priority    INT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS agent_tools (
	id          BIGSERIAL PRIMARY KEY,
	agent_id    BIGINT NOT NULL REFERENCES agent_definitions(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS agent_documents (
	id                 BIGSERIAL PRIMARY KEY,
	agent_id           BIGINT NOT NULL REFERENCES agent_definitions(id) ON DELETE CASCADE,
	name               TEXT NOT NULL,
	kind               TEXT NOT NULL DEFAULT 'text',
	description        TEXT NOT NULL DEFAULT '',
	usage_instructions TEXT NOT NULL DEFAULT '',
	content            TEXT NOT NULL DEFAULT '',
	priority           INT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS message_templates (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	body       TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the service tables if they do not exist yet
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
