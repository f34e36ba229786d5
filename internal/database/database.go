package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS archived_messages (
	row_id           UUID PRIMARY KEY,
	owner_key        TEXT NOT NULL,
	conversation_key TEXT NOT NULL,
	message_id       TEXT NOT NULL,
	type             TEXT NOT NULL,
	sender_id        BIGINT NOT NULL,
	sender_role      TEXT NOT NULL,
	sender_username  TEXT NOT NULL DEFAULT '',
	text             TEXT,
	image            TEXT,
	file             TEXT,
	status           TEXT NOT NULL DEFAULT 'sent',
	is_deleted       BOOLEAN NOT NULL DEFAULT FALSE,
	sent_at          TIMESTAMPTZ NOT NULL,
	archived_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (owner_key, message_id)
);
CREATE INDEX IF NOT EXISTS archived_messages_conversation_idx
	ON archived_messages (owner_key, conversation_key, sent_at DESC);
`

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)

	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the archive table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating archive schema: %w", err)
	}
	return nil
}
