package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool used for DDL.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// MessagesTable stores one row per recorded channel frame.
const MessagesTable = "channel_messages"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS channel_messages (
		id          TEXT        NOT NULL,
		channel     TEXT        NOT NULL,
		ts          TIMESTAMPTZ NOT NULL,
		received_at BIGINT      NOT NULL,
		source      TEXT        NOT NULL,
		payload     JSONB       NOT NULL,
		PRIMARY KEY (id)
	)`,
	`CREATE INDEX IF NOT EXISTS channel_messages_channel_ts_idx
		ON channel_messages (channel, ts DESC)`,
}

// EnsureSchema creates the recorder table and its index if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure %s schema: %w", MessagesTable, err)
		}
	}
	return nil
}
