package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS token_events (
		event_id            UUID PRIMARY KEY,
		received_at         BIGINT NOT NULL,
		updated_at          BIGINT NOT NULL,
		token_id            TEXT NOT NULL,
		token_number        TEXT NOT NULL,
		patient_id          TEXT NOT NULL,
		priority_level      SMALLINT NOT NULL,
		category            TEXT NOT NULL,
		status              TEXT NOT NULL,
		position            INTEGER NOT NULL,
		estimated_wait_time INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS token_events_token_id_idx ON token_events (token_id, updated_at)`,
	`CREATE TABLE IF NOT EXISTS queue_snapshots (
		snapshot_id  UUID PRIMARY KEY,
		received_at  BIGINT NOT NULL,
		entry_count  INTEGER NOT NULL,
		active_count INTEGER NOT NULL,
		entries      JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS queue_snapshots_received_at_idx ON queue_snapshots (received_at)`,
	`CREATE TABLE IF NOT EXISTS analytics_snapshots (
		snapshot_id            UUID PRIMARY KEY,
		received_at            BIGINT NOT NULL,
		total_tokens_today     INTEGER NOT NULL,
		active_tokens          INTEGER NOT NULL,
		completed_tokens_today INTEGER NOT NULL,
		average_wait_time      DOUBLE PRECISION NOT NULL,
		priority_distribution  JSONB NOT NULL
	)`,
}

// EnsureSchema creates the archive tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
