package db

import (
	"context"
	"fmt"
)

// schema is applied by the migrate command. Statements are idempotent so
// re-running migration on an existing database is safe.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id UUID PRIMARY KEY,
	handle TEXT NOT NULL,
	touchpoint_type TEXT NOT NULL,
	touchpoint_input JSONB NOT NULL,
	status TEXT NOT NULL,
	result JSONB,
	error TEXT,
	error_screenshot TEXT,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	duration_ms INTEGER,
	tags JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_runs_status_created ON runs (status, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_handle ON runs (handle);

CREATE TABLE IF NOT EXISTS schedules (
	schedule_id UUID PRIMARY KEY,
	handle TEXT NOT NULL,
	touchpoint_type TEXT NOT NULL,
	touchpoint_input JSONB NOT NULL,
	cron TEXT NOT NULL,
	next_run_at TIMESTAMPTZ NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	tags JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_schedules_active_next ON schedules (active, next_run_at);
CREATE INDEX IF NOT EXISTS idx_schedules_handle ON schedules (handle);

CREATE TABLE IF NOT EXISTS accounts (
	handle TEXT PRIMARY KEY,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	proxy TEXT,
	username TEXT NOT NULL,
	password TEXT NOT NULL,
	booking_link TEXT,
	daily_connections INTEGER NOT NULL DEFAULT 0,
	daily_messages INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	paused BOOLEAN NOT NULL DEFAULT FALSE,
	paused_reason TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the schema if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
