package db

import (
	"context"
	"fmt"
)

// schema holds the DDL for the four durable collections. Applied on startup;
// every statement is idempotent so re-running against an existing database
// is safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS nations (
		id            BIGINT PRIMARY KEY,
		nation_name   TEXT NOT NULL,
		alliance_id   BIGINT,
		alliance_name TEXT NOT NULL DEFAULT '',
		score         DOUBLE PRECISION NOT NULL DEFAULT 0,
		cities        INT NOT NULL DEFAULT 0,
		last_updated  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		is_active     BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nations_alliance ON nations (alliance_id)`,

	`CREATE TABLE IF NOT EXISTS status_history (
		id                  BIGSERIAL PRIMARY KEY,
		nation_id           BIGINT NOT NULL,
		espionage_available BOOLEAN NOT NULL,
		beige_turns         INT NOT NULL DEFAULT 0,
		vacation_turns      INT NOT NULL DEFAULT 0,
		last_active         TIMESTAMPTZ,
		checked_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_nation_checked ON status_history (nation_id, checked_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_status_checked ON status_history (checked_at)`,

	`CREATE TABLE IF NOT EXISTS reset_times (
		id               BIGSERIAL PRIMARY KEY,
		nation_id        BIGINT NOT NULL,
		reset_time       TIMESTAMPTZ NOT NULL,
		confidence       DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		detection_method TEXT NOT NULL,
		verified         BOOLEAN NOT NULL DEFAULT FALSE,
		superseded       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reset_nation ON reset_times (nation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reset_time ON reset_times (reset_time)`,
	// At most one live record per nation, enforced structurally so two
	// concurrent detections cannot both insert.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_reset_live ON reset_times (nation_id) WHERE NOT superseded`,

	// nation_id is the primary key: the queue can never hold two live
	// entries for the same nation. seq preserves insertion order for
	// deterministic tie-breaking.
	`CREATE TABLE IF NOT EXISTS monitor_queue (
		nation_id  BIGINT PRIMARY KEY,
		seq        BIGINT GENERATED ALWAYS AS IDENTITY,
		reason     TEXT NOT NULL,
		priority   INT NOT NULL DEFAULT 5,
		added_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		next_check TIMESTAMPTZ NOT NULL,
		failures   INT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_next_check ON monitor_queue (next_check)`,
}

// EnsureSchema creates all tables and indexes if they do not exist.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
