// Package db provides a pgxpool-based connection pool with prepared statement
// registration, schema bootstrap, and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pwkit/spywatch/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers all statements the stores use.
// Prepared statements eliminate parse overhead on the hot scheduler path.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Nations
		"nation_by_id": `SELECT id, nation_name, alliance_id, alliance_name, score, cities, last_updated, is_active
			FROM nations WHERE id = $1`,
		"nations_active_all": `SELECT id, nation_name, alliance_id, alliance_name, score, cities, last_updated, is_active
			FROM nations WHERE is_active AND alliance_id IS NOT NULL ORDER BY alliance_id, score DESC`,
		"nations_active_by_alliance": `SELECT id, nation_name, alliance_id, alliance_name, score, cities, last_updated, is_active
			FROM nations WHERE is_active AND alliance_id = $1 ORDER BY score DESC`,
		"nations_count_active": "SELECT COUNT(*) FROM nations WHERE is_active AND alliance_id IS NOT NULL",
		"nations_max_id":       "SELECT COALESCE(MAX(id), 0) FROM nations",

		// Status history
		"status_latest": `SELECT nation_id, espionage_available, beige_turns, vacation_turns, last_active, checked_at
			FROM status_history WHERE nation_id = $1 ORDER BY checked_at DESC, id DESC LIMIT 1`,
		"status_count_since": "SELECT COUNT(*) FROM status_history WHERE checked_at > $1",

		// Reset records
		"reset_has":   "SELECT EXISTS (SELECT 1 FROM reset_times WHERE nation_id = $1 AND NOT superseded)",
		"reset_count": "SELECT COUNT(*) FROM reset_times WHERE NOT superseded",

		// Queue
		"queue_due": `SELECT nation_id, reason, priority, added_at, next_check, failures
			FROM monitor_queue WHERE next_check <= $1
			ORDER BY priority ASC, next_check ASC, seq ASC LIMIT $2`,
		"queue_len":    "SELECT COUNT(*) FROM monitor_queue",
		"queue_remove": "DELETE FROM monitor_queue WHERE nation_id = $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
