package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Resets is the reset record store. Records are never deleted; a later
// detection supersedes the current record only when its confidence is not
// lower, so confidence per nation is monotonically non-decreasing.
type Resets struct {
	pool *pgxpool.Pool
}

func NewResets(pool *pgxpool.Pool) *Resets {
	return &Resets{pool: pool}
}

// Record inserts a detection, superseding the nation's current record when
// the new confidence is >= the existing one. Returns false when the
// detection was discarded because a higher-confidence record already exists.
func (s *Resets) Record(ctx context.Context, r ResetRecord) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin reset record tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing float64
	err = tx.QueryRow(ctx, `
		SELECT confidence FROM reset_times
		WHERE nation_id = $1 AND NOT superseded
		ORDER BY created_at DESC LIMIT 1
		FOR UPDATE`,
		r.NationID).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// first detection for this nation
	case err != nil:
		return false, fmt.Errorf("load current reset record: %w", err)
	case existing > r.Confidence:
		return false, nil
	default:
		if _, err := tx.Exec(ctx, `
			UPDATE reset_times SET superseded = TRUE
			WHERE nation_id = $1 AND NOT superseded`,
			r.NationID); err != nil {
			return false, fmt.Errorf("supersede reset record: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO reset_times (nation_id, reset_time, confidence, detection_method, verified)
		VALUES ($1, $2, $3, $4, $5)`,
		r.NationID, r.ResetTime, r.Confidence, r.Method, r.Verified); err != nil {
		// The partial unique index on live records turns a concurrent
		// detection of the same nation into a conflict here; the other
		// transaction's record stands.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("insert reset record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit reset record: %w", err)
	}
	return true, nil
}

// Has reports whether the nation has a live (non-superseded) reset record.
func (s *Resets) Has(ctx context.Context, nationID int) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, "reset_has", nationID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check reset record for nation %d: %w", nationID, err)
	}
	return exists, nil
}

// Count returns the number of live reset records.
func (s *Resets) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "reset_count").Scan(&n); err != nil {
		return 0, fmt.Errorf("count reset records: %w", err)
	}
	return n, nil
}

// Report returns live reset records joined with nation names, sorted by
// reset time, optionally restricted to one alliance.
func (s *Resets) Report(ctx context.Context, allianceID *int, limit int) ([]ResetReportRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT rt.nation_id, n.nation_name, n.alliance_name,
		       rt.reset_time, rt.confidence, rt.detection_method, rt.verified
		FROM reset_times rt
		JOIN nations n ON n.id = rt.nation_id
		WHERE NOT rt.superseded
		  AND ($1::bigint IS NULL OR n.alliance_id = $1)
		ORDER BY rt.reset_time
		LIMIT $2`,
		allianceID, limit)
	if err != nil {
		return nil, fmt.Errorf("reset report: %w", err)
	}
	defer rows.Close()

	var report []ResetReportRow
	for rows.Next() {
		var r ResetReportRow
		if err := rows.Scan(
			&r.NationID, &r.NationName, &r.AllianceName,
			&r.ResetTime, &r.Confidence, &r.Method, &r.Verified,
		); err != nil {
			return nil, fmt.Errorf("scan reset report row: %w", err)
		}
		report = append(report, r)
	}
	return report, rows.Err()
}

// HourlyDistribution buckets report rows by UTC hour of reset time.
func HourlyDistribution(rows []ResetReportRow) map[int]int {
	dist := make(map[int]int)
	for _, r := range rows {
		dist[r.ResetTime.UTC().Hour()]++
	}
	return dist
}
