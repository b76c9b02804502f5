package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Queue is the check queue store. nation_id is the table's primary key, so
// the at-most-one-live-entry invariant is enforced structurally; Enqueue
// merges into any existing entry per MergeEntries.
type Queue struct {
	pool *pgxpool.Pool
}

func NewQueue(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue upserts the live entry for a nation. Re-enqueuing merges with the
// existing entry: the earlier next_check and the more urgent (lower)
// priority win, the newer reason is kept.
func (s *Queue) Enqueue(ctx context.Context, e QueueEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitor_queue (nation_id, reason, priority, next_check)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (nation_id) DO UPDATE SET
			reason     = EXCLUDED.reason,
			priority   = LEAST(monitor_queue.priority, EXCLUDED.priority),
			next_check = LEAST(monitor_queue.next_check, EXCLUDED.next_check)`,
		e.NationID, e.Reason, e.Priority, e.NextCheck)
	if err != nil {
		return fmt.Errorf("enqueue nation %d: %w", e.NationID, err)
	}
	return nil
}

// Due returns entries whose next_check has passed, most urgent first.
// Ties break on insertion order for determinism.
func (s *Queue) Due(ctx context.Context, now time.Time, limit int) ([]QueueEntry, error) {
	rows, err := s.pool.Query(ctx, "queue_due", now, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue due entries: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.NationID, &e.Reason, &e.Priority, &e.AddedAt, &e.NextCheck, &e.Failures); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Remove drops the live entry for a nation, if any.
func (s *Queue) Remove(ctx context.Context, nationID int) error {
	if _, err := s.pool.Exec(ctx, "queue_remove", nationID); err != nil {
		return fmt.Errorf("remove nation %d from queue: %w", nationID, err)
	}
	return nil
}

// Reschedule pushes a nation's next check forward after a successful
// observation. Clears the consecutive-failure streak and re-derives
// priority.
func (s *Queue) Reschedule(ctx context.Context, nationID int, nextCheck time.Time, priority int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE monitor_queue
		SET next_check = $2, priority = $3, failures = 0
		WHERE nation_id = $1`,
		nationID, nextCheck, priority)
	if err != nil {
		return fmt.Errorf("reschedule nation %d: %w", nationID, err)
	}
	return nil
}

// RecordFailure increments the consecutive-failure count and sets the
// backed-off next check. Returns the new count so the caller can apply the
// max-failures policy.
func (s *Queue) RecordFailure(ctx context.Context, nationID int, nextCheck time.Time) (int, error) {
	var failures int
	err := s.pool.QueryRow(ctx, `
		UPDATE monitor_queue
		SET failures = failures + 1, next_check = $2
		WHERE nation_id = $1
		RETURNING failures`,
		nationID, nextCheck).Scan(&failures)
	if err != nil {
		return 0, fmt.Errorf("record failure for nation %d: %w", nationID, err)
	}
	return failures, nil
}

// Len returns the number of live entries.
func (s *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "queue_len").Scan(&n); err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// RemoveFinished drops entries that no longer need monitoring: nations that
// went inactive or left every tracked alliance, and nations that already
// have a live reset record. Returns the number of rows removed.
func (s *Queue) RemoveFinished(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM monitor_queue mq
		WHERE EXISTS (
			SELECT 1 FROM nations n
			WHERE n.id = mq.nation_id
			  AND (NOT n.is_active OR n.alliance_id IS NULL)
		)
		OR EXISTS (
			SELECT 1 FROM reset_times rt
			WHERE rt.nation_id = mq.nation_id AND NOT rt.superseded
			  AND mq.reason <> 'post_reset_rearm'
		)`)
	if err != nil {
		return 0, fmt.Errorf("queue cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CollapseDuplicates removes all but the oldest live entry per nation and
// returns the number of rows dropped. The primary key makes duplicates
// impossible, so a nonzero return means schema drift; callers log it loudly.
func (s *Queue) CollapseDuplicates(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM monitor_queue a
		USING monitor_queue b
		WHERE a.nation_id = b.nation_id AND a.seq > b.seq`)
	if err != nil {
		return 0, fmt.Errorf("collapse duplicate queue entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
