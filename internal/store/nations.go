package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Nations is the entity store. It owns nation identity and alliance
// membership; the other stores reference nations by id only.
type Nations struct {
	pool *pgxpool.Pool
}

func NewNations(pool *pgxpool.Pool) *Nations {
	return &Nations{pool: pool}
}

// Upsert writes a batch of nation snapshots, idempotent on id. All fields
// are overwritten wholesale and the nation is re-marked active; the inactive
// flag is recomputed separately via MarkInactiveMissing after a full
// collection pass.
func (s *Nations) Upsert(ctx context.Context, nations []Nation) (inserted, updated int, err error) {
	for _, n := range nations {
		var wasInsert bool
		err := s.pool.QueryRow(ctx, `
			INSERT INTO nations (id, nation_name, alliance_id, alliance_name, score, cities, last_updated, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), TRUE)
			ON CONFLICT (id) DO UPDATE SET
				nation_name   = EXCLUDED.nation_name,
				alliance_id   = EXCLUDED.alliance_id,
				alliance_name = EXCLUDED.alliance_name,
				score         = EXCLUDED.score,
				cities        = EXCLUDED.cities,
				last_updated  = NOW(),
				is_active     = TRUE
			RETURNING (xmax = 0)`,
			n.ID, n.Name, n.AllianceID, n.AllianceName, n.Score, n.Cities,
		).Scan(&wasInsert)
		if err != nil {
			return inserted, updated, fmt.Errorf("upsert nation %d: %w", n.ID, err)
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, nil
}

// Get returns a single nation or ErrNotFound.
func (s *Nations) Get(ctx context.Context, id int) (*Nation, error) {
	var n Nation
	err := s.pool.QueryRow(ctx, "nation_by_id", id).Scan(
		&n.ID, &n.Name, &n.AllianceID, &n.AllianceName,
		&n.Score, &n.Cities, &n.LastUpdated, &n.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get nation %d: %w", id, err)
	}
	return &n, nil
}

// ListActive returns active alliance nations, optionally restricted to one
// alliance.
func (s *Nations) ListActive(ctx context.Context, allianceID *int) ([]Nation, error) {
	var rows pgx.Rows
	var err error
	if allianceID != nil {
		rows, err = s.pool.Query(ctx, "nations_active_by_alliance", *allianceID)
	} else {
		rows, err = s.pool.Query(ctx, "nations_active_all")
	}
	if err != nil {
		return nil, fmt.Errorf("list active nations: %w", err)
	}
	defer rows.Close()

	var nations []Nation
	for rows.Next() {
		var n Nation
		if err := rows.Scan(
			&n.ID, &n.Name, &n.AllianceID, &n.AllianceName,
			&n.Score, &n.Cities, &n.LastUpdated, &n.Active,
		); err != nil {
			return nil, fmt.Errorf("scan nation: %w", err)
		}
		nations = append(nations, n)
	}
	return nations, rows.Err()
}

// MarkInactiveMissing deactivates nations in the given alliances that are
// absent from the latest full listing (seen ids). Returns the deactivated
// ids so callers can drop their queue entries.
func (s *Nations) MarkInactiveMissing(ctx context.Context, allianceIDs, seenIDs []int) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE nations SET is_active = FALSE, last_updated = NOW()
		WHERE is_active
		  AND alliance_id = ANY($1)
		  AND NOT (id = ANY($2))
		RETURNING id`,
		allianceIDs, seenIDs)
	if err != nil {
		return nil, fmt.Errorf("mark missing nations inactive: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deactivated id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkInactive deactivates one nation (sustained poll failure path).
func (s *Nations) MarkInactive(ctx context.Context, id int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE nations SET is_active = FALSE, last_updated = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark nation %d inactive: %w", id, err)
	}
	return nil
}

// CountActive returns the number of active alliance nations.
func (s *Nations) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "nations_count_active").Scan(&n); err != nil {
		return 0, fmt.Errorf("count active nations: %w", err)
	}
	return n, nil
}

// MaxID returns the highest known nation id, 0 when the store is empty.
// Used by the new-nation sweep.
func (s *Nations) MaxID(ctx context.Context) (int, error) {
	var id int
	if err := s.pool.QueryRow(ctx, "nations_max_id").Scan(&id); err != nil {
		return 0, fmt.Errorf("max nation id: %w", err)
	}
	return id, nil
}
