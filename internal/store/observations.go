package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Observations is the append-only status history store.
type Observations struct {
	pool *pgxpool.Pool
}

func NewObservations(pool *pgxpool.Pool) *Observations {
	return &Observations{pool: pool}
}

// Insert appends one availability snapshot.
func (s *Observations) Insert(ctx context.Context, o Observation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO status_history (nation_id, espionage_available, beige_turns, vacation_turns, last_active, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.NationID, o.EspionageAvailable, o.BeigeTurns, o.VacationTurns, o.LastActive, o.CheckedAt)
	if err != nil {
		return fmt.Errorf("insert observation for nation %d: %w", o.NationID, err)
	}
	return nil
}

// Latest returns the most recent observation for a nation, or ErrNotFound
// when the nation has no history yet.
func (s *Observations) Latest(ctx context.Context, nationID int) (*Observation, error) {
	var o Observation
	err := s.pool.QueryRow(ctx, "status_latest", nationID).Scan(
		&o.NationID, &o.EspionageAvailable, &o.BeigeTurns,
		&o.VacationTurns, &o.LastActive, &o.CheckedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest observation for nation %d: %w", nationID, err)
	}
	return &o, nil
}

// History returns up to limit observations for a nation, newest first.
func (s *Observations) History(ctx context.Context, nationID, limit int) ([]Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT nation_id, espionage_available, beige_turns, vacation_turns, last_active, checked_at
		FROM status_history WHERE nation_id = $1
		ORDER BY checked_at DESC, id DESC LIMIT $2`,
		nationID, limit)
	if err != nil {
		return nil, fmt.Errorf("observation history for nation %d: %w", nationID, err)
	}
	defer rows.Close()

	var history []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(
			&o.NationID, &o.EspionageAvailable, &o.BeigeTurns,
			&o.VacationTurns, &o.LastActive, &o.CheckedAt,
		); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		history = append(history, o)
	}
	return history, rows.Err()
}

// CountSince returns the number of observations recorded after the cutoff.
func (s *Observations) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "status_count_since", since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}
