// Package store persists the four durable collections backing the monitoring
// engine: nations, status history, reset records, and the check queue.
// All stores are thin pgx layers; every method takes a context and returns
// wrapped errors.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Nation is a tracked game actor. Nations are never hard-deleted: leaving a
// tracked alliance flips is_active off so historical joins from status
// history and reset records stay intact.
type Nation struct {
	ID           int
	Name         string
	AllianceID   *int
	AllianceName string
	Score        float64
	Cities       int
	LastUpdated  time.Time
	Active       bool
}

// Observation is one availability snapshot. Rows are append-only and ordered
// by CheckedAt per nation; they are never mutated after insert.
type Observation struct {
	NationID           int
	EspionageAvailable bool
	BeigeTurns         int
	VacationTurns      int
	LastActive         *time.Time
	CheckedAt          time.Time
}

// Dormant reports whether the nation was in vacation mode when observed.
func (o Observation) Dormant() bool {
	return o.VacationTurns > 0
}

// ResetRecord is an inferred daily reset time. At most one non-superseded
// record exists per nation; superseding keeps the full detection history.
type ResetRecord struct {
	ID         int64
	NationID   int
	ResetTime  time.Time
	Confidence float64
	Method     string
	Verified   bool
	CreatedAt  time.Time
}

// QueueEntry is the single live "next action" row for a nation. Lower
// priority values are more urgent.
type QueueEntry struct {
	NationID  int
	Reason    string
	Priority  int
	AddedAt   time.Time
	NextCheck time.Time
	Failures  int
}

// ResetReportRow is one line of the externally reported reset summary.
type ResetReportRow struct {
	NationID     int
	NationName   string
	AllianceName string
	ResetTime    time.Time
	Confidence   float64
	Method       string
	Verified     bool
}
