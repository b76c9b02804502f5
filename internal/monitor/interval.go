package monitor

import (
	"time"

	"github.com/pwkit/spywatch/internal/store"
)

// Queue priorities. Lower is more urgent.
const (
	PriorityUrgent  = 1
	PriorityDefault = 5
)

// beigeUrgentTurns is the remaining-protection threshold below which a
// nation's transition is considered imminent.
const beigeUrgentTurns = 6

// Policy holds the adaptive scheduling knobs. All methods are pure so the
// interval logic stays unit-testable in isolation from I/O.
type Policy struct {
	// BaseInterval is the default gap between checks of one nation.
	BaseInterval time.Duration
	// MinInterval floors the adaptive interval so an imminent transition
	// cannot drive the gap to zero.
	MinInterval time.Duration
	// TurnLength is the game's turn cadence; protection counters tick
	// down once per turn.
	TurnLength time.Duration
	// BackoffBase and BackoffCap bound the failure backoff curve.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// MaxFailures is the consecutive-failure count at which a nation is
	// marked inactive and dequeued.
	MaxFailures int
}

// NextInterval returns the gap until the next check after an observation
// that showed no transition. The default is BaseInterval; when the beige
// counter predicts the protection end, the gap shrinks to half the
// remaining protection window so the eventually detected reset timestamp
// gets tighter as the transition nears.
func (p Policy) NextInterval(obs store.Observation) time.Duration {
	interval := p.BaseInterval
	if obs.BeigeTurns > 0 {
		remaining := time.Duration(obs.BeigeTurns) * p.TurnLength
		if half := remaining / 2; half < interval {
			interval = half
		}
	}
	if interval < p.MinInterval {
		interval = p.MinInterval
	}
	return interval
}

// PriorityFor escalates nations whose protection counter is approaching
// zero; everything else keeps the default priority.
func (p Policy) PriorityFor(obs store.Observation) int {
	if obs.BeigeTurns > 0 && obs.BeigeTurns <= beigeUrgentTurns {
		return PriorityUrgent
	}
	return PriorityDefault
}

// Backoff returns the reschedule delay after n consecutive poll failures:
// min(base * 2^n, cap).
func (p Policy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	// 2^n overflows a Duration long before n reaches 40.
	if n > 40 {
		return p.BackoffCap
	}
	d := p.BackoffBase * (1 << uint(n))
	if d > p.BackoffCap || d <= 0 {
		return p.BackoffCap
	}
	return d
}
