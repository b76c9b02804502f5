// Package monitor contains the monitoring engine: the transition detector,
// the adaptive check-interval policy, and the driver loop that ties the
// queue, the stores, and the API client together.
package monitor

import (
	"time"

	"github.com/pwkit/spywatch/internal/store"
)

// MethodProtectionToAvailable tags the only detection the engine currently
// performs: espionage availability flipping from false to true outside
// vacation mode. This method always carries confidence 1.0.
const MethodProtectionToAvailable = "protection_to_available"

// OutcomeKind classifies the result of comparing two adjacent observations.
type OutcomeKind int

const (
	// OutcomeNoChange means no reset was inferred; the observation is
	// history only.
	OutcomeNoChange OutcomeKind = iota
	// OutcomeTransition means a daily reset was detected.
	OutcomeTransition
	// OutcomeInsufficientHistory means there was no prior observation to
	// compare against; the current one becomes the baseline.
	OutcomeInsufficientHistory
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoChange:
		return "no_change"
	case OutcomeTransition:
		return "transition_detected"
	case OutcomeInsufficientHistory:
		return "insufficient_history"
	}
	return "unknown"
}

// Outcome is the detector's verdict for one observation pair.
type Outcome struct {
	Kind       OutcomeKind
	ResetTime  time.Time
	Confidence float64
	Method     string
}

// Evaluate compares the immediately preceding observation with the current
// one and infers whether a daily reset happened in between.
//
// A transition requires availability to flip false -> true with the prior
// sample outside vacation mode. A dormant prior sample never yields a
// transition: availability is meaningless during vacation, so the first
// post-vacation pair only re-establishes a baseline. The inferred reset
// time is the current observation's timestamp; the scheduler's shrinking
// check interval bounds the error, no interpolation is attempted.
func Evaluate(prev *store.Observation, cur store.Observation) Outcome {
	if prev == nil {
		return Outcome{Kind: OutcomeInsufficientHistory}
	}
	if !prev.EspionageAvailable && cur.EspionageAvailable && !prev.Dormant() {
		return Outcome{
			Kind:       OutcomeTransition,
			ResetTime:  cur.CheckedAt,
			Confidence: 1.0,
			Method:     MethodProtectionToAvailable,
		}
	}
	return Outcome{Kind: OutcomeNoChange}
}
