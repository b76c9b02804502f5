package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pwkit/spywatch/internal/store"
)

func obsAt(t time.Time, available bool, beige, vacation int) store.Observation {
	return store.Observation{
		NationID:           1001,
		EspionageAvailable: available,
		BeigeTurns:         beige,
		VacationTurns:      vacation,
		CheckedAt:          t,
	}
}

func TestEvaluateTransition(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(30 * time.Minute)

	prev := obsAt(t0, false, 3, 0)
	cur := obsAt(t1, true, 0, 0)

	out := Evaluate(&prev, cur)
	assert.Equal(t, OutcomeTransition, out.Kind)
	assert.Equal(t, t1, out.ResetTime, "reset time is the detecting observation's timestamp")
	assert.Equal(t, 1.0, out.Confidence)
	assert.Equal(t, MethodProtectionToAvailable, out.Method)
}

func TestEvaluateNoPriorObservation(t *testing.T) {
	cur := obsAt(time.Now(), true, 0, 0)
	out := Evaluate(nil, cur)
	assert.Equal(t, OutcomeInsufficientHistory, out.Kind)
}

func TestEvaluateNoChange(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	cases := []struct {
		name string
		prev store.Observation
		cur  store.Observation
	}{
		{"still protected", obsAt(t0, false, 4, 0), obsAt(t1, false, 3, 0)},
		{"still available", obsAt(t0, true, 0, 0), obsAt(t1, true, 0, 0)},
		{"availability lost", obsAt(t0, true, 0, 0), obsAt(t1, false, 12, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Evaluate(&tc.prev, tc.cur)
			assert.Equal(t, OutcomeNoChange, out.Kind)
			assert.Zero(t, out.Confidence)
		})
	}
}

// A flip out of vacation mode looks like false -> true but is not a reset:
// the flag is meaningless while dormant, so the pair only re-baselines.
func TestEvaluateDormantPriorIsNotATransition(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	prev := obsAt(t0, false, 0, 20)
	cur := obsAt(t0.Add(time.Hour), true, 0, 0)

	out := Evaluate(&prev, cur)
	assert.Equal(t, OutcomeNoChange, out.Kind)
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "no_change", OutcomeNoChange.String())
	assert.Equal(t, "transition_detected", OutcomeTransition.String())
	assert.Equal(t, "insufficient_history", OutcomeInsufficientHistory.String())
}
