package monitor

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pwkit/spywatch/internal/pnw"
	"github.com/pwkit/spywatch/internal/store"
)

// In-memory fakes for the driver's store interfaces. Each fake mirrors the
// semantics of its SQL counterpart closely enough for scheduler tests; the
// queue fake shares the real merge policy via store.MergeEntries.

type fakeFetcher struct {
	mu    sync.Mutex
	snaps map[int]pnw.NationSnapshot
	errs  map[int]error
	calls []int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		snaps: make(map[int]pnw.NationSnapshot),
		errs:  make(map[int]error),
	}
}

func (f *fakeFetcher) FetchNationStatus(_ context.Context, nationID int) (pnw.NationSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, nationID)
	if err, ok := f.errs[nationID]; ok {
		return pnw.NationSnapshot{}, err
	}
	return f.snaps[nationID], nil
}

type fakeNations struct {
	mu       sync.Mutex
	active   map[int]bool
	inactive []int
}

func newFakeNations(ids ...int) *fakeNations {
	f := &fakeNations{active: make(map[int]bool)}
	for _, id := range ids {
		f.active[id] = true
	}
	return f
}

func (f *fakeNations) MarkInactive(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[id] = false
	f.inactive = append(f.inactive, id)
	return nil
}

func (f *fakeNations) CountActive(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.active {
		if a {
			n++
		}
	}
	return n, nil
}

type fakeObservations struct {
	mu       sync.Mutex
	byNation map[int][]store.Observation
}

func newFakeObservations() *fakeObservations {
	return &fakeObservations{byNation: make(map[int][]store.Observation)}
}

func (f *fakeObservations) Insert(_ context.Context, o store.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byNation[o.NationID] = append(f.byNation[o.NationID], o)
	return nil
}

func (f *fakeObservations) Latest(_ context.Context, nationID int) (*store.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := f.byNation[nationID]
	if len(history) == 0 {
		return nil, store.ErrNotFound
	}
	last := history[len(history)-1]
	return &last, nil
}

func (f *fakeObservations) count(nationID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byNation[nationID])
}

type fakeResets struct {
	mu      sync.Mutex
	records []store.ResetRecord
}

func (f *fakeResets) Record(_ context.Context, r store.ResetRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		existing := &f.records[i]
		if existing.NationID != r.NationID || existing.ID < 0 {
			continue
		}
		// Lower-confidence detections never replace an existing record.
		if existing.Confidence > r.Confidence {
			return false, nil
		}
		existing.ID = -1 // superseded
	}
	f.records = append(f.records, r)
	return true, nil
}

func (f *fakeResets) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.ID >= 0 {
			n++
		}
	}
	return n, nil
}

func (f *fakeResets) live(nationID int) (store.ResetRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.NationID == nationID && r.ID >= 0 {
			return r, true
		}
	}
	return store.ResetRecord{}, false
}

type fakeQueue struct {
	mu      sync.Mutex
	entries map[int]store.QueueEntry
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{entries: make(map[int]store.QueueEntry)}
}

func (f *fakeQueue) Enqueue(_ context.Context, e store.QueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.entries[e.NationID]; ok {
		f.entries[e.NationID] = store.MergeEntries(existing, e)
		return nil
	}
	f.entries[e.NationID] = e
	return nil
}

func (f *fakeQueue) Due(_ context.Context, now time.Time, limit int) ([]store.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []store.QueueEntry
	for _, e := range f.entries {
		if !e.NextCheck.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return due[i].NextCheck.Before(due[j].NextCheck)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeQueue) Remove(_ context.Context, nationID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, nationID)
	return nil
}

func (f *fakeQueue) Reschedule(_ context.Context, nationID int, nextCheck time.Time, priority int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// UPDATE semantics: no row, no effect.
	e, ok := f.entries[nationID]
	if !ok {
		return nil
	}
	e.NextCheck = nextCheck
	e.Priority = priority
	e.Failures = 0
	f.entries[nationID] = e
	return nil
}

func (f *fakeQueue) RecordFailure(_ context.Context, nationID int, nextCheck time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[nationID]
	if !ok {
		return 0, nil
	}
	e.Failures++
	e.NextCheck = nextCheck
	f.entries[nationID] = e
	return e.Failures, nil
}

func (f *fakeQueue) Len(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries), nil
}

func (f *fakeQueue) get(nationID int) (store.QueueEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[nationID]
	return e, ok
}

// --------------------------------------------------------------------------
// Driver harness
// --------------------------------------------------------------------------

type testEnv struct {
	driver       *Driver
	fetcher      *fakeFetcher
	nations      *fakeNations
	observations *fakeObservations
	resets       *fakeResets
	queue        *fakeQueue
	now          time.Time
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Hour
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 10 * time.Second
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = testPolicy()
	}

	env := &testEnv{
		fetcher:      newFakeFetcher(),
		nations:      newFakeNations(),
		observations: newFakeObservations(),
		resets:       &fakeResets{},
		queue:        newFakeQueue(),
		now:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.driver = New(cfg, env.fetcher, env.nations, env.observations, env.resets, env.queue,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	env.driver.now = func() time.Time { return env.now }
	return env
}

func (env *testEnv) enqueue(t *testing.T, e store.QueueEntry) {
	t.Helper()
	if e.NextCheck.IsZero() {
		e.NextCheck = env.now
	}
	if e.Priority == 0 {
		e.Priority = PriorityDefault
	}
	if err := env.queue.Enqueue(context.Background(), e); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}
