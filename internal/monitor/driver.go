package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pwkit/spywatch/internal/config"
	"github.com/pwkit/spywatch/internal/pnw"
	"github.com/pwkit/spywatch/internal/store"
)

// --------------------------------------------------------------------------
// Dependencies
// --------------------------------------------------------------------------

// Fetcher polls one nation's availability snapshot.
type Fetcher interface {
	FetchNationStatus(ctx context.Context, nationID int) (pnw.NationSnapshot, error)
}

// EntityStore is the slice of the nation store the driver needs.
type EntityStore interface {
	MarkInactive(ctx context.Context, id int) error
	CountActive(ctx context.Context) (int, error)
}

// ObservationStore is the append-only status history.
type ObservationStore interface {
	Insert(ctx context.Context, o store.Observation) error
	Latest(ctx context.Context, nationID int) (*store.Observation, error)
}

// ResetStore records inferred reset times.
type ResetStore interface {
	Record(ctx context.Context, r store.ResetRecord) (bool, error)
	Count(ctx context.Context) (int, error)
}

// QueueStore is the priority check queue.
type QueueStore interface {
	Enqueue(ctx context.Context, e store.QueueEntry) error
	Due(ctx context.Context, now time.Time, limit int) ([]store.QueueEntry, error)
	Remove(ctx context.Context, nationID int) error
	Reschedule(ctx context.Context, nationID int, nextCheck time.Time, priority int) error
	RecordFailure(ctx context.Context, nationID int, nextCheck time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// State is the driver's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// --------------------------------------------------------------------------
// Driver
// --------------------------------------------------------------------------

// Config controls the driver loop.
type Config struct {
	TickInterval time.Duration
	BatchLimit   int
	Workers      int
	CheckTimeout time.Duration
	Policy       Policy
	RearmEnabled bool
	RearmDelay   time.Duration
}

// Driver runs the periodic monitoring loop: each tick it claims due queue
// entries and checks them with a bounded worker pool. All store writes for
// one nation happen on the worker that claimed its queue entry; the queue's
// one-live-entry-per-nation invariant guarantees no nation is ever checked
// twice concurrently.
type Driver struct {
	cfg          Config
	fetcher      Fetcher
	nations      EntityStore
	observations ObservationStore
	resets       ResetStore
	queue        QueueStore
	logger       *slog.Logger

	now func() time.Time

	mu       sync.Mutex
	state    State
	stopCh   chan struct{}
	doneCh   chan struct{}
	lastTick time.Time
}

// New creates a Driver. It does not start the loop; call Start.
func New(cfg Config, fetcher Fetcher, nations EntityStore, observations ObservationStore, resets ResetStore, queue QueueStore, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchLimit < 1 {
		cfg.BatchLimit = 50
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	return &Driver{
		cfg:          cfg,
		fetcher:      fetcher,
		nations:      nations,
		observations: observations,
		resets:       resets,
		queue:        queue,
		logger:       logger,
		now:          time.Now,
	}
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start launches the driver loop. Idempotent: starting a running driver is
// a no-op. Returns an error while a previous Stop is still draining.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateRunning:
		return nil
	case StateStopping:
		return fmt.Errorf("monitor is stopping, wait for it to drain")
	}

	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.state = StateRunning
	go d.run(d.stopCh, d.doneCh)

	d.logger.Info("Monitor started",
		"tick", d.cfg.TickInterval,
		"batch_limit", d.cfg.BatchLimit,
		"workers", d.cfg.Workers)
	return nil
}

// Stop signals the loop to halt and blocks until the in-flight tick has
// finished. Idempotent: stopping a stopped driver is a no-op.
func (d *Driver) Stop() {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return
	}
	d.state = StateStopping
	close(d.stopCh)
	done := d.doneCh
	d.mu.Unlock()

	<-done

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()
	d.logger.Info("Monitor stopped")
}

func (d *Driver) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	// First tick immediately rather than one full interval in.
	d.tickAndLog()

	for {
		select {
		case <-ticker.C:
			d.tickAndLog()
		case <-stopCh:
			return
		}
	}
}

func (d *Driver) tickAndLog() {
	result := d.Tick(context.Background())
	if result.Due > 0 || len(result.Errors) > 0 {
		d.logger.Info("Tick complete", "summary", result.Summary())
	}
	for _, e := range result.Errors {
		d.logger.Warn("Tick error", "error", e)
	}
}

// --------------------------------------------------------------------------
// Tick
// --------------------------------------------------------------------------

// TickResult tracks the outcome of one scheduler tick.
type TickResult struct {
	Due         int
	Checked     int
	ResetsFound int
	Failed      int
	Deactivated int
	Duration    time.Duration
	Errors      []string
}

// Summary returns a human-readable summary.
func (r *TickResult) Summary() string {
	return fmt.Sprintf("due=%d checked=%d resets=%d failed=%d deactivated=%d dur=%s",
		r.Due, r.Checked, r.ResetsFound, r.Failed, r.Deactivated,
		r.Duration.Round(time.Millisecond))
}

// Tick runs one scheduling cycle: claim due entries, check each with the
// worker pool, collect results. Errors are per-entry and never abort the
// cycle.
func (d *Driver) Tick(ctx context.Context) TickResult {
	start := d.now()
	var result TickResult

	entries, err := d.queue.Due(ctx, start, d.cfg.BatchLimit)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result
	}
	result.Due = len(entries)

	d.mu.Lock()
	d.lastTick = start
	d.mu.Unlock()

	if len(entries) == 0 {
		result.Duration = time.Since(start)
		return result
	}

	workers := d.cfg.Workers
	if workers > len(entries) {
		workers = len(entries)
	}

	ch := make(chan store.QueueEntry, len(entries))
	for _, e := range entries {
		ch <- e
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range ch {
				outcome := d.processEntry(ctx, entry)

				mu.Lock()
				switch {
				case outcome.err != nil:
					result.Failed++
					result.Errors = append(result.Errors,
						fmt.Sprintf("nation %d: %s", entry.NationID, outcome.err))
					if outcome.deactivated {
						result.Deactivated++
					}
				default:
					result.Checked++
					if outcome.resetDetected {
						result.ResetsFound++
					}
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	result.Duration = time.Since(start)
	return result
}

type checkOutcome struct {
	resetDetected bool
	deactivated   bool
	err           error
}

// processEntry checks one dequeued nation. API failures are translated into
// a backoff-reschedule or, past the failure budget, into deactivation; they
// never escalate out of the worker.
func (d *Driver) processEntry(ctx context.Context, entry store.QueueEntry) checkOutcome {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.CheckTimeout)
	defer cancel()

	snap, err := d.fetcher.FetchNationStatus(cctx, entry.NationID)
	if err != nil {
		return d.handleCheckFailure(ctx, entry, err)
	}

	obs := observationFrom(snap, d.now())
	outcome, err := d.recordObservation(ctx, obs, true)
	if err != nil {
		return checkOutcome{err: err}
	}
	return checkOutcome{resetDetected: outcome.Kind == OutcomeTransition}
}

func (d *Driver) handleCheckFailure(ctx context.Context, entry store.QueueEntry, cause error) checkOutcome {
	failures := entry.Failures + 1

	if failures >= d.cfg.Policy.MaxFailures {
		// Soft failure: the nation stops being polled but nothing is
		// deleted; a later collection pass can revive it.
		d.logger.Warn("Nation exceeded failure budget, deactivating",
			"nation_id", entry.NationID, "failures", failures, "cause", cause)
		if err := d.withRetry(ctx, "mark inactive", func() error {
			return d.nations.MarkInactive(ctx, entry.NationID)
		}); err != nil {
			return checkOutcome{err: err}
		}
		if err := d.queue.Remove(ctx, entry.NationID); err != nil {
			return checkOutcome{err: err}
		}
		return checkOutcome{deactivated: true, err: cause}
	}

	next := d.now().Add(d.cfg.Policy.Backoff(failures))
	if _, err := d.queue.RecordFailure(ctx, entry.NationID, next); err != nil {
		return checkOutcome{err: err}
	}
	d.logger.Warn("Check failed, backing off",
		"nation_id", entry.NationID, "failures", failures,
		"next_check", next, "cause", cause)
	return checkOutcome{err: cause}
}

// recordObservation appends the observation, runs the detector against the
// previous one, and applies the verdict to the reset store and the queue.
// Shared by scheduled checks and ForceCheck so both paths behave
// identically.
func (d *Driver) recordObservation(ctx context.Context, obs store.Observation, scheduled bool) (Outcome, error) {
	prev, err := d.observations.Latest(ctx, obs.NationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Outcome{}, err
	}

	if err := d.withRetry(ctx, "insert observation", func() error {
		return d.observations.Insert(ctx, obs)
	}); err != nil {
		return Outcome{}, err
	}

	outcome := Evaluate(prev, obs)

	switch outcome.Kind {
	case OutcomeTransition:
		recorded, err := d.recordReset(ctx, obs.NationID, outcome)
		if err != nil {
			return outcome, err
		}
		d.logger.Info("Reset detected",
			"nation_id", obs.NationID,
			"reset_time", outcome.ResetTime,
			"method", outcome.Method,
			"recorded", recorded)

		if err := d.queue.Remove(ctx, obs.NationID); err != nil {
			return outcome, err
		}
		if d.cfg.RearmEnabled {
			rearm := store.QueueEntry{
				NationID:  obs.NationID,
				Reason:    config.ReasonPostResetRearm,
				Priority:  PriorityDefault,
				NextCheck: d.now().Add(d.cfg.RearmDelay),
			}
			if err := d.queue.Enqueue(ctx, rearm); err != nil {
				return outcome, err
			}
		}

	case OutcomeNoChange, OutcomeInsufficientHistory:
		if obs.Dormant() {
			// Vacation mode makes the nation unobservable; drop it
			// from the queue and let a later collection pass pick it
			// back up once dormancy ends.
			d.logger.Info("Nation entered vacation mode, dequeuing",
				"nation_id", obs.NationID, "vacation_turns", obs.VacationTurns)
			if err := d.queue.Remove(ctx, obs.NationID); err != nil {
				return outcome, err
			}
			break
		}
		if scheduled {
			next := obs.CheckedAt.Add(d.cfg.Policy.NextInterval(obs))
			if err := d.queue.Reschedule(ctx, obs.NationID, next, d.cfg.Policy.PriorityFor(obs)); err != nil {
				return outcome, err
			}
		}
	}

	return outcome, nil
}

func (d *Driver) recordReset(ctx context.Context, nationID int, outcome Outcome) (bool, error) {
	var recorded bool
	err := d.withRetry(ctx, "record reset", func() error {
		var err error
		recorded, err = d.resets.Record(ctx, store.ResetRecord{
			NationID:   nationID,
			ResetTime:  outcome.ResetTime,
			Confidence: outcome.Confidence,
			Method:     outcome.Method,
		})
		return err
	})
	return recorded, err
}

// withRetry retries a store write once before giving up. Persistent store
// failure is reported to the caller and logged there; it never takes down
// the loop.
func (d *Driver) withRetry(ctx context.Context, op string, fn func() error) error {
	if err := fn(); err != nil {
		d.logger.Warn("Store operation failed, retrying once", "op", op, "error", err)
		if err2 := fn(); err2 != nil {
			return fmt.Errorf("%s: %w", op, err2)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// External operations
// --------------------------------------------------------------------------

// ForceCheck polls one nation immediately, bypassing the queue but sharing
// the rate-limit budget, and feeds the result through the detector and
// stores exactly as a scheduled check would.
func (d *Driver) ForceCheck(ctx context.Context, nationID int) (store.Observation, error) {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.CheckTimeout)
	defer cancel()

	snap, err := d.fetcher.FetchNationStatus(cctx, nationID)
	if err != nil {
		return store.Observation{}, err
	}

	obs := observationFrom(snap, d.now())
	if _, err := d.recordObservation(ctx, obs, true); err != nil {
		return store.Observation{}, err
	}
	return obs, nil
}

// StatusReport is the engine summary exposed to the presentation layers.
type StatusReport struct {
	State       string     `json:"state"`
	Tracked     int        `json:"tracked_count"`
	Queued      int        `json:"queued_count"`
	ResetsFound int        `json:"resets_found_count"`
	LastTickAt  *time.Time `json:"last_tick_at,omitempty"`
}

// StatusReport gathers the monitoring counters.
func (d *Driver) StatusReport(ctx context.Context) (StatusReport, error) {
	tracked, err := d.nations.CountActive(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	queued, err := d.queue.Len(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	resets, err := d.resets.Count(ctx)
	if err != nil {
		return StatusReport{}, err
	}

	d.mu.Lock()
	state := d.state
	last := d.lastTick
	d.mu.Unlock()

	report := StatusReport{
		State:       state.String(),
		Tracked:     tracked,
		Queued:      queued,
		ResetsFound: resets,
	}
	if !last.IsZero() {
		report.LastTickAt = &last
	}
	return report, nil
}

// observationFrom converts a validated API snapshot into a stored
// observation stamped with the poll time.
func observationFrom(snap pnw.NationSnapshot, at time.Time) store.Observation {
	return store.Observation{
		NationID:           snap.ID,
		EspionageAvailable: snap.EspionageAvailable,
		BeigeTurns:         snap.BeigeTurns,
		VacationTurns:      snap.VacationTurns,
		LastActive:         snap.LastActive,
		CheckedAt:          at,
	}
}
