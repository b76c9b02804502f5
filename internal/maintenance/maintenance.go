// Package maintenance runs periodic background tasks as Go tickers: full
// re-collection, the new-nation sweep, and check-queue hygiene. All
// scheduled work is driven from Go since the daemon is already a
// persistent, long-running service.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/pwkit/spywatch/internal/collector"
	"github.com/pwkit/spywatch/internal/store"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	CollectionInterval time.Duration // Full listing re-collection
	SweepInterval      time.Duration // New-nation id sweep
	CleanupInterval    time.Duration // Queue hygiene
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		CollectionInterval: 24 * time.Hour,
		SweepInterval:      1 * time.Hour,
		CleanupInterval:    30 * time.Minute,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, queue *store.Queue, coll *collector.Collector, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"collection", cfg.CollectionInterval,
		"sweep", cfg.SweepInterval,
		"cleanup", cfg.CleanupInterval)

	tickers := make([]*time.Ticker, 0, 3)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	// Full re-collection: reconcile alliance membership on a long cadence.
	if cfg.CollectionInterval > 0 {
		t := time.NewTicker(cfg.CollectionInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { runCollection(ctx, coll, logger) })
	}

	// Sweep: pick up nations created since the last collection.
	if cfg.SweepInterval > 0 {
		t := time.NewTicker(cfg.SweepInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { runSweep(ctx, coll, logger) })
	}

	// Cleanup: drop queue entries that no longer need monitoring.
	if cfg.CleanupInterval > 0 {
		t := time.NewTicker(cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { cleanup(ctx, queue, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

func runCollection(ctx context.Context, coll *collector.Collector, logger *slog.Logger) {
	report, err := coll.Run(ctx, nil)
	if err != nil {
		logger.Warn("Scheduled collection failed", "error", err)
		return
	}
	for _, e := range report.Errors {
		logger.Warn("Scheduled collection error", "error", e)
	}
}

func runSweep(ctx context.Context, coll *collector.Collector, logger *slog.Logger) {
	if _, err := coll.SweepNew(ctx); err != nil {
		logger.Warn("New-nation sweep failed", "error", err)
	}
}

// cleanup removes queue entries for nations that went inactive or left every
// tracked alliance, and entries made redundant by a confirmed reset record.
// It also checks the one-live-entry-per-nation invariant: the schema makes
// duplicates impossible, so any hit is a bug worth a loud log, healed by
// keeping the oldest entry.
func cleanup(ctx context.Context, queue *store.Queue, logger *slog.Logger) {
	removed, err := queue.RemoveFinished(ctx)
	if err != nil {
		logger.Warn("Cleanup: queue hygiene failed", "error", err)
	} else if removed > 0 {
		logger.Info("Cleanup: removed finished queue entries", "count", removed)
	}

	dupes, err := queue.CollapseDuplicates(ctx)
	if err != nil {
		logger.Warn("Cleanup: duplicate check failed", "error", err)
		return
	}
	if dupes > 0 {
		logger.Error("Queue invariant violation: collapsed duplicate live entries", "count", dupes)
	}
}
