// Package collector bulk-populates the nation store from the full API
// listing and seeds the check queue. Safe to re-run at any time: nation
// upserts are idempotent and enqueuing merges into existing entries.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pwkit/spywatch/internal/config"
	"github.com/pwkit/spywatch/internal/monitor"
	"github.com/pwkit/spywatch/internal/pnw"
	"github.com/pwkit/spywatch/internal/store"
)

// sweepLimit bounds how many new nations one sweep pass pulls.
const sweepLimit = 100

// --------------------------------------------------------------------------
// Dependencies
// --------------------------------------------------------------------------

// ListingFetcher pulls nation snapshots in bulk.
type ListingFetcher interface {
	FetchNationPage(ctx context.Context, page, pageSize int) ([]pnw.NationSnapshot, bool, error)
	FetchNationsAfter(ctx context.Context, minID, limit int) ([]pnw.NationSnapshot, error)
}

// EntityStore is the slice of the nation store the collector needs.
type EntityStore interface {
	Upsert(ctx context.Context, nations []store.Nation) (inserted, updated int, err error)
	MarkInactiveMissing(ctx context.Context, allianceIDs, seenIDs []int) ([]int, error)
	MaxID(ctx context.Context) (int, error)
}

// ObservationStore records each listing snapshot and yields the previous
// sample so collection passes run the same detection as scheduled checks.
type ObservationStore interface {
	Insert(ctx context.Context, o store.Observation) error
	Latest(ctx context.Context, nationID int) (*store.Observation, error)
}

// ResetStore answers whether a nation already has a confirmed reset and
// records transitions the collection pass itself detects.
type ResetStore interface {
	Has(ctx context.Context, nationID int) (bool, error)
	Record(ctx context.Context, r store.ResetRecord) (bool, error)
}

// QueueStore seeds and prunes the check queue.
type QueueStore interface {
	Enqueue(ctx context.Context, e store.QueueEntry) error
	Remove(ctx context.Context, nationID int) error
}

// --------------------------------------------------------------------------
// Collector
// --------------------------------------------------------------------------

// Config controls collection runs.
type Config struct {
	AllianceIDs  []int
	PageSize     int
	Policy       monitor.Policy
	RearmEnabled bool
	RearmDelay   time.Duration
}

// Collector runs full listing collections and incremental new-nation sweeps.
type Collector struct {
	cfg          Config
	fetcher      ListingFetcher
	nations      EntityStore
	observations ObservationStore
	resets       ResetStore
	queue        QueueStore
	logger       *slog.Logger

	now func() time.Time
}

// New creates a Collector.
func New(cfg Config, fetcher ListingFetcher, nations EntityStore, observations ObservationStore, resets ResetStore, queue QueueStore, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 500
	}
	return &Collector{
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

// Report tracks the outcome of one collection or sweep run.
type Report struct {
	Scanned     int
	Matched     int
	Inserted    int
	Updated     int
	Enqueued    int
	ResetsFound int
	Deactivated int
	Pages       int
	Duration    time.Duration
	Errors      []string
}

// Summary returns a human-readable summary.
func (r *Report) Summary() string {
	return fmt.Sprintf("scanned=%d matched=%d inserted=%d updated=%d enqueued=%d resets=%d deactivated=%d pages=%d dur=%s",
		r.Scanned, r.Matched, r.Inserted, r.Updated, r.Enqueued,
		r.ResetsFound, r.Deactivated, r.Pages, r.Duration.Round(time.Second))
}

// Run walks the full nation listing, upserts members of the tracked
// alliances, and enqueues every active member without a confirmed reset
// record. A transport failure aborts the run (reported in the Report) and
// leaves previously stored nations untouched. allianceIDs overrides the
// configured set when non-empty.
func (c *Collector) Run(ctx context.Context, allianceIDs []int) (Report, error) {
	start := c.now()
	var report Report

	if len(allianceIDs) == 0 {
		allianceIDs = c.cfg.AllianceIDs
	}
	if len(allianceIDs) == 0 {
		return report, fmt.Errorf("no alliance ids configured")
	}
	tracked := make(map[int]bool, len(allianceIDs))
	for _, id := range allianceIDs {
		tracked[id] = true
	}

	var seen []int
	aborted := false

	for page := 1; ; page++ {
		snaps, hasMore, err := c.fetcher.FetchNationPage(ctx, page, c.cfg.PageSize)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("page %d: %s", page, err))
			aborted = true
			break
		}
		report.Pages++
		report.Scanned += len(snaps)

		var matched []pnw.NationSnapshot
		for _, snap := range snaps {
			if snap.AllianceID != nil && tracked[*snap.AllianceID] {
				matched = append(matched, snap)
			}
		}
		report.Matched += len(matched)

		if err := c.absorb(ctx, matched, &report, &seen); err != nil {
			report.Errors = append(report.Errors, err.Error())
			aborted = true
			break
		}

		if !hasMore {
			break
		}
	}

	// Membership reconciliation needs a complete listing: deactivating
	// from a partial scan would wrongly retire nations the aborted pages
	// never reached.
	if !aborted && len(seen) > 0 {
		deactivated, err := c.nations.MarkInactiveMissing(ctx, allianceIDs, seen)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		} else {
			report.Deactivated = len(deactivated)
			for _, id := range deactivated {
				if err := c.queue.Remove(ctx, id); err != nil {
					report.Errors = append(report.Errors, err.Error())
				}
			}
		}
	}

	report.Duration = time.Since(start)
	c.logger.Info("Collection run complete", "summary", report.Summary())
	return report, nil
}

// SweepNew picks up nations created since the last collection by querying
// ids above the local maximum. Runs on a short cadence between full
// collections.
func (c *Collector) SweepNew(ctx context.Context) (Report, error) {
	start := c.now()
	var report Report

	if len(c.cfg.AllianceIDs) == 0 {
		return report, fmt.Errorf("no alliance ids configured")
	}
	tracked := make(map[int]bool, len(c.cfg.AllianceIDs))
	for _, id := range c.cfg.AllianceIDs {
		tracked[id] = true
	}

	maxID, err := c.nations.MaxID(ctx)
	if err != nil {
		return report, err
	}

	snaps, err := c.fetcher.FetchNationsAfter(ctx, maxID, sweepLimit)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		report.Duration = time.Since(start)
		return report, nil
	}
	report.Scanned = len(snaps)

	var matched []pnw.NationSnapshot
	for _, snap := range snaps {
		if snap.AllianceID != nil && tracked[*snap.AllianceID] {
			matched = append(matched, snap)
		}
	}
	report.Matched = len(matched)

	var seen []int
	if err := c.absorb(ctx, matched, &report, &seen); err != nil {
		report.Errors = append(report.Errors, err.Error())
	}

	report.Duration = time.Since(start)
	if report.Matched > 0 {
		c.logger.Info("New-nation sweep complete", "summary", report.Summary())
	}
	return report, nil
}

// absorb upserts matched snapshots, records their baseline observations,
// and enqueues the ones that still need monitoring.
func (c *Collector) absorb(ctx context.Context, matched []pnw.NationSnapshot, report *Report, seen *[]int) error {
	if len(matched) == 0 {
		return nil
	}

	batch := make([]store.Nation, len(matched))
	for i, snap := range matched {
		batch[i] = store.Nation{
			ID:           snap.ID,
			Name:         snap.Name,
			AllianceID:   snap.AllianceID,
			AllianceName: snap.AllianceName,
			Score:        snap.Score,
			Cities:       snap.Cities,
		}
	}

	inserted, updated, err := c.nations.Upsert(ctx, batch)
	if err != nil {
		return err
	}
	report.Inserted += inserted
	report.Updated += updated

	now := c.now()
	for _, snap := range matched {
		*seen = append(*seen, snap.ID)

		// Collection snapshots flow through the same detector as scheduled
		// checks; otherwise a transition landing between two polls would be
		// consumed as plain history and the reset missed for good.
		prev, err := c.observations.Latest(ctx, snap.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			report.Errors = append(report.Errors, fmt.Sprintf("nation %d history: %s", snap.ID, err))
			continue
		}

		obs := store.Observation{
			NationID:           snap.ID,
			EspionageAvailable: snap.EspionageAvailable,
			BeigeTurns:         snap.BeigeTurns,
			VacationTurns:      snap.VacationTurns,
			LastActive:         snap.LastActive,
			CheckedAt:          now,
		}
		if err := c.observations.Insert(ctx, obs); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("nation %d observation: %s", snap.ID, err))
			continue
		}

		if outcome := monitor.Evaluate(prev, obs); outcome.Kind == monitor.OutcomeTransition {
			if err := c.recordReset(ctx, snap.ID, outcome, now); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("nation %d reset: %s", snap.ID, err))
				continue
			}
			report.ResetsFound++
			continue
		}

		enqueued, err := c.maybeEnqueue(ctx, snap, obs, now)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("nation %d enqueue: %s", snap.ID, err))
			continue
		}
		if enqueued {
			report.Enqueued++
		}
	}
	return nil
}

// recordReset applies a collection-time detection: record, dequeue, and
// optionally schedule the post-reset recheck, mirroring the driver.
func (c *Collector) recordReset(ctx context.Context, nationID int, outcome monitor.Outcome, now time.Time) error {
	recorded, err := c.resets.Record(ctx, store.ResetRecord{
		NationID:   nationID,
		ResetTime:  outcome.ResetTime,
		Confidence: outcome.Confidence,
		Method:     outcome.Method,
	})
	if err != nil {
		return err
	}
	c.logger.Info("Reset detected during collection",
		"nation_id", nationID,
		"reset_time", outcome.ResetTime,
		"recorded", recorded)

	if err := c.queue.Remove(ctx, nationID); err != nil {
		return err
	}
	if c.cfg.RearmEnabled {
		return c.queue.Enqueue(ctx, store.QueueEntry{
			NationID:  nationID,
			Reason:    config.ReasonPostResetRearm,
			Priority:  monitor.PriorityDefault,
			NextCheck: now.Add(c.cfg.RearmDelay),
		})
	}
	return nil
}

// maybeEnqueue adds a collected nation to the check queue unless it is
// dormant (unobservable until vacation ends) or already has a confirmed
// reset record. Freshly collected nations are due immediately.
func (c *Collector) maybeEnqueue(ctx context.Context, snap pnw.NationSnapshot, obs store.Observation, now time.Time) (bool, error) {
	if snap.Dormant() {
		return false, nil
	}

	has, err := c.resets.Has(ctx, snap.ID)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}

	reason := config.ReasonNewNation
	if !snap.EspionageAvailable {
		reason = config.ReasonInitiallyProtected
		if snap.BeigeTurns > 0 {
			reason = config.ReasonBeigeProtection
		}
	}

	entry := store.QueueEntry{
		NationID:  snap.ID,
		Reason:    reason,
		Priority:  c.cfg.Policy.PriorityFor(obs),
		NextCheck: now,
	}
	if err := c.queue.Enqueue(ctx, entry); err != nil {
		return false, err
	}
	return true, nil
}
