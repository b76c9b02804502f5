// Command spywatch is the operator CLI for the spywatch engine.
//
// Usage:
//
//	spywatch collect --alliance 1234,5678
//	spywatch sweep
//	spywatch check 100541
//	spywatch resets --alliance 1234 --limit 50
//	spywatch status
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pwkit/spywatch/internal/collector"
	"github.com/pwkit/spywatch/internal/config"
	"github.com/pwkit/spywatch/internal/db"
	"github.com/pwkit/spywatch/internal/monitor"
	"github.com/pwkit/spywatch/internal/pnw"
	"github.com/pwkit/spywatch/internal/store"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "spywatch",
		Short: "Politics & War reset-time monitoring CLI",
	}

	root.AddCommand(collectCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(resetsCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// collect command
// --------------------------------------------------------------------------

func collectCmd() *cobra.Command {
	var allianceIDs []int
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Scan alliance rosters and seed the monitoring queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				coll, _ := buildEngine(cfg, pool)
				start := time.Now()
				report, err := coll.Run(ctx, allianceIDs)
				if err != nil {
					return err
				}
				logger.Info("Collection finished",
					"duration", time.Since(start).Round(time.Second),
					"summary", report.Summary())
				for _, e := range report.Errors {
					logger.Error("collection error", "error", e)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntSliceVar(&allianceIDs, "alliance", nil, "Alliance IDs to scan (defaults to ALLIANCE_IDS)")
	return cmd
}

// --------------------------------------------------------------------------
// sweep command
// --------------------------------------------------------------------------

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Scan for nations created since the last collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				coll, _ := buildEngine(cfg, pool)
				report, err := coll.SweepNew(ctx)
				if err != nil {
					return err
				}
				logger.Info("Sweep finished", "summary", report.Summary())
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// check command
// --------------------------------------------------------------------------

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <nation-id>",
		Short: "Poll one nation immediately and run detection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nationID, err := strconv.Atoi(args[0])
			if err != nil || nationID <= 0 {
				return fmt.Errorf("nation id must be a positive integer")
			}
			return runApp(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				_, driver := buildEngine(cfg, pool)
				obs, err := driver.ForceCheck(ctx, nationID)
				if err != nil {
					if pnw.IsNotFound(err) {
						return fmt.Errorf("nation %d does not exist", nationID)
					}
					return err
				}
				logger.Info("Check complete",
					"nation_id", obs.NationID,
					"espionage_available", obs.EspionageAvailable,
					"beige_turns", obs.BeigeTurns,
					"vacation_turns", obs.VacationTurns,
					"checked_at", obs.CheckedAt.Format(time.RFC3339))
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// resets command
// --------------------------------------------------------------------------

func resetsCmd() *cobra.Command {
	var allianceID, limit int
	cmd := &cobra.Command{
		Use:   "resets",
		Short: "Print known reset times",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				var filter *int
				if allianceID > 0 {
					filter = &allianceID
				}
				rows, err := store.NewResets(pool.Pool).Report(ctx, filter, limit)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Println("No reset times recorded yet.")
					return nil
				}
				for _, row := range rows {
					fmt.Printf("%-8d %-30s %-20s %s conf=%.2f %s\n",
						row.NationID, row.NationName, row.AllianceName,
						row.ResetTime.UTC().Format("15:04 MST"),
						row.Confidence, row.Method)
				}
				fmt.Printf("\n%d nations, hourly distribution (UTC): %v\n",
					len(rows), store.HourlyDistribution(rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&allianceID, "alliance", 0, "Filter by alliance ID")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows")
	return cmd
}

// --------------------------------------------------------------------------
// status command
// --------------------------------------------------------------------------

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print engine counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				tracked, err := store.NewNations(pool.Pool).CountActive(ctx)
				if err != nil {
					return err
				}
				queued, err := store.NewQueue(pool.Pool).Len(ctx)
				if err != nil {
					return err
				}
				resets, err := store.NewResets(pool.Pool).Count(ctx)
				if err != nil {
					return err
				}
				recent, err := store.NewObservations(pool.Pool).CountSince(ctx, time.Now().Add(-24*time.Hour))
				if err != nil {
					return err
				}
				logger.Info("Engine status",
					"tracked", tracked,
					"queued", queued,
					"resets_found", resets,
					"checks_24h", recent)
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// buildEngine wires the collector and a stopped driver over one pool. The
// CLI never starts the driver loop; it only uses ForceCheck.
func buildEngine(cfg *config.Config, pool *db.Pool) (*collector.Collector, *monitor.Driver) {
	client := pnw.NewClient(cfg.PNWBaseURL, cfg.PNWAPIKey, cfg.PNWRequestsPerMinute, cfg.PNWTimeout, logger)
	nations := store.NewNations(pool.Pool)
	observations := store.NewObservations(pool.Pool)
	resets := store.NewResets(pool.Pool)
	queue := store.NewQueue(pool.Pool)

	policy := monitor.Policy{
		BaseInterval: cfg.BaseInterval,
		MinInterval:  cfg.MinInterval,
		TurnLength:   cfg.TurnLength,
		BackoffBase:  cfg.BackoffBase,
		BackoffCap:   cfg.BackoffCap,
		MaxFailures:  cfg.MaxFailures,
	}

	coll := collector.New(collector.Config{
		AllianceIDs:  cfg.AllianceIDs,
		PageSize:     cfg.PageSize,
		Policy:       policy,
		RearmEnabled: cfg.RearmEnabled,
		RearmDelay:   cfg.RearmDelay,
	}, client, nations, observations, resets, queue, logger)

	driver := monitor.New(monitor.Config{
		TickInterval: cfg.TickInterval,
		BatchLimit:   cfg.BatchLimit,
		Workers:      cfg.Workers,
		CheckTimeout: cfg.CheckTimeout,
		Policy:       policy,
		RearmEnabled: cfg.RearmEnabled,
		RearmDelay:   cfg.RearmDelay,
	}, client, nations, observations, resets, queue, logger)

	return coll, driver
}

// runApp handles config loading, DB connection, and context cancellation.
func runApp(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	return fn(ctx, cfg, pool)
}
