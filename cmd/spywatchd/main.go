// Command spywatchd is the spywatch monitoring daemon.
//
// It polls the Politics & War API for espionage availability, records
// observations, infers per-nation daily reset times, and serves the
// control API.
//
// Usage:
//
//	spywatchd
//	API_PORT=8080 ALLIANCE_IDS=1234,5678 spywatchd
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/pwkit/spywatch/internal/api"
	"github.com/pwkit/spywatch/internal/collector"
	"github.com/pwkit/spywatch/internal/config"
	"github.com/pwkit/spywatch/internal/db"
	"github.com/pwkit/spywatch/internal/maintenance"
	"github.com/pwkit/spywatch/internal/monitor"
	"github.com/pwkit/spywatch/internal/pnw"
	"github.com/pwkit/spywatch/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if cfg.Debug {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	if err := pool.EnsureSchema(ctx); err != nil {
		logger.Error("Failed to ensure schema", "error", err)
		os.Exit(1)
	}

	// Game API client and stores
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

	driver := monitor.New(monitor.Config{
		TickInterval: cfg.TickInterval,
		BatchLimit:   cfg.BatchLimit,
		Workers:      cfg.Workers,
		CheckTimeout: cfg.CheckTimeout,
		Policy:       policy,
		RearmEnabled: cfg.RearmEnabled,
		RearmDelay:   cfg.RearmDelay,
	}, client, nations, observations, resets, queue, logger)

	coll := collector.New(collector.Config{
		AllianceIDs:  cfg.AllianceIDs,
		PageSize:     cfg.PageSize,
		Policy:       policy,
		RearmEnabled: cfg.RearmEnabled,
		RearmDelay:   cfg.RearmDelay,
	}, client, nations, observations, resets, queue, logger)

	// Start the monitoring loop
	if cfg.AutostartMonitor {
		if err := driver.Start(); err != nil {
			logger.Error("Failed to start monitor", "error", err)
			os.Exit(1)
		}
		logger.Info("Monitor loop started", "tick", cfg.TickInterval, "workers", cfg.Workers)
	} else {
		logger.Info("Monitor autostart disabled, start via POST /api/v1/monitor/start")
	}

	// Seed the queue on boot, then hand re-collection to maintenance.
	if len(cfg.AllianceIDs) > 0 {
		go func() {
			report, err := coll.Run(ctx, nil)
			if err != nil {
				logger.Warn("Initial collection failed", "error", err)
				return
			}
			logger.Info("Initial collection finished", "summary", report.Summary())
		}()
	} else {
		logger.Warn("No ALLIANCE_IDS configured, scheduled collection is idle")
	}

	// Start maintenance tickers (re-collection, sweep, queue hygiene)
	mcfg := maintenance.DefaultConfig()
	mcfg.CollectionInterval = cfg.CollectionInterval
	mcfg.SweepInterval = cfg.SweepInterval
	go maintenance.Start(ctx, queue, coll, mcfg, logger)

	// Create router
	router := api.NewRouter(driver, coll, resets, pool, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting spywatch API",
			"addr", addr,
			"environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Let the in-flight batch finish before closing the pool.
	driver.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
