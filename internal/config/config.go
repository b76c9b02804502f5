// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/spywatchd and cmd/spywatch.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Queue reasons, matching monitor_queue.reason values
// --------------------------------------------------------------------------

const (
	ReasonInitiallyProtected = "initially_protected"
	ReasonBeigeProtection    = "beige_protection"
	ReasonNewNation          = "new_nation_monitoring"
	ReasonPostResetRearm     = "post_reset_rearm"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Control API rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Politics & War API
	PNWAPIKey            string
	PNWBaseURL           string
	PNWRequestsPerMinute int
	PNWTimeout           time.Duration

	// Monitoring
	AllianceIDs      []int
	TickInterval     time.Duration
	BatchLimit       int
	Workers          int
	CheckTimeout     time.Duration
	BaseInterval     time.Duration
	MinInterval      time.Duration
	TurnLength       time.Duration
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	MaxFailures      int
	RearmEnabled     bool
	RearmDelay       time.Duration
	AutostartMonitor bool

	// Collection
	CollectionInterval time.Duration
	SweepInterval      time.Duration
	PageSize           int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	apiKey := envOr("PNW_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("PNW_API_KEY must be set")
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		PNWAPIKey:            apiKey,
		PNWBaseURL:           envOr("PNW_API_URL", "https://api.politicsandwar.com/graphql"),
		PNWRequestsPerMinute: envInt("PNW_REQUESTS_PER_MINUTE", 60),
		PNWTimeout:           envDuration("PNW_TIMEOUT", 30*time.Second),

		AllianceIDs:  envInts("ALLIANCE_IDS", nil),
		TickInterval: envDuration("MONITOR_TICK_INTERVAL", time.Minute),
		BatchLimit:   envInt("MONITOR_BATCH_LIMIT", 50),
		Workers:      envInt("MONITOR_WORKERS", 4),
		CheckTimeout: envDuration("MONITOR_CHECK_TIMEOUT", 45*time.Second),

		// The game advances one turn every two hours; protection counters
		// only move on turn changes, so checking faster than that is waste.
		BaseInterval: envDuration("MONITOR_BASE_INTERVAL", 2*time.Hour),
		MinInterval:  envDuration("MONITOR_MIN_INTERVAL", 15*time.Minute),
		TurnLength:   envDuration("MONITOR_TURN_LENGTH", 2*time.Hour),

		BackoffBase: envDuration("MONITOR_BACKOFF_BASE", 30*time.Minute),
		BackoffCap:  envDuration("MONITOR_BACKOFF_CAP", 12*time.Hour),
		MaxFailures: envInt("MONITOR_MAX_FAILURES", 5),

		RearmEnabled:     envBool("MONITOR_REARM_ENABLED", true),
		RearmDelay:       envDuration("MONITOR_REARM_DELAY", 24*time.Hour),
		AutostartMonitor: envBool("MONITOR_AUTOSTART", true),

		CollectionInterval: envDuration("COLLECTION_INTERVAL", 24*time.Hour),
		SweepInterval:      envDuration("SWEEP_INTERVAL", time.Hour),
		PageSize:           envInt("COLLECTION_PAGE_SIZE", 500),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

func envInts(key string, fallback []int) []int {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]int, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed == "" {
				continue
			}
			n, err := strconv.Atoi(trimmed)
			if err != nil {
				continue
			}
			result = append(result, n)
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
