package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/spywatch_test")
	t.Setenv("PNW_API_KEY", "test-key")
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PNW_API_KEY", "test-key")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/spywatch_test")
	t.Setenv("PNW_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PNW_API_KEY")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.APIPort)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())

	assert.Nil(t, cfg.AllianceIDs)
	assert.Equal(t, time.Minute, cfg.TickInterval)
	assert.Equal(t, 50, cfg.BatchLimit)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 2*time.Hour, cfg.BaseInterval)
	assert.Equal(t, 15*time.Minute, cfg.MinInterval)
	assert.Equal(t, 2*time.Hour, cfg.TurnLength)
	assert.Equal(t, 30*time.Minute, cfg.BackoffBase)
	assert.Equal(t, 12*time.Hour, cfg.BackoffCap)
	assert.Equal(t, 5, cfg.MaxFailures)
	assert.True(t, cfg.RearmEnabled)
	assert.Equal(t, 24*time.Hour, cfg.RearmDelay)
	assert.True(t, cfg.AutostartMonitor)
	assert.Equal(t, 500, cfg.PageSize)
	assert.Equal(t, 60, cfg.PNWRequestsPerMinute)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLIANCE_IDS", "1234, 5678")
	t.Setenv("MONITOR_TICK_INTERVAL", "30s")
	t.Setenv("MONITOR_BASE_INTERVAL", "1h")
	t.Setenv("MONITOR_REARM_ENABLED", "false")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []int{1234, 5678}, cfg.AllianceIDs)
	assert.Equal(t, 30*time.Second, cfg.TickInterval)
	assert.Equal(t, time.Hour, cfg.BaseInterval)
	assert.False(t, cfg.RearmEnabled)
	assert.True(t, cfg.IsProduction())
}

func TestEnvHelpersIgnoreGarbage(t *testing.T) {
	setRequired(t)
	t.Setenv("MONITOR_WORKERS", "lots")
	t.Setenv("MONITOR_TICK_INTERVAL", "soon")
	t.Setenv("ALLIANCE_IDS", "abc,,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, time.Minute, cfg.TickInterval)
	assert.Nil(t, cfg.AllianceIDs)
}
