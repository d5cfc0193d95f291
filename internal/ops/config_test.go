package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, "symbols:\n  - BTCUSDT\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, cfg.Symbols)
	assert.Equal(t, TrendModeSimulated, cfg.Trend.Mode)
	assert.Equal(t, int64(42), cfg.Trend.Seed)
	assert.Equal(t, 5*time.Minute, cfg.Trend.Aggregator.StalenessWindow)
	assert.InDelta(t, 0.6, cfg.Strategy.DominanceThreshold, 1e-9)
	assert.InDelta(t, 200, cfg.Risk.DailyLossLimit, 1e-9)
	assert.Equal(t, 4, cfg.Execution.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Broadcast.Interval)
	assert.Empty(t, cfg.Persistence.DSN, "memory-only state by default")
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
symbols:
  - BTCUSDT
  - ETHUSDT
trend:
  mode: live
  news:
    url: https://news.example.com/v1/headlines
    poll_interval: 30s
strategy:
  cooldown: 2m
  base_risk_quote: 250
risk:
  daily_loss_limit: 100
  max_positions: 1
execution:
  fill_timeout: 10s
persistence:
  dsn: postgres://trader:pw@localhost:5432/scalper
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Symbols, 2)
	assert.Equal(t, TrendModeLive, cfg.Trend.Mode)
	assert.Equal(t, 30*time.Second, cfg.Trend.News.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Strategy.Cooldown)
	assert.InDelta(t, 250, cfg.Strategy.BaseRiskQuote, 1e-9)
	assert.InDelta(t, 100, cfg.Risk.DailyLossLimit, 1e-9)
	assert.Equal(t, 1, cfg.Risk.MaxPositions)
	assert.Equal(t, 10*time.Second, cfg.Execution.FillTimeout)
	assert.NotEmpty(t, cfg.Persistence.DSN)
}

func TestLoadRejectsInvalidRisk(t *testing.T) {
	path := writeConfig(t, "symbols:\n  - BTCUSDT\nrisk:\n  daily_loss_limit: 0\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownTrendMode(t *testing.T) {
	path := writeConfig(t, "symbols:\n  - BTCUSDT\ntrend:\n  mode: replay\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsLiveModeWithoutNewsURL(t *testing.T) {
	path := writeConfig(t, "symbols:\n  - BTCUSDT\ntrend:\n  mode: live\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
