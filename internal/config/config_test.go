package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbot/internal/errors"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "BTC-USD", cfg.Bot.Symbol)
	assert.Equal(t, "1h", cfg.Bot.Timeframe)
	assert.Equal(t, 10, cfg.Strategy.FastPeriod)
	assert.Equal(t, 20, cfg.Strategy.SlowPeriod)
	assert.Equal(t, 3, cfg.Strategy.ConfirmBars)
	assert.InDelta(t, 0.001, cfg.Strategy.ThresholdPct, 1e-9)
	assert.Equal(t, 4, cfg.Strategy.MinHoldBars)
	assert.Equal(t, 50, cfg.Regime.LookbackPeriods)
	assert.InDelta(t, 0.03, cfg.Regime.VolatilityThreshold, 1e-9)
	assert.Equal(t, 50, cfg.Backtest.WarmupBars)
	assert.Equal(t, 100, cfg.Backtest.WindowBars)
	assert.InDelta(t, 10000.0, cfg.Bot.InitialCashUSD, 1e-9)
}

func TestLoadReadsTOML(t *testing.T) {
	dir := t.TempDir()
	toml := `
[bot]
symbol = "ETH-USD"
trade_usd = 250.0

[strategy]
fast_period = 5
slow_period = 15
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "ETH-USD", cfg.Bot.Symbol)
	assert.InDelta(t, 250.0, cfg.Bot.TradeUSD, 1e-9)
	assert.Equal(t, 5, cfg.Strategy.FastPeriod)
	assert.Equal(t, 15, cfg.Strategy.SlowPeriod)
	// Unset keys keep their defaults.
	assert.Equal(t, 3, cfg.Strategy.ConfirmBars)
}

func TestLoadRejectsInvalidPeriods(t *testing.T) {
	dir := t.TempDir()
	toml := `
[strategy]
fast_period = 30
slow_period = 20
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fast_period")
	assert.True(t, errors.Is(err, errors.ErrInvalidPeriod))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CROSSBOT_SYMBOL", "SOL-USD")
	t.Setenv("CROSSBOT_INITIAL_CASH_USD", "2500.5")
	t.Setenv("CROSSBOT_LOG_LEVEL", "debug")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "SOL-USD", cfg.Bot.Symbol)
	assert.InDelta(t, 2500.5, cfg.Bot.InitialCashUSD, 1e-9)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateBounds(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Bot.FeeRate = 1.0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Bot.TradeUSD = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Strategy.ConfirmBars = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Bot.Timeframe = "7h"
	assert.Error(t, cfg.Validate())
}

func TestParseTimeframe(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":  time.Minute,
		"5m":  5 * time.Minute,
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
	}
	for tf, want := range cases {
		got, err := ParseTimeframe(tf)
		require.NoError(t, err)
		assert.Equal(t, want, got, tf)
	}

	_, err := ParseTimeframe("2w")
	assert.Error(t, err)
}
