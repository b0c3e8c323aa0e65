// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"crossbot/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Bot      BotConfig      `mapstructure:"bot"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Regime   RegimeConfig   `mapstructure:"regime"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BotConfig holds live-loop and portfolio configuration.
type BotConfig struct {
	Symbol          string  `mapstructure:"symbol"`
	Timeframe       string  `mapstructure:"timeframe"` // "1m", "5m", "1h", "1d"
	PollIntervalSec int     `mapstructure:"poll_interval_sec"`
	InitialCashUSD  float64 `mapstructure:"initial_cash_usd"`
	TradeUSD        float64 `mapstructure:"trade_usd"`
	MinTradeUSD     float64 `mapstructure:"min_trade_usd"`
	FeeRate         float64 `mapstructure:"fee_rate"`
	SnapshotPath    string  `mapstructure:"snapshot_path"`
	TradeLogPath    string  `mapstructure:"trade_log_path"`
}

// StrategyConfig holds crossover strategy and guard parameters.
type StrategyConfig struct {
	Name         string  `mapstructure:"name"`
	FastPeriod   int     `mapstructure:"fast_period"`
	SlowPeriod   int     `mapstructure:"slow_period"`
	ConfirmBars  int     `mapstructure:"confirm_bars"`
	ThresholdPct float64 `mapstructure:"threshold_pct"`
	MinHoldBars  int     `mapstructure:"min_hold_bars"`
}

// RegimeConfig holds regime classifier thresholds.
type RegimeConfig struct {
	LookbackPeriods     int     `mapstructure:"lookback_periods"`
	VolatilityThreshold float64 `mapstructure:"volatility_threshold"`
	TrendThreshold      float64 `mapstructure:"trend_threshold"`
	VolumeThreshold     float64 `mapstructure:"volume_threshold"`
	MomentumThreshold   float64 `mapstructure:"momentum_threshold"`
	HistoryCap          int     `mapstructure:"history_cap"`
}

// BacktestConfig holds simulator parameters.
type BacktestConfig struct {
	WarmupBars     int     `mapstructure:"warmup_bars"`
	WindowBars     int     `mapstructure:"window_bars"`
	SlippageRate   float64 `mapstructure:"slippage_rate"`
	CommissionRate float64 `mapstructure:"commission_rate"`
}

// StoreConfig holds performance store configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/crossbot"
	}
	return filepath.Join(home, ".config", "crossbot")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config file is not an error; defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("bot.symbol", "BTC-USD")
	v.SetDefault("bot.timeframe", "1h")
	v.SetDefault("bot.poll_interval_sec", 60)
	v.SetDefault("bot.initial_cash_usd", 10000.0)
	v.SetDefault("bot.trade_usd", 500.0)
	v.SetDefault("bot.min_trade_usd", 10.0)
	v.SetDefault("bot.fee_rate", 0.001)
	v.SetDefault("bot.snapshot_path", filepath.Join(configDir, "state.json"))
	v.SetDefault("bot.trade_log_path", filepath.Join(configDir, "trades.json"))

	v.SetDefault("strategy.name", "sma_crossover")
	v.SetDefault("strategy.fast_period", 10)
	v.SetDefault("strategy.slow_period", 20)
	v.SetDefault("strategy.confirm_bars", 3)
	v.SetDefault("strategy.threshold_pct", 0.001)
	v.SetDefault("strategy.min_hold_bars", 4)

	v.SetDefault("regime.lookback_periods", 50)
	v.SetDefault("regime.volatility_threshold", 0.03)
	v.SetDefault("regime.trend_threshold", 0.02)
	v.SetDefault("regime.volume_threshold", 0.5)
	v.SetDefault("regime.momentum_threshold", 0.01)
	v.SetDefault("regime.history_cap", 1000)

	v.SetDefault("backtest.warmup_bars", 50)
	v.SetDefault("backtest.window_bars", 100)
	v.SetDefault("backtest.slippage_rate", 0.001)
	v.SetDefault("backtest.commission_rate", 0.001)

	v.SetDefault("store.path", filepath.Join(configDir, "crossbot.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "crossbot.log"))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CROSSBOT_SYMBOL"); v != "" {
		cfg.Bot.Symbol = v
	}
	if v := os.Getenv("CROSSBOT_TIMEFRAME"); v != "" {
		cfg.Bot.Timeframe = v
	}
	if v := os.Getenv("CROSSBOT_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CROSSBOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CROSSBOT_INITIAL_CASH_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Bot.InitialCashUSD = f
		}
	}
	if v := os.Getenv("CROSSBOT_TRADE_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Bot.TradeUSD = f
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Strategy.FastPeriod <= 0 || c.Strategy.SlowPeriod <= 0 {
		return fmt.Errorf("%w: strategy periods must be positive", errors.ErrInvalidPeriod)
	}
	if c.Strategy.FastPeriod >= c.Strategy.SlowPeriod {
		return fmt.Errorf("%w: fast_period (%d) must be less than slow_period (%d)",
			errors.ErrInvalidPeriod, c.Strategy.FastPeriod, c.Strategy.SlowPeriod)
	}
	if c.Strategy.ConfirmBars <= 0 {
		return fmt.Errorf("confirm_bars must be positive")
	}
	if c.Strategy.ThresholdPct < 0 {
		return fmt.Errorf("threshold_pct must be non-negative")
	}
	if c.Strategy.MinHoldBars < 0 {
		return fmt.Errorf("min_hold_bars must be non-negative")
	}
	if c.Bot.FeeRate < 0 || c.Bot.FeeRate >= 1 {
		return fmt.Errorf("fee_rate must be in [0, 1)")
	}
	if c.Backtest.SlippageRate < 0 || c.Backtest.SlippageRate >= 1 {
		return fmt.Errorf("slippage_rate must be in [0, 1)")
	}
	if c.Backtest.CommissionRate < 0 || c.Backtest.CommissionRate >= 1 {
		return fmt.Errorf("commission_rate must be in [0, 1)")
	}
	if c.Bot.InitialCashUSD < 0 {
		return fmt.Errorf("initial_cash_usd must be non-negative")
	}
	if c.Bot.TradeUSD <= 0 {
		return fmt.Errorf("trade_usd must be positive")
	}
	if c.Regime.LookbackPeriods <= 0 {
		return fmt.Errorf("lookback_periods must be positive")
	}
	if _, err := c.TimeframeDuration(); err != nil {
		return err
	}
	return nil
}

// TimeframeDuration parses the configured bar timeframe into a duration.
func (c *Config) TimeframeDuration() (time.Duration, error) {
	return ParseTimeframe(c.Bot.Timeframe)
}

// ParseTimeframe converts a timeframe label into a bar duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	switch tf {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown timeframe: %s", tf)
	}
}
