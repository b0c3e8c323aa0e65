// Package models provides domain models for the paper trading bot.
package models

import (
	"time"
)

// SignalAction represents the action produced by the decision engine.
type SignalAction string

const (
	SignalNone SignalAction = "none"
	SignalBuy  SignalAction = "buy"
	SignalSell SignalAction = "sell"
)

// Signal reasons recorded alongside executed trades.
const (
	ReasonFastCrossUp   = "fast_cross_up"
	ReasonFastCrossDown = "fast_cross_down"
	ReasonSignalFlip    = "signal_flip"
	ReasonEndOfBacktest = "end_of_backtest"
)

// PositionState represents whether the portfolio holds the instrument.
type PositionState string

const (
	PositionFlat PositionState = "flat"
	PositionLong PositionState = "long"
)

// Regime is a qualitative label for the prevailing market condition.
type Regime string

const (
	RegimeBull     Regime = "bull"
	RegimeBear     Regime = "bear"
	RegimeSideways Regime = "sideways"
	RegimeVolatile Regime = "volatile"
	RegimeUnknown  Regime = "unknown"
)

// Candle represents OHLCV data for a time period. The most recent candle
// in a live-fetched window may still be forming and must be dropped before
// indicator computation.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// PortfolioState is the paper portfolio ledger state. Mutated only by the
// ledger's Buy/Sell operations.
type PortfolioState struct {
	CashUSD        float64       `json:"cash_usd"`
	CoinUnits      float64       `json:"coin_units"`
	Position       PositionState `json:"position"`
	EntryPrice     float64       `json:"entry_price"`
	RealizedPnLUSD float64       `json:"realized_pnl_usd"`
	FeesPaidUSD    float64       `json:"fees_paid_usd"`
	LastTradeBarAt time.Time     `json:"last_trade_bar_at"`
	LastSkipReason string        `json:"last_skip_reason,omitempty"`
}

// Equity returns cash plus the mark-to-market value of held units.
func (s PortfolioState) Equity(lastPrice float64) float64 {
	return s.CashUSD + s.CoinUnits*lastPrice
}

// RegimeMetrics is the output of one regime classification call.
type RegimeMetrics struct {
	Regime        Regime
	Confidence    float64 // [0, 1]
	TrendStrength float64 // [-1, 1]
	Volatility    float64 // [0, 1]
	VolumeTrend   float64 // [-1, 1]
	Momentum      float64 // [-1, 1]
	Timestamp     time.Time
	Indicators    RegimeIndicators
}

// RegimeIndicators holds the raw indicator values behind a classification.
type RegimeIndicators struct {
	EMA20 float64
	EMA50 float64
	RSI14 float64
	ATR14 float64
	Close float64
}

// Trade is an immutable log entry of an executed buy or sell, including
// the regime context at execution time.
type Trade struct {
	ID               string
	Timestamp        time.Time
	StrategyName     string
	Symbol           string
	Signal           SignalAction
	Reason           string
	Price            float64
	Units            float64
	FeeUSD           float64
	PnLUSD           float64
	MarketRegime     Regime
	RegimeConfidence float64
	RegimeTrend      float64
	RegimeVolatility float64
	Volume           float64
	Timeframe        string
}

// PerformanceMetrics is the aggregated record for one
// (strategy, symbol, timeframe) key.
type PerformanceMetrics struct {
	StrategyName       string
	Symbol             string
	Timeframe          string
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalPnLUSD        float64
	AvgPnLUSD          float64
	ProfitFactor       float64
	MaxDrawdown        float64
	SharpeRatio        float64
	RegimeDistribution map[Regime]int
	UpdatedAt          time.Time
}
