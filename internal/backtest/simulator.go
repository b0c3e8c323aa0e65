// Package backtest replays the crossover rule set over historical bars
// and aggregates performance statistics.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"crossbot/internal/analysis/indicators"
	"crossbot/internal/errors"
	"crossbot/internal/models"
	"crossbot/internal/portfolio"
	"crossbot/internal/regime"
	"crossbot/internal/signal"
)

// Recorder is the slice of the performance store the simulator writes to.
// A nil Recorder disables persistence; the regime distribution is then
// aggregated in memory.
type Recorder interface {
	RecordTrade(ctx context.Context, t *models.Trade) error
	RecordMarketRegime(ctx context.Context, symbol string, m models.RegimeMetrics) error
	RegimeDistribution(ctx context.Context, symbol string, start, end time.Time) (map[models.Regime]int, error)
}

// Config holds simulator parameters.
type Config struct {
	StrategyName   string
	Symbol         string
	Timeframe      string
	BarDuration    time.Duration
	FastPeriod     int
	SlowPeriod     int
	ConfirmBars    int
	ThresholdPct   float64
	MinHoldBars    int
	WarmupBars     int
	WindowBars     int
	InitialCashUSD float64
	TradeUSD       float64
	SlippageRate   float64
	CommissionRate float64
}

// DefaultConfig returns the default simulator parameters.
func DefaultConfig() Config {
	return Config{
		StrategyName:   "sma_crossover",
		Symbol:         "BTC-USD",
		Timeframe:      "1h",
		BarDuration:    time.Hour,
		FastPeriod:     10,
		SlowPeriod:     20,
		ConfirmBars:    3,
		ThresholdPct:   0.001,
		MinHoldBars:    4,
		WarmupBars:     50,
		WindowBars:     100,
		InitialCashUSD: 10000,
		TradeUSD:       500,
		SlippageRate:   0.001,
		CommissionRate: 0.001,
	}
}

// ClosedTrade is one completed round trip of the simulation.
type ClosedTrade struct {
	EntryTime   time.Time
	ExitTime    time.Time
	EntryPrice  float64
	ExitPrice   float64
	Units       float64
	PnLUSD      float64
	PnLPct      float64
	Reason      string
	EntryRegime models.Regime
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// Result holds the outcome of one simulation run.
type Result struct {
	Trades             []ClosedTrade
	EquityCurve        []EquityPoint
	DrawdownCurve      []float64
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalPnLUSD        float64
	MaxDrawdown        float64 // fraction of peak equity
	SharpeRatio        float64
	ProfitFactor       float64
	FinalEquity        float64
	RegimeDistribution map[models.Regime]int
}

// Simulator drives the classifier, decision engine, and ledger bar by bar.
type Simulator struct {
	cfg        Config
	classifier *regime.Classifier
	recorder   Recorder
	logger     zerolog.Logger
}

// NewSimulator creates a simulator. recorder may be nil.
func NewSimulator(cfg Config, classifier *regime.Classifier, recorder Recorder, logger zerolog.Logger) *Simulator {
	return &Simulator{
		cfg:        cfg,
		classifier: classifier,
		recorder:   recorder,
		logger:     logger.With().Str("component", "backtest").Logger(),
	}
}

// Run replays the rule set over the ordered bars. Bars are processed
// strictly sequentially; every store call completes (or fails the run)
// before the next bar.
func (s *Simulator) Run(ctx context.Context, bars []models.Candle) (*Result, error) {
	if len(bars) == 0 {
		return nil, errors.Wrap(errors.ErrInsufficientData, "no bars to simulate")
	}

	ledger := portfolio.NewLedger(s.cfg.InitialCashUSD)
	guards := signal.GuardConfig{
		ConfirmBars:  s.cfg.ConfirmBars,
		ThresholdPct: s.cfg.ThresholdPct,
		MinHoldBars:  s.cfg.MinHoldBars,
	}

	result := &Result{
		RegimeDistribution: make(map[models.Regime]int),
	}

	var (
		peak        = s.cfg.InitialCashUSD
		entryTime   time.Time
		entryPrice  float64
		entryRegime models.Regime
		tradeSeq    int
	)

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if i >= s.cfg.WarmupBars {
			winStart := i - s.cfg.WindowBars + 1
			if winStart < 0 {
				winStart = 0
			}
			rm := s.classifier.Detect(bars[winStart : i+1])
			result.RegimeDistribution[rm.Regime]++

			closes := indicators.ClosePrices(bars[: i+1 : i+1])
			dec := signal.Decide(signal.DecisionInput{
				Fast:        indicators.SMASeries(closes, s.cfg.FastPeriod),
				Slow:        indicators.SMASeries(closes, s.cfg.SlowPeriod),
				LastPrice:   bar.Close,
				Guards:      guards,
				LastTradeAt: ledger.State().LastTradeBarAt,
				CurrentBar:  bar.Timestamp,
				Timeframe:   s.cfg.BarDuration,
			})

			switch {
			case dec.Action == models.SignalBuy && !ledger.IsLong():
				if !dec.CooldownOK {
					s.logger.Debug().Int64("bars_since", dec.BarsSinceTrade).
						Int("min_hold", s.cfg.MinHoldBars).Msg("Buy skipped: cooldown")
					break
				}
				entryPx := bar.Close * (1 + s.cfg.SlippageRate)
				fill, err := ledger.Buy(bar.Timestamp, entryPx, s.cfg.TradeUSD, s.cfg.CommissionRate)
				if err != nil {
					s.logger.Debug().Err(err).Msg("Buy skipped")
					break
				}
				entryTime = bar.Timestamp
				entryPrice = entryPx
				entryRegime = rm.Regime
				tradeSeq++
				if err := s.record(ctx, tradeSeq, bar, fill, dec.Reason, rm); err != nil {
					return nil, err
				}

			case dec.Action == models.SignalSell && ledger.IsLong():
				if !dec.CooldownOK {
					s.logger.Debug().Int64("bars_since", dec.BarsSinceTrade).
						Int("min_hold", s.cfg.MinHoldBars).Msg("Sell skipped: cooldown")
					break
				}
				exitPx := bar.Close * (1 - s.cfg.SlippageRate)
				fill, err := ledger.Sell(bar.Timestamp, exitPx, s.cfg.CommissionRate)
				if err != nil {
					s.logger.Debug().Err(err).Msg("Sell skipped")
					break
				}
				result.Trades = append(result.Trades, ClosedTrade{
					EntryTime:   entryTime,
					ExitTime:    bar.Timestamp,
					EntryPrice:  entryPrice,
					ExitPrice:   exitPx,
					Units:       fill.Units,
					PnLUSD:      fill.PnLNetUSD,
					PnLPct:      (exitPx - entryPrice) / entryPrice,
					Reason:      dec.Reason,
					EntryRegime: entryRegime,
				})
				tradeSeq++
				if err := s.record(ctx, tradeSeq, bar, fill, dec.Reason, rm); err != nil {
					return nil, err
				}
			}
		}

		equity := ledger.Equity(bar.Close)
		if equity > peak {
			peak = equity
		}
		var dd float64
		if peak > 0 {
			dd = (peak - equity) / peak
		}
		result.EquityCurve = append(result.EquityCurve, EquityPoint{Timestamp: bar.Timestamp, Equity: equity})
		result.DrawdownCurve = append(result.DrawdownCurve, dd)
		if dd > result.MaxDrawdown {
			result.MaxDrawdown = dd
		}
	}

	// Force-close an open position at the final bar.
	if ledger.IsLong() {
		last := bars[len(bars)-1]
		exitPx := last.Close * (1 - s.cfg.SlippageRate)
		fill, err := ledger.Sell(last.Timestamp, exitPx, s.cfg.CommissionRate)
		if err == nil {
			result.Trades = append(result.Trades, ClosedTrade{
				EntryTime:   entryTime,
				ExitTime:    last.Timestamp,
				EntryPrice:  entryPrice,
				ExitPrice:   exitPx,
				Units:       fill.Units,
				PnLUSD:      fill.PnLNetUSD,
				PnLPct:      (exitPx - entryPrice) / entryPrice,
				Reason:      models.ReasonEndOfBacktest,
				EntryRegime: entryRegime,
			})
			tradeSeq++
			lastMetrics := models.RegimeMetrics{Regime: models.RegimeUnknown, Timestamp: last.Timestamp}
			if h := s.classifier.History(); len(h) > 0 {
				lastMetrics = h[len(h)-1]
			}
			if err := s.record(ctx, tradeSeq, last, fill, models.ReasonEndOfBacktest, lastMetrics); err != nil {
				return nil, err
			}
			result.EquityCurve[len(result.EquityCurve)-1].Equity = ledger.Equity(last.Close)
		}
	}

	s.aggregate(ctx, result, bars)
	result.FinalEquity = ledger.Equity(bars[len(bars)-1].Close)

	s.logger.Info().
		Int("bars", len(bars)).
		Int("trades", result.TotalTrades).
		Float64("win_rate", result.WinRate).
		Float64("max_drawdown", result.MaxDrawdown).
		Float64("final_equity", result.FinalEquity).
		Msg("Backtest complete")

	return result, nil
}

// record persists one executed leg plus its regime context. Store errors
// fail the run; nothing is half-recorded for a bar.
func (s *Simulator) record(ctx context.Context, seq int, bar models.Candle, fill portfolio.Fill, reason string, rm models.RegimeMetrics) error {
	if s.recorder == nil {
		return nil
	}

	trade := &models.Trade{
		ID:               fmt.Sprintf("bt_%d_%d", bar.Timestamp.Unix(), seq),
		Timestamp:        bar.Timestamp,
		StrategyName:     s.cfg.StrategyName,
		Symbol:           s.cfg.Symbol,
		Signal:           fill.Side,
		Reason:           reason,
		Price:            fill.Price,
		Units:            fill.Units,
		FeeUSD:           fill.FeeUSD,
		PnLUSD:           fill.PnLNetUSD,
		MarketRegime:     rm.Regime,
		RegimeConfidence: rm.Confidence,
		RegimeTrend:      rm.TrendStrength,
		RegimeVolatility: rm.Volatility,
		Volume:           bar.Volume,
		Timeframe:        s.cfg.Timeframe,
	}
	if err := s.recorder.RecordTrade(ctx, trade); err != nil {
		return errors.Wrap(err, "recording trade")
	}
	if err := s.recorder.RecordMarketRegime(ctx, s.cfg.Symbol, rm); err != nil {
		return errors.Wrap(err, "recording regime")
	}
	return nil
}

// aggregate fills the summary statistics from the closed trades.
func (s *Simulator) aggregate(ctx context.Context, result *Result, bars []models.Candle) {
	result.TotalTrades = len(result.Trades)

	var grossWins, grossLosses float64
	returns := make([]float64, 0, len(result.Trades))
	for _, t := range result.Trades {
		result.TotalPnLUSD += t.PnLUSD
		if t.PnLUSD > 0 {
			result.WinningTrades++
			grossWins += t.PnLUSD
		} else {
			result.LosingTrades++
			grossLosses += -t.PnLUSD
		}
		returns = append(returns, t.PnLPct)
	}

	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades)
	}
	if grossLosses > 0 {
		result.ProfitFactor = grossWins / grossLosses
	}
	result.SharpeRatio = sharpeRatio(returns)

	// Prefer the store's distribution when persistence is wired; the
	// in-memory counts cover the recorder-less case.
	if s.recorder != nil {
		dist, err := s.recorder.RegimeDistribution(ctx, s.cfg.Symbol, bars[0].Timestamp, bars[len(bars)-1].Timestamp)
		if err == nil && len(dist) > 0 {
			result.RegimeDistribution = dist
		}
	}
}

// sharpeRatio returns mean/stdev of the trade returns, 0 with fewer than
// two trades or zero variance.
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var total float64
	for _, r := range returns {
		total += r
	}
	avg := total / float64(len(returns))

	var variance float64
	for _, r := range returns {
		diff := r - avg
		variance += diff * diff
	}
	variance /= float64(len(returns))
	if variance == 0 {
		return 0
	}
	return avg / math.Sqrt(variance)
}
