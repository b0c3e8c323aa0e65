// Package bot wires the feed, classifier, decision engine, ledger, and
// store into the live paper-trading loop.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crossbot/internal/analysis/indicators"
	"crossbot/internal/config"
	"crossbot/internal/errors"
	"crossbot/internal/feed"
	"crossbot/internal/logging"
	"crossbot/internal/models"
	"crossbot/internal/portfolio"
	"crossbot/internal/regime"
	"crossbot/internal/signal"
	"crossbot/pkg/utils"
)

// Recorder is the slice of the performance store the session writes to.
// A nil Recorder disables store persistence.
type Recorder interface {
	RecordTrade(ctx context.Context, t *models.Trade) error
	RecordMarketRegime(ctx context.Context, symbol string, m models.RegimeMetrics) error
}

// Session runs the evaluation cycle for one symbol. It owns the ledger
// and the classifier; they are never shared across goroutines.
type Session struct {
	cfg        *config.Config
	barDur     time.Duration
	guards     signal.GuardConfig
	ledger     *portfolio.Ledger
	classifier *regime.Classifier
	feed       feed.Feed
	recorder   Recorder
	logger     zerolog.Logger

	tradeLog []portfolio.TradeLogEntry
	tradeSeq int
}

// NewSession creates a session, restoring portfolio state from the
// snapshot file when one exists.
func NewSession(cfg *config.Config, f feed.Feed, rec Recorder, logger zerolog.Logger) (*Session, error) {
	barDur, err := cfg.TimeframeDuration()
	if err != nil {
		return nil, err
	}

	guards := signal.GuardConfig{
		ConfirmBars:  cfg.Strategy.ConfirmBars,
		ThresholdPct: cfg.Strategy.ThresholdPct,
		MinHoldBars:  cfg.Strategy.MinHoldBars,
	}

	defaults := portfolio.Snapshot{
		State: models.PortfolioState{
			CashUSD:  cfg.Bot.InitialCashUSD,
			Position: models.PositionFlat,
		},
		Guards: guards,
	}
	snap, err := portfolio.LoadSnapshot(cfg.Bot.SnapshotPath, defaults)
	if err != nil {
		return nil, errors.Wrap(err, "restoring snapshot")
	}

	tradeLog, err := portfolio.LoadTradeLog(cfg.Bot.TradeLogPath)
	if err != nil {
		return nil, errors.Wrap(err, "restoring trade log")
	}

	ledger := portfolio.NewLedger(cfg.Bot.InitialCashUSD)
	ledger.Restore(snap.State)

	classifier := regime.NewClassifier(regime.Config{
		LookbackPeriods:     cfg.Regime.LookbackPeriods,
		VolatilityThreshold: cfg.Regime.VolatilityThreshold,
		TrendThreshold:      cfg.Regime.TrendThreshold,
		VolumeThreshold:     cfg.Regime.VolumeThreshold,
		MomentumThreshold:   cfg.Regime.MomentumThreshold,
		HistoryCap:          cfg.Regime.HistoryCap,
	})

	return &Session{
		cfg:        cfg,
		barDur:     barDur,
		guards:     guards,
		ledger:     ledger,
		classifier: classifier,
		feed:       f,
		recorder:   rec,
		logger:     logging.WithSymbol(logging.WithComponent(logger, "session"), cfg.Bot.Symbol),
		tradeLog:   tradeLog,
		tradeSeq:   len(tradeLog),
	}, nil
}

// State returns a copy of the current portfolio state.
func (s *Session) State() models.PortfolioState {
	return s.ledger.State()
}

// TradeLog returns the in-memory trade log.
func (s *Session) TradeLog() []portfolio.TradeLogEntry {
	return s.tradeLog
}

// Run executes evaluation cycles until the context is cancelled. A failed
// cycle is logged and retried at the next tick; portfolio state survives
// in memory regardless.
func (s *Session) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.Bot.PollIntervalSec) * time.Second
	s.logger.Info().
		Str("timeframe", s.cfg.Bot.Timeframe).
		Dur("poll_interval", interval).
		Float64("equity_usd", s.ledger.State().CashUSD).
		Msg("Session started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.EvaluateCycle(ctx, time.Now().UTC()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Msg("Cycle failed")
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Session stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EvaluateCycle runs one fetch-classify-decide-execute-persist pass as of
// the given wall-clock time.
func (s *Session) EvaluateCycle(ctx context.Context, now time.Time) error {
	started := time.Now()

	bars, err := s.fetchClosedBars(ctx, now)
	if err != nil {
		return errors.Wrapf(err, "fetching %s candles", s.cfg.Bot.Symbol)
	}

	minBars := s.cfg.Strategy.SlowPeriod + s.cfg.Strategy.ConfirmBars
	if len(bars) < minBars {
		s.logger.Debug().
			Int("bars", len(bars)).
			Int("needed", minBars).
			Msg("Insufficient closed bars, holding")
		return nil
	}
	last := bars[len(bars)-1]

	winStart := len(bars) - s.cfg.Backtest.WindowBars
	if winStart < 0 {
		winStart = 0
	}
	rm := s.classifier.Detect(bars[winStart:])
	logging.LogRegime(s.logger, s.cfg.Bot.Symbol, string(rm.Regime), rm.Confidence)

	closes := indicators.ClosePrices(bars)
	dec := signal.Decide(signal.DecisionInput{
		Fast:        indicators.SMASeries(closes, s.cfg.Strategy.FastPeriod),
		Slow:        indicators.SMASeries(closes, s.cfg.Strategy.SlowPeriod),
		LastPrice:   last.Close,
		Guards:      s.guards,
		LastTradeAt: s.ledger.State().LastTradeBarAt,
		CurrentBar:  last.Timestamp,
		Timeframe:   s.barDur,
	})

	if err := s.execute(ctx, dec, last, rm); err != nil {
		return err
	}

	s.persistSnapshot(ctx)
	logging.LogCycle(s.logger, s.cfg.Bot.Symbol, len(bars), s.ledger.Equity(last.Close), time.Since(started))
	return nil
}

// fetchClosedBars pulls the trailing candle window and drops a still
// forming final bar.
func (s *Session) fetchClosedBars(ctx context.Context, now time.Time) ([]models.Candle, error) {
	need := s.cfg.Backtest.WindowBars
	if m := s.cfg.Strategy.SlowPeriod + s.cfg.Strategy.ConfirmBars; m > need {
		need = m
	}
	if m := s.cfg.Regime.LookbackPeriods; m > need {
		need = m
	}
	from := now.Add(-time.Duration(need+2) * s.barDur)

	bars, err := utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() ([]models.Candle, error) {
		return s.feed.Candles(ctx, s.cfg.Bot.Symbol, s.cfg.Bot.Timeframe, from, now)
	})
	if err != nil {
		return nil, err
	}

	if len(bars) > 0 && !utils.IsBarClosed(bars[len(bars)-1].Timestamp, s.barDur, now) {
		bars = bars[:len(bars)-1]
	}
	return bars, nil
}

// execute gates the decision against position state and cooldown, then
// applies the fill through the ledger.
func (s *Session) execute(ctx context.Context, dec signal.Decision, bar models.Candle, rm models.RegimeMetrics) error {
	switch dec.Action {
	case models.SignalBuy:
		if s.ledger.IsLong() {
			s.skip(dec, "already long")
			return nil
		}
		if !dec.CooldownOK {
			s.skip(dec, fmt.Sprintf("cooldown: %d < %d bars since last trade",
				dec.BarsSinceTrade, s.guards.MinHoldBars))
			return nil
		}
		if s.ledger.State().CashUSD < s.cfg.Bot.MinTradeUSD {
			s.skip(dec, fmt.Sprintf("cash below min trade $%.2f", s.cfg.Bot.MinTradeUSD))
			return nil
		}
		fill, err := s.ledger.Buy(bar.Timestamp, bar.Close, s.cfg.Bot.TradeUSD, s.cfg.Bot.FeeRate)
		if err != nil {
			if errors.Is(err, errors.ErrInsufficientCash) {
				s.skip(dec, "insufficient cash")
				return nil
			}
			return err
		}
		return s.afterFill(ctx, fill, dec.Reason, bar, rm)

	case models.SignalSell:
		if !s.ledger.IsLong() {
			s.skip(dec, "flat, nothing to sell")
			return nil
		}
		if !dec.CooldownOK {
			s.skip(dec, fmt.Sprintf("cooldown: %d < %d bars since last trade",
				dec.BarsSinceTrade, s.guards.MinHoldBars))
			return nil
		}
		fill, err := s.ledger.Sell(bar.Timestamp, bar.Close, s.cfg.Bot.FeeRate)
		if err != nil {
			return err
		}
		// A live sell always closes an open long against its entry signal.
		return s.afterFill(ctx, fill, models.ReasonSignalFlip, bar, rm)
	}
	return nil
}

func (s *Session) skip(dec signal.Decision, reason string) {
	s.ledger.SetSkipReason(reason)
	logging.LogSkip(s.logger, s.cfg.Bot.Symbol, string(dec.Action), reason)
}

// afterFill records an executed fill in the trade log and the store.
// Persistence failures are logged, not fatal: the ledger state is already
// committed in memory and will be retried with the next snapshot.
func (s *Session) afterFill(ctx context.Context, fill portfolio.Fill, reason string, bar models.Candle, rm models.RegimeMetrics) error {
	logging.LogTrade(s.logger, s.cfg.Bot.Symbol, string(fill.Side), reason, fill.Units, fill.Price, fill.FeeUSD)

	entry := portfolio.TradeLogEntry{
		Timestamp: fill.At,
		Side:      fill.Side,
		Reason:    reason,
		Price:     fill.Price,
		Units:     fill.Units,
		FeeUSD:    fill.FeeUSD,
		PnLUSD:    fill.PnLNetUSD,
	}
	log, err := portfolio.AppendTradeLog(s.cfg.Bot.TradeLogPath, s.tradeLog, entry)
	s.tradeLog = log
	if err != nil {
		s.logger.Error().Err(err).Msg("Trade log write failed")
	}

	if s.recorder != nil {
		s.tradeSeq++
		trade := &models.Trade{
			ID:               fmt.Sprintf("live_%d_%d", fill.At.Unix(), s.tradeSeq),
			Timestamp:        fill.At,
			StrategyName:     s.cfg.Strategy.Name,
			Symbol:           s.cfg.Bot.Symbol,
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
			Timeframe:        s.cfg.Bot.Timeframe,
		}
		if err := s.recorder.RecordTrade(ctx, trade); err != nil {
			s.logger.Error().Err(err).Msg("Store trade write failed")
		}
		if err := s.recorder.RecordMarketRegime(ctx, s.cfg.Bot.Symbol, rm); err != nil {
			s.logger.Error().Err(err).Msg("Store regime write failed")
		}
	}
	return nil
}

// persistSnapshot writes the current state with retry. On exhausted
// retries the in-memory state is kept and the error is logged.
func (s *Session) persistSnapshot(ctx context.Context) {
	snap := portfolio.Snapshot{State: s.ledger.State(), Guards: s.guards}
	err := utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
		return portfolio.SaveSnapshot(s.cfg.Bot.SnapshotPath, snap)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.cfg.Bot.SnapshotPath).Msg("Snapshot write failed")
	}
}
