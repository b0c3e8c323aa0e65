// Package regime classifies the prevailing market condition over a bounded
// window of closed bars.
package regime

import (
	"time"

	"crossbot/internal/analysis/indicators"
	"crossbot/internal/models"
)

// Config holds classifier thresholds.
type Config struct {
	LookbackPeriods     int
	VolatilityThreshold float64
	TrendThreshold      float64
	VolumeThreshold     float64
	MomentumThreshold   float64
	HistoryCap          int
}

// DefaultConfig returns the default classifier thresholds.
func DefaultConfig() Config {
	return Config{
		LookbackPeriods:     50,
		VolatilityThreshold: 0.03,
		TrendThreshold:      0.02,
		VolumeThreshold:     0.5,
		MomentumThreshold:   0.01,
		HistoryCap:          1000,
	}
}

// Stats holds classifier counters.
type Stats struct {
	TotalDetections int
	RegimeChanges   int
	LastRegime      models.Regime
}

// Classifier labels market regimes and keeps a bounded rolling history of
// its results. It is owned by exactly one goroutine at a time (the bot
// session or the simulator); no internal locking is performed.
type Classifier struct {
	cfg     Config
	history []models.RegimeMetrics
	stats   Stats
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(cfg Config) *Classifier {
	if cfg.LookbackPeriods <= 0 {
		cfg.LookbackPeriods = DefaultConfig().LookbackPeriods
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultConfig().HistoryCap
	}
	return &Classifier{
		cfg:   cfg,
		stats: Stats{LastRegime: models.RegimeUnknown},
	}
}

// Detect classifies the regime over the given window of closed bars.
// Windows shorter than the configured lookback yield RegimeUnknown with
// zero confidence; that is a normal result, not an error.
func (c *Classifier) Detect(window []models.Candle) models.RegimeMetrics {
	m := c.classify(window)
	c.record(m)
	return m
}

func (c *Classifier) classify(window []models.Candle) models.RegimeMetrics {
	ts := time.Now()
	if len(window) > 0 {
		ts = window[len(window)-1].Timestamp
	}

	if len(window) < c.cfg.LookbackPeriods {
		return models.RegimeMetrics{Regime: models.RegimeUnknown, Timestamp: ts}
	}

	closes := indicators.ClosePrices(window)
	vols := indicators.Volumes(window)

	ema20 := indicators.EMASeries(closes, 20)
	ema50 := indicators.EMASeries(closes, 50)
	rsi14 := indicators.RSISeries(closes, 14)
	atr14 := indicators.ATRSeries(window, 14)
	if len(ema20) == 0 || len(ema50) == 0 || len(rsi14) == 0 || len(atr14) == 0 {
		return models.RegimeMetrics{Regime: models.RegimeUnknown, Timestamp: ts}
	}

	lastClose := closes[len(closes)-1]
	ind := models.RegimeIndicators{
		EMA20: indicators.Last(ema20),
		EMA50: indicators.Last(ema50),
		RSI14: indicators.Last(rsi14),
		ATR14: indicators.Last(atr14),
		Close: lastClose,
	}

	trend := indicators.Clip((ind.EMA20-ind.EMA50)/lastClose, -1, 1)
	volatility := indicators.Clip(ind.ATR14/lastClose, 0, 1)
	volumeTrend := halvesChange(vols, 20)
	momentum := halvesChange(closes, 10)

	m := models.RegimeMetrics{
		Regime:        c.label(trend, volatility, volumeTrend, momentum, ind.RSI14),
		Confidence:    c.confidence(trend, volatility, volumeTrend, momentum),
		TrendStrength: trend,
		Volatility:    volatility,
		VolumeTrend:   volumeTrend,
		Momentum:      momentum,
		Timestamp:     ts,
		Indicators:    ind,
	}
	return m
}

// label applies the classification rules in priority order; the first
// matching rule wins.
func (c *Classifier) label(trend, volatility, volumeTrend, momentum, rsi float64) models.Regime {
	if volatility > c.cfg.VolatilityThreshold {
		return models.RegimeVolatile
	}

	if abs(trend) > c.cfg.TrendThreshold && volumeTrend > c.cfg.VolumeThreshold {
		if trend > 0 {
			return models.RegimeBull
		}
		return models.RegimeBear
	}

	if abs(trend) < 0.5*c.cfg.TrendThreshold && volatility < 0.5*c.cfg.VolatilityThreshold {
		return models.RegimeSideways
	}

	if abs(momentum) > c.cfg.MomentumThreshold {
		if momentum > 0 && rsi < 70 {
			return models.RegimeBull
		}
		if momentum < 0 && rsi > 30 {
			return models.RegimeBear
		}
	}

	return models.RegimeSideways
}

// confidence averages four component ratios, each clamped to [0, 1].
func (c *Classifier) confidence(trend, volatility, volumeTrend, momentum float64) float64 {
	components := []float64{
		indicators.Clip(abs(trend)/c.cfg.TrendThreshold, 0, 1),
		indicators.Clip(abs(volumeTrend), 0, 1),
		indicators.Clip(abs(momentum)/c.cfg.MomentumThreshold, 0, 1),
		indicators.Clip(1-volatility/c.cfg.VolatilityThreshold, 0, 1),
	}
	var total float64
	for _, v := range components {
		total += v
	}
	return total / float64(len(components))
}

func (c *Classifier) record(m models.RegimeMetrics) {
	c.history = append(c.history, m)
	if len(c.history) > c.cfg.HistoryCap {
		c.history = c.history[len(c.history)-c.cfg.HistoryCap:]
	}

	c.stats.TotalDetections++
	if m.Regime != c.stats.LastRegime {
		c.stats.RegimeChanges++
		c.stats.LastRegime = m.Regime
	}
}

// History returns a copy of the rolling classification history.
func (c *Classifier) History() []models.RegimeMetrics {
	out := make([]models.RegimeMetrics, len(c.history))
	copy(out, c.history)
	return out
}

// Stats returns the classifier counters.
func (c *Classifier) Stats() Stats {
	return c.stats
}

// halvesChange splits the trailing span values into two halves and returns
// the relative change of the recent half's mean over the prior half's,
// clipped to [-1, 1]. A zero prior mean yields 0.
func halvesChange(values []float64, span int) float64 {
	if span < 2 || len(values) < span {
		return 0
	}
	tail := values[len(values)-span:]
	half := span / 2
	prior := mean(tail[:half])
	recent := mean(tail[half:])
	if prior == 0 {
		return 0
	}
	return indicators.Clip((recent-prior)/prior, -1, 1)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
