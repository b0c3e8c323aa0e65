// Package signal implements the moving-average crossover decision engine.
//
// Decide is a pure function over two tail-aligned indicator series plus
// guard parameters. It classifies the indicator relationship only; it does
// not track position. Callers must not act on a buy while already long, or
// on a sell while flat, and must honor the returned cooldown flag.
package signal

import (
	"math"
	"time"

	"crossbot/internal/models"
)

// GuardConfig holds the crossover guard parameters.
type GuardConfig struct {
	ConfirmBars  int     // consecutive closed bars that must agree
	ThresholdPct float64 // minimum fast/slow separation relative to price
	MinHoldBars  int     // minimum bars between trades
}

// DecisionInput is the full input to one decision call.
type DecisionInput struct {
	Fast        []float64 // tail-aligned fast MA series over closed bars
	Slow        []float64 // tail-aligned slow MA series over closed bars
	LastPrice   float64
	Guards      GuardConfig
	LastTradeAt time.Time // zero if no trade has ever executed
	CurrentBar  time.Time
	Timeframe   time.Duration
}

// Decision is the output of one decision call.
type Decision struct {
	Action         models.SignalAction
	Reason         string
	CooldownOK     bool
	Separation     float64
	BarsSinceTrade int64
}

const (
	// sepEpsilon guards the separation denominator against a zero price.
	sepEpsilon = 1e-9

	// firstTradeSentinel is reported as BarsSinceTrade when no trade has
	// ever executed, so the cooldown guard always passes.
	firstTradeSentinel = int64(math.MaxInt32)
)

// Decide evaluates the crossover state of the two series. It is
// deterministic: identical inputs always yield identical output.
func Decide(in DecisionInput) Decision {
	k := len(in.Fast)
	if len(in.Slow) < k {
		k = len(in.Slow)
	}
	if k == 0 {
		return Decision{Action: models.SignalNone}
	}

	confirm := in.Guards.ConfirmBars
	if confirm < 1 {
		confirm = 1
	}
	if confirm > k {
		confirm = k
	}

	// Strict comparison on every confirm bar; ties never pass.
	buyConfirmed, sellConfirmed := true, true
	for i := 1; i <= confirm; i++ {
		f := in.Fast[len(in.Fast)-i]
		s := in.Slow[len(in.Slow)-i]
		if f <= s {
			buyConfirmed = false
		}
		if f >= s {
			sellConfirmed = false
		}
	}

	sep := math.Abs(in.Fast[len(in.Fast)-1]-in.Slow[len(in.Slow)-1]) /
		math.Max(in.LastPrice, sepEpsilon)
	thresholdOK := sep >= in.Guards.ThresholdPct

	barsSince := firstTradeSentinel
	if !in.LastTradeAt.IsZero() && in.Timeframe > 0 {
		barsSince = int64(in.CurrentBar.Sub(in.LastTradeAt) / in.Timeframe)
	}
	cooldownOK := barsSince >= int64(in.Guards.MinHoldBars)

	dec := Decision{
		Action:         models.SignalNone,
		CooldownOK:     cooldownOK,
		Separation:     sep,
		BarsSinceTrade: barsSince,
	}

	switch {
	case buyConfirmed && thresholdOK:
		dec.Action = models.SignalBuy
		dec.Reason = models.ReasonFastCrossUp
	case sellConfirmed && thresholdOK:
		dec.Action = models.SignalSell
		dec.Reason = models.ReasonFastCrossDown
	}

	return dec
}
