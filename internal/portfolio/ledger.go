// Package portfolio provides the paper-trading ledger and its durable
// snapshot persistence.
package portfolio

import (
	"time"

	"crossbot/internal/errors"
	"crossbot/internal/models"
)

// Fill describes one executed ledger operation.
type Fill struct {
	Side        models.SignalAction
	At          time.Time
	Price       float64
	Units       float64
	FeeUSD      float64
	CostUSD     float64 // buy: cash spent including fee
	ProceedsUSD float64 // sell: cash received net of fee
	PnLNetUSD   float64 // sell only, net of both legs' fees
	PnLGrossUSD float64 // sell only
}

// Ledger owns the paper portfolio state. Buy and Sell apply fee-adjusted
// fills atomically: on failure the state is untouched. The ledger is owned
// by exactly one logical owner at a time (bot session or simulator).
type Ledger struct {
	state models.PortfolioState
}

// NewLedger creates a ledger with the given starting cash and a flat
// position.
func NewLedger(initialCashUSD float64) *Ledger {
	return &Ledger{
		state: models.PortfolioState{
			CashUSD:  initialCashUSD,
			Position: models.PositionFlat,
		},
	}
}

// Restore replaces the ledger state, normalizing an empty position to flat.
// Used when loading a persisted snapshot.
func (l *Ledger) Restore(st models.PortfolioState) {
	if st.Position == "" {
		st.Position = models.PositionFlat
	}
	l.state = st
}

// State returns a copy of the current portfolio state.
func (l *Ledger) State() models.PortfolioState {
	return l.state
}

// Equity returns cash plus the mark-to-market value of held units.
func (l *Ledger) Equity(lastPrice float64) float64 {
	return l.state.Equity(lastPrice)
}

// IsLong reports whether a position is open.
func (l *Ledger) IsLong() bool {
	return l.state.Position == models.PositionLong
}

// SetSkipReason records the reason the last signal was not acted on.
func (l *Ledger) SetSkipReason(reason string) {
	l.state.LastSkipReason = reason
}

// Buy spends up to usdAmount (capped by available cash) at the given
// price, applying feeRate on the notional. Fails with ErrInsufficientCash
// when no affordable units result; the state is not mutated on failure.
func (l *Ledger) Buy(at time.Time, price, usdAmount, feeRate float64) (Fill, error) {
	if price <= 0 {
		return Fill{}, errors.NewLedgerError("buy", "non-positive price", errors.ErrInvalidPrice)
	}

	desiredSpend := usdAmount
	if desiredSpend > l.state.CashUSD {
		desiredSpend = l.state.CashUSD
	}

	unitsAffordable := l.state.CashUSD / (price * (1 + feeRate))
	units := desiredSpend / price
	if units > unitsAffordable {
		units = unitsAffordable
	}
	if units <= 0 {
		return Fill{}, errors.NewLedgerError("buy", "no affordable units", errors.ErrInsufficientCash)
	}

	fee := units * price * feeRate
	cost := units*price + fee

	l.state.CashUSD -= cost
	if l.state.CashUSD < 0 {
		// float rounding on a full-balance spend
		l.state.CashUSD = 0
	}
	l.state.CoinUnits += units
	l.state.Position = models.PositionLong
	l.state.EntryPrice = price
	l.state.FeesPaidUSD += fee
	l.state.LastTradeBarAt = at
	l.state.LastSkipReason = ""

	return Fill{
		Side:    models.SignalBuy,
		At:      at,
		Price:   price,
		Units:   units,
		FeeUSD:  fee,
		CostUSD: cost,
	}, nil
}

// Sell closes the open position at the given price, applying feeRate on
// the notional. Fails with ErrFlatPosition when no units are held; the
// state is not mutated on failure.
func (l *Ledger) Sell(at time.Time, price, feeRate float64) (Fill, error) {
	if price <= 0 {
		return Fill{}, errors.NewLedgerError("sell", "non-positive price", errors.ErrInvalidPrice)
	}
	if l.state.CoinUnits <= 0 {
		return Fill{}, errors.NewLedgerError("sell", "flat position", errors.ErrFlatPosition)
	}

	units := l.state.CoinUnits
	entry := l.state.EntryPrice
	fee := units * price * feeRate
	proceeds := units*price - fee
	pnlNet := (price*(1-feeRate) - entry*(1+feeRate)) * units
	pnlGross := (price - entry) * units

	l.state.CashUSD += proceeds
	l.state.CoinUnits = 0
	l.state.Position = models.PositionFlat
	l.state.EntryPrice = 0
	l.state.RealizedPnLUSD += pnlNet
	l.state.FeesPaidUSD += fee
	l.state.LastTradeBarAt = at
	l.state.LastSkipReason = ""

	return Fill{
		Side:        models.SignalSell,
		At:          at,
		Price:       price,
		Units:       units,
		FeeUSD:      fee,
		ProceedsUSD: proceeds,
		PnLNetUSD:   pnlNet,
		PnLGrossUSD: pnlGross,
	}, nil
}
