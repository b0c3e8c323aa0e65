package portfolio

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbot/internal/errors"
	"crossbot/internal/models"
)

var testBarAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Property: Cash and units never go negative, regardless of the buy/sell
// sequence, prices, or fee rates applied.
func TestProperty_LedgerBalancesNeverNegative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("balances stay non-negative across random sequences", prop.ForAll(
		func(initialCash float64, prices []float64, tradeUSD, feeRate float64) bool {
			ledger := NewLedger(initialCash)
			for i, price := range prices {
				if i%2 == 0 {
					ledger.Buy(testBarAt, price, tradeUSD, feeRate)
				} else {
					ledger.Sell(testBarAt, price, feeRate)
				}
				st := ledger.State()
				if st.CashUSD < 0 || st.CoinUnits < 0 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 100000),
		gen.SliceOf(gen.Float64Range(0.01, 100000)),
		gen.Float64Range(0, 1000000),
		gen.Float64Range(0, 0.1),
	))

	properties.Property("position label always matches held units", prop.ForAll(
		func(initialCash, price, tradeUSD float64) bool {
			ledger := NewLedger(initialCash)
			if _, err := ledger.Buy(testBarAt, price, tradeUSD, 0.001); err != nil {
				return ledger.State().Position == models.PositionFlat
			}
			if ledger.State().Position != models.PositionLong {
				return false
			}
			if _, err := ledger.Sell(testBarAt, price, 0.001); err != nil {
				return false
			}
			return ledger.State().Position == models.PositionFlat
		},
		gen.Float64Range(100, 100000),
		gen.Float64Range(0.01, 100000),
		gen.Float64Range(1, 10000),
	))

	properties.TestingRun(t)
}

// Property: A zero-fee round trip realizes exactly (sellPrice-buyPrice)*units,
// and total equity change equals realized PnL.
func TestProperty_RoundTripPnL(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("zero-fee round trip PnL is price delta times units", prop.ForAll(
		func(buyPrice, sellPrice, tradeUSD float64) bool {
			ledger := NewLedger(100000)
			buyFill, err := ledger.Buy(testBarAt, buyPrice, tradeUSD, 0)
			if err != nil {
				return true // nothing affordable, nothing to check
			}
			sellFill, err := ledger.Sell(testBarAt, sellPrice, 0)
			if err != nil {
				return false
			}
			want := (sellPrice - buyPrice) * buyFill.Units
			tol := 1e-9 * (math.Abs(want) + 1)
			if math.Abs(sellFill.PnLNetUSD-want) > tol {
				return false
			}
			return math.Abs(ledger.State().CashUSD-(100000+want)) <= tol
		},
		gen.Float64Range(0.01, 100000),
		gen.Float64Range(0.01, 100000),
		gen.Float64Range(1, 50000),
	))

	properties.Property("fees only ever reduce net PnL", prop.ForAll(
		func(buyPrice, sellPrice, feeRate float64) bool {
			ledger := NewLedger(100000)
			if _, err := ledger.Buy(testBarAt, buyPrice, 1000, feeRate); err != nil {
				return true
			}
			fill, err := ledger.Sell(testBarAt, sellPrice, feeRate)
			if err != nil {
				return false
			}
			return fill.PnLNetUSD <= fill.PnLGrossUSD+1e-9
		},
		gen.Float64Range(0.01, 100000),
		gen.Float64Range(0.01, 100000),
		gen.Float64Range(0, 0.05),
	))

	properties.TestingRun(t)
}

func TestBuyAppliesFeeOnNotional(t *testing.T) {
	ledger := NewLedger(10000)

	fill, err := ledger.Buy(testBarAt, 100, 500, 0.001)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, fill.Units, 1e-9)
	assert.InDelta(t, 0.5, fill.FeeUSD, 1e-9)
	assert.InDelta(t, 500.5, fill.CostUSD, 1e-9)

	st := ledger.State()
	assert.InDelta(t, 9499.5, st.CashUSD, 1e-9)
	assert.Equal(t, models.PositionLong, st.Position)
	assert.InDelta(t, 100.0, st.EntryPrice, 1e-9)
	assert.Equal(t, testBarAt, st.LastTradeBarAt)
}

// A small order against a large price: the fee is charged on the filled
// notional, on top of the requested spend. $100 at $50,000 buys exactly
// 0.002 units; the $0.10 fee comes out of cash, not out of the units.
func TestBuySmallOrderExactAccounting(t *testing.T) {
	ledger := NewLedger(1000)

	fill, err := ledger.Buy(testBarAt, 50000, 100, 0.001)
	require.NoError(t, err)

	assert.InDelta(t, 0.002, fill.Units, 1e-12)
	assert.InDelta(t, 0.1, fill.FeeUSD, 1e-12)
	assert.InDelta(t, 100.1, fill.CostUSD, 1e-12)

	st := ledger.State()
	assert.InDelta(t, 899.9, st.CashUSD, 1e-9)
	assert.InDelta(t, 0.002, st.CoinUnits, 1e-12)
	assert.InDelta(t, 0.1, st.FeesPaidUSD, 1e-12)
}

func TestBuyCapsAtAvailableCash(t *testing.T) {
	ledger := NewLedger(100)

	fill, err := ledger.Buy(testBarAt, 50, 500, 0.01)
	require.NoError(t, err)

	// Spend is capped so that units*price*(1+fee) never exceeds cash.
	assert.LessOrEqual(t, fill.CostUSD, 100.0+1e-9)
	assert.GreaterOrEqual(t, ledger.State().CashUSD, 0.0)
}

func TestBuyWithNoCashFails(t *testing.T) {
	ledger := NewLedger(0)
	before := ledger.State()

	_, err := ledger.Buy(testBarAt, 100, 500, 0.001)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientCash))
	assert.Equal(t, before, ledger.State(), "failed buy must not mutate state")
}

func TestSellWhileFlatFails(t *testing.T) {
	ledger := NewLedger(1000)
	before := ledger.State()

	_, err := ledger.Sell(testBarAt, 100, 0.001)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFlatPosition))
	assert.Equal(t, before, ledger.State())
}

func TestSellRealizesNetPnL(t *testing.T) {
	ledger := NewLedger(10000)
	buyFill, err := ledger.Buy(testBarAt, 100, 1000, 0.001)
	require.NoError(t, err)

	sellAt := testBarAt.Add(6 * time.Hour)
	sellFill, err := ledger.Sell(sellAt, 110, 0.001)
	require.NoError(t, err)

	// pnl = (P2*(1-f) - P1*(1+f)) * units
	want := (110*0.999 - 100*1.001) * buyFill.Units
	assert.InDelta(t, want, sellFill.PnLNetUSD, 1e-9)

	st := ledger.State()
	assert.Equal(t, models.PositionFlat, st.Position)
	assert.Zero(t, st.CoinUnits)
	assert.Zero(t, st.EntryPrice)
	assert.InDelta(t, want, st.RealizedPnLUSD, 1e-9)
	assert.Equal(t, sellAt, st.LastTradeBarAt)
}

func TestInvalidPriceRejected(t *testing.T) {
	ledger := NewLedger(1000)

	_, err := ledger.Buy(testBarAt, 0, 100, 0.001)
	assert.True(t, errors.Is(err, errors.ErrInvalidPrice))

	_, err = ledger.Sell(testBarAt, -5, 0.001)
	assert.True(t, errors.Is(err, errors.ErrInvalidPrice))
}

func TestSkipReasonClearedByFill(t *testing.T) {
	ledger := NewLedger(10000)
	ledger.SetSkipReason("cooldown: 2 < 4 bars since last trade")
	assert.NotEmpty(t, ledger.State().LastSkipReason)

	_, err := ledger.Buy(testBarAt, 100, 500, 0.001)
	require.NoError(t, err)
	assert.Empty(t, ledger.State().LastSkipReason)
}
