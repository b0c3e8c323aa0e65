package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbot/internal/errors"
	"crossbot/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testTrade(id int, ts time.Time, signal models.SignalAction, price, units, fee float64) *models.Trade {
	return &models.Trade{
		ID:           fmt.Sprintf("t_%d", id),
		Timestamp:    ts,
		StrategyName: "sma_crossover",
		Symbol:       "BTC-USD",
		Signal:       signal,
		Reason:       models.ReasonFastCrossUp,
		Price:        price,
		Units:        units,
		FeeUSD:       fee,
		MarketRegime: models.RegimeBull,
		Timeframe:    "1h",
	}
}

func TestCandleRoundTripOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of order; retrieval must come back ascending.
	candles := []models.Candle{
		{Timestamp: base.Add(2 * time.Hour), Open: 102, High: 103, Low: 101, Close: 102.5, Volume: 30},
		{Timestamp: base, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10},
		{Timestamp: base.Add(time.Hour), Open: 101, High: 102, Low: 100, Close: 101.5, Volume: 20},
	}
	require.NoError(t, s.SaveCandles(ctx, "BTC-USD", "1h", candles))

	got, err := s.GetCandles(ctx, "BTC-USD", "1h", base, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}
	assert.InDelta(t, 100.5, got[0].Close, 1e-9)
	assert.InDelta(t, 10.0, got[0].Volume, 1e-9)
}

func TestSaveCandlesUpsertsOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	first := []models.Candle{{Timestamp: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}}
	require.NoError(t, s.SaveCandles(ctx, "BTC-USD", "1h", first))

	// Same (symbol, timeframe, timestamp) replaces the row.
	second := []models.Candle{{Timestamp: ts, Open: 100, High: 105, Low: 99, Close: 104, Volume: 50}}
	require.NoError(t, s.SaveCandles(ctx, "BTC-USD", "1h", second))

	got, err := s.GetCandles(ctx, "BTC-USD", "1h", ts.Add(-time.Minute), ts.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 104.0, got[0].Close, 1e-9)
}

func TestTradeRecordAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordTrade(ctx, testTrade(1, base, models.SignalBuy, 100, 5, 0.5)))
	require.NoError(t, s.RecordTrade(ctx, testTrade(2, base.Add(time.Hour), models.SignalSell, 110, 5, 0.55)))

	other := testTrade(3, base, models.SignalBuy, 200, 1, 0.2)
	other.Symbol = "ETH-USD"
	require.NoError(t, s.RecordTrade(ctx, other))

	got, err := s.GetTrades(ctx, TradeFilter{Symbol: "BTC-USD"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.SignalBuy, got[0].Signal)
	assert.Equal(t, models.SignalSell, got[1].Signal)
	assert.Equal(t, models.RegimeBull, got[0].MarketRegime)

	limited, err := s.GetTrades(ctx, TradeFilter{Symbol: "BTC-USD", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDuplicateTradeIDRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	require.NoError(t, s.RecordTrade(ctx, testTrade(1, ts, models.SignalBuy, 100, 5, 0.5)))
	err := s.RecordTrade(ctx, testTrade(1, ts, models.SignalBuy, 100, 5, 0.5))
	require.Error(t, err, "trade rows are insert-only and keyed by id")

	var serr *errors.StoreError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "trades", serr.Table)
}

func TestCalculatePerformanceReplaysPairs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Winning pair: buy 100, sell 110, 1 unit, no fees -> +10.
	require.NoError(t, s.RecordTrade(ctx, testTrade(1, base, models.SignalBuy, 100, 1, 0)))
	require.NoError(t, s.RecordTrade(ctx, testTrade(2, base.Add(1*time.Hour), models.SignalSell, 110, 1, 0)))
	// Losing pair: buy 100, sell 90 -> -10.
	require.NoError(t, s.RecordTrade(ctx, testTrade(3, base.Add(2*time.Hour), models.SignalBuy, 100, 1, 0)))
	require.NoError(t, s.RecordTrade(ctx, testTrade(4, base.Add(3*time.Hour), models.SignalSell, 90, 1, 0)))
	// Dangling buy: ignored until a sell closes it.
	require.NoError(t, s.RecordTrade(ctx, testTrade(5, base.Add(4*time.Hour), models.SignalBuy, 95, 1, 0)))

	m, err := s.CalculatePerformance(ctx, "sma_crossover", "BTC-USD", "1h",
		base.Add(-time.Hour), base.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 2, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 0.0, m.TotalPnLUSD, 1e-9)
	assert.InDelta(t, 1.0, m.ProfitFactor, 1e-9)
	// Cumulative PnL peaks at +10 then falls to 0.
	assert.InDelta(t, 10.0, m.MaxDrawdown, 1e-9)
	assert.Equal(t, 5, m.RegimeDistribution[models.RegimeBull])
}

func TestCalculatePerformanceAccountsFees(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordTrade(ctx, testTrade(1, base, models.SignalBuy, 100, 2, 0.2)))
	require.NoError(t, s.RecordTrade(ctx, testTrade(2, base.Add(time.Hour), models.SignalSell, 105, 2, 0.21)))

	m, err := s.CalculatePerformance(ctx, "sma_crossover", "BTC-USD", "1h",
		base.Add(-time.Hour), base.Add(24*time.Hour))
	require.NoError(t, err)

	// (105-100)*2 - 0.21 - 0.2
	assert.InDelta(t, 9.59, m.TotalPnLUSD, 1e-9)
	assert.Equal(t, 1, m.TotalTrades)
	assert.Zero(t, m.SharpeRatio, "fewer than two pairs yields zero sharpe")
}

func TestPerformanceUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.PerformanceMetrics{
		StrategyName: "sma_crossover",
		Symbol:       "BTC-USD",
		Timeframe:    "1h",
		TotalTrades:  3,
		TotalPnLUSD:  25,
		RegimeDistribution: map[models.Regime]int{
			models.RegimeBull: 3,
		},
	}
	require.NoError(t, s.SavePerformance(ctx, first))

	second := *first
	second.TotalTrades = 5
	second.TotalPnLUSD = 40
	require.NoError(t, s.SavePerformance(ctx, &second))

	got, err := s.GetPerformance(ctx, "sma_crossover", "BTC-USD", "1h")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, 5, got.TotalTrades, "same key updates in place")
	assert.InDelta(t, 40.0, got.TotalPnLUSD, 1e-9)
	assert.Equal(t, 3, got.RegimeDistribution[models.RegimeBull])
}

func TestGetPerformanceRejectsCorruptDistribution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &models.PerformanceMetrics{
		StrategyName: "sma_crossover",
		Symbol:       "BTC-USD",
		Timeframe:    "1h",
		TotalTrades:  1,
		RegimeDistribution: map[models.Regime]int{
			models.RegimeBull: 1,
		},
	}
	require.NoError(t, s.SavePerformance(ctx, m))

	_, err := s.db.ExecContext(ctx, `UPDATE performance SET regime_distribution = 'not-json'`)
	require.NoError(t, err)

	got, err := s.GetPerformance(ctx, "sma_crossover", "BTC-USD", "1h")
	require.Error(t, err, "a corrupt blob must not read back as an empty distribution")
	assert.Nil(t, got)

	var serr *errors.StoreError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "performance", serr.Table)
}

func TestGetPerformanceMissingRow(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetPerformance(context.Background(), "nope", "BTC-USD", "1h")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRegimeRecordsAndAnalysis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		m := models.RegimeMetrics{
			Regime:        models.RegimeBull,
			Confidence:    0.8,
			TrendStrength: 0.05,
			Volatility:    0.01,
			Timestamp:     base.Add(time.Duration(i) * time.Hour),
		}
		if i >= 2 {
			m.Regime = models.RegimeSideways
			m.Confidence = 0.4
		}
		require.NoError(t, s.RecordMarketRegime(ctx, "BTC-USD", m))
	}

	stats, err := s.RegimeAnalysis(ctx, "BTC-USD", base.Add(-time.Hour), base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 2)

	dist, err := s.RegimeDistribution(ctx, "BTC-USD", base.Add(-time.Hour), base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, dist[models.RegimeBull])
	assert.Equal(t, 2, dist[models.RegimeSideways])

	for _, st := range stats {
		switch st.Regime {
		case models.RegimeBull:
			assert.Equal(t, 2, st.Count)
			assert.InDelta(t, 0.8, st.AvgConfidence, 1e-9)
		case models.RegimeSideways:
			assert.Equal(t, 2, st.Count)
			assert.InDelta(t, 0.4, st.AvgConfidence, 1e-9)
		}
	}
}
