package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"crossbot/internal/models"
)

// Property: Every series function is tail-aligned. For n input values and
// period p, the output has exactly max(0, n-p+1) entries, and output[len-1]
// always describes the most recent input.
func TestProperty_SeriesTailAlignment(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("SMA/EMA/RSI output length is max(0, n-p+1)", prop.ForAll(
		func(values []float64, period int) bool {
			want := len(values) - period + 1
			if want < 0 {
				want = 0
			}
			if len(SMASeries(values, period)) != want {
				return false
			}
			if len(EMASeries(values, period)) != want {
				return false
			}
			// RSI needs one extra value for the first delta.
			wantRSI := len(values) - period
			if wantRSI < 0 {
				wantRSI = 0
			}
			return len(RSISeries(values, period)) == wantRSI
		},
		gen.SliceOf(gen.Float64Range(1, 100000)),
		gen.IntRange(1, 60),
	))

	properties.TestingRun(t)
}

// Property: SMA of a constant series equals the constant, and RSI values
// stay inside [0, 100] for any positive price path.
func TestProperty_IndicatorBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("SMA of a constant series is the constant", prop.ForAll(
		func(value float64, n, period int) bool {
			values := make([]float64, n)
			for i := range values {
				values[i] = value
			}
			for _, v := range SMASeries(values, period) {
				if math.Abs(v-value) > 1e-9*math.Abs(value)+1e-9 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0.01, 100000),
		gen.IntRange(1, 200),
		gen.IntRange(1, 60),
	))

	properties.Property("RSI stays within [0, 100]", prop.ForAll(
		func(values []float64) bool {
			for _, v := range RSISeries(values, 14) {
				if v < 0 || v > 100 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(1, 100000)),
	))

	properties.TestingRun(t)
}

func TestSMASeriesKnownValues(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	got := SMASeries(values, 3)

	assert.Equal(t, []float64{2, 3, 4}, got)
}

func TestEMASeriesSeededWithSMA(t *testing.T) {
	values := []float64{2, 2, 2, 10}
	got := EMASeries(values, 3)

	// First output is the SMA of the first period values.
	assert.Len(t, got, 2)
	assert.InDelta(t, 2.0, got[0], 1e-9)
	assert.Greater(t, got[1], got[0])
}

func TestRSIExtremes(t *testing.T) {
	rising := make([]float64, 30)
	falling := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(100 + i)
		falling[i] = float64(200 - i)
	}

	up := RSISeries(rising, 14)
	down := RSISeries(falling, 14)

	assert.InDelta(t, 100, Last(up), 1e-9, "all gains should pin RSI at 100")
	assert.InDelta(t, 0, Last(down), 1e-9, "all losses should pin RSI at 0")
}

func TestATRSeriesNonNegative(t *testing.T) {
	candles := make([]models.Candle, 40)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		price := 100 + 5*math.Sin(float64(i))
		candles[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price + 2,
			Low:       price - 2,
			Close:     price + 1,
			Volume:    1000,
		}
	}

	atr := ATRSeries(candles, 14)
	assert.NotEmpty(t, atr)
	for _, v := range atr {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestSeriesInsufficientData(t *testing.T) {
	assert.Nil(t, SMASeries([]float64{1, 2}, 5))
	assert.Nil(t, EMASeries(nil, 3))
	assert.Nil(t, RSISeries([]float64{1}, 14))
	assert.Nil(t, ATRSeries([]models.Candle{{Close: 1}}, 14))
}
