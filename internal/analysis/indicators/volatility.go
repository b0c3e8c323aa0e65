package indicators

import (
	"crossbot/internal/models"
)

// ATRSeries calculates a tail-aligned Average True Range series using
// Wilder smoothing. Requires at least period+1 candles; the first output
// value corresponds to candles[period].
func ATRSeries(candles []models.Candle, period int) []float64 {
	if period <= 0 || len(candles) < period+1 {
		return nil
	}

	n := len(candles)
	tr := make([]float64, n)
	tr[0] = candles[0].High - candles[0].Low
	for i := 1; i < n; i++ {
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	result := make([]float64, n-period)
	result[0] = mean(tr[1 : period+1])
	for i := period + 1; i < n; i++ {
		result[i-period] = (result[i-period-1]*float64(period-1) + tr[i]) / float64(period)
	}

	return result
}
