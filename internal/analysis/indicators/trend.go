// Package indicators provides moving-average, momentum, and volatility
// series over closed-bar price data.
//
// All series are tail-aligned: the last element of a series corresponds to
// the last input value, and a series over n values with period p has
// max(0, n-p+1) elements. Insufficient input yields a nil series rather
// than an error; "not enough bars yet" is a normal condition for callers.
package indicators

// SMASeries calculates a tail-aligned Simple Moving Average series.
func SMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	windowSum := sum(values[:period])
	result[0] = windowSum / float64(period)

	for i := period; i < len(values); i++ {
		windowSum += values[i] - values[i-period]
		result[i-period+1] = windowSum / float64(period)
	}

	return result
}

// EMASeries calculates a tail-aligned Exponential Moving Average series.
// The first EMA value is seeded with the SMA of the first period values.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	multiplier := 2.0 / float64(period+1)

	result[0] = mean(values[:period])
	for i := period; i < len(values); i++ {
		prev := result[i-period]
		result[i-period+1] = (values[i]-prev)*multiplier + prev
	}

	return result
}
