package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbot/internal/models"
)

func TestSliceFeedRangeFilter(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, 10)
	for i := range candles {
		candles[i] = models.Candle{Timestamp: base.Add(time.Duration(i) * time.Hour), Close: float64(i)}
	}
	f := NewSliceFeed(candles)

	got, err := f.Candles(context.Background(), "BTC-USD", "1h", base.Add(2*time.Hour), base.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 2.0, got[0].Close)
	assert.Equal(t, 5.0, got[len(got)-1].Close)
}

func TestSliceFeedZeroBoundsReturnAll(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := []models.Candle{
		{Timestamp: base, Close: 1},
		{Timestamp: base.Add(time.Hour), Close: 2},
	}
	f := NewSliceFeed(candles)

	got, err := f.Candles(context.Background(), "BTC-USD", "1h", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
