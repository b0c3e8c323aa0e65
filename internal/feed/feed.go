// Package feed provides the candle feed seam between the core and
// whatever supplies market data.
package feed

import (
	"context"
	"time"

	"crossbot/internal/models"
	"crossbot/internal/store"
)

// Feed supplies ordered candles for a symbol and timeframe. The most
// recent candle may still be forming; consumers drop it before indicator
// computation.
type Feed interface {
	Candles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
}

// SQLiteFeed serves candles from the store's candles table.
type SQLiteFeed struct {
	store *store.Store
}

// NewSQLiteFeed creates a feed backed by the given store.
func NewSQLiteFeed(s *store.Store) *SQLiteFeed {
	return &SQLiteFeed{store: s}
}

func (f *SQLiteFeed) Candles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	return f.store.GetCandles(ctx, symbol, timeframe, from, to)
}

// SliceFeed serves candles from an in-memory ordered series. Used in
// tests and for backtests over synthetic data.
type SliceFeed struct {
	candles []models.Candle
}

// NewSliceFeed creates a feed over the given ordered candles.
func NewSliceFeed(candles []models.Candle) *SliceFeed {
	return &SliceFeed{candles: candles}
}

func (f *SliceFeed) Candles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	var out []models.Candle
	for _, c := range f.candles {
		if !from.IsZero() && c.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && c.Timestamp.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

var (
	_ Feed = (*SQLiteFeed)(nil)
	_ Feed = (*SliceFeed)(nil)
)
