package utils

import "time"

// BarStart truncates t to the start of its bar for the given duration.
func BarStart(t time.Time, bar time.Duration) time.Time {
	return t.Truncate(bar)
}

// IsBarClosed reports whether the bar opening at barOpen has fully closed
// as of now. Crypto markets run continuously, so bar boundaries are the
// only clock that matters.
func IsBarClosed(barOpen time.Time, bar time.Duration, now time.Time) bool {
	return !now.Before(barOpen.Add(bar))
}

// NextBarBoundary returns the first bar boundary strictly after now.
func NextBarBoundary(now time.Time, bar time.Duration) time.Time {
	return BarStart(now, bar).Add(bar)
}
