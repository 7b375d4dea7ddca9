package tfutils

import (
	"errors"
	"time"
)

// ParseTimeframe parses timeframe string (e.g., "5m", "1h") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d := GetTimeframeDuration(timeframe)
	if d == 0 {
		return 0, errors.New("unsupported timeframe")
	}
	return d, nil
}

// GetTimeframeDuration returns the duration for a given timeframe
func GetTimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}

// GetSupportedTimeframes returns all supported timeframes
func GetSupportedTimeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"}
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	return GetTimeframeDuration(timeframe) > 0
}

// IntervalStarts returns the UTC starts of the d-aligned intervals that
// overlap [start, end), in ascending order.
func IntervalStarts(start, end time.Time, d time.Duration) []time.Time {
	if d <= 0 || !start.Before(end) {
		return nil
	}

	first := start.UTC().Truncate(d)
	n := int(end.Sub(first) / d)
	if end.Sub(first)%d != 0 {
		n++
	}

	starts := make([]time.Time, 0, n)
	for s := first; s.Before(end); s = s.Add(d) {
		starts = append(starts, s)
	}
	return starts
}

// NextBoundary returns the first d-aligned instant strictly after t.
func NextBoundary(t time.Time, d time.Duration) time.Time {
	return t.UTC().Truncate(d).Add(d)
}

// StartOfDay returns midnight UTC of t's UTC date.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
