package models

import (
	"fmt"
	"strconv"
	"time"
)

// Unit durations for the single-letter timeframe suffixes. The month value is
// the 30.4-day average used by exchange kline APIs.
var timeframeUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'M': 2628000 * time.Second,
}

// TimeframeDuration parses a timeframe string such as "15m", "1h" or "1d"
// into a duration. The suffix is case sensitive: "m" is minutes, "M" months.
func TimeframeDuration(timeframe string) (time.Duration, error) {
	if len(timeframe) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}
	unit, ok := timeframeUnits[timeframe[len(timeframe)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid timeframe %q: unknown unit %q", timeframe, timeframe[len(timeframe)-1])
	}
	n, err := strconv.Atoi(timeframe[:len(timeframe)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q: bad multiplier", timeframe)
	}
	return time.Duration(n) * unit, nil
}

// TimeframeMillis returns the timeframe span in milliseconds.
func TimeframeMillis(timeframe string) (int64, error) {
	d, err := TimeframeDuration(timeframe)
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}

// FormatMillis renders a millisecond timestamp as "2006-01-02 15:04:05" UTC,
// the format written to CSV files by the transfer_time action.
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}

// ParseDatetime converts a "2006-01-02 15:04:05" UTC string back into a
// millisecond timestamp.
func ParseDatetime(s string) (int64, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid datetime %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}
