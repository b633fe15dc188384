package scheduler

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration parses "1m", "15m", "1h", "4h", "1d", "1w" into time.Duration.
// Returns (0, false) on invalid input.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

var upbitMinuteUnits = map[int]bool{1: true, 3: true, 5: true, 10: true, 15: true, 30: true, 60: true, 240: true}

// ParseCandleUnit converts an interval string into an Upbit minute-candle unit.
func ParseCandleUnit(interval string) (int, bool) {
	d, ok := ParseIntervalDuration(interval)
	if !ok || d%time.Minute != 0 {
		return 0, false
	}
	minutes := int(d / time.Minute)
	if !upbitMinuteUnits[minutes] {
		return 0, false
	}
	return minutes, true
}

// SecondsToDuration converts a positive (possibly fractional) second count.
func SecondsToDuration(seconds float64) (time.Duration, bool) {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, false
	}
	d := time.Duration(seconds * float64(time.Second))
	if d <= 0 {
		return 0, false
	}
	return d, true
}
