package scheduler

import (
	"time"
)

// Fixed hands out tick boundaries spaced Interval apart from a fixed anchor.
// Boundaries never depend on how long a tick took, so latency does not
// accumulate into drift; boundaries already in the past are skipped.
type Fixed struct {
	interval time.Duration
	anchor   time.Time
	nowFn    func() time.Time
}

func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{interval: interval, nowFn: time.Now}
}

func (f *Fixed) Interval() time.Duration { return f.interval }

// Anchor pins the first boundary at the current time and returns it.
func (f *Fixed) Anchor() time.Time {
	f.anchor = f.nowFn().UTC()
	return f.anchor
}

// Next returns the first boundary strictly after now.
func (f *Fixed) Next() time.Time {
	now := f.nowFn().UTC()
	if f.anchor.IsZero() {
		f.anchor = now
	}
	return nextFixedTimeAfter(f.anchor, f.interval, now)
}

// Until returns how long to sleep before target; never negative.
func (f *Fixed) Until(target time.Time) time.Duration {
	wait := target.Sub(f.nowFn().UTC())
	if wait < 0 {
		return 0
	}
	return wait
}

func nextFixedTimeAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	anchor = anchor.UTC()
	now = now.UTC()
	if interval <= 0 {
		return now
	}
	delta := now.Sub(anchor)
	if delta < 0 {
		return anchor
	}
	k := delta / interval
	return anchor.Add((k + 1) * interval)
}
