// Package backoff computes bounded exponential retry delays.
package backoff

import (
	"context"
	"time"
)

// Policy describes how many times an operation is re-attempted and how long
// to wait before each re-attempt: Base * 2^n, capped at Max.
type Policy struct {
	Retries int
	Base    time.Duration
	Max     time.Duration
}

// Delay returns the wait before re-attempt n (0-based).
func (p Policy) Delay(n int) time.Duration {
	base := p.Base
	if base <= 0 {
		return 0
	}
	if n < 0 {
		n = 0
	}
	if n > 30 {
		n = 30
	}
	d := base * time.Duration(1<<n)
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Schedule lists every delay the policy will use.
func (p Policy) Schedule() []time.Duration {
	if p.Retries <= 0 {
		return nil
	}
	out := make([]time.Duration, p.Retries)
	for i := range out {
		out[i] = p.Delay(i)
	}
	return out
}

// Sleep waits for d or until ctx is done; it reports whether the full wait elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
