package mqtt

import (
	"math"
	"time"
)

// Backoff computes reconnect delays: Initial × Multiplier^min(attempt, MaxExponent),
// truncated to the millisecond and clamped at Max.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxExponent int
}

// DefaultBackoff returns 3s growing by 1.5 per attempt up to 60s.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     3 * time.Second,
		Max:         60 * time.Second,
		Multiplier:  1.5,
		MaxExponent: 10,
	}
}

// Delay returns the wait after the given failed attempt. Attempts count from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	n := min(attempt, b.MaxExponent)
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(n))
	if d >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(d).Truncate(time.Millisecond)
}
