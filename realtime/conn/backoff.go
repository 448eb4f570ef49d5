package conn

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays:
//
//	delay = min(Max, Base*2^min(attempt, ExponentCap) + jitter), jitter in [0, Base)
//
// Because jitter stays below Base, delays never decrease while the exponent
// grows. Once the exponent is capped the delay is only non-decreasing if
// Base*2^ExponentCap >= Max, which holds for the defaults.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	ExponentCap int

	// Jitter returns a value in [0, limit). Nil means uniform random.
	Jitter func(limit time.Duration) time.Duration
}

// DefaultBackoff is 500ms doubling to a 30s ceiling.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        500 * time.Millisecond,
		Max:         30 * time.Second,
		ExponentCap: 6,
	}
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	exp := attempt
	if exp > b.ExponentCap {
		exp = b.ExponentCap
	}
	if exp < 0 {
		exp = 0
	}
	// keep the shift well inside int64
	if exp > 30 {
		exp = 30
	}

	d := b.Base << uint(exp)
	if b.Base > 0 {
		d += b.jitter(b.Base)
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

func (b Backoff) jitter(limit time.Duration) time.Duration {
	if b.Jitter != nil {
		return b.Jitter(limit)
	}
	return time.Duration(rand.Int64N(int64(limit)))
}
