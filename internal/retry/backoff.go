// Package retry computes webhook redelivery schedules.
package retry

import (
	"math/rand/v2"
	"time"
)

// Policy is an exponential backoff with bounded jitter.
//
// The delay before attempt n+1 is d = min(Base * 2^(n-1), Max) plus a jitter in [0, d/2),
// clamped to Max. Consecutive delays therefore never shrink and never exceed Max.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	// Jitter returns a value in [0, 1). Nil uses math/rand.
	Jitter func() float64
}

// Delay returns the wait after the given number of failed attempts (1-based).
func (p Policy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	d := p.Base
	for i := 1; i < attempts && d < p.Max; i++ {
		d *= 2
	}

	if d > p.Max {
		d = p.Max
	}

	jitter := p.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}

	d += time.Duration(jitter() * float64(d/2))
	if d > p.Max {
		d = p.Max
	}

	return d
}

// Exhausted reports whether no attempt is left after the given number of attempts.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
