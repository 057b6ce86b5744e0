package jobqueue

import (
	"time"
)

// Backoff kinds.
const (
	BackoffExponential = "exponential"
	BackoffLinear      = "linear"
	BackoffFixed       = "fixed"
)

// BackoffStrategy computes the delay before retry attempt n (1-based,
// the attempt that just failed).
type BackoffStrategy interface {
	Delay(attempt int) time.Duration
}

type exponentialBackoff struct {
	base time.Duration
	max  time.Duration
}

// Delay doubles per attempt: base, 2*base, 4*base, capped at max.
func (b exponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.max > 0 && delay >= b.max {
			return b.max
		}
	}
	if b.max > 0 && delay > b.max {
		return b.max
	}
	return delay
}

type linearBackoff struct {
	base time.Duration
	max  time.Duration
}

func (b linearBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.base * time.Duration(attempt)
	if b.max > 0 && delay > b.max {
		return b.max
	}
	return delay
}

type fixedBackoff struct {
	base time.Duration
}

func (b fixedBackoff) Delay(int) time.Duration {
	return b.base
}

// NewBackoff builds a strategy by kind. Unknown kinds fall back to
// exponential.
func NewBackoff(kind string, base, max time.Duration) BackoffStrategy {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	switch kind {
	case BackoffLinear:
		return linearBackoff{base: base, max: max}
	case BackoffFixed:
		return fixedBackoff{base: base}
	default:
		return exponentialBackoff{base: base, max: max}
	}
}
