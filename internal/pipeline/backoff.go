package pipeline

import (
	"math"
	"time"
)

const maxShift = 62

// Backoff computes the delay before retry number attempt (1-based).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns Base * 2^(attempt-1), capped at Max, with overflow protection.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	} else if shift > maxShift {
		shift = maxShift
	}
	multiplier := int64(1) << shift
	d := time.Duration(math.MaxInt64)
	if int64(b.Base) <= math.MaxInt64/multiplier {
		d = time.Duration(int64(b.Base) * multiplier)
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
