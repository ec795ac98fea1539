// Package budget tracks the wall-clock budget of one work item.
package budget

import (
	"time"
)

// Budget is a stopwatch with a ceiling. The zero Max means unlimited.
// A Budget is read concurrently by the limiter and by every retry session of
// the work item it belongs to; it is immutable after Start.
type Budget struct {
	started time.Time
	max     time.Duration
	now     func() time.Time
}

// Start begins measuring a budget of max.
func Start(max time.Duration) *Budget {
	return &Budget{started: time.Now(), max: max, now: time.Now}
}

// Unlimited returns a budget that never runs out.
func Unlimited() *Budget {
	return Start(0)
}

// Elapsed returns the time spent since Start.
func (b *Budget) Elapsed() time.Duration {
	if b == nil {
		return 0
	}
	return b.now().Sub(b.started)
}

// Max returns the configured ceiling.
func (b *Budget) Max() time.Duration {
	if b == nil {
		return 0
	}
	return b.max
}

// Remaining returns the time left, or -1 for an unlimited budget.
func (b *Budget) Remaining() time.Duration {
	if b == nil || b.max <= 0 {
		return -1
	}
	left := b.max - b.Elapsed()
	if left < 0 {
		return 0
	}
	return left
}

// Exceeded reports whether the elapsed time is past the ceiling.
func (b *Budget) Exceeded() bool {
	if b == nil || b.max <= 0 {
		return false
	}
	return b.Elapsed() > b.max
}
