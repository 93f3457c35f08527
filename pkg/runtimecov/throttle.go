package runtimecov

import (
	"time"

	"go.uber.org/atomic"
)

// DefaultFlushInterval bounds how long a hit may stay in memory only.
const DefaultFlushInterval = 2 * time.Second

// Clock is the time source for flush decisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Throttle hands out at most one flush per interval without taking a lock.
type Throttle struct {
	interval time.Duration
	last     atomic.Int64
}

// NewThrottle returns a Throttle whose first interval starts at start.
func NewThrottle(interval time.Duration, start time.Time) *Throttle {
	t := &Throttle{interval: interval}
	t.last.Store(start.UnixNano())

	return t
}

// Due reports whether a flush should happen at now and, if so, claims the
// interval so concurrent callers see false.
func (t *Throttle) Due(now time.Time) bool {
	last := t.last.Load()
	ts := now.UnixNano()

	if ts-last < int64(t.interval) {
		return false
	}

	return t.last.CompareAndSwap(last, ts)
}

// Reset restarts the interval at now.
func (t *Throttle) Reset(now time.Time) {
	t.last.Store(now.UnixNano())
}
