package engine

import (
	"sync/atomic"
	"time"
)

// Clock issues document timestamps.
//
// Stamps are wall-clock epoch milliseconds, but never less than one past the
// last stamp issued or observed, so every persisted write is strictly newer
// than anything this process has seen even if the wall clock steps back.
//
// Clock is safe for concurrent use.
type Clock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewClock creates a clock reading now. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// newClockAt creates a clock that has already issued start.
func newClockAt(start int64, now func() time.Time) *Clock {
	c := NewClock(now)
	c.last.Store(start)
	return c
}

// Next returns a stamp greater than every earlier Next or Observe value.
func (c *Clock) Next() int64 {
	for {
		last := c.last.Load()
		n := max(c.now().UnixMilli(), last+1)
		if c.last.CompareAndSwap(last, n) {
			return n
		}
	}
}

// Observe records a stamp seen on a loaded document.
func (c *Clock) Observe(ts int64) {
	for {
		last := c.last.Load()
		if ts <= last || c.last.CompareAndSwap(last, ts) {
			return
		}
	}
}

// current returns the last stamp issued or observed.
func (c *Clock) current() int64 {
	return c.last.Load()
}
