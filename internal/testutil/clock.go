package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a WallClock: 2024-01-01T00:00:00Z.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// WallClock is a manually advanced wall clock for tests.
//
// Pass its Now method wherever a func() time.Time is accepted. Time only
// moves when the test calls Advance or Set, so timestamps derived from it
// are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type WallClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewWallClock creates a clock reading start. A zero start uses Epoch.
func NewWallClock(start time.Time) *WallClock {
	if start.IsZero() {
		start = Epoch
	}
	return &WallClock{now: start}
}

// Now returns the current reading.
func (c *WallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *WallClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t, which may be in the past.
func (c *WallClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// SetMillis moves the clock to the given epoch milliseconds.
func (c *WallClock) SetMillis(ms int64) {
	c.Set(time.UnixMilli(ms).UTC())
}
