package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/treesync/internal/testutil"
)

func TestClock_FollowsWallClock(t *testing.T) {
	wall := testutil.NewWallClock(time.Time{})
	c := NewClock(wall.Now)

	assert.Equal(t, int64(0), c.current(), "new clock has issued nothing")
	assert.Equal(t, testutil.Epoch.UnixMilli(), c.Next())

	wall.Advance(time.Second)
	assert.Equal(t, testutil.Epoch.UnixMilli()+1000, c.Next())
}

func TestClock_NeverRepeatsWithinAMillisecond(t *testing.T) {
	wall := testutil.NewWallClock(time.Time{})
	c := NewClock(wall.Now)

	a, b, d := c.Next(), c.Next(), c.Next()
	assert.Less(t, a, b)
	assert.Less(t, b, d)
}

func TestClock_WallClockSteppingBack(t *testing.T) {
	wall := testutil.NewWallClock(time.Time{})
	c := NewClock(wall.Now)

	first := c.Next()
	wall.Advance(-time.Hour)
	assert.Equal(t, first+1, c.Next(), "stamps stay monotonic")
}

func TestClock_StartsAt(t *testing.T) {
	wall := testutil.NewWallClock(time.Time{})
	far := testutil.Epoch.UnixMilli() + 1_000_000
	c := newClockAt(far, wall.Now)

	assert.Equal(t, far, c.current())
	assert.Equal(t, far+1, c.Next())
}

func TestClock_Observe(t *testing.T) {
	wall := testutil.NewWallClock(time.Time{})
	c := NewClock(wall.Now)

	remote := testutil.Epoch.UnixMilli() + 5000
	c.Observe(remote)
	assert.Equal(t, remote, c.current())
	assert.Equal(t, remote+1, c.Next(), "issued stamps outrank observed ones")

	c.Observe(1)
	assert.Equal(t, remote+1, c.current(), "older observations are ignored")
}

func TestClock_NilNowUsesSystemTime(t *testing.T) {
	c := NewClock(nil)
	before := time.Now().UnixMilli()
	assert.GreaterOrEqual(t, c.Next(), before)
}

func TestClock_ThreadSafe(t *testing.T) {
	wall := testutil.NewWallClock(time.Time{})
	c := NewClock(wall.Now)
	const goroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	stamps := make(chan int64, goroutines*callsPerGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				stamps <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(stamps)

	seen := make(map[int64]bool)
	for s := range stamps {
		assert.False(t, seen[s], "stamp %d issued twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
}
