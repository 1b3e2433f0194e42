package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/identity"
)

func ownerEvent(id string) event {
	return event{kind: eventOwnerChanged, owner: identity.Guest(id)}
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(ownerEvent(id)))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.owner.ID)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok, "queue drained")
}

func TestEventQueue_SignalCoalesces(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(ownerEvent("a"))
	q.Enqueue(ownerEvent("b"))

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestEventQueue_WaitWakesOnEnqueue(t *testing.T) {
	q := newEventQueue()
	woke := make(chan struct{})
	go func() {
		<-q.Wait()
		close(woke)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(ownerEvent("a"))

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(ownerEvent("a"))
	<-q.Wait()
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(ownerEvent("b")), "closed queue rejects events")

	_, ok := <-q.Wait()
	assert.False(t, ok, "wait channel closed")

	e, ok := q.TryDequeue()
	require.True(t, ok, "queued events survive close")
	assert.Equal(t, "a", e.owner.ID)
}

func TestEventQueue_ConcurrentProducers(t *testing.T) {
	q := newEventQueue()
	const producers = 20
	const perProducer = 50

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(ownerEvent("x"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, producers*perProducer, q.Len())
}
