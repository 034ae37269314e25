package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = Key{Account: "acct-1", Conversation: "swarm:abc"}

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(Event{Type: EventTypeRemove, Key: testKey, Identity: "m1"})
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, EventTypeRemove, got.Type)
	assert.Equal(t, "m1", got.Identity)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, id := range []string{"A", "B", "C"} {
		q.Enqueue(Event{Type: EventTypeRemove, Identity: id})
	}

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Identity)
	}
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_Wait_SignalsOnEnqueue(t *testing.T) {
	q := newEventQueue()

	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(Event{Type: EventTypeClear})

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("wait did not fire after enqueue")
	}
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close() // idempotent

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(Event{Type: EventTypeClear}), "enqueue after close should return false")

	select {
	case <-q.Wait():
	default:
		t.Fatal("closed queue should signal forever")
	}
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(Event{Type: EventTypeClear})
	q.Enqueue(Event{Type: EventTypeClear})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()

	const producers = 10
	const eventsPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producerID int) {
			defer wg.Done()
			for i := 0; i < eventsPerProducer; i++ {
				q.Enqueue(Event{Type: EventTypeRemove, Identity: fmt.Sprintf("%d-%d", producerID, i)})
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		e, ok := q.TryDequeue()
		if !ok {
			break
		}
		assert.False(t, seen[e.Identity], "event %s dequeued twice", e.Identity)
		seen[e.Identity] = true
	}
	assert.Len(t, seen, producers*eventsPerProducer)
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "insert", EventTypeInsert.String())
	assert.Equal(t, "load", EventTypeLoad.String())
	assert.Equal(t, "open", eventTypeOpen.String())
	assert.Equal(t, "event(99)", EventType(99).String())
}

func TestParseEventType(t *testing.T) {
	for _, typ := range []EventType{
		EventTypeInsert, EventTypeUpdate, EventTypeRemove, EventTypeClear, EventTypeMode,
		EventTypeVisibility, EventTypeRead, EventTypeComposing, EventTypeContacts,
	} {
		got, err := ParseEventType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}

	// loads carry a token and opens are internal
	for _, name := range []string{"load", "open", "teleport", ""} {
		_, err := ParseEventType(name)
		assert.Error(t, err, name)
	}
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "acct-1/swarm:abc", testKey.String())
}
