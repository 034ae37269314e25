package engine

import (
	"fmt"
	"sync"

	"github.com/roach88/convlog/internal/history"
	"github.com/roach88/convlog/internal/ir"
)

// EventType distinguishes event kinds.
type EventType int

const (
	EventTypeInsert EventType = iota + 1
	EventTypeUpdate
	EventTypeRemove
	EventTypeClear
	EventTypeMode
	EventTypeVisibility
	EventTypeRead
	EventTypeComposing
	EventTypeContacts
	EventTypeLoad

	// eventTypeOpen persists a newly opened conversation.
	eventTypeOpen
)

// String returns the event type name used in logs.
func (t EventType) String() string {
	switch t {
	case EventTypeInsert:
		return "insert"
	case EventTypeUpdate:
		return "update"
	case EventTypeRemove:
		return "remove"
	case EventTypeClear:
		return "clear"
	case EventTypeMode:
		return "mode"
	case EventTypeVisibility:
		return "visibility"
	case EventTypeRead:
		return "read"
	case EventTypeComposing:
		return "composing"
	case EventTypeContacts:
		return "contacts"
	case EventTypeLoad:
		return "load"
	case eventTypeOpen:
		return "open"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// ParseEventType resolves an event name as written by String. Only the
// types a producer may enqueue are accepted; loads go through Engine.Load.
func ParseEventType(name string) (EventType, error) {
	for t := EventTypeInsert; t < EventTypeLoad; t++ {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", name)
}

// Key identifies a conversation within the engine.
type Key struct {
	Account      string
	Conversation string
}

// String renders the key as account/conversation.
func (k Key) String() string {
	return k.Account + "/" + k.Conversation
}

// Event is one unit of work for the Run loop. Only the fields relevant to
// Type are read.
type Event struct {
	Type EventType
	Key  Key

	Records        []ir.Record        // insert
	Patch          ir.Patch           // update
	Identity       string             // remove
	DeleteEntirely bool               // clear
	Mode           ir.Mode            // mode
	Visible        bool               // visibility
	Contact        string             // composing
	Composing      bool               // composing
	Contacts       []string           // contacts
	Token          *history.LoadToken // load
}

// eventQueue is a thread-safe, unbounded FIFO of events.
//
// Producers enqueue from any goroutine; the Run loop is the only consumer.
// The signal channel (capacity 1) lets the loop wait for work and for
// context cancellation in the same select.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// coalesce: one pending signal is enough to wake the consumer
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]

	// release the slot's record slices for GC
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that fires when events may be available. It is
// closed when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of pending events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events and wakes the consumer.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
