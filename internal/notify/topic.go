// Package notify provides the in-process broadcast primitive behind every
// conversation stream.
//
// A Topic fans values out to subscriber channels without ever blocking the
// publisher. Two delivery modes exist:
//
//   - events: each value is delivered once; a subscriber whose buffer is
//     full misses the value and the drop is counted
//   - replay-latest: a new subscriber immediately receives the most recent
//     value, and a slow subscriber only ever holds the newest value
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity used when a topic
// is created with a non-positive buffer.
const DefaultBuffer = 64

// Topic is a typed broadcast channel. The zero value is not usable; use
// NewEventTopic or NewReplayTopic.
type Topic[T any] struct {
	mu        sync.Mutex
	name      string
	replay    bool
	buffer    int
	latest    T
	hasLatest bool
	subs      map[uint64]*Subscription[T]
	nextID    uint64
	closed    bool
	dropped   atomic.Int64
	logger    *slog.Logger
}

// NewEventTopic creates a topic that delivers each value once.
func NewEventTopic[T any](name string, buffer int) *Topic[T] {
	return newTopic[T](name, buffer, false)
}

// NewReplayTopic creates a topic that replays its latest value to new
// subscribers.
func NewReplayTopic[T any](name string, buffer int) *Topic[T] {
	return newTopic[T](name, buffer, true)
}

func newTopic[T any](name string, buffer int, replay bool) *Topic[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Topic[T]{
		name:   name,
		replay: replay,
		buffer: buffer,
		subs:   make(map[uint64]*Subscription[T]),
		logger: slog.Default(),
	}
}

// SetLogger replaces the logger used to report dropped values.
func (t *Topic[T]) SetLogger(l *slog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger = l
}

// Name returns the topic name.
func (t *Topic[T]) Name() string {
	return t.name
}

// Publish delivers v to every subscriber. Never blocks.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if t.replay {
		t.latest = v
		t.hasLatest = true
	}

	for _, sub := range t.subs {
		if t.replay {
			sub.offerLatest(v)
			continue
		}
		select {
		case sub.ch <- v:
		default:
			t.dropped.Add(1)
			t.logger.Warn("subscriber buffer full, dropping value",
				"topic", t.name,
				"subscription", sub.id)
		}
	}
}

// Latest returns the most recent value of a replay topic.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.hasLatest
}

// Subscribe registers a new subscriber. On a replay topic the latest value,
// if any, is already waiting on the returned channel.
//
// Subscribing to a closed topic returns a subscription whose channel is
// already closed.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	sub := &Subscription[T]{
		id:    t.nextID,
		ch:    make(chan T, t.buffer),
		topic: t,
	}
	sub.C = sub.ch

	if t.closed {
		close(sub.ch)
		return sub
	}
	if t.replay && t.hasLatest {
		sub.ch <- t.latest
	}
	t.subs[sub.id] = sub
	return sub
}

// Subscribers returns the number of active subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Dropped returns how many values were lost to full subscriber buffers.
func (t *Topic[T]) Dropped() int64 {
	return t.dropped.Load()
}

// Close ends every subscription. Publishing after Close is a no-op.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	for id, sub := range t.subs {
		close(sub.ch)
		delete(t.subs, id)
	}
}

func (t *Topic[T]) remove(sub *Subscription[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subs[sub.id]; !ok {
		return
	}
	delete(t.subs, sub.id)
	close(sub.ch)
}

// Subscription is one subscriber's view of a topic.
type Subscription[T any] struct {
	// C receives published values. It is closed on Unsubscribe or when
	// the topic closes.
	C <-chan T

	id    uint64
	ch    chan T
	topic *Topic[T]
}

// Unsubscribe stops delivery and closes C. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.topic.remove(s)
}

// offerLatest keeps only the newest value when the buffer is full.
// Called with the topic lock held, which makes it the only sender.
func (s *Subscription[T]) offerLatest(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}
