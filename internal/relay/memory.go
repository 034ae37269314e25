package relay

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Memory.Publish after Close.
var ErrClosed = errors.New("publisher closed")

// Published is one message captured by Memory.
type Published struct {
	Subject string
	Data    []byte
}

// Memory is an in-process Publisher for local runs and tests. It keeps
// every message in order.
type Memory struct {
	mu       sync.Mutex
	closed   bool
	messages []Published
}

// NewMemory returns an empty in-memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the message.
func (m *Memory) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.messages = append(m.messages, Published{Subject: subject, Data: append([]byte(nil), data...)})
	return nil
}

// Messages returns a copy of everything published so far.
func (m *Memory) Messages() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Published, len(m.messages))
	copy(out, m.messages)
	return out
}

// Close rejects further messages.
func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

var _ Publisher = (*Memory)(nil)
