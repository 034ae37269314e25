package testutil

import (
	"sync"
	"time"
)

// Epoch is the instant a StepClock starts at: 2024-01-01T00:00:00Z.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// StepClock is a wall clock that advances by a fixed step on every read.
//
// Pass its Now method to history.WithNow so synthetic placeholders get
// reproducible timestamps. Unlike engine.Clock, StepClock can be reset
// for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	reads int64
}

// NewStepClock creates a clock starting at Epoch and advancing one
// millisecond per read.
func NewStepClock() *StepClock {
	return NewStepClockAt(Epoch, time.Millisecond)
}

// NewStepClockAt creates a clock starting at start and advancing step per read.
func NewStepClockAt(start time.Time, step time.Duration) *StepClock {
	return &StepClock{start: start, step: step}
}

// Now returns the current instant and advances the clock.
//
// The first call returns the start time.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.reads) * c.step)
	c.reads++
	return t
}

// Reads returns how many times Now has been called.
func (c *StepClock) Reads() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Reset rewinds the clock to its start time.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = 0
}
