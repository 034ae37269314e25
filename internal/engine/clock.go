package engine

import "sync/atomic"

// Clock is a monotonic logical clock for arrival order.
//
// Every record entering a conversation through the engine is stamped with
// a strictly increasing seq. Wall-clock time is never used for ordering:
// devices disagree about it, and replay must reproduce the same order.
//
// Clock is safe for concurrent use, though only the Run loop calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from a known sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Observe moves the clock forward to seq if it is behind. Used when
// records stamped in an earlier run are loaded back from the archive.
func (c *Clock) Observe(seq int64) {
	for {
		cur := c.seq.Load()
		if seq <= cur || c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
