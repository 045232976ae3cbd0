package journal

import "sync/atomic"

// Clock is the logical clock that stamps records with sequence numbers.
//
// Only the batch worker calls Next and Reset; Current may be read from any
// goroutine.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock positioned at start.
// Used to resume after the last persisted record.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Reset moves the clock back to seq, releasing numbers from a failed write.
func (c *Clock) Reset(seq int64) {
	c.seq.Store(seq)
}
