// Package testutil holds deterministic time and ID sources and a
// failure-injecting journal medium for tests and scenario runs.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a DeterministicClock reports.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a wall clock for tests that advances one step per
// reading.
//
// Plugged into the journal with journal.WithNow, it makes record timestamps
// reproducible so golden traces are byte-identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	ticks int64
	step  time.Duration
}

// NewDeterministicClock creates a clock that starts at Epoch and advances
// by step on every call to Now. A zero step defaults to one second.
func NewDeterministicClock(step time.Duration) *DeterministicClock {
	if step <= 0 {
		step = time.Second
	}
	return &DeterministicClock{step: step}
}

// Now returns Epoch plus one step per previous call.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.ticks) * c.step)
	c.ticks++
	return t
}

// Ticks returns how many times Now has been called.
func (c *DeterministicClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock to Epoch.
//
// Used for test reuse. After Reset(), the next call to Now() returns Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
