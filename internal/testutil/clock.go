package testutil

import (
	"sync"

	"github.com/roach88/nodeledger/internal/model"
)

// DeterministicClock is a transaction-time source for tests. Every call to
// Now returns the previous reading plus Step, starting from Base.
//
// Unlike engine.MonotonicClock it never reads the wall clock, so the
// DbUpdatedTimestamp of every record written in a test is predictable.
// It can be reset for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	base model.Micros
	step model.Micros
	now  model.Micros
}

// NewDeterministicClock creates a clock whose first reading is base+step.
// A non-positive step is treated as 1.
func NewDeterministicClock(base, step model.Micros) *DeterministicClock {
	if step <= 0 {
		step = 1
	}
	return &DeterministicClock{base: base, step: step, now: base}
}

// Now advances the clock and returns the new reading.
func (c *DeterministicClock) Now() model.Micros {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.step
	return c.now
}

// Current returns the last reading without advancing.
func (c *DeterministicClock) Current() model.Micros {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to its base.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.base
}
