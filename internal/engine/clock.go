package engine

import (
	"sync/atomic"
	"time"

	"github.com/roach88/nodeledger/internal/model"
)

// Clock supplies transaction time, recorded as DbUpdatedTimestamp. It is
// never compared with event timestamps.
type Clock interface {
	Now() model.Micros
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() model.Micros {
	return model.FromTime(time.Now())
}

// MonotonicClock never returns the same reading twice: if the source has
// not advanced since the last call, the previous reading plus one
// microsecond is returned instead.
//
// Thread-safety: MonotonicClock is safe for concurrent use (atomic operations).
type MonotonicClock struct {
	src  Clock
	last atomic.Int64
}

// NewMonotonicClock wraps src.
func NewMonotonicClock(src Clock) *MonotonicClock {
	return &MonotonicClock{src: src}
}

// Now returns a reading strictly greater than every earlier one.
func (c *MonotonicClock) Now() model.Micros {
	for {
		prev := c.last.Load()
		next := int64(c.src.Now())
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return model.Micros(next)
		}
	}
}
