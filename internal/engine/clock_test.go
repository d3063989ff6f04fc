package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodeledger/internal/model"
)

// stuckClock always returns the same reading.
type stuckClock model.Micros

func (c stuckClock) Now() model.Micros { return model.Micros(c) }

// stepClock returns the next value from a fixed list on every call.
type stepClock struct {
	mu     sync.Mutex
	values []model.Micros
}

func (c *stepClock) Now() model.Micros {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.values[0]
	if len(c.values) > 1 {
		c.values = c.values[1:]
	}
	return v
}

func TestSystemClock_Now(t *testing.T) {
	before := model.FromTime(time.Now())
	got := SystemClock{}.Now()
	after := model.FromTime(time.Now())

	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}

func TestMonotonicClock_PassesThroughAdvancingSource(t *testing.T) {
	c := NewMonotonicClock(&stepClock{values: []model.Micros{10, 20, 30}})

	assert.Equal(t, model.Micros(10), c.Now())
	assert.Equal(t, model.Micros(20), c.Now())
	assert.Equal(t, model.Micros(30), c.Now())
}

func TestMonotonicClock_StuckSource(t *testing.T) {
	c := NewMonotonicClock(stuckClock(500))

	assert.Equal(t, model.Micros(500), c.Now())
	assert.Equal(t, model.Micros(501), c.Now())
	assert.Equal(t, model.Micros(502), c.Now())
}

func TestMonotonicClock_SourceGoesBackwards(t *testing.T) {
	c := NewMonotonicClock(&stepClock{values: []model.Micros{100, 50, 200}})

	assert.Equal(t, model.Micros(100), c.Now())
	assert.Equal(t, model.Micros(101), c.Now(), "a backwards step must not be visible")
	assert.Equal(t, model.Micros(200), c.Now())
}

func TestMonotonicClock_ThreadSafe(t *testing.T) {
	c := NewMonotonicClock(stuckClock(1))
	const goroutines = 100
	const callsPerGoroutine = 100

	readings := make(chan model.Micros, goroutines*callsPerGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				readings <- c.Now()
			}
		}()
	}
	wg.Wait()
	close(readings)

	seen := make(map[model.Micros]bool)
	for r := range readings {
		require.False(t, seen[r], "reading %d returned twice", r)
		seen[r] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
}
