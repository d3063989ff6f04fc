package engine

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_ValidFormat(t *testing.T) {
	id := UUIDv7Generator{}.Generate()

	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)

	parsed, err := uuid.Parse(id)
	require.NoError(t, err, "id should be a valid UUID")
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Generator_Concurrent(t *testing.T) {
	gen := UUIDv7Generator{}
	const goroutines = 100

	ids := make(chan string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- gen.Generate()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate id generated")
		seen[id] = true
	}
	assert.Len(t, seen, goroutines)
}

func TestFixedGenerator_Sequential(t *testing.T) {
	gen := NewFixedGenerator("cid-1", "cid-2", "cid-3")

	assert.Equal(t, "cid-1", gen.Generate())
	assert.Equal(t, "cid-2", gen.Generate())
	assert.Equal(t, "cid-3", gen.Generate())
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedGenerator("cid-1")
	assert.Equal(t, "cid-1", gen.Generate())

	assert.Panics(t, func() {
		gen.Generate()
	}, "should panic when all ids exhausted")
}

func TestEngine_CorrelationIDOnResult(t *testing.T) {
	h := newHarness(t, WithCorrelation(NewFixedGenerator("cid-a", "cid-b")))
	h.registerNode(t, 100, true)

	res, err := h.engine.Invoke(h.ctx, h.stateEvent("B", 200))
	require.NoError(t, err)
	assert.Equal(t, "cid-a", res.CorrelationID)

	res, err = h.engine.Invoke(h.ctx, h.stateEvent("A", 50))
	require.NoError(t, err)
	assert.Equal(t, IgnoredNoBaseline, res.Outcome)
	assert.Equal(t, "cid-b", res.CorrelationID)

	assert.Panics(t, func() {
		_, _ = h.engine.Invoke(h.ctx, h.stateEvent("A", 300))
	})
}
