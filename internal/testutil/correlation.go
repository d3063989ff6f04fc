package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequenceGenerator produces correlation ids "<prefix>-0001", "<prefix>-0002",
// and so on. It never runs out, so scenario runs with any number of events
// render identical traces.
//
// If prefix is empty, "cid" is used.
//
// Thread-safety: SequenceGenerator is safe for concurrent use (atomic counter).
type SequenceGenerator struct {
	prefix string
	n      atomic.Int64
}

// NewSequenceGenerator creates a generator with the given prefix.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "cid"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id. Implements engine.CorrelationGenerator.
func (g *SequenceGenerator) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1))
}
