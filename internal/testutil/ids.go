package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns predetermined session IDs for tests.
//
// This enables deterministic session rows and golden comparisons. Once the
// listed IDs are consumed it continues with "<prefix>-<n>".
//
// Thread-safety: FixedIDGenerator is safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu     sync.Mutex
	ids    []string
	idx    int
	prefix string
}

// NewFixedIDGenerator creates a generator that returns ids in order.
func NewFixedIDGenerator(ids ...string) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids, prefix: "session-test"}
}

// Generate returns the next ID. Implements model.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer func() { g.idx++ }()
	if g.idx < len(g.ids) {
		return g.ids[g.idx]
	}
	return fmt.Sprintf("%s-%d", g.prefix, g.idx+1)
}
