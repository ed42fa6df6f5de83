package oracle

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/sealgauge/internal/ir"
)

// IDGenerator mints request ids. Implemented by UUIDv7Generator (production)
// and FixedGenerator (tests).
type IDGenerator interface {
	Generate() ir.RequestID
}

// UUIDv7Generator mints time-sortable UUIDv7 request ids.
//
// Stateless and safe for concurrent use. Panics if the system random source
// fails.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7, e.g. "0190b6f2-...".
func (UUIDv7Generator) Generate() ir.RequestID {
	return ir.RequestID(uuid.Must(uuid.NewV7()).String())
}

// FixedGenerator returns predetermined ids in order, for golden traces.
// Safe for concurrent use.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []ir.RequestID
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...ir.RequestID) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next id. Panics when the list is exhausted, which
// means a test issued more requests than it declared.
func (g *FixedGenerator) Generate() ir.RequestID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all request ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SequentialGenerator returns prefix-1, prefix-2, ... and never runs out.
type SequentialGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialGenerator creates a counter-based generator.
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialGenerator) Generate() ir.RequestID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return ir.RequestID(fmt.Sprintf("%s-%d", g.prefix, g.n))
}
