package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/weft/internal/ir"
)

// SessionGenerator mints agent ids for new editing sessions.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type SessionGenerator interface {
	Generate() ir.AgentID
}

// UUIDv7Generator generates time-sortable UUIDv7 agent ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids sort by
// session start. That keeps lock status listings and logs readable.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() ir.AgentID {
	return ir.AgentID(uuid.Must(uuid.NewV7()).String())
}

// FixedGenerator returns predetermined agent ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []ir.AgentID
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewFixedGenerator("agent-1", "agent-2")
//	gen.Generate() // "agent-1"
//	gen.Generate() // "agent-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...ir.AgentID) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, which catches a test that opens
// more sessions than it declared.
func (g *FixedGenerator) Generate() ir.AgentID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
