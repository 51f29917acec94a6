package engine

import (
	"sync"

	"github.com/google/uuid"
)

// RunIDGenerator names the runs recorded in the journal.
// Implemented by UUIDv7RunIDs (production) and FixedRunIDs (tests).
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7RunIDs generates time-sortable UUIDv7 run ids, so listing runs by
// id lists them in start order.
//
// Thread-safety: UUIDv7RunIDs is stateless and safe for concurrent use.
type UUIDv7RunIDs struct{}

// Generate returns a hyphenated UUIDv7. Panics if the system entropy
// source fails.
func (UUIDv7RunIDs) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedRunIDs returns predetermined run ids for tests and golden traces.
//
// Thread-safety: FixedRunIDs is safe for concurrent use via internal mutex.
type FixedRunIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedRunIDs creates a generator that returns ids in order.
func NewFixedRunIDs(ids ...string) *FixedRunIDs {
	return &FixedRunIDs{ids: ids}
}

// Generate returns the next id. Panics once every id has been used, which
// catches a test that starts more runs than it expected.
func (g *FixedRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedRunIDs: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
