package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/substrate/internal/engine"
)

var (
	_ engine.RunIDGenerator = (*SequentialRunIDs)(nil)
	_ engine.RunIDGenerator = (*FixedRunID)(nil)
)

func TestSequentialRunIDs(t *testing.T) {
	g := NewSequentialRunIDs("scn")
	assert.Equal(t, int64(0), g.Current())
	assert.Equal(t, "scn-0001", g.Generate())
	assert.Equal(t, "scn-0002", g.Generate())
	assert.Equal(t, int64(2), g.Current())

	g.Reset()
	assert.Equal(t, "scn-0001", g.Generate())

	assert.Equal(t, "run-0001", NewSequentialRunIDs("").Generate())
}

func TestSequentialRunIDs_Concurrent(t *testing.T) {
	g := NewSequentialRunIDs("c")
	const workers, each = 8, 100

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				id := g.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*each, "ids are unique")
	assert.Equal(t, int64(workers*each), g.Current())
}

func TestFixedRunID(t *testing.T) {
	g := NewFixedRunID("abc")
	assert.Equal(t, "abc", g.Generate())
	assert.Equal(t, "abc", g.Generate())
	assert.Equal(t, "test-run-default", NewFixedRunID("").Generate())
}
