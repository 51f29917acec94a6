package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/substrate/internal/ir"
)

func TestBarrier_ActionRunsOncePerGeneration(t *testing.T) {
	const parties, rounds = 4, 50
	var actions atomic.Int64
	var arrived atomic.Int64
	b := newBarrier("test", parties, func() {
		// Every party of this generation has arrived.
		assert.Equal(t, int64(0), arrived.Load()%parties)
		actions.Add(1)
	})

	var wg sync.WaitGroup
	for p := 0; p < parties; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				arrived.Add(1)
				b.Wait()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(rounds), actions.Load())
}

func runNodes(n int, fn func(node int)) {
	var wg sync.WaitGroup
	for node := 0; node < n; node++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(node)
		}()
	}
	wg.Wait()
}

func TestLocalHub_Collectives(t *testing.T) {
	const n = 3
	h := NewLocalHub(n)
	got := make([][]byte, n)
	gathered := make([][][]byte, n)
	ors := make([]bool, n)
	errs := make([]error, n)

	runNodes(n, func(node int) {
		for round := 0; round < 5; round++ {
			b, err := h.Broadcast("bcast", 1, node, []byte{byte(node)})
			if err != nil {
				errs[node] = err
				return
			}
			got[node] = b
		}
		all, err := h.AllGather("gather", node, []byte{byte(10 + node)})
		if err != nil {
			errs[node] = err
			return
		}
		gathered[node] = all
		ors[node], errs[node] = h.AllOr("or", node, node == 2)
	})

	for node := 0; node < n; node++ {
		require.NoError(t, errs[node])
		assert.Equal(t, []byte{1}, got[node], "root payload reaches every node")
		assert.Equal(t, [][]byte{{10}, {11}, {12}}, gathered[node])
		assert.True(t, ors[node])
	}
}

func TestLocalHub_TagMismatchIsFatal(t *testing.T) {
	h := NewLocalHub(2)
	errs := make([]error, 2)
	runNodes(2, func(node int) {
		tag := "step 1 endCycle"
		if node == 1 {
			tag = "step 1 exchange 0"
		}
		_, errs[node] = h.AllOr(tag, node, false)
	})

	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, ir.IsCode(err, ir.ErrCodeBarrierMismatch))
		assert.True(t, ir.IsFatal(err))
	}
	assert.Error(t, h.Err())

	_, err := h.AllOr("later", 0, false)
	assert.True(t, ir.IsFatal(err), "a failed hub stays failed")
}

func TestLocalHub_FailReleasesWaiters(t *testing.T) {
	h := NewLocalHub(2)
	done := make(chan error)
	go func() {
		_, err := h.AllOr("x", 0, false)
		done <- err
	}()
	h.Fail(assert.AnError)
	assert.ErrorIs(t, <-done, assert.AnError)
}
