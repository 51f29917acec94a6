package engine

import (
	"fmt"
	"sync"

	"github.com/roach88/substrate/internal/ir"
)

// Transport carries the cross-node collectives of the process loop. Every
// node must call the same collective with the same tag in the same order;
// a node that arrives with a different tag has skipped a barrier, which is
// a fatal protocol error for every node.
type Transport interface {
	// Broadcast returns the payload supplied by node root to every node.
	// Payloads from other nodes are ignored.
	Broadcast(tag string, root, node int, payload []byte) ([]byte, error)

	// AllGather returns every node's payload indexed by node.
	AllGather(tag string, node int, payload []byte) ([][]byte, error)

	// AllOr returns the OR of every node's v.
	AllOr(tag string, node int, v bool) (bool, error)
}

// LocalHub is an in-process Transport joining the nodes of a Cluster.
//
// Each collective has two phases: arrival, until all nodes have supplied
// their input, and departure, until all nodes have read the result. A node
// entering the next collective waits for the previous departure to finish.
//
// Thread-safety: LocalHub is safe for concurrent use by its nodes.
type LocalHub struct {
	n int

	mu       sync.Mutex
	cond     *sync.Cond
	tag      string
	inputs   [][]byte
	result   [][]byte
	arrived  int
	departed int
	draining bool
	failed   error
}

// NewLocalHub creates a hub for n nodes.
func NewLocalHub(n int) *LocalHub {
	h := &LocalHub{n: n}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Nodes is the number of participating nodes.
func (h *LocalHub) Nodes() int { return h.n }

// Fail aborts every pending and future collective with err.
func (h *LocalHub) Fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail(err)
}

func (h *LocalHub) fail(err error) {
	if h.failed == nil {
		h.failed = err
	}
	h.cond.Broadcast()
}

// Err returns the error the hub failed with, if any.
func (h *LocalHub) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failed
}

func (h *LocalHub) collect(tag string, node int, in []byte) ([][]byte, error) {
	if node < 0 || node >= h.n {
		return nil, fmt.Errorf("node %d outside hub of %d", node, h.n)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for h.draining && h.failed == nil {
		h.cond.Wait()
	}
	if h.failed != nil {
		return nil, h.failed
	}

	if h.arrived == 0 {
		h.tag = tag
		h.inputs = make([][]byte, h.n)
	} else if h.tag != tag {
		h.fail(ir.NewError(ir.ErrCodeBarrierMismatch, "nodes arrived at different collectives",
			"want", h.tag, "got", tag, "node", fmt.Sprintf("%d", node)))
		return nil, h.failed
	}
	h.inputs[node] = in
	h.arrived++

	if h.arrived == h.n {
		h.result = h.inputs
		h.draining = true
		h.cond.Broadcast()
	} else {
		for !h.draining && h.failed == nil {
			h.cond.Wait()
		}
		if h.failed != nil {
			return nil, h.failed
		}
	}

	res := h.result
	h.departed++
	if h.departed == h.n {
		h.arrived, h.departed = 0, 0
		h.draining = false
		h.result = nil
		h.cond.Broadcast()
	}
	return res, nil
}

func (h *LocalHub) Broadcast(tag string, root, node int, payload []byte) ([]byte, error) {
	if node != root {
		payload = nil
	}
	res, err := h.collect(tag, node, payload)
	if err != nil {
		return nil, err
	}
	return res[root], nil
}

func (h *LocalHub) AllGather(tag string, node int, payload []byte) ([][]byte, error) {
	return h.collect(tag, node, payload)
}

func (h *LocalHub) AllOr(tag string, node int, v bool) (bool, error) {
	var b []byte
	if v {
		b = []byte{1}
	}
	res, err := h.collect(tag, node, b)
	if err != nil {
		return false, err
	}
	for _, r := range res {
		if len(r) > 0 {
			return true, nil
		}
	}
	return false, nil
}
