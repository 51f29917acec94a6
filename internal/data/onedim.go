package data

import "github.com/roach88/substrate/internal/ir"

// OneDim is a range-partitioned array: each node holds the shard given by
// ir.Partition and no other.
type OneDim struct {
	node, numNodes int
	array
}

// NewOneDim creates an unsized OneDim handler.
func NewOneDim(instanceSize, node, numNodes int) *OneDim {
	return &OneDim{node: node, numNodes: numNodes, array: array{size: instanceSize}}
}

func (h *OneDim) Kind() Kind { return KindOneDim }
func (h *OneDim) Dims() int { return 1 }
func (h *OneDim) InstanceSize() int { return h.size }
func (h *OneDim) NumData() uint32 { return h.n }
func (h *OneDim) Sized() bool { return h.sized }

func (h *OneDim) LocalRange() (uint32, uint32) { return h.start, h.end }

func (h *OneDim) IsLocal(d ir.DataID) bool {
	return h.sized && d.Index >= h.start && d.Index < h.end
}

func (h *OneDim) Data(d ir.DataID) []byte {
	if !h.IsLocal(d) {
		return nil
	}
	return h.slot(d.Index)
}

func (h *OneDim) SetInstanceCount(n uint32) error {
	start, end := ir.Partition(n, h.node, h.numNodes)
	h.resize(n, start, end)
	return nil
}

func (h *OneDim) ForEachLocal(thread, numThreads int, fn func(ir.DataID, []byte)) {
	h.forEach(thread, numThreads, fn)
}

func (h *OneDim) Clone(n uint32) (Handler, error) {
	if !h.sized {
		return nil, errUnsized(KindOneDim)
	}
	if n > 1 {
		return nil, errExpansion(KindOneDim, n)
	}
	return &OneDim{node: h.node, numNodes: h.numNodes, array: h.clone()}, nil
}
