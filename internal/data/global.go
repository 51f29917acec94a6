package data

import "github.com/roach88/substrate/internal/ir"

// WriterNode is the node that applies direct field writes to replicated
// handlers and answers reads of them.
const WriterNode = 0

// Global is a replicated array: every node holds every instance.
type Global struct {
	node int
	array
}

// NewGlobal creates an unsized Global handler.
func NewGlobal(instanceSize, node, numNodes int) *Global {
	return &Global{node: node, array: array{size: instanceSize}}
}

func (h *Global) Kind() Kind { return KindGlobal }
func (h *Global) Dims() int { return 1 }
func (h *Global) InstanceSize() int { return h.size }
func (h *Global) NumData() uint32 { return h.n }
func (h *Global) Sized() bool { return h.sized }

func (h *Global) LocalRange() (uint32, uint32) { return h.start, h.end }

// Writer returns the designated writer node.
func (h *Global) Writer() int { return WriterNode }

// IsWriter reports whether this node is the designated writer.
func (h *Global) IsWriter() bool { return h.node == WriterNode }

func (h *Global) IsLocal(d ir.DataID) bool {
	return h.sized && d.Index < h.n
}

func (h *Global) Data(d ir.DataID) []byte {
	if !h.IsLocal(d) {
		return nil
	}
	return h.slot(d.Index)
}

func (h *Global) SetInstanceCount(n uint32) error {
	h.resize(n, 0, n)
	return nil
}

func (h *Global) ForEachLocal(thread, numThreads int, fn func(ir.DataID, []byte)) {
	h.forEach(thread, numThreads, fn)
}

func (h *Global) Clone(n uint32) (Handler, error) {
	if !h.sized {
		return nil, errUnsized(KindGlobal)
	}
	if n > 1 {
		return nil, errExpansion(KindGlobal, n)
	}
	return &Global{node: h.node, array: h.clone()}, nil
}
