package data

import (
	"fmt"

	"github.com/roach88/substrate/internal/ir"
)

// Field is a field array: instance i owns FieldCount(i) entries addressed
// by DataID{Index: i, Field: f}. Instances are partitioned like OneDim.
// Counts are kept for the local shard only; remote instances report zero
// and must be asked by message.
type Field struct {
	node, numNodes int
	size           int
	n              uint32
	sized          bool
	start, end     uint32
	entries        [][]byte // one flat buffer per local instance
}

// NewField creates an unsized Field handler whose entries are entrySize bytes.
func NewField(entrySize, node, numNodes int) *Field {
	return &Field{node: node, numNodes: numNodes, size: entrySize}
}

func (h *Field) Kind() Kind { return KindField }
func (h *Field) Dims() int { return 2 }
func (h *Field) InstanceSize() int { return h.size }
func (h *Field) NumData() uint32 { return h.n }
func (h *Field) Sized() bool { return h.sized }

func (h *Field) LocalRange() (uint32, uint32) { return h.start, h.end }

func (h *Field) localIndex(i uint32) bool {
	return h.sized && i >= h.start && i < h.end
}

// FieldCount returns the number of entries of instance i, zero if remote.
func (h *Field) FieldCount(i uint32) uint32 {
	if !h.localIndex(i) || h.size == 0 {
		return 0
	}
	return uint32(len(h.entries[i-h.start]) / h.size)
}

// SetFieldCounts sizes every local instance from a global per-instance
// count slice. Entries of remote instances are ignored.
func (h *Field) SetFieldCounts(counts []uint32) error {
	if !h.sized {
		return errUnsized(KindField)
	}
	if uint32(len(counts)) != h.n {
		return ir.NewError(ir.ErrCodeOutOfRange, "field counts do not match instance count",
			"counts", fmt.Sprintf("%d", len(counts)), "instances", fmt.Sprintf("%d", h.n))
	}
	for i := h.start; i < h.end; i++ {
		h.entries[i-h.start] = make([]byte, int(counts[i])*h.size)
	}
	return nil
}

// LocalEntries is the total entry count of the local shard.
func (h *Field) LocalEntries() int {
	total := 0
	for _, e := range h.entries {
		total += len(e) / h.size
	}
	return total
}

func (h *Field) IsLocal(d ir.DataID) bool {
	return h.localIndex(d.Index) && d.Field < h.FieldCount(d.Index)
}

func (h *Field) Data(d ir.DataID) []byte {
	if !h.IsLocal(d) {
		return nil
	}
	off := int(d.Field) * h.size
	return h.entries[d.Index-h.start][off : off+h.size : off+h.size]
}

func (h *Field) SetInstanceCount(n uint32) error {
	start, end := ir.Partition(n, h.node, h.numNodes)
	if h.sized && n == h.n && start == h.start && end == h.end {
		return nil
	}
	h.n, h.start, h.end = n, start, end
	h.entries = make([][]byte, end-start)
	h.sized = true
	return nil
}

// ForEachLocal visits every entry of this thread's block of instances.
func (h *Field) ForEachLocal(thread, numThreads int, fn func(ir.DataID, []byte)) {
	if !h.sized {
		return
	}
	b, e := BlockRange(h.start, h.end, thread, numThreads)
	for i := b; i < e; i++ {
		for f := uint32(0); f < h.FieldCount(i); f++ {
			d := ir.FieldData(i, f)
			fn(d, h.Data(d))
		}
	}
}

func (h *Field) Clone(n uint32) (Handler, error) {
	if !h.sized {
		return nil, errUnsized(KindField)
	}
	if n > 1 {
		return nil, errExpansion(KindField, n)
	}
	c := *h
	c.entries = make([][]byte, len(h.entries))
	for i, e := range h.entries {
		c.entries[i] = append([]byte(nil), e...)
	}
	return &c, nil
}
