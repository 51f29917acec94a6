package data

import (
	"fmt"

	"github.com/roach88/substrate/internal/ir"
)

// Kind identifies a handler variant.
type Kind string

const (
	KindOneDim Kind = "onedim"
	KindGlobal Kind = "global"
	KindField  Kind = "field"
)

// Handler fronts the instance storage of one element on one node.
type Handler interface {
	// Kind returns the sharding variant.
	Kind() Kind

	// Dims is 1 for plain arrays and 2 for field arrays.
	Dims() int

	// InstanceSize is the byte size of one instance (or one field entry).
	InstanceSize() int

	// NumData is the global instance count. Zero until sized.
	NumData() uint32

	// Sized reports whether SetInstanceCount has been called.
	Sized() bool

	// LocalRange is the [start, end) shard resident on this node.
	LocalRange() (start, end uint32)

	// IsLocal reports whether d is resident on this node. O(1), no side effects.
	IsLocal(d ir.DataID) bool

	// Data returns the bytes of d, or nil when d is remote or out of range.
	Data(d ir.DataID) []byte

	// SetInstanceCount resizes the array. Contents are not preserved unless
	// n equals the current count, in which case the call is a no-op.
	SetInstanceCount(n uint32) error

	// ForEachLocal calls fn for this thread's contiguous block of the local shard.
	ForEachLocal(thread, numThreads int, fn func(d ir.DataID, b []byte))

	// Clone copies the handler for a subtree copy. n > 1 is rejected.
	Clone(n uint32) (Handler, error)
}

// New creates an unsized handler of the given kind for node out of numNodes.
func New(kind Kind, instanceSize, node, numNodes int) (Handler, error) {
	switch kind {
	case KindOneDim, "":
		return NewOneDim(instanceSize, node, numNodes), nil
	case KindGlobal:
		return NewGlobal(instanceSize, node, numNodes), nil
	case KindField:
		// Entries are counted by instanceSize, so a zero-size class has no
		// way to report how many it holds.
		if instanceSize <= 0 {
			return nil, fmt.Errorf("field handler needs a positive instance size, got %d", instanceSize)
		}
		return NewField(instanceSize, node, numNodes), nil
	default:
		return nil, fmt.Errorf("unknown handler kind %q", kind)
	}
}

// Restore overwrites h with snap, a Clone(1) of h taken earlier. Msgs hold
// h itself, so the contents are copied back rather than the handler swapped.
func Restore(h, snap Handler) error {
	mismatch := fmt.Errorf("cannot restore %s handler from %s snapshot", h.Kind(), snap.Kind())
	switch h := h.(type) {
	case *OneDim:
		s, ok := snap.(*OneDim)
		if !ok {
			return mismatch
		}
		h.array = s.clone()
	case *Global:
		s, ok := snap.(*Global)
		if !ok {
			return mismatch
		}
		h.array = s.clone()
	case *Field:
		s, ok := snap.(*Field)
		if !ok {
			return mismatch
		}
		c, _ := s.Clone(1)
		*h = *c.(*Field)
	default:
		return mismatch
	}
	return nil
}

// BlockRange splits the shard [start, end) into numThreads contiguous
// blocks and returns the block for thread. The blocks tile the shard.
func BlockRange(start, end uint32, thread, numThreads int) (uint32, uint32) {
	if numThreads <= 1 {
		return start, end
	}
	n := uint64(end - start)
	nt := uint64(numThreads)
	t := uint64(thread)
	b := start + uint32((n*t+nt-1)/nt)
	e := start + uint32((n*(t+1)+nt-1)/nt)
	return b, e
}

func errUnsized(kind Kind) error {
	return ir.Errorf(ir.ErrCodeUninitializedHandler, "%s handler was never sized", kind)
}

func errExpansion(kind Kind, n uint32) error {
	return ir.NewError(ir.ErrCodeUnsupportedExpansion,
		fmt.Sprintf("%s handler cannot be expanded into an array copy", kind),
		"copies", fmt.Sprintf("%d", n))
}

// array is the shared flat backing store of OneDim and Global handlers.
type array struct {
	size  int
	n     uint32
	sized bool
	start uint32
	end   uint32
	buf   []byte
}

func (a *array) slot(i uint32) []byte {
	off := int(i-a.start) * a.size
	return a.buf[off : off+a.size : off+a.size]
}

func (a *array) resize(n, start, end uint32) {
	if a.sized && n == a.n && start == a.start && end == a.end {
		return
	}
	a.n, a.start, a.end = n, start, end
	a.buf = make([]byte, int(end-start)*a.size)
	a.sized = true
}

func (a *array) forEach(thread, numThreads int, fn func(ir.DataID, []byte)) {
	if !a.sized {
		return
	}
	b, e := BlockRange(a.start, a.end, thread, numThreads)
	for i := b; i < e; i++ {
		fn(ir.Data(i), a.slot(i))
	}
}

func (a *array) clone() array {
	c := *a
	c.buf = append([]byte(nil), a.buf...)
	return c
}
