package msg

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/roach88/substrate/internal/data"
	"github.com/roach88/substrate/internal/ir"
)

// pcgStream is the fixed PCG stream constant paired with the user seed.
const pcgStream = 0x9e3779b97f4a7c15

// Table is the Msg table of one node. Slot 0 is never used so that
// ir.BadMsg never names a live Msg. Freed ids are reused LIFO.
//
// Structural calls (Create, Drop, Copy) happen between steps only. Get is
// called concurrently by workers during delivery and does not lock.
type Table struct {
	msgs   []*Msg
	free   []ir.MsgID
	logger *slog.Logger
}

// NewTable creates an empty table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{msgs: make([]*Msg, 1), logger: logger}
}

// Create validates spec and adds a Msg.
func (t *Table) Create(spec Spec) (*Msg, error) {
	m, err := build(spec)
	if err != nil {
		return nil, err
	}
	t.insert(m)
	return m, nil
}

func (t *Table) insert(m *Msg) {
	if n := len(t.free); n > 0 {
		m.id = t.free[n-1]
		t.free = t.free[:n-1]
		t.msgs[m.id] = m
		return
	}
	m.id = ir.MsgID(len(t.msgs))
	t.msgs = append(t.msgs, m)
}

// Get returns a live Msg. Freed or never-allocated ids fail with StaleMsg.
func (t *Table) Get(id ir.MsgID) (*Msg, error) {
	if id == ir.BadMsg || int(id) >= len(t.msgs) || t.msgs[id] == nil {
		return nil, ir.NewStaleMsgError(id)
	}
	return t.msgs[id], nil
}

// Drop frees id and pushes it on the reuse list.
func (t *Table) Drop(id ir.MsgID) error {
	if _, err := t.Get(id); err != nil {
		return err
	}
	t.msgs[id] = nil
	t.free = append(t.free, id)
	return nil
}

// Len is the number of live Msgs.
func (t *Table) Len() int { return len(t.msgs) - 1 - len(t.free) }

// All returns the live Msgs in id order.
func (t *Table) All() []*Msg {
	out := make([]*Msg, 0, t.Len())
	for _, m := range t.msgs[1:] {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Touching returns the live Msgs with e at either end, in id order.
func (t *Table) Touching(e ir.ElementID) []*Msg {
	var out []*Msg
	for _, m := range t.msgs[1:] {
		if m != nil && m.Touches(e) {
			out = append(out, m)
		}
	}
	return out
}

// Copy clones the routing of Msg id onto a new Msg between src and dst.
// replicas > 1 asks for array-to-array expansion, which Diagonal, Sparse
// and Single do not support.
func (t *Table) Copy(id ir.MsgID, src, dst Endpoint, replicas uint32) (*Msg, error) {
	orig, err := t.Get(id)
	if err != nil {
		return nil, err
	}
	if err := CheckCopy(orig.kind, replicas); err != nil {
		t.logger.Warn("msg copy with replicas not supported",
			"msg", id, "kind", orig.kind, "replicas", replicas)
		return nil, err
	}
	if src.Port == "" {
		src.Port = orig.src.Port
	}
	if dst.Port == "" {
		dst.Port = orig.dst.Port
	}
	if src.Sig == nil {
		src.Sig = orig.src.Sig
	}
	if dst.Sig == nil {
		dst.Sig = orig.dst.Sig
	}
	if orig.kind == Single {
		src.Obj.Data = orig.src.Obj.Data
		dst.Obj.Data = orig.dst.Obj.Data
	}

	spec := Spec{Kind: orig.kind, Src: src, Dst: dst, Func: orig.fn, Params: orig.params}
	if orig.kind != Sparse {
		return t.Create(spec)
	}

	// The copied destination already carries the original field counts.
	if err := checkShape(spec); err != nil {
		return nil, err
	}
	m := &Msg{kind: Sparse, src: src, dst: dst, fn: orig.fn, params: orig.params, matrix: orig.matrix.Clone()}
	t.insert(m)
	return m, nil
}

// CheckCopy reports whether a Msg of kind can be copied into replicas
// parallel arrays.
func CheckCopy(kind Kind, replicas uint32) error {
	if replicas <= 1 {
		return nil
	}
	switch kind {
	case Diagonal, Sparse, Single:
		return ir.NewError(ir.ErrCodeUnsupportedCopy, "msg kind cannot be copied into an array",
			"kind", string(kind), "replicas", fmt.Sprintf("%d", replicas))
	}
	return nil
}

// Revalidate checks the Msg against its endpoints' current shapes, after
// one of them was resized.
func (m *Msg) Revalidate() error {
	spec := Spec{Kind: m.kind, Src: m.src, Dst: m.dst, Func: m.fn, Params: m.params}
	if err := checkShape(spec); err != nil {
		return err
	}
	if m.kind == Sparse {
		if m.matrix.NumRows() != int(m.src.Handler.NumData()) || m.matrix.NumColumns() != int(m.dst.Handler.NumData()) {
			return ir.NewError(ir.ErrCodeDimensionMismatch, "sparse matrix no longer matches its endpoints",
				"matrix", fmt.Sprintf("%dx%d", m.matrix.NumRows(), m.matrix.NumColumns()))
		}
	}
	return nil
}

func build(spec Spec) (*Msg, error) {
	if err := checkShape(spec); err != nil {
		return nil, err
	}
	m := &Msg{kind: spec.Kind, src: spec.Src, dst: spec.Dst, fn: spec.Func, params: spec.Params}
	if spec.Kind == Sparse {
		f := spec.Dst.Handler.(*data.Field)
		matrix, counts := buildSparse(spec.Src.Handler.NumData(), f.NumData(), spec.Params)
		if err := f.SetFieldCounts(counts); err != nil {
			return nil, err
		}
		m.matrix = matrix
	}
	return m, nil
}

func checkShape(spec Spec) error {
	if _, err := ParseKind(string(spec.Kind)); err != nil {
		return ir.Errorf(ir.ErrCodeDimensionMismatch, "%v", err)
	}
	if !spec.Dst.Sig.Accepts(spec.Src.Sig) {
		return ir.NewError(ir.ErrCodeIncompatiblePorts, "destination does not accept source payload",
			"src", spec.Src.Port+spec.Src.Sig.String(), "dst", spec.Dst.Port+spec.Dst.Sig.String())
	}
	h1, h2 := spec.Src.Handler, spec.Dst.Handler
	if h1 == nil || h2 == nil || !h1.Sized() || !h2.Sized() {
		return ir.Errorf(ir.ErrCodeUninitializedHandler, "msg endpoints must be sized before connecting")
	}
	n1, n2 := h1.NumData(), h2.NumData()

	mismatch := func(why string) error {
		return ir.NewError(ir.ErrCodeDimensionMismatch, why, "kind", string(spec.Kind),
			"src", fmt.Sprintf("%s x%d", h1.Kind(), n1), "dst", fmt.Sprintf("%s x%d", h2.Kind(), n2))
	}
	switch spec.Kind {
	case OneToOne:
		if n1 != n2 {
			return mismatch("one_to_one needs equal instance counts")
		}
	case Diagonal:
		if h1.Dims() != 1 || h2.Dims() != 1 {
			return mismatch("diagonal needs two 1-D arrays")
		}
	case Sparse:
		if h1.Dims() != 1 {
			return mismatch("sparse needs a 1-D source")
		}
		if _, ok := h2.(*data.Field); !ok {
			return mismatch("sparse needs a field array destination")
		}
		if p := spec.Params.Probability; p < 0 || p > 1 {
			return mismatch(fmt.Sprintf("probability %v outside [0, 1]", p))
		}
	case Single:
		if spec.Src.Obj.Data.Index >= n1 || spec.Dst.Obj.Data.Index >= n2 {
			return mismatch("single needs both indices in range")
		}
	}
	return nil
}

// buildSparse draws the connection matrix. Destination columns are the
// outer loop and source rows the inner loop, one draw per pair, so a given
// seed reproduces the same matrix. The matrix is built with destinations
// as rows and transposed once.
func buildSparse(nSrc, nDst uint32, p Params) (*SparseMatrix, []uint32) {
	rng := rand.New(rand.NewPCG(p.Seed, pcgStream))
	m := NewSparseMatrix(int(nDst), int(nSrc))
	counts := make([]uint32, nDst)

	var cols, vals []uint32
	for c := uint32(0); c < nDst; c++ {
		cols, vals = cols[:0], vals[:0]
		for r := uint32(0); r < nSrc; r++ {
			if rng.Float64() < p.Probability {
				cols = append(cols, r)
				vals = append(vals, uint32(len(vals)))
			}
		}
		counts[c] = uint32(len(cols))
		// Rows are in range and cols increase, so AddRow cannot fail.
		_ = m.AddRow(int(c), cols, vals)
	}
	m.Transpose()
	return m, counts
}
