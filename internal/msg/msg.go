package msg

import (
	"fmt"

	"github.com/roach88/substrate/internal/data"
	"github.com/roach88/substrate/internal/dispatch"
	"github.com/roach88/substrate/internal/ir"
)

// Kind is a routing topology.
type Kind string

const (
	OneToOne Kind = "one_to_one"
	OneToAll Kind = "one_to_all"
	Diagonal Kind = "diagonal"
	Sparse   Kind = "sparse"
	Single   Kind = "single"
)

// ParseKind parses a routing kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case OneToOne, OneToAll, Diagonal, Sparse, Single:
		return k, nil
	}
	return "", fmt.Errorf("unknown msg kind %q", s)
}

// Params are the routing parameters of one Msg.
type Params struct {
	// Stride is the Diagonal offset.
	Stride int32 `json:"stride,omitempty" yaml:"stride,omitempty"`

	// Probability and Seed drive the Sparse connection draw.
	Probability float64 `json:"probability,omitempty" yaml:"probability,omitempty"`
	Seed        uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Endpoint describes one end of a Msg being created.
type Endpoint struct {
	Obj     ir.ObjID
	Port    string
	Sig     dispatch.Signature
	Handler data.Handler
}

// Spec describes a Msg to create. Func is the handler bound on the
// destination port.
type Spec struct {
	Kind   Kind
	Src    Endpoint
	Dst    Endpoint
	Func   ir.FuncID
	Params Params
}

// Msg connects two element arrays. Routing state is fixed at creation.
type Msg struct {
	id     ir.MsgID
	kind   Kind
	src    Endpoint
	dst    Endpoint
	fn     ir.FuncID
	params Params
	matrix *SparseMatrix // rows are source indices, values are field indices
}

func (m *Msg) ID() ir.MsgID { return m.id }
func (m *Msg) Kind() Kind { return m.kind }
func (m *Msg) E1() ir.ElementID { return m.src.Obj.Element }
func (m *Msg) E2() ir.ElementID { return m.dst.Obj.Element }
func (m *Msg) SrcPort() string { return m.src.Port }
func (m *Msg) DstPort() string { return m.dst.Port }
func (m *Msg) Func() ir.FuncID { return m.fn }
func (m *Msg) Params() Params { return m.params }
func (m *Msg) Sig() dispatch.Signature { return m.src.Sig }

// Matrix returns the connection matrix of a Sparse Msg, nil otherwise.
func (m *Msg) Matrix() *SparseMatrix { return m.matrix }

// SrcObj is the source ObjID as created. Only Single uses its DataID.
func (m *Msg) SrcObj() ir.ObjID { return m.src.Obj }

// DstObj is the destination ObjID as created. Only Single uses its DataID.
func (m *Msg) DstObj() ir.ObjID { return m.dst.Obj }

// Touches reports whether e is either end of the Msg.
func (m *Msg) Touches(e ir.ElementID) bool { return m.E1() == e || m.E2() == e }

// Target returns the element receiving traffic in the given direction.
func (m *Msg) Target(forward bool) ir.ElementID {
	if forward {
		return m.E2()
	}
	return m.E1()
}

func (m *Msg) handler(forward bool) data.Handler {
	if forward {
		return m.dst.Handler
	}
	return m.src.Handler
}

// Route calls fn for each target of src in the given direction, stopping
// early when fn returns false. Targets are global DataIDs; residency is
// not checked.
func (m *Msg) Route(src ir.DataID, forward bool, fn func(ir.DataID) bool) {
	to := m.handler(forward)
	n := to.NumData()

	switch m.kind {
	case OneToOne:
		if src.Index < n {
			if to.Dims() == 1 {
				src = ir.Data(src.Index)
			}
			fn(src)
		}

	case OneToAll:
		if f, ok := to.(*data.Field); ok {
			start, end := f.LocalRange()
			for i := start; i < end; i++ {
				for k := uint32(0); k < f.FieldCount(i); k++ {
					if !fn(ir.FieldData(i, k)) {
						return
					}
				}
			}
			return
		}
		for i := uint32(0); i < n; i++ {
			if !fn(ir.Data(i)) {
				return
			}
		}

	case Diagonal:
		stride := int64(m.params.Stride)
		if !forward {
			stride = -stride
		}
		t := int64(src.Index) + stride
		if t >= 0 && t < int64(n) {
			fn(ir.Data(uint32(t)))
		}

	case Sparse:
		if forward {
			vals, cols := m.matrix.Row(int(src.Index))
			for k := range cols {
				if !fn(ir.FieldData(cols[k], vals[k])) {
					return
				}
			}
			return
		}
		// Every presynaptic row of the column hears it, whatever the entry.
		_, rows := m.matrix.Column(int(src.Index))
		for _, r := range rows {
			if !fn(ir.Data(r)) {
				return
			}
		}

	case Single:
		if forward {
			fn(m.dst.Obj.Data)
		} else {
			fn(m.src.Obj.Data)
		}
	}
}

// FindOtherEnd maps obj to its peer across the Msg. ok is false when obj's
// element is not an end of the Msg. When it is but the mapping falls out of
// range, the peer element is returned with ir.BadData. For many-to-one
// mappings the first peer wins, except that a Sparse field entry maps to the
// row that owns it.
func (m *Msg) FindOtherEnd(obj ir.ObjID) (ir.ObjID, bool) {
	var forward bool
	switch obj.Element {
	case m.E1():
		forward = true
	case m.E2():
		forward = false
	default:
		return ir.BadObj(), false
	}

	peer := ir.ObjID{Element: m.Target(forward), Data: ir.BadData()}
	if obj.Data.IsBad() {
		return peer, true
	}
	if m.kind == Sparse && !forward {
		// A field entry has exactly one presynaptic row.
		vals, rows := m.matrix.Column(int(obj.Data.Index))
		for k := range rows {
			if vals[k] == obj.Data.Field {
				peer.Data = ir.Data(rows[k])
				break
			}
		}
		return peer, true
	}
	m.Route(obj.Data, forward, func(d ir.DataID) bool {
		peer.Data = d
		return false
	})
	return peer, true
}

func (m *Msg) String() string {
	return fmt.Sprintf("msg %d %s %s.%s -> %s.%s", m.id, m.kind, m.E1(), m.src.Port, m.E2(), m.dst.Port)
}
