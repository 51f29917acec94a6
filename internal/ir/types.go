package ir

import (
	"fmt"
	"math"
)

// ElementID is the stable handle of one element (a named, typed array of
// instances). IDs are assigned in creation order and never reused, so a
// handle held after the element is destroyed stays dangling instead of
// aliasing a newer element.
type ElementID uint32

// RootElement is the root of the element tree. It exists on every node.
const RootElement ElementID = 0

// BadElement is the sentinel for "no element".
const BadElement ElementID = math.MaxUint32

// IsBad reports whether e is the BadElement sentinel.
func (e ElementID) IsBad() bool { return e == BadElement }

func (e ElementID) String() string {
	if e.IsBad() {
		return "#bad"
	}
	return fmt.Sprintf("#%d", uint32(e))
}

// BadIndex marks an out-of-range instance or field index.
const BadIndex uint32 = math.MaxUint32

// DataID selects one instance of an element's array (Index) and, for field
// arrays, one entry of that instance's sub-array (Field).
type DataID struct {
	Index uint32 `json:"index" yaml:"index"`
	Field uint32 `json:"field" yaml:"field"`
}

// Data returns a DataID for instance i, field 0.
func Data(i uint32) DataID { return DataID{Index: i} }

// FieldData returns a DataID for entry f of instance i.
func FieldData(i, f uint32) DataID { return DataID{Index: i, Field: f} }

// BadData is the DataID used for "participates, but out of range".
func BadData() DataID { return DataID{Index: BadIndex, Field: BadIndex} }

// IsBad reports whether d is BadData.
func (d DataID) IsBad() bool { return d.Index == BadIndex }

func (d DataID) String() string {
	switch {
	case d.IsBad():
		return "[bad]"
	case d.Field == 0:
		return fmt.Sprintf("[%d]", d.Index)
	default:
		return fmt.Sprintf("[%d][%d]", d.Index, d.Field)
	}
}

// ObjID fully addresses one logical target: an element plus a DataID.
type ObjID struct {
	Element ElementID `json:"element" yaml:"element"`
	Data    DataID    `json:"data" yaml:"data"`
}

// Obj is shorthand for ObjID{e, Data(i)}.
func Obj(e ElementID, i uint32) ObjID { return ObjID{Element: e, Data: Data(i)} }

// BadObj is the ObjID for "no target at all".
func BadObj() ObjID { return ObjID{Element: BadElement, Data: BadData()} }

// IsBad reports whether either half of o is a sentinel.
func (o ObjID) IsBad() bool { return o.Element.IsBad() || o.Data.IsBad() }

func (o ObjID) String() string { return o.Element.String() + o.Data.String() }

// MsgID indexes the per-node Msg table. IDs are dense: freed slots are
// handed out again by the next create.
type MsgID uint32

// BadMsg is the zero MsgID, never allocated.
const BadMsg MsgID = 0

// FuncID indexes the finalized dispatch table. Only ids, never handler
// values, cross thread and node boundaries.
type FuncID uint32

// BadFunc is the sentinel for an unbound function.
const BadFunc FuncID = math.MaxUint32

// ProcInfo is the per-thread execution context handed to every handler.
type ProcInfo struct {
	Dt          float64
	CurrentTime float64
	Step        int64

	Thread     int // worker index within this node
	NumThreads int // compute workers on this node
	Node       int
	NumNodes   int
}

// ExecThread reports whether instance index of element e is delivered by
// this worker. Ownership is (element + index) mod workers, so every target
// has exactly one owning worker and workers never write the same instance.
func (p ProcInfo) ExecThread(e ElementID, index uint32) bool {
	if p.NumThreads <= 1 {
		return true
	}
	return int((uint64(e)+uint64(index))%uint64(p.NumThreads)) == p.Thread
}

// Partition returns the local shard [start, end) of an n-instance array on
// node out of numNodes. The shards of all nodes tile [0, n) exactly.
func Partition(n uint32, node, numNodes int) (start, end uint32) {
	if numNodes <= 1 {
		return 0, n
	}
	start = uint32(uint64(n) * uint64(node) / uint64(numNodes))
	end = uint32(uint64(n) * uint64(node+1) / uint64(numNodes))
	return start, end
}

// NodeOf returns the node whose shard holds index i of an n-instance array,
// or -1 when i is out of range.
func NodeOf(i, n uint32, numNodes int) int {
	if i >= n {
		return -1
	}
	if numNodes <= 1 {
		return 0
	}
	// Smallest node whose end exceeds i.
	lo, hi := 0, numNodes-1
	for lo < hi {
		mid := (lo + hi) / 2
		if _, end := Partition(n, mid, numNodes); end > i {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
