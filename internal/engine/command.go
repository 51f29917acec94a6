package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/substrate/internal/data"
	"github.com/roach88/substrate/internal/dispatch"
	"github.com/roach88/substrate/internal/ir"
	"github.com/roach88/substrate/internal/msg"
)

// Command is one control-plane operation, applied on every node.
type Command interface {
	// Name identifies the command in logs and errors.
	Name() string

	apply(ctx context.Context, e *Engine) Ack
	merge() mergeMode
}

// Ack is one node's answer to a command.
type Ack struct {
	Node  int
	Value any
	Err   error
	Owner bool // this node answers for the addressed object
}

type mergeMode int

const (
	// Every node must return the same value and error.
	mergeReplicated mergeMode = iota
	// Errors must agree; the value comes from the one owning node.
	mergeOwner
	// Errors must agree; values are collected in node order.
	mergeGather
	// Per-node ranges that must tile the array.
	mergeRanges
)

// Create makes a new element. Value: ir.ElementID.
type Create struct {
	Class    string
	Parent   ir.ElementID
	ElemName string
	N        uint32
	Handler  data.Kind
}

func (Create) Name() string { return "create" }
func (Create) merge() mergeMode { return mergeReplicated }
func (c Create) apply(_ context.Context, e *Engine) Ack {
	id, err := e.CreateElement(c.Class, c.Parent, c.ElemName, c.N, CreateOpts{Handler: c.Handler})
	return Ack{Value: id, Err: err}
}

// Delete destroys an element and its subtree.
type Delete struct {
	Element ir.ElementID
}

func (Delete) Name() string { return "delete" }
func (Delete) merge() mergeMode { return mergeReplicated }
func (c Delete) apply(_ context.Context, e *Engine) Ack {
	return Ack{Err: e.DeleteElement(c.Element)}
}

// AddMsg connects two elements. Value: ir.MsgID.
type AddMsg struct {
	Kind    msg.Kind
	Src     ir.ObjID
	SrcPort string
	Dst     ir.ObjID
	DstPort string
	Params  msg.Params
}

func (AddMsg) Name() string { return "add_msg" }
func (AddMsg) merge() mergeMode { return mergeReplicated }
func (c AddMsg) apply(_ context.Context, e *Engine) Ack {
	id, err := e.AddMsg(c.Kind, c.Src, c.SrcPort, c.Dst, c.DstPort, c.Params)
	return Ack{Value: id, Err: err}
}

// DropMsg removes a Msg.
type DropMsg struct {
	Msg ir.MsgID
}

func (DropMsg) Name() string { return "drop_msg" }
func (DropMsg) merge() mergeMode { return mergeReplicated }
func (c DropMsg) apply(_ context.Context, e *Engine) Ack {
	return Ack{Err: e.DropMsg(c.Msg)}
}

// Move reparents an element.
type Move struct {
	Element ir.ElementID
	Parent  ir.ElementID
}

func (Move) Name() string { return "move" }
func (Move) merge() mergeMode { return mergeReplicated }
func (c Move) apply(_ context.Context, e *Engine) Ack {
	return Ack{Err: e.Move(c.Element, c.Parent)}
}

// Copy duplicates a subtree. Value: ir.ElementID of the copy.
type Copy struct {
	Element  ir.ElementID
	Parent   ir.ElementID
	ElemName string
	N        uint32
}

func (Copy) Name() string { return "copy" }
func (Copy) merge() mergeMode { return mergeReplicated }
func (c Copy) apply(_ context.Context, e *Engine) Ack {
	id, err := e.Copy(c.Element, c.Parent, c.ElemName, c.N)
	return Ack{Value: id, Err: err}
}

// SetClock sets a tick's dt and, when Phase is non-nil, its phase.
type SetClock struct {
	Tick  int
	Dt    float64
	Phase *float64
}

func (SetClock) Name() string { return "set_clock" }
func (SetClock) merge() mergeMode { return mergeReplicated }
func (c SetClock) apply(_ context.Context, e *Engine) Ack {
	if err := e.SetClock(c.Tick, c.Dt); err != nil {
		return Ack{Err: err}
	}
	if c.Phase != nil {
		return Ack{Err: e.SetPhase(c.Tick, *c.Phase)}
	}
	return Ack{}
}

// UseClock schedules a port of every matching element on a tick.
// Value: number of elements scheduled.
type UseClock struct {
	Pattern string
	Port    string
	Tick    int
}

func (UseClock) Name() string { return "use_clock" }
func (UseClock) merge() mergeMode { return mergeReplicated }
func (c UseClock) apply(_ context.Context, e *Engine) Ack {
	n, err := e.UseClock(c.Pattern, c.Port, c.Tick)
	return Ack{Value: n, Err: err}
}

// Start runs for a span of simulated time.
type Start struct {
	Runtime float64
}

func (Start) Name() string { return "start" }
func (Start) merge() mergeMode { return mergeReplicated }
func (c Start) apply(ctx context.Context, e *Engine) Ack {
	return Ack{Err: e.Start(ctx, c.Runtime)}
}

// Step runs a fixed number of steps.
type Step struct {
	N int64
}

func (Step) Name() string { return "step" }
func (Step) merge() mergeMode { return mergeReplicated }
func (c Step) apply(ctx context.Context, e *Engine) Ack {
	return Ack{Err: e.Step(ctx, c.N)}
}

// Reinit resets time, queues and element state.
type Reinit struct{}

func (Reinit) Name() string { return "reinit" }
func (Reinit) merge() mergeMode { return mergeReplicated }
func (Reinit) apply(_ context.Context, e *Engine) Ack {
	return Ack{Err: e.Reinit()}
}

// Sync recomputes an element's shards. Value: SyncResult.
type Sync struct {
	Element ir.ElementID
}

// SyncResult is the verified sharding of one element.
type SyncResult struct {
	N          uint32
	Replicated bool
	Ranges     [][2]uint32 // per node [start, end)
}

type syncRange struct {
	start, end, n uint32
	replicated    bool
}

func (Sync) Name() string { return "sync" }
func (Sync) merge() mergeMode { return mergeRanges }
func (c Sync) apply(_ context.Context, e *Engine) Ack {
	start, end, n, err := e.Sync(c.Element)
	if err != nil {
		return Ack{Err: err}
	}
	el, _ := e.element(c.Element)
	return Ack{Value: syncRange{start, end, n, el.Handler.Kind() == data.KindGlobal}}
}

// SetField writes one field of one object.
type SetField struct {
	Obj   ir.ObjID
	Field string
	Value []byte
}

func (SetField) Name() string { return "set_field" }
func (SetField) merge() mergeMode { return mergeOwner }
func (c SetField) apply(_ context.Context, e *Engine) Ack {
	owner, err := e.SetField(c.Obj, c.Field, c.Value)
	return Ack{Owner: owner, Err: err}
}

// GetField reads one field of one object. Value: []byte.
type GetField struct {
	Obj   ir.ObjID
	Field string
}

func (GetField) Name() string { return "get_field" }
func (GetField) merge() mergeMode { return mergeOwner }
func (c GetField) apply(_ context.Context, e *Engine) Ack {
	v, owner, err := e.GetField(c.Obj, c.Field)
	return Ack{Value: v, Owner: owner, Err: err}
}

// Send injects a payload on a source port between runs. A non-nil Target
// makes it a direct send.
type Send struct {
	Src    ir.ObjID
	Port   string
	Target *ir.ObjID
	Args   []byte
}

func (Send) Name() string { return "send" }
func (Send) merge() mergeMode { return mergeOwner }
func (c Send) apply(_ context.Context, e *Engine) Ack {
	var (
		sent bool
		err  error
	)
	if c.Target != nil {
		sent, err = e.SendTo(c.Src, c.Port, *c.Target, c.Args)
	} else {
		sent, err = e.Send(c.Src, c.Port, c.Args)
	}
	return Ack{Owner: sent, Err: err}
}

// Resize changes an element's instance count.
type Resize struct {
	Element ir.ElementID
	N       uint32
}

func (Resize) Name() string { return "resize" }
func (Resize) merge() mergeMode { return mergeReplicated }
func (c Resize) apply(_ context.Context, e *Engine) Ack {
	return Ack{Err: e.Resize(c.Element, c.N)}
}

// Dump gathers every field of the elements matching Pattern.
// Value: []DumpRow ordered by element, index, field entry, field.
type Dump struct {
	Pattern string
}

func (Dump) Name() string { return "dump" }
func (Dump) merge() mergeMode { return mergeGather }
func (c Dump) apply(_ context.Context, e *Engine) Ack {
	rows, err := e.Dump(c.Pattern)
	return Ack{Value: rows, Err: err}
}

// DumpRow is one field value of one object.
type DumpRow struct {
	Element  ir.ElementID `json:"element"`
	Path     string       `json:"path"`
	Index    uint32       `json:"index"`
	Entry    uint32       `json:"entry"`
	FieldIdx int          `json:"field_idx"`
	Field    string       `json:"field"`
	Value    any          `json:"value"`
}

// Dump returns the field values of the local objects of every element
// matching pattern. Replicated elements are reported by the writer only.
func (e *Engine) Dump(pattern string) ([]DumpRow, error) {
	ids, err := e.Wildcard(pattern)
	if err != nil {
		return nil, err
	}
	t := e.tree()
	var rows []DumpRow
	for _, id := range ids {
		el := e.elements[id]
		if !e.mayEmit(el) || len(el.Class.Fields) == 0 {
			continue
		}
		p := e.pathIn(t, id)
		var derr error
		el.Handler.ForEachLocal(0, 1, func(d ir.DataID, b []byte) {
			for i, f := range el.Class.Fields {
				vals, err := dispatch.Sig(f.Type).Decode(f.Bytes(b))
				if err != nil {
					derr = err
					return
				}
				rows = append(rows, DumpRow{
					Element: id, Path: p, Index: d.Index, Entry: d.Field,
					FieldIdx: i, Field: f.Name, Value: vals[0],
				})
			}
		})
		if derr != nil {
			return nil, derr
		}
	}
	return rows, nil
}

func sortDump(rows []DumpRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Element != b.Element {
			return a.Element < b.Element
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		if a.Entry != b.Entry {
			return a.Entry < b.Entry
		}
		return a.FieldIdx < b.FieldIdx
	})
}

// DumpDigest hashes rows in order. Two runs of the same scenario agree on
// the digest regardless of node and thread counts.
func DumpDigest(rows []DumpRow) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = fmt.Sprintf("%s[%d.%d].%s=%v", r.Path, r.Index, r.Entry, r.Field, r.Value)
	}
	return ir.Fingerprint(ir.DomainDump, parts...)
}
