package queue

import (
	"fmt"

	"github.com/roach88/substrate/internal/ir"
)

// Qinfo is the header of one queued payload. It is immutable after
// construction and consumed exactly once by a drain.
type Qinfo struct {
	msg     ir.MsgID
	fn      ir.FuncID
	src     ir.DataID
	size    uint32
	forward bool
	direct  bool
}

// NewQinfo builds a header.
func NewQinfo(msg ir.MsgID, fn ir.FuncID, src ir.DataID, size uint32, forward, direct bool) Qinfo {
	return Qinfo{msg: msg, fn: fn, src: src, size: size, forward: forward, direct: direct}
}

func (q Qinfo) Msg() ir.MsgID { return q.msg }
func (q Qinfo) Func() ir.FuncID { return q.fn }
func (q Qinfo) Src() ir.DataID { return q.src }
func (q Qinfo) Size() uint32 { return q.size }
func (q Qinfo) IsForward() bool { return q.forward }
func (q Qinfo) IsDirect() bool { return q.direct }

func (q Qinfo) String() string {
	dir := "fwd"
	if !q.forward {
		dir = "back"
	}
	if q.direct {
		dir += ",direct"
	}
	return fmt.Sprintf("msg=%d func=%d src=%s size=%d %s", q.msg, q.fn, q.src, q.size, dir)
}

// Record is a header plus its argument bytes.
type Record struct {
	Q    Qinfo
	Args []byte

	// Stale is set when the record's Msg was dropped after it was queued.
	Stale bool
}

// DirectPrefix is the size of the target DataID carried at the front of a
// direct record's payload.
const DirectPrefix = 8

// Target returns the addressed DataID and the handler arguments of a direct
// record. ok is false for a truncated payload.
func (r Record) Target() (target ir.DataID, args []byte, ok bool) {
	if len(r.Args) < DirectPrefix {
		return ir.DataID{}, nil, false
	}
	target = ir.DataID{Index: le.Uint32(r.Args[0:]), Field: le.Uint32(r.Args[4:])}
	return target, r.Args[DirectPrefix:], true
}

// DirectPayload prefixes args with target for a direct record.
func DirectPayload(target ir.DataID, args []byte) []byte {
	out := make([]byte, DirectPrefix, DirectPrefix+len(args))
	le.PutUint32(out[0:], target.Index)
	le.PutUint32(out[4:], target.Field)
	return append(out, args...)
}
