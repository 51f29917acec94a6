package msg

import (
	"github.com/roach88/substrate/internal/dispatch"
	"github.com/roach88/substrate/internal/ir"
	"github.com/roach88/substrate/internal/queue"
)

// Delivery counts the outcome of one Exec.
type Delivery struct {
	Delivered int
	NonLocal  int
}

// Exec routes one payload and invokes the bound handler on every target
// that is resident on this node and owned by the calling worker. Targets
// owned by other workers are skipped silently; resident-elsewhere targets
// are counted once, by their owning worker.
//
// Exec only reads Msg state and is safe to call from all workers at once.
func (m *Msg) Exec(tbl *dispatch.Table, q queue.Qinfo, args []byte, proc ir.ProcInfo, out dispatch.Sender) (Delivery, error) {
	var (
		res Delivery
		err error
	)
	elem := m.Target(q.IsForward())
	h := m.handler(q.IsForward())
	m.Route(q.Src(), q.IsForward(), func(d ir.DataID) bool {
		if !proc.ExecThread(elem, d.Index) {
			return true
		}
		b := h.Data(d)
		if b == nil {
			res.NonLocal++
			return true
		}
		e := dispatch.Eref{Obj: ir.ObjID{Element: elem, Data: d}, Data: b, Proc: proc, Out: out}
		if err = tbl.Invoke(q.Func(), e, args); err != nil {
			return false
		}
		res.Delivered++
		return true
	})
	return res, err
}

// ExecDirect delivers a direct record to the single DataID carried in its
// payload, bypassing routing.
func (m *Msg) ExecDirect(tbl *dispatch.Table, r queue.Record, proc ir.ProcInfo, out dispatch.Sender) (Delivery, error) {
	var res Delivery
	target, args, ok := r.Target()
	if !ok {
		return res, ir.Errorf(ir.ErrCodeSignatureMismatch, "direct record shorter than its target prefix")
	}
	elem := m.Target(r.Q.IsForward())
	if !proc.ExecThread(elem, target.Index) {
		return res, nil
	}
	b := m.handler(r.Q.IsForward()).Data(target)
	if b == nil {
		res.NonLocal++
		return res, nil
	}
	e := dispatch.Eref{Obj: ir.ObjID{Element: elem, Data: target}, Data: b, Proc: proc, Out: out}
	if err := tbl.Invoke(r.Q.Func(), e, args); err != nil {
		return res, err
	}
	res.Delivered++
	return res, nil
}
