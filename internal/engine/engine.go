package engine

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/substrate/internal/data"
	"github.com/roach88/substrate/internal/dispatch"
	"github.com/roach88/substrate/internal/ir"
	"github.com/roach88/substrate/internal/msg"
	"github.com/roach88/substrate/internal/queue"
	"github.com/roach88/substrate/internal/sched"
)

// DefaultThreads is the worker count per node.
const DefaultThreads = 1

// Engine is one node's runtime.
//
// Thread-safety model:
//   - structural calls (CreateElement, AddMsg, SetField, ...): one caller
//     at a time, and never during a run (ErrRunning)
//   - Step/Start: one run at a time per engine
//   - Stop: safe from any goroutine, honored at the next endCycle
//
// INVARIANTS:
//   - every node applies the same structural calls in the same order, so
//     ElementIDs and MsgIDs agree across nodes
//   - the dispatch table is finalized before New and never mutated
type Engine struct {
	node      int
	numNodes  int
	threads   int
	transport Transport
	logger    *slog.Logger
	recorder  Recorder

	table    *dispatch.Table
	parentIn ir.FuncID

	elements []*Element
	msgs     *msg.Table
	outputs  map[outKey][]*msg.Msg
	pair     *queue.Pair
	clock    *sched.Clock

	running atomic.Bool
	stopReq atomic.Bool
}

type outKey struct {
	element ir.ElementID
	port    string
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithNode places the engine at node out of the transport's nodes.
//
// Default: node 0 of a single-node LocalHub.
func WithNode(node, numNodes int, t Transport) EngineOption {
	return func(e *Engine) {
		e.node, e.numNodes, e.transport = node, numNodes, t
	}
}

// WithThreads sets the number of compute workers.
func WithThreads(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.threads = n
		}
	}
}

// WithNodeLogger sets the engine's logger.
func WithNodeLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNodeRecorder sets where per-step statistics go.
func WithNodeRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// New creates an engine over a finalized table that includes the core
// classes (see RegisterCore). The root element is created immediately.
func New(tbl *dispatch.Table, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		numNodes: 1,
		threads:  DefaultThreads,
		logger:   slog.Default(),
		table:    tbl,
		outputs:  make(map[outKey][]*msg.Msg),
		clock:    sched.NewClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.transport == nil {
		e.node, e.numNodes, e.transport = 0, 1, NewLocalHub(1)
	}
	if e.node < 0 || e.node >= e.numNodes {
		return nil, fmt.Errorf("node %d outside cluster of %d", e.node, e.numNodes)
	}
	e.logger = e.logger.With("node", e.node)
	e.msgs = msg.NewTable(e.logger)
	// One segment per worker plus the control segment.
	e.pair = queue.NewPair(e.threads + 1)

	if !tbl.Finalized() {
		return nil, ir.Errorf(ir.ErrCodeUninitializedDispatch, "dispatch table must be finalized before engine start")
	}
	fid, err := tbl.Lookup(ClassNeutral, PortParentIn)
	if err != nil {
		return nil, fmt.Errorf("core classes not registered: %w", err)
	}
	e.parentIn = fid

	cls, err := tbl.Class(ClassNeutral)
	if err != nil {
		return nil, err
	}
	h, err := data.New(data.KindGlobal, cls.InstanceSize, e.node, e.numNodes)
	if err != nil {
		return nil, err
	}
	if err := h.SetInstanceCount(1); err != nil {
		return nil, err
	}
	e.elements = append(e.elements, &Element{ID: ir.RootElement, Class: cls, Handler: h})
	return e, nil
}

// Node is this engine's node index.
func (e *Engine) Node() int { return e.node }

// NumNodes is the cluster size.
func (e *Engine) NumNodes() int { return e.numNodes }

// Threads is the number of compute workers.
func (e *Engine) Threads() int { return e.threads }

// Table returns the dispatch table.
func (e *Engine) Table() *dispatch.Table { return e.table }

// Clock returns the scheduler clock. It must not be mutated during a run.
func (e *Engine) Clock() *sched.Clock { return e.clock }

// Msgs returns the Msg table.
func (e *Engine) Msgs() *msg.Table { return e.msgs }

// Pending is the number of records waiting for the next swap.
func (e *Engine) Pending() int { return e.pair.Pending() }

// Running reports whether a run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Stop asks the current run to end at its next endCycle. It does nothing
// while idle.
func (e *Engine) Stop() {
	if e.running.Load() {
		e.stopReq.Store(true)
	}
}

func (e *Engine) checkIdle() error {
	if e.running.Load() {
		return ErrRunning
	}
	return nil
}

// CreateOpts are the optional parts of CreateElement.
type CreateOpts struct {
	// Handler overrides the class's default sharding.
	Handler data.Kind
}

// CreateElement creates an n-instance element of class under parent.
func (e *Engine) CreateElement(class string, parent ir.ElementID, name string, n uint32, opts CreateOpts) (ir.ElementID, error) {
	if err := e.checkIdle(); err != nil {
		return ir.BadElement, err
	}
	cls, err := e.table.Class(class)
	if err != nil {
		return ir.BadElement, err
	}
	if _, err := e.element(parent); err != nil {
		return ir.BadElement, err
	}
	if err := ir.ValidateElementName(name); err != nil {
		return ir.BadElement, err
	}
	if _, ok := e.childNamed(e.tree(), parent, name); ok {
		return ir.BadElement, errDuplicateName(parent, name)
	}

	kind := cls.Handler
	if opts.Handler != "" {
		kind = opts.Handler
	}
	h, err := data.New(kind, cls.InstanceSize, e.node, e.numNodes)
	if err != nil {
		return ir.BadElement, err
	}
	if err := h.SetInstanceCount(n); err != nil {
		return ir.BadElement, err
	}
	return e.insert(cls, parent, name, h)
}

func (e *Engine) insert(cls *dispatch.Class, parent ir.ElementID, name string, h data.Handler) (ir.ElementID, error) {
	id := ir.ElementID(len(e.elements))
	e.elements = append(e.elements, &Element{ID: id, Name: name, Class: cls, Handler: h})
	if err := e.link(parent, id); err != nil {
		e.elements = e.elements[:id]
		return ir.BadElement, err
	}
	e.logger.Debug("element created", "id", id, "class", cls.Name, "name", name, "n", h.NumData())
	return id, nil
}

// link adds the tree edge parent -> child.
func (e *Engine) link(parent, child ir.ElementID) error {
	p, c := e.elements[parent], e.elements[child]
	_, err := e.msgs.Create(msg.Spec{
		Kind: msg.OneToAll,
		Src:  msg.Endpoint{Obj: ir.Obj(parent, 0), Port: PortChildOut, Handler: p.Handler},
		Dst:  msg.Endpoint{Obj: ir.Obj(child, 0), Port: PortParentIn, Handler: c.Handler},
		Func: e.parentIn,
	})
	return err
}

// AddMsg connects srcPort of src's element to dstPort of dst's element.
// The DataIDs matter only for Single.
func (e *Engine) AddMsg(kind msg.Kind, src ir.ObjID, srcPort string, dst ir.ObjID, dstPort string, params msg.Params) (ir.MsgID, error) {
	if err := e.checkIdle(); err != nil {
		return ir.BadMsg, err
	}
	if srcPort == PortChildOut || dstPort == PortParentIn {
		return ir.BadMsg, ir.NewError(ir.ErrCodeUnknownPort, "tree ports are reserved",
			"src", srcPort, "dst", dstPort)
	}
	se, err := e.element(src.Element)
	if err != nil {
		return ir.BadMsg, err
	}
	de, err := e.element(dst.Element)
	if err != nil {
		return ir.BadMsg, err
	}
	sp, err := se.Class.SrcPort(srcPort)
	if err != nil {
		return ir.BadMsg, err
	}
	dp, err := de.Class.DestPort(dstPort)
	if err != nil {
		return ir.BadMsg, err
	}
	fid, err := e.table.Lookup(de.Class.Name, dstPort)
	if err != nil {
		return ir.BadMsg, err
	}

	m, err := e.msgs.Create(msg.Spec{
		Kind:   kind,
		Src:    msg.Endpoint{Obj: src, Port: srcPort, Sig: sp.Sig, Handler: se.Handler},
		Dst:    msg.Endpoint{Obj: dst, Port: dstPort, Sig: dp.Sig, Handler: de.Handler},
		Func:   fid,
		Params: params,
	})
	if err != nil {
		return ir.BadMsg, fmt.Errorf("add msg %s.%s -> %s.%s: %w", se.Name, srcPort, de.Name, dstPort, err)
	}
	e.index(m)
	e.logger.Debug("msg created", "msg", m.ID(), "kind", kind, "src", src, "dst", dst)
	return m.ID(), nil
}

func (e *Engine) index(m *msg.Msg) {
	if isTreeEdge(m) {
		return
	}
	k := outKey{m.E1(), m.SrcPort()}
	e.outputs[k] = append(e.outputs[k], m)
}

func (e *Engine) unindex(m *msg.Msg) {
	k := outKey{m.E1(), m.SrcPort()}
	list := e.outputs[k]
	for i, x := range list {
		if x == m {
			e.outputs[k] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(e.outputs[k]) == 0 {
		delete(e.outputs, k)
	}
}

// drop removes a Msg and tombstones its queued traffic.
func (e *Engine) drop(m *msg.Msg) error {
	if n := e.pair.Invalidate(m.ID()); n > 0 {
		e.logger.Debug("queued records invalidated", "msg", m.ID(), "records", n)
	}
	e.unindex(m)
	return e.msgs.Drop(m.ID())
}

// DropMsg removes a Msg. Tree edges are removed only by Move and
// DeleteElement.
func (e *Engine) DropMsg(id ir.MsgID) error {
	if err := e.checkIdle(); err != nil {
		return err
	}
	m, err := e.msgs.Get(id)
	if err != nil {
		return err
	}
	if isTreeEdge(m) {
		return fmt.Errorf("msg %d is a tree edge", id)
	}
	return e.drop(m)
}

// DeleteElement destroys id and its whole subtree, with every Msg that
// touches them. Outstanding handles become stale.
func (e *Engine) DeleteElement(id ir.ElementID) error {
	if err := e.checkIdle(); err != nil {
		return err
	}
	if id == ir.RootElement {
		return ErrRootElement
	}
	if _, err := e.element(id); err != nil {
		return err
	}
	sub := e.tree().subtree(id)
	for i := len(sub) - 1; i >= 0; i-- {
		for _, m := range e.msgs.Touching(sub[i]) {
			if err := e.drop(m); err != nil {
				return err
			}
		}
		e.clock.DropTarget(sub[i])
		e.elements[sub[i]] = nil
	}
	e.logger.Debug("element deleted", "id", id, "subtree", len(sub))
	return nil
}

// Move reparents id under parent.
func (e *Engine) Move(id, parent ir.ElementID) error {
	if err := e.checkIdle(); err != nil {
		return err
	}
	if id == ir.RootElement {
		return ErrRootElement
	}
	el, err := e.element(id)
	if err != nil {
		return err
	}
	if _, err := e.element(parent); err != nil {
		return err
	}
	t := e.tree()
	for _, d := range t.subtree(id) {
		if d == parent {
			return errCycle(id, parent)
		}
	}
	if t.parent[id] == parent {
		return nil
	}
	if _, ok := e.childNamed(t, parent, el.Name); ok {
		return errDuplicateName(parent, el.Name)
	}
	old, err := e.msgs.Get(t.edge[id])
	if err != nil {
		return err
	}
	if err := e.drop(old); err != nil {
		return err
	}
	return e.link(parent, id)
}

// Copy duplicates the subtree at id under parent, together with every Msg
// internal to the subtree. The copy's root is named name, or keeps the
// original name when name is empty. n > 1 asks for array expansion, which
// is rejected for the Msg kinds and handlers that lack it.
func (e *Engine) Copy(id, parent ir.ElementID, name string, n uint32) (ir.ElementID, error) {
	if err := e.checkIdle(); err != nil {
		return ir.BadElement, err
	}
	if id == ir.RootElement {
		return ir.BadElement, ErrRootElement
	}
	el, err := e.element(id)
	if err != nil {
		return ir.BadElement, err
	}
	if _, err := e.element(parent); err != nil {
		return ir.BadElement, err
	}
	if name == "" {
		name = el.Name
	}
	if err := ir.ValidateElementName(name); err != nil {
		return ir.BadElement, err
	}
	if n == 0 {
		n = 1
	}

	t := e.tree()
	sub := t.subtree(id)
	inSub := make(map[ir.ElementID]bool, len(sub))
	for _, s := range sub {
		if s == parent {
			return ir.BadElement, errCycle(id, parent)
		}
		inSub[s] = true
	}
	if _, ok := e.childNamed(t, parent, name); ok {
		return ir.BadElement, errDuplicateName(parent, name)
	}

	var internal []*msg.Msg
	for _, m := range e.msgs.All() {
		if !isTreeEdge(m) && inSub[m.E1()] && inSub[m.E2()] {
			if err := msg.CheckCopy(m.Kind(), n); err != nil {
				return ir.BadElement, err
			}
			internal = append(internal, m)
		}
	}
	clones := make([]data.Handler, len(sub))
	for i, s := range sub {
		if clones[i], err = e.elements[s].Handler.Clone(n); err != nil {
			return ir.BadElement, err
		}
	}

	mapped := make(map[ir.ElementID]ir.ElementID, len(sub))
	for i, s := range sub {
		orig := e.elements[s]
		p, nm := parent, name
		if s != id {
			p, nm = mapped[t.parent[s]], orig.Name
		}
		nid, err := e.insert(orig.Class, p, nm, clones[i])
		if err != nil {
			e.rollback(mapped, id)
			return ir.BadElement, err
		}
		mapped[s] = nid
	}
	for _, m := range internal {
		src := msg.Endpoint{Obj: ir.ObjID{Element: mapped[m.E1()], Data: m.SrcObj().Data}, Handler: e.elements[mapped[m.E1()]].Handler}
		dst := msg.Endpoint{Obj: ir.ObjID{Element: mapped[m.E2()], Data: m.DstObj().Data}, Handler: e.elements[mapped[m.E2()]].Handler}
		cp, err := e.msgs.Copy(m.ID(), src, dst, n)
		if err != nil {
			e.rollback(mapped, id)
			return ir.BadElement, err
		}
		e.index(cp)
	}
	e.logger.Debug("subtree copied", "from", id, "to", mapped[id], "elements", len(sub), "msgs", len(internal))
	return mapped[id], nil
}

func (e *Engine) rollback(mapped map[ir.ElementID]ir.ElementID, root ir.ElementID) {
	if nid, ok := mapped[root]; ok {
		if err := e.DeleteElement(nid); err != nil {
			e.logger.Warn("copy rollback failed", "element", nid, "error", err)
		}
	}
}

// Resize changes the instance count of id. Contents are not preserved.
// Msgs touching id are checked against the new shape; if any of them no
// longer fits, the handler is restored with its previous contents.
func (e *Engine) Resize(id ir.ElementID, n uint32) error {
	if err := e.checkIdle(); err != nil {
		return err
	}
	if id == ir.RootElement {
		return ErrRootElement
	}
	el, err := e.element(id)
	if err != nil {
		return err
	}
	snap, err := el.Handler.Clone(1)
	if err != nil {
		return err
	}
	if err := el.Handler.SetInstanceCount(n); err != nil {
		return err
	}
	for _, m := range e.msgs.Touching(id) {
		if isTreeEdge(m) {
			continue
		}
		if err := m.Revalidate(); err != nil {
			if rerr := data.Restore(el.Handler, snap); rerr != nil {
				e.logger.Warn("resize rollback failed", "element", id, "error", rerr)
			}
			return fmt.Errorf("resize %s to %d: %w", id, n, err)
		}
	}
	return nil
}

// Sync recomputes the local range of id and returns it with the global
// count.
func (e *Engine) Sync(id ir.ElementID) (start, end, n uint32, err error) {
	if err := e.checkIdle(); err != nil {
		return 0, 0, 0, err
	}
	el, err := e.element(id)
	if err != nil {
		return 0, 0, 0, err
	}
	if err := el.Handler.SetInstanceCount(el.Handler.NumData()); err != nil {
		return 0, 0, 0, err
	}
	start, end = el.Handler.LocalRange()
	return start, end, el.Handler.NumData(), nil
}

// fieldSlot resolves obj's field bytes. owner is false when obj is not
// answered by this node.
func (e *Engine) fieldSlot(obj ir.ObjID, field string) (b []byte, f dispatch.Field, owner bool, err error) {
	el, err := e.element(obj.Element)
	if err != nil {
		return nil, f, false, err
	}
	if f, err = el.Class.Field(field); err != nil {
		return nil, f, false, err
	}
	if obj.Data.Index >= el.Handler.NumData() {
		return nil, f, false, ir.NewOutOfRangeError(obj.Element, obj.Data, el.Handler.NumData())
	}
	if g, ok := el.Handler.(*data.Global); ok && !g.IsWriter() {
		return nil, f, false, nil
	}
	inst := el.Handler.Data(obj.Data)
	if inst == nil {
		return nil, f, false, nil
	}
	return f.Bytes(inst), f, true, nil
}

// SetField writes value into a field of obj. Replicated elements are
// written on every node. owner reports whether this node holds obj.
func (e *Engine) SetField(obj ir.ObjID, field string, value []byte) (owner bool, err error) {
	if err := e.checkIdle(); err != nil {
		return false, err
	}
	el, err := e.element(obj.Element)
	if err != nil {
		return false, err
	}
	f, err := el.Class.Field(field)
	if err != nil {
		return false, err
	}
	if len(value) != f.Type.Size() {
		return false, ir.NewError(ir.ErrCodeSignatureMismatch, "field value has the wrong size",
			"field", field, "want", fmt.Sprintf("%d", f.Type.Size()), "got", fmt.Sprintf("%d", len(value)))
	}
	if obj.Data.Index >= el.Handler.NumData() {
		return false, ir.NewOutOfRangeError(obj.Element, obj.Data, el.Handler.NumData())
	}
	inst := el.Handler.Data(obj.Data)
	if inst == nil {
		return false, nil
	}
	copy(f.Bytes(inst), value)
	if g, ok := el.Handler.(*data.Global); ok {
		return g.IsWriter(), nil
	}
	return true, nil
}

// GetField reads a field of obj. owner is false, with no error, when
// another node answers for obj.
func (e *Engine) GetField(obj ir.ObjID, field string) (value []byte, owner bool, err error) {
	b, _, owner, err := e.fieldSlot(obj, field)
	if err != nil || !owner {
		return nil, owner, err
	}
	return append([]byte(nil), b...), true, nil
}

// Send injects args on src's source port from the control thread. The
// records are delivered by the next step. Only the node that owns src
// queues them; sent reports whether this node did.
func (e *Engine) Send(src ir.ObjID, port string, args []byte) (sent bool, err error) {
	return e.inject(src, port, nil, args)
}

// SendTo is Send addressed to one target only.
func (e *Engine) SendTo(src ir.ObjID, port string, target ir.ObjID, args []byte) (sent bool, err error) {
	return e.inject(src, port, &target, args)
}

func (e *Engine) inject(src ir.ObjID, port string, target *ir.ObjID, args []byte) (bool, error) {
	if err := e.checkIdle(); err != nil {
		return false, err
	}
	el, err := e.element(src.Element)
	if err != nil {
		return false, err
	}
	sp, err := el.Class.SrcPort(port)
	if err != nil {
		return false, err
	}
	if len(args) != sp.Sig.Size() {
		return false, ir.NewError(ir.ErrCodeSignatureMismatch, "payload does not match port signature",
			"port", port, "sig", sp.Sig.String(), "size", fmt.Sprintf("%d", len(args)))
	}
	if src.Data.Index >= el.Handler.NumData() {
		return false, ir.NewOutOfRangeError(src.Element, src.Data, el.Handler.NumData())
	}
	if !el.Handler.IsLocal(src.Data) || !e.mayEmit(el) {
		return false, nil
	}
	s := e.sender(e.threads)
	if target != nil {
		s.SendTo(src, port, *target, args)
	} else {
		s.Send(src, port, args)
	}
	return true, nil
}

// mayEmit reports whether this node emits traffic on behalf of el.
// Replicated elements run everywhere but only the writer's sends count.
func (e *Engine) mayEmit(el *Element) bool {
	if g, ok := el.Handler.(*data.Global); ok {
		return g.IsWriter()
	}
	return true
}

func (e *Engine) sender(segment int) *sender {
	return &sender{e: e, seg: e.pair.Segment(segment)}
}

// sender queues a producer's traffic into its own segment.
type sender struct {
	e   *Engine
	seg *queue.Segment
}

func (s *sender) emitter(src ir.ObjID) bool {
	if int64(src.Element) >= int64(len(s.e.elements)) {
		return false
	}
	el := s.e.elements[src.Element]
	return el != nil && s.e.mayEmit(el)
}

func (s *sender) Send(src ir.ObjID, port string, args []byte) {
	if !s.emitter(src) {
		return
	}
	for _, m := range s.e.outputs[outKey{src.Element, port}] {
		s.seg.Append(queue.NewQinfo(m.ID(), m.Func(), src.Data, uint32(len(args)), true, false), args)
	}
}

func (s *sender) SendTo(src ir.ObjID, port string, target ir.ObjID, args []byte) {
	if !s.emitter(src) {
		return
	}
	payload := queue.DirectPayload(target.Data, args)
	for _, m := range s.e.outputs[outKey{src.Element, port}] {
		if m.E2() != target.Element {
			continue
		}
		s.seg.Append(queue.NewQinfo(m.ID(), m.Func(), src.Data, uint32(len(payload)), true, true), payload)
	}
}

// SetClock sets the dt of tick n. dt 0 disables the tick.
func (e *Engine) SetClock(n int, dt float64) error {
	if err := e.checkIdle(); err != nil {
		return err
	}
	return e.clock.SetTick(n, dt)
}

// SetPhase sets the first fire time of tick n.
func (e *Engine) SetPhase(n int, phase float64) error {
	if err := e.checkIdle(); err != nil {
		return err
	}
	return e.clock.SetPhase(n, phase)
}

// UseClock schedules port of every element matching pattern on tick n.
// Elements whose class lacks the port are skipped. It returns the number
// of elements scheduled.
func (e *Engine) UseClock(pattern, port string, n int) (int, error) {
	if err := e.checkIdle(); err != nil {
		return 0, err
	}
	if port == "" {
		port = dispatch.PortProcess
	}
	ids, err := e.Wildcard(pattern)
	if err != nil {
		return 0, err
	}
	var targets []sched.Target
	for _, id := range ids {
		el := e.elements[id]
		if !el.Class.HasDest(port) {
			continue
		}
		fid, err := e.table.Lookup(el.Class.Name, port)
		if err != nil {
			return 0, err
		}
		targets = append(targets, sched.Target{Element: id, Func: fid, Port: port})
	}
	if len(targets) > 0 {
		e.clock.UseTick(n, targets...)
	}
	return len(targets), nil
}

// Reinit resets the clock, discards queued traffic and invokes the reinit
// handler of every local instance. Reinit handlers cannot send.
func (e *Engine) Reinit() error {
	if err := e.checkIdle(); err != nil {
		return err
	}
	e.clock.Reinit()
	e.pair.Reset()
	proc := ir.ProcInfo{NumThreads: 1, Node: e.node, NumNodes: e.numNodes}
	for _, el := range e.elements {
		if el == nil || !el.Class.HasDest(dispatch.PortReinit) {
			continue
		}
		fid, err := e.table.Lookup(el.Class.Name, dispatch.PortReinit)
		if err != nil {
			return err
		}
		var ierr error
		el.Handler.ForEachLocal(0, 1, func(d ir.DataID, b []byte) {
			ref := dispatch.Eref{Obj: ir.ObjID{Element: el.ID, Data: d}, Data: b, Proc: proc}
			if err := e.table.Invoke(fid, ref, nil); err != nil && ierr == nil {
				ierr = err
			}
		})
		if ierr != nil {
			return fmt.Errorf("reinit %s: %w", el.Name, ierr)
		}
	}
	return nil
}
