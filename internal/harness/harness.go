package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/roach88/substrate/internal/builtins"
	"github.com/roach88/substrate/internal/config"
	"github.com/roach88/substrate/internal/data"
	"github.com/roach88/substrate/internal/dispatch"
	"github.com/roach88/substrate/internal/engine"
	"github.com/roach88/substrate/internal/ir"
	"github.com/roach88/substrate/internal/msg"
	"github.com/roach88/substrate/internal/store"
	"github.com/roach88/substrate/internal/testutil"
)

// Harness executes one scenario against one cluster.
type Harness struct {
	cluster *engine.Cluster
	rec     *engine.MemoryRecorder
	store   *store.Store
	runID   string
	seed    uint64
	logger  *slog.Logger

	// base offsets journalled step numbers past earlier Reinits, which
	// restart the clock's count.
	base int64
}

// Option configures Run.
type Option func(*options)

type options struct {
	nodes, threads int
	store          *store.Store
	logger         *slog.Logger
	runIDs         engine.RunIDGenerator
}

// WithShape overrides the scenario's node and thread counts.
func WithShape(nodes, threads int) Option {
	return func(o *options) {
		o.nodes = nodes
		o.threads = threads
	}
}

// WithStore journals into st instead of a fresh in-memory database.
func WithStore(st *store.Store) Option {
	return func(o *options) {
		o.store = st
	}
}

// WithLogger sets the cluster logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRunIDGenerator names the run. The default is the scenario's run_id,
// or "test-run-default".
func WithRunIDGenerator(g engine.RunIDGenerator) Option {
	return func(o *options) {
		o.runIDs = g
	}
}

// RuntimeOf returns the scenario's runtime configuration over the defaults.
func RuntimeOf(s *Scenario) config.Runtime {
	rt := config.Default()
	if s.Runtime != nil {
		overlay(&rt, *s.Runtime)
	}
	return rt
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Create the cluster and open the journal (in-memory unless WithStore)
//  2. Build elements, fields, msgs and clocks
//  3. Execute the run list, journalling step statistics and dumps
//  4. Evaluate assertions
//
// An error is returned when the scenario cannot be executed; assertion
// failures are reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: testutil.DiscardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	if o.runIDs == nil {
		o.runIDs = testutil.NewFixedRunID(scenario.RunID)
	}

	rt := RuntimeOf(scenario)
	if o.nodes > 0 {
		rt.Nodes = o.nodes
	}
	if o.threads > 0 {
		rt.Threads = o.threads
	}
	if err := rt.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}

	st := o.store
	if st == nil {
		var err error
		st, err = store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
	}

	rec := engine.NewMemoryRecorder()
	c, err := engine.NewCluster(rt.Engine(), builtins.Register,
		engine.WithLogger(o.logger),
		engine.WithRecorder(rec),
		engine.WithRunIDGenerator(o.runIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}

	h := &Harness{cluster: c, rec: rec, store: st, runID: c.RunID(), seed: rt.Seed, logger: o.logger}
	ctx := context.Background()

	fp, err := c.Table().Fingerprint()
	if err != nil {
		return nil, err
	}
	cfgJSON, err := json.Marshal(rt)
	if err != nil {
		return nil, fmt.Errorf("marshal runtime: %w", err)
	}
	if _, err := st.BeginRun(ctx, store.Run{
		ID:               h.runID,
		Scenario:         scenario.Name,
		Nodes:            rt.Nodes,
		Threads:          rt.Threads,
		TableFingerprint: fp,
		Config:           string(cfgJSON),
	}); err != nil {
		return nil, err
	}

	result := NewResult()
	result.RunID = h.runID
	runErr := h.execute(ctx, scenario, rt, result)
	if err := st.FinishRun(ctx, h.runID, h.base+c.Engine(0).Clock().Step(), c.Time(), runErr); err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, runErr
	}
	result.Time = c.Time()

	actx := &AssertionContext{Ctx: ctx, Store: st, Cluster: c, RunID: h.runID}
	for _, m := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(m)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, s *Scenario, rt config.Runtime, result *Result) error {
	if err := h.build(s, rt); err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}
	for i, st := range s.Run {
		if err := h.runStep(ctx, st, result); err != nil {
			return fmt.Errorf("run[%d]: %w", i, err)
		}
	}
	return nil
}

func (h *Harness) build(s *Scenario, rt config.Runtime) error {
	c := h.cluster
	for i, e := range s.Elements {
		parent, err := h.resolveParent(e.Path)
		if err != nil {
			return fmt.Errorf("elements[%d]: %w", i, err)
		}
		n := e.N
		if n == 0 {
			n = 1
		}
		if _, err := c.CreateElement(e.Class, parent, path.Base(e.Path), n, engine.CreateOpts{Handler: e.Handler}); err != nil {
			return fmt.Errorf("elements[%d] %s: %w", i, e.Path, err)
		}
	}
	for i, f := range s.Fields {
		if err := h.setField(f); err != nil {
			return fmt.Errorf("fields[%d]: %w", i, err)
		}
	}
	for i, m := range s.Msgs {
		if err := h.addMsg(m); err != nil {
			return fmt.Errorf("msgs[%d]: %w", i, err)
		}
	}
	for _, ck := range rt.Clocks {
		phase := ck.Phase
		if _, err := c.Do(context.Background(), engine.SetClock{Tick: ck.Tick, Dt: ck.Dt, Phase: &phase}); err != nil {
			return fmt.Errorf("clock %d: %w", ck.Tick, err)
		}
	}
	for i, u := range s.Use {
		n, err := c.UseClock(u.Pattern, u.Port, u.Tick)
		if err != nil {
			return fmt.Errorf("use[%d]: %w", i, err)
		}
		h.logger.Debug("scheduled", "pattern", u.Pattern, "tick", u.Tick, "elements", n)
	}
	return nil
}

func (h *Harness) runStep(ctx context.Context, st RunStep, result *Result) error {
	c := h.cluster
	ev := TraceEvent{}
	switch {
	case st.Step > 0:
		ev.Op, ev.Arg = "step", fmt.Sprint(st.Step)
		if err := c.Step(ctx, st.Step); err != nil {
			return err
		}
	case st.Start > 0:
		ev.Op, ev.Arg = "start", fmt.Sprint(st.Start)
		if err := c.Start(ctx, st.Start); err != nil {
			return err
		}
	case st.Reinit:
		ev.Op = "reinit"
		h.base += c.Engine(0).Clock().Step()
		if err := c.Reinit(); err != nil {
			return err
		}
	case st.Send != nil:
		ev.Op, ev.Arg = "send", st.Send.Src+"."+st.Send.Port
		if err := h.send(*st.Send); err != nil {
			return err
		}
	case st.Set != nil:
		ev.Op, ev.Arg = "set", st.Set.Obj+"."+st.Set.Field
		if err := h.setField(*st.Set); err != nil {
			return err
		}
	case st.Dump != "":
		ev.Op, ev.Arg = "dump", st.Dump
		rows, err := c.Dump("/**")
		if err != nil {
			return err
		}
		if err := h.store.WriteDump(ctx, h.runID, st.Dump, rows); err != nil {
			return err
		}
		result.Dumps[st.Dump] = rows
		ev.Digest = engine.DumpDigest(rows)
	}

	steps := h.rec.Drain()
	for i := range steps {
		steps[i].Step += h.base
	}
	if len(steps) > 0 {
		if err := h.store.WriteSteps(ctx, h.runID, steps); err != nil {
			return err
		}
		result.Steps = append(result.Steps, steps...)
	}
	tot := engine.Totals(steps)
	ev.Steps = h.base + c.Engine(0).Clock().Step()
	ev.Time = c.Time()
	ev.Processed, ev.Sent, ev.Delivered = tot.Processed, tot.Sent, tot.Delivered
	result.Trace = append(result.Trace, ev)
	return nil
}

func (h *Harness) resolveParent(p string) (ir.ElementID, error) {
	dir := path.Dir(p)
	if dir == "/" || dir == "." {
		return ir.RootElement, nil
	}
	return h.cluster.Find(dir)
}

// element resolves a path to its listing entry.
func (h *Harness) element(p string) (engine.ElementInfo, error) {
	id, err := h.cluster.Find(p)
	if err != nil {
		return engine.ElementInfo{}, err
	}
	for _, info := range h.cluster.Elements() {
		if info.ID == id {
			return info, nil
		}
	}
	return engine.ElementInfo{}, ir.NewStaleElementError(id)
}

func (h *Harness) class(name string) (*dispatch.Class, error) {
	return h.cluster.Table().Class(name)
}

// objects expands an object reference into the ids it names.
func (h *Harness) objects(ref string) (engine.ElementInfo, []ir.ObjID, error) {
	p, idx, err := parseObj(ref)
	if err != nil {
		return engine.ElementInfo{}, nil, err
	}
	info, err := h.element(p)
	if err != nil {
		return engine.ElementInfo{}, nil, err
	}
	if idx != nil {
		return info, []ir.ObjID{{Element: info.ID, Data: ir.FieldData(idx.index, idx.entry)}}, nil
	}
	if info.Handler == data.KindField {
		return info, nil, fmt.Errorf("%s is a field array; address entries as %s[i.k]", p, p)
	}
	objs := make([]ir.ObjID, info.N)
	for i := range objs {
		objs[i] = ir.Obj(info.ID, uint32(i))
	}
	return info, objs, nil
}

func (h *Harness) setField(f FieldSpec) error {
	info, objs, err := h.objects(f.Obj)
	if err != nil {
		return err
	}
	cls, err := h.class(info.Class)
	if err != nil {
		return err
	}
	fd, err := cls.Field(f.Field)
	if err != nil {
		return err
	}
	b, err := dispatch.Sig(fd.Type).Encode(f.Value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", f.Obj, f.Field, err)
	}
	for _, obj := range objs {
		if err := h.cluster.SetField(obj, f.Field, b); err != nil {
			return fmt.Errorf("%s.%s: %w", f.Obj, f.Field, err)
		}
	}
	return nil
}

func (h *Harness) addMsg(m MsgSpec) error {
	src, err := h.cluster.Find(m.Src)
	if err != nil {
		return err
	}
	dst, err := h.cluster.Find(m.Dst)
	if err != nil {
		return err
	}
	params := msg.Params{Stride: m.Stride, Probability: m.Probability, Seed: m.Seed}
	if m.Kind == msg.Sparse && params.Seed == 0 {
		params.Seed = h.seed
	}
	_, err = h.cluster.AddMsg(m.Kind, ir.Obj(src, 0), m.SrcPort, ir.Obj(dst, 0), m.DstPort, params)
	return err
}

func (h *Harness) send(s SendSpec) error {
	info, objs, err := h.objects(s.Src)
	if err != nil {
		return err
	}
	cls, err := h.class(info.Class)
	if err != nil {
		return err
	}
	port, err := cls.SrcPort(s.Port)
	if err != nil {
		return err
	}
	args, err := port.Sig.Encode(s.Args...)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", s.Src, s.Port, err)
	}

	var target *ir.ObjID
	if s.Target != "" {
		_, tobjs, err := h.objects(s.Target)
		if err != nil {
			return err
		}
		if len(tobjs) != 1 {
			return fmt.Errorf("send target %q must name one object", s.Target)
		}
		target = &tobjs[0]
	}
	for _, obj := range objs {
		cmd := engine.Send{Src: obj, Port: s.Port, Target: target, Args: args}
		if _, err := h.cluster.Do(context.Background(), cmd); err != nil {
			return err
		}
	}
	return nil
}
