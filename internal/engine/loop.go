package engine

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/roach88/substrate/internal/dispatch"
	"github.com/roach88/substrate/internal/ir"
	"github.com/roach88/substrate/internal/msg"
	"github.com/roach88/substrate/internal/queue"
	"github.com/roach88/substrate/internal/sched"
)

// plan decides when a run ends. Both limits may be set.
type plan struct {
	steps   int64   // stop after this many steps; 0 means no limit
	horizon float64 // stop once the next fire time reaches the horizon
}

func (p plan) done(stepsRun int64, next float64) bool {
	if math.IsInf(next, 1) {
		return true
	}
	if p.steps > 0 && stepsRun >= p.steps {
		return true
	}
	return next >= p.horizon-1e-9*math.Max(1, math.Abs(p.horizon))
}

// Step runs n steps, or fewer if stopped. n <= 0 is a no-op.
func (e *Engine) Step(ctx context.Context, n int64) error {
	if n <= 0 {
		return nil
	}
	return e.run(ctx, plan{steps: n, horizon: math.Inf(1)})
}

// Start runs every step whose fire time falls within runtime of the next
// pending fire time.
func (e *Engine) Start(ctx context.Context, runtime float64) error {
	if runtime < 0 || math.IsNaN(runtime) {
		return fmt.Errorf("invalid runtime %v", runtime)
	}
	return e.run(ctx, plan{horizon: e.clock.NextTime() + runtime})
}

// firing is one tick fired by the current step.
type firing struct {
	dt      float64
	targets []sched.Target
}

// run holds the state shared by one run's goroutines. Fields written by a
// barrier action are read by the parties only after that barrier.
type run struct {
	e    *Engine
	plan plan

	swap, end *barrier
	exch      []*barrier

	step     int64
	now      float64
	fired    []firing
	stepsRun int64
	stopping bool

	sent     int
	stats    []StepStats // per worker
	remoteN  int         // records received, written by the exchange goroutine
	pending  []queue.Record
	remote   []queue.Record
	fatalMu  sync.Mutex
	fatalErr error
}

func (r *run) setFatal(err error) {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	if r.fatalErr == nil {
		r.fatalErr = err
	}
}

func (r *run) fatal() error {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	return r.fatalErr
}

func (r *run) tag(name string, k int) string {
	if k < 0 {
		return fmt.Sprintf("step %d %s", r.step, name)
	}
	return fmt.Sprintf("step %d %s %d", r.step, name, k)
}

func (e *Engine) run(ctx context.Context, p plan) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer e.running.Store(false)
	// A Stop that raced the end of the previous run must not leak into this one.
	e.stopReq.Store(false)

	if err := e.checkTables(); err != nil {
		e.logger.Error("dispatch tables differ across nodes", "error", err)
		return err
	}

	r := &run{e: e, plan: p, stats: make([]StepStats, e.threads)}
	parties := e.threads + 1
	r.swap = newBarrier(barrierSwap, parties, func() {
		e.pair.Swap()
		r.sent = len(e.pair.Incoming())
	})
	r.exch = make([]*barrier, e.numNodes)
	for k := range r.exch {
		r.exch[k] = newBarrier(barrierExchange, parties, func() {
			r.remote, r.pending = r.pending, nil
		})
	}
	r.end = newBarrier(barrierEndCycle, parties, r.endCycle)

	if !r.planStep() {
		return nil
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			e.stopReq.Store(true)
		case <-done:
		}
	}()

	e.logger.Debug("run starting", "time", r.now, "threads", e.threads)

	var wg sync.WaitGroup
	for t := 0; t < e.threads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			r.worker(t)
		}(t)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.exchange()
	}()
	wg.Wait()

	e.logger.Debug("run finished", "steps", r.stepsRun, "time", e.clock.CurrentTime())
	return r.fatal()
}

// checkTables compares dispatch fingerprints across nodes.
func (e *Engine) checkTables() error {
	fp, err := e.table.Fingerprint()
	if err != nil {
		return err
	}
	all, err := e.transport.AllGather("fingerprint", e.node, []byte(fp))
	if err != nil {
		return err
	}
	for node, other := range all {
		if !bytes.Equal(other, []byte(fp)) {
			return ir.NewError(ir.ErrCodeTableMismatch, "dispatch table fingerprint differs",
				"node", fmt.Sprintf("%d", node), "want", fp, "got", string(other))
		}
	}
	return nil
}

// planStep advances the clock to the next fire time and records the ticks
// it fired. It returns false when the run is over.
func (r *run) planStep() bool {
	c := r.e.clock
	next := c.NextTime()
	if r.plan.done(r.stepsRun, next) {
		return false
	}
	r.fired = r.fired[:0]
	c.Advance(next, func(t *sched.Tick) {
		r.fired = append(r.fired, firing{dt: t.Dt, targets: append([]sched.Target(nil), t.Targets...)})
	})
	r.now = next
	r.step = c.Step()
	return true
}

func (r *run) proc(thread int) ir.ProcInfo {
	e := r.e
	return ir.ProcInfo{
		CurrentTime: r.now,
		Step:        r.step,
		Thread:      thread,
		NumThreads:  e.threads,
		Node:        e.node,
		NumNodes:    e.numNodes,
	}
}

func (r *run) worker(t int) {
	e := r.e
	out := e.sender(t)
	for {
		st := &r.stats[t]
		proc := r.proc(t)

		// Phase 1.
		for _, f := range r.fired {
			proc.Dt = f.dt
			for _, tg := range f.targets {
				el := e.elements[tg.Element]
				if el == nil {
					continue
				}
				el.Handler.ForEachLocal(t, e.threads, func(d ir.DataID, b []byte) {
					ref := dispatch.Eref{Obj: ir.ObjID{Element: tg.Element, Data: d}, Data: b, Proc: proc, Out: out}
					if err := e.table.Invoke(tg.Func, ref, nil); err != nil {
						st.Errors++
						e.logger.Warn("process handler failed", "element", tg.Element, "port", tg.Port, "error", err)
						return
					}
					st.Processed++
				})
			}
		}
		r.swap.Wait()

		// Phase 2.
		r.drain(t, e.pair.Incoming(), proc, out, st, true)
		for k := 0; k < e.numNodes; k++ {
			r.exch[k].Wait()
			if k != e.node {
				r.drain(t, r.remote, proc, out, st, false)
			}
		}

		r.end.Wait()
		if r.stopping {
			return
		}
	}
}

// drain delivers recs to the targets owned by worker t. Stale records are
// counted by worker 0 only.
func (r *run) drain(t int, recs []queue.Record, proc ir.ProcInfo, out dispatch.Sender, st *StepStats, local bool) {
	e := r.e
	for _, rec := range recs {
		if rec.Stale {
			if t == 0 {
				st.Stale++
				e.logger.Debug("stale record dropped", "msg", rec.Q.Msg(), "step", r.step)
			}
			continue
		}
		m, err := e.msgs.Get(rec.Q.Msg())
		if err != nil {
			if t == 0 {
				st.Stale++
				e.logger.Debug("record for missing msg dropped", "msg", rec.Q.Msg(), "step", r.step)
			}
			continue
		}
		var d msg.Delivery
		if rec.Q.IsDirect() {
			d, err = m.ExecDirect(e.table, rec, proc, out)
		} else {
			d, err = m.Exec(e.table, rec.Q, rec.Args, proc, out)
		}
		st.Delivered += d.Delivered
		if local {
			st.NonLocal += d.NonLocal
		}
		if err != nil {
			st.Errors++
			e.logger.Warn("delivery failed", "msg", rec.Q.Msg(), "step", r.step, "error", err)
		}
	}
}

// exchange runs the node's side of every exchange round.
func (r *run) exchange() {
	e := r.e
	for {
		r.swap.Wait()

		payload, err := queue.EncodeRecords(e.pair.Incoming())
		if err != nil {
			r.setFatal(fmt.Errorf("encode incoming queue: %w", err))
		}
		for k := 0; k < e.numNodes; k++ {
			got, err := e.transport.Broadcast(r.tag(barrierExchange, k), k, e.node, payload)
			switch {
			case err != nil:
				r.setFatal(err)
			case k != e.node:
				recs, derr := queue.DecodeRecords(got)
				if derr != nil {
					r.setFatal(ir.NewError(ir.ErrCodeBarrierMismatch, "undecodable exchange frame",
						"from", fmt.Sprintf("%d", k), "error", derr.Error()))
					break
				}
				r.pending = recs
				r.remoteN += len(recs)
			}
			r.exch[k].Wait()
		}

		r.end.Wait()
		if r.stopping {
			return
		}
	}
}

// endCycle runs once per step while every party is parked at the
// endCycle barrier.
func (r *run) endCycle() {
	e := r.e
	st := StepStats{Node: e.node, Step: r.step, Time: r.now, Fired: len(r.fired), Sent: r.sent, Remote: r.remoteN}
	for i := range r.stats {
		st.add(r.stats[i])
		r.stats[i] = StepStats{}
	}
	r.remoteN = 0
	if e.recorder != nil {
		e.recorder.RecordStep(st)
	}
	r.stepsRun++

	want := e.stopReq.Load() || r.fatal() != nil || r.plan.done(r.stepsRun, e.clock.NextTime())
	stop, err := e.transport.AllOr(r.tag(barrierEndCycle, -1), e.node, want)
	if err != nil {
		r.setFatal(err)
		stop = true
	}
	if !stop {
		stop = !r.planStep()
	}
	r.stopping = stop
}
