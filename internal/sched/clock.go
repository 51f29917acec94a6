package sched

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/roach88/substrate/internal/ir"
)

// Target is one (element, function) pair driven by a tick.
type Target struct {
	Element ir.ElementID `json:"element"`
	Func    ir.FuncID    `json:"func"`
	Port    string       `json:"port"`
}

// Tick is one periodic trigger.
type Tick struct {
	Number  int      `json:"number"`
	Dt      float64  `json:"dt"`
	Phase   float64  `json:"phase"`
	Targets []Target `json:"targets"`

	order int   // registration order, breaks ties between equal dt
	fires int64 // firings since reinit
}

// NextTime is the simulated time of the tick's next firing. It is derived
// from the firing count so repeated firings do not accumulate rounding.
func (t *Tick) NextTime() float64 {
	return t.Phase + float64(t.fires)*t.Dt
}

func (t *Tick) enabled() bool { return t.Dt > 0 }

type group struct {
	dt    float64
	ticks []*Tick
}

// Clock owns the ticks of one node.
//
// Scheduling commands and Advance are called by one goroutine at a time:
// the control path between steps, the end-of-cycle barrier action during a
// run. Step is safe to read from any goroutine.
type Clock struct {
	ticks   map[int]*Tick
	groups  []group
	order   int
	current float64
	step    atomic.Int64
}

// NewClock creates a clock with no ticks at time 0.
func NewClock() *Clock {
	return &Clock{ticks: make(map[int]*Tick)}
}

func (c *Clock) tick(n int) *Tick {
	t, ok := c.ticks[n]
	if !ok {
		t = &Tick{Number: n, order: c.order}
		c.order++
		c.ticks[n] = t
	}
	return t
}

// SetTick sets tick n's period. dt == 0 disables the tick without dropping
// its targets.
func (c *Clock) SetTick(n int, dt float64) error {
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return fmt.Errorf("tick %d: invalid dt %v", n, dt)
	}
	c.tick(n).Dt = dt
	c.rebuild()
	return nil
}

// SetPhase sets the offset of tick n's first firing.
func (c *Clock) SetPhase(n int, phase float64) error {
	if phase < 0 || math.IsNaN(phase) || math.IsInf(phase, 0) {
		return fmt.Errorf("tick %d: invalid phase %v", n, phase)
	}
	c.tick(n).Phase = phase
	c.rebuild()
	return nil
}

// UseTick adds targets to tick n. Duplicate targets are ignored.
func (c *Clock) UseTick(n int, targets ...Target) {
	t := c.tick(n)
	for _, tg := range targets {
		dup := false
		for _, have := range t.Targets {
			if have.Element == tg.Element && have.Func == tg.Func {
				dup = true
				break
			}
		}
		if !dup {
			t.Targets = append(t.Targets, tg)
		}
	}
	c.rebuild()
}

// DropTarget removes every target on element e from every tick.
func (c *Clock) DropTarget(e ir.ElementID) {
	for _, t := range c.ticks {
		kept := t.Targets[:0]
		for _, tg := range t.Targets {
			if tg.Element != e {
				kept = append(kept, tg)
			}
		}
		t.Targets = kept
	}
}

// rebuild regroups enabled ticks by dt.
func (c *Clock) rebuild() {
	all := make([]*Tick, 0, len(c.ticks))
	for _, t := range c.ticks {
		if t.enabled() {
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Dt != all[j].Dt {
			return all[i].Dt < all[j].Dt
		}
		return all[i].order < all[j].order
	})

	c.groups = c.groups[:0]
	for _, t := range all {
		if n := len(c.groups); n > 0 && c.groups[n-1].dt == t.Dt {
			c.groups[n-1].ticks = append(c.groups[n-1].ticks, t)
			continue
		}
		c.groups = append(c.groups, group{dt: t.Dt, ticks: []*Tick{t}})
	}
}

func tolerance(now float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(now))
}

// Due reports whether t fires at time now.
func Due(t *Tick, now float64) bool {
	return t.NextTime() <= now+tolerance(now)
}

// Advance fires every tick whose next time is at or before now, lowest dt
// first and registration order within equal dt, then moves each fired
// tick's next time on by its dt. It returns the number of ticks fired.
func (c *Clock) Advance(now float64, fire func(*Tick)) int {
	fired := 0
	for _, g := range c.groups {
		for _, t := range g.ticks {
			if !Due(t, now) {
				continue
			}
			if fire != nil {
				fire(t)
			}
			t.fires++
			fired++
		}
	}
	c.current = now
	c.step.Add(1)
	return fired
}

// NextTime is the earliest pending fire time, +Inf when no tick is enabled.
func (c *Clock) NextTime() float64 {
	next := math.Inf(1)
	for _, g := range c.groups {
		for _, t := range g.ticks {
			next = math.Min(next, t.NextTime())
		}
	}
	return next
}

// CurrentTime is the time of the last Advance.
func (c *Clock) CurrentTime() float64 { return c.current }

// Step is the number of Advance calls since reinit.
func (c *Clock) Step() int64 { return c.step.Load() }

// Reinit resets every tick to its phase and clears the current time.
// Targets are kept.
func (c *Clock) Reinit() {
	for _, t := range c.ticks {
		t.fires = 0
	}
	c.current = 0
	c.step.Store(0)
}

// Ticks returns copies of all ticks ordered by number.
func (c *Clock) Ticks() []Tick {
	out := make([]Tick, 0, len(c.ticks))
	for _, t := range c.ticks {
		cp := *t
		cp.Targets = append([]Target(nil), t.Targets...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Groups returns the dt of each coalesced group in firing order.
func (c *Clock) Groups() []float64 {
	out := make([]float64, len(c.groups))
	for i, g := range c.groups {
		out[i] = g.dt
	}
	return out
}
