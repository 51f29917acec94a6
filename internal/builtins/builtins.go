// Package builtins provides the element classes used by scenarios and
// tests: a pulse source, a relay, an accumulator and an integrate-and-fire
// cell with a synapse field array.
package builtins

import (
	"math"

	"github.com/roach88/substrate/internal/data"
	"github.com/roach88/substrate/internal/dispatch"
)

// Class names.
const (
	ClassPulse       = "Pulse"
	ClassRelay       = "Relay"
	ClassAccumulator = "Accumulator"
	ClassIntFire     = "IntFire"
	ClassSynapse     = "Synapse"
)

var f64 = dispatch.Sig(dispatch.Float64)

// Register adds every builtin class to t.
func Register(t *dispatch.Table) error {
	for _, c := range Classes() {
		if err := t.RegisterClass(c); err != nil {
			return err
		}
	}
	return nil
}

// Classes returns fresh descriptors of the builtin classes.
func Classes() []*dispatch.Class {
	return []*dispatch.Class{pulse(), relay(), accumulator(), intFire(), synapse()}
}

// Pulse emits value on out every time it is processed, then adds
// increment. Reinit restores value to initial.
func pulse() *dispatch.Class {
	const (
		value     = 0
		increment = 8
		initial   = 16
	)
	return &dispatch.Class{
		Name:         ClassPulse,
		Doc:          "Emits a ramp on out: value, value+increment, ...",
		InstanceSize: 24,
		Fields: []dispatch.Field{
			{Name: "value", Offset: value, Type: dispatch.Float64},
			{Name: "increment", Offset: increment, Type: dispatch.Float64},
			{Name: "initial", Offset: initial, Type: dispatch.Float64},
		},
		Src: []dispatch.SrcPort{{Name: "out", Sig: f64}},
		Dest: []dispatch.DestPort{
			{Name: dispatch.PortProcess, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, _ []byte) {
				v := dispatch.F64(e.Data, value)
				e.Send("out", dispatch.F64Args(v))
				dispatch.PutF64(e.Data, value, v+dispatch.F64(e.Data, increment))
			}}},
			{Name: dispatch.PortReinit, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, _ []byte) {
				dispatch.PutF64(e.Data, value, dispatch.F64(e.Data, initial))
			}}},
			{Name: "set", Sig: f64, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, args []byte) {
				dispatch.PutF64(e.Data, value, dispatch.F64(args, 0))
			}}},
		},
	}
}

// Relay stores what it receives on in and, when processed, forwards the
// stored value on out.
func relay() *dispatch.Class {
	const (
		value = 0
		count = 8
	)
	return &dispatch.Class{
		Name:         ClassRelay,
		Doc:          "Stores the last value received and forwards it when processed.",
		InstanceSize: 16,
		Fields: []dispatch.Field{
			{Name: "value", Offset: value, Type: dispatch.Float64},
			{Name: "count", Offset: count, Type: dispatch.Int64},
		},
		Src: []dispatch.SrcPort{{Name: "out", Sig: f64}},
		Dest: []dispatch.DestPort{
			{Name: "in", Sig: f64, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, args []byte) {
				dispatch.PutF64(e.Data, value, dispatch.F64(args, 0))
				dispatch.PutI64(e.Data, count, dispatch.I64(e.Data, count)+1)
			}}},
			{Name: dispatch.PortProcess, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, _ []byte) {
				e.Send("out", dispatch.F64Args(dispatch.F64(e.Data, value)))
			}}},
			{Name: dispatch.PortReinit, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, _ []byte) {
				dispatch.PutF64(e.Data, value, 0)
				dispatch.PutI64(e.Data, count, 0)
			}}},
		},
	}
}

// Accumulator sums everything it receives.
func accumulator() *dispatch.Class {
	const (
		sum = 0
		n   = 8
	)
	return &dispatch.Class{
		Name:         ClassAccumulator,
		Doc:          "Sums the values received on add.",
		InstanceSize: 16,
		Fields: []dispatch.Field{
			{Name: "sum", Offset: sum, Type: dispatch.Float64},
			{Name: "n", Offset: n, Type: dispatch.Int64},
		},
		Dest: []dispatch.DestPort{
			{Name: "add", Sig: f64, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, args []byte) {
				dispatch.PutF64(e.Data, sum, dispatch.F64(e.Data, sum)+dispatch.F64(args, 0))
				dispatch.PutI64(e.Data, n, dispatch.I64(e.Data, n)+1)
			}}},
			{Name: dispatch.PortReinit, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, _ []byte) {
				dispatch.PutF64(e.Data, sum, 0)
				dispatch.PutI64(e.Data, n, 0)
			}}},
		},
	}
}

// IntFire is a leaky integrate-and-fire cell. Activation raises Vm; each
// process step decays Vm toward zero with time constant tau and fires a
// spike, carrying the current time, once Vm reaches threshold.
func intFire() *dispatch.Class {
	const (
		vm        = 0
		threshold = 8
		tau       = 16
		spikes    = 24
	)
	return &dispatch.Class{
		Name:         ClassIntFire,
		Doc:          "Leaky integrate-and-fire cell.",
		InstanceSize: 32,
		Fields: []dispatch.Field{
			{Name: "Vm", Offset: vm, Type: dispatch.Float64},
			{Name: "threshold", Offset: threshold, Type: dispatch.Float64},
			{Name: "tau", Offset: tau, Type: dispatch.Float64},
			{Name: "spikes", Offset: spikes, Type: dispatch.Int64},
		},
		Src: []dispatch.SrcPort{{Name: "spike", Sig: f64}},
		Dest: []dispatch.DestPort{
			{Name: "activation", Sig: f64, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, args []byte) {
				dispatch.PutF64(e.Data, vm, dispatch.F64(e.Data, vm)+dispatch.F64(args, 0))
			}}},
			{Name: dispatch.PortProcess, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, _ []byte) {
				v := dispatch.F64(e.Data, vm)
				if t := dispatch.F64(e.Data, tau); t > 0 {
					v *= math.Exp(-e.Proc.Dt / t)
				}
				if v >= dispatch.F64(e.Data, threshold) && dispatch.F64(e.Data, threshold) > 0 {
					e.Send("spike", dispatch.F64Args(e.Proc.CurrentTime))
					dispatch.PutI64(e.Data, spikes, dispatch.I64(e.Data, spikes)+1)
					v = 0
				}
				dispatch.PutF64(e.Data, vm, v)
			}}},
			{Name: dispatch.PortReinit, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, _ []byte) {
				dispatch.PutF64(e.Data, vm, 0)
				dispatch.PutI64(e.Data, spikes, 0)
			}}},
		},
	}
}

// Synapse is a field array: entry k of instance i is the k-th synapse onto
// cell i. A spike arriving on addSpike sends the synapse weight on
// activation.
func synapse() *dispatch.Class {
	const (
		weight = 0
		hits   = 8
	)
	return &dispatch.Class{
		Name:         ClassSynapse,
		Doc:          "Weighted synapse entries, one sub-array per target cell.",
		InstanceSize: 16,
		Handler:      data.KindField,
		Fields: []dispatch.Field{
			{Name: "weight", Offset: weight, Type: dispatch.Float64},
			{Name: "hits", Offset: hits, Type: dispatch.Int64},
		},
		Src: []dispatch.SrcPort{{Name: "activation", Sig: f64}},
		Dest: []dispatch.DestPort{
			{Name: "addSpike", Sig: f64, Handlers: []dispatch.OpFunc{func(e dispatch.Eref, _ []byte) {
				dispatch.PutI64(e.Data, hits, dispatch.I64(e.Data, hits)+1)
				e.Send("activation", dispatch.F64Args(dispatch.F64(e.Data, weight)))
			}}},
		},
	}
}
