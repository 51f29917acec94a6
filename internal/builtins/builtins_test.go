package builtins

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/substrate/internal/dispatch"
	"github.com/roach88/substrate/internal/ir"
)

type sent struct {
	port string
	args []byte
}

type capture struct {
	sends []sent
}

func (c *capture) Send(_ ir.ObjID, port string, args []byte) {
	c.sends = append(c.sends, sent{port, append([]byte(nil), args...)})
}

func (c *capture) SendTo(ir.ObjID, string, ir.ObjID, []byte) {}

func newTable(t *testing.T) *dispatch.Table {
	t.Helper()
	tbl := dispatch.NewTable()
	require.NoError(t, Register(tbl))
	require.NoError(t, tbl.Finalize())
	return tbl
}

func invoke(t *testing.T, tbl *dispatch.Table, class, port string, b []byte, proc ir.ProcInfo, out dispatch.Sender, args []byte) {
	t.Helper()
	fid, err := tbl.Lookup(class, port)
	require.NoError(t, err)
	require.NoError(t, tbl.Invoke(fid, dispatch.Eref{Obj: ir.Obj(1, 0), Data: b, Proc: proc, Out: out}, args))
}

func instance(t *testing.T, tbl *dispatch.Table, class string) []byte {
	t.Helper()
	c, err := tbl.Class(class)
	require.NoError(t, err)
	return make([]byte, c.InstanceSize)
}

func TestClasses_Validate(t *testing.T) {
	for _, c := range Classes() {
		assert.NoError(t, c.Validate(), c.Name)
	}
	tbl := newTable(t)
	assert.Len(t, tbl.Classes(), 5)
}

func TestPulse_EmitsThenIncrements(t *testing.T) {
	tbl := newTable(t)
	b := instance(t, tbl, ClassPulse)
	dispatch.PutF64(b, 0, 1)
	dispatch.PutF64(b, 8, 0.5)
	dispatch.PutF64(b, 16, 3)

	out := &capture{}
	invoke(t, tbl, ClassPulse, dispatch.PortProcess, b, ir.ProcInfo{}, out, nil)
	invoke(t, tbl, ClassPulse, dispatch.PortProcess, b, ir.ProcInfo{}, out, nil)

	require.Len(t, out.sends, 2)
	assert.Equal(t, "out", out.sends[0].port)
	assert.Equal(t, 1.0, dispatch.F64(out.sends[0].args, 0))
	assert.Equal(t, 1.5, dispatch.F64(out.sends[1].args, 0))
	assert.Equal(t, 2.0, dispatch.F64(b, 0))

	invoke(t, tbl, ClassPulse, dispatch.PortReinit, b, ir.ProcInfo{}, nil, nil)
	assert.Equal(t, 3.0, dispatch.F64(b, 0))

	invoke(t, tbl, ClassPulse, "set", b, ir.ProcInfo{}, nil, dispatch.F64Args(-2))
	assert.Equal(t, -2.0, dispatch.F64(b, 0))
}

func TestRelay_StoresAndForwards(t *testing.T) {
	tbl := newTable(t)
	b := instance(t, tbl, ClassRelay)

	invoke(t, tbl, ClassRelay, "in", b, ir.ProcInfo{}, nil, dispatch.F64Args(4))
	invoke(t, tbl, ClassRelay, "in", b, ir.ProcInfo{}, nil, dispatch.F64Args(7))
	assert.Equal(t, 7.0, dispatch.F64(b, 0))
	assert.Equal(t, int64(2), dispatch.I64(b, 8))

	out := &capture{}
	invoke(t, tbl, ClassRelay, dispatch.PortProcess, b, ir.ProcInfo{}, out, nil)
	require.Len(t, out.sends, 1)
	assert.Equal(t, 7.0, dispatch.F64(out.sends[0].args, 0))
}

func TestAccumulator_Sums(t *testing.T) {
	tbl := newTable(t)
	b := instance(t, tbl, ClassAccumulator)
	for _, v := range []float64{1, 2, 3.5} {
		invoke(t, tbl, ClassAccumulator, "add", b, ir.ProcInfo{}, nil, dispatch.F64Args(v))
	}
	assert.Equal(t, 6.5, dispatch.F64(b, 0))
	assert.Equal(t, int64(3), dispatch.I64(b, 8))

	invoke(t, tbl, ClassAccumulator, dispatch.PortReinit, b, ir.ProcInfo{}, nil, nil)
	assert.Equal(t, 0.0, dispatch.F64(b, 0))
	assert.Equal(t, int64(0), dispatch.I64(b, 8))
}

func TestIntFire_FiresAtThreshold(t *testing.T) {
	tbl := newTable(t)
	b := instance(t, tbl, ClassIntFire)
	dispatch.PutF64(b, 8, 1) // threshold, no leak

	out := &capture{}
	proc := ir.ProcInfo{Dt: 1, CurrentTime: 3}
	invoke(t, tbl, ClassIntFire, "activation", b, proc, nil, dispatch.F64Args(0.6))
	invoke(t, tbl, ClassIntFire, dispatch.PortProcess, b, proc, out, nil)
	assert.Empty(t, out.sends)
	assert.Equal(t, 0.6, dispatch.F64(b, 0))

	invoke(t, tbl, ClassIntFire, "activation", b, proc, nil, dispatch.F64Args(0.6))
	invoke(t, tbl, ClassIntFire, dispatch.PortProcess, b, proc, out, nil)
	require.Len(t, out.sends, 1)
	assert.Equal(t, "spike", out.sends[0].port)
	assert.Equal(t, 3.0, dispatch.F64(out.sends[0].args, 0))
	assert.Equal(t, 0.0, dispatch.F64(b, 0))
	assert.Equal(t, int64(1), dispatch.I64(b, 24))
}

func TestIntFire_Decays(t *testing.T) {
	tbl := newTable(t)
	b := instance(t, tbl, ClassIntFire)
	dispatch.PutF64(b, 0, 1)
	dispatch.PutF64(b, 8, 5)
	dispatch.PutF64(b, 16, 10)

	invoke(t, tbl, ClassIntFire, dispatch.PortProcess, b, ir.ProcInfo{Dt: 10}, &capture{}, nil)
	assert.InDelta(t, math.Exp(-1), dispatch.F64(b, 0), 1e-12)
}

func TestSynapse_ForwardsWeight(t *testing.T) {
	tbl := newTable(t)
	b := instance(t, tbl, ClassSynapse)
	dispatch.PutF64(b, 0, 0.25)

	out := &capture{}
	invoke(t, tbl, ClassSynapse, "addSpike", b, ir.ProcInfo{}, out, dispatch.F64Args(1))
	require.Len(t, out.sends, 1)
	assert.Equal(t, "activation", out.sends[0].port)
	assert.Equal(t, 0.25, dispatch.F64(out.sends[0].args, 0))
	assert.Equal(t, int64(1), dispatch.I64(b, 8))
}
