package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/substrate/internal/ir"
)

func noop(Eref, []byte) {}

func testClasses() []*Class {
	return []*Class{
		{
			Name:         "Relay",
			InstanceSize: 8,
			Fields:       []Field{{Name: "value", Offset: 0, Type: Float64}},
			Src:          []SrcPort{{Name: "out", Sig: Sig(Float64)}},
			Dest: []DestPort{
				{Name: "in", Sig: Sig(Float64), Handlers: []OpFunc{noop, noop}},
				{Name: PortProcess, Handlers: []OpFunc{noop}},
			},
		},
		{
			Name:         "Accumulator",
			InstanceSize: 16,
			Dest: []DestPort{
				{Name: "add", Sig: Sig(Float64, Uint32), Handlers: []OpFunc{noop}},
			},
		},
	}
}

func newTable(t *testing.T, classes []*Class) *Table {
	t.Helper()
	tbl := NewTable()
	for _, c := range classes {
		require.NoError(t, tbl.RegisterClass(c))
	}
	require.NoError(t, tbl.Finalize())
	return tbl
}

func TestTable_IDsSortedByCanonicalName(t *testing.T) {
	tbl := newTable(t, testClasses())

	var names []string
	for _, e := range tbl.Entries() {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"Accumulator.add", "Relay.in", "Relay.in", "Relay.process"}, names)

	in0, err := tbl.Lookup("Relay", "in")
	require.NoError(t, err)
	in1, err := tbl.LookupHandler("Relay", "in", 1)
	require.NoError(t, err)
	assert.Equal(t, ir.FuncID(1), in0)
	assert.Equal(t, in0+1, in1, "handler i has id base+i")

	_, err = tbl.LookupHandler("Relay", "in", 2)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnregisteredFunc))
}

func TestTable_StableAcrossRegistrationOrder(t *testing.T) {
	classes := testClasses()
	a := newTable(t, classes)
	b := newTable(t, []*Class{classes[1], classes[0]})

	require.Equal(t, a.Len(), b.Len())
	for i, e := range a.Entries() {
		assert.Equal(t, e.Name(), b.Entries()[i].Name())
		assert.Equal(t, e.Index, b.Entries()[i].Index)
	}
	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestTable_FingerprintDetectsSkew(t *testing.T) {
	a := newTable(t, testClasses())
	skewed := testClasses()
	skewed[1].Dest[0].Sig = Sig(Float64)
	b := newTable(t, skewed)

	fa, _ := a.Fingerprint()
	fb, _ := b.Fingerprint()
	assert.NotEqual(t, fa, fb)
}

func TestTable_FinalizeOnce(t *testing.T) {
	tbl := newTable(t, testClasses())
	err := tbl.Finalize()
	assert.True(t, ir.IsCode(err, ir.ErrCodeAlreadyFinalized))

	err = tbl.RegisterClass(&Class{Name: "Late"})
	assert.True(t, ir.IsCode(err, ir.ErrCodeAlreadyFinalized))
}

func TestTable_UninitializedDispatch(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.RegisterClass(testClasses()[0]))

	_, err := tbl.Lookup("Relay", "in")
	assert.True(t, ir.IsCode(err, ir.ErrCodeUninitializedDispatch))
	_, err = tbl.Func(0)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUninitializedDispatch))
	err = tbl.Invoke(0, Eref{}, nil)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUninitializedDispatch))
	_, err = tbl.Fingerprint()
	assert.True(t, ir.IsCategory(err, ir.CategoryDispatch))
}

func TestTable_InvokeChecksSignature(t *testing.T) {
	var got float64
	c := &Class{
		Name:         "Sink",
		InstanceSize: 8,
		Dest: []DestPort{{Name: "in", Sig: Sig(Float64), Handlers: []OpFunc{
			func(e Eref, args []byte) { got = F64(args, 0) },
		}}},
	}
	tbl := newTable(t, []*Class{c})
	id, err := tbl.Lookup("Sink", "in")
	require.NoError(t, err)

	require.NoError(t, tbl.Invoke(id, Eref{}, F64Args(2.5)))
	assert.Equal(t, 2.5, got)

	err = tbl.Invoke(id, Eref{}, []byte{1, 2, 3})
	assert.True(t, ir.IsCode(err, ir.ErrCodeSignatureMismatch))

	err = tbl.Invoke(99, Eref{}, nil)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnregisteredFunc))
}

func TestTable_UnknownClassAndPort(t *testing.T) {
	tbl := newTable(t, testClasses())
	_, err := tbl.Class("Nope")
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnknownClass))
	_, err = tbl.Lookup("Relay", "nope")
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnknownPort))

	names := []string{}
	for _, c := range tbl.Classes() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Accumulator", "Relay"}, names)
}

func TestClass_Validate(t *testing.T) {
	bad := &Class{Name: "Bad", InstanceSize: 4, Fields: []Field{{Name: "x", Offset: 0, Type: Float64}}}
	assert.Error(t, bad.Validate())

	empty := &Class{Name: "Empty", Dest: []DestPort{{Name: "in"}}}
	assert.Error(t, empty.Validate())

	dup := &Class{Name: "Dup", Src: []SrcPort{{Name: "o"}, {Name: "o"}}}
	assert.Error(t, dup.Validate())

	assert.NoError(t, testClasses()[0].Validate())
}

func TestClass_Lookups(t *testing.T) {
	c := testClasses()[0]
	f, err := c.Field("value")
	require.NoError(t, err)
	assert.Equal(t, 0, f.Offset)
	_, err = c.Field("nope")
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnknownField))
	_, err = c.SrcPort("nope")
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnknownPort))
	assert.True(t, c.HasDest(PortProcess))
}
