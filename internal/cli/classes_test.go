package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findClass(out ClassesOutput, name string) (ClassInfo, bool) {
	for _, c := range out.Classes {
		if c.Name == name {
			return c, true
		}
	}
	return ClassInfo{}, false
}

func TestDescribeClasses(t *testing.T) {
	out, err := describeClasses()
	require.NoError(t, err)
	assert.NotEmpty(t, out.Fingerprint)
	assert.Positive(t, out.Funcs)

	pulse, ok := findClass(out, "Pulse")
	require.True(t, ok)
	require.Len(t, pulse.Fields, 3)
	assert.Equal(t, FieldInfo{Name: "value", Type: "f64", Offset: 0}, pulse.Fields[0])
	require.Len(t, pulse.Src, 1)
	assert.Equal(t, PortInfo{Name: "out", Sig: "(f64)"}, pulse.Src[0])

	relay, ok := findClass(out, "Relay")
	require.True(t, ok)
	require.NotEmpty(t, relay.Dest)
	for _, p := range relay.Dest {
		assert.NotEmpty(t, p.Funcs, "dest port %s has no handler", p.Name)
	}
}

func TestDescribeClasses_Deterministic(t *testing.T) {
	a, err := describeClasses()
	require.NoError(t, err)
	b, err := describeClasses()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestClassesCommand(t *testing.T) {
	out, err := execute(t, "classes")
	require.NoError(t, err)
	assert.Contains(t, out, "Function table:")
	assert.Contains(t, out, "Accumulator (")
	assert.Contains(t, out, "dest  add")

	out, err = execute(t, "--format", "json", "classes")
	require.NoError(t, err)
	var resp struct {
		Status string        `json:"status"`
		Data   ClassesOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	_, ok := findClass(resp.Data, "IntFire")
	assert.True(t, ok)
}
