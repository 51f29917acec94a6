package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/substrate/internal/msg"
)

const minimal = `
name: minimal
description: "One pulse feeding one accumulator"
elements:
  - {path: /p, class: Pulse}
  - {path: /acc, class: Accumulator}
msgs:
  - {kind: one_to_one, src: /p, src_port: out, dst: /acc, dst_port: add}
run:
  - step: 1
assertions:
  - {type: time, expect: 0}
`

func TestLoadScenario_ValidFile(t *testing.T) {
	s := loadScenario(t, "sparse_network")
	assert.Equal(t, "sparse_network", s.Name)
	require.Len(t, s.Elements, 3)
	assert.Equal(t, "/cells/syn", s.Elements[2].Path)
	assert.Equal(t, uint32(6), s.Elements[2].N)
	require.Len(t, s.Msgs, 3)
	assert.Equal(t, msg.Sparse, s.Msgs[1].Kind)
	assert.Equal(t, 0.5, s.Msgs[1].Probability)
	require.NotNil(t, s.Runtime)
	assert.Equal(t, uint64(7), s.Runtime.Seed)
	assert.Equal(t, "final", s.Run[1].Dump)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimal))
	require.NoError(t, err)
	assert.Nil(t, s.Runtime)
	assert.Equal(t, int64(1), s.Run[0].Step)
	assert.Equal(t, uint32(0), s.Elements[0].N)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name, src, msg string
	}{
		{"malformed", "name: [", "failed to parse YAML"},
		{"unknown key", minimal + "extra: 1\n", "field extra not found"},
		{"no name", "description: d\n", "name is required"},
		{"no elements", "name: n\ndescription: d\n", "elements list"},
		{"bad kind", `
name: n
description: d
elements: [{path: /a, class: Pulse}]
msgs: [{kind: all_to_some, src: /a, src_port: out, dst: /a, dst_port: set}]
run: [{step: 1}]
assertions: [{type: time, expect: 0}]
`, "msgs[0]"},
		{"two ops in one run step", `
name: n
description: d
elements: [{path: /a, class: Pulse}]
run: [{step: 1, reinit: true}]
assertions: [{type: time, expect: 0}]
`, "exactly one of"},
		{"unknown assertion", `
name: n
description: d
elements: [{path: /a, class: Pulse}]
run: [{step: 1}]
assertions: [{type: trace_contains}]
`, "unknown assertion type"},
		{"unknown count", `
name: n
description: d
elements: [{path: /a, class: Pulse}]
run: [{step: 1}]
assertions: [{type: totals, counts: {spikes: 1}}]
`, `unknown count "spikes"`},
		{"unindexed field assertion", `
name: n
description: d
elements: [{path: /a, class: Pulse}]
run: [{step: 1}]
assertions: [{type: field, obj: /a, field: value, expect: 1}]
`, "indexed obj"},
		{"bad runtime", `
name: n
description: d
runtime: {threads: 1000}
elements: [{path: /a, class: Pulse}]
run: [{step: 1}]
assertions: [{type: time, expect: 0}]
`, "runtime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParseObj(t *testing.T) {
	tests := []struct {
		in   string
		path string
		idx  *objIndex
		bad  bool
	}{
		{in: "/a", path: "/a"},
		{in: "/a/b[3]", path: "/a/b", idx: &objIndex{index: 3}},
		{in: "/syn[2.5]", path: "/syn", idx: &objIndex{index: 2, entry: 5}},
		{in: "[1]", bad: true},
		{in: "/a[x]", bad: true},
		{in: "/a[1.y]", bad: true},
		{in: "/a[1", bad: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, idx, err := parseObj(tt.in)
			if tt.bad {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.path, p)
			assert.Equal(t, tt.idx, idx)
		})
	}
}
