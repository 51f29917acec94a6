package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		path, src, want string
	}{
		{"runtime.cue", "nodes: 2\n", KindConfig},
		{"runtime.yaml", "nodes: 2\n", KindConfig},
		{"chain.yaml", chainScenario, KindScenario},
		{"broken.yaml", ":\n  - [", KindConfig},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, detectKind(tt.path, []byte(tt.src)))
		})
	}
}

func TestValidate_AllValid(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeFile(t, dir, "chain.yaml", chainScenario),
		writeFile(t, dir, "runtime.yaml", "nodes: 2\nthreads: 4\n"),
		writeFile(t, dir, "runtime.cue", "nodes: 2\nclocks: [{tick: 0, dt: 0.1}]\n"),
	}

	out, err := execute(t, append([]string{"validate"}, files...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "chain.yaml (scenario)")
	assert.Contains(t, out, "runtime.yaml (config)")
	assert.Contains(t, out, "runtime.cue (config)")
}

func TestValidate_Invalid(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "runtime.yaml", "nodes: 2\n")
	badYAML := writeFile(t, dir, "bad.yaml", "nodes: 0\n")
	badCUE := writeFile(t, dir, "bad.cue", "nodes: 1\nthreads: \"four\"\n")
	badScenario := writeFile(t, dir, "scenario.yaml", "name: x\nelements: []\n")

	out, err := execute(t, "--format", "json", "validate", good, badYAML, badCUE, badScenario)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidInput, resp.Error.Code)
	require.Len(t, resp.Data.Files, 4)

	assert.True(t, resp.Data.Files[0].Valid)

	yamlRes := resp.Data.Files[1]
	assert.False(t, yamlRes.Valid)
	require.Len(t, yamlRes.Errors, 1)
	assert.Equal(t, "nodes", yamlRes.Errors[0].Field)

	cueRes := resp.Data.Files[2]
	assert.False(t, cueRes.Valid)
	require.Len(t, cueRes.Errors, 1)
	assert.Equal(t, "cue", cueRes.Errors[0].Field)

	scRes := resp.Data.Files[3]
	assert.Equal(t, KindScenario, scRes.Kind)
	assert.False(t, scRes.Valid)
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", "/nonexistent/runtime.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
