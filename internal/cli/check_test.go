package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/substrate/internal/engine"
	"github.com/roach88/substrate/internal/harness"
)

func TestParseShapes(t *testing.T) {
	shapes, err := parseShapes("")
	require.NoError(t, err)
	assert.Equal(t, harness.DefaultShapes, shapes)

	shapes, err = parseShapes("1x1, 2x4")
	require.NoError(t, err)
	assert.Equal(t, []engine.Config{{Nodes: 1, Threads: 1}, {Nodes: 2, Threads: 4}}, shapes)

	for _, bad := range []string{"2", "0x1", "1x0", "ax1", "65x1", "1x257"} {
		_, err := parseShapes(bad)
		assert.Error(t, err, bad)
	}
}

func TestCheckCommand_Invariant(t *testing.T) {
	path := writeFile(t, t.TempDir(), "chain.yaml", chainScenario)

	out, err := execute(t, "check", path, "--shapes", "1x1,2x2,3x1")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2x2")
	assert.Contains(t, out, "✓ chain is identical on 3 shape(s)")
}

func TestCheckCommand_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "chain.yaml", chainScenario)

	out, err := execute(t, "--format", "json", "check", path, "--shapes", "1x1,2x1")
	require.NoError(t, err)
	var resp struct {
		Status string      `json:"status"`
		Data   CheckOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "chain", resp.Data.Scenario)
	assert.Len(t, resp.Data.Shapes, 2)
	assert.Empty(t, resp.Data.Diverged)
}

func TestCheckCommand_FailingScenario(t *testing.T) {
	src := strings.Replace(chainScenario, "expect: 1.5", "expect: 2", 1)
	path := writeFile(t, t.TempDir(), "chain.yaml", src)

	out, err := execute(t, "check", path, "--shapes", "1x1,2x1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ 1x1")
}

func TestCheckCommand_BadShapes(t *testing.T) {
	path := writeFile(t, t.TempDir(), "chain.yaml", chainScenario)

	_, err := execute(t, "check", path, "--shapes", "1by1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
