package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCommand_UpdateThenMatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chain.yaml", chainScenario)

	out, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ chain\n")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	out, err = execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ chain (golden updated)")
	golden, err := os.ReadFile(filepath.Join(dir, "golden", "chain.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "chain"`)

	// A different shape must reproduce the same golden trace.
	out, err = execute(t, "test", dir, "--nodes", "2", "--threads", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ chain (golden match)")
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chain.yaml", chainScenario)
	writeFile(t, dir, "golden/chain.golden", "{}\n")

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "golden file mismatch")
}

func TestTestCommand_FilterAndJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chain.yaml", chainScenario)
	writeFile(t, dir, "broken.yaml", strings.Replace(chainScenario, "expect: 8", "expect: 0.5", 1))
	writeFile(t, dir, "notes.txt", "ignored")

	out, err := execute(t, "--format", "json", "test", dir)
	require.Error(t, err)
	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)

	out, err = execute(t, "--format", "json", "test", dir, "--filter", "ch*")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "chain", resp.Data.Scenarios[0].Name)
	assert.Equal(t, "missing", resp.Data.Scenarios[0].Golden)
}

func TestTestCommand_Empty(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFindScenarioFiles_SkipsGolden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "x")
	writeFile(t, dir, "sub/b.yml", "x")
	writeFile(t, dir, "golden/c.yaml", "x")

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "sub", "b.yml")}, files)

	_, err = findScenarioFiles(dir, "[")
	assert.Error(t, err)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("s", "golden", "chain.golden"), goldenFilePath(filepath.Join("s", "chain.yaml")))
}
