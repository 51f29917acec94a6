package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/substrate/internal/engine"
	"github.com/roach88/substrate/internal/harness"
	"github.com/roach88/substrate/internal/store"
)

func TestRunScenario_Text(t *testing.T) {
	path := writeFile(t, t.TempDir(), "chain.yaml", chainScenario)

	out, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Scenario: chain")
	assert.Contains(t, out, "(1 node(s) x 1 thread(s))")
	assert.Contains(t, out, "processed=8 sent=8 delivered=24")
	assert.Contains(t, out, "digest=")
	assert.Contains(t, out, "✓ chain passed at t=1.5")
}

func TestRunScenario_JSONWithShapeOverride(t *testing.T) {
	path := writeFile(t, t.TempDir(), "chain.yaml", chainScenario)

	out, err := execute(t, "--format", "json", "run", path, "--nodes", "3", "--threads", "2")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		RunID  string    `json:"run_id"`
		Data   RunOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, resp.RunID, resp.Data.RunID)
	assert.Equal(t, 3, resp.Data.Nodes)
	assert.Equal(t, 2, resp.Data.Threads)
	assert.True(t, resp.Data.Pass)
	assert.Equal(t, 24, resp.Data.Totals.Delivered)
}

func TestRunScenario_JournalsToDatabase(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chain.yaml", chainScenario)
	db := filepath.Join(dir, "journal.db")

	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Database:    db,
		RunIDs:      engine.NewFixedRunIDs("run-fixed"),
	}
	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, runScenarioFile(opts, path, cmd))
	assert.Contains(t, buf.String(), "Run: run-fixed")

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.ReadRun(context.Background(), "run-fixed")
	require.NoError(t, err)
	assert.Equal(t, "chain", run.Scenario)
	assert.Equal(t, int64(4), run.Steps)
	assert.InDelta(t, 1.5, run.SimTime, 1e-12)

	labels, err := st.DumpLabels(context.Background(), "run-fixed")
	require.NoError(t, err)
	assert.Equal(t, []string{"final"}, labels)
}

func TestRunScenario_ConfigReplacesRuntime(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chain.yaml", chainScenario)
	cfg := writeFile(t, dir, "runtime.cue", "nodes: 2\nthreads: 2\nclocks: [{tick: 0, dt: 0.5}]\n")

	out, err := execute(t, "run", path, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "(2 node(s) x 2 thread(s))")
}

func TestRunScenario_FailedAssertion(t *testing.T) {
	src := strings.Replace(chainScenario, "expect: 8", "expect: 9", 1)
	path := writeFile(t, t.TempDir(), "chain.yaml", src)

	out, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ chain failed")
	assert.Contains(t, out, "assertions[0]")
}

func TestRunScenario_CommandErrors(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.yaml", "name: bad\n")

	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"missing file", []string{"run", filepath.Join(dir, "nope.yaml")}, "failed to load scenario"},
		{"invalid scenario", []string{"run", bad}, "failed to load scenario"},
		{"missing config", []string{"run", writeFile(t, dir, "ok.yaml", chainScenario), "--config", filepath.Join(dir, "nope.cue")}, "failed to load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRunIDsFor(t *testing.T) {
	s := mustParse(t, chainScenario)
	assert.IsType(t, engine.UUIDv7RunIDs{}, runIDsFor(nil, s))

	s.RunID = "pinned"
	assert.Equal(t, "pinned", runIDsFor(nil, s).Generate())

	g := engine.NewFixedRunIDs("override")
	assert.Equal(t, g, runIDsFor(g, s))
}

func mustParse(t *testing.T, src string) *harness.Scenario {
	t.Helper()
	s, err := harness.ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestPick(t *testing.T) {
	assert.Equal(t, 4, pick(4, 1))
	assert.Equal(t, 1, pick(0, 1))
}
