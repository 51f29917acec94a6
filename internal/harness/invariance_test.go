package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/substrate/internal/engine"
)

func TestCheckInvariance_Scenarios(t *testing.T) {
	for _, name := range []string{"pulse_relay_chain", "sparse_network", "send_and_set"} {
		t.Run(name, func(t *testing.T) {
			results, err := CheckInvariance(loadScenario(t, name), nil)
			require.NoError(t, err)
			require.Len(t, results, len(DefaultShapes))
			for _, r := range results {
				assert.True(t, r.Pass, "%dx%d: %s", r.Nodes, r.Threads, r.Error)
			}
		})
	}
}

func TestCheckInvariance_StopsOnRunError(t *testing.T) {
	s := loadScenario(t, "pulse_relay_chain")
	s.Elements[0].Class = "Nope"
	results, err := CheckInvariance(s, []engine.Config{{Nodes: 1, Threads: 1}, {Nodes: 2, Threads: 1}})
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Error)
}

func TestDiffResults(t *testing.T) {
	a := &Result{Pass: true, Trace: []TraceEvent{{Op: "step", Steps: 1, Processed: 4}}}
	b := &Result{Pass: true, Trace: []TraceEvent{{Op: "step", Steps: 1, Processed: 4}}}
	assert.Empty(t, diffResults(a, b))

	b.Trace[0].Processed = 5
	assert.Contains(t, diffResults(a, b), "trace[0]")

	b.Trace = append(b.Trace, TraceEvent{})
	assert.Contains(t, diffResults(a, b), "trace length")

	b.Pass = false
	assert.Contains(t, diffResults(a, b), "pass")
}

func TestInvarianceError_Message(t *testing.T) {
	err := &InvarianceError{
		Scenario:  "s",
		Reference: engine.Config{Nodes: 1, Threads: 1},
		Shape:     engine.Config{Nodes: 2, Threads: 3},
		Diff:      "trace length 1 vs 2",
	}
	assert.Equal(t, `scenario "s" diverges on 2 node(s) x 3 thread(s) from 1 x 1: trace length 1 vs 2`, err.Error())
}
