package harness

import (
	"github.com/roach88/substrate/internal/engine"
)

// TraceEvent is one executed run step. Counts are summed over nodes and
// cover only the quantities that do not depend on how the model is
// sharded, so the same scenario traces identically on any cluster shape.
type TraceEvent struct {
	Op        string  `json:"op"`
	Arg       string  `json:"arg,omitempty"`
	Steps     int64   `json:"steps"`
	Time      float64 `json:"time"`
	Processed int     `json:"processed"`
	Sent      int     `json:"sent"`
	Delivered int     `json:"delivered"`
	Digest    string  `json:"digest,omitempty"` // dump ops only
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// RunID is the journal id of the run.
	RunID string `json:"run_id"`

	// Trace lists the executed run steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Dumps holds the snapshots taken by dump steps, keyed by label.
	Dumps map[string][]engine.DumpRow `json:"-"`

	// Steps holds every node's statistics for every step.
	Steps []engine.StepStats `json:"-"`

	// Time is the simulated time at the end of the run.
	Time float64 `json:"time"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Dumps:  make(map[string][]engine.DumpRow),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Totals sums the statistics of every step and node.
func (r *Result) Totals() engine.StepStats {
	return engine.Totals(r.Steps)
}
