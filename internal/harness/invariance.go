package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/substrate/internal/engine"
)

// ShapeResult is the outcome of one scenario run on one cluster shape.
type ShapeResult struct {
	Nodes   int    `json:"nodes"`
	Threads int    `json:"threads"`
	Pass    bool   `json:"pass"`
	Error   string `json:"error,omitempty"`
}

// InvarianceError reports the first shape whose run diverged from the
// reference shape.
type InvarianceError struct {
	Scenario  string
	Reference engine.Config
	Shape     engine.Config
	Diff      string
}

// Error implements the error interface.
func (e *InvarianceError) Error() string {
	return fmt.Sprintf("scenario %q diverges on %d node(s) x %d thread(s) from %d x %d: %s",
		e.Scenario, e.Shape.Nodes, e.Shape.Threads, e.Reference.Nodes, e.Reference.Threads, e.Diff)
}

// DefaultShapes is the set of cluster shapes CheckInvariance uses when
// none are given.
var DefaultShapes = []engine.Config{
	{Nodes: 1, Threads: 1},
	{Nodes: 1, Threads: 4},
	{Nodes: 2, Threads: 1},
	{Nodes: 2, Threads: 3},
	{Nodes: 4, Threads: 2},
}

// CheckInvariance runs s on every shape and requires identical traces,
// including dump digests, and identical assertion outcomes. The first
// shape is the reference.
func CheckInvariance(s *Scenario, shapes []engine.Config, opts ...Option) ([]ShapeResult, error) {
	if len(shapes) == 0 {
		shapes = DefaultShapes
	}

	var (
		ref     *Result
		results []ShapeResult
	)
	for _, shape := range shapes {
		o := append(append([]Option(nil), opts...), WithShape(shape.Nodes, shape.Threads))
		res, err := Run(s, o...)
		sr := ShapeResult{Nodes: shape.Nodes, Threads: shape.Threads}
		if err != nil {
			sr.Error = err.Error()
			results = append(results, sr)
			return results, fmt.Errorf("%d x %d: %w", shape.Nodes, shape.Threads, err)
		}
		sr.Pass = res.Pass
		if !res.Pass {
			sr.Error = strings.Join(res.Errors, "; ")
		}
		results = append(results, sr)

		if ref == nil {
			ref = res
			continue
		}
		if diff := diffResults(ref, res); diff != "" {
			return results, &InvarianceError{Scenario: s.Name, Reference: shapes[0], Shape: shape, Diff: diff}
		}
	}
	return results, nil
}

func diffResults(a, b *Result) string {
	if a.Pass != b.Pass {
		return fmt.Sprintf("pass %v vs %v", a.Pass, b.Pass)
	}
	if len(a.Trace) != len(b.Trace) {
		return fmt.Sprintf("trace length %d vs %d", len(a.Trace), len(b.Trace))
	}
	for i := range a.Trace {
		if a.Trace[i] != b.Trace[i] {
			return fmt.Sprintf("trace[%d] %+v vs %+v", i, a.Trace[i], b.Trace[i])
		}
	}
	return ""
}
