package harness

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/roach88/substrate/internal/dispatch"
	"github.com/roach88/substrate/internal/engine"
	"github.com/roach88/substrate/internal/store"
)

// AssertionContext gives assertions access to the finished run.
type AssertionContext struct {
	Ctx     context.Context
	Store   *store.Store
	Cluster *engine.Cluster
	RunID   string
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s steps=%d t=%g processed=%d sent=%d delivered=%d\n",
				i+1, ev.Op, ev.Arg, ev.Steps, ev.Time, ev.Processed, ev.Sent, ev.Delivered)
		}
	}
	return buf.String()
}

// totalsField maps the names accepted by totals assertions to counters.
var totalsField = map[string]func(engine.StepStats) int{
	"fired":     func(s engine.StepStats) int { return s.Fired },
	"processed": func(s engine.StepStats) int { return s.Processed },
	"sent":      func(s engine.StepStats) int { return s.Sent },
	"delivered": func(s engine.StepStats) int { return s.Delivered },
	"non_local": func(s engine.StepStats) int { return s.NonLocal },
	"stale":     func(s engine.StepStats) int { return s.Stale },
	"remote":    func(s engine.StepStats) int { return s.Remote },
	"errors":    func(s engine.StepStats) int { return s.Errors },
}

// EvaluateAssertions checks every assertion and returns the failure
// messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertField:
			err = assertField(a, actx)
		case AssertTime:
			err = assertTime(result, a)
		case AssertTotals:
			err = assertTotals(result, a)
		case AssertDumpRows:
			err = assertDumpRows(result, a)
		case AssertJournalSteps:
			err = assertJournalSteps(result, a, actx)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func assertField(a Assertion, actx *AssertionContext) error {
	h := &Harness{cluster: actx.Cluster}
	info, objs, err := h.objects(a.Obj)
	if err != nil {
		return err
	}
	cls, err := h.class(info.Class)
	if err != nil {
		return err
	}
	fd, err := cls.Field(a.Field)
	if err != nil {
		return err
	}
	b, err := actx.Cluster.GetField(objs[0], a.Field)
	if err != nil {
		return err
	}
	vals, err := dispatch.Sig(fd.Type).Decode(b)
	if err != nil {
		return err
	}
	if !valuesMatch(a.Expect, vals[0], a.Tolerance) {
		return &AssertionError{
			Type:     AssertField,
			Expected: fmt.Sprintf("%s.%s = %v", a.Obj, a.Field, a.Expect),
			Actual:   fmt.Sprintf("%v", vals[0]),
		}
	}
	return nil
}

func assertTime(result *Result, a Assertion) error {
	if !valuesMatch(a.Expect, result.Time, a.Tolerance) {
		return &AssertionError{
			Type:     AssertTime,
			Expected: fmt.Sprintf("time %v", a.Expect),
			Actual:   fmt.Sprintf("time %g", result.Time),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertTotals(result *Result, a Assertion) error {
	tot := result.Totals()
	keys := make([]string, 0, len(a.Counts))
	for k := range a.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var diffs []string
	for _, k := range keys {
		get, ok := totalsField[k]
		if !ok {
			return fmt.Errorf("unknown count %q", k)
		}
		if got := get(tot); got != a.Counts[k] {
			diffs = append(diffs, fmt.Sprintf("%s=%d (want %d)", k, got, a.Counts[k]))
		}
	}
	if len(diffs) > 0 {
		return &AssertionError{
			Type:     AssertTotals,
			Expected: fmt.Sprintf("%v", a.Counts),
			Actual:   strings.Join(diffs, ", "),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertDumpRows(result *Result, a Assertion) error {
	rows, ok := result.Dumps[a.Label]
	if !ok {
		return &AssertionError{Type: AssertDumpRows, Expected: fmt.Sprintf("dump %q", a.Label), Actual: "no such dump"}
	}
	if len(rows) != a.Count {
		return &AssertionError{
			Type:     AssertDumpRows,
			Expected: fmt.Sprintf("%d rows in %q", a.Count, a.Label),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	return nil
}

func assertJournalSteps(result *Result, a Assertion, actx *AssertionContext) error {
	steps, err := actx.Store.ReadSteps(actx.Ctx, actx.RunID)
	if err != nil {
		return err
	}
	distinct := make(map[int64]bool)
	for _, s := range steps {
		distinct[s.Step] = true
	}
	if len(distinct) != a.Count {
		return &AssertionError{
			Type:     AssertJournalSteps,
			Expected: fmt.Sprintf("%d journalled steps", a.Count),
			Actual:   fmt.Sprintf("%d", len(distinct)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// valuesMatch compares an expected YAML value with a decoded field value.
// Numbers compare as float64 within tol.
func valuesMatch(want, got any, tol float64) bool {
	if wb, ok := want.(bool); ok {
		gb, ok := got.(bool)
		return ok && wb == gb
	}
	w, ok1 := number(want)
	g, ok2 := number(got)
	if !ok1 || !ok2 {
		return false
	}
	return math.Abs(w-g) <= tol
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint32:
		return float64(x), true
	}
	return 0, false
}
