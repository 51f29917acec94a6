package harness

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/substrate/internal/config"
	"github.com/roach88/substrate/internal/data"
	"github.com/roach88/substrate/internal/msg"
)

// Scenario builds a model, runs it and checks the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Runtime overrides the default cluster shape and clocks. Nil means
	// config.Default().
	Runtime *config.Runtime `yaml:"runtime,omitempty"`

	// RunID is the journal id; defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	Elements   []ElementSpec `yaml:"elements"`
	Fields     []FieldSpec   `yaml:"fields,omitempty"`
	Msgs       []MsgSpec     `yaml:"msgs,omitempty"`
	Use        []UseSpec     `yaml:"use,omitempty"`
	Run        []RunStep     `yaml:"run"`
	Assertions []Assertion   `yaml:"assertions"`
}

// ElementSpec creates one element. The parent is the path's directory and
// must already exist.
type ElementSpec struct {
	Path    string    `yaml:"path"`
	Class   string    `yaml:"class"`
	N       uint32    `yaml:"n"`
	Handler data.Kind `yaml:"handler,omitempty"`
}

// FieldSpec sets one field. Obj is "path", "path[i]" or "path[i.k]"; a
// bare path sets the field on every instance.
type FieldSpec struct {
	Obj   string `yaml:"obj"`
	Field string `yaml:"field"`
	Value any    `yaml:"value"`
}

// MsgSpec connects two elements.
type MsgSpec struct {
	Kind        msg.Kind `yaml:"kind"`
	Src         string   `yaml:"src"`
	SrcPort     string   `yaml:"src_port"`
	Dst         string   `yaml:"dst"`
	DstPort     string   `yaml:"dst_port"`
	Stride      int32    `yaml:"stride,omitempty"`
	Probability float64  `yaml:"probability,omitempty"`
	Seed        uint64   `yaml:"seed,omitempty"`
}

// UseSpec schedules the elements matching Pattern on a tick.
type UseSpec struct {
	Pattern string `yaml:"pattern"`
	Port    string `yaml:"port,omitempty"`
	Tick    int    `yaml:"tick"`
}

// RunStep is one entry of the run list. Exactly one field is set.
type RunStep struct {
	Step   int64      `yaml:"step,omitempty"`
	Start  float64    `yaml:"start,omitempty"`
	Reinit bool       `yaml:"reinit,omitempty"`
	Send   *SendSpec  `yaml:"send,omitempty"`
	Set    *FieldSpec `yaml:"set,omitempty"`
	Dump   string     `yaml:"dump,omitempty"`
}

// SendSpec injects a payload before the next step.
type SendSpec struct {
	Src    string `yaml:"src"`
	Port   string `yaml:"port"`
	Target string `yaml:"target,omitempty"`
	Args   []any  `yaml:"args"`
}

// Assertion checks the outcome of a run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Obj and Field address a field (field).
	Obj   string `yaml:"obj,omitempty"`
	Field string `yaml:"field,omitempty"`

	// Expect is the expected value (field, time).
	Expect any `yaml:"expect,omitempty"`

	// Tolerance is the absolute slack for float comparisons.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Counts is a subset of step totals (totals).
	Counts map[string]int `yaml:"counts,omitempty"`

	// Label names a dump (dump_rows).
	Label string `yaml:"label,omitempty"`

	// Count is the expected number of rows or steps (dump_rows, journal_steps).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertField        = "field"
	AssertTime         = "time"
	AssertTotals       = "totals"
	AssertDumpRows     = "dump_rows"
	AssertJournalSteps = "journal_steps"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(b)
}

// ParseScenario parses scenario YAML.
func ParseScenario(b []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(b))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Elements) == 0 {
		return fmt.Errorf("elements list is required and must be non-empty")
	}
	if len(s.Run) == 0 {
		return fmt.Errorf("run list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Runtime != nil {
		// Absent keys keep their defaults.
		rt := config.Default()
		overlay(&rt, *s.Runtime)
		if err := rt.Validate(); err != nil {
			return fmt.Errorf("runtime: %w", err)
		}
	}

	for i, e := range s.Elements {
		if e.Path == "" || e.Class == "" {
			return fmt.Errorf("elements[%d]: path and class are required", i)
		}
	}
	for i, f := range s.Fields {
		if err := validateField(f); err != nil {
			return fmt.Errorf("fields[%d]: %w", i, err)
		}
	}
	for i, m := range s.Msgs {
		if _, err := msg.ParseKind(string(m.Kind)); err != nil {
			return fmt.Errorf("msgs[%d]: %w", i, err)
		}
		if m.Src == "" || m.Dst == "" || m.SrcPort == "" || m.DstPort == "" {
			return fmt.Errorf("msgs[%d]: src, src_port, dst and dst_port are required", i)
		}
	}
	for i, st := range s.Run {
		if err := validateRunStep(st); err != nil {
			return fmt.Errorf("run[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateField(f FieldSpec) error {
	if f.Obj == "" || f.Field == "" || f.Value == nil {
		return fmt.Errorf("obj, field and value are required")
	}
	_, _, err := parseObj(f.Obj)
	return err
}

func validateRunStep(st RunStep) error {
	set := 0
	if st.Step != 0 {
		set++
	}
	if st.Start != 0 {
		set++
	}
	if st.Reinit {
		set++
	}
	if st.Send != nil {
		set++
	}
	if st.Set != nil {
		set++
		if err := validateField(*st.Set); err != nil {
			return fmt.Errorf("set: %w", err)
		}
	}
	if st.Dump != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of step, start, reinit, send, set, dump is required")
	}
	if st.Step < 0 || st.Start < 0 {
		return fmt.Errorf("step and start must be positive")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertField:
		if a.Obj == "" || a.Field == "" || a.Expect == nil {
			return fmt.Errorf("assertions[%d]: obj, field and expect are required for field", index)
		}
		if _, idx, err := parseObj(a.Obj); err != nil || idx == nil {
			return fmt.Errorf("assertions[%d]: field needs an indexed obj like /a[0]", index)
		}
	case AssertTime:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for time", index)
		}
	case AssertTotals:
		if len(a.Counts) == 0 {
			return fmt.Errorf("assertions[%d]: counts is required for totals", index)
		}
		for k := range a.Counts {
			if _, ok := totalsField[k]; !ok {
				return fmt.Errorf("assertions[%d]: unknown count %q", index, k)
			}
		}
	case AssertDumpRows:
		if a.Label == "" {
			return fmt.Errorf("assertions[%d]: label is required for dump_rows", index)
		}
	case AssertJournalSteps:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for journal_steps", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// objIndex is the optional [i] or [i.k] suffix of an object reference.
type objIndex struct {
	index, entry uint32
}

// parseObj splits "path[i.k]" into its path and index.
func parseObj(s string) (string, *objIndex, error) {
	open := strings.IndexByte(s, '[')
	if open < 0 {
		return s, nil, nil
	}
	if !strings.HasSuffix(s, "]") || open == 0 {
		return "", nil, fmt.Errorf("malformed object reference %q", s)
	}
	inner := s[open+1 : len(s)-1]
	var idx objIndex
	i, k, hasEntry := strings.Cut(inner, ".")
	n, err := strconv.ParseUint(i, 10, 32)
	if err != nil {
		return "", nil, fmt.Errorf("malformed index in %q: %w", s, err)
	}
	idx.index = uint32(n)
	if hasEntry {
		n, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return "", nil, fmt.Errorf("malformed entry in %q: %w", s, err)
		}
		idx.entry = uint32(n)
	}
	return s[:open], &idx, nil
}

// overlay copies the non-zero fields of o onto rt.
func overlay(rt *config.Runtime, o config.Runtime) {
	if o.Nodes != 0 {
		rt.Nodes = o.Nodes
	}
	if o.Threads != 0 {
		rt.Threads = o.Threads
	}
	if o.Seed != 0 {
		rt.Seed = o.Seed
	}
	if o.Database != "" {
		rt.Database = o.Database
	}
	if o.LogLevel != "" {
		rt.LogLevel = o.LogLevel
	}
	if len(o.Clocks) > 0 {
		rt.Clocks = o.Clocks
	}
}
