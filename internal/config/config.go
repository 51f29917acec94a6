// Package config loads runtime configuration for a substrate cluster from
// YAML or CUE.
//
// CUE input is unified with the embedded #Runtime schema, which supplies
// defaults and bounds. YAML input starts from Default and is checked with
// Validate, which enforces the same bounds.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/substrate/internal/engine"
)

//go:embed runtime.cue
var schemaCUE string

// Bounds shared by Validate and the CUE schema.
const (
	MaxNodes   = 64
	MaxThreads = 256
	MaxTick    = 15
)

// Runtime configures one cluster.
type Runtime struct {
	Nodes    int     `json:"nodes" yaml:"nodes"`
	Threads  int     `json:"threads" yaml:"threads"`
	Seed     uint64  `json:"seed" yaml:"seed"` // default seed for Sparse msgs that set none
	Database string  `json:"database" yaml:"database"`
	LogLevel string  `json:"log_level" yaml:"log_level"`
	Clocks   []Clock `json:"clocks" yaml:"clocks"`
}

// Clock sets one tick's dt and phase.
type Clock struct {
	Tick  int     `json:"tick" yaml:"tick"`
	Dt    float64 `json:"dt" yaml:"dt"`
	Phase float64 `json:"phase" yaml:"phase"`
}

// Error is a configuration problem. Pos is set for CUE input.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default is a single-node, single-thread runtime with no clocks set.
func Default() Runtime {
	return Runtime{Nodes: 1, Threads: 1, Seed: 1, LogLevel: "info", Clocks: []Clock{}}
}

// Engine returns the cluster shape.
func (r Runtime) Engine() engine.Config {
	return engine.Config{Nodes: r.Nodes, Threads: r.Threads}
}

// Level parses LogLevel.
func (r Runtime) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(r.LogLevel)); err != nil {
		return 0, &Error{Field: "log_level", Message: fmt.Sprintf("unknown level %q", r.LogLevel)}
	}
	return l, nil
}

// Validate checks the bounds the CUE schema enforces.
func (r Runtime) Validate() error {
	switch {
	case r.Nodes < 1 || r.Nodes > MaxNodes:
		return &Error{Field: "nodes", Message: fmt.Sprintf("must be in [1, %d], got %d", MaxNodes, r.Nodes)}
	case r.Threads < 1 || r.Threads > MaxThreads:
		return &Error{Field: "threads", Message: fmt.Sprintf("must be in [1, %d], got %d", MaxThreads, r.Threads)}
	}
	if _, err := r.Level(); err != nil {
		return err
	}
	seen := make(map[int]bool, len(r.Clocks))
	for i, c := range r.Clocks {
		field := fmt.Sprintf("clocks[%d]", i)
		switch {
		case c.Tick < 0 || c.Tick > MaxTick:
			return &Error{Field: field, Message: fmt.Sprintf("tick must be in [0, %d], got %d", MaxTick, c.Tick)}
		case c.Dt <= 0:
			return &Error{Field: field, Message: fmt.Sprintf("dt must be positive, got %g", c.Dt)}
		case c.Phase < 0:
			return &Error{Field: field, Message: fmt.Sprintf("phase must not be negative, got %g", c.Phase)}
		case seen[c.Tick]:
			return &Error{Field: field, Message: fmt.Sprintf("tick %d set twice", c.Tick)}
		}
		seen[c.Tick] = true
	}
	return nil
}

// Load reads a .yaml, .yml or .cue file.
func Load(path string) (Runtime, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Runtime{}, fmt.Errorf("read config: %w", err)
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return LoadYAML(b)
	case ".cue":
		return LoadCUE(b, filepath.Base(path))
	default:
		return Runtime{}, &Error{Message: fmt.Sprintf("unsupported config format %q", filepath.Ext(path))}
	}
}

// LoadYAML decodes YAML over Default. Unknown keys are rejected.
func LoadYAML(b []byte) (Runtime, error) {
	r := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil && err != io.EOF {
		return Runtime{}, &Error{Message: fmt.Sprintf("decode yaml: %v", err)}
	}
	if r.Clocks == nil {
		r.Clocks = []Clock{}
	}
	if err := r.Validate(); err != nil {
		return Runtime{}, err
	}
	return r, nil
}

// LoadCUE unifies src with #Runtime and decodes the result. filename is
// used in error positions.
func LoadCUE(src []byte, filename string) (Runtime, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("runtime.cue"))
	if err := schema.Err(); err != nil {
		return Runtime{}, fmt.Errorf("compile runtime schema: %w", err)
	}
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Runtime{}, formatCUEError(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Runtime")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Runtime{}, formatCUEError(err)
	}

	var r Runtime
	if err := unified.Decode(&r); err != nil {
		return Runtime{}, formatCUEError(err)
	}
	if r.Clocks == nil {
		r.Clocks = []Clock{}
	}
	if err := r.Validate(); err != nil {
		return Runtime{}, err
	}
	return r, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	ce := &Error{Field: "cue", Message: first.Error()}
	if pos := errors.Positions(first); len(pos) > 0 {
		ce.Pos = pos[0]
	}
	return ce
}
