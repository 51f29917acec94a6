package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/substrate/internal/config"
	"github.com/roach88/substrate/internal/harness"
)

// File kinds accepted by validate.
const (
	KindConfig   = "config"
	KindScenario = "scenario"
)

// ValidationError is one problem found in one file.
type ValidationError struct {
	File    string `json:"file"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// FileResult is the outcome for one file.
type FileResult struct {
	File   string            `json:"file"`
	Kind   string            `json:"kind"`
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool         `json:"valid"`
	Files []FileResult `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate runtime configs and scenarios without running them",
		Long: `Validate runtime config files (.cue, or .yaml without an elements list)
and scenario files (.yaml with an elements list).

CUE configs are unified with the runtime schema, so bounds and defaults are
checked by CUE itself. YAML files reject unknown keys.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	result := ValidationResult{Valid: true, Files: make([]FileResult, 0, len(paths))}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read file", err)
		}
		kind := detectKind(p, b)
		f.VerboseLog("Validating %s as %s", p, kind)

		fr := FileResult{File: p, Kind: kind, Valid: true}
		if err := validateFile(p, kind, b); err != nil {
			fr.Valid = false
			fr.Errors = append(fr.Errors, toValidationError(p, err))
			result.Valid = false
		}
		result.Files = append(result.Files, fr)
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeInvalidInput, Message: "validation failed"}
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else {
		for _, fr := range result.Files {
			if fr.Valid {
				fmt.Fprintf(f.Writer, "✓ %s (%s)\n", fr.File, fr.Kind)
				continue
			}
			fmt.Fprintf(f.Writer, "✗ %s (%s)\n", fr.File, fr.Kind)
			for _, e := range fr.Errors {
				if e.Line > 0 {
					fmt.Fprintf(f.Writer, "  line %d: %s\n", e.Line, e.Message)
				} else {
					fmt.Fprintf(f.Writer, "  %s\n", e.Message)
				}
			}
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

// detectKind classifies a file. YAML with a top-level elements key is a
// scenario; everything else is a runtime config.
func detectKind(path string, b []byte) string {
	if filepath.Ext(path) == ".cue" {
		return KindConfig
	}
	var top map[string]any
	if err := yaml.Unmarshal(b, &top); err == nil {
		if _, ok := top["elements"]; ok {
			return KindScenario
		}
	}
	return KindConfig
}

func validateFile(path, kind string, b []byte) error {
	switch kind {
	case KindScenario:
		_, err := harness.ParseScenario(b)
		return err
	default:
		if filepath.Ext(path) == ".cue" {
			_, err := config.LoadCUE(b, path)
			return err
		}
		_, err := config.LoadYAML(b)
		return err
	}
}

func toValidationError(file string, err error) ValidationError {
	ve := ValidationError{File: file, Message: err.Error()}
	var ce *config.Error
	if errors.As(err, &ce) {
		ve.Field = ce.Field
		ve.Message = ce.Message
		if ce.Pos.IsValid() {
			ve.Line = ce.Pos.Line()
		}
	}
	return ve
}
