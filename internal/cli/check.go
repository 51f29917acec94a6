package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/substrate/internal/config"
	"github.com/roach88/substrate/internal/engine"
	"github.com/roach88/substrate/internal/harness"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Shapes string
}

// CheckOutput is the JSON payload of the check command.
type CheckOutput struct {
	Scenario string                `json:"scenario"`
	Shapes   []harness.ShapeResult `json:"shapes"`
	Diverged string                `json:"diverged,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <scenario.yaml>",
		Short: "Verify a scenario behaves the same on every cluster shape",
		Long: `Run a scenario on several node and thread layouts and require identical
traces, dump digests and assertion outcomes. The first shape is the
reference.

Examples:
  substrate check scenarios/chain.yaml
  substrate check scenarios/chain.yaml --shapes 1x1,2x4,8x1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Shapes, "shapes", "", "comma-separated NODESxTHREADS list (default 1x1,1x4,2x1,2x3,4x2)")

	return cmd
}

func runCheck(opts *CheckOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	shapes, err := parseShapes(opts.Shapes)
	if err != nil {
		return f.Fail(ErrCodeInvalidInput, WrapExitError(ExitCommandError, "invalid --shapes", err))
	}
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return f.Fail(ErrCodeInvalidInput, WrapExitError(ExitCommandError, "failed to load scenario", err))
	}

	results, err := harness.CheckInvariance(scenario, shapes)
	out := CheckOutput{Scenario: scenario.Name, Shapes: results}

	var inv *harness.InvarianceError
	switch {
	case errors.As(err, &inv):
		out.Diverged = inv.Error()
	case err != nil:
		return f.Fail(ErrCodeRunFailed, WrapExitError(ExitFailure, "scenario execution failed", err))
	}

	failed := out.Diverged != ""
	for _, r := range results {
		if !r.Pass {
			failed = true
		}
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: out}
		if failed {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeDiverged, Message: "scenario is not shape invariant or failed"}
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else {
		w := f.Writer
		for _, r := range results {
			mark := "✓"
			if !r.Pass {
				mark = "✗"
			}
			fmt.Fprintf(w, "%s %dx%d", mark, r.Nodes, r.Threads)
			if r.Error != "" {
				fmt.Fprintf(w, "  %s", r.Error)
			}
			fmt.Fprintln(w)
		}
		if out.Diverged != "" {
			fmt.Fprintf(w, "\n✗ %s\n", out.Diverged)
		} else if !failed {
			fmt.Fprintf(w, "\n✓ %s is identical on %d shape(s)\n", scenario.Name, len(results))
		}
	}

	if failed {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed the shape check", scenario.Name))
	}
	return nil
}

// parseShapes parses "1x1,2x4". An empty string selects the defaults.
func parseShapes(s string) ([]engine.Config, error) {
	if strings.TrimSpace(s) == "" {
		return harness.DefaultShapes, nil
	}
	var shapes []engine.Config
	for _, part := range strings.Split(s, ",") {
		n, t, ok := strings.Cut(strings.TrimSpace(part), "x")
		if !ok {
			return nil, fmt.Errorf("shape %q: want NODESxTHREADS", part)
		}
		nodes, err := strconv.Atoi(n)
		if err != nil || nodes < 1 || nodes > config.MaxNodes {
			return nil, fmt.Errorf("shape %q: nodes must be in [1, %d]", part, config.MaxNodes)
		}
		threads, err := strconv.Atoi(t)
		if err != nil || threads < 1 || threads > config.MaxThreads {
			return nil, fmt.Errorf("shape %q: threads must be in [1, %d]", part, config.MaxThreads)
		}
		shapes = append(shapes, engine.Config{Nodes: nodes, Threads: threads})
	}
	return shapes, nil
}
