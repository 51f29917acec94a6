package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/substrate/internal/config"
	"github.com/roach88/substrate/internal/engine"
	"github.com/roach88/substrate/internal/harness"
	"github.com/roach88/substrate/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Config   string
	Nodes    int
	Threads  int

	// RunIDs overrides the run id generator (for testing). If nil, the
	// scenario's run_id is used when set and a UUIDv7 otherwise.
	RunIDs engine.RunIDGenerator
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	Scenario string               `json:"scenario"`
	RunID    string               `json:"run_id"`
	Nodes    int                  `json:"nodes"`
	Threads  int                  `json:"threads"`
	Pass     bool                 `json:"pass"`
	Time     float64              `json:"time"`
	Trace    []harness.TraceEvent `json:"trace"`
	Totals   engine.StepStats     `json:"totals"`
	Errors   []string             `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Build and run a scenario",
		Long: `Build the scenario's model on a cluster, execute its run list and check
its assertions.

The cluster shape and clocks come from the scenario's runtime block. A
runtime config file given with --config replaces that block, and --nodes and
--threads override the shape. Step statistics and dumps are journalled to
--db, to the config's database, or to a throwaway in-memory journal.

Examples:
  substrate run scenarios/chain.yaml
  substrate run scenarios/chain.yaml --nodes 4 --threads 2 --db ./journal.db
  substrate run scenarios/chain.yaml --config runtime.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal")
	cmd.Flags().StringVar(&opts.Config, "config", "", "runtime config file (.yaml or .cue)")
	cmd.Flags().IntVar(&opts.Nodes, "nodes", 0, "override node count")
	cmd.Flags().IntVar(&opts.Threads, "threads", 0, "override threads per node")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return f.Fail(ErrCodeInvalidInput, WrapExitError(ExitCommandError, "failed to load scenario", err))
	}
	if opts.Config != "" {
		rt, err := config.Load(opts.Config)
		if err != nil {
			return f.Fail(ErrCodeInvalidInput, WrapExitError(ExitCommandError, "failed to load config", err))
		}
		scenario.Runtime = &rt
	}
	rt := harness.RuntimeOf(scenario)

	logger, err := newLogger(opts.RootOptions, cmd.ErrOrStderr(), rt)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid log level", err)
	}

	db := opts.Database
	if db == "" {
		db = rt.Database
	}
	hopts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithShape(opts.Nodes, opts.Threads),
		harness.WithRunIDGenerator(runIDsFor(opts.RunIDs, scenario)),
	}
	if db != "" {
		st, err := store.Open(db)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if cerr := st.Close(); cerr != nil {
				logger.Error("error closing database", "error", cerr)
			}
		}()
		hopts = append(hopts, harness.WithStore(st))
		logger.Info("journal ready", "path", db)
	}

	result, err := harness.Run(scenario, hopts...)
	if err != nil {
		return f.Fail(ErrCodeRunFailed, WrapExitError(ExitFailure, "scenario execution failed", err))
	}

	out := RunOutput{
		Scenario: scenario.Name,
		RunID:    result.RunID,
		Nodes:    pick(opts.Nodes, rt.Nodes),
		Threads:  pick(opts.Threads, rt.Threads),
		Pass:     result.Pass,
		Time:     result.Time,
		Trace:    result.Trace,
		Totals:   result.Totals(),
		Errors:   result.Errors,
	}
	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: out, RunID: out.RunID}
		if !out.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeRunFailed, Message: fmt.Sprintf("%d assertion(s) failed", len(out.Errors))}
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else {
		printRun(f.Writer, out)
	}

	if !out.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("%d assertion(s) failed", len(out.Errors)))
	}
	return nil
}

func runIDsFor(g engine.RunIDGenerator, s *harness.Scenario) engine.RunIDGenerator {
	switch {
	case g != nil:
		return g
	case s.RunID != "":
		return engine.NewFixedRunIDs(s.RunID)
	default:
		return engine.UUIDv7RunIDs{}
	}
}

func pick(override, base int) int {
	if override > 0 {
		return override
	}
	return base
}

func printRun(w io.Writer, out RunOutput) {
	fmt.Fprintf(w, "Scenario: %s\n", out.Scenario)
	fmt.Fprintf(w, "Run: %s (%d node(s) x %d thread(s))\n\n", out.RunID, out.Nodes, out.Threads)
	for _, ev := range out.Trace {
		label := ev.Op
		if ev.Arg != "" {
			label += " " + ev.Arg
		}
		fmt.Fprintf(w, "  %-16s steps=%-6d t=%-10g processed=%d sent=%d delivered=%d\n",
			label, ev.Steps, ev.Time, ev.Processed, ev.Sent, ev.Delivered)
		if ev.Digest != "" {
			fmt.Fprintf(w, "  %-16s digest=%s\n", "", ev.Digest)
		}
	}
	t := out.Totals
	fmt.Fprintf(w, "\nTotals: fired=%d processed=%d sent=%d delivered=%d non_local=%d stale=%d remote=%d errors=%d\n",
		t.Fired, t.Processed, t.Sent, t.Delivered, t.NonLocal, t.Stale, t.Remote, t.Errors)

	if out.Pass {
		fmt.Fprintf(w, "✓ %s passed at t=%g\n", out.Scenario, out.Time)
		return
	}
	fmt.Fprintf(w, "✗ %s failed\n", out.Scenario)
	for _, e := range out.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
