package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/substrate/internal/engine"
	"github.com/roach88/substrate/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Node     int  // -1 sums over nodes
	List     bool // list runs instead of tracing one
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run    store.Run          `json:"run"`
	Steps  []engine.StepStats `json:"steps"`
	Totals engine.StepStats   `json:"totals"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journalled step statistics of a run",
		Long: `Show the per-step statistics of a journalled run: ticks fired, process
calls, records sent and delivered, stale and non-local records, and remote
records received.

Counts are summed over nodes unless --node selects one. Without --run the
most recent run is shown.

Examples:
  substrate trace --db ./journal.db --list
  substrate trace --db ./journal.db
  substrate trace --db ./journal.db --run 0190... --node 1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: latest run)")
	cmd.Flags().IntVar(&opts.Node, "node", -1, "show a single node")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list journalled runs")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	f := newFormatter(opts.RootOptions, cmd)

	st, err := openJournal(opts.Database)
	if err != nil {
		return f.Fail(ErrCodeNotFound, err)
	}
	defer st.Close()

	if opts.List {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return f.Fail(ErrCodeGeneric, WrapExitError(ExitCommandError, "failed to list runs", err))
		}
		if f.JSON() {
			return f.Success(runs)
		}
		printRuns(f.Writer, runs)
		return nil
	}

	run, err := resolveRun(ctx, st, opts.RunID)
	if err != nil {
		return f.Fail(ErrCodeNotFound, err)
	}
	steps, err := st.ReadSteps(ctx, run.ID)
	if err != nil {
		return f.Fail(ErrCodeGeneric, WrapExitError(ExitCommandError, "failed to read steps", err))
	}

	result := TraceResult{Run: run, Steps: collapseSteps(steps, opts.Node)}
	result.Totals = engine.Totals(result.Steps)

	if f.JSON() {
		return f.encode(CLIResponse{Status: "ok", Data: result, RunID: run.ID})
	}
	printTrace(f.Writer, result, opts.Node)
	return nil
}

// openJournal opens an existing journal. A missing file is a command
// error rather than a fresh empty database.
func openJournal(path string) (*store.Store, error) {
	if path == ":memory:" {
		return nil, NewExitError(ExitCommandError, "an in-memory journal cannot be inspected")
	}
	if !fileExists(path) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("failed to open database: %s does not exist", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func resolveRun(ctx context.Context, st *store.Store, id string) (store.Run, error) {
	var (
		run store.Run
		err error
	)
	if id == "" {
		run, err = st.LatestRun(ctx)
	} else {
		run, err = st.ReadRun(ctx, id)
	}
	switch {
	case store.IsNotFound(err) && id == "":
		return run, NewExitError(ExitCommandError, "journal has no runs")
	case store.IsNotFound(err):
		return run, NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", id))
	case err != nil:
		return run, WrapExitError(ExitCommandError, "failed to read run", err)
	}
	return run, nil
}

// collapseSteps sums the records of each step over nodes, or keeps only
// node when node >= 0. Input is ordered by step then node.
func collapseSteps(steps []engine.StepStats, node int) []engine.StepStats {
	out := []engine.StepStats{}
	for _, s := range steps {
		if node >= 0 {
			if s.Node == node {
				out = append(out, s)
			}
			continue
		}
		if n := len(out); n > 0 && out[n-1].Step == s.Step {
			m := engine.Totals([]engine.StepStats{out[n-1], s})
			m.Node = -1
			out[n-1] = m
			continue
		}
		s.Node = -1
		out = append(out, s)
	}
	return out
}

func printRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs journalled.")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%4d  %-36s  %-24s %dx%d  %-7s steps=%d t=%g\n",
			r.Seq, r.ID, r.Scenario, r.Nodes, r.Threads, r.Status, r.Steps, r.SimTime)
	}
}

func printTrace(w io.Writer, r TraceResult, node int) {
	fmt.Fprintf(w, "Run %s (#%d) scenario=%s shape=%dx%d status=%s\n",
		r.Run.ID, r.Run.Seq, r.Run.Scenario, r.Run.Nodes, r.Run.Threads, r.Run.Status)
	if r.Run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Run.Error)
	}
	if node >= 0 {
		fmt.Fprintf(w, "Node %d\n", node)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%6s %10s %5s %9s %6s %9s %9s %6s %7s %6s\n",
		"step", "time", "fired", "processed", "sent", "delivered", "non_local", "stale", "remote", "errors")
	for _, s := range r.Steps {
		fmt.Fprintf(w, "%6d %10g %5d %9d %6d %9d %9d %6d %7d %6d\n",
			s.Step, s.Time, s.Fired, s.Processed, s.Sent, s.Delivered, s.NonLocal, s.Stale, s.Remote, s.Errors)
	}
	t := r.Totals
	fmt.Fprintf(w, "%6s %10s %5d %9d %6d %9d %9d %6d %7d %6d\n",
		"total", "", t.Fired, t.Processed, t.Sent, t.Delivered, t.NonLocal, t.Stale, t.Remote, t.Errors)
}
