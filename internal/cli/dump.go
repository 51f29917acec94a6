package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/substrate/internal/engine"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Database string
	RunID    string
	Label    string
	Path     string
}

// DumpResult is the JSON payload of the dump command.
type DumpResult struct {
	RunID  string           `json:"run_id"`
	Label  string           `json:"label,omitempty"`
	Labels []string         `json:"labels,omitempty"`
	Digest string           `json:"digest,omitempty"`
	Rows   []engine.DumpRow `json:"rows,omitempty"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print a journalled field snapshot",
		Long: `Print the field values captured by a dump step of a journalled run.

Without --label the labels recorded for the run are listed. --path restricts
the rows to one element.

Examples:
  substrate dump --db ./journal.db
  substrate dump --db ./journal.db --label final
  substrate dump --db ./journal.db --run 0190... --label final --path /cells`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: latest run)")
	cmd.Flags().StringVar(&opts.Label, "label", "", "dump label")
	cmd.Flags().StringVar(&opts.Path, "path", "", "restrict to one element path")

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	f := newFormatter(opts.RootOptions, cmd)

	st, err := openJournal(opts.Database)
	if err != nil {
		return f.Fail(ErrCodeNotFound, err)
	}
	defer st.Close()

	run, err := resolveRun(ctx, st, opts.RunID)
	if err != nil {
		return f.Fail(ErrCodeNotFound, err)
	}
	result := DumpResult{RunID: run.ID}

	if opts.Label == "" {
		labels, err := st.DumpLabels(ctx, run.ID)
		if err != nil {
			return f.Fail(ErrCodeGeneric, WrapExitError(ExitCommandError, "failed to list dumps", err))
		}
		result.Labels = labels
		if f.JSON() {
			return f.Success(result)
		}
		if len(labels) == 0 {
			fmt.Fprintf(f.Writer, "Run %s has no dumps.\n", run.ID)
			return nil
		}
		fmt.Fprintf(f.Writer, "Dumps of run %s:\n", run.ID)
		for _, l := range labels {
			fmt.Fprintf(f.Writer, "  %s\n", l)
		}
		return nil
	}

	rows, err := st.ReadDump(ctx, run.ID, opts.Label, opts.Path)
	if err != nil {
		return f.Fail(ErrCodeGeneric, WrapExitError(ExitCommandError, "failed to read dump", err))
	}
	if len(rows) == 0 {
		return f.Fail(ErrCodeNotFound, NewExitError(ExitCommandError, fmt.Sprintf("no rows for dump %q of run %s", opts.Label, run.ID)))
	}
	result.Label = opts.Label
	result.Rows = rows
	result.Digest = engine.DumpDigest(rows)

	if f.JSON() {
		return f.Success(result)
	}
	printDump(f.Writer, result)
	return nil
}

func printDump(w io.Writer, r DumpResult) {
	fmt.Fprintf(w, "Dump %q of run %s (%d rows, digest %s)\n\n", r.Label, r.RunID, len(r.Rows), r.Digest)
	for _, row := range r.Rows {
		ref := fmt.Sprintf("%s[%d]", row.Path, row.Index)
		if row.Entry != 0 {
			ref = fmt.Sprintf("%s[%d.%d]", row.Path, row.Index, row.Entry)
		}
		fmt.Fprintf(w, "  %-24s %-12s %v\n", ref, row.Field, row.Value)
	}
}
