package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/substrate/internal/builtins"
	"github.com/roach88/substrate/internal/data"
	"github.com/roach88/substrate/internal/dispatch"
	"github.com/roach88/substrate/internal/engine"
	"github.com/roach88/substrate/internal/ir"
)

// ClassInfo describes one registered class.
type ClassInfo struct {
	Name         string      `json:"name"`
	Doc          string      `json:"doc,omitempty"`
	Handler      data.Kind   `json:"handler"`
	InstanceSize int         `json:"instance_size"`
	Fields       []FieldInfo `json:"fields"`
	Src          []PortInfo  `json:"src"`
	Dest         []PortInfo  `json:"dest"`
}

// FieldInfo describes one field slot.
type FieldInfo struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Offset int    `json:"offset"`
}

// PortInfo describes a port. Funcs lists the FuncIDs of a destination
// port's handlers.
type PortInfo struct {
	Name  string      `json:"name"`
	Sig   string      `json:"sig"`
	Funcs []ir.FuncID `json:"funcs,omitempty"`
}

// ClassesOutput is the JSON payload of the classes command.
type ClassesOutput struct {
	Fingerprint string      `json:"fingerprint"`
	Funcs       int         `json:"funcs"`
	Classes     []ClassInfo `json:"classes"`
}

// NewClassesCommand creates the classes command.
func NewClassesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classes",
		Short: "List the registered element classes and the function table",
		Long: `List every class known to the runtime with its fields, ports and the
FuncIDs assigned when the function table is finalized. The table
fingerprint is what nodes compare before a run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClasses(rootOpts, cmd)
		},
	}
	return cmd
}

func runClasses(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	out, err := describeClasses()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build function table", err)
	}
	if f.JSON() {
		return f.Success(out)
	}
	printClasses(f.Writer, out)
	return nil
}

// describeClasses builds the same table every node builds.
func describeClasses() (ClassesOutput, error) {
	t := dispatch.NewTable()
	if err := engine.RegisterCore(t); err != nil {
		return ClassesOutput{}, err
	}
	if err := builtins.Register(t); err != nil {
		return ClassesOutput{}, err
	}
	if err := t.Finalize(); err != nil {
		return ClassesOutput{}, err
	}
	fp, err := t.Fingerprint()
	if err != nil {
		return ClassesOutput{}, err
	}

	funcs := make(map[string][]ir.FuncID)
	for _, e := range t.Entries() {
		funcs[e.Name()] = append(funcs[e.Name()], e.ID)
	}

	out := ClassesOutput{Fingerprint: fp, Funcs: t.Len()}
	for _, c := range t.Classes() {
		ci := ClassInfo{
			Name:         c.Name,
			Doc:          c.Doc,
			Handler:      c.Handler,
			InstanceSize: c.InstanceSize,
			Fields:       []FieldInfo{},
			Src:          []PortInfo{},
			Dest:         []PortInfo{},
		}
		if ci.Handler == "" {
			ci.Handler = data.KindOneDim
		}
		for _, fd := range c.Fields {
			ci.Fields = append(ci.Fields, FieldInfo{Name: fd.Name, Type: fd.Type.String(), Offset: fd.Offset})
		}
		for _, p := range c.Src {
			ci.Src = append(ci.Src, PortInfo{Name: p.Name, Sig: p.Sig.String()})
		}
		for _, p := range c.Dest {
			ci.Dest = append(ci.Dest, PortInfo{
				Name:  p.Name,
				Sig:   p.Sig.String(),
				Funcs: funcs[ir.CanonicalName(c.Name, p.Name)],
			})
		}
		out.Classes = append(out.Classes, ci)
	}
	return out, nil
}

func printClasses(w io.Writer, out ClassesOutput) {
	fmt.Fprintf(w, "Function table: %d handler(s), fingerprint %s\n", out.Funcs, out.Fingerprint)
	for _, c := range out.Classes {
		fmt.Fprintf(w, "\n%s (%s, %d bytes)\n", c.Name, c.Handler, c.InstanceSize)
		if c.Doc != "" {
			fmt.Fprintf(w, "  %s\n", c.Doc)
		}
		for _, fd := range c.Fields {
			fmt.Fprintf(w, "  field %-12s %s @%d\n", fd.Name, fd.Type, fd.Offset)
		}
		for _, p := range c.Src {
			fmt.Fprintf(w, "  src   %-12s %s\n", p.Name, p.Sig)
		}
		for _, p := range c.Dest {
			fmt.Fprintf(w, "  dest  %-12s %s funcs=%v\n", p.Name, p.Sig, p.Funcs)
		}
	}
}
