package dispatch

import (
	"fmt"
	"sort"

	"github.com/roach88/substrate/internal/ir"
)

// Entry is one finalized handler.
type Entry struct {
	ID    ir.FuncID
	Class string
	Port  string
	Index int // position within the port's handler list
	Sig   Signature
	Fn    OpFunc
}

// Name is the canonical name of the entry's port.
func (e Entry) Name() string { return ir.CanonicalName(e.Class, e.Port) }

// Table is the function table of one node.
//
// Registration is single-goroutine. After Finalize the table is immutable.
type Table struct {
	classes   map[string]*Class
	finalized bool
	entries   []Entry
	base      map[string]ir.FuncID // canonical port name -> base id
	print     string
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{classes: make(map[string]*Class)}
}

// RegisterClass adds a class during startup.
func (t *Table) RegisterClass(c *Class) error {
	if t.finalized {
		return ir.Errorf(ir.ErrCodeAlreadyFinalized, "cannot register class %s after finalize", c.Name)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	name := ir.NormalizeName(c.Name)
	if _, dup := t.classes[name]; dup {
		return fmt.Errorf("class %s already registered", name)
	}
	t.classes[name] = c
	return nil
}

// Finalize sorts every destination port by canonical name and assigns ids.
// It may be called exactly once.
func (t *Table) Finalize() error {
	if t.finalized {
		return ir.Errorf(ir.ErrCodeAlreadyFinalized, "dispatch table already finalized")
	}

	type port struct {
		name  string
		class *Class
		dest  DestPort
	}
	var ports []port
	for _, c := range t.classes {
		for _, d := range c.Dest {
			ports = append(ports, port{name: ir.CanonicalName(c.Name, d.Name), class: c, dest: d})
		}
	}
	sort.Slice(ports, func(i, j int) bool {
		return ir.CompareCanonical(ports[i].name, ports[j].name) < 0
	})

	t.base = make(map[string]ir.FuncID, len(ports))
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		base := ir.FuncID(len(t.entries))
		t.base[p.name] = base
		for i, fn := range p.dest.Handlers {
			t.entries = append(t.entries, Entry{
				ID:    base + ir.FuncID(i),
				Class: p.class.Name,
				Port:  p.dest.Name,
				Index: i,
				Sig:   p.dest.Sig,
				Fn:    fn,
			})
		}
		parts = append(parts, fmt.Sprintf("%s%s/%d", p.name, p.dest.Sig, len(p.dest.Handlers)))
	}
	t.print = ir.Fingerprint(ir.DomainDispatchTable, parts...)
	t.finalized = true
	return nil
}

// Finalized reports whether ids are frozen.
func (t *Table) Finalized() bool { return t.finalized }

func (t *Table) checkFinalized() error {
	if !t.finalized {
		return ir.Errorf(ir.ErrCodeUninitializedDispatch, "dispatch table used before finalize")
	}
	return nil
}

// Class returns a registered class.
func (t *Table) Class(name string) (*Class, error) {
	c, ok := t.classes[ir.NormalizeName(name)]
	if !ok {
		return nil, ir.NewError(ir.ErrCodeUnknownClass, "class is not registered", "class", name)
	}
	return c, nil
}

// Classes returns every registered class sorted by name.
func (t *Table) Classes() []*Class {
	out := make([]*Class, 0, len(t.classes))
	for _, c := range t.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return ir.CompareCanonical(out[i].Name, out[j].Name) < 0
	})
	return out
}

// Lookup returns the id of handler 0 of class.port.
func (t *Table) Lookup(class, port string) (ir.FuncID, error) {
	return t.LookupHandler(class, port, 0)
}

// LookupHandler returns the id of handler index of class.port.
func (t *Table) LookupHandler(class, port string, index int) (ir.FuncID, error) {
	if err := t.checkFinalized(); err != nil {
		return ir.BadFunc, err
	}
	base, ok := t.base[ir.CanonicalName(class, port)]
	if !ok {
		return ir.BadFunc, ir.NewError(ir.ErrCodeUnknownPort, "no destination port",
			"class", class, "port", port)
	}
	id := base + ir.FuncID(index)
	if index < 0 || int(id) >= len(t.entries) || t.entries[id].Name() != ir.CanonicalName(class, port) {
		return ir.BadFunc, ir.NewError(ir.ErrCodeUnregisteredFunc, "handler index out of range",
			"class", class, "port", port, "index", fmt.Sprintf("%d", index))
	}
	return id, nil
}

// Func returns the entry registered under id.
func (t *Table) Func(id ir.FuncID) (Entry, error) {
	if err := t.checkFinalized(); err != nil {
		return Entry{}, err
	}
	if int(id) >= len(t.entries) {
		return Entry{}, ir.NewError(ir.ErrCodeUnregisteredFunc, "no handler for func id",
			"func", fmt.Sprintf("%d", id))
	}
	return t.entries[id], nil
}

// Invoke calls the handler registered under id. The argument length must
// match the registered signature exactly.
func (t *Table) Invoke(id ir.FuncID, e Eref, args []byte) error {
	entry, err := t.Func(id)
	if err != nil {
		return err
	}
	if len(args) != entry.Sig.Size() {
		return ir.NewError(ir.ErrCodeSignatureMismatch, "argument size does not match signature",
			"func", entry.Name(), "want", fmt.Sprintf("%d", entry.Sig.Size()), "got", fmt.Sprintf("%d", len(args)))
	}
	entry.Fn(e, args)
	return nil
}

// Len is the number of finalized handlers.
func (t *Table) Len() int { return len(t.entries) }

// Entries returns the finalized entries in id order.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Fingerprint identifies the finalized table. Nodes compare fingerprints
// before the first step; a mismatch is a fatal protocol error.
func (t *Table) Fingerprint() (string, error) {
	if err := t.checkFinalized(); err != nil {
		return "", err
	}
	return t.print, nil
}
