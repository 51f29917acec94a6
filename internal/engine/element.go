package engine

import (
	"path"
	"sort"
	"strings"

	"github.com/roach88/substrate/internal/data"
	"github.com/roach88/substrate/internal/dispatch"
	"github.com/roach88/substrate/internal/ir"
	"github.com/roach88/substrate/internal/msg"
)

// Core class and the reserved tree ports.
const (
	ClassNeutral = "Neutral"
	PortChildOut = "childOut"
	PortParentIn = "parentIn"
)

// RegisterCore registers the classes every engine needs. It must be called
// before Finalize on every node's table.
func RegisterCore(t *dispatch.Table) error {
	return t.RegisterClass(&dispatch.Class{
		Name:    ClassNeutral,
		Doc:     "Container element. The root of the element tree is a Neutral.",
		Handler: data.KindGlobal,
		Src:     []dispatch.SrcPort{{Name: PortChildOut}},
		Dest: []dispatch.DestPort{{
			Name:     PortParentIn,
			Handlers: []dispatch.OpFunc{func(dispatch.Eref, []byte) {}},
		}},
	})
}

// Element is one named, typed array of instances.
type Element struct {
	ID      ir.ElementID
	Name    string
	Class   *dispatch.Class
	Handler data.Handler
}

// ElementInfo describes an element for listings. It is identical on every
// node.
type ElementInfo struct {
	ID      ir.ElementID `json:"id"`
	Path    string       `json:"path"`
	Class   string       `json:"class"`
	Handler data.Kind    `json:"handler"`
	N       uint32       `json:"n"`
}

func isTreeEdge(m *msg.Msg) bool {
	return m.SrcPort() == PortChildOut && m.DstPort() == PortParentIn
}

func (e *Engine) element(id ir.ElementID) (*Element, error) {
	if int64(id) >= int64(len(e.elements)) || e.elements[id] == nil {
		return nil, ir.NewStaleElementError(id)
	}
	return e.elements[id], nil
}

// Element returns the live element with the given id.
func (e *Engine) Element(id ir.ElementID) (*Element, error) {
	return e.element(id)
}

// tree is a snapshot of the parent and child edges.
type tree struct {
	parent   map[ir.ElementID]ir.ElementID
	children map[ir.ElementID][]ir.ElementID
	edge     map[ir.ElementID]ir.MsgID // child -> edge to its parent
}

func (e *Engine) tree() tree {
	t := tree{
		parent:   make(map[ir.ElementID]ir.ElementID),
		children: make(map[ir.ElementID][]ir.ElementID),
		edge:     make(map[ir.ElementID]ir.MsgID),
	}
	for _, m := range e.msgs.All() {
		if !isTreeEdge(m) {
			continue
		}
		t.parent[m.E2()] = m.E1()
		t.children[m.E1()] = append(t.children[m.E1()], m.E2())
		t.edge[m.E2()] = m.ID()
	}
	for _, c := range t.children {
		sort.Slice(c, func(i, j int) bool { return c[i] < c[j] })
	}
	return t
}

// subtree lists id and its descendants in preorder.
func (t tree) subtree(id ir.ElementID) []ir.ElementID {
	var out []ir.ElementID
	seen := make(map[ir.ElementID]bool)
	var walk func(ir.ElementID)
	walk = func(n ir.ElementID) {
		if seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
		for _, c := range t.children[n] {
			walk(c)
		}
	}
	walk(id)
	return out
}

func (e *Engine) childNamed(t tree, parent ir.ElementID, name string) (ir.ElementID, bool) {
	for _, c := range t.children[parent] {
		if el := e.elements[c]; el != nil && el.Name == name {
			return c, true
		}
	}
	return ir.BadElement, false
}

// Parent returns the parent of id. The root has no parent.
func (e *Engine) Parent(id ir.ElementID) (ir.ElementID, error) {
	if _, err := e.element(id); err != nil {
		return ir.BadElement, err
	}
	p, ok := e.tree().parent[id]
	if !ok {
		return ir.BadElement, nil
	}
	return p, nil
}

// Children returns the children of id in creation order.
func (e *Engine) Children(id ir.ElementID) ([]ir.ElementID, error) {
	if _, err := e.element(id); err != nil {
		return nil, err
	}
	return append([]ir.ElementID(nil), e.tree().children[id]...), nil
}

// Path returns the slash-separated path of id. The root is "/".
func (e *Engine) Path(id ir.ElementID) (string, error) {
	if _, err := e.element(id); err != nil {
		return "", err
	}
	return e.pathIn(e.tree(), id), nil
}

func (e *Engine) pathIn(t tree, id ir.ElementID) string {
	var names []string
	seen := make(map[ir.ElementID]bool)
	for id != ir.RootElement && !seen[id] {
		seen[id] = true
		names = append(names, e.elements[id].Name)
		p, ok := t.parent[id]
		if !ok {
			break
		}
		id = p
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return "/" + strings.Join(names, "/")
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// Find resolves an exact path such as "/a/b".
func (e *Engine) Find(p string) (ir.ElementID, error) {
	t := e.tree()
	id := ir.RootElement
	for _, seg := range splitPath(p) {
		c, ok := e.childNamed(t, id, ir.NormalizeName(seg))
		if !ok {
			return ir.BadElement, errNoPath(p)
		}
		id = c
	}
	return id, nil
}

// Wildcard returns every element matching pattern, ordered by id. A
// segment may use path.Match globbing; "**" matches zero or more segments.
func (e *Engine) Wildcard(pattern string) ([]ir.ElementID, error) {
	segs := splitPath(pattern)
	for i, s := range segs {
		if s == "**" {
			continue
		}
		if _, err := path.Match(s, ""); err != nil {
			return nil, err
		}
		segs[i] = ir.NormalizeName(s)
	}

	type visit struct {
		id  ir.ElementID
		seg int
	}
	t := e.tree()
	seen := make(map[visit]bool)
	found := make(map[ir.ElementID]bool)

	var walk func(id ir.ElementID, i int)
	walk = func(id ir.ElementID, i int) {
		if seen[visit{id, i}] {
			return
		}
		seen[visit{id, i}] = true
		if i == len(segs) {
			found[id] = true
			return
		}
		if segs[i] == "**" {
			walk(id, i+1)
			for _, c := range t.children[id] {
				walk(c, i)
			}
			return
		}
		for _, c := range t.children[id] {
			if ok, _ := path.Match(segs[i], e.elements[c].Name); ok {
				walk(c, i+1)
			}
		}
	}
	walk(ir.RootElement, 0)

	out := make([]ir.ElementID, 0, len(found))
	for id := range found {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Elements lists the live elements ordered by id.
func (e *Engine) Elements() []ElementInfo {
	t := e.tree()
	var out []ElementInfo
	for _, el := range e.elements {
		if el == nil {
			continue
		}
		out = append(out, ElementInfo{
			ID:      el.ID,
			Path:    e.pathIn(t, el.ID),
			Class:   el.Class.Name,
			Handler: el.Handler.Kind(),
			N:       el.Handler.NumData(),
		})
	}
	return out
}
