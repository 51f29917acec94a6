package dispatch

import (
	"fmt"

	"github.com/roach88/substrate/internal/data"
	"github.com/roach88/substrate/internal/ir"
)

// Reserved destination ports driven by the scheduler.
const (
	PortProcess = "process"
	PortReinit  = "reinit"
)

// Sender delivers payloads produced by a handler into the calling
// thread's outgoing queue segment.
type Sender interface {
	// Send emits args on src's source port to every Msg attached to it.
	Send(src ir.ObjID, port string, args []byte)

	// SendTo emits args on src's source port to one target only.
	SendTo(src ir.ObjID, port string, target ir.ObjID, args []byte)
}

// Eref is the target of one invocation: the addressed object, its local
// bytes and the context of the invoking thread.
type Eref struct {
	Obj  ir.ObjID
	Data []byte
	Proc ir.ProcInfo
	Out  Sender
}

// Send emits args on the given source port of e.Obj.
func (e Eref) Send(port string, args []byte) {
	if e.Out != nil {
		e.Out.Send(e.Obj, port, args)
	}
}

// SendTo emits args on the given source port of e.Obj to target only.
func (e Eref) SendTo(port string, target ir.ObjID, args []byte) {
	if e.Out != nil {
		e.Out.SendTo(e.Obj, port, target, args)
	}
}

// OpFunc is a destination handler.
type OpFunc func(e Eref, args []byte)

// Field is a named fixed-size slot inside an instance.
type Field struct {
	Name   string
	Offset int
	Type   ArgType
}

// Bytes returns the slot of f inside instance bytes b.
func (f Field) Bytes(b []byte) []byte {
	return b[f.Offset : f.Offset+f.Type.Size()]
}

// SrcPort is a named output of a class.
type SrcPort struct {
	Name string
	Sig  Signature
}

// DestPort is a named input of a class with its ordered handler list.
// Handler i of the port gets FuncID base+i.
type DestPort struct {
	Name     string
	Sig      Signature
	Handlers []OpFunc
}

// Class describes an element type.
type Class struct {
	Name         string
	Doc          string
	InstanceSize int
	Handler      data.Kind
	Fields       []Field
	Src          []SrcPort
	Dest         []DestPort
}

// Field looks up a field by name.
func (c *Class) Field(name string) (Field, error) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, nil
		}
	}
	return Field{}, ir.NewError(ir.ErrCodeUnknownField, "class has no such field",
		"class", c.Name, "field", name)
}

// SrcPort looks up a source port by name.
func (c *Class) SrcPort(name string) (SrcPort, error) {
	for _, p := range c.Src {
		if p.Name == name {
			return p, nil
		}
	}
	return SrcPort{}, ir.NewError(ir.ErrCodeUnknownPort, "class has no such source port",
		"class", c.Name, "port", name)
}

// DestPort looks up a destination port by name.
func (c *Class) DestPort(name string) (DestPort, error) {
	for _, p := range c.Dest {
		if p.Name == name {
			return p, nil
		}
	}
	return DestPort{}, ir.NewError(ir.ErrCodeUnknownPort, "class has no such destination port",
		"class", c.Name, "port", name)
}

// HasDest reports whether c declares a destination port.
func (c *Class) HasDest(name string) bool {
	_, err := c.DestPort(name)
	return err == nil
}

// Validate checks names are unique and fields fit the instance.
func (c *Class) Validate() error {
	if err := ir.ValidateElementName(c.Name); err != nil {
		return fmt.Errorf("class: %w", err)
	}
	seen := map[string]bool{}
	for _, f := range c.Fields {
		if seen["f:"+f.Name] {
			return fmt.Errorf("class %s: duplicate field %q", c.Name, f.Name)
		}
		seen["f:"+f.Name] = true
		if f.Type.Size() == 0 || f.Offset < 0 || f.Offset+f.Type.Size() > c.InstanceSize {
			return fmt.Errorf("class %s: field %q does not fit in %d bytes", c.Name, f.Name, c.InstanceSize)
		}
	}
	for _, p := range c.Src {
		if seen["s:"+p.Name] {
			return fmt.Errorf("class %s: duplicate source port %q", c.Name, p.Name)
		}
		seen["s:"+p.Name] = true
	}
	for _, p := range c.Dest {
		if seen["d:"+p.Name] {
			return fmt.Errorf("class %s: duplicate destination port %q", c.Name, p.Name)
		}
		seen["d:"+p.Name] = true
		if len(p.Handlers) == 0 {
			return fmt.Errorf("class %s: destination port %q has no handlers", c.Name, p.Name)
		}
	}
	return nil
}
