package dispatch

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ArgType is a fixed-size argument type.
type ArgType uint8

const (
	Float64 ArgType = iota + 1
	Int64
	Uint32
	Bool
)

// Size returns the encoded width in bytes.
func (t ArgType) Size() int {
	switch t {
	case Float64, Int64:
		return 8
	case Uint32:
		return 4
	case Bool:
		return 1
	}
	return 0
}

func (t ArgType) String() string {
	switch t {
	case Float64:
		return "f64"
	case Int64:
		return "i64"
	case Uint32:
		return "u32"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("ArgType(%d)", uint8(t))
}

// ParseArgType parses the String form of an ArgType.
func ParseArgType(s string) (ArgType, error) {
	switch s {
	case "f64", "float64":
		return Float64, nil
	case "i64", "int64":
		return Int64, nil
	case "u32", "uint32":
		return Uint32, nil
	case "bool":
		return Bool, nil
	}
	return 0, fmt.Errorf("unknown argument type %q", s)
}

// Signature is the ordered argument layout of a port.
type Signature []ArgType

// Sig builds a Signature.
func Sig(types ...ArgType) Signature { return Signature(types) }

// Size is the total encoded argument size in bytes.
func (s Signature) Size() int {
	n := 0
	for _, t := range s {
		n += t.Size()
	}
	return n
}

// Accepts reports whether payloads of other can be delivered to s.
// Layouts must match exactly.
func (s Signature) Accepts(other Signature) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Encode packs vals little endian according to s. Accepted Go types are
// float64, int64, int, uint32 and bool, converted to the slot's type.
func (s Signature) Encode(vals ...any) ([]byte, error) {
	if len(vals) != len(s) {
		return nil, fmt.Errorf("signature %s takes %d arguments, got %d", s, len(s), len(vals))
	}
	out := make([]byte, 0, s.Size())
	for i, t := range s {
		var err error
		out, err = appendArg(out, t, vals[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return out, nil
}

// Decode unpacks b according to s.
func (s Signature) Decode(b []byte) ([]any, error) {
	if len(b) != s.Size() {
		return nil, fmt.Errorf("signature %s needs %d bytes, got %d", s, s.Size(), len(b))
	}
	vals := make([]any, len(s))
	off := 0
	for i, t := range s {
		switch t {
		case Float64:
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
		case Int64:
			vals[i] = int64(binary.LittleEndian.Uint64(b[off:]))
		case Uint32:
			vals[i] = binary.LittleEndian.Uint32(b[off:])
		case Bool:
			vals[i] = b[off] != 0
		}
		off += t.Size()
	}
	return vals, nil
}

func appendArg(out []byte, t ArgType, v any) ([]byte, error) {
	switch t {
	case Float64:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("want f64, got %T", v)
		}
		return binary.LittleEndian.AppendUint64(out, math.Float64bits(f)), nil
	case Int64:
		n, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("want i64, got %T", v)
		}
		return binary.LittleEndian.AppendUint64(out, uint64(n)), nil
	case Uint32:
		n, ok := toInt(v)
		if !ok || n < 0 || n > math.MaxUint32 {
			return nil, fmt.Errorf("want u32, got %v", v)
		}
		return binary.LittleEndian.AppendUint32(out, uint32(n)), nil
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", v)
		}
		if b {
			return append(out, 1), nil
		}
		return append(out, 0), nil
	}
	return nil, fmt.Errorf("unknown argument type %d", t)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint32:
		return float64(x), true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case uint32:
		return int64(x), true
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true
		}
	}
	return 0, false
}

// F64 reads the float64 at byte offset off of b.
func F64(b []byte, off int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
}

// PutF64 writes v at byte offset off of b.
func PutF64(b []byte, off int, v float64) {
	binary.LittleEndian.PutUint64(b[off:], math.Float64bits(v))
}

// F64Args encodes float64 arguments.
func F64Args(vals ...float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		PutF64(out, 8*i, v)
	}
	return out
}

// I64 reads the int64 at byte offset off of b.
func I64(b []byte, off int) int64 {
	return int64(binary.LittleEndian.Uint64(b[off:]))
}

// PutI64 writes v at byte offset off of b.
func PutI64(b []byte, off int, v int64) {
	binary.LittleEndian.PutUint64(b[off:], uint64(v))
}
