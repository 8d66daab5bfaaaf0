package vm

import (
	"fmt"
	"sort"
)

// HeapObject is implemented by everything a Value can point at.
type HeapObject interface {
	Inspect() string
}

// Str is a mutable, heap-allocated string.
type Str struct {
	S string
}

func (s *Str) Inspect() string { return fmt.Sprintf("%q", s.S) }

// Bytes is a growable byte buffer.
type Bytes struct {
	B []byte
}

func (b *Bytes) Inspect() string { return BytesVal(b.B).Inspect() }

// Vec is an ordered sequence of values.
type Vec struct {
	Items []Value
}

func (v *Vec) Inspect() string { return Value{Type: ValVec, Obj: v}.Inspect() }

// Object is a string-keyed map of values. Key order is not significant.
type Object struct {
	Fields map[string]Value
}

func (o *Object) Inspect() string { return Value{Type: ValObject, Obj: o}.Inspect() }

// Tuple is a fixed-arity sequence of values.
type Tuple struct {
	Items []Value
}

func (t *Tuple) Inspect() string { return Value{Type: ValTuple, Obj: t}.Inspect() }

// TypeKind mirrors the three shapes of structs and variants.
type TypeKind uint8

const (
	KindUnit TypeKind = iota
	KindTuple
	KindNamed
)

// TypeInfo describes a struct or an enum variant declared in a unit.
type TypeInfo struct {
	Name   string   // "Point" or "Shape::Circle"
	Enum   string   // owning enum, empty for structs
	Kind   TypeKind
	Fields []string // named fields in declaration order (KindNamed)
	Arity  int      // number of elements (KindTuple)
}

// TypeName is the name `is` tests against: the enum name for variants.
func (t *TypeInfo) TypeName() string {
	if t.Enum != "" {
		return t.Enum
	}
	return t.Name
}

// Same reports whether two descriptors denote the same declared type.
func (t *TypeInfo) Same(o *TypeInfo) bool {
	return t == o || (t.Name == o.Name && t.Enum == o.Enum)
}

func (t *TypeInfo) hasField(name string) bool {
	for _, f := range t.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// TypedObject is an instance of a struct or variant with named fields.
type TypedObject struct {
	Type   *TypeInfo
	Fields map[string]Value
}

func (o *TypedObject) Inspect() string { return Value{Type: ValTypedObject, Obj: o}.Inspect() }

// TypedTuple is an instance of a tuple-like or unit struct or variant.
type TypedTuple struct {
	Type  *TypeInfo
	Items []Value
}

func (t *TypedTuple) Inspect() string { return Value{Type: ValTypedTuple, Obj: t}.Inspect() }

// Boxed holds the payload of Some, Ok and Err.
type Boxed struct {
	V Value
}

func (b *Boxed) Inspect() string { return b.V.Inspect() }

// Function is a callable value: a unit function (optionally with captured
// values, for closures) or a native function from the Context.
type Function struct {
	Name     string
	Unit     *Unit
	Index    int // index into Unit.Functions, -1 for natives
	Native   *Native
	Captures []Value
}

func (f *Function) Inspect() string {
	if f.Native != nil {
		return fmt.Sprintf("<native %s>", f.Native.Path)
	}
	if len(f.Captures) > 0 {
		return fmt.Sprintf("<closure %s>", f.Name)
	}
	return fmt.Sprintf("<fn %s>", f.Name)
}

// Info returns the compiled function descriptor (nil for natives).
func (f *Function) Info() *FunctionInfo {
	if f.Unit == nil || f.Index < 0 {
		return nil
	}
	return &f.Unit.Functions[f.Index]
}

// Arity is the number of arguments the function expects (-1: variadic native).
func (f *Function) Arity() int {
	if f.Native != nil {
		return f.Native.Arity
	}
	return f.Info().Arity
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
