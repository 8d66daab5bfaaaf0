package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/funvibe/runevm/internal/ast"
)

// ErrInvalidUnit is wrapped by every Validate failure.
var ErrInvalidUnit = errors.New("invalid unit")

// LocalInfo is the debug record of one named local: it lives in Slot while
// the instruction pointer is in [Start, End).
type LocalInfo struct {
	Name  string
	Slot  int
	Start int
	End   int
}

// FunctionInfo is an entry of the unit's function table.
type FunctionInfo struct {
	Name          string
	Entry         int // offset of the first instruction
	End           int // offset one past the last instruction
	Arity         int
	FrameSize     int // maximum operand-stack height relative to the frame base
	Captures      int
	Async         bool
	Generator     bool  // calling it returns a Generator, or a Stream when also Async
	SuspendPoints []int // offsets of the RESUME markers following AWAIT, SELECT and YIELD
	Locals        []LocalInfo
	Span          ast.Span
}

// LocalsAt returns the names of the locals in scope at offset.
func (f *FunctionInfo) LocalsAt(offset int) []string {
	var names []string
	for _, l := range f.Locals {
		if offset >= l.Start && offset < l.End {
			names = append(names, l.Name)
		}
	}
	return names
}

// ConstKind tags a serializable constant.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstChar
	ConstBytes
	ConstByte
)

// Constant is a literal in the constant pool.
type Constant struct {
	Kind  ConstKind
	Int   int64   `cbor:",omitempty"`
	Float float64 `cbor:",omitempty"`
	Bytes []byte  `cbor:",omitempty"`
}

// NativeRef names a Context function the code calls; Load links it.
type NativeRef struct {
	Path  string
	Arity int
}

// ImplEntry registers a unit function as an instance function of Type.
type ImplEntry struct {
	Type string
	Name string
	Fn   int
}

// Unit is the compiled program: one instruction stream plus the tables the
// instructions index into. A Unit is immutable once the compiler returns it.
type Unit struct {
	ID     uuid.UUID
	Source string

	Chunk

	Functions []FunctionInfo
	Constants []Constant
	Strings   []string   // static-string pool
	Keys      [][]string // key sets of object literals and patterns
	Types     []TypeInfo
	Natives   []NativeRef
	Impls     []ImplEntry

	strIndex map[string]int
	fnIndex  map[string]int
}

// NewUnit creates an empty unit with a fresh build identity.
func NewUnit(source string) *Unit {
	return &Unit{
		ID:       uuid.New(),
		Source:   source,
		strIndex: make(map[string]int),
		fnIndex:  make(map[string]int),
	}
}

// Inspect lets a Unit back StaticString values.
func (u *Unit) Inspect() string {
	return fmt.Sprintf("<unit %s>", u.ID)
}

// AddString interns s in the static-string pool.
func (u *Unit) AddString(s string) int {
	if u.strIndex == nil {
		u.reindex()
	}
	if idx, ok := u.strIndex[s]; ok {
		return idx
	}
	u.Strings = append(u.Strings, s)
	u.strIndex[s] = len(u.Strings) - 1
	return len(u.Strings) - 1
}

// AddConstant adds a constant to the pool and returns its index.
// Scalar constants are deduplicated.
func (u *Unit) AddConstant(c Constant) int {
	if c.Kind != ConstBytes {
		for i, existing := range u.Constants {
			if existing.Kind == c.Kind && existing.Int == c.Int && math.Float64bits(existing.Float) == math.Float64bits(c.Float) {
				return i
			}
		}
	}
	u.Constants = append(u.Constants, c)
	return len(u.Constants) - 1
}

// AddKeys registers an ordered key set.
func (u *Unit) AddKeys(keys []string) int {
outer:
	for i, ks := range u.Keys {
		if len(ks) != len(keys) {
			continue
		}
		for j := range ks {
			if ks[j] != keys[j] {
				continue outer
			}
		}
		return i
	}
	u.Keys = append(u.Keys, keys)
	return len(u.Keys) - 1
}

// AddNative registers a native reference, reusing an existing slot.
func (u *Unit) AddNative(path string, arity int) int {
	for i, n := range u.Natives {
		if n.Path == path {
			return i
		}
	}
	u.Natives = append(u.Natives, NativeRef{Path: path, Arity: arity})
	return len(u.Natives) - 1
}

// AddFunction appends f to the function table. The first function
// registered under a name is the one LookupFunction returns.
func (u *Unit) AddFunction(f FunctionInfo) int {
	if u.fnIndex == nil {
		u.reindex()
	}
	u.Functions = append(u.Functions, f)
	idx := len(u.Functions) - 1
	if _, dup := u.fnIndex[f.Name]; !dup {
		u.fnIndex[f.Name] = idx
	}
	return idx
}

// LookupFunction finds a unit function by name.
func (u *Unit) LookupFunction(name string) (int, bool) {
	if u.fnIndex == nil {
		u.reindex()
	}
	idx, ok := u.fnIndex[name]
	return idx, ok
}

// LookupType finds a declared type by its full name ("Point", "Shape::Circle").
func (u *Unit) LookupType(name string) (int, bool) {
	for i := range u.Types {
		if u.Types[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// FunctionAt returns the index of the function whose code contains offset.
func (u *Unit) FunctionAt(offset int) int {
	for i := range u.Functions {
		if offset >= u.Functions[i].Entry && offset < u.Functions[i].End {
			return i
		}
	}
	return -1
}

// reindex rebuilds the lookup maps after deserialization.
func (u *Unit) reindex() {
	u.strIndex = make(map[string]int, len(u.Strings))
	for i, s := range u.Strings {
		u.strIndex[s] = i
	}
	u.fnIndex = make(map[string]int, len(u.Functions))
	for i, f := range u.Functions {
		if _, dup := u.fnIndex[f.Name]; !dup {
			u.fnIndex[f.Name] = i
		}
	}
}

// Validate checks that every operand indexes inside the unit's tables and
// every jump lands inside the code, so a VM never reads out of bounds.
func (u *Unit) Validate() error {
	for i, f := range u.Functions {
		if f.Entry < 0 || f.Entry > len(u.Code) || f.End < f.Entry || f.End > len(u.Code) {
			return fmt.Errorf("%w: function %d (%s) has entry %d outside code", ErrInvalidUnit, i, f.Name, f.Entry)
		}
	}
	for _, im := range u.Impls {
		if im.Fn < 0 || im.Fn >= len(u.Functions) {
			return fmt.Errorf("%w: impl %s::%s references function %d", ErrInvalidUnit, im.Type, im.Name, im.Fn)
		}
	}

	offset := 0
	for offset < len(u.Code) {
		op := Opcode(u.Code[offset])
		if _, ok := OpcodeNames[op]; !ok {
			return fmt.Errorf("%w: unknown opcode %d at %04d", ErrInvalidUnit, op, offset)
		}
		size := instructionLen(op)
		if offset+size > len(u.Code) {
			return fmt.Errorf("%w: truncated %s at %04d", ErrInvalidUnit, op, offset)
		}
		if err := u.validateOperands(op, offset); err != nil {
			return err
		}
		offset += size
	}
	return nil
}

func (u *Unit) validateOperands(op Opcode, offset int) error {
	check := func(what string, idx, n int) error {
		if idx >= n {
			return fmt.Errorf("%w: %s at %04d references %s %d of %d", ErrInvalidUnit, op, offset, what, idx, n)
		}
		return nil
	}
	arg := offset + 1
	switch op {
	case OP_CONST:
		return check("constant", u.ReadU16(arg), len(u.Constants))
	case OP_STATIC_STR, OP_FIELD_GET, OP_FIELD_SET, OP_IS_TYPE, OP_CALL_INSTANCE:
		return check("string", u.ReadU16(arg), len(u.Strings))
	case OP_JUMP, OP_JUMP_IF_FALSE, OP_JUMP_IF_TRUE:
		return check("jump target", u.ReadU32(arg), len(u.Code)+1)
	case OP_CALL, OP_FN, OP_CLOSURE:
		return check("function", u.ReadU16(arg), len(u.Functions))
	case OP_CALL_NATIVE, OP_NATIVE_FN:
		return check("native", u.ReadU16(arg), len(u.Natives))
	case OP_OBJECT:
		return check("key set", u.ReadU16(arg), len(u.Keys))
	case OP_MATCH_OBJECT:
		return check("key set", u.ReadU16(arg), len(u.Keys))
	case OP_TYPED_OBJECT, OP_TYPED_TUPLE, OP_MATCH_TYPE:
		return check("type", u.ReadU16(arg), len(u.Types))
	}
	return nil
}
