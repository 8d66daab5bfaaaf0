package vm

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ValueType identifies the type of value stored in the Value struct
type ValueType uint8

const (
	ValUnit ValueType = iota
	ValBool
	ValInt
	ValFloat
	ValChar
	ValStaticString // Data is an index into the owning Unit's string table
	ValString
	ValBytes
	ValVec
	ValObject
	ValTuple
	ValTypedObject
	ValTypedTuple
	ValFunction
	ValFuture
	ValOption // Data 1 = Some, 0 = None
	ValResult // Data 1 = Ok, 0 = Err
	ValGenerator
	ValStream
	ValGeneratorState // Data 1 = Yielded, 0 = Complete
)

var valueTypeNames = [...]string{
	ValUnit:         "unit",
	ValBool:         "bool",
	ValInt:          "int",
	ValFloat:        "float",
	ValChar:         "char",
	ValStaticString: "String",
	ValString:       "String",
	ValBytes:        "Bytes",
	ValVec:          "Vec",
	ValObject:       "Object",
	ValTuple:        "Tuple",
	ValTypedObject:  "Object",
	ValTypedTuple:   "Tuple",
	ValFunction:     "Function",
	ValFuture:       "Future",
	ValOption:       "Option",
	ValResult:       "Result",

	ValGenerator:      "Generator",
	ValStream:         "Stream",
	ValGeneratorState: "GeneratorState",
}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "unknown"
}

// Value is a stack-allocated tagged union.
// Primitives (unit, bool, int, float, char) live in Data and never allocate.
// Heap variants keep a shared pointer in Obj: copying a Value aliases the
// object, so mutation through one copy is visible through all of them.
type Value struct {
	Type ValueType
	Data uint64     // int64 bits, float64 bits, bool, rune, string index or variant flag
	Obj  HeapObject // Heap object (nil for primitives)
}

// Constructors

func UnitVal() Value {
	return Value{Type: ValUnit}
}

func BoolVal(v bool) Value {
	var data uint64
	if v {
		data = 1
	}
	return Value{Type: ValBool, Data: data}
}

func IntVal(v int64) Value {
	return Value{Type: ValInt, Data: uint64(v)}
}

func FloatVal(v float64) Value {
	return Value{Type: ValFloat, Data: math.Float64bits(v)}
}

func CharVal(r rune) Value {
	return Value{Type: ValChar, Data: uint64(r)}
}

// StaticStringVal references entry idx of the unit's string table.
func StaticStringVal(u *Unit, idx int) Value {
	return Value{Type: ValStaticString, Data: uint64(idx), Obj: u}
}

func StringVal(s string) Value {
	return Value{Type: ValString, Obj: &Str{S: s}}
}

func BytesVal(b []byte) Value {
	return Value{Type: ValBytes, Obj: &Bytes{B: b}}
}

func VecVal(items []Value) Value {
	return Value{Type: ValVec, Obj: &Vec{Items: items}}
}

func ObjectVal(fields map[string]Value) Value {
	return Value{Type: ValObject, Obj: &Object{Fields: fields}}
}

func TupleVal(items []Value) Value {
	return Value{Type: ValTuple, Obj: &Tuple{Items: items}}
}

func TypedObjectVal(t *TypeInfo, fields map[string]Value) Value {
	return Value{Type: ValTypedObject, Obj: &TypedObject{Type: t, Fields: fields}}
}

func TypedTupleVal(t *TypeInfo, items []Value) Value {
	return Value{Type: ValTypedTuple, Obj: &TypedTuple{Type: t, Items: items}}
}

func FunctionVal(f *Function) Value {
	return Value{Type: ValFunction, Obj: f}
}

func FutureVal(f *Future) Value {
	return Value{Type: ValFuture, Obj: f}
}

func SomeVal(v Value) Value {
	return Value{Type: ValOption, Data: 1, Obj: &Boxed{V: v}}
}

func NoneVal() Value {
	return Value{Type: ValOption}
}

func OkVal(v Value) Value {
	return Value{Type: ValResult, Data: 1, Obj: &Boxed{V: v}}
}

func ErrVal(v Value) Value {
	return Value{Type: ValResult, Obj: &Boxed{V: v}}
}

// GeneratorVal wraps a sync generator or a stream, by the generator's kind.
func GeneratorVal(g *Generator) Value {
	if g.stream {
		return Value{Type: ValStream, Obj: g}
	}
	return Value{Type: ValGenerator, Obj: g}
}

func YieldedVal(v Value) Value {
	return Value{Type: ValGeneratorState, Data: 1, Obj: &Boxed{V: v}}
}

func CompleteVal(v Value) Value {
	return Value{Type: ValGeneratorState, Obj: &Boxed{V: v}}
}

// Accessors

func (v Value) AsInt() int64 {
	return int64(v.Data)
}

func (v Value) AsFloat() float64 {
	return math.Float64frombits(v.Data)
}

func (v Value) AsBool() bool {
	return v.Data == 1
}

func (v Value) AsChar() rune {
	return rune(v.Data)
}

// AsString returns the contents of a String or StaticString.
func (v Value) AsString() (string, bool) {
	switch v.Type {
	case ValString:
		return v.Obj.(*Str).S, true
	case ValStaticString:
		u := v.Obj.(*Unit)
		return u.Strings[v.Data], true
	}
	return "", false
}

// Inner returns the payload of Some, Ok or Err.
func (v Value) Inner() Value {
	if b, ok := v.Obj.(*Boxed); ok {
		return b.V
	}
	return UnitVal()
}

// Items returns the elements of a Vec, Tuple or tuple-like typed value. The
// slice aliases the object.
func (v Value) Items() ([]Value, bool) {
	switch v.Type {
	case ValVec, ValTuple, ValTypedTuple:
		return seqItems(v), true
	}
	return nil, false
}

// Type checking helpers

func (v Value) IsUnit() bool   { return v.Type == ValUnit }
func (v Value) IsInt() bool    { return v.Type == ValInt }
func (v Value) IsFloat() bool  { return v.Type == ValFloat }
func (v Value) IsBool() bool   { return v.Type == ValBool }
func (v Value) IsString() bool { return v.Type == ValString || v.Type == ValStaticString }
func (v Value) IsSome() bool   { return v.Type == ValOption && v.Data == 1 }
func (v Value) IsOk() bool     { return v.Type == ValResult && v.Data == 1 }

// TypeName is the name used by `is`, by instance-function dispatch and in
// diagnostics. User types report their struct or enum name.
func (v Value) TypeName() string {
	switch v.Type {
	case ValTypedObject:
		return v.Obj.(*TypedObject).Type.TypeName()
	case ValTypedTuple:
		return v.Obj.(*TypedTuple).Type.TypeName()
	}
	return v.Type.String()
}

// Equals is total: values with different tags are unequal.
func (v Value) Equals(other Value) bool {
	if v.IsString() && other.IsString() {
		a, _ := v.AsString()
		b, _ := other.AsString()
		return a == b
	}
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case ValUnit:
		return true
	case ValBool, ValInt, ValChar:
		return v.Data == other.Data
	case ValFloat:
		return v.AsFloat() == other.AsFloat()
	case ValBytes:
		return string(v.Obj.(*Bytes).B) == string(other.Obj.(*Bytes).B)
	case ValVec:
		return valuesEqual(v.Obj.(*Vec).Items, other.Obj.(*Vec).Items)
	case ValTuple:
		return valuesEqual(v.Obj.(*Tuple).Items, other.Obj.(*Tuple).Items)
	case ValObject:
		return fieldsEqual(v.Obj.(*Object).Fields, other.Obj.(*Object).Fields)
	case ValTypedObject:
		a, b := v.Obj.(*TypedObject), other.Obj.(*TypedObject)
		return a.Type.Same(b.Type) && fieldsEqual(a.Fields, b.Fields)
	case ValTypedTuple:
		a, b := v.Obj.(*TypedTuple), other.Obj.(*TypedTuple)
		return a.Type.Same(b.Type) && valuesEqual(a.Items, b.Items)
	case ValOption, ValResult, ValGeneratorState:
		if v.Data != other.Data {
			return false
		}
		if v.Type == ValOption && v.Data == 0 {
			return true
		}
		return v.Inner().Equals(other.Inner())
	case ValFunction, ValFuture, ValGenerator, ValStream:
		return v.Obj == other.Obj
	}
	return false
}

func valuesEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

func fieldsEqual(a, b map[string]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !av.Equals(bv) {
			return false
		}
	}
	return true
}

// Compare orders two values of the same comparable kind.
// ok is false when the operands cannot be ordered against each other.
func (v Value) Compare(other Value) (cmp int, ok bool) {
	if v.IsString() && other.IsString() {
		a, _ := v.AsString()
		b, _ := other.AsString()
		return strings.Compare(a, b), true
	}
	if v.Type != other.Type {
		return 0, false
	}
	switch v.Type {
	case ValInt:
		a, b := v.AsInt(), other.AsInt()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		}
		return 0, true
	case ValChar:
		a, b := v.AsChar(), other.AsChar()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		}
		return 0, true
	case ValFloat:
		a, b := v.AsFloat(), other.AsFloat()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		case a == b:
			return 0, true
		}
		// NaN is unordered: every comparison is false.
		return 2, true
	}
	return 0, false
}

// Clone returns a copy that no longer aliases v's heap object. Containers
// are copied one level deep: their elements are shared as usual.
func (v Value) Clone() Value {
	switch v.Type {
	case ValString:
		return StringVal(v.Obj.(*Str).S)
	case ValBytes:
		return BytesVal(append([]byte(nil), v.Obj.(*Bytes).B...))
	case ValVec:
		return VecVal(append([]Value(nil), v.Obj.(*Vec).Items...))
	case ValTuple:
		return TupleVal(append([]Value(nil), v.Obj.(*Tuple).Items...))
	case ValObject:
		return ObjectVal(copyFields(v.Obj.(*Object).Fields))
	case ValTypedObject:
		o := v.Obj.(*TypedObject)
		return TypedObjectVal(o.Type, copyFields(o.Fields))
	case ValTypedTuple:
		t := v.Obj.(*TypedTuple)
		return TypedTupleVal(t.Type, append([]Value(nil), t.Items...))
	}
	return v
}

func copyFields(m map[string]Value) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Display renders the value the way println shows it: strings unquoted.
func (v Value) Display() string {
	switch v.Type {
	case ValString, ValStaticString:
		s, _ := v.AsString()
		return s
	case ValChar:
		return string(v.AsChar())
	}
	return v.Inspect()
}

// Inspect returns the debug representation (strings quoted).
func (v Value) Inspect() string {
	var sb strings.Builder
	v.inspect(&sb, 0)
	return sb.String()
}

const maxInspectDepth = 32

func (v Value) inspect(sb *strings.Builder, depth int) {
	if depth > maxInspectDepth {
		sb.WriteString("...")
		return
	}
	switch v.Type {
	case ValUnit:
		sb.WriteString("()")
	case ValBool:
		sb.WriteString(strconv.FormatBool(v.AsBool()))
	case ValInt:
		sb.WriteString(strconv.FormatInt(v.AsInt(), 10))
	case ValFloat:
		sb.WriteString(formatFloat(v.AsFloat()))
	case ValChar:
		sb.WriteString(strconv.QuoteRune(v.AsChar()))
	case ValString, ValStaticString:
		s, _ := v.AsString()
		sb.WriteString(strconv.Quote(s))
	case ValBytes:
		b := v.Obj.(*Bytes).B
		if utf8.Valid(b) {
			sb.WriteString("b" + strconv.Quote(string(b)))
		} else {
			sb.WriteString("b\"")
			for _, c := range b {
				sb.WriteString(`\x`)
				sb.WriteString(strconv.FormatUint(uint64(c)|0x100, 16)[1:])
			}
			sb.WriteString("\"")
		}
	case ValVec:
		sb.WriteString("[")
		inspectItems(sb, v.Obj.(*Vec).Items, depth)
		sb.WriteString("]")
	case ValTuple:
		sb.WriteString("(")
		inspectItems(sb, v.Obj.(*Tuple).Items, depth)
		sb.WriteString(")")
	case ValObject:
		sb.WriteString("#{")
		inspectFields(sb, v.Obj.(*Object).Fields, sortedKeys(v.Obj.(*Object).Fields), true, depth)
		sb.WriteString("}")
	case ValTypedObject:
		o := v.Obj.(*TypedObject)
		sb.WriteString(o.Type.Name)
		sb.WriteString(" { ")
		inspectFields(sb, o.Fields, o.Type.Fields, false, depth)
		sb.WriteString(" }")
	case ValTypedTuple:
		t := v.Obj.(*TypedTuple)
		sb.WriteString(t.Type.Name)
		if len(t.Items) > 0 || t.Type.Kind == KindTuple {
			sb.WriteString("(")
			inspectItems(sb, t.Items, depth)
			sb.WriteString(")")
		}
	case ValOption:
		if v.Data == 0 {
			sb.WriteString("None")
			return
		}
		sb.WriteString("Some(")
		v.Inner().inspect(sb, depth+1)
		sb.WriteString(")")
	case ValResult:
		if v.Data == 1 {
			sb.WriteString("Ok(")
		} else {
			sb.WriteString("Err(")
		}
		v.Inner().inspect(sb, depth+1)
		sb.WriteString(")")
	case ValGeneratorState:
		if v.Data == 1 {
			sb.WriteString("Yielded(")
		} else {
			sb.WriteString("Complete(")
		}
		v.Inner().inspect(sb, depth+1)
		sb.WriteString(")")
	case ValFunction, ValFuture, ValGenerator, ValStream:
		sb.WriteString(v.Obj.Inspect())
	default:
		sb.WriteString("<?>")
	}
}

func inspectItems(sb *strings.Builder, items []Value, depth int) {
	for i, it := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		it.inspect(sb, depth+1)
	}
}

func inspectFields(sb *strings.Builder, fields map[string]Value, keys []string, quote bool, depth int) {
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		if quote {
			sb.WriteString(strconv.Quote(k))
		} else {
			sb.WriteString(k)
		}
		sb.WriteString(": ")
		fields[k].inspect(sb, depth+1)
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
