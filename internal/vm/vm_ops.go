package vm

import (
	"math"
	"unicode/utf8"
)

var opSymbols = map[Opcode]string{
	OP_ADD: "+", OP_SUB: "-", OP_MUL: "*", OP_DIV: "/", OP_REM: "%",
	OP_BAND: "&", OP_BOR: "|", OP_BXOR: "^", OP_SHL: "<<", OP_SHR: ">>",
	OP_LT: "<", OP_LE: "<=", OP_GT: ">", OP_GE: ">=", OP_NEG: "-", OP_NOT: "!",
}

func mismatch(op Opcode, a, b Value) *Panic {
	return newPanic(ErrTypeMismatch, "cannot apply %s to %s and %s", opSymbols[op], a.TypeName(), b.TypeName())
}

// arithmeticOp implements + - * / %. Integer arithmetic is checked: it
// panics on overflow instead of wrapping.
func (vm *VM) arithmeticOp(op Opcode) error {
	b := vm.pop()
	a := vm.pop()

	switch {
	case a.Type == ValInt && b.Type == ValInt:
		r, err := intArith(op, a.AsInt(), b.AsInt())
		if err != nil {
			return err
		}
		vm.push(IntVal(r))
		return nil

	case a.Type == ValFloat && b.Type == ValFloat:
		x, y := a.AsFloat(), b.AsFloat()
		var r float64
		switch op {
		case OP_ADD:
			r = x + y
		case OP_SUB:
			r = x - y
		case OP_MUL:
			r = x * y
		case OP_DIV:
			r = x / y
		case OP_REM:
			r = math.Mod(x, y)
		}
		vm.push(FloatVal(r))
		return nil

	case op == OP_ADD && a.IsString() && b.IsString():
		x, _ := a.AsString()
		y, _ := b.AsString()
		vm.push(StringVal(x + y))
		return nil
	}
	return mismatch(op, a, b)
}

func intArith(op Opcode, a, b int64) (int64, error) {
	switch op {
	case OP_ADD:
		if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
			return 0, newPanic(ErrOverflow, "%d + %d overflows", a, b)
		}
		return a + b, nil
	case OP_SUB:
		if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
			return 0, newPanic(ErrOverflow, "%d - %d overflows", a, b)
		}
		return a - b, nil
	case OP_MUL:
		if a == 0 || b == 0 {
			return 0, nil
		}
		r := a * b
		if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return 0, newPanic(ErrOverflow, "%d * %d overflows", a, b)
		}
		return r, nil
	case OP_DIV, OP_REM:
		if b == 0 {
			return 0, newPanic(ErrDivideByZero, "%d %s 0", a, opSymbols[op])
		}
		if a == math.MinInt64 && b == -1 {
			return 0, newPanic(ErrOverflow, "%d %s -1 overflows", a, opSymbols[op])
		}
		if op == OP_DIV {
			return a / b, nil
		}
		return a % b, nil
	}
	return 0, newPanic(ErrTypeMismatch, "%s is not an arithmetic operator", op)
}

func (vm *VM) bitwiseOp(op Opcode) error {
	b := vm.pop()
	a := vm.pop()

	if a.Type == ValBool && b.Type == ValBool && op != OP_SHL && op != OP_SHR {
		x, y := a.AsBool(), b.AsBool()
		switch op {
		case OP_BAND:
			vm.push(BoolVal(x && y))
		case OP_BOR:
			vm.push(BoolVal(x || y))
		default:
			vm.push(BoolVal(x != y))
		}
		return nil
	}
	if a.Type != ValInt || b.Type != ValInt {
		return mismatch(op, a, b)
	}
	x, y := a.AsInt(), b.AsInt()
	switch op {
	case OP_BAND:
		vm.push(IntVal(x & y))
	case OP_BOR:
		vm.push(IntVal(x | y))
	case OP_BXOR:
		vm.push(IntVal(x ^ y))
	case OP_SHL, OP_SHR:
		if y < 0 || y >= 64 {
			return newPanic(ErrOverflow, "shift by %d overflows", y)
		}
		if op == OP_SHL {
			vm.push(IntVal(x << uint(y)))
		} else {
			vm.push(IntVal(x >> uint(y)))
		}
	}
	return nil
}

func (vm *VM) unaryOp(op Opcode) error {
	v := vm.pop()
	switch {
	case op == OP_NEG && v.Type == ValInt:
		if v.AsInt() == math.MinInt64 {
			return newPanic(ErrOverflow, "-(%d) overflows", v.AsInt())
		}
		vm.push(IntVal(-v.AsInt()))
	case op == OP_NEG && v.Type == ValFloat:
		vm.push(FloatVal(-v.AsFloat()))
	case op == OP_NOT && v.Type == ValBool:
		vm.push(BoolVal(!v.AsBool()))
	case op == OP_NOT && v.Type == ValInt:
		vm.push(IntVal(^v.AsInt()))
	default:
		return newPanic(ErrTypeMismatch, "cannot apply unary %s to %s", opSymbols[op], v.TypeName())
	}
	return nil
}

func (vm *VM) comparisonOp(op Opcode) error {
	b := vm.pop()
	a := vm.pop()
	cmp, ok := a.Compare(b)
	if !ok {
		return mismatch(op, a, b)
	}
	var r bool
	switch op {
	case OP_LT:
		r = cmp == -1
	case OP_LE:
		r = cmp == -1 || cmp == 0
	case OP_GT:
		r = cmp == 1
	case OP_GE:
		r = cmp == 1 || cmp == 0
	}
	vm.push(BoolVal(r))
	return nil
}

// checkIndex validates an integer index against length n.
func checkIndex(index Value, n int, what string) (int, error) {
	if index.Type != ValInt {
		return 0, newPanic(ErrTypeMismatch, "%s index must be int, got %s", what, index.TypeName())
	}
	i := index.AsInt()
	if i < 0 {
		return 0, newPanic(ErrTypeMismatch, "%s index must not be negative, got %d", what, i)
	}
	if i >= int64(n) {
		return 0, newPanic(ErrIndexOutOfBounds, "index %d out of bounds for %s of length %d", i, what, n)
	}
	return int(i), nil
}

func (vm *VM) getIndex(target, index Value) (Value, error) {
	switch target.Type {
	case ValVec, ValTuple, ValTypedTuple:
		items := seqItems(target)
		i, err := checkIndex(index, len(items), target.TypeName())
		if err != nil {
			return UnitVal(), err
		}
		return items[i], nil
	case ValBytes:
		b := target.Obj.(*Bytes).B
		i, err := checkIndex(index, len(b), "Bytes")
		if err != nil {
			return UnitVal(), err
		}
		return IntVal(int64(b[i])), nil
	case ValObject, ValTypedObject:
		key, ok := index.AsString()
		if !ok {
			return UnitVal(), newPanic(ErrTypeMismatch, "object key must be String, got %s", index.TypeName())
		}
		return vm.getField(target, key)
	}
	return UnitVal(), newPanic(ErrTypeMismatch, "%s cannot be indexed", target.TypeName())
}

func (vm *VM) setIndex(target, index, value Value) error {
	switch target.Type {
	case ValVec, ValTuple, ValTypedTuple:
		items := seqItems(target)
		i, err := checkIndex(index, len(items), target.TypeName())
		if err != nil {
			return err
		}
		items[i] = value
		return nil
	case ValBytes:
		b := target.Obj.(*Bytes).B
		i, err := checkIndex(index, len(b), "Bytes")
		if err != nil {
			return err
		}
		if value.Type != ValInt || value.AsInt() < 0 || value.AsInt() > 255 {
			return newPanic(ErrTypeMismatch, "Bytes element must be an int in 0..=255, got %s", value.Inspect())
		}
		b[i] = byte(value.AsInt())
		return nil
	case ValObject:
		key, ok := index.AsString()
		if !ok {
			return newPanic(ErrTypeMismatch, "object key must be String, got %s", index.TypeName())
		}
		// Index assignment inserts missing keys, field assignment does not.
		target.Obj.(*Object).Fields[key] = value
		return nil
	case ValTypedObject:
		key, ok := index.AsString()
		if !ok {
			return newPanic(ErrTypeMismatch, "object key must be String, got %s", index.TypeName())
		}
		return vm.setField(target, key, value)
	}
	return newPanic(ErrTypeMismatch, "%s does not support index assignment", target.TypeName())
}

func (vm *VM) getField(target Value, name string) (Value, error) {
	var fields map[string]Value
	switch target.Type {
	case ValObject:
		fields = target.Obj.(*Object).Fields
	case ValTypedObject:
		fields = target.Obj.(*TypedObject).Fields
	default:
		return UnitVal(), newPanic(ErrMissingField, "%s has no field %s", target.TypeName(), name)
	}
	v, ok := fields[name]
	if !ok {
		return UnitVal(), newPanic(ErrMissingField, "%s has no field %s", target.TypeName(), name)
	}
	return v, nil
}

func (vm *VM) setField(target Value, name string, value Value) error {
	var fields map[string]Value
	switch target.Type {
	case ValObject:
		fields = target.Obj.(*Object).Fields
	case ValTypedObject:
		fields = target.Obj.(*TypedObject).Fields
	default:
		return newPanic(ErrMissingField, "%s has no field %s", target.TypeName(), name)
	}
	if _, ok := fields[name]; !ok {
		return newPanic(ErrMissingField, "%s has no field %s", target.TypeName(), name)
	}
	fields[name] = value
	return nil
}

func (vm *VM) getTupleField(target Value, i int) (Value, error) {
	switch target.Type {
	case ValVec, ValTuple, ValTypedTuple:
		items := seqItems(target)
		if i >= len(items) {
			return UnitVal(), newPanic(ErrIndexOutOfBounds, "index %d out of bounds for %s of length %d", i, target.TypeName(), len(items))
		}
		return items[i], nil
	case ValOption, ValResult, ValGeneratorState:
		if _, ok := target.Obj.(*Boxed); ok && i == 0 {
			return target.Inner(), nil
		}
		return UnitVal(), newPanic(ErrIndexOutOfBounds, "index %d out of bounds for %s", i, target.Inspect())
	}
	return UnitVal(), newPanic(ErrTypeMismatch, "%s has no positional fields", target.TypeName())
}

func (vm *VM) setTupleField(target Value, i int, value Value) error {
	switch target.Type {
	case ValVec, ValTuple, ValTypedTuple:
		items := seqItems(target)
		if i >= len(items) {
			return newPanic(ErrIndexOutOfBounds, "index %d out of bounds for %s of length %d", i, target.TypeName(), len(items))
		}
		items[i] = value
		return nil
	}
	return newPanic(ErrTypeMismatch, "%s has no positional fields", target.TypeName())
}

// seqItems returns the backing slice of a Vec, Tuple or TypedTuple.
func seqItems(v Value) []Value {
	switch v.Type {
	case ValVec:
		return v.Obj.(*Vec).Items
	case ValTuple:
		return v.Obj.(*Tuple).Items
	case ValTypedTuple:
		return v.Obj.(*TypedTuple).Items
	}
	return nil
}

func valueLen(v Value) (int, error) {
	switch v.Type {
	case ValVec, ValTuple, ValTypedTuple:
		return len(seqItems(v)), nil
	case ValBytes:
		return len(v.Obj.(*Bytes).B), nil
	case ValString, ValStaticString:
		s, _ := v.AsString()
		return len(s), nil
	case ValObject:
		return len(v.Obj.(*Object).Fields), nil
	case ValTypedObject:
		return len(v.Obj.(*TypedObject).Fields), nil
	}
	return 0, newPanic(ErrTypeMismatch, "%s has no length", v.TypeName())
}

// CharCount is the number of characters of a string value.
func CharCount(v Value) int {
	s, _ := v.AsString()
	return utf8.RuneCountInString(s)
}

func matchSequence(v Value, kind byte, n int, exact bool) bool {
	var items []Value
	switch {
	case kind == SeqVec && v.Type == ValVec:
		items = v.Obj.(*Vec).Items
	case kind == SeqTuple && v.Type == ValTuple:
		items = v.Obj.(*Tuple).Items
	default:
		return false
	}
	if exact {
		return len(items) == n
	}
	return len(items) >= n
}

func matchObject(v Value, keys []string, exact bool) bool {
	if v.Type != ValObject {
		return false
	}
	fields := v.Obj.(*Object).Fields
	if exact && len(fields) != len(keys) {
		return false
	}
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			return false
		}
	}
	return true
}

func matchType(v Value, t *TypeInfo) bool {
	switch v.Type {
	case ValTypedObject:
		return v.Obj.(*TypedObject).Type.Same(t)
	case ValTypedTuple:
		return v.Obj.(*TypedTuple).Type.Same(t)
	}
	return false
}

func matchBuiltin(v Value, variant byte) bool {
	switch variant {
	case VariantSome:
		return v.Type == ValOption && v.Data == 1
	case VariantNone:
		return v.Type == ValOption && v.Data == 0
	case VariantOk:
		return v.Type == ValResult && v.Data == 1
	case VariantErr:
		return v.Type == ValResult && v.Data == 0
	case VariantYielded:
		return v.Type == ValGeneratorState && v.Data == 1
	case VariantComplete:
		return v.Type == ValGeneratorState && v.Data == 0
	}
	return false
}
