package vm

import "strings"

// executeOneOp executes a single opcode (except the returning ones)
func (vm *VM) executeOneOp(op Opcode) error {
	switch op {
	case OP_UNIT:
		vm.push(UnitVal())

	case OP_TRUE:
		vm.push(BoolVal(true))

	case OP_FALSE:
		vm.push(BoolVal(false))

	case OP_CONST:
		vm.push(vm.readConstant())

	case OP_STATIC_STR:
		idx := vm.readU16()
		if idx >= len(vm.unit.Strings) {
			panic(errInvalidConstantIndex)
		}
		vm.push(StaticStringVal(vm.unit, idx))

	case OP_POP:
		vm.pop()

	case OP_POPN:
		vm.popN(vm.readU16())

	case OP_DUP:
		vm.push(vm.peek(0))

	case OP_CLEAN:
		n := vm.readU16()
		top := vm.pop()
		vm.popN(n)
		vm.push(top)

	case OP_COPY:
		slot := vm.readU16()
		vm.push(vm.stack[vm.frame.base+slot])

	case OP_REPLACE:
		slot := vm.readU16()
		vm.stack[vm.frame.base+slot] = vm.pop()

	case OP_CAPTURE:
		idx := vm.readU16()
		caps := vm.frame.fn.Captures
		if idx >= len(caps) {
			return newPanic(ErrMissingField, "closure has no capture %d", idx)
		}
		vm.push(caps[idx])

	case OP_ADD, OP_SUB, OP_MUL, OP_DIV, OP_REM:
		return vm.arithmeticOp(op)

	case OP_BAND, OP_BOR, OP_BXOR, OP_SHL, OP_SHR:
		return vm.bitwiseOp(op)

	case OP_NEG, OP_NOT:
		return vm.unaryOp(op)

	case OP_EQ:
		b := vm.pop()
		a := vm.pop()
		vm.push(BoolVal(a.Equals(b)))

	case OP_NE:
		b := vm.pop()
		a := vm.pop()
		vm.push(BoolVal(!a.Equals(b)))

	case OP_LT, OP_LE, OP_GT, OP_GE:
		return vm.comparisonOp(op)

	case OP_JUMP:
		vm.frame.ip = vm.readU32()

	case OP_JUMP_IF_FALSE, OP_JUMP_IF_TRUE:
		target := vm.readU32()
		cond := vm.pop()
		if cond.Type != ValBool {
			return newPanic(ErrTypeMismatch, "condition must be bool, got %s", cond.TypeName())
		}
		if cond.AsBool() == (op == OP_JUMP_IF_TRUE) {
			vm.frame.ip = target
		}

	case OP_CALL:
		idx := vm.readU16()
		argc := vm.readU16()
		return vm.callFunction(vm.fnValues[idx], argc, vm.sp-argc)

	case OP_CALL_NATIVE:
		idx := vm.readU16()
		argc := vm.readU16()
		args := vm.popN(argc)
		return vm.invokeNative(vm.natives[idx].Native, args)

	case OP_CALL_INSTANCE:
		name := vm.readString()
		argc := vm.readU16()
		return vm.callInstance(name, argc)

	case OP_CALL_FN:
		argc := vm.readU16()
		callee := vm.peek(argc)
		if callee.Type != ValFunction {
			return newPanic(ErrTypeMismatch, "cannot call a value of type %s", callee.TypeName())
		}
		return vm.callFunction(callee.Obj.(*Function), argc, vm.sp-argc-1)

	case OP_FN:
		vm.push(FunctionVal(vm.fnValues[vm.readU16()]))

	case OP_NATIVE_FN:
		vm.push(FunctionVal(vm.natives[vm.readU16()]))

	case OP_CLOSURE:
		idx := vm.readU16()
		n := vm.readU16()
		caps := vm.popN(n)
		proto := vm.fnValues[idx]
		vm.push(FunctionVal(&Function{Name: proto.Name, Unit: proto.Unit, Index: idx, Captures: caps}))

	case OP_VEC:
		vm.push(VecVal(vm.popN(vm.readU16())))

	case OP_TUPLE:
		vm.push(TupleVal(vm.popN(vm.readU16())))

	case OP_OBJECT:
		keys := vm.unit.Keys[vm.readU16()]
		values := vm.popN(len(keys))
		fields := make(map[string]Value, len(keys))
		for i, k := range keys {
			fields[k] = values[i]
		}
		vm.push(ObjectVal(fields))

	case OP_TYPED_OBJECT:
		t := &vm.unit.Types[vm.readU16()]
		values := vm.popN(len(t.Fields))
		fields := make(map[string]Value, len(t.Fields))
		for i, k := range t.Fields {
			fields[k] = values[i]
		}
		vm.push(TypedObjectVal(t, fields))

	case OP_TYPED_TUPLE:
		t := &vm.unit.Types[vm.readU16()]
		n := 0
		if t.Kind == KindTuple {
			n = t.Arity
		}
		vm.push(TypedTupleVal(t, vm.popN(n)))

	case OP_SOME:
		vm.push(SomeVal(vm.pop()))

	case OP_NONE:
		vm.push(NoneVal())

	case OP_OK:
		vm.push(OkVal(vm.pop()))

	case OP_ERR:
		vm.push(ErrVal(vm.pop()))

	case OP_YIELDED:
		vm.push(YieldedVal(vm.pop()))

	case OP_COMPLETE:
		vm.push(CompleteVal(vm.pop()))

	case OP_STRING_CONCAT:
		parts := vm.popN(vm.readU16())
		var sb strings.Builder
		for _, p := range parts {
			sb.WriteString(p.Display())
		}
		vm.push(StringVal(sb.String()))

	case OP_INDEX_GET:
		index := vm.pop()
		target := vm.pop()
		v, err := vm.getIndex(target, index)
		if err != nil {
			return err
		}
		vm.push(v)

	case OP_INDEX_SET:
		value := vm.pop()
		index := vm.pop()
		target := vm.pop()
		return vm.setIndex(target, index, value)

	case OP_FIELD_GET:
		name := vm.readString()
		v, err := vm.getField(vm.pop(), name)
		if err != nil {
			return err
		}
		vm.push(v)

	case OP_FIELD_SET:
		name := vm.readString()
		value := vm.pop()
		return vm.setField(vm.pop(), name, value)

	case OP_TUPLE_GET:
		i := vm.readU16()
		v, err := vm.getTupleField(vm.pop(), i)
		if err != nil {
			return err
		}
		vm.push(v)

	case OP_TUPLE_SET:
		i := vm.readU16()
		value := vm.pop()
		return vm.setTupleField(vm.pop(), i, value)

	case OP_LEN:
		n, err := valueLen(vm.pop())
		if err != nil {
			return err
		}
		vm.push(IntVal(int64(n)))

	case OP_IS_TYPE:
		name := vm.readString()
		vm.push(BoolVal(vm.pop().TypeName() == name))

	case OP_MATCH_SEQ:
		kind := vm.readByte()
		n := vm.readU16()
		exact := vm.readByte() == 1
		vm.push(BoolVal(matchSequence(vm.pop(), kind, n, exact)))

	case OP_MATCH_OBJECT:
		keys := vm.unit.Keys[vm.readU16()]
		exact := vm.readByte() == 1
		vm.push(BoolVal(matchObject(vm.pop(), keys, exact)))

	case OP_MATCH_TYPE:
		t := &vm.unit.Types[vm.readU16()]
		vm.push(BoolVal(matchType(vm.pop(), t)))

	case OP_MATCH_BUILTIN:
		variant := vm.readByte()
		vm.push(BoolVal(matchBuiltin(vm.pop(), variant)))

	case OP_AWAIT:
		v := vm.pop()
		if v.Type != ValFuture {
			return newPanic(ErrTypeMismatch, ".await expects a Future, got %s", v.TypeName())
		}
		return vm.await(v.Obj.(*Future))

	case OP_SELECT:
		n := vm.readU16()
		hasDefault := vm.readByte() == 1
		return vm.selectFutures(vm.popN(n), hasDefault)

	case OP_YIELD:
		v := vm.pop()
		if vm.frameCount != 1 || !vm.frame.info.Generator {
			return newPanic(ErrSuspend, "yield outside the body of a generator")
		}
		vm.yielded, vm.yieldValue = true, v

	case OP_RESUME:
		// Suspension marker; execution continues here after a wake.

	case OP_PANIC:
		switch vm.readByte() {
		case ReasonUnmatchedPattern:
			return newPanic(ErrMatchError, "no pattern matched the value")
		default:
			return newPanic(ErrMatchError, "entered unreachable code")
		}

	default:
		return newPanic(ErrInvalidUnit, "unknown opcode %d", op)
	}
	return nil
}
