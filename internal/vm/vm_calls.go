package vm

import (
	"errors"
	"runtime"
)

// callFunction dispatches a call whose argc arguments are on top of the
// stack. retSp is the stack height after the call returns: below the
// arguments for CALL, below the callee for CALL_FN and CALL_INSTANCE.
func (vm *VM) callFunction(f *Function, argc, retSp int) error {
	if f.Native != nil {
		if f.Native.Arity != Variadic && f.Native.Arity != argc {
			return newPanic(ErrArityMismatch, "%s takes %d argument(s), got %d", f.Native.Path, f.Native.Arity, argc)
		}
		args := vm.takeArgs(argc, retSp)
		return vm.invokeNative(f.Native, args)
	}

	if err := checkArity(f, argc); err != nil {
		return err
	}
	if f.Info().Generator {
		args := vm.takeArgs(argc, retSp)
		vm.push(vm.newGenerator(f, args))
		return nil
	}
	if f.Info().Async {
		// Lazy: the body starts on first await, select or join.
		args := vm.takeArgs(argc, retSp)
		vm.push(FutureVal(vm.sched.spawn(f, args)))
		return nil
	}
	return vm.pushFrame(f, argc, retSp)
}

// takeArgs copies the top argc values and truncates the stack to retSp.
func (vm *VM) takeArgs(argc, retSp int) []Value {
	args := make([]Value, argc)
	copy(args, vm.stack[vm.sp-argc:vm.sp])
	for i := retSp; i < vm.sp; i++ {
		vm.stack[i] = Value{}
	}
	vm.sp = retSp
	return args
}

// callInstance resolves value.name(args) by the receiver's type name: unit
// impl functions first, then Context methods.
func (vm *VM) callInstance(name string, argc int) error {
	receiver := vm.peek(argc)
	typeName := receiver.TypeName()

	if idx, ok := vm.impls[typeName][name]; ok {
		return vm.callFunction(vm.fnValues[idx], argc+1, vm.sp-argc-1)
	}
	if n, ok := vm.registry.LookupMethod(typeName, name); ok {
		if n.Arity != Variadic && n.Arity != argc {
			return newPanic(ErrArityMismatch, "%s takes %d argument(s), got %d", n.Path, n.Arity, argc)
		}
		return vm.invokeNative(n, vm.popN(argc+1))
	}
	return newPanic(ErrMissingFunction, "no instance function %s on %s", name, typeName)
}

// invokeNative calls a native and pushes its result.
func (vm *VM) invokeNative(n *Native, args []Value) error {
	res, err := vm.callNative(n, args)
	if err != nil {
		return err
	}
	vm.push(res)
	return nil
}

// callNative runs a host function. Errors that are not already panics
// become ErrNative panics carrying the native's path.
func (vm *VM) callNative(n *Native, args []Value) (res Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			re, ok := r.(runtime.Error)
			if !ok {
				panic(r)
			}
			p := newPanic(ErrNative, "%s: %v", n.Path, re)
			p.Cause = re
			res, err = UnitVal(), p
		}
	}()
	res, err = n.Fn(vm, args)
	if err != nil {
		var p *Panic
		if errors.As(err, &p) {
			return UnitVal(), p
		}
		p = newPanic(ErrNative, "%s: %v", n.Path, err)
		p.Cause = err
		return UnitVal(), p
	}
	return res, nil
}
