package modules

import (
	"github.com/funvibe/runevm/internal/vm"
)

// Argument accessors. They raise TypeMismatch panics naming the native and
// the position of the offending argument.

func argError(fn string, i int, want string, got vm.Value) error {
	return vm.Raise(vm.ErrTypeMismatch, "%s expects %s as argument %d, got %s", fn, want, i+1, got.TypeName())
}

func argInt(fn string, args []vm.Value, i int) (int64, error) {
	if args[i].Type != vm.ValInt {
		return 0, argError(fn, i, "int", args[i])
	}
	return args[i].AsInt(), nil
}

func argIndex(fn string, args []vm.Value, i int) (int, error) {
	n, err := argInt(fn, args, i)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, vm.Raise(vm.ErrTypeMismatch, "%s expects a non-negative index, got %d", fn, n)
	}
	return int(n), nil
}

func argFloat(fn string, args []vm.Value, i int) (float64, error) {
	if args[i].Type != vm.ValFloat {
		return 0, argError(fn, i, "float", args[i])
	}
	return args[i].AsFloat(), nil
}

func argBool(fn string, args []vm.Value, i int) (bool, error) {
	if args[i].Type != vm.ValBool {
		return false, argError(fn, i, "bool", args[i])
	}
	return args[i].AsBool(), nil
}

func argString(fn string, args []vm.Value, i int) (string, error) {
	s, ok := args[i].AsString()
	if !ok {
		return "", argError(fn, i, "String", args[i])
	}
	return s, nil
}

func argSeq(fn string, args []vm.Value, i int) ([]vm.Value, error) {
	items, ok := args[i].Items()
	if !ok {
		return nil, argError(fn, i, "Vec or Tuple", args[i])
	}
	return items, nil
}

func argBytes(fn string, args []vm.Value, i int) (*vm.Bytes, error) {
	if args[i].Type != vm.ValBytes {
		return nil, argError(fn, i, "Bytes", args[i])
	}
	return args[i].Obj.(*vm.Bytes), nil
}

func argFunc(fn string, args []vm.Value, i int) (vm.Value, error) {
	if args[i].Type != vm.ValFunction {
		return vm.Value{}, argError(fn, i, "Function", args[i])
	}
	return args[i], nil
}

func argByte(fn string, v vm.Value) (byte, error) {
	if v.Type != vm.ValInt || v.AsInt() < 0 || v.AsInt() > 255 {
		return 0, vm.Raise(vm.ErrTypeMismatch, "%s expects a byte in 0..=255, got %s", fn, v.Inspect())
	}
	return byte(v.AsInt()), nil
}
