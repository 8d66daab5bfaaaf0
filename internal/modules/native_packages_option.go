package modules

import (
	"context"

	"github.com/funvibe/runevm/internal/config"
	"github.com/funvibe/runevm/internal/vm"
)

func initOptionPackage() {
	RegisterNativePackage(&NativePackage{
		Name: config.OptionTypeName,
		Methods: []NativeMethod{
			{"is_some", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.BoolVal(args[0].IsSome()), nil
			}},
			{"is_none", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.BoolVal(!args[0].IsSome()), nil
			}},
			{"unwrap", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				if !args[0].IsSome() {
					return vm.UnitVal(), vm.Raise(vm.ErrUserPanic, "called unwrap on None")
				}
				return args[0].Inner(), nil
			}},
			{"expect", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				if !args[0].IsSome() {
					return vm.UnitVal(), vm.Raise(vm.ErrUserPanic, "%s", args[1].Display())
				}
				return args[0].Inner(), nil
			}},
			{"unwrap_or", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				if !args[0].IsSome() {
					return args[1], nil
				}
				return args[0].Inner(), nil
			}},
			{"map", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				f, err := argFunc("Option::map", args, 1)
				if err != nil || !args[0].IsSome() {
					return args[0], err
				}
				r, err := m.CallValue(context.Background(), f, args[0].Inner())
				if err != nil {
					return vm.UnitVal(), err
				}
				return vm.SomeVal(r), nil
			}},
			{"ok_or", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				if !args[0].IsSome() {
					return vm.ErrVal(args[1]), nil
				}
				return vm.OkVal(args[0].Inner()), nil
			}},
		},
	})
}

func initResultPackage() {
	RegisterNativePackage(&NativePackage{
		Name: config.ResultTypeName,
		Methods: []NativeMethod{
			{"is_ok", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.BoolVal(args[0].IsOk()), nil
			}},
			{"is_err", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.BoolVal(!args[0].IsOk()), nil
			}},
			{"unwrap", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				if !args[0].IsOk() {
					return vm.UnitVal(), vm.Raise(vm.ErrUserPanic, "called unwrap on Err(%s)", args[0].Inner().Inspect())
				}
				return args[0].Inner(), nil
			}},
			{"unwrap_err", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				if args[0].IsOk() {
					return vm.UnitVal(), vm.Raise(vm.ErrUserPanic, "called unwrap_err on Ok(%s)", args[0].Inner().Inspect())
				}
				return args[0].Inner(), nil
			}},
			{"expect", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				if !args[0].IsOk() {
					return vm.UnitVal(), vm.Raise(vm.ErrUserPanic, "%s: %s", args[1].Display(), args[0].Inner().Inspect())
				}
				return args[0].Inner(), nil
			}},
			{"unwrap_or", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				if !args[0].IsOk() {
					return args[1], nil
				}
				return args[0].Inner(), nil
			}},
			{"ok", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				if !args[0].IsOk() {
					return vm.NoneVal(), nil
				}
				return vm.SomeVal(args[0].Inner()), nil
			}},
			{"err", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				if args[0].IsOk() {
					return vm.NoneVal(), nil
				}
				return vm.SomeVal(args[0].Inner()), nil
			}},
			{"map", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				f, err := argFunc("Result::map", args, 1)
				if err != nil || !args[0].IsOk() {
					return args[0], err
				}
				r, err := m.CallValue(context.Background(), f, args[0].Inner())
				if err != nil {
					return vm.UnitVal(), err
				}
				return vm.OkVal(r), nil
			}},
		},
	})
}
