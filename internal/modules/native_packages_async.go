package modules

import (
	"time"

	"github.com/funvibe/runevm/internal/config"
	"github.com/funvibe/runevm/internal/vm"
)

func initFuturePackage() {
	RegisterNativePackage(&NativePackage{
		Name: "future",
		Functions: []NativeFunction{
			// join([a, b]) resolves to a Vec, join((a, b)) to a Tuple.
			{"join", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				members, err := argSeq("future::join", args, 0)
				if err != nil {
					return vm.UnitVal(), err
				}
				return m.Join(members, args[0].Type == vm.ValTuple)
			}},
			{"ready", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return m.Ready(args[0]), nil
			}},
		},
	})
	RegisterNativePackage(&NativePackage{
		Name: config.FutureTypeName,
		Methods: []NativeMethod{
			{"status", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.StringVal(args[0].Obj.(*vm.Future).Status().String()), nil
			}},
		},
	})
}

func initGeneratorPackage() {
	RegisterNativePackage(&NativePackage{
		Name: config.GeneratorTypeName,
		Methods: []NativeMethod{
			// next() is Some(yielded) until the body returns, None after.
			{"next", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				g := args[0].Obj.(*vm.Generator)
				if g.Status() == vm.GeneratorDone {
					return vm.NoneVal(), nil
				}
				v, yielded, err := m.Resume(g, vm.UnitVal())
				if err != nil || !yielded {
					return vm.NoneVal(), err
				}
				return vm.SomeVal(v), nil
			}},
			// resume(v) sends v as the value of the pending yield.
			{"resume", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				v, yielded, err := m.Resume(args[0].Obj.(*vm.Generator), args[1])
				if err != nil {
					return vm.UnitVal(), err
				}
				if yielded {
					return vm.YieldedVal(v), nil
				}
				return vm.CompleteVal(v), nil
			}},
			{"collect", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				g := args[0].Obj.(*vm.Generator)
				var items []vm.Value
				for g.Status() != vm.GeneratorDone {
					v, yielded, err := m.Resume(g, vm.UnitVal())
					if err != nil {
						return vm.UnitVal(), err
					}
					if !yielded {
						break
					}
					items = append(items, v)
				}
				return vm.VecVal(items), nil
			}},
			{"status", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.StringVal(args[0].Obj.(*vm.Generator).Status().String()), nil
			}},
		},
	})
	RegisterNativePackage(&NativePackage{
		Name: config.StreamTypeName,
		Methods: []NativeMethod{
			// next() is a Future of Some(yielded), or of None once the body returns.
			{"next", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return m.StreamNext(args[0].Obj.(*vm.Generator))
			}},
			{"cancel", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				m.CancelStream(args[0].Obj.(*vm.Generator))
				return vm.UnitVal(), nil
			}},
			{"status", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.StringVal(args[0].Obj.(*vm.Generator).Status().String()), nil
			}},
		},
	})
}

func initTimePackage() {
	RegisterNativePackage(&NativePackage{
		Name: "time",
		Functions: []NativeFunction{
			{"sleep", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				ms, err := argInt("time::sleep", args, 0)
				if err != nil {
					return vm.UnitVal(), err
				}
				return m.After(time.Duration(max(ms, 0)) * time.Millisecond), nil
			}},
			{"sleep_secs", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				secs, err := argFloat("time::sleep_secs", args, 0)
				if err != nil {
					return vm.UnitVal(), err
				}
				return m.After(time.Duration(max(secs, 0) * float64(time.Second))), nil
			}},
		},
	})
}
