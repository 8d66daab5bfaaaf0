package modules

import (
	"context"
	"sort"
	"strings"

	"github.com/funvibe/runevm/internal/config"
	"github.com/funvibe/runevm/internal/vm"
)

func initVecPackage() {
	RegisterNativePackage(&NativePackage{
		Name: config.VecTypeName,
		Functions: []NativeFunction{
			{"new", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.VecVal(nil), nil
			}},
			{"with_capacity", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				n, err := argIndex("Vec::with_capacity", args, 0)
				if err != nil {
					return vm.UnitVal(), err
				}
				return vm.VecVal(make([]vm.Value, 0, n)), nil
			}},
		},
		Methods: []NativeMethod{
			{"len", 0, vecMethod(func(v *vm.Vec) vm.Value { return vm.IntVal(int64(len(v.Items))) })},
			{"is_empty", 0, vecMethod(func(v *vm.Vec) vm.Value { return vm.BoolVal(len(v.Items) == 0) })},
			{"clear", 0, vecMethod(func(v *vm.Vec) vm.Value {
				v.Items = v.Items[:0]
				return vm.UnitVal()
			})},
			{"clone", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return args[0].Clone(), nil
			}},
			{"first", 0, vecMethod(func(v *vm.Vec) vm.Value { return optionAt(v.Items, 0) })},
			{"last", 0, vecMethod(func(v *vm.Vec) vm.Value { return optionAt(v.Items, len(v.Items)-1) })},
			{"pop", 0, vecMethod(func(v *vm.Vec) vm.Value {
				if len(v.Items) == 0 {
					return vm.NoneVal()
				}
				last := v.Items[len(v.Items)-1]
				v.Items = v.Items[:len(v.Items)-1]
				return vm.SomeVal(last)
			})},
			{"reverse", 0, vecMethod(func(v *vm.Vec) vm.Value {
				for i, j := 0, len(v.Items)-1; i < j; i, j = i+1, j-1 {
					v.Items[i], v.Items[j] = v.Items[j], v.Items[i]
				}
				return vm.UnitVal()
			})},
			{"push", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				v := args[0].Obj.(*vm.Vec)
				v.Items = append(v.Items, args[1])
				return vm.UnitVal(), nil
			}},
			{"get", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				i, err := argInt("Vec::get", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				return optionAt(args[0].Obj.(*vm.Vec).Items, int(i)), nil
			}},
			{"contains", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				for _, item := range args[0].Obj.(*vm.Vec).Items {
					if item.Equals(args[1]) {
						return vm.BoolVal(true), nil
					}
				}
				return vm.BoolVal(false), nil
			}},
			{"extend", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				items, err := argSeq("Vec::extend", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				v := args[0].Obj.(*vm.Vec)
				v.Items = append(v.Items, items...)
				return vm.UnitVal(), nil
			}},
			{"insert", 2, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				v := args[0].Obj.(*vm.Vec)
				i, err := argIndex("Vec::insert", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				if i > len(v.Items) {
					return vm.UnitVal(), vm.Raise(vm.ErrIndexOutOfBounds, "insert index %d out of bounds for Vec of length %d", i, len(v.Items))
				}
				v.Items = append(v.Items, vm.UnitVal())
				copy(v.Items[i+1:], v.Items[i:])
				v.Items[i] = args[2]
				return vm.UnitVal(), nil
			}},
			{"remove", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				v := args[0].Obj.(*vm.Vec)
				i, err := argIndex("Vec::remove", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				if i >= len(v.Items) {
					return vm.UnitVal(), vm.Raise(vm.ErrIndexOutOfBounds, "remove index %d out of bounds for Vec of length %d", i, len(v.Items))
				}
				removed := v.Items[i]
				v.Items = append(v.Items[:i], v.Items[i+1:]...)
				return removed, nil
			}},
			{"sort", 0, vecSort},
			{"join", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				sep, err := argString("Vec::join", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				items := args[0].Obj.(*vm.Vec).Items
				parts := make([]string, len(items))
				for i, item := range items {
					parts[i] = item.Display()
				}
				return vm.StringVal(strings.Join(parts, sep)), nil
			}},
			{"map", 1, vecMap},
			{"filter", 1, vecFilter},
			{"fold", 2, vecFold},
		},
	})
}

func vecMethod(f func(v *vm.Vec) vm.Value) vm.NativeFunc {
	return func(m *vm.VM, args []vm.Value) (vm.Value, error) {
		return f(args[0].Obj.(*vm.Vec)), nil
	}
}

func optionAt(items []vm.Value, i int) vm.Value {
	if i < 0 || i >= len(items) {
		return vm.NoneVal()
	}
	return vm.SomeVal(items[i])
}

// vecSort sorts in place by the total order of Compare. Mixed or unordered
// elements raise TypeMismatch and leave the order unspecified.
func vecSort(m *vm.VM, args []vm.Value) (vm.Value, error) {
	items := args[0].Obj.(*vm.Vec).Items
	var bad error
	sort.SliceStable(items, func(i, j int) bool {
		c, ok := items[i].Compare(items[j])
		if (!ok || c == 2) && bad == nil {
			bad = vm.Raise(vm.ErrTypeMismatch, "cannot compare %s with %s", items[i].Inspect(), items[j].Inspect())
		}
		return c < 0
	})
	return vm.UnitVal(), bad
}

func vecMap(m *vm.VM, args []vm.Value) (vm.Value, error) {
	f, err := argFunc("Vec::map", args, 1)
	if err != nil {
		return vm.UnitVal(), err
	}
	items := args[0].Obj.(*vm.Vec).Items
	out := make([]vm.Value, 0, len(items))
	for _, item := range items {
		r, err := m.CallValue(context.Background(), f, item)
		if err != nil {
			return vm.UnitVal(), err
		}
		out = append(out, r)
	}
	return vm.VecVal(out), nil
}

func vecFilter(m *vm.VM, args []vm.Value) (vm.Value, error) {
	f, err := argFunc("Vec::filter", args, 1)
	if err != nil {
		return vm.UnitVal(), err
	}
	var out []vm.Value
	for _, item := range args[0].Obj.(*vm.Vec).Items {
		keep, err := m.CallValue(context.Background(), f, item)
		if err != nil {
			return vm.UnitVal(), err
		}
		if keep.Type != vm.ValBool {
			return vm.UnitVal(), vm.Raise(vm.ErrTypeMismatch, "Vec::filter predicate returned %s, expected bool", keep.TypeName())
		}
		if keep.AsBool() {
			out = append(out, item)
		}
	}
	return vm.VecVal(out), nil
}

func vecFold(m *vm.VM, args []vm.Value) (vm.Value, error) {
	f, err := argFunc("Vec::fold", args, 2)
	if err != nil {
		return vm.UnitVal(), err
	}
	acc := args[1]
	for _, item := range args[0].Obj.(*vm.Vec).Items {
		acc, err = m.CallValue(context.Background(), f, acc, item)
		if err != nil {
			return vm.UnitVal(), err
		}
	}
	return acc, nil
}

func initTuplePackage() {
	RegisterNativePackage(&NativePackage{
		Name: config.TupleTypeName,
		Methods: []NativeMethod{
			{"len", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				items, _ := args[0].Items()
				return vm.IntVal(int64(len(items))), nil
			}},
			{"clone", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return args[0].Clone(), nil
			}},
			{"to_vec", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				items, _ := args[0].Items()
				return vm.VecVal(append([]vm.Value(nil), items...)), nil
			}},
		},
	})
}

func initObjectPackage() {
	RegisterNativePackage(&NativePackage{
		Name: config.ObjectTypeName,
		Functions: []NativeFunction{
			{"new", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.ObjectVal(map[string]vm.Value{}), nil
			}},
		},
		Methods: []NativeMethod{
			{"len", 0, objectMethod(func(o *vm.Object) vm.Value { return vm.IntVal(int64(len(o.Fields))) })},
			{"is_empty", 0, objectMethod(func(o *vm.Object) vm.Value { return vm.BoolVal(len(o.Fields) == 0) })},
			{"keys", 0, objectMethod(func(o *vm.Object) vm.Value {
				keys := sortedKeys(o)
				items := make([]vm.Value, len(keys))
				for i, k := range keys {
					items[i] = vm.StringVal(k)
				}
				return vm.VecVal(items)
			})},
			{"values", 0, objectMethod(func(o *vm.Object) vm.Value {
				keys := sortedKeys(o)
				items := make([]vm.Value, len(keys))
				for i, k := range keys {
					items[i] = o.Fields[k]
				}
				return vm.VecVal(items)
			})},
			{"clone", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return args[0].Clone(), nil
			}},
			{"get", 1, objectKeyed("Object::get", func(o *vm.Object, k string, _ []vm.Value) vm.Value {
				if v, ok := o.Fields[k]; ok {
					return vm.SomeVal(v)
				}
				return vm.NoneVal()
			})},
			{"contains_key", 1, objectKeyed("Object::contains_key", func(o *vm.Object, k string, _ []vm.Value) vm.Value {
				_, ok := o.Fields[k]
				return vm.BoolVal(ok)
			})},
			{"remove", 1, objectKeyed("Object::remove", func(o *vm.Object, k string, _ []vm.Value) vm.Value {
				old, ok := o.Fields[k]
				if !ok {
					return vm.NoneVal()
				}
				delete(o.Fields, k)
				return vm.SomeVal(old)
			})},
			{"insert", 2, objectKeyed("Object::insert", func(o *vm.Object, k string, args []vm.Value) vm.Value {
				old, ok := o.Fields[k]
				o.Fields[k] = args[2]
				if !ok {
					return vm.NoneVal()
				}
				return vm.SomeVal(old)
			})},
		},
	})
}

func objectMethod(f func(o *vm.Object) vm.Value) vm.NativeFunc {
	return func(m *vm.VM, args []vm.Value) (vm.Value, error) {
		return f(args[0].Obj.(*vm.Object)), nil
	}
}

func objectKeyed(fn string, f func(o *vm.Object, key string, args []vm.Value) vm.Value) vm.NativeFunc {
	return func(m *vm.VM, args []vm.Value) (vm.Value, error) {
		key, err := argString(fn, args, 1)
		if err != nil {
			return vm.UnitVal(), err
		}
		return f(args[0].Obj.(*vm.Object), key, args), nil
	}
}

func sortedKeys(o *vm.Object) []string {
	keys := make([]string, 0, len(o.Fields))
	for k := range o.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func initBytesPackage() {
	RegisterNativePackage(&NativePackage{
		Name: config.BytesTypeName,
		Functions: []NativeFunction{
			{"new", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.BytesVal(nil), nil
			}},
			{"with_capacity", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				n, err := argIndex("Bytes::with_capacity", args, 0)
				if err != nil {
					return vm.UnitVal(), err
				}
				return vm.BytesVal(make([]byte, 0, n)), nil
			}},
			{"from_vec", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				items, err := argSeq("Bytes::from_vec", args, 0)
				if err != nil {
					return vm.UnitVal(), err
				}
				b := make([]byte, len(items))
				for i, item := range items {
					if b[i], err = argByte("Bytes::from_vec", item); err != nil {
						return vm.UnitVal(), err
					}
				}
				return vm.BytesVal(b), nil
			}},
		},
		Methods: []NativeMethod{
			{"len", 0, bytesMethod(func(b *vm.Bytes) vm.Value { return vm.IntVal(int64(len(b.B))) })},
			{"is_empty", 0, bytesMethod(func(b *vm.Bytes) vm.Value { return vm.BoolVal(len(b.B) == 0) })},
			{"clear", 0, bytesMethod(func(b *vm.Bytes) vm.Value {
				b.B = b.B[:0]
				return vm.UnitVal()
			})},
			{"clone", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return args[0].Clone(), nil
			}},
			{"last", 0, bytesMethod(func(b *vm.Bytes) vm.Value {
				if len(b.B) == 0 {
					return vm.NoneVal()
				}
				return vm.SomeVal(vm.IntVal(int64(b.B[len(b.B)-1])))
			})},
			{"pop", 0, bytesMethod(func(b *vm.Bytes) vm.Value {
				if len(b.B) == 0 {
					return vm.NoneVal()
				}
				last := b.B[len(b.B)-1]
				b.B = b.B[:len(b.B)-1]
				return vm.SomeVal(vm.IntVal(int64(last)))
			})},
			{"into_vec", 0, bytesMethod(func(b *vm.Bytes) vm.Value {
				items := make([]vm.Value, len(b.B))
				for i, c := range b.B {
					items[i] = vm.IntVal(int64(c))
				}
				return vm.VecVal(items)
			})},
			{"push", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				c, err := argByte("Bytes::push", args[1])
				if err != nil {
					return vm.UnitVal(), err
				}
				b := args[0].Obj.(*vm.Bytes)
				b.B = append(b.B, c)
				return vm.UnitVal(), nil
			}},
			{"extend", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				src, err := argBytes("Bytes::extend", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				b := args[0].Obj.(*vm.Bytes)
				b.B = append(b.B, src.B...)
				return vm.UnitVal(), nil
			}},
			{"extend_str", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				s, err := argString("Bytes::extend_str", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				b := args[0].Obj.(*vm.Bytes)
				b.B = append(b.B, s...)
				return vm.UnitVal(), nil
			}},
		},
	})
}

func bytesMethod(f func(b *vm.Bytes) vm.Value) vm.NativeFunc {
	return func(m *vm.VM, args []vm.Value) (vm.Value, error) {
		return f(args[0].Obj.(*vm.Bytes)), nil
	}
}
