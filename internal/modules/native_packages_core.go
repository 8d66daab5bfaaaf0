package modules

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/funvibe/runevm/internal/config"
	"github.com/funvibe/runevm/internal/vm"
)

func initStdPackage() {
	RegisterNativePackage(&NativePackage{
		Name: "std",
		Functions: []NativeFunction{
			{"print", vm.Variadic, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.UnitVal(), writeValues(m.Output(), args, "")
			}},
			{"println", vm.Variadic, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.UnitVal(), writeValues(m.Output(), args, "\n")
			}},
			{"dbg", vm.Variadic, builtinDbg},
			{"panic", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.UnitVal(), vm.Raise(vm.ErrUserPanic, "%s", args[0].Display())
			}},
			{"assert", vm.Variadic, builtinAssert},
			{"assert_eq", vm.Variadic, builtinAssertEq},
			{"type_name", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.StringVal(args[0].TypeName()), nil
			}},
			{"to_string", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.StringVal(args[0].Display()), nil
			}},
		},
	})
}

func writeValues(w io.Writer, args []vm.Value, end string) error {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Display()
	}
	_, err := io.WriteString(w, strings.Join(parts, " ")+end)
	return err
}

// builtinDbg prints the debug form of its arguments and returns the last one,
// so it can wrap an expression.
func builtinDbg(m *vm.VM, args []vm.Value) (vm.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Inspect()
	}
	if _, err := fmt.Fprintf(m.Output(), "[dbg] %s\n", strings.Join(parts, ", ")); err != nil {
		return vm.UnitVal(), err
	}
	if len(args) == 0 {
		return vm.UnitVal(), nil
	}
	return args[len(args)-1], nil
}

// assertMessage renders the optional message argument at index i.
func assertMessage(args []vm.Value, i int) string {
	if len(args) > i {
		return ": " + args[i].Display()
	}
	return ""
}

func builtinAssert(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return vm.UnitVal(), vm.Raise(vm.ErrArityMismatch, "std::assert takes 1 or 2 arguments, got %d", len(args))
	}
	ok, err := argBool("std::assert", args, 0)
	if err != nil {
		return vm.UnitVal(), err
	}
	if !ok {
		return vm.UnitVal(), vm.Raise(vm.ErrUserPanic, "assertion failed%s", assertMessage(args, 1))
	}
	return vm.UnitVal(), nil
}

func builtinAssertEq(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return vm.UnitVal(), vm.Raise(vm.ErrArityMismatch, "std::assert_eq takes 2 or 3 arguments, got %d", len(args))
	}
	if !args[0].Equals(args[1]) {
		return vm.UnitVal(), vm.Raise(vm.ErrUserPanic, "assertion failed%s\n  left: %s\n right: %s",
			assertMessage(args, 2), args[0].Inspect(), args[1].Inspect())
	}
	return vm.UnitVal(), nil
}

func initIntPackage() {
	RegisterNativePackage(&NativePackage{
		Name: config.IntTypeName,
		Functions: []NativeFunction{
			{"parse", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				s, err := argString("int::parse", args, 0)
				if err != nil {
					return vm.UnitVal(), err
				}
				n, perr := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
				if perr != nil {
					return vm.ErrVal(vm.StringVal(perr.Error())), nil
				}
				return vm.OkVal(vm.IntVal(n)), nil
			}},
		},
		Methods: []NativeMethod{
			{"to_string", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.StringVal(strconv.FormatInt(args[0].AsInt(), 10)), nil
			}},
			{"to_float", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.FloatVal(float64(args[0].AsInt())), nil
			}},
			{"abs", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				n := args[0].AsInt()
				if n == math.MinInt64 {
					return vm.UnitVal(), vm.Raise(vm.ErrOverflow, "abs(%d) overflows", n)
				}
				if n < 0 {
					n = -n
				}
				return vm.IntVal(n), nil
			}},
			{"pow", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				exp, err := argIndex("int::pow", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				return checkedPow(args[0].AsInt(), exp)
			}},
			{"min", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				b, err := argInt("int::min", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				return vm.IntVal(min(args[0].AsInt(), b)), nil
			}},
			{"max", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				b, err := argInt("int::max", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				return vm.IntVal(max(args[0].AsInt(), b)), nil
			}},
		},
	})
}

func checkedPow(base int64, exp int) (vm.Value, error) {
	result := int64(1)
	for i := 0; i < exp; i++ {
		next := result * base
		if base != 0 && next/base != result {
			return vm.UnitVal(), vm.Raise(vm.ErrOverflow, "%d.pow(%d) overflows", base, exp)
		}
		result = next
	}
	return vm.IntVal(result), nil
}

func initFloatPackage() {
	RegisterNativePackage(&NativePackage{
		Name: config.FloatTypeName,
		Functions: []NativeFunction{
			{"parse", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				s, err := argString("float::parse", args, 0)
				if err != nil {
					return vm.UnitVal(), err
				}
				f, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
				if perr != nil {
					return vm.ErrVal(vm.StringVal(perr.Error())), nil
				}
				return vm.OkVal(vm.FloatVal(f)), nil
			}},
		},
		Methods: []NativeMethod{
			{"to_string", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.StringVal(args[0].Display()), nil
			}},
			{"to_int", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				f := math.Trunc(args[0].AsFloat())
				if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
					return vm.UnitVal(), vm.Raise(vm.ErrOverflow, "%s does not fit in an int", args[0].Inspect())
				}
				return vm.IntVal(int64(f)), nil
			}},
			{"floor", 0, floatUnary(math.Floor)},
			{"ceil", 0, floatUnary(math.Ceil)},
			{"round", 0, floatUnary(math.Round)},
			{"sqrt", 0, floatUnary(math.Sqrt)},
			{"abs", 0, floatUnary(math.Abs)},
			{"is_nan", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.BoolVal(math.IsNaN(args[0].AsFloat())), nil
			}},
		},
	})
}

func floatUnary(f func(float64) float64) vm.NativeFunc {
	return func(m *vm.VM, args []vm.Value) (vm.Value, error) {
		return vm.FloatVal(f(args[0].AsFloat())), nil
	}
}

func initCharPackage() {
	RegisterNativePackage(&NativePackage{
		Name: config.CharTypeName,
		Functions: []NativeFunction{
			{"from_int", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				n, err := argInt("char::from_int", args, 0)
				if err != nil {
					return vm.UnitVal(), err
				}
				if n < 0 || n > unicode.MaxRune || (n >= 0xD800 && n <= 0xDFFF) {
					return vm.NoneVal(), nil
				}
				return vm.SomeVal(vm.CharVal(rune(n))), nil
			}},
		},
		Methods: []NativeMethod{
			{"to_int", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.IntVal(int64(args[0].AsChar())), nil
			}},
			{"to_string", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.StringVal(string(args[0].AsChar())), nil
			}},
			{"is_digit", 0, charPredicate(unicode.IsDigit)},
			{"is_alphabetic", 0, charPredicate(unicode.IsLetter)},
			{"is_whitespace", 0, charPredicate(unicode.IsSpace)},
		},
	})
}

func charPredicate(f func(rune) bool) vm.NativeFunc {
	return func(m *vm.VM, args []vm.Value) (vm.Value, error) {
		return vm.BoolVal(f(args[0].AsChar())), nil
	}
}

func initStringPackage() {
	RegisterNativePackage(&NativePackage{
		Name: config.StringTypeName,
		Functions: []NativeFunction{
			{"new", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.StringVal(""), nil
			}},
			{"from_str", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				s, err := argString("String::from_str", args, 0)
				if err != nil {
					return vm.UnitVal(), err
				}
				return vm.StringVal(s), nil
			}},
		},
		Methods: []NativeMethod{
			{"len", 0, stringMethod(func(s string) vm.Value { return vm.IntVal(int64(len(s))) })},
			{"char_count", 0, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				return vm.IntVal(int64(vm.CharCount(args[0]))), nil
			}},
			{"is_empty", 0, stringMethod(func(s string) vm.Value { return vm.BoolVal(s == "") })},
			{"to_upper", 0, stringMethod(func(s string) vm.Value { return vm.StringVal(strings.ToUpper(s)) })},
			{"to_lower", 0, stringMethod(func(s string) vm.Value { return vm.StringVal(strings.ToLower(s)) })},
			{"trim", 0, stringMethod(func(s string) vm.Value { return vm.StringVal(strings.TrimSpace(s)) })},
			{"clone", 0, stringMethod(func(s string) vm.Value { return vm.StringVal(s) })},
			{"chars", 0, stringMethod(func(s string) vm.Value {
				var items []vm.Value
				for _, r := range s {
					items = append(items, vm.CharVal(r))
				}
				return vm.VecVal(items)
			})},
			{"bytes", 0, stringMethod(func(s string) vm.Value { return vm.BytesVal([]byte(s)) })},
			{"contains", 1, stringPair("String::contains", func(s, t string) vm.Value { return vm.BoolVal(strings.Contains(s, t)) })},
			{"starts_with", 1, stringPair("String::starts_with", func(s, t string) vm.Value { return vm.BoolVal(strings.HasPrefix(s, t)) })},
			{"ends_with", 1, stringPair("String::ends_with", func(s, t string) vm.Value { return vm.BoolVal(strings.HasSuffix(s, t)) })},
			{"split", 1, stringPair("String::split", func(s, sep string) vm.Value {
				parts := strings.Split(s, sep)
				items := make([]vm.Value, len(parts))
				for i, p := range parts {
					items[i] = vm.StringVal(p)
				}
				return vm.VecVal(items)
			})},
			{"find", 1, stringPair("String::find", func(s, t string) vm.Value {
				if i := strings.Index(s, t); i >= 0 {
					return vm.SomeVal(vm.IntVal(int64(i)))
				}
				return vm.NoneVal()
			})},
			{"replace", 2, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				s, _ := args[0].AsString()
				from, err := argString("String::replace", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				to, err := argString("String::replace", args, 2)
				if err != nil {
					return vm.UnitVal(), err
				}
				return vm.StringVal(strings.ReplaceAll(s, from, to)), nil
			}},
			{"push_str", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				dst, err := mutableString("String::push_str", args[0])
				if err != nil {
					return vm.UnitVal(), err
				}
				s, err := argString("String::push_str", args, 1)
				if err != nil {
					return vm.UnitVal(), err
				}
				dst.S += s
				return vm.UnitVal(), nil
			}},
			{"push", 1, func(m *vm.VM, args []vm.Value) (vm.Value, error) {
				dst, err := mutableString("String::push", args[0])
				if err != nil {
					return vm.UnitVal(), err
				}
				if args[1].Type != vm.ValChar {
					return vm.UnitVal(), argError("String::push", 1, "char", args[1])
				}
				dst.S += string(args[1].AsChar())
				return vm.UnitVal(), nil
			}},
		},
	})
}

// mutableString returns the heap string behind v. Static strings live in the
// unit's string table and are never mutated.
func mutableString(fn string, v vm.Value) (*vm.Str, error) {
	if v.Type != vm.ValString {
		return nil, vm.Raise(vm.ErrTypeMismatch, "%s needs an owned String, got a static string; use String::from_str", fn)
	}
	return v.Obj.(*vm.Str), nil
}

func stringMethod(f func(s string) vm.Value) vm.NativeFunc {
	return func(m *vm.VM, args []vm.Value) (vm.Value, error) {
		s, _ := args[0].AsString()
		return f(s), nil
	}
}

func stringPair(fn string, f func(s, t string) vm.Value) vm.NativeFunc {
	return func(m *vm.VM, args []vm.Value) (vm.Value, error) {
		s, _ := args[0].AsString()
		t, err := argString(fn, args, 1)
		if err != nil {
			return vm.UnitVal(), err
		}
		return f(s, t), nil
	}
}
