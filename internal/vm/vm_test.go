package vm

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/funvibe/runevm/internal/ast"
	"github.com/funvibe/runevm/internal/config"
)

// testHost records what test natives observed during a run.
type testHost struct {
	marks []int64
	out   bytes.Buffer
}

// newTestContext registers the natives the tests call. The std modules
// live in a package that imports this one, so a minimal set is rebuilt here.
func newTestContext(h *testHost) *Context {
	c := NewContext()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(c.Function("std::println", Variadic, func(vm *VM, args []Value) (Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.Display()
		}
		_, err := vm.Output().Write([]byte(strings.Join(parts, " ") + "\n"))
		return UnitVal(), err
	}))
	must(c.Function("test::sleep", 1, func(vm *VM, args []Value) (Value, error) {
		return vm.After(time.Duration(args[0].AsInt()) * time.Millisecond), nil
	}))
	must(c.Function("test::join", 1, func(vm *VM, args []Value) (Value, error) {
		return vm.Join(seqItems(args[0]), args[0].Type == ValTuple)
	}))
	must(c.Function("test::mark", 1, func(vm *VM, args []Value) (Value, error) {
		h.marks = append(h.marks, args[0].AsInt())
		return UnitVal(), nil
	}))
	must(c.Function("test::pending", 0, func(vm *VM, args []Value) (Value, error) {
		return FutureVal(vm.sched.newFuture()), nil
	}))
	must(c.Function("test::promise", 1, func(vm *VM, args []Value) (Value, error) {
		p := vm.NewPromise()
		v := args[0]
		go func() {
			time.Sleep(time.Millisecond)
			p.Resolve(v)
		}()
		return p.Future(), nil
	}))
	must(c.Function("test::depth", 1, func(vm *VM, args []Value) (Value, error) {
		before := vm.StackDepth()
		_, err := vm.CallValue(context.Background(), args[0])
		after := vm.StackDepth()
		return TupleVal([]Value{IntVal(int64(before)), IntVal(int64(after)), BoolVal(err != nil)}), nil
	}))
	must(c.Function("test::timers", 0, func(vm *VM, args []Value) (Value, error) {
		return IntVal(int64(vm.sched.timers.Len())), nil
	}))
	must(c.Function("test::fail", 1, func(vm *VM, args []Value) (Value, error) {
		s, _ := args[0].AsString()
		return UnitVal(), errors.New(s)
	}))
	must(c.Function("test::vec_len", 1, func(vm *VM, args []Value) (Value, error) {
		return IntVal(int64(len(args[0].Obj.(*Vec).Items))), nil
	}))
	must(c.Method("Vec", "push", 1, func(vm *VM, args []Value) (Value, error) {
		v := args[0].Obj.(*Vec)
		v.Items = append(v.Items, args[1])
		return UnitVal(), nil
	}))
	must(c.Method("Vec", "len", 0, func(vm *VM, args []Value) (Value, error) {
		return IntVal(int64(len(args[0].Obj.(*Vec).Items))), nil
	}))
	must(c.Method("Generator", "next", 0, func(vm *VM, args []Value) (Value, error) {
		g := args[0].Obj.(*Generator)
		if g.Status() == GeneratorDone {
			return NoneVal(), nil
		}
		v, yielded, err := vm.Resume(g, UnitVal())
		if err != nil || !yielded {
			return NoneVal(), err
		}
		return SomeVal(v), nil
	}))
	must(c.Method("Generator", "resume", 1, func(vm *VM, args []Value) (Value, error) {
		v, yielded, err := vm.Resume(args[0].Obj.(*Generator), args[1])
		if err != nil {
			return UnitVal(), err
		}
		if yielded {
			return YieldedVal(v), nil
		}
		return CompleteVal(v), nil
	}))
	must(c.Method("Stream", "next", 0, func(vm *VM, args []Value) (Value, error) {
		return vm.StreamNext(args[0].Obj.(*Generator))
	}))
	must(c.Method("Stream", "cancel", 0, func(vm *VM, args []Value) (Value, error) {
		vm.CancelStream(args[0].Obj.(*Generator))
		return UnitVal(), nil
	}))
	must(c.Method("Stream", "status", 0, func(vm *VM, args []Value) (Value, error) {
		return StringVal(args[0].Obj.(*Generator).Status().String()), nil
	}))
	return c
}

func compileItems(t *testing.T, c *Context, items ...ast.Item) *Unit {
	t.Helper()
	u, err := Compile(ast.FileOf("test.rn", items...), c)
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	return u
}

func newTestVM(t *testing.T, h *testHost, u *Unit, opts ...Option) *VM {
	t.Helper()
	opts = append([]Option{WithContext(newTestContext(h)), WithOutput(&h.out)}, opts...)
	machine := New(opts...)
	if err := machine.Load(u); err != nil {
		t.Fatalf("load error: %s", err)
	}
	return machine
}

// runItems compiles the items and calls main.
func runItems(t *testing.T, items ...ast.Item) (Value, *testHost) {
	t.Helper()
	h := &testHost{}
	u := compileItems(t, newTestContext(h), items...)
	result, err := newTestVM(t, h, u).Call(context.Background(), "main")
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	return result, h
}

// runMain runs a main function with the given body.
func runMain(t *testing.T, body *ast.Block, items ...ast.Item) Value {
	t.Helper()
	result, _ := runItems(t, append([]ast.Item{ast.Fn("main", nil, body)}, items...)...)
	return result
}

func runExpr(t *testing.T, e ast.Expr) Value {
	t.Helper()
	return runMain(t, ast.BlkT(e))
}

func testIntegerValue(t *testing.T, v Value, expected int64) {
	t.Helper()
	if v.Type != ValInt {
		t.Fatalf("value is not int. got=%s (%s)", v.TypeName(), v.Inspect())
	}
	if v.AsInt() != expected {
		t.Errorf("value has wrong int. got=%d, want=%d", v.AsInt(), expected)
	}
}

func testBooleanValue(t *testing.T, v Value, expected bool) {
	t.Helper()
	if v.Type != ValBool {
		t.Fatalf("value is not bool. got=%s (%s)", v.TypeName(), v.Inspect())
	}
	if v.AsBool() != expected {
		t.Errorf("value has wrong bool. got=%t, want=%t", v.AsBool(), expected)
	}
}

func testInspect(t *testing.T, v Value, expected string) {
	t.Helper()
	if got := v.Inspect(); got != expected {
		t.Errorf("got %s, want %s", got, expected)
	}
}

func TestIntegerArithmetic(t *testing.T) {
	i := ast.Int
	b := ast.Bin
	tests := []struct {
		name     string
		input    ast.Expr
		expected int64
	}{
		{"literal", i(5), 5},
		{"add", b(ast.OpAdd, i(1), i(2)), 3},
		{"sub", b(ast.OpSub, i(1), i(2)), -1},
		{"mul", b(ast.OpMul, i(6), i(7)), 42},
		{"div truncates", b(ast.OpDiv, i(7), i(2)), 3},
		{"negative div", b(ast.OpDiv, i(-7), i(2)), -3},
		{"rem", b(ast.OpRem, i(7), i(3)), 1},
		{"nested", b(ast.OpMul, b(ast.OpAdd, i(1), i(2)), b(ast.OpSub, i(10), i(4))), 18},
		{"neg", ast.Neg(i(5)), -5},
		{"bit and", b(ast.OpBitAnd, i(12), i(10)), 8},
		{"bit or", b(ast.OpBitOr, i(12), i(10)), 14},
		{"bit xor", b(ast.OpBitXor, i(12), i(10)), 6},
		{"shl", b(ast.OpShl, i(1), i(10)), 1024},
		{"shr", b(ast.OpShr, i(-16), i(2)), -4},
		{"bit not", ast.Not(i(0)), -1},
		{"underscored raw literal", ast.RawInt("1_000_000"), 1000000},
		{"hex raw literal", ast.RawInt("0xff"), 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testIntegerValue(t, runExpr(t, tt.input), tt.expected)
		})
	}
}

func TestFloatArithmetic(t *testing.T) {
	f := ast.Float
	b := ast.Bin
	tests := []struct {
		input    ast.Expr
		expected float64
	}{
		{b(ast.OpAdd, f(1.5), f(2.25)), 3.75},
		{b(ast.OpMul, f(2), f(0.5)), 1},
		{b(ast.OpDiv, f(1), f(4)), 0.25},
		{b(ast.OpRem, f(7.5), f(2)), 1.5},
		{ast.Neg(f(2.5)), -2.5},
	}

	for _, tt := range tests {
		v := runExpr(t, tt.input)
		if v.Type != ValFloat || v.AsFloat() != tt.expected {
			t.Errorf("got %s, want %g", v.Inspect(), tt.expected)
		}
	}

	v := runExpr(t, b(ast.OpDiv, f(1), f(0)))
	if !math.IsInf(v.AsFloat(), 1) {
		t.Errorf("1.0 / 0.0 = %s, want +Inf", v.Inspect())
	}
}

func TestComparisons(t *testing.T) {
	b := ast.Bin
	nan := b(ast.OpDiv, ast.Float(0), ast.Float(0))
	tests := []struct {
		name     string
		input    ast.Expr
		expected bool
	}{
		{"int lt", b(ast.OpLt, ast.Int(1), ast.Int(2)), true},
		{"int ge", b(ast.OpGe, ast.Int(1), ast.Int(2)), false},
		{"float le", b(ast.OpLe, ast.Float(2), ast.Float(2)), true},
		{"char gt", b(ast.OpGt, ast.Char('b'), ast.Char('a')), true},
		{"string lt", b(ast.OpLt, ast.Str("abc"), ast.Str("abd")), true},
		{"string eq", b(ast.OpEq, ast.Str("x"), ast.Str("x")), true},
		{"mixed eq is false", b(ast.OpEq, ast.Int(1), ast.Float(1)), false},
		{"mixed ne is true", b(ast.OpNe, ast.Int(1), ast.Str("1")), true},
		{"vec eq", b(ast.OpEq, ast.Vec(ast.Int(1), ast.Int(2)), ast.Vec(ast.Int(1), ast.Int(2))), true},
		{"tuple ne", b(ast.OpNe, ast.Tup(ast.Int(1)), ast.Tup(ast.Int(2))), true},
		{"nan lt", b(ast.OpLt, nan, ast.Float(1)), false},
		{"nan ge", b(ast.OpGe, nan, ast.Float(1)), false},
		{"nan eq", b(ast.OpEq, nan, nan), false},
		{"and short-circuits", b(ast.OpAnd, ast.Bool(false), b(ast.OpEq, b(ast.OpDiv, ast.Int(1), ast.Int(0)), ast.Int(0))), false},
		{"or short-circuits", b(ast.OpOr, ast.Bool(true), b(ast.OpEq, b(ast.OpDiv, ast.Int(1), ast.Int(0)), ast.Int(0))), true},
		{"and evaluates right", b(ast.OpAnd, ast.Bool(true), b(ast.OpLt, ast.Int(1), ast.Int(2))), true},
		{"and right false", b(ast.OpAnd, ast.Bool(true), ast.Bool(false)), false},
		{"or evaluates right", b(ast.OpOr, ast.Bool(false), ast.Bool(true)), true},
		{"or both false", b(ast.OpOr, ast.Bool(false), ast.Bool(false)), false},
		{"not", ast.Not(ast.Bool(false)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testBooleanValue(t, runExpr(t, tt.input), tt.expected)
		})
	}
}

func TestStringConcatenation(t *testing.T) {
	v := runMain(t, ast.BlkT(
		ast.Bin(ast.OpAdd, ast.Id("s"), ast.Str("!")),
		ast.LetN("s", ast.Bin(ast.OpAdd, ast.Str("hello"), ast.Str(" world"))),
	))
	testInspect(t, v, `"hello world!"`)
}

func TestLocalVariables(t *testing.T) {
	// let a = 1; let b = a + 2; { let a = 10; b = a + b; } (a, b)
	v := runMain(t, ast.BlkT(
		ast.Tup(ast.Id("a"), ast.Id("b")),
		ast.LetN("a", ast.Int(1)),
		ast.LetN("b", ast.Bin(ast.OpAdd, ast.Id("a"), ast.Int(2))),
		ast.Do(ast.Blk(
			ast.LetN("a", ast.Int(10)),
			ast.Do(ast.Set(ast.Id("b"), ast.Bin(ast.OpAdd, ast.Id("a"), ast.Id("b")))),
		)),
	))
	testInspect(t, v, "(1, 13)")
}

func TestShadowing(t *testing.T) {
	v := runMain(t, ast.BlkT(
		ast.Id("x"),
		ast.LetN("x", ast.Int(1)),
		ast.LetN("x", ast.Bin(ast.OpMul, ast.Id("x"), ast.Int(5))),
	))
	testIntegerValue(t, v, 5)
}

func TestIfExpressions(t *testing.T) {
	tests := []struct {
		cond     ast.Expr
		expected string
	}{
		{ast.Bool(true), "1"},
		{ast.Bool(false), "2"},
		{ast.Bin(ast.OpLt, ast.Int(1), ast.Int(2)), "1"},
	}
	for _, tt := range tests {
		v := runExpr(t, ast.IfE(tt.cond, ast.BlkT(ast.Int(1)), ast.BlkT(ast.Int(2))))
		testInspect(t, v, tt.expected)
	}

	// Without else the value is unit.
	v := runExpr(t, ast.IfE(ast.Bool(false), ast.BlkT(ast.Int(1)), nil))
	if !v.IsUnit() {
		t.Errorf("if without else = %s, want ()", v.Inspect())
	}
}

func TestFunctionsAndRecursion(t *testing.T) {
	// fn fib(n) { if n < 2 { n } else { fib(n - 1) + fib(n - 2) } }
	fib := ast.Fn("fib", []string{"n"}, ast.BlkT(ast.IfE(
		ast.Bin(ast.OpLt, ast.Id("n"), ast.Int(2)),
		ast.BlkT(ast.Id("n")),
		ast.BlkT(ast.Bin(ast.OpAdd,
			ast.CallN("fib", ast.Bin(ast.OpSub, ast.Id("n"), ast.Int(1))),
			ast.CallN("fib", ast.Bin(ast.OpSub, ast.Id("n"), ast.Int(2))),
		)),
	)))
	v := runMain(t, ast.BlkT(ast.CallN("fib", ast.Int(20))), fib)
	testIntegerValue(t, v, 6765)
}

func TestEarlyReturn(t *testing.T) {
	// fn first_even(v) { for x in v { if x % 2 == 0 { return Some(x); } } None }
	firstEven := ast.Fn("first_even", []string{"v"}, ast.BlkT(ast.Id("None"),
		ast.Do(ast.ForE(ast.PB("x"), ast.Id("v"), ast.Blk(
			ast.Do(ast.IfE(
				ast.Bin(ast.OpEq, ast.Bin(ast.OpRem, ast.Id("x"), ast.Int(2)), ast.Int(0)),
				ast.Blk(ast.Do(ast.Ret(ast.CallN("Some", ast.Id("x"))))),
				nil,
			)),
		))),
	))
	v := runMain(t, ast.BlkT(ast.Tup(
		ast.CallN("first_even", ast.Vec(ast.Int(1), ast.Int(3), ast.Int(4), ast.Int(6))),
		ast.CallN("first_even", ast.Vec(ast.Int(1))),
	)), firstEven)
	testInspect(t, v, "(Some(4), None)")
}

func TestClosures(t *testing.T) {
	t.Run("captures by value", func(t *testing.T) {
		// let n = 10; let add = |x| x + n; add(5)
		v := runMain(t, ast.BlkT(
			ast.CallN("add", ast.Int(5)),
			ast.LetN("n", ast.Int(10)),
			ast.LetN("add", ast.Lambda([]string{"x"}, ast.Bin(ast.OpAdd, ast.Id("x"), ast.Id("n")))),
		))
		testIntegerValue(t, v, 15)
	})

	t.Run("captured heap objects alias", func(t *testing.T) {
		// let state = #{count: 0}; let inc = || { state.count += 1; }; inc(); inc(); state.count
		v := runMain(t, ast.BlkT(
			ast.Field(ast.Id("state"), "count"),
			ast.LetN("state", ast.Obj(ast.F("count", ast.Int(0)))),
			ast.LetN("inc", ast.Lambda(nil, ast.Blk(
				ast.Do(ast.SetOp(ast.OpAdd, ast.Field(ast.Id("state"), "count"), ast.Int(1))),
			))),
			ast.Do(ast.CallN("inc")),
			ast.Do(ast.CallN("inc")),
		))
		testIntegerValue(t, v, 2)
	})

	t.Run("nested closures", func(t *testing.T) {
		// let a = 1; let f = |b| |c| a + b + c; f(2)(3)
		v := runMain(t, ast.BlkT(
			ast.CallE(ast.CallN("f", ast.Int(2)), ast.Int(3)),
			ast.LetN("a", ast.Int(1)),
			ast.LetN("f", ast.Lambda([]string{"b"}, ast.Lambda([]string{"c"},
				ast.Bin(ast.OpAdd, ast.Bin(ast.OpAdd, ast.Id("a"), ast.Id("b")), ast.Id("c"))))),
		))
		testIntegerValue(t, v, 6)
	})

	t.Run("functions are values", func(t *testing.T) {
		double := ast.Fn("double", []string{"x"}, ast.BlkT(ast.Bin(ast.OpMul, ast.Id("x"), ast.Int(2))))
		apply := ast.Fn("apply", []string{"f", "x"}, ast.BlkT(ast.CallN("f", ast.Id("x"))))
		v := runMain(t, ast.BlkT(ast.CallN("apply", ast.Id("double"), ast.Int(21))), double, apply)
		testIntegerValue(t, v, 42)
	})
}

func TestLoops(t *testing.T) {
	t.Run("while", func(t *testing.T) {
		// let i = 0; let sum = 0; while i < 10 { i += 1; if i % 2 == 0 { continue; } sum += i; } sum
		v := runMain(t, ast.BlkT(
			ast.Id("sum"),
			ast.LetN("i", ast.Int(0)),
			ast.LetN("sum", ast.Int(0)),
			ast.Do(ast.WhileE(ast.Bin(ast.OpLt, ast.Id("i"), ast.Int(10)), ast.Blk(
				ast.Do(ast.SetOp(ast.OpAdd, ast.Id("i"), ast.Int(1))),
				ast.Do(ast.IfE(ast.Bin(ast.OpEq, ast.Bin(ast.OpRem, ast.Id("i"), ast.Int(2)), ast.Int(0)),
					ast.Blk(ast.Do(ast.ContinueE())), nil)),
				ast.Do(ast.SetOp(ast.OpAdd, ast.Id("sum"), ast.Id("i"))),
			))),
		))
		testIntegerValue(t, v, 25)
	})

	t.Run("loop breaks with a value", func(t *testing.T) {
		// let n = 1; loop { n *= 2; if n > 100 { break n; } }
		v := runMain(t, ast.BlkT(
			ast.LoopE(ast.Blk(
				ast.Do(ast.SetOp(ast.OpMul, ast.Id("n"), ast.Int(2))),
				ast.Do(ast.IfE(ast.Bin(ast.OpGt, ast.Id("n"), ast.Int(100)),
					ast.Blk(ast.Do(ast.BreakE(ast.Id("n")))), nil)),
			)),
			ast.LetN("n", ast.Int(1)),
		))
		testIntegerValue(t, v, 128)
	})

	t.Run("for over vec with destructuring", func(t *testing.T) {
		// let total = 0; for (a, b) in [(1, 2), (3, 4)] { total += a * b; } total
		v := runMain(t, ast.BlkT(
			ast.Id("total"),
			ast.LetN("total", ast.Int(0)),
			ast.Do(ast.ForE(ast.PT(ast.PB("a"), ast.PB("b")),
				ast.Vec(ast.Tup(ast.Int(1), ast.Int(2)), ast.Tup(ast.Int(3), ast.Int(4))),
				ast.Blk(ast.Do(ast.SetOp(ast.OpAdd, ast.Id("total"), ast.Bin(ast.OpMul, ast.Id("a"), ast.Id("b"))))),
			)),
		))
		testIntegerValue(t, v, 14)
	})

	t.Run("for over bytes", func(t *testing.T) {
		v := runMain(t, ast.BlkT(
			ast.Id("sum"),
			ast.LetN("sum", ast.Int(0)),
			ast.Do(ast.ForE(ast.PB("b"), ast.ByteStr([]byte{1, 2, 250}),
				ast.Blk(ast.Do(ast.SetOp(ast.OpAdd, ast.Id("sum"), ast.Id("b")))))),
		))
		testIntegerValue(t, v, 253)
	})

	t.Run("break in nested loop only leaves the inner one", func(t *testing.T) {
		// let count = 0; for i in [1, 2, 3] { loop { count += i; break; } } count
		v := runMain(t, ast.BlkT(
			ast.Id("count"),
			ast.LetN("count", ast.Int(0)),
			ast.Do(ast.ForE(ast.PB("i"), ast.Vec(ast.Int(1), ast.Int(2), ast.Int(3)), ast.Blk(
				ast.Do(ast.LoopE(ast.Blk(
					ast.Do(ast.SetOp(ast.OpAdd, ast.Id("count"), ast.Id("i"))),
					ast.Do(ast.BreakE(nil)),
				))),
			))),
		))
		testIntegerValue(t, v, 6)
	})
}

func TestCheckedOverflow(t *testing.T) {
	maxInt := ast.Int(math.MaxInt64)
	minInt := ast.Int(math.MinInt64)
	tests := []struct {
		name string
		body *ast.Block
	}{
		{"add", ast.BlkT(ast.Bin(ast.OpAdd, maxInt, ast.Int(1)))},
		{"compound add", ast.BlkT(ast.Id("x"),
			ast.LetN("x", maxInt),
			ast.Do(ast.SetOp(ast.OpAdd, ast.Id("x"), ast.Int(1))))},
		{"sub", ast.BlkT(ast.Bin(ast.OpSub, minInt, ast.Int(1)))},
		{"compound sub on field", ast.BlkT(ast.Id("o"),
			ast.LetN("o", ast.Obj(ast.F("v", minInt))),
			ast.Do(ast.SetOp(ast.OpSub, ast.Field(ast.Id("o"), "v"), ast.Int(1))))},
		{"mul", ast.BlkT(ast.Bin(ast.OpMul, maxInt, ast.Int(2)))},
		{"compound mul on index", ast.BlkT(ast.Id("v"),
			ast.LetN("v", ast.Vec(maxInt)),
			ast.Do(ast.SetOp(ast.OpMul, ast.Idx(ast.Id("v"), ast.Int(0)), ast.Int(3))))},
		{"div", ast.BlkT(ast.Bin(ast.OpDiv, minInt, ast.Int(-1)))},
		{"neg", ast.BlkT(ast.Neg(minInt))},
		{"shift", ast.BlkT(ast.Bin(ast.OpShl, ast.Int(1), ast.Int(64)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runMainErr(t, tt.body)
			if !errors.Is(err, ErrOverflow) {
				t.Fatalf("expected overflow, got %v", err)
			}
		})
	}
}

func TestHeapAliasing(t *testing.T) {
	// let a = [1]; let b = a; b.push(2); a[0] = 9; (a, b, a.len())
	v := runMain(t, ast.BlkT(
		ast.Tup(ast.Id("a"), ast.Id("b"), ast.Method(ast.Id("a"), "len")),
		ast.LetN("a", ast.Vec(ast.Int(1))),
		ast.LetN("b", ast.Id("a")),
		ast.Do(ast.Method(ast.Id("b"), "push", ast.Int(2))),
		ast.Do(ast.Set(ast.Idx(ast.Id("a"), ast.Int(0)), ast.Int(9))),
	))
	testInspect(t, v, "([9, 2], [9, 2], 2)")
}

func TestByteStringLiteralsAreFresh(t *testing.T) {
	// fn buf() { b"ab" }  let x = buf(); x[0] = 120; (x, buf())
	buf := ast.Fn("buf", nil, ast.BlkT(ast.ByteStr([]byte("ab"))))
	v := runMain(t, ast.BlkT(
		ast.Tup(ast.Id("x"), ast.CallN("buf")),
		ast.LetN("x", ast.CallN("buf")),
		ast.Do(ast.Set(ast.Idx(ast.Id("x"), ast.Int(0)), ast.Int(120))),
	), buf)
	testInspect(t, v, `(b"xb", b"ab")`)
}

func TestStructsEnumsAndImpls(t *testing.T) {
	point := ast.Struct("Point", "x", "y")
	pair := ast.TupleStruct("Pair", 2)
	shape := ast.Enum("Shape",
		ast.TupleVariant("Circle", 1),
		ast.NamedVariant("Rect", "w", "h"),
		ast.UnitVariant("Empty"),
	)
	// impl Point { fn sum(self) { self.x + self.y } fn scale(self, k) { self.x *= k; self.y *= k; } }
	impl := ast.Impl("Point",
		ast.Fn("sum", []string{"self"}, ast.BlkT(ast.Bin(ast.OpAdd, ast.Field(ast.Id("self"), "x"), ast.Field(ast.Id("self"), "y")))),
		ast.Fn("scale", []string{"self", "k"}, ast.Blk(
			ast.Do(ast.SetOp(ast.OpMul, ast.Field(ast.Id("self"), "x"), ast.Id("k"))),
			ast.Do(ast.SetOp(ast.OpMul, ast.Field(ast.Id("self"), "y"), ast.Id("k"))),
		)),
	)
	// fn area(s) { match s { Shape::Circle(r) => 3 * r * r, Shape::Rect { w, h } => w * h, Shape::Empty => 0 } }
	area := ast.Fn("area", []string{"s"}, ast.BlkT(ast.MatchE(ast.Id("s"),
		ast.Arm(ast.PC([]string{"Shape", "Circle"}, ast.PB("r")), nil,
			ast.Bin(ast.OpMul, ast.Bin(ast.OpMul, ast.Int(3), ast.Id("r")), ast.Id("r"))),
		ast.Arm(ast.PO([]string{"Shape", "Rect"}, ast.PF("w", nil), ast.PF("h", nil)), nil,
			ast.Bin(ast.OpMul, ast.Id("w"), ast.Id("h"))),
		ast.Arm(ast.PC([]string{"Shape", "Empty"}), nil, ast.Int(0)),
	)))

	v := runMain(t, ast.BlkT(
		ast.Tup(
			ast.Method(ast.Id("p"), "sum"),
			ast.Id("p"),
			ast.TField(ast.CallN("Pair", ast.Int(1), ast.Int(2)), 1),
			ast.CallN("area", ast.CallP([]string{"Shape", "Circle"}, ast.Int(2))),
			ast.CallN("area", ast.StructE([]string{"Shape", "Rect"}, ast.F("h", ast.Int(3)), ast.F("w", ast.Int(4)))),
			ast.CallN("area", ast.P("Shape", "Empty")),
			ast.IsE(ast.Id("p"), "Point"),
			ast.IsE(ast.P("Shape", "Empty"), "Shape"),
			ast.IsNotE(ast.Id("p"), "Shape"),
		),
		ast.LetN("p", ast.StructE([]string{"Point"}, ast.F("x", ast.Int(1)), ast.F("y", ast.Int(2)))),
		ast.Do(ast.Method(ast.Id("p"), "scale", ast.Int(10))),
	), point, pair, shape, impl, area)

	testInspect(t, v, "(30, Point { x: 10, y: 20 }, 2, 12, 12, 0, true, true, true)")
}

func TestPatternMatching(t *testing.T) {
	// fn classify(v) { match v { ... } }
	classify := ast.Fn("classify", []string{"v"}, ast.BlkT(ast.MatchE(ast.Id("v"),
		ast.Arm(ast.PV(), nil, ast.Str("empty")),
		ast.Arm(ast.PVRest(ast.PInt(1), ast.PInt(2)), nil, ast.Str("starts 1, 2")),
		ast.Arm(ast.PV(ast.PB("a"), ast.PB("b")), ast.Bin(ast.OpGt, ast.Id("a"), ast.Id("b")), ast.Str("descending pair")),
		ast.Arm(ast.PV(ast.PW(), ast.PW()), nil, ast.Str("pair")),
		ast.Arm(ast.PT(ast.PStr("key"), ast.PB("x")), nil, ast.Id("x")),
		ast.Arm(ast.PTRest(ast.PW()), nil, ast.Str("tuple")),
		ast.Arm(ast.PO(nil, ast.PF("kind", ast.PStr("user")), ast.PF("name", nil)), nil, ast.Id("name")),
		ast.Arm(ast.PC([]string{"Some"}, ast.PC([]string{"Ok"}, ast.PB("x"))), nil, ast.Id("x")),
		ast.Arm(ast.PC([]string{"None"}), nil, ast.Str("none")),
		ast.Arm(ast.PTy("s", "String"), nil, ast.Bin(ast.OpAdd, ast.Str("string "), ast.Id("s"))),
		ast.Arm(ast.PW(), nil, ast.Str("other")),
	)))

	tests := []struct {
		name     string
		input    ast.Expr
		expected string
	}{
		{"empty vec", ast.Vec(), `"empty"`},
		{"vec prefix with rest", ast.Vec(ast.Int(1), ast.Int(2), ast.Int(3), ast.Int(4)), `"starts 1, 2"`},
		{"exact prefix", ast.Vec(ast.Int(1), ast.Int(2)), `"starts 1, 2"`},
		{"guard taken", ast.Vec(ast.Int(5), ast.Int(3)), `"descending pair"`},
		{"guard falls through", ast.Vec(ast.Int(3), ast.Int(5)), `"pair"`},
		{"long vec", ast.Vec(ast.Int(7), ast.Int(8), ast.Int(9)), `"other"`},
		{"tuple literal element", ast.Tup(ast.Str("key"), ast.Int(42)), "42"},
		{"tuple rest", ast.Tup(ast.Str("other"), ast.Int(1), ast.Int(2)), `"tuple"`},
		{"object fields", ast.Obj(ast.F("kind", ast.Str("user")), ast.F("name", ast.Str("ada"))), `"ada"`},
		{"object missing field", ast.Obj(ast.F("kind", ast.Str("user"))), `"other"`},
		{"nested builtin variants", ast.CallN("Some", ast.CallN("Ok", ast.Int(3))), "3"},
		{"none", ast.Id("None"), `"none"`},
		{"type pattern", ast.Str("x"), `"string x"`},
		{"no match", ast.Int(1), `"other"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := runMain(t, ast.BlkT(ast.CallN("classify", tt.input)), classify)
			testInspect(t, v, tt.expected)
		})
	}
}

func TestSequenceRestPattern(t *testing.T) {
	// fn prefix(v) { match v { [1, 2, ..] => true, _ => false } }
	prefix := ast.Fn("prefix", []string{"v"}, ast.BlkT(ast.MatchE(ast.Id("v"),
		ast.Arm(ast.PVRest(ast.PInt(1), ast.PInt(2)), nil, ast.Bool(true)),
		ast.Arm(ast.PW(), nil, ast.Bool(false)),
	)))

	tests := []struct {
		name     string
		input    ast.Expr
		expected bool
	}{
		{"exact", ast.Vec(ast.Int(1), ast.Int(2)), true},
		{"longer", ast.Vec(ast.Int(1), ast.Int(2), ast.Int(3)), true},
		{"too short", ast.Vec(ast.Int(1)), false},
		{"wrong order", ast.Vec(ast.Int(2), ast.Int(1), ast.Int(3)), false},
		{"empty", ast.Vec(), false},
		{"tuple is not a vec", ast.Tup(ast.Int(1), ast.Int(2)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := runMain(t, ast.BlkT(ast.CallN("prefix", tt.input)), prefix)
			testBooleanValue(t, v, tt.expected)
		})
	}
}

func TestLetDestructuring(t *testing.T) {
	// let [first, ..] = [1, 2, 3]; let (a, _, c) = (4, 5, 6); let #{x} = #{x: 7}; first + a + c + x
	v := runMain(t, ast.BlkT(
		ast.Bin(ast.OpAdd, ast.Bin(ast.OpAdd, ast.Id("first"), ast.Id("a")), ast.Bin(ast.OpAdd, ast.Id("c"), ast.Id("x"))),
		ast.Let(ast.PVRest(ast.PB("first")), ast.Vec(ast.Int(1), ast.Int(2), ast.Int(3))),
		ast.Let(ast.PT(ast.PB("a"), ast.PW(), ast.PB("c")), ast.Tup(ast.Int(4), ast.Int(5), ast.Int(6))),
		ast.Let(ast.PO(nil, ast.PF("x", nil)), ast.Obj(ast.F("x", ast.Int(7)))),
	))
	testIntegerValue(t, v, 18)
}

func TestTryOperator(t *testing.T) {
	// fn half(n) { if n % 2 == 0 { Ok(n / 2) } else { Err(n) } }
	half := ast.Fn("half", []string{"n"}, ast.BlkT(ast.IfE(
		ast.Bin(ast.OpEq, ast.Bin(ast.OpRem, ast.Id("n"), ast.Int(2)), ast.Int(0)),
		ast.BlkT(ast.CallN("Ok", ast.Bin(ast.OpDiv, ast.Id("n"), ast.Int(2)))),
		ast.BlkT(ast.CallN("Err", ast.Id("n"))),
	)))
	// fn quarter(n) { Ok(half(half(n)?)?) }
	quarter := ast.Fn("quarter", []string{"n"}, ast.BlkT(
		ast.CallN("Ok", ast.TryE(ast.CallN("half", ast.TryE(ast.CallN("half", ast.Id("n")))))),
	))
	v := runMain(t, ast.BlkT(ast.Tup(
		ast.CallN("quarter", ast.Int(12)),
		ast.CallN("quarter", ast.Int(6)),
		ast.CallN("quarter", ast.Int(5)),
	)), half, quarter)
	testInspect(t, v, "(Ok(3), Err(3), Err(5))")
}

func TestStackDepthRestoredAfterNestedCalls(t *testing.T) {
	const depth = 50
	// fn down(n) { if n == 0 { 0 } else { down(n - 1) + 1 } }
	down := ast.Fn("down", []string{"n"}, ast.BlkT(ast.IfE(
		ast.Bin(ast.OpEq, ast.Id("n"), ast.Int(0)),
		ast.BlkT(ast.Int(0)),
		ast.BlkT(ast.Bin(ast.OpAdd, ast.CallN("down", ast.Bin(ast.OpSub, ast.Id("n"), ast.Int(1))), ast.Int(1))),
	)))
	// fn down_fail(n) { if n == 0 { 1 / 0 } else { down_fail(n - 1) + 1 } }
	downFail := ast.Fn("down_fail", []string{"n"}, ast.BlkT(ast.IfE(
		ast.Bin(ast.OpEq, ast.Id("n"), ast.Int(0)),
		ast.BlkT(ast.Bin(ast.OpDiv, ast.Int(1), ast.Int(0))),
		ast.BlkT(ast.Bin(ast.OpAdd, ast.CallN("down_fail", ast.Bin(ast.OpSub, ast.Id("n"), ast.Int(1))), ast.Int(1))),
	)))

	v := runMain(t, ast.BlkT(ast.Tup(
		ast.CallP([]string{"test", "depth"}, ast.Lambda(nil, ast.CallN("down", ast.Int(depth)))),
		ast.CallP([]string{"test", "depth"}, ast.Lambda(nil, ast.CallN("down_fail", ast.Int(depth)))),
		ast.CallN("down", ast.Int(depth)),
	)), down, downFail)

	results := v.Obj.(*Tuple).Items
	for i, r := range results[:2] {
		items := r.Obj.(*Tuple).Items
		before, after, failed := items[0].AsInt(), items[1].AsInt(), items[2].AsBool()
		if before != after {
			t.Errorf("call %d: stack depth %d before, %d after %d nested frames", i, before, after, depth)
		}
		if failed != (i == 1) {
			t.Errorf("call %d: failed = %t", i, failed)
		}
	}
	testIntegerValue(t, results[2], depth)
}

func TestPrintOutput(t *testing.T) {
	_, h := runItems(t, ast.Fn("main", nil, ast.Blk(
		ast.Do(ast.CallN("println", ast.Str("answer:"), ast.Int(42))),
		ast.Do(ast.CallP([]string{"std", "println"}, ast.Vec(ast.Str("a")))),
	)))
	want := "answer: 42\n[\"a\"]\n"
	if h.out.String() != want {
		t.Errorf("output %q, want %q", h.out.String(), want)
	}
}

func TestCallWithArguments(t *testing.T) {
	h := &testHost{}
	add := ast.Fn("add", []string{"a", "b"}, ast.BlkT(ast.Bin(ast.OpAdd, ast.Id("a"), ast.Id("b"))))
	machine := newTestVM(t, h, compileItems(t, newTestContext(h), add))

	v, err := machine.Call(context.Background(), "add", IntVal(40), IntVal(2))
	if err != nil {
		t.Fatal(err)
	}
	testIntegerValue(t, v, 42)

	if _, err := machine.Call(context.Background(), "add", IntVal(1)); !errors.Is(err, ErrArityMismatch) {
		t.Errorf("expected arity mismatch, got %v", err)
	}
	if _, err := machine.Call(context.Background(), "missing"); !errors.Is(err, ErrMissingFunction) {
		t.Errorf("expected missing function, got %v", err)
	}
	if machine.StackDepth() != 0 {
		t.Errorf("stack depth %d after run", machine.StackDepth())
	}
}

func TestStackOverflow(t *testing.T) {
	// fn down(n) { down(n + 1) }
	down := ast.Fn("down", []string{"n"}, ast.BlkT(ast.CallN("down", ast.Bin(ast.OpAdd, ast.Id("n"), ast.Int(1)))))
	main := ast.Fn("main", nil, ast.BlkT(ast.CallN("down", ast.Int(0))))
	h := &testHost{}
	cfg := config.Default()
	cfg.MaxFrames = 64
	machine := newTestVM(t, h, compileItems(t, newTestContext(h), main, down), WithConfig(cfg))

	_, err := machine.Call(context.Background(), "main")
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("expected stack overflow, got %v", err)
	}
	var p *Panic
	if errors.As(err, &p) && len(p.Trace) != 64 {
		t.Errorf("trace has %d frames, want 64", len(p.Trace))
	}
}

func TestContextCancellation(t *testing.T) {
	main := ast.Fn("main", nil, ast.BlkT(ast.LoopE(ast.Blk())))
	h := &testHost{}
	machine := newTestVM(t, h, compileItems(t, newTestContext(h), main))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := machine.Call(ctx, "main")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("cancellation should wrap the context error, got %v", err)
	}
}

func TestTracer(t *testing.T) {
	var events []TraceEvent
	h := &testHost{}
	main := ast.Fn("main", nil, ast.BlkT(ast.Id("x"), ast.LetN("x", ast.Int(1))))
	machine := newTestVM(t, h, compileItems(t, newTestContext(h), main),
		WithTracer(TracerFunc(func(ev TraceEvent) { events = append(events, ev) })))

	if _, err := machine.Call(context.Background(), "main"); err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 {
		t.Fatal("no trace events")
	}
	last := events[len(events)-1]
	if last.Function != "main" || last.Op != OP_RETURN {
		t.Errorf("last event = %+v", last)
	}
	found := false
	for _, ev := range events {
		for _, l := range ev.Locals {
			if l == "x" {
				found = true
			}
		}
	}
	if !found {
		t.Error("no event reported local x")
	}
}

func TestDisassembler(t *testing.T) {
	h := &testHost{}
	u := compileItems(t, newTestContext(h),
		ast.Fn("main", nil, ast.BlkT(ast.CallN("println", ast.Str("hi")))),
		ast.AsyncFn("later", nil, ast.BlkT(ast.AwaitE(ast.CallP([]string{"test", "sleep"}, ast.Int(1))))),
	)
	out := Disassemble(u)
	for _, want := range []string{"== fn main/0", "== async fn later/0", "CALL_NATIVE", "'std::println'", `"hi"`, "AWAIT", "RESUME"} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func runMainErr(t *testing.T, body *ast.Block, items ...ast.Item) error {
	t.Helper()
	h := &testHost{}
	u := compileItems(t, newTestContext(h), append([]ast.Item{ast.Fn("main", nil, body)}, items...)...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := newTestVM(t, h, u).Call(ctx, "main")
	if err == nil {
		t.Fatalf("expected runtime error, but code ran successfully")
	}
	return err
}
