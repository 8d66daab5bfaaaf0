package vm

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/funvibe/runevm/internal/ast"
)

func sleepE(ms int64) ast.Expr {
	return ast.CallP([]string{"test", "sleep"}, ast.Int(ms))
}

func markE(x ast.Expr) ast.Expr {
	return ast.CallP([]string{"test", "mark"}, x)
}

// delayed is `async fn delayed(ms, v) { test::sleep(ms).await; test::mark(v); v }`.
var delayed = ast.AsyncFn("delayed", []string{"ms", "v"}, ast.BlkT(ast.Id("v"),
	ast.Do(ast.AwaitE(ast.CallP([]string{"test", "sleep"}, ast.Id("ms")))),
	ast.Do(markE(ast.Id("v"))),
))

// runAsync runs an async main on a virtual clock.
func runAsync(t *testing.T, body *ast.Block, items ...ast.Item) (Value, *testHost, *VirtualClock, error) {
	t.Helper()
	h := &testHost{}
	clock := NewVirtualClock()
	all := append([]ast.Item{ast.AsyncFn("main", nil, body), delayed}, items...)
	machine := newTestVM(t, h, compileItems(t, newTestContext(h), all...), WithClock(clock))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := machine.Call(ctx, "main")
	if machine.StackDepth() != 0 {
		t.Errorf("stack depth %d after run", machine.StackDepth())
	}
	return v, h, clock, err
}

func mustRunAsync(t *testing.T, body *ast.Block, items ...ast.Item) (Value, *testHost, *VirtualClock) {
	t.Helper()
	v, h, clock, err := runAsync(t, body, items...)
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	return v, h, clock
}

func TestAwaitAsyncFunction(t *testing.T) {
	add := ast.AsyncFn("add", []string{"a", "b"}, ast.BlkT(ast.Bin(ast.OpAdd, ast.Id("a"), ast.Id("b"))))
	v, _, _ := mustRunAsync(t, ast.BlkT(
		ast.Bin(ast.OpAdd, ast.AwaitE(ast.CallN("add", ast.Int(1), ast.Int(2))), ast.Int(1)),
	), add)
	testIntegerValue(t, v, 4)
}

func TestAsyncClosure(t *testing.T) {
	// let k = 2; let f = async |x| x * k; f(21).await
	v, _, _ := mustRunAsync(t, ast.BlkT(ast.AwaitE(ast.CallN("f", ast.Int(21))),
		ast.LetN("k", ast.Int(2)),
		ast.LetN("f", ast.AsyncLambda([]string{"x"}, ast.Bin(ast.OpMul, ast.Id("x"), ast.Id("k")))),
	))
	testIntegerValue(t, v, 42)
}

func TestAsyncCallsAreLazy(t *testing.T) {
	// let f = delayed(0, 7); 1
	v, h, _ := mustRunAsync(t, ast.BlkT(ast.Int(1),
		ast.LetN("f", ast.CallN("delayed", ast.Int(0), ast.Int(7))),
	))
	testIntegerValue(t, v, 1)
	if len(h.marks) != 0 {
		t.Errorf("unawaited async body ran: marks %v", h.marks)
	}
}

func TestSleepAdvancesVirtualClock(t *testing.T) {
	_, h, clock := mustRunAsync(t, ast.BlkT(ast.AwaitE(ast.CallN("delayed", ast.Int(30), ast.Int(1)))))
	if clock.Elapsed() != 30*time.Millisecond {
		t.Errorf("elapsed %s, want 30ms", clock.Elapsed())
	}
	if !reflect.DeepEqual(h.marks, []int64{1}) {
		t.Errorf("marks = %v", h.marks)
	}
}

func TestJoinKeepsInputOrder(t *testing.T) {
	// test::join([delayed(20, 1), delayed(10, 2)]).await
	v, h, clock := mustRunAsync(t, ast.BlkT(ast.AwaitE(ast.CallP([]string{"test", "join"}, ast.Vec(
		ast.CallN("delayed", ast.Int(20), ast.Int(1)),
		ast.CallN("delayed", ast.Int(10), ast.Int(2)),
	)))))

	testInspect(t, v, "[1, 2]")
	if !reflect.DeepEqual(h.marks, []int64{2, 1}) {
		t.Errorf("completion order = %v, want [2 1]", h.marks)
	}
	// Members run concurrently: the join takes as long as the slowest one.
	if clock.Elapsed() != 20*time.Millisecond {
		t.Errorf("elapsed %s, want 20ms", clock.Elapsed())
	}
}

func TestJoinTupleAndEmpty(t *testing.T) {
	v, _, _ := mustRunAsync(t, ast.BlkT(ast.Tup(
		ast.AwaitE(ast.CallP([]string{"test", "join"}, ast.Tup(
			ast.CallN("delayed", ast.Int(5), ast.Str("a")),
			ast.CallN("delayed", ast.Int(1), ast.Int(2)),
		))),
		ast.AwaitE(ast.CallP([]string{"test", "join"}, ast.Vec())),
	)))
	testInspect(t, v, `(("a", 2), [])`)
}

func TestJoinFailureCancelsMembers(t *testing.T) {
	fails := ast.AsyncFn("fails", nil, ast.BlkT(ast.Bin(ast.OpDiv, ast.Int(1), ast.Int(0))))
	_, h, _, err := runAsync(t, ast.BlkT(ast.AwaitE(ast.CallP([]string{"test", "join"}, ast.Vec(
		ast.CallN("delayed", ast.Int(50), ast.Int(1)),
		ast.CallN("fails"),
	)))), fails)

	if !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
	if len(h.marks) != 0 {
		t.Errorf("cancelled member kept running: marks %v", h.marks)
	}
}

// selectTwo is `select { a = delayed(ms0, 0) => a, b = delayed(ms1, 1) => b }`.
func selectTwo(ms0, ms1 int64) *ast.Block {
	return ast.BlkT(ast.SelectE(nil,
		ast.SArm(ast.PB("a"), ast.CallN("delayed", ast.Int(ms0), ast.Int(0)), ast.Id("a")),
		ast.SArm(ast.PB("b"), ast.CallN("delayed", ast.Int(ms1), ast.Int(1)), ast.Id("b")),
	))
}

func TestSelectFirstCompletedWins(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		ms0 := rng.Int63n(50) + 1
		ms1 := rng.Int63n(50) + 1
		if ms0 == ms1 {
			ms1++
		}
		want := int64(0)
		if ms1 < ms0 {
			want = 1
		}

		v, h, _ := mustRunAsync(t, selectTwo(ms0, ms1))
		if v.AsInt() != want {
			t.Fatalf("run %d (%d, %d): winner %d, want %d", i, ms0, ms1, v.AsInt(), want)
		}
		// The losing arm is cancelled before its body continues.
		if !reflect.DeepEqual(h.marks, []int64{want}) {
			t.Fatalf("run %d (%d, %d): marks %v", i, ms0, ms1, h.marks)
		}
	}
}

func TestSelectTieGoesToFirstArm(t *testing.T) {
	v, _, _ := mustRunAsync(t, selectTwo(10, 10))
	testIntegerValue(t, v, 0)
}

func TestSelectCancelsLosingTimers(t *testing.T) {
	// let r = select { _ = test::sleep(1000) => 1, _ = test::sleep(1) => 2 }; (r, test::timers())
	v, _, clock := mustRunAsync(t, ast.BlkT(
		ast.Tup(ast.Id("r"), ast.CallP([]string{"test", "timers"})),
		ast.LetN("r", ast.SelectE(nil,
			ast.SArm(ast.PW(), sleepE(1000), ast.Int(1)),
			ast.SArm(ast.PW(), sleepE(1), ast.Int(2)),
		)),
	))
	testInspect(t, v, "(2, 0)")
	if clock.Elapsed() != time.Millisecond {
		t.Errorf("elapsed %s, want 1ms", clock.Elapsed())
	}
}

func TestSelectDefault(t *testing.T) {
	// let r = select { _ = test::sleep(10) => 1, default => 0 }; (r, test::timers())
	v, _, clock := mustRunAsync(t, ast.BlkT(
		ast.Tup(ast.Id("r"), ast.CallP([]string{"test", "timers"})),
		ast.LetN("r", ast.SelectE(ast.Int(0),
			ast.SArm(ast.PW(), sleepE(10), ast.Int(1)),
		)),
	))
	testInspect(t, v, "(0, 0)")
	if clock.Elapsed() != 0 {
		t.Errorf("elapsed %s, want 0", clock.Elapsed())
	}
}

func TestSelectPatternBindsResult(t *testing.T) {
	// select { (x, y) = pair() => x + y }
	pair := ast.AsyncFn("pair", nil, ast.BlkT(ast.Tup(ast.Int(3), ast.Int(4))))
	v, _, _ := mustRunAsync(t, ast.BlkT(ast.SelectE(nil,
		ast.SArm(ast.PT(ast.PB("x"), ast.PB("y")), ast.CallN("pair"), ast.Bin(ast.OpAdd, ast.Id("x"), ast.Id("y"))),
	)), pair)
	testIntegerValue(t, v, 7)
}

func TestAwaitTwiceFails(t *testing.T) {
	// let f = delayed(1, 1); f.await; f.await
	_, _, _, err := runAsync(t, ast.BlkT(ast.AwaitE(ast.Id("f")),
		ast.LetN("f", ast.CallN("delayed", ast.Int(1), ast.Int(1))),
		ast.Do(ast.AwaitE(ast.Id("f"))),
	))
	if !errors.Is(err, ErrFutureCompleted) {
		t.Fatalf("expected future completed, got %v", err)
	}
}

func TestDeadlockIsDetected(t *testing.T) {
	_, _, _, err := runAsync(t, ast.BlkT(ast.AwaitE(ast.CallP([]string{"test", "pending"}))))
	if !errors.Is(err, ErrDeadlock) {
		t.Fatalf("expected deadlock, got %v", err)
	}
	var p *Panic
	if errors.As(err, &p) && p.Function != "main" {
		t.Errorf("deadlock reported in %q, want main", p.Function)
	}
}

func TestHostPromise(t *testing.T) {
	v, _, _ := mustRunAsync(t, ast.BlkT(ast.Bin(ast.OpAdd,
		ast.AwaitE(ast.CallP([]string{"test", "promise"}, ast.Int(40))),
		ast.Int(2),
	)))
	testIntegerValue(t, v, 42)
}

func TestStalePromiseDoesNotAffectNextRun(t *testing.T) {
	h := &testHost{}
	u := compileItems(t, newTestContext(h),
		ast.Fn("first", nil, ast.BlkT(ast.Int(1))),
		ast.AsyncFn("second", nil, ast.BlkT(ast.AwaitE(ast.CallP([]string{"test", "promise"}, ast.Int(2))))),
	)
	machine := newTestVM(t, h, u)

	// A promise nobody awaits outlives the run it was made for and is
	// completed between runs.
	stale := machine.NewPromise()
	if _, err := machine.Call(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}
	stale.Resolve(IntVal(0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := machine.Call(ctx, "second")
	if err != nil {
		t.Fatalf("second run failed: %s", err)
	}
	testIntegerValue(t, v, 2)
}

func TestCancelledRunStopsParkedTasks(t *testing.T) {
	h := &testHost{}
	u := compileItems(t, newTestContext(h),
		ast.AsyncFn("main", nil, ast.BlkT(ast.AwaitE(sleepE(60_000)))))
	machine := newTestVM(t, h, u, WithClock(RealClock{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := machine.Call(ctx, "main")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("cancellation took %s", time.Since(start))
	}
}

func TestVMReusableAfterRuntimeError(t *testing.T) {
	h := &testHost{}
	u := compileItems(t, newTestContext(h),
		ast.Fn("bad", nil, ast.BlkT(ast.Bin(ast.OpDiv, ast.Int(1), ast.Int(0)))),
		ast.Fn("good", nil, ast.BlkT(ast.Int(7))),
	)
	machine := newTestVM(t, h, u)
	if _, err := machine.Call(context.Background(), "bad"); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
	v, err := machine.Call(context.Background(), "good")
	if err != nil {
		t.Fatal(err)
	}
	testIntegerValue(t, v, 7)
}
