package runevm_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/funvibe/runevm/internal/ast"
	"github.com/funvibe/runevm/internal/vm"
	runevm "github.com/funvibe/runevm/pkg/embed"
)

// User is a Go struct passed to scripts as an Object
type User struct {
	Name  string
	Score int
	Tags  []string `rune:"tags"`
	note  string
}

func (u User) Status() string {
	return fmt.Sprintf("User %s has %d points", u.Name, u.Score)
}

func newVM(t *testing.T, opts ...runevm.Option) (*runevm.VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	v, err := runevm.New(append([]runevm.Option{runevm.WithOutput(&out), runevm.WithVirtualClock()}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return v, &out
}

func exec(t *testing.T, v *runevm.VM, items ...ast.Item) {
	t.Helper()
	if err := v.Exec(ast.FileOf("embed.rn", items...)); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
}

func host(name string, args ...ast.Expr) ast.Expr {
	return ast.CallP([]string{"host", name}, args...)
}

func TestEmbedAPI(t *testing.T) {
	v, _ := newVM(t)

	// 1. Bind Go functions
	if err := v.Bind("double", func(x int) int { return x * 2 }); err != nil {
		t.Fatal(err)
	}
	if err := v.Bind("user", func(name string) User { return User{Name: name, Score: 10, note: "hidden"} }); err != nil {
		t.Fatal(err)
	}
	if err := v.Bind("status", func(u User) string { return u.Status() }); err != nil {
		t.Fatal(err)
	}

	// 2. fn main(name) { let u = host::user(name); (host::double(21), u.Name, host::status(u)) }
	exec(t, v, ast.Fn("main", []string{"name"}, ast.BlkT(
		ast.Tup(host("double", ast.Int(21)), ast.Field(ast.Id("u"), "Name"), host("status", ast.Id("u"))),
		ast.LetN("u", host("user", ast.Id("name"))),
	)))

	res, err := v.Call(context.Background(), "main", "Alice")
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	// 3. Verify results
	want := []interface{}{int64(42), "Alice", "User Alice has 10 points"}
	if !reflect.DeepEqual(res, want) {
		t.Errorf("got %#v, want %#v", res, want)
	}
}

func TestBindVariadicAndMultipleResults(t *testing.T) {
	v, _ := newVM(t)
	sum := func(xs ...int) int {
		total := 0
		for _, x := range xs {
			total += x
		}
		return total
	}
	if err := v.Bind("sum", sum); err != nil {
		t.Fatal(err)
	}
	if err := v.Bind("math::divmod", func(a, b int64) (int64, int64) { return a / b, a % b }); err != nil {
		t.Fatal(err)
	}
	if err := v.BindMethod("int", "triple", func(n int64) int64 { return n * 3 }); err != nil {
		t.Fatal(err)
	}

	exec(t, v, ast.Fn("main", nil, ast.BlkT(ast.Tup(
		host("sum", ast.Int(1), ast.Int(2), ast.Int(3)),
		host("sum"),
		ast.CallP([]string{"math", "divmod"}, ast.Int(17), ast.Int(5)),
		ast.Method(ast.Int(5), "triple"),
	))))

	res, err := v.CallValue(context.Background(), "main")
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got := res.Inspect(); got != "(6, 0, (3, 2), 15)" {
		t.Errorf("got %s", got)
	}
}

var errNotFound = errors.New("not found")

func TestBoundErrorBecomesPanic(t *testing.T) {
	v, _ := newVM(t)
	if err := v.Bind("lookup", func(key string) (int, error) {
		if key == "a" {
			return 1, nil
		}
		return 0, errNotFound
	}); err != nil {
		t.Fatal(err)
	}
	exec(t, v, ast.Fn("main", []string{"k"}, ast.BlkT(host("lookup", ast.Id("k")))))

	res, err := v.Call(context.Background(), "main", "a")
	if err != nil || res != int64(1) {
		t.Fatalf("got %v, %v", res, err)
	}

	_, err = v.Call(context.Background(), "main", "b")
	if !errors.Is(err, vm.ErrNative) {
		t.Fatalf("expected native failure, got %v", err)
	}
	if !errors.Is(err, errNotFound) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestBindRejectsNonFunctions(t *testing.T) {
	v, _ := newVM(t)
	if err := v.Bind("x", 42); err == nil {
		t.Errorf("expected error binding an int")
	}
	if err := v.BindMethod("Vec", "nothing", func() {}); err == nil {
		t.Errorf("expected error binding a method without receiver")
	}
	if err := v.Bind("std::println", func() {}); err == nil {
		t.Errorf("expected error rebinding std::println")
	}
}

func TestCallIntoStruct(t *testing.T) {
	v, _ := newVM(t)
	// fn make(n) { #{ Name: n, Score: 3, tags: ["x"] } }
	exec(t, v,
		ast.Fn("make", []string{"n"}, ast.BlkT(ast.Obj(
			ast.F("Name", ast.Id("n")),
			ast.F("Score", ast.Int(3)),
			ast.F("tags", ast.Vec(ast.Str("x"))),
		))),
		ast.Fn("fail", nil, ast.BlkT(ast.CallN("Err", ast.Str("nope")))),
	)

	var u User
	if err := v.CallInto(context.Background(), &u, "make", "Bob"); err != nil {
		t.Fatalf("CallInto failed: %v", err)
	}
	want := User{Name: "Bob", Score: 3, Tags: []string{"x"}}
	if !reflect.DeepEqual(u, want) {
		t.Errorf("got %+v, want %+v", u, want)
	}

	_, err := v.Call(context.Background(), "fail")
	var re *runevm.ResultError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResultError, got %v", err)
	}
	if re.Value.Inspect() != `"nope"` {
		t.Errorf("error value %s", re.Value.Inspect())
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	v, _ := newVM(t)
	exec(t, v, ast.Fn("greet", []string{"who"}, ast.BlkT(
		ast.Bin(ast.OpAdd, ast.Str("Hello, "), ast.Id("who")),
	)))
	path := filepath.Join(t.TempDir(), "greet.rnu")
	if err := v.SaveFile(path); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	other, _ := newVM(t)
	if err := other.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	res, err := other.Call(context.Background(), "greet", "world")
	if err != nil {
		t.Fatal(err)
	}
	if res != "Hello, world" {
		t.Errorf("got %v", res)
	}
}

func TestAsyncEntryAndOutput(t *testing.T) {
	v, out := newVM(t)
	// async fn main() { time::sleep(100).await; println("done"); 1 }
	exec(t, v, ast.AsyncFn("main", nil, ast.BlkT(ast.Int(1),
		ast.Do(ast.AwaitE(ast.CallP([]string{"time", "sleep"}, ast.Int(100)))),
		ast.Do(ast.CallN("println", ast.Str("done"))),
	)))
	res, err := v.Call(context.Background(), "main")
	if err != nil {
		t.Fatal(err)
	}
	if res != int64(1) || out.String() != "done\n" {
		t.Errorf("got %v with output %q", res, out.String())
	}
}

func TestWithPackagesLimitsNatives(t *testing.T) {
	v, _ := newVM(t, runevm.WithPackages("std"))
	err := v.Exec(ast.FileOf("limited.rn", ast.Fn("main", nil, ast.BlkT(
		ast.CallP([]string{"time", "sleep"}, ast.Int(1)),
	))))
	if !errors.Is(err, vm.ErrUnresolvedName) {
		t.Errorf("expected unresolved name, got %v", err)
	}
}
