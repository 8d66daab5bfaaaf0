package vm

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/funvibe/runevm/internal/ast"
)

func codecProgram() []ast.Item {
	shape := ast.Enum("Shape", ast.TupleVariant("Circle", 1), ast.NamedVariant("Rect", "w", "h"))
	area := ast.Fn("area", []string{"s"}, ast.BlkT(ast.MatchE(ast.Id("s"),
		ast.Arm(ast.PC([]string{"Shape", "Circle"}, ast.PB("r")), nil, ast.Bin(ast.OpMul, ast.Id("r"), ast.Id("r"))),
		ast.Arm(ast.PO([]string{"Shape", "Rect"}, ast.PF("w", nil), ast.PF("h", nil)), nil, ast.Bin(ast.OpMul, ast.Id("w"), ast.Id("h"))),
	)))
	main := ast.Fn("main", nil, ast.BlkT(
		ast.Tup(
			ast.CallN("area", ast.CallP([]string{"Shape", "Circle"}, ast.Int(3))),
			ast.CallN("area", ast.StructE([]string{"Shape", "Rect"}, ast.F("w", ast.Int(2)), ast.F("h", ast.Int(5)))),
			ast.Float(1.5),
			ast.Char('λ'),
			ast.ByteStr([]byte{0, 1, 2}),
			ast.Obj(ast.F("k", ast.Str("v"))),
		),
		ast.Do(ast.CallN("println", ast.Str("serialized"))),
	))
	return []ast.Item{shape, area, main}
}

func TestUnitRoundTripRunsTheSame(t *testing.T) {
	h := &testHost{}
	u := compileItems(t, newTestContext(h), codecProgram()...)

	data, err := u.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DeserializeUnit(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.ID != u.ID {
		t.Errorf("unit id %s, want %s", decoded.ID, u.ID)
	}
	if Disassemble(decoded) != Disassemble(u) {
		t.Errorf("disassembly differs after round trip:\n%s\n---\n%s", Disassemble(u), Disassemble(decoded))
	}

	run := func(u *Unit) (string, string) {
		h := &testHost{}
		v, err := newTestVM(t, h, u).Call(context.Background(), "main")
		if err != nil {
			t.Fatalf("runtime error: %s", err)
		}
		return v.Inspect(), h.out.String()
	}
	v1, out1 := run(u)
	v2, out2 := run(decoded)
	if v1 != v2 || out1 != out2 {
		t.Errorf("results differ: %s %q vs %s %q", v1, out1, v2, out2)
	}
	if v1 != `(9, 10, 1.5, 'λ', b"\x00\x01\x02", #{"k": "v"})` {
		t.Errorf("result = %s", v1)
	}
}

func TestSerializeIsDeterministic(t *testing.T) {
	u := compileItems(t, newTestContext(&testHost{}), codecProgram()...)
	a, err := u.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	b, err := u.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("serializing the same unit twice gave different bytes")
	}
}

func TestUnitFileRoundTrip(t *testing.T) {
	u := compileItems(t, newTestContext(&testHost{}), codecProgram()...)
	path := filepath.Join(t.TempDir(), "prog.rnu")
	if err := SaveUnitFile(path, u); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadUnitFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Code) != len(u.Code) || len(loaded.Functions) != len(u.Functions) {
		t.Errorf("loaded unit has %d bytes / %d functions, want %d / %d",
			len(loaded.Code), len(loaded.Functions), len(u.Code), len(u.Functions))
	}

	var buf bytes.Buffer
	if err := WriteUnit(&buf, u); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadUnit(&buf); err != nil {
		t.Fatal(err)
	}
}

func TestDeserializeRejectsBadInput(t *testing.T) {
	u := compileItems(t, newTestContext(&testHost{}), codecProgram()...)
	good, err := u.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	wrongVersion := append([]byte(nil), good...)
	wrongVersion[4] = 0x7f

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("NOPE"), good[4:]...)},
		{"wrong version", wrongVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DeserializeUnit(tt.data); !errors.Is(err, ErrInvalidUnit) {
				t.Errorf("expected invalid unit, got %v", err)
			}
		})
	}

	if _, err := DeserializeUnit(good[:len(good)/2]); err == nil {
		t.Error("truncated unit decoded without error")
	}
}

func TestLoadRejectsMissingNatives(t *testing.T) {
	u := compileItems(t, newTestContext(&testHost{}), codecProgram()...)
	machine := New(WithContext(NewContext()))
	if err := machine.Load(u); !errors.Is(err, ErrMissingFunction) {
		t.Errorf("expected missing function for std::println, got %v", err)
	}
}
