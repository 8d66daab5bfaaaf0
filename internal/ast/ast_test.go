package ast

import "testing"

func TestSpanString(t *testing.T) {
	tests := []struct {
		span     Span
		expected string
	}{
		{Span{}, "?"},
		{Pos(3, 7), "3:7"},
		{Span{Start: 10, End: 12, Line: 2, Column: 1}, "2:1"},
	}
	for _, tt := range tests {
		if got := tt.span.String(); got != tt.expected {
			t.Errorf("%#v.String() = %q, want %q", tt.span, got, tt.expected)
		}
	}
}

func TestPathAndOperators(t *testing.T) {
	if got := P("Shape", "Circle").String(); got != "Shape::Circle" {
		t.Errorf("path = %q", got)
	}
	if got := JoinPath([]string{"std"}); got != "std" {
		t.Errorf("single segment = %q", got)
	}
	for op, want := range map[BinOp]string{OpAdd: "+", OpRem: "%", OpShl: "<<", OpNe: "!=", OpGe: ">="} {
		if got := op.String(); got != want {
			t.Errorf("op %d = %q, want %q", op, got, want)
		}
	}
}

func TestAtSetsSpan(t *testing.T) {
	lit := At(Int(1), 4, 2)
	if lit.GetSpan() != Pos(4, 2) {
		t.Errorf("literal span %s", lit.GetSpan())
	}
	call := At(CallN("f", lit), 4, 1)
	if call.GetSpan() != Pos(4, 1) || call.Args[0].GetSpan() != Pos(4, 2) {
		t.Errorf("call span %s, arg span %s", call.GetSpan(), call.Args[0].GetSpan())
	}
}

func TestItemBuilders(t *testing.T) {
	fn := AsyncFn("main", []string{"a", "b"}, BlkT(Id("a")))
	if !fn.Async || len(fn.Params) != 2 || fn.Params[1].Name != "b" {
		t.Errorf("unexpected fn decl %+v", fn)
	}
	file := FileOf("x.rn", fn, Struct("Point", "x", "y"))
	if file.Name != "x.rn" || len(file.Items) != 2 {
		t.Errorf("unexpected file %+v", file)
	}
}
