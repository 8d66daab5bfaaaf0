package runevm

import (
	"reflect"
	"testing"

	"github.com/funvibe/runevm/internal/vm"
)

type point struct {
	X int64 `rune:"x"`
	Y int64 `rune:"y"`
	Z int64 `rune:"-"`
}

func TestToValue(t *testing.T) {
	seven := 7
	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{"nil", nil, "()"},
		{"int", 42, "42"},
		{"uint8", uint8(200), "200"},
		{"float", 1.5, "1.5"},
		{"bool", true, "true"},
		{"char", Char('x'), "'x'"},
		{"string", "hi", `"hi"`},
		{"bytes", []byte{1, 2}, `b"\x01\x02"`},
		{"slice", []string{"a", "b"}, `["a", "b"]`},
		{"array", [2]int{1, 2}, "[1, 2]"},
		{"map", map[string]int{"b": 2, "a": 1}, `#{"a": 1, "b": 2}`},
		{"struct", point{X: 1, Y: 2, Z: 3}, `#{"x": 1, "y": 2}`},
		{"pointer", &seven, "7"},
		{"nil pointer", (*int)(nil), "None"},
		{"value", vm.SomeVal(vm.IntVal(1)), "Some(1)"},
	}
	m := NewMarshaller()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := m.ToValue(tt.input)
			if err != nil {
				t.Fatalf("ToValue failed: %v", err)
			}
			if got := v.Inspect(); got != tt.expected {
				t.Errorf("got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestToValueErrors(t *testing.T) {
	m := NewMarshaller()
	for _, input := range []interface{}{
		map[int]int{1: 1},
		uint64(1 << 63),
		make(chan int),
	} {
		if _, err := m.ToValue(input); err == nil {
			t.Errorf("expected error for %T", input)
		}
	}
}

func TestFromValue(t *testing.T) {
	m := NewMarshaller()
	tests := []struct {
		name     string
		input    vm.Value
		target   reflect.Type
		expected interface{}
	}{
		{"int default", vm.IntVal(3), nil, int64(3)},
		{"int to int", vm.IntVal(3), reflect.TypeOf(0), 3},
		{"int to float", vm.IntVal(3), reflect.TypeOf(0.0), 3.0},
		{"string", vm.StringVal("s"), nil, "s"},
		{"char", vm.CharVal('c'), nil, 'c'},
		{"unit", vm.UnitVal(), nil, nil},
		{"none", vm.NoneVal(), nil, nil},
		{"some", vm.SomeVal(vm.IntVal(1)), reflect.TypeOf(0), 1},
		{"vec default", vm.VecVal([]vm.Value{vm.IntVal(1), vm.StringVal("a")}), nil, []interface{}{int64(1), "a"}},
		{"vec typed", vm.VecVal([]vm.Value{vm.IntVal(1), vm.IntVal(2)}), reflect.TypeOf([]int{}), []int{1, 2}},
		{"tuple", vm.TupleVal([]vm.Value{vm.BoolVal(true)}), nil, []interface{}{true}},
		{"object map", vm.ObjectVal(map[string]vm.Value{"a": vm.IntVal(1)}), reflect.TypeOf(map[string]int{}), map[string]int{"a": 1}},
		{"object struct", vm.ObjectVal(map[string]vm.Value{"x": vm.IntVal(1), "y": vm.IntVal(2)}), reflect.TypeOf(point{}), point{X: 1, Y: 2}},
		{"bytes", vm.BytesVal([]byte("ab")), nil, []byte("ab")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.FromValue(tt.input, tt.target)
			if err != nil {
				t.Fatalf("FromValue failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("got %#v, want %#v", got, tt.expected)
			}
		})
	}
}

func TestFromValueMismatch(t *testing.T) {
	m := NewMarshaller()
	if _, err := m.FromValue(vm.IntVal(1), reflect.TypeOf("")); err == nil {
		t.Errorf("int converted to string")
	}
	if _, err := m.FromValue(vm.ErrVal(vm.IntVal(1)), nil); err == nil {
		t.Errorf("Err converted without error")
	}
}
