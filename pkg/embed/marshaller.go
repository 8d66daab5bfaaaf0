package runevm

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/funvibe/runevm/internal/vm"
)

var (
	valueType = reflect.TypeOf(vm.Value{})
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	anyType   = reflect.TypeOf((*interface{})(nil)).Elem()
)

// ResultError is returned when a script result converts from Err(v).
type ResultError struct {
	Value vm.Value
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("script returned Err(%s)", e.Value.Inspect())
}

// Marshaller handles conversion between Go and script values.
type Marshaller struct{}

func NewMarshaller() *Marshaller {
	return &Marshaller{}
}

// ToValue converts a Go value to a script Value.
//
//	nil                       -> unit
//	ints, uints               -> int (uint64 above MaxInt64 fails)
//	floats                    -> float
//	rune via Char             -> char
//	string                    -> String
//	[]byte                    -> Bytes
//	slices, arrays            -> Vec
//	map[string]T, structs     -> Object (struct fields by `rune` tag or name)
//	*T                        -> ToValue(*T), nil pointer -> None
func (m *Marshaller) ToValue(val interface{}) (vm.Value, error) {
	if val == nil {
		return vm.UnitVal(), nil
	}
	switch x := val.(type) {
	case vm.Value:
		return x, nil
	case Char:
		return vm.CharVal(rune(x)), nil
	case []byte:
		return vm.BytesVal(append([]byte(nil), x...)), nil
	}
	return m.toValue(reflect.ValueOf(val))
}

// Char marks a rune that should become a char rather than an int.
type Char rune

func (m *Marshaller) toValue(v reflect.Value) (vm.Value, error) {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return vm.UnitVal(), nil
		}
		return m.ToValue(v.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return vm.IntVal(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > 1<<63-1 {
			return vm.UnitVal(), fmt.Errorf("%d overflows int", u)
		}
		return vm.IntVal(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return vm.FloatVal(v.Float()), nil
	case reflect.Bool:
		return vm.BoolVal(v.Bool()), nil
	case reflect.String:
		return vm.StringVal(v.String()), nil
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return vm.BytesVal(append([]byte(nil), v.Bytes()...)), nil
		}
		items := make([]vm.Value, v.Len())
		for i := range items {
			item, err := m.toValue(v.Index(i))
			if err != nil {
				return vm.UnitVal(), fmt.Errorf("element %d: %w", i, err)
			}
			items[i] = item
		}
		return vm.VecVal(items), nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return vm.UnitVal(), fmt.Errorf("map keys must be strings, got %s", v.Type().Key())
		}
		fields := make(map[string]vm.Value, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			val, err := m.toValue(iter.Value())
			if err != nil {
				return vm.UnitVal(), fmt.Errorf("map value %q: %w", iter.Key().String(), err)
			}
			fields[iter.Key().String()] = val
		}
		return vm.ObjectVal(fields), nil
	case reflect.Struct:
		return m.structToObject(v)
	case reflect.Ptr:
		if v.IsNil() {
			return vm.NoneVal(), nil
		}
		return m.toValue(v.Elem())
	default:
		return vm.UnitVal(), fmt.Errorf("unsupported Go type %s", v.Type())
	}
}

func fieldName(f reflect.StructField) (string, bool) {
	if f.PkgPath != "" { // unexported
		return "", false
	}
	switch tag := f.Tag.Get("rune"); tag {
	case "-":
		return "", false
	case "":
		return f.Name, true
	default:
		return tag, true
	}
}

func (m *Marshaller) structToObject(v reflect.Value) (vm.Value, error) {
	fields := make(map[string]vm.Value)
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		name, ok := fieldName(t.Field(i))
		if !ok {
			continue
		}
		val, err := m.toValue(v.Field(i))
		if err != nil {
			return vm.UnitVal(), fmt.Errorf("field %s: %w", name, err)
		}
		fields[name] = val
	}
	return vm.ObjectVal(fields), nil
}

// FromValue converts a script Value to a Go value.
// targetType is optional; if provided, tries to convert to that type.
// Without one, ints become int64, sequences []interface{}, objects
// map[string]interface{}, None and unit nil.
func (m *Marshaller) FromValue(val vm.Value, targetType reflect.Type) (interface{}, error) {
	if targetType == valueType {
		return val, nil
	}
	out, err := m.fromValue(val, targetType)
	if err != nil || out == nil || targetType == nil || targetType == anyType {
		return out, err
	}
	rv := reflect.ValueOf(out)
	switch {
	case rv.Type().AssignableTo(targetType):
		return out, nil
	case rv.Type().ConvertibleTo(targetType) && convertible(rv.Kind(), targetType.Kind()):
		return rv.Convert(targetType).Interface(), nil
	}
	return nil, fmt.Errorf("cannot convert %s to %s", val.TypeName(), targetType)
}

// convertible rules out reflect conversions that change meaning, such as
// int to string.
func convertible(from, to reflect.Kind) bool {
	isNum := func(k reflect.Kind) bool {
		return k >= reflect.Int && k <= reflect.Float64
	}
	if isNum(from) || isNum(to) {
		return isNum(from) && isNum(to)
	}
	return true
}

func (m *Marshaller) fromValue(val vm.Value, targetType reflect.Type) (interface{}, error) {
	switch val.Type {
	case vm.ValUnit:
		return nil, nil
	case vm.ValInt:
		return val.AsInt(), nil
	case vm.ValFloat:
		return val.AsFloat(), nil
	case vm.ValBool:
		return val.AsBool(), nil
	case vm.ValChar:
		return val.AsChar(), nil
	case vm.ValString, vm.ValStaticString:
		s, _ := val.AsString()
		return s, nil
	case vm.ValBytes:
		return append([]byte(nil), val.Obj.(*vm.Bytes).B...), nil
	case vm.ValVec, vm.ValTuple, vm.ValTypedTuple:
		items, _ := val.Items()
		return m.itemsToSlice(items, targetType)
	case vm.ValObject:
		return m.fieldsToGo(val.Obj.(*vm.Object).Fields, targetType)
	case vm.ValTypedObject:
		return m.fieldsToGo(val.Obj.(*vm.TypedObject).Fields, targetType)
	case vm.ValOption:
		if !val.IsSome() {
			return nil, nil
		}
		return m.FromValue(val.Inner(), targetType)
	case vm.ValResult:
		if !val.IsOk() {
			return nil, &ResultError{Value: val.Inner()}
		}
		return m.FromValue(val.Inner(), targetType)
	case vm.ValGeneratorState:
		return m.FromValue(val.Inner(), targetType)
	default:
		// functions, futures and generators stay opaque
		return val, nil
	}
}

func (m *Marshaller) itemsToSlice(items []vm.Value, targetType reflect.Type) (interface{}, error) {
	elemType := anyType
	if targetType != nil && targetType.Kind() == reflect.Slice {
		elemType = targetType.Elem()
	}
	slice := reflect.MakeSlice(reflect.SliceOf(elemType), 0, len(items))
	for i, item := range items {
		el, err := m.FromValue(item, elemType)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if el == nil {
			slice = reflect.Append(slice, reflect.Zero(elemType))
			continue
		}
		slice = reflect.Append(slice, reflect.ValueOf(el))
	}
	return slice.Interface(), nil
}

func (m *Marshaller) fieldsToGo(fields map[string]vm.Value, targetType reflect.Type) (interface{}, error) {
	if targetType != nil && targetType.Kind() == reflect.Struct {
		return m.fieldsToStruct(fields, targetType)
	}
	if targetType != nil && targetType.Kind() == reflect.Ptr && targetType.Elem().Kind() == reflect.Struct {
		s, err := m.fieldsToStruct(fields, targetType.Elem())
		if err != nil {
			return nil, err
		}
		p := reflect.New(targetType.Elem())
		p.Elem().Set(reflect.ValueOf(s))
		return p.Interface(), nil
	}

	valType := anyType
	if targetType != nil && targetType.Kind() == reflect.Map {
		valType = targetType.Elem()
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := reflect.MakeMapWithSize(reflect.MapOf(reflect.TypeOf(""), valType), len(fields))
	for _, k := range keys {
		val, err := m.FromValue(fields[k], valType)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		vv := reflect.Zero(valType)
		if val != nil {
			vv = reflect.ValueOf(val)
		}
		result.SetMapIndex(reflect.ValueOf(k), vv)
	}
	return result.Interface(), nil
}

func (m *Marshaller) fieldsToStruct(fields map[string]vm.Value, t reflect.Type) (interface{}, error) {
	out := reflect.New(t).Elem()
	for i := 0; i < t.NumField(); i++ {
		name, ok := fieldName(t.Field(i))
		if !ok {
			continue
		}
		fv, present := fields[name]
		if !present {
			continue
		}
		val, err := m.FromValue(fv, t.Field(i).Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if val != nil {
			out.Field(i).Set(reflect.ValueOf(val))
		}
	}
	return out.Interface(), nil
}
