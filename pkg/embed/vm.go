// Package runevm is the embedding API: it compiles and loads units, binds Go
// functions as natives and calls script functions with Go values.
package runevm

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/funvibe/runevm/internal/ast"
	"github.com/funvibe/runevm/internal/config"
	"github.com/funvibe/runevm/internal/modules"
	"github.com/funvibe/runevm/internal/vm"
)

// HostNamespace prefixes bound names that carry no "::" path.
const HostNamespace = "host"

// VM wraps the underlying VM and provides a high-level embedding API.
type VM struct {
	machine    *vm.VM
	natives    *vm.Context
	marshaller *Marshaller
	cfg        config.Config
}

// Option configures a VM created by New.
type Option func(*options)

type options struct {
	cfg      config.Config
	out      io.Writer
	packages []string
	clock    vm.Clock
}

// WithConfig applies a loaded runevm.yaml / runevm.toml configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithOutput redirects print and println.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithPackages installs only the named standard packages instead of all.
func WithPackages(names ...string) Option {
	return func(o *options) { o.packages = names }
}

// WithVirtualClock makes timers resolve without waiting.
func WithVirtualClock() Option {
	return func(o *options) { o.clock = vm.NewVirtualClock() }
}

// New creates a VM with the standard packages installed.
func New(opts ...Option) (*VM, error) {
	o := options{cfg: config.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	natives := vm.NewContext()
	if err := modules.Install(natives, o.packages...); err != nil {
		return nil, err
	}
	vmOpts := []vm.Option{vm.WithContext(natives), vm.WithConfig(o.cfg)}
	if o.out != nil {
		vmOpts = append(vmOpts, vm.WithOutput(o.out))
	}
	if o.clock != nil {
		vmOpts = append(vmOpts, vm.WithClock(o.clock))
	}
	return &VM{
		machine:    vm.New(vmOpts...),
		natives:    natives,
		marshaller: NewMarshaller(),
		cfg:        o.cfg,
	}, nil
}

// Machine exposes the underlying VM.
func (v *VM) Machine() *vm.VM {
	return v.machine
}

// Bind registers a Go function as a native. A name without "::" lands in
// the host namespace: Bind("double", f) is called as host::double(x).
//
// Arguments are converted with the Marshaller; a parameter of type
// vm.Value receives the raw value. The results map back as follows: none
// gives unit, one gives its value, several give a tuple, and a trailing
// error result fails the call when non-nil.
func (v *VM) Bind(name string, fn interface{}) error {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return fmt.Errorf("cannot bind %s: %T is not a function", name, fn)
	}
	if !strings.Contains(name, "::") {
		name = HostNamespace + "::" + name
	}
	arity := rv.Type().NumIn()
	if rv.Type().IsVariadic() {
		arity = vm.Variadic
	}
	return v.natives.Function(name, arity, v.hostCallHandler(name, rv))
}

// BindMethod registers a Go function as an instance function of typeName.
// The receiver is passed as the first argument.
func (v *VM) BindMethod(typeName, name string, fn interface{}) error {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.Type().NumIn() == 0 {
		return fmt.Errorf("cannot bind %s::%s: need a function taking the receiver first", typeName, name)
	}
	arity := rv.Type().NumIn() - 1
	if rv.Type().IsVariadic() {
		arity = vm.Variadic
	}
	return v.natives.Method(typeName, name, arity, v.hostCallHandler(typeName+"::"+name, rv))
}

func (v *VM) hostCallHandler(name string, fn reflect.Value) vm.NativeFunc {
	fnType := fn.Type()
	numIn := fnType.NumIn()
	isVariadic := fnType.IsVariadic()

	return func(_ *vm.VM, args []vm.Value) (vm.Value, error) {
		if isVariadic && len(args) < numIn-1 {
			return vm.UnitVal(), vm.Raise(vm.ErrArityMismatch, "%s expects at least %d arguments, got %d", name, numIn-1, len(args))
		}

		goArgs := make([]reflect.Value, len(args))
		for i, arg := range args {
			var targetType reflect.Type
			if isVariadic && i >= numIn-1 {
				targetType = fnType.In(numIn - 1).Elem()
			} else {
				targetType = fnType.In(i)
			}
			val, err := v.marshaller.FromValue(arg, targetType)
			if err != nil {
				return vm.UnitVal(), vm.Raise(vm.ErrTypeMismatch, "%s argument %d: %v", name, i+1, err)
			}
			if val == nil {
				goArgs[i] = reflect.Zero(targetType)
			} else {
				goArgs[i] = reflect.ValueOf(val)
			}
		}

		results := fn.Call(goArgs)
		if n := len(results); n > 0 && fnType.Out(n-1) == errorType {
			if err, _ := results[n-1].Interface().(error); err != nil {
				return vm.UnitVal(), err
			}
			results = results[:n-1]
		}

		switch len(results) {
		case 0:
			return vm.UnitVal(), nil
		case 1:
			return v.marshaller.ToValue(results[0].Interface())
		}
		items := make([]vm.Value, len(results))
		for i, res := range results {
			val, err := v.marshaller.ToValue(res.Interface())
			if err != nil {
				return vm.UnitVal(), err
			}
			items[i] = val
		}
		return vm.TupleVal(items), nil
	}
}

// Compile compiles a file against the VM's natives. Bind everything the
// file calls before compiling it.
func (v *VM) Compile(file *ast.File) (*vm.Unit, error) {
	return vm.Compile(file, v.natives)
}

// Load links a unit into the VM.
func (v *VM) Load(u *vm.Unit) error {
	return v.machine.Load(u)
}

// LoadFile reads a serialized unit and loads it.
func (v *VM) LoadFile(path string) error {
	u, err := vm.LoadUnitFile(path)
	if err != nil {
		return err
	}
	return v.Load(u)
}

// SaveFile writes the loaded unit to path.
func (v *VM) SaveFile(path string) error {
	u := v.machine.Unit()
	if u == nil {
		return fmt.Errorf("no unit loaded")
	}
	return vm.SaveUnitFile(path, u)
}

// Exec compiles and loads a file in one step.
func (v *VM) Exec(file *ast.File) error {
	u, err := v.Compile(file)
	if err != nil {
		return err
	}
	return v.Load(u)
}

// Call calls a script function by name with Go arguments and converts the
// result back. An Err result is returned as a *ResultError.
func (v *VM) Call(ctx context.Context, funcName string, args ...interface{}) (interface{}, error) {
	res, err := v.CallValue(ctx, funcName, args...)
	if err != nil {
		return nil, err
	}
	return v.marshaller.FromValue(res, nil)
}

// CallValue is Call without converting the result.
func (v *VM) CallValue(ctx context.Context, funcName string, args ...interface{}) (vm.Value, error) {
	vals := make([]vm.Value, len(args))
	for i, arg := range args {
		val, err := v.marshaller.ToValue(arg)
		if err != nil {
			return vm.UnitVal(), fmt.Errorf("argument %d: %w", i+1, err)
		}
		vals[i] = val
	}
	return v.machine.Call(ctx, funcName, vals...)
}

// CallInto calls a script function and decodes the result into out, which
// must be a non-nil pointer.
func (v *VM) CallInto(ctx context.Context, out interface{}, funcName string, args ...interface{}) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("CallInto needs a non-nil pointer, got %T", out)
	}
	res, err := v.CallValue(ctx, funcName, args...)
	if err != nil {
		return err
	}
	val, err := v.marshaller.FromValue(res, rv.Elem().Type())
	if err != nil {
		return err
	}
	if val == nil {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
		return nil
	}
	rv.Elem().Set(reflect.ValueOf(val))
	return nil
}
