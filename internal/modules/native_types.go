package modules

import (
	"sort"

	"github.com/funvibe/runevm/internal/vm"
)

// NativeFunction is a free function of a package, installed as "pkg::name".
type NativeFunction struct {
	Name  string
	Arity int
	Fn    vm.NativeFunc
}

// NativeMethod is an instance function dispatched on the receiver's type
// name. Arity counts the arguments after the receiver.
type NativeMethod struct {
	Name  string
	Arity int
	Fn    vm.NativeFunc
}

// NativePackage groups the natives of one namespace. For type packages
// (Vec, String, Bytes...) Name is the type name and Methods are its
// instance functions.
type NativePackage struct {
	Name      string
	Functions []NativeFunction
	Methods   []NativeMethod
}

// nativePackages maps package names to their definitions
var nativePackages = map[string]*NativePackage{}

// RegisterNativePackage registers a package so Install can find it.
func RegisterNativePackage(pkg *NativePackage) {
	nativePackages[pkg.Name] = pkg
}

// GetNativePackage returns a package by name, or nil if not found
func GetNativePackage(name string) *NativePackage {
	InitNativePackages()
	return nativePackages[name]
}

// IsNativePackage checks if name is a registered package
func IsNativePackage(name string) bool {
	return GetNativePackage(name) != nil
}

// PackageNames returns the registered package names, sorted.
func PackageNames() []string {
	InitNativePackages()
	names := make([]string, 0, len(nativePackages))
	for name := range nativePackages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// install registers every function and method of the package. An instance
// function is also reachable by path with the receiver as first argument:
// `Vec::len(v)` is `v.len()`.
func (p *NativePackage) install(ctx *vm.Context) error {
	for _, f := range p.Functions {
		if err := ctx.Function(p.Name+"::"+f.Name, f.Arity, f.Fn); err != nil {
			return err
		}
	}
	for _, m := range p.Methods {
		if err := ctx.Method(p.Name, m.Name, m.Arity, m.Fn); err != nil {
			return err
		}
		path := p.Name + "::" + m.Name
		if _, exists := ctx.Lookup(path); exists {
			continue
		}
		arity := m.Arity
		if arity != vm.Variadic {
			arity++
		}
		if err := ctx.Function(path, arity, receiverGuard(p.Name, path, m.Fn)); err != nil {
			return err
		}
	}
	return nil
}

// receiverGuard rejects path calls whose first argument is not a typeName
// value. Method dispatch already guarantees this for `v.name()` calls.
func receiverGuard(typeName, path string, fn vm.NativeFunc) vm.NativeFunc {
	return func(m *vm.VM, args []vm.Value) (vm.Value, error) {
		if len(args) == 0 {
			return vm.UnitVal(), vm.Raise(vm.ErrArityMismatch, "%s expects a %s receiver", path, typeName)
		}
		if got := args[0].TypeName(); got != typeName {
			return vm.UnitVal(), vm.Raise(vm.ErrTypeMismatch, "%s expects a %s receiver, got %s", path, typeName, got)
		}
		return fn(m, args)
	}
}
