package vm

import (
	"fmt"
	"sort"
	"strings"
)

// NativeFunc is a host function callable from scripts. Arguments arrive in
// call order (the receiver first for instance functions). It returns exactly
// one value or an error; returning a *Panic keeps its kind, any other error
// becomes an ErrNative panic. A native may return a Future value, which the
// scheduler drives like any other.
type NativeFunc func(vm *VM, args []Value) (Value, error)

// Variadic marks a native that accepts any number of arguments.
const Variadic = -1

// Native is a registered host function.
type Native struct {
	Path  string // "bytes::new", or "Bytes::len" for instance functions
	Arity int
	Fn    NativeFunc
}

// Context is the registry of native functions and instance functions that
// units link against when loaded.
type Context struct {
	functions map[string]*Native
	methods   map[string]map[string]*Native // type name -> method name
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{
		functions: make(map[string]*Native),
		methods:   make(map[string]map[string]*Native),
	}
}

// Function registers a free function under a "::"-separated path.
func (c *Context) Function(path string, arity int, fn NativeFunc) error {
	if _, dup := c.functions[path]; dup {
		return fmt.Errorf("native function %s already registered", path)
	}
	c.functions[path] = &Native{Path: path, Arity: arity, Fn: fn}
	return nil
}

// Method registers an instance function for values whose TypeName is
// typeName. arity counts the arguments after the receiver.
func (c *Context) Method(typeName, name string, arity int, fn NativeFunc) error {
	m, ok := c.methods[typeName]
	if !ok {
		m = make(map[string]*Native)
		c.methods[typeName] = m
	}
	if _, dup := m[name]; dup {
		return fmt.Errorf("instance function %s::%s already registered", typeName, name)
	}
	m[name] = &Native{Path: typeName + "::" + name, Arity: arity, Fn: fn}
	return nil
}

// Lookup finds a free function by path.
func (c *Context) Lookup(path string) (*Native, bool) {
	n, ok := c.functions[path]
	return n, ok
}

// LookupMethod finds an instance function.
func (c *Context) LookupMethod(typeName, name string) (*Native, bool) {
	n, ok := c.methods[typeName][name]
	return n, ok
}

// NativeArity implements Resolver.
func (c *Context) NativeArity(path string) (int, bool) {
	n, ok := c.functions[path]
	if !ok {
		return 0, false
	}
	return n.Arity, true
}

// Functions lists the registered free function paths, sorted.
func (c *Context) Functions() []string {
	paths := make([]string, 0, len(c.functions))
	for p := range c.functions {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Resolver lets the compiler see which native paths exist and their arity.
type Resolver interface {
	NativeArity(path string) (int, bool)
}

// Prelude maps short names to native paths:
// `println` resolves to `std::println`.
var Prelude = map[string]string{
	"print":     "std::print",
	"println":   "std::println",
	"dbg":       "std::dbg",
	"panic":     "std::panic",
	"assert":    "std::assert",
	"assert_eq": "std::assert_eq",
}

func preludePath(name string) (string, bool) {
	if strings.Contains(name, "::") {
		return name, true
	}
	p, ok := Prelude[name]
	return p, ok
}
