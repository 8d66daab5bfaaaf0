package vm

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/funvibe/runevm/internal/ast"
)

var compilerLog = commonlog.GetLogger("runevm.compiler")

// Local represents a local variable during compilation
type Local struct {
	Name  string // empty for compiler temporaries
	Depth int    // Scope depth where this local was declared
	Slot  int    // Stack slot relative to frame.base
	debug int    // index into FunctionInfo.Locals, -1 for temporaries
}

// capture is a value copied into a closure when it is created
type capture struct {
	name      string
	fromLocal bool // true: enclosing local slot, false: enclosing capture
	index     int
}

// LoopContext tracks loop information for break/continue
type LoopContext struct {
	sp             int   // stack height at loop entry
	continueTarget int   // -1 while not yet known (for loops)
	continueJumps  []int // forward continue jumps to patch
	breakJumps     []int // break jumps to patch
	allowValue     bool  // only `loop` accepts break with a value
}

// funcState is the per-function part of the compiler
type funcState struct {
	enclosing *funcState
	fnIndex   int
	chunk     Chunk // function-relative code, relocated when finished

	locals     []Local
	scopeDepth int
	sp         int // simulated operand-stack height relative to frame.base
	maxSp      int

	captures []capture
	loops    []LoopContext

	async         bool
	generator     bool // the body contains yield
	suspendPoints []int
	debugLocals   []LocalInfo
}

// Compiler compiles an AST file to a Unit
type Compiler struct {
	unit     *Unit
	resolver Resolver
	file     string

	functions map[string]int // unit function name -> function index
	types     map[string]int // "Point", "Shape::Circle" -> type index
	enums     map[string]bool
	bodies    []pendingBody

	fs *funcState
}

type pendingBody struct {
	decl  *ast.FnDecl
	index int
}

// NewCompiler creates a compiler that resolves natives through resolver.
// resolver may be nil when the program calls no natives.
func NewCompiler(resolver Resolver) *Compiler {
	return &Compiler{
		resolver:  resolver,
		functions: make(map[string]int),
		types:     make(map[string]int),
		enums:     make(map[string]bool),
	}
}

// Compile lowers a file into a Unit.
func Compile(file *ast.File, resolver Resolver) (*Unit, error) {
	return NewCompiler(resolver).Compile(file)
}

// Compile lowers a file into a Unit.
func (c *Compiler) Compile(file *ast.File) (*Unit, error) {
	c.file = file.Name
	c.unit = NewUnit(file.Name)

	// Pass 1: declare every item so bodies can reference each other in any order.
	for _, item := range file.Items {
		if err := c.declareItem(item, ""); err != nil {
			return nil, c.withFile(err)
		}
	}

	// Pass 2: compile bodies. Nested fn items are appended while compiling.
	for i := 0; i < len(c.bodies); i++ {
		b := c.bodies[i]
		if err := c.compileFunction(b.decl, b.index); err != nil {
			return nil, c.withFile(err)
		}
	}

	if err := c.unit.Validate(); err != nil {
		return nil, fmt.Errorf("compiler produced an invalid unit: %w", err)
	}
	compilerLog.Debugf("compiled %s: %d functions, %d bytes, unit %s",
		file.Name, len(c.unit.Functions), len(c.unit.Code), c.unit.ID)
	return c.unit, nil
}

func (c *Compiler) withFile(err error) error {
	if ce, ok := err.(*CompileError); ok && ce.File == "" {
		ce.File = c.file
	}
	return err
}

func (c *Compiler) errorf(kind error, span ast.Span, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: kind, Message: fmt.Sprintf(format, args...), Span: span}
}

// declareItem registers an item; prefix is "Type::" for impl members.
func (c *Compiler) declareItem(item ast.Item, prefix string) error {
	switch it := item.(type) {
	case *ast.FnDecl:
		name := prefix + it.Name
		if _, dup := c.functions[name]; dup {
			return c.errorf(ErrDuplicateItem, it.Span, "function %s is already defined", name)
		}
		idx := c.newFunction(name, len(it.Params), it.Async, it.Span)
		c.functions[name] = idx
		c.bodies = append(c.bodies, pendingBody{decl: it, index: idx})
		if err := c.declareNested(it.Body); err != nil {
			return err
		}
		return nil

	case *ast.StructDecl:
		if err := c.checkTypeName(it.Name, it.Span); err != nil {
			return err
		}
		t := TypeInfo{Name: it.Name, Arity: it.Arity, Fields: it.Fields, Kind: kindOf(it.Kind)}
		if err := checkFieldNames(c, it.Fields, it.Span); err != nil {
			return err
		}
		c.addType(t)
		return nil

	case *ast.EnumDecl:
		if err := c.checkTypeName(it.Name, it.Span); err != nil {
			return err
		}
		c.enums[it.Name] = true
		for _, v := range it.Variants {
			full := it.Name + "::" + v.Name
			if _, dup := c.types[full]; dup {
				return c.errorf(ErrDuplicateItem, v.Span, "variant %s is already defined", full)
			}
			if err := checkFieldNames(c, v.Fields, v.Span); err != nil {
				return err
			}
			c.addType(TypeInfo{Name: full, Enum: it.Name, Kind: kindOf(v.Kind), Fields: v.Fields, Arity: v.Arity})
		}
		return nil

	case *ast.ImplDecl:
		if _, ok := c.types[it.Type]; !ok && !c.enums[it.Type] {
			return c.errorf(ErrUnknownType, it.Span, "impl for unknown type %s", it.Type)
		}
		for _, fn := range it.Fns {
			if err := c.declareItem(fn, it.Type+"::"); err != nil {
				return err
			}
			c.unit.Impls = append(c.unit.Impls, ImplEntry{Type: it.Type, Name: fn.Name, Fn: c.functions[it.Type+"::"+fn.Name]})
		}
		return nil
	}
	return c.errorf(ErrUnsupported, item.GetSpan(), "unsupported item %T", item)
}

// declareNested hoists fn/struct/enum items declared inside a body.
func (c *Compiler) declareNested(b *ast.Block) error {
	if b == nil {
		return nil
	}
	for _, st := range b.Stmts {
		switch s := st.(type) {
		case *ast.ItemStmt:
			if err := c.declareItem(s.Item, ""); err != nil {
				return err
			}
		case *ast.ExprStmt:
			if inner, ok := s.X.(*ast.Block); ok {
				if err := c.declareNested(inner); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *Compiler) checkTypeName(name string, span ast.Span) error {
	if _, dup := c.types[name]; dup || c.enums[name] {
		return c.errorf(ErrDuplicateItem, span, "type %s is already defined", name)
	}
	if isBuiltinTypeName(name) {
		return c.errorf(ErrDuplicateItem, span, "type %s shadows a built-in type", name)
	}
	return nil
}

func checkFieldNames(c *Compiler, fields []string, span ast.Span) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f] {
			return c.errorf(ErrDuplicateBinding, span, "field %s is declared twice", f)
		}
		seen[f] = true
	}
	return nil
}

func kindOf(k ast.StructKind) TypeKind {
	switch k {
	case ast.StructTuple:
		return KindTuple
	case ast.StructNamed:
		return KindNamed
	}
	return KindUnit
}

func (c *Compiler) addType(t TypeInfo) int {
	c.unit.Types = append(c.unit.Types, t)
	idx := len(c.unit.Types) - 1
	c.types[t.Name] = idx
	return idx
}

func (c *Compiler) newFunction(name string, arity int, async bool, span ast.Span) int {
	return c.unit.AddFunction(FunctionInfo{
		Name:  name,
		Arity: arity,
		Async: async,
		Span:  span,
	})
}

// compileFunction compiles a declared fn body.
func (c *Compiler) compileFunction(decl *ast.FnDecl, index int) error {
	fs := &funcState{fnIndex: index, async: decl.Async}
	c.fs = fs
	defer func() { c.fs = nil }()

	if err := c.declareParams(decl.Params); err != nil {
		return err
	}
	if err := c.compileBlock(decl.Body); err != nil {
		return err
	}
	c.emit(OP_RETURN, decl.Body.Span, -1)
	c.finishFunction(fs)
	return nil
}

func (c *Compiler) declareParams(params []*ast.Param) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name != "_" && seen[p.Name] {
			return c.errorf(ErrDuplicateBinding, p.Span, "parameter %s is bound twice", p.Name)
		}
		seen[p.Name] = true
		c.fs.adjust(1)
		c.addLocal(p.Name)
	}
	return nil
}

// finishFunction appends the function's code to the unit, relocating
// function-relative jump targets and debug offsets.
func (c *Compiler) finishFunction(fs *funcState) {
	base := len(c.unit.Code)
	code := fs.chunk.Code
	for off := 0; off < len(code); off += instructionLen(Opcode(code[off])) {
		switch Opcode(code[off]) {
		case OP_JUMP, OP_JUMP_IF_FALSE, OP_JUMP_IF_TRUE:
			fs.chunk.PatchU32(off+1, fs.chunk.ReadU32(off+1)+base)
		}
	}
	c.unit.Code = append(c.unit.Code, code...)
	for _, d := range fs.chunk.Debug {
		if n := len(c.unit.Debug); n > 0 && c.unit.Debug[n-1].Span == d.Span {
			continue
		}
		c.unit.Debug = append(c.unit.Debug, DebugEntry{Offset: d.Offset + base, Span: d.Span})
	}

	info := &c.unit.Functions[fs.fnIndex]
	info.Entry = base
	info.End = base + len(code)
	info.FrameSize = fs.maxSp
	info.Captures = len(fs.captures)
	info.Async = fs.async
	info.Generator = fs.generator
	for _, sp := range fs.suspendPoints {
		info.SuspendPoints = append(info.SuspendPoints, sp+base)
	}
	for _, l := range fs.debugLocals {
		if l.End < 0 {
			l.End = len(code)
		}
		l.Start += base
		l.End += base
		info.Locals = append(info.Locals, l)
	}
}
