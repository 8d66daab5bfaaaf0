package vm

import (
	"strconv"
	"strings"

	"github.com/funvibe/runevm/internal/ast"
)

// compileExpr emits code leaving exactly one value on the stack.
func (c *Compiler) compileExpr(expr ast.Expr) error {
	switch e := expr.(type) {
	case *ast.Lit:
		return c.compileLit(e)
	case *ast.Ident:
		return c.compileName(e.Name, e.Span)
	case *ast.Path:
		return c.compileName(ast.JoinPath(e.Segments), e.Span)
	case *ast.Binary:
		return c.compileBinary(e)
	case *ast.Unary:
		if err := c.compileExpr(e.X); err != nil {
			return err
		}
		if e.Op == ast.OpNeg {
			c.emit(OP_NEG, e.Span, 0)
		} else {
			c.emit(OP_NOT, e.Span, 0)
		}
		return nil
	case *ast.Assign:
		return c.compileAssign(e)
	case *ast.CompoundAssign:
		return c.compileCompoundAssign(e)
	case *ast.Call:
		return c.compileCall(e)
	case *ast.MethodCall:
		if err := c.compileExpr(e.Recv); err != nil {
			return err
		}
		if err := c.compileArgs(e.Args); err != nil {
			return err
		}
		c.emitArgs(OP_CALL_INSTANCE, c.str(e.Name), len(e.Args), e.Span, -len(e.Args))
		return nil
	case *ast.FieldAccess:
		if err := c.compileExpr(e.X); err != nil {
			return err
		}
		c.emitArg(OP_FIELD_GET, c.str(e.Name), e.Span, 0)
		return nil
	case *ast.TupleField:
		if err := c.compileExpr(e.X); err != nil {
			return err
		}
		c.emitArg(OP_TUPLE_GET, e.Index, e.Span, 0)
		return nil
	case *ast.Index:
		if err := c.compileExpr(e.X); err != nil {
			return err
		}
		if err := c.compileExpr(e.Index); err != nil {
			return err
		}
		c.emit(OP_INDEX_GET, e.Span, -1)
		return nil
	case *ast.VecLit:
		if err := c.compileArgs(e.Elems); err != nil {
			return err
		}
		c.emitArg(OP_VEC, len(e.Elems), e.Span, 1-len(e.Elems))
		return nil
	case *ast.TupleLit:
		if err := c.compileArgs(e.Elems); err != nil {
			return err
		}
		c.emitArg(OP_TUPLE, len(e.Elems), e.Span, 1-len(e.Elems))
		return nil
	case *ast.ObjectLit:
		return c.compileObjectLit(e)
	case *ast.StructLit:
		return c.compileStructLit(e)
	case *ast.Block:
		return c.compileBlock(e)
	case *ast.If:
		return c.compileIf(e)
	case *ast.Match:
		return c.compileMatch(e)
	case *ast.While:
		return c.compileWhile(e)
	case *ast.Loop:
		return c.compileLoop(e)
	case *ast.For:
		return c.compileFor(e)
	case *ast.Break:
		return c.compileBreak(e)
	case *ast.Continue:
		return c.compileContinue(e)
	case *ast.Return:
		return c.compileReturn(e)
	case *ast.Await:
		return c.compileAwait(e)
	case *ast.Select:
		return c.compileSelect(e)
	case *ast.Yield:
		return c.compileYield(e)
	case *ast.Template:
		return c.compileTemplate(e)
	case *ast.Try:
		if err := c.compileExpr(e.X); err != nil {
			return err
		}
		c.emit(OP_TRY, e.Span, 0)
		return nil
	case *ast.Closure:
		return c.compileClosure(e)
	case *ast.Is:
		if err := c.compileExpr(e.X); err != nil {
			return err
		}
		op, arg, err := c.resolveTypeTest(e.Type, e.Span)
		if err != nil {
			return err
		}
		c.emitArg(op, arg, e.Span, 0)
		if e.Not {
			c.emit(OP_NOT, e.Span, 0)
		}
		return nil
	}
	return c.errorf(ErrUnsupported, expr.GetSpan(), "unsupported expression %T", expr)
}

// compileTemplate joins the display forms of the parts into a new String.
func (c *Compiler) compileTemplate(e *ast.Template) error {
	if err := c.compileArgs(e.Parts); err != nil {
		return err
	}
	c.emitArg(OP_STRING_CONCAT, len(e.Parts), e.Span, 1-len(e.Parts))
	return nil
}

func (c *Compiler) compileArgs(args []ast.Expr) error {
	for _, a := range args {
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileLit(l *ast.Lit) error {
	switch l.Kind {
	case ast.LitUnit:
		c.emit(OP_UNIT, l.Span, 1)
	case ast.LitBool:
		if l.Bool {
			c.emit(OP_TRUE, l.Span, 1)
		} else {
			c.emit(OP_FALSE, l.Span, 1)
		}
	case ast.LitInt:
		v := l.Int
		if l.Raw != "" {
			n, err := strconv.ParseInt(strings.ReplaceAll(l.Raw, "_", ""), 0, 64)
			if err != nil {
				return c.errorf(ErrUnsupportedLiteral, l.Span, "integer literal %s does not fit in 64 bits", l.Raw)
			}
			v = n
		}
		c.emitConst(Constant{Kind: ConstInt, Int: v}, l.Span)
	case ast.LitFloat:
		v := l.Float
		if l.Raw != "" {
			f, err := strconv.ParseFloat(strings.ReplaceAll(l.Raw, "_", ""), 64)
			if err != nil {
				return c.errorf(ErrUnsupportedLiteral, l.Span, "invalid float literal %s", l.Raw)
			}
			v = f
		}
		c.emitConst(Constant{Kind: ConstFloat, Float: v}, l.Span)
	case ast.LitChar:
		c.emitConst(Constant{Kind: ConstChar, Int: int64(l.Char)}, l.Span)
	case ast.LitStr:
		c.emitArg(OP_STATIC_STR, c.str(l.Str), l.Span, 1)
	case ast.LitByteStr:
		c.emitConst(Constant{Kind: ConstBytes, Bytes: l.Bytes}, l.Span)
	case ast.LitByte:
		if l.Int < 0 || l.Int > 255 {
			return c.errorf(ErrUnsupportedLiteral, l.Span, "byte literal %d out of range", l.Int)
		}
		c.emitConst(Constant{Kind: ConstByte, Int: l.Int}, l.Span)
	default:
		return c.errorf(ErrUnsupportedLiteral, l.Span, "unknown literal kind %d", l.Kind)
	}
	return nil
}

func (c *Compiler) emitConst(k Constant, span ast.Span) {
	c.emitArg(OP_CONST, c.unit.AddConstant(k), span, 1)
}

// compileName resolves a name used as a value: locals, then captures, then
// unit functions, constructors without payload, and finally natives.
func (c *Compiler) compileName(name string, span ast.Span) error {
	fs := c.fs
	if !strings.Contains(name, "::") {
		if slot := fs.resolveLocal(name); slot >= 0 {
			c.emitCopy(slot, span)
			return nil
		}
		if idx := fs.resolveCapture(name); idx >= 0 {
			c.emitArg(OP_CAPTURE, idx, span, 1)
			return nil
		}
	}
	if idx, ok := c.functions[name]; ok {
		c.emitArg(OP_FN, idx, span, 1)
		return nil
	}
	if v, arity, ok := builtinVariant(strings.Split(name, "::")); ok {
		if v == VariantNone {
			c.emit(OP_NONE, span, 1)
			return nil
		}
		return c.errorf(ErrCompileArity, span, "%s takes %d value(s)", name, arity)
	}
	if ti, ok := c.types[name]; ok {
		if c.unit.Types[ti].Kind != KindUnit {
			return c.errorf(ErrCompileArity, span, "%s must be constructed with its fields", name)
		}
		c.emitArg(OP_TYPED_TUPLE, ti, span, 1)
		return nil
	}
	if path, _, ok := c.resolveNative(name); ok {
		c.emitArg(OP_NATIVE_FN, c.unit.AddNative(path, c.nativeArity(path)), span, 1)
		return nil
	}
	return c.errorf(ErrUnresolvedName, span, "cannot find %s in this scope", name)
}

func (c *Compiler) resolveNative(name string) (string, int, bool) {
	if c.resolver == nil {
		return "", 0, false
	}
	path, ok := preludePath(name)
	if !ok {
		return "", 0, false
	}
	arity, ok := c.resolver.NativeArity(path)
	return path, arity, ok
}

func (c *Compiler) nativeArity(path string) int {
	arity, _ := c.resolver.NativeArity(path)
	return arity
}

func (c *Compiler) compileBinary(e *ast.Binary) error {
	if e.Op == ast.OpAnd || e.Op == ast.OpOr {
		return c.compileLogical(e)
	}
	if err := c.compileExpr(e.L); err != nil {
		return err
	}
	if err := c.compileExpr(e.R); err != nil {
		return err
	}
	op, ok := binaryOpcode(e.Op)
	if !ok {
		return c.errorf(ErrUnsupported, e.Span, "unsupported operator %s", e.Op)
	}
	c.emit(op, e.Span, -1)
	return nil
}

// compileLogical short-circuits: the right operand only runs when the left
// does not decide the result. Both operands go through a conditional jump,
// so a non-bool on either side panics TypeMismatch.
func (c *Compiler) compileLogical(e *ast.Binary) error {
	fs := c.fs
	before := fs.sp
	if err := c.compileExpr(e.L); err != nil {
		return err
	}
	short, decides, otherwise := OP_JUMP_IF_FALSE, OP_FALSE, OP_TRUE
	if e.Op == ast.OpOr {
		short, decides, otherwise = OP_JUMP_IF_TRUE, OP_TRUE, OP_FALSE
	}
	left := c.emitJump(short, e.Span)
	if err := c.compileExpr(e.R); err != nil {
		return err
	}
	right := c.emitJump(short, e.Span)
	c.emit(otherwise, e.Span, 1)
	end := c.emitJump(OP_JUMP, e.Span)
	fs.sp = before
	c.patchJump(left)
	c.patchJump(right)
	c.emit(decides, e.Span, 1)
	c.patchJump(end)
	return nil
}

func binaryOpcode(op ast.BinOp) (Opcode, bool) {
	switch op {
	case ast.OpAdd:
		return OP_ADD, true
	case ast.OpSub:
		return OP_SUB, true
	case ast.OpMul:
		return OP_MUL, true
	case ast.OpDiv:
		return OP_DIV, true
	case ast.OpRem:
		return OP_REM, true
	case ast.OpBitAnd:
		return OP_BAND, true
	case ast.OpBitOr:
		return OP_BOR, true
	case ast.OpBitXor:
		return OP_BXOR, true
	case ast.OpShl:
		return OP_SHL, true
	case ast.OpShr:
		return OP_SHR, true
	case ast.OpEq:
		return OP_EQ, true
	case ast.OpNe:
		return OP_NE, true
	case ast.OpLt:
		return OP_LT, true
	case ast.OpLe:
		return OP_LE, true
	case ast.OpGt:
		return OP_GT, true
	case ast.OpGe:
		return OP_GE, true
	}
	return 0, false
}

func (c *Compiler) compileIf(e *ast.If) error {
	fs := c.fs
	before := fs.sp
	if err := c.compileExpr(e.Cond); err != nil {
		return err
	}
	elseJump := c.emitJump(OP_JUMP_IF_FALSE, e.Span)
	if err := c.compileBlock(e.Then); err != nil {
		return err
	}
	end := c.emitJump(OP_JUMP, e.Span)
	fs.sp = before
	c.patchJump(elseJump)
	if e.Else != nil {
		if err := c.compileExpr(e.Else); err != nil {
			return err
		}
	} else {
		c.emit(OP_UNIT, e.Span, 1)
	}
	c.patchJump(end)
	return nil
}

// Assignment evaluates to unit.
func (c *Compiler) compileAssign(e *ast.Assign) error {
	switch t := e.Target.(type) {
	case *ast.Ident:
		slot, err := c.assignableLocal(t)
		if err != nil {
			return err
		}
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emitArg(OP_REPLACE, slot, e.Span, -1)

	case *ast.FieldAccess:
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emitArg(OP_FIELD_SET, c.str(t.Name), e.Span, -2)

	case *ast.TupleField:
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emitArg(OP_TUPLE_SET, t.Index, e.Span, -2)

	case *ast.Index:
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		if err := c.compileExpr(t.Index); err != nil {
			return err
		}
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(OP_INDEX_SET, e.Span, -3)

	default:
		return c.errorf(ErrInvalidContext, e.Span, "invalid assignment target %T", e.Target)
	}
	c.emit(OP_UNIT, e.Span, 1)
	return nil
}

func (c *Compiler) assignableLocal(id *ast.Ident) (int, error) {
	if slot := c.fs.resolveLocal(id.Name); slot >= 0 {
		return slot, nil
	}
	if c.fs.resolveCapture(id.Name) >= 0 {
		return 0, c.errorf(ErrInvalidContext, id.Span, "cannot assign to captured variable %s", id.Name)
	}
	return 0, c.errorf(ErrUnresolvedName, id.Span, "cannot find %s in this scope", id.Name)
}

// Compound assignment reuses the binary opcodes, so `x += 1` and
// `x = x + 1` fail the same way.
func (c *Compiler) compileCompoundAssign(e *ast.CompoundAssign) error {
	op, ok := binaryOpcode(e.Op)
	if !ok || e.Op >= ast.OpEq {
		return c.errorf(ErrUnsupported, e.Span, "unsupported compound operator %s=", e.Op)
	}
	switch t := e.Target.(type) {
	case *ast.Ident:
		slot, err := c.assignableLocal(t)
		if err != nil {
			return err
		}
		c.emitCopy(slot, e.Span)
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(op, e.Span, -1)
		c.emitArg(OP_REPLACE, slot, e.Span, -1)

	case *ast.FieldAccess:
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		name := c.str(t.Name)
		c.emit(OP_DUP, e.Span, 1)
		c.emitArg(OP_FIELD_GET, name, e.Span, 0)
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(op, e.Span, -1)
		c.emitArg(OP_FIELD_SET, name, e.Span, -2)

	case *ast.TupleField:
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		c.emit(OP_DUP, e.Span, 1)
		c.emitArg(OP_TUPLE_GET, t.Index, e.Span, 0)
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(op, e.Span, -1)
		c.emitArg(OP_TUPLE_SET, t.Index, e.Span, -2)

	case *ast.Index:
		c.beginScope()
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		target := c.addTemp()
		if err := c.compileExpr(t.Index); err != nil {
			return err
		}
		index := c.addTemp()
		c.emitCopy(target, e.Span)
		c.emitCopy(index, e.Span)
		c.emitCopy(target, e.Span)
		c.emitCopy(index, e.Span)
		c.emit(OP_INDEX_GET, e.Span, -1)
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(op, e.Span, -1)
		c.emit(OP_INDEX_SET, e.Span, -3)
		c.emit(OP_UNIT, e.Span, 1)
		c.endScope(e.Span, true)
		return nil

	default:
		return c.errorf(ErrInvalidContext, e.Span, "invalid assignment target %T", e.Target)
	}
	c.emit(OP_UNIT, e.Span, 1)
	return nil
}

func (c *Compiler) compileCall(e *ast.Call) error {
	var name string
	switch callee := e.Callee.(type) {
	case *ast.Ident:
		if c.fs.resolveLocal(callee.Name) >= 0 || c.fs.resolveCapture(callee.Name) >= 0 {
			return c.compileCallValue(e)
		}
		name = callee.Name
	case *ast.Path:
		name = ast.JoinPath(callee.Segments)
	default:
		return c.compileCallValue(e)
	}
	argc := len(e.Args)

	if v, arity, ok := builtinVariant(strings.Split(name, "::")); ok {
		if argc != arity {
			return c.errorf(ErrCompileArity, e.Span, "%s takes %d value(s), got %d", name, arity, argc)
		}
		if err := c.compileArgs(e.Args); err != nil {
			return err
		}
		switch v {
		case VariantSome:
			c.emit(OP_SOME, e.Span, 0)
		case VariantOk:
			c.emit(OP_OK, e.Span, 0)
		case VariantErr:
			c.emit(OP_ERR, e.Span, 0)
		case VariantYielded:
			c.emit(OP_YIELDED, e.Span, 0)
		case VariantComplete:
			c.emit(OP_COMPLETE, e.Span, 0)
		default:
			c.emit(OP_NONE, e.Span, 1)
		}
		return nil
	}

	if idx, ok := c.functions[name]; ok {
		if want := c.unit.Functions[idx].Arity; want != argc {
			return c.errorf(ErrCompileArity, e.Span, "%s takes %d argument(s), got %d", name, want, argc)
		}
		if err := c.compileArgs(e.Args); err != nil {
			return err
		}
		c.emitArgs(OP_CALL, idx, argc, e.Span, 1-argc)
		return nil
	}

	if ti, ok := c.types[name]; ok {
		t := &c.unit.Types[ti]
		switch {
		case t.Kind == KindNamed:
			return c.errorf(ErrCompileArity, e.Span, "%s has named fields; use %s { ... }", name, name)
		case t.Kind == KindUnit && argc > 0, t.Kind == KindTuple && argc != t.Arity:
			return c.errorf(ErrCompileArity, e.Span, "%s takes %d value(s), got %d", name, t.Arity, argc)
		}
		if err := c.compileArgs(e.Args); err != nil {
			return err
		}
		c.emitArg(OP_TYPED_TUPLE, ti, e.Span, 1-argc)
		return nil
	}

	if path, arity, ok := c.resolveNative(name); ok {
		if arity != Variadic && arity != argc {
			return c.errorf(ErrCompileArity, e.Span, "%s takes %d argument(s), got %d", path, arity, argc)
		}
		if err := c.compileArgs(e.Args); err != nil {
			return err
		}
		c.emitArgs(OP_CALL_NATIVE, c.unit.AddNative(path, arity), argc, e.Span, 1-argc)
		return nil
	}
	return c.errorf(ErrUnresolvedName, e.Callee.GetSpan(), "cannot find function %s in this scope", name)
}

// compileCallValue calls whatever the callee expression evaluates to.
func (c *Compiler) compileCallValue(e *ast.Call) error {
	if err := c.compileExpr(e.Callee); err != nil {
		return err
	}
	if err := c.compileArgs(e.Args); err != nil {
		return err
	}
	c.emitArg(OP_CALL_FN, len(e.Args), e.Span, -len(e.Args))
	return nil
}

func (c *Compiler) compileObjectLit(e *ast.ObjectLit) error {
	keys := make([]string, 0, len(e.Fields))
	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if seen[f.Name] {
			return c.errorf(ErrDuplicateBinding, f.Span, "key %s appears twice in object literal", f.Name)
		}
		seen[f.Name] = true
		keys = append(keys, f.Name)
		if err := c.compileExpr(f.Value); err != nil {
			return err
		}
	}
	c.emitArg(OP_OBJECT, c.unit.AddKeys(keys), e.Span, 1-len(keys))
	return nil
}

// Struct literal fields are evaluated in declaration order, which is the
// order OP_TYPED_OBJECT pops them in.
func (c *Compiler) compileStructLit(e *ast.StructLit) error {
	name := ast.JoinPath(e.Path)
	ti, ok := c.types[name]
	if !ok {
		return c.errorf(ErrUnknownType, e.Span, "unknown type %s", name)
	}
	t := &c.unit.Types[ti]
	if t.Kind != KindNamed {
		return c.errorf(ErrCompileArity, e.Span, "%s has no named fields", name)
	}
	given := make(map[string]*ast.FieldInit, len(e.Fields))
	for _, f := range e.Fields {
		if _, dup := given[f.Name]; dup {
			return c.errorf(ErrDuplicateBinding, f.Span, "field %s is set twice", f.Name)
		}
		if !t.hasField(f.Name) {
			return c.errorf(ErrUnresolvedName, f.Span, "%s has no field %s", name, f.Name)
		}
		given[f.Name] = f
	}
	for _, field := range t.Fields {
		f, ok := given[field]
		if !ok {
			return c.errorf(ErrCompileArity, e.Span, "missing field %s in %s", field, name)
		}
		if err := c.compileExpr(f.Value); err != nil {
			return err
		}
	}
	c.emitArg(OP_TYPED_OBJECT, ti, e.Span, 1-len(t.Fields))
	return nil
}

// compileClosure compiles the body as a separate function, then pushes the
// captured values and wraps them with the function.
func (c *Compiler) compileClosure(e *ast.Closure) error {
	outer := c.fs
	name := c.unit.Functions[outer.fnIndex].Name + "::<closure>"
	idx := c.newFunction(name, len(e.Params), e.Async, e.Span)

	fs := &funcState{enclosing: outer, fnIndex: idx, async: e.Async}
	c.fs = fs
	if err := c.declareParams(e.Params); err != nil {
		return err
	}
	if err := c.compileExpr(e.Body); err != nil {
		return err
	}
	c.emit(OP_RETURN, e.Span, -1)
	c.finishFunction(fs)
	c.fs = outer

	for _, cp := range fs.captures {
		if cp.fromLocal {
			c.emitCopy(cp.index, e.Span)
		} else {
			c.emitArg(OP_CAPTURE, cp.index, e.Span, 1)
		}
	}
	if n := len(fs.captures); n > 0 {
		c.emitArgs(OP_CLOSURE, idx, n, e.Span, 1-n)
	} else {
		c.emitArg(OP_FN, idx, e.Span, 1)
	}
	return nil
}
