package vm

import "github.com/funvibe/runevm/internal/ast"

// pathStep is one projection from a value to a part of it.
type pathStep struct {
	op  Opcode // OP_TUPLE_GET or OP_FIELD_GET
	arg int
}

// accessPath locates a sub-value of the scrutinee held in slot.
type accessPath struct {
	slot  int
	steps []pathStep
}

func (p accessPath) with(op Opcode, arg int) accessPath {
	steps := make([]pathStep, len(p.steps), len(p.steps)+1)
	copy(steps, p.steps)
	return accessPath{slot: p.slot, steps: append(steps, pathStep{op: op, arg: arg})}
}

type binding struct {
	name string
	path accessPath
	span ast.Span
}

// patternMatch collects the failure jumps and bindings of one pattern.
// Tests are emitted first; bindings only after every test passed.
type patternMatch struct {
	fails    []int
	bindings []binding
	names    map[string]bool
}

func newPatternMatch() *patternMatch {
	return &patternMatch{names: make(map[string]bool)}
}

func (c *Compiler) loadPath(p accessPath, span ast.Span) {
	c.emitCopy(p.slot, span)
	for _, s := range p.steps {
		c.emitArg(s.op, s.arg, span, 0)
	}
}

// failUnless consumes the bool on top of the stack and records a jump to
// the pattern's failure label.
func (c *Compiler) failUnless(m *patternMatch, span ast.Span) {
	m.fails = append(m.fails, c.emitJump(OP_JUMP_IF_FALSE, span))
}

func (c *Compiler) bind(m *patternMatch, name string, path accessPath, span ast.Span) error {
	if name == "_" {
		return nil
	}
	if m.names[name] {
		return c.errorf(ErrDuplicateBinding, span, "%s is bound more than once in the same pattern", name)
	}
	m.names[name] = true
	m.bindings = append(m.bindings, binding{name: name, path: path, span: span})
	return nil
}

func (c *Compiler) emitBindings(m *patternMatch, span ast.Span) {
	for _, b := range m.bindings {
		c.loadPath(b.path, b.span)
		c.addLocal(b.name)
	}
}

func (c *Compiler) compilePatternTests(p ast.Pattern, path accessPath, m *patternMatch) error {
	span := p.GetSpan()
	switch pat := p.(type) {
	case *ast.PatWild:
		return nil

	case *ast.PatBind:
		return c.bind(m, pat.Name, path, span)

	case *ast.PatLit:
		c.loadPath(path, span)
		if err := c.compileLit(pat.Lit); err != nil {
			return err
		}
		c.emit(OP_EQ, span, -1)
		c.failUnless(m, span)
		return nil

	case *ast.PatVec:
		return c.compileSeqPattern(SeqVec, pat.Elems, pat.Rest, path, m, span)

	case *ast.PatTuple:
		return c.compileSeqPattern(SeqTuple, pat.Elems, pat.Rest, path, m, span)

	case *ast.PatObject:
		return c.compileObjectPattern(pat, path, m)

	case *ast.PatCtor:
		return c.compileCtorPattern(pat, path, m)

	case *ast.PatType:
		op, arg, err := c.resolveTypeTest(pat.Type, span)
		if err != nil {
			return err
		}
		c.loadPath(path, span)
		c.emitArg(op, arg, span, 0)
		c.failUnless(m, span)
		if pat.Bind != "" {
			return c.bind(m, pat.Bind, path, span)
		}
		return nil
	}
	return c.errorf(ErrUnsupported, span, "unsupported pattern %T", p)
}

// compileSeqPattern emits a length test (exact, or at least len(elems) when
// the pattern ends in a rest marker) followed by the element tests.
func (c *Compiler) compileSeqPattern(kind byte, elems []ast.Pattern, rest bool, path accessPath, m *patternMatch, span ast.Span) error {
	c.loadPath(path, span)
	c.fs.chunk.WriteOp(OP_MATCH_SEQ, span)
	c.fs.chunk.Write(kind)
	c.fs.chunk.WriteU16(len(elems))
	c.fs.chunk.Write(boolByte(!rest))
	c.failUnless(m, span)
	for i, el := range elems {
		if err := c.compilePatternTests(el, path.with(OP_TUPLE_GET, i), m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileObjectPattern(pat *ast.PatObject, path accessPath, m *patternMatch) error {
	span := pat.Span
	keys := make([]string, 0, len(pat.Fields))
	seen := make(map[string]bool, len(pat.Fields))
	for _, f := range pat.Fields {
		if seen[f.Name] {
			return c.errorf(ErrDuplicateBinding, f.Span, "field %s appears twice in pattern", f.Name)
		}
		seen[f.Name] = true
		keys = append(keys, f.Name)
	}

	if pat.Path == nil {
		c.loadPath(path, span)
		c.fs.chunk.WriteOp(OP_MATCH_OBJECT, span)
		c.fs.chunk.WriteU16(c.unit.AddKeys(keys))
		c.fs.chunk.Write(boolByte(!pat.Rest))
		c.failUnless(m, span)
	} else {
		name := ast.JoinPath(pat.Path)
		ti, ok := c.types[name]
		if !ok {
			return c.errorf(ErrUnknownType, span, "unknown type %s in pattern", name)
		}
		t := &c.unit.Types[ti]
		if t.Kind != KindNamed {
			return c.errorf(ErrPatternArity, span, "%s has no named fields", name)
		}
		for _, k := range keys {
			if !t.hasField(k) {
				return c.errorf(ErrUnresolvedName, span, "%s has no field %s", name, k)
			}
		}
		if !pat.Rest && len(keys) != len(t.Fields) {
			return c.errorf(ErrPatternArity, span, "pattern for %s names %d of %d fields; add .. to ignore the rest", name, len(keys), len(t.Fields))
		}
		c.loadPath(path, span)
		c.emitArg(OP_MATCH_TYPE, ti, span, 0)
		c.failUnless(m, span)
	}

	for _, f := range pat.Fields {
		sub := path.with(OP_FIELD_GET, c.str(f.Name))
		if f.Pattern == nil {
			if err := c.bind(m, f.Name, sub, f.Span); err != nil {
				return err
			}
			continue
		}
		if err := c.compilePatternTests(f.Pattern, sub, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileCtorPattern(pat *ast.PatCtor, path accessPath, m *patternMatch) error {
	span := pat.Span
	if variant, arity, ok := builtinVariant(pat.Path); ok {
		if len(pat.Elems) != arity {
			return c.errorf(ErrPatternArity, span, "%s takes %d value(s) in a pattern, got %d", ast.JoinPath(pat.Path), arity, len(pat.Elems))
		}
		c.loadPath(path, span)
		c.fs.chunk.WriteOp(OP_MATCH_BUILTIN, span)
		c.fs.chunk.Write(variant)
		c.failUnless(m, span)
		if arity == 1 {
			return c.compilePatternTests(pat.Elems[0], path.with(OP_TUPLE_GET, 0), m)
		}
		return nil
	}

	name := ast.JoinPath(pat.Path)
	ti, ok := c.types[name]
	if !ok {
		return c.errorf(ErrUnknownType, span, "unknown type %s in pattern", name)
	}
	t := &c.unit.Types[ti]
	switch t.Kind {
	case KindUnit:
		if len(pat.Elems) != 0 {
			return c.errorf(ErrPatternArity, span, "%s takes no values", name)
		}
	case KindTuple:
		if len(pat.Elems) > t.Arity || (!pat.Rest && len(pat.Elems) != t.Arity) {
			return c.errorf(ErrPatternArity, span, "%s has %d element(s), pattern has %d", name, t.Arity, len(pat.Elems))
		}
	default:
		return c.errorf(ErrPatternArity, span, "%s has named fields; use a { } pattern", name)
	}
	c.loadPath(path, span)
	c.emitArg(OP_MATCH_TYPE, ti, span, 0)
	c.failUnless(m, span)
	for i, el := range pat.Elems {
		if err := c.compilePatternTests(el, path.with(OP_TUPLE_GET, i), m); err != nil {
			return err
		}
	}
	return nil
}

// builtinVariant recognizes Some/None/Ok/Err and Yielded/Complete,
// optionally qualified.
func builtinVariant(path []string) (variant byte, arity int, ok bool) {
	name := ast.JoinPath(path)
	switch name {
	case "Some", "Option::Some":
		return VariantSome, 1, true
	case "None", "Option::None":
		return VariantNone, 0, true
	case "Ok", "Result::Ok":
		return VariantOk, 1, true
	case "Err", "Result::Err":
		return VariantErr, 1, true
	case "Yielded", "GeneratorState::Yielded":
		return VariantYielded, 1, true
	case "Complete", "GeneratorState::Complete":
		return VariantComplete, 1, true
	}
	return 0, 0, false
}

var builtinTypeNames = map[string]bool{
	"unit": true, "bool": true, "int": true, "float": true, "char": true,
	"String": true, "Bytes": true, "Vec": true, "Object": true, "Tuple": true,
	"Function": true, "Future": true, "Option": true, "Result": true,
	"Generator": true, "Stream": true, "GeneratorState": true,
}

func isBuiltinTypeName(name string) bool {
	return builtinTypeNames[name]
}

// resolveTypeTest picks the instruction for `is T`: a type-name test for
// built-in types, structs and whole enums, an exact test for one variant.
func (c *Compiler) resolveTypeTest(segs []string, span ast.Span) (Opcode, int, error) {
	name := ast.JoinPath(segs)
	if isBuiltinTypeName(name) || c.enums[name] {
		return OP_IS_TYPE, c.str(name), nil
	}
	if ti, ok := c.types[name]; ok {
		if c.unit.Types[ti].Enum != "" {
			return OP_MATCH_TYPE, ti, nil
		}
		return OP_IS_TYPE, c.str(name), nil
	}
	return 0, 0, c.errorf(ErrUnknownType, span, "unknown type %s", name)
}

func (c *Compiler) compileMatch(e *ast.Match) error {
	fs := c.fs
	c.beginScope()
	if err := c.compileExpr(e.X); err != nil {
		return err
	}
	slot := c.addTemp()
	armSp := fs.sp

	var ends []int
	for _, arm := range e.Arms {
		c.beginScope()
		m := newPatternMatch()
		if err := c.compilePatternTests(arm.Pattern, accessPath{slot: slot}, m); err != nil {
			return err
		}
		c.emitBindings(m, arm.Span)
		nb := len(m.bindings)

		guardFail := -1
		if arm.Guard != nil {
			if err := c.compileExpr(arm.Guard); err != nil {
				return err
			}
			guardFail = c.emitJump(OP_JUMP_IF_FALSE, arm.Guard.GetSpan())
		}
		if err := c.compileExpr(arm.Body); err != nil {
			return err
		}
		c.endScope(arm.Span, true)
		ends = append(ends, c.emitJump(OP_JUMP, arm.Span))

		if guardFail >= 0 {
			fs.sp = armSp + nb
			c.patchJump(guardFail)
			c.emitPopN(nb, arm.Span)
		}
		fs.sp = armSp
		for _, f := range m.fails {
			c.patchJump(f)
		}
	}
	c.emitPanic(ReasonUnmatchedPattern, e.Span)
	fs.adjust(1)
	for _, j := range ends {
		c.patchJump(j)
	}
	c.endScope(e.Span, true)
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
