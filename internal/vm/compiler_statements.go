package vm

import "github.com/funvibe/runevm/internal/ast"

// compileBlock pushes the block's value: its tail, or unit.
func (c *Compiler) compileBlock(b *ast.Block) error {
	c.beginScope()
	for _, st := range b.Stmts {
		if err := c.compileStmt(st); err != nil {
			return err
		}
	}
	if b.Tail != nil {
		if err := c.compileExpr(b.Tail); err != nil {
			return err
		}
	} else {
		c.emit(OP_UNIT, b.Span, 1)
	}
	c.endScope(b.Span, true)
	return nil
}

func (c *Compiler) compileStmt(st ast.Stmt) error {
	switch s := st.(type) {
	case *ast.LetStmt:
		return c.compileLet(s)
	case *ast.ExprStmt:
		if err := c.compileExpr(s.X); err != nil {
			return err
		}
		c.emit(OP_POP, s.Span, -1)
		return nil
	case *ast.ItemStmt:
		// Hoisted during declaration.
		return nil
	}
	return c.errorf(ErrUnsupported, st.GetSpan(), "unsupported statement %T", st)
}

// compileLet binds a pattern for the rest of the enclosing block. A
// refutable pattern that does not match panics with MatchError.
func (c *Compiler) compileLet(s *ast.LetStmt) error {
	if err := c.compileExpr(s.Value); err != nil {
		return err
	}
	return c.bindIrrefutable(s.Pattern, s.Span)
}

// bindIrrefutable consumes the value on top of the stack, binding the
// pattern into the current scope or panicking when it does not match.
func (c *Compiler) bindIrrefutable(p ast.Pattern, span ast.Span) error {
	switch pat := p.(type) {
	case *ast.PatBind:
		c.addLocal(pat.Name)
		return nil
	case *ast.PatWild:
		c.emit(OP_POP, span, -1)
		return nil
	}

	slot := c.addTemp()
	m := newPatternMatch()
	if err := c.compilePatternTests(p, accessPath{slot: slot}, m); err != nil {
		return err
	}
	if len(m.fails) > 0 {
		ok := c.emitJump(OP_JUMP, span)
		for _, f := range m.fails {
			c.patchJump(f)
		}
		c.emitPanic(ReasonUnmatchedPattern, span)
		c.patchJump(ok)
	}
	c.emitBindings(m, span)
	return nil
}

func (c *Compiler) emitPanic(reason byte, span ast.Span) {
	c.fs.chunk.WriteOp(OP_PANIC, span)
	c.fs.chunk.Write(reason)
}

// While is: start: cond; JUMP_IF_FALSE exit; body; POP; JUMP start; exit: UNIT
func (c *Compiler) compileWhile(e *ast.While) error {
	fs := c.fs
	start := c.here()
	fs.loops = append(fs.loops, LoopContext{sp: fs.sp, continueTarget: start})

	if err := c.compileExpr(e.Cond); err != nil {
		return err
	}
	exit := c.emitJump(OP_JUMP_IF_FALSE, e.Span)
	if err := c.compileBlock(e.Body); err != nil {
		return err
	}
	c.emit(OP_POP, e.Span, -1)
	c.emitLoop(start, e.Span)
	c.patchJump(exit)
	c.emit(OP_UNIT, e.Span, 1)
	c.closeLoop()
	return nil
}

// Loop is: start: body; POP; JUMP start. Only break leaves it.
func (c *Compiler) compileLoop(e *ast.Loop) error {
	fs := c.fs
	start := c.here()
	fs.loops = append(fs.loops, LoopContext{sp: fs.sp, continueTarget: start, allowValue: true})

	if err := c.compileBlock(e.Body); err != nil {
		return err
	}
	c.emit(OP_POP, e.Span, -1)
	c.emitLoop(start, e.Span)
	// The only way out is a break, which leaves its value.
	c.fs.adjust(1)
	c.closeLoop()
	return nil
}

// For iterates Vec, Tuple and Bytes by index:
//
//	iter; 0
//	start: i < len(iter) or exit
//	       bind iter[i]; body; POP
//	next:  i += 1; JUMP start
//	exit:  UNIT
//	end:   CLEAN 2
func (c *Compiler) compileFor(e *ast.For) error {
	fs := c.fs
	c.beginScope()
	if err := c.compileExpr(e.Iter); err != nil {
		return err
	}
	iter := c.addTemp()
	c.emitArg(OP_CONST, c.unit.AddConstant(Constant{Kind: ConstInt, Int: 0}), e.Span, 1)
	idx := c.addTemp()

	start := c.here()
	fs.loops = append(fs.loops, LoopContext{sp: fs.sp, continueTarget: -1})

	c.emitCopy(idx, e.Span)
	c.emitCopy(iter, e.Span)
	c.emit(OP_LEN, e.Span, 0)
	c.emit(OP_LT, e.Span, -1)
	exit := c.emitJump(OP_JUMP_IF_FALSE, e.Span)

	c.beginScope()
	c.emitCopy(iter, e.Binding.GetSpan())
	c.emitCopy(idx, e.Binding.GetSpan())
	c.emit(OP_INDEX_GET, e.Binding.GetSpan(), -1)
	if err := c.bindIrrefutable(e.Binding, e.Binding.GetSpan()); err != nil {
		return err
	}
	if err := c.compileBlock(e.Body); err != nil {
		return err
	}
	c.emit(OP_POP, e.Span, -1)
	c.endScope(e.Span, false)

	loop := &fs.loops[len(fs.loops)-1]
	loop.continueTarget = c.here()
	for _, j := range loop.continueJumps {
		c.patchJump(j)
	}
	c.emitCopy(idx, e.Span)
	c.emitArg(OP_CONST, c.unit.AddConstant(Constant{Kind: ConstInt, Int: 1}), e.Span, 1)
	c.emit(OP_ADD, e.Span, -1)
	c.emitArg(OP_REPLACE, idx, e.Span, -1)
	c.emitLoop(start, e.Span)

	c.patchJump(exit)
	c.emit(OP_UNIT, e.Span, 1)
	c.closeLoop()
	c.endScope(e.Span, true)
	return nil
}

// closeLoop patches the loop's breaks to land here, with the loop's value on
// top of the stack.
func (c *Compiler) closeLoop() {
	fs := c.fs
	loop := fs.loops[len(fs.loops)-1]
	fs.loops = fs.loops[:len(fs.loops)-1]
	for _, j := range loop.breakJumps {
		c.patchJump(j)
	}
}

func (c *Compiler) compileBreak(e *ast.Break) error {
	fs := c.fs
	if len(fs.loops) == 0 {
		return c.errorf(ErrInvalidContext, e.Span, "break outside of a loop")
	}
	loop := &fs.loops[len(fs.loops)-1]
	if e.Value != nil && !loop.allowValue {
		return c.errorf(ErrInvalidContext, e.Span, "break with a value is only allowed in loop")
	}
	before := fs.sp
	if e.Value != nil {
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
	} else {
		c.emit(OP_UNIT, e.Span, 1)
	}
	if n := fs.sp - 1 - loop.sp; n > 0 {
		c.emitArg(OP_CLEAN, n, e.Span, -n)
	}
	loop.breakJumps = append(loop.breakJumps, c.emitJump(OP_JUMP, e.Span))
	// Code after break is unreachable; keep the static height as if the
	// expression produced a value.
	fs.sp = before + 1
	return nil
}

func (c *Compiler) compileContinue(e *ast.Continue) error {
	fs := c.fs
	if len(fs.loops) == 0 {
		return c.errorf(ErrInvalidContext, e.Span, "continue outside of a loop")
	}
	loop := &fs.loops[len(fs.loops)-1]
	before := fs.sp
	c.emitPopN(fs.sp-loop.sp, e.Span)
	if loop.continueTarget >= 0 {
		c.emitLoop(loop.continueTarget, e.Span)
	} else {
		loop.continueJumps = append(loop.continueJumps, c.emitJump(OP_JUMP, e.Span))
	}
	fs.sp = before
	fs.adjust(1)
	return nil
}

func (c *Compiler) compileReturn(e *ast.Return) error {
	if e.Value != nil {
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
	} else {
		c.emit(OP_UNIT, e.Span, 1)
	}
	c.emit(OP_RETURN, e.Span, 0)
	return nil
}
