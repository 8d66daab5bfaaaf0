package vm

import "github.com/funvibe/runevm/internal/ast"

func (c *Compiler) compileAwait(e *ast.Await) error {
	if !c.fs.async {
		return c.errorf(ErrInvalidContext, e.Span, ".await is only allowed inside async functions and closures")
	}
	if err := c.compileExpr(e.X); err != nil {
		return err
	}
	c.emit(OP_AWAIT, e.Span, 0)
	c.markSuspend(e.Span)
	return nil
}

// compileYield makes the enclosing function a generator. YIELD pops the
// value handed to the consumer; the value sent on resume takes its place.
func (c *Compiler) compileYield(e *ast.Yield) error {
	c.fs.generator = true
	if e.Value != nil {
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
	} else {
		c.emit(OP_UNIT, e.Span, 1)
	}
	c.emit(OP_YIELD, e.Span, 0)
	c.markSuspend(e.Span)
	return nil
}

// compileSelect lowers
//
//	select { p0 = f0 => b0, p1 = f1 => b1, default => d }
//
// to
//
//	f0; f1; SELECT 2 1; RESUME        -> value, branch
//	branch == 0 ? bind p0 value; b0 : ...
//	branch == 2 (default)  d
//	CLEAN 2
func (c *Compiler) compileSelect(e *ast.Select) error {
	fs := c.fs
	if !fs.async {
		return c.errorf(ErrInvalidContext, e.Span, "select is only allowed inside async functions and closures")
	}
	if len(e.Arms) == 0 {
		return c.errorf(ErrInvalidContext, e.Span, "select needs at least one future")
	}

	c.beginScope()
	for _, arm := range e.Arms {
		if err := c.compileExpr(arm.Future); err != nil {
			return err
		}
	}
	n := len(e.Arms)
	fs.chunk.WriteOp(OP_SELECT, e.Span)
	fs.chunk.WriteU16(n)
	fs.chunk.Write(boolByte(e.Default != nil))
	fs.adjust(2 - n)
	c.markSuspend(e.Span)

	value := fs.sp - 2
	fs.locals = append(fs.locals, Local{Depth: fs.scopeDepth, Slot: value, debug: -1})
	branch := c.addTemp()
	armSp := fs.sp

	var ends []int
	for i, arm := range e.Arms {
		c.emitCopy(branch, arm.Span)
		c.emitConst(Constant{Kind: ConstInt, Int: int64(i)}, arm.Span)
		c.emit(OP_EQ, arm.Span, -1)
		next := c.emitJump(OP_JUMP_IF_FALSE, arm.Span)

		c.beginScope()
		c.emitCopy(value, arm.Span)
		if err := c.bindIrrefutable(arm.Pattern, arm.Pattern.GetSpan()); err != nil {
			return err
		}
		if err := c.compileExpr(arm.Body); err != nil {
			return err
		}
		c.endScope(arm.Span, true)
		ends = append(ends, c.emitJump(OP_JUMP, arm.Span))

		fs.sp = armSp
		c.patchJump(next)
	}

	if e.Default != nil {
		if err := c.compileExpr(e.Default); err != nil {
			return err
		}
	} else {
		c.emitPanic(ReasonUnreachable, e.Span)
		fs.adjust(1)
	}
	for _, j := range ends {
		c.patchJump(j)
	}
	c.endScope(e.Span, true)
	return nil
}
