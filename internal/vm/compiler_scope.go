package vm

import "github.com/funvibe/runevm/internal/ast"

func (fs *funcState) adjust(delta int) {
	fs.sp += delta
	if fs.sp > fs.maxSp {
		fs.maxSp = fs.sp
	}
}

// beginScope starts a new scope
func (c *Compiler) beginScope() {
	c.fs.scopeDepth++
}

// endScope ends the current scope. The block's result sits on top of the
// scope's locals; CLEAN drops the locals and keeps the result.
func (c *Compiler) endScope(span ast.Span, keepTop bool) {
	fs := c.fs
	fs.scopeDepth--
	n := 0
	for len(fs.locals) > 0 && fs.locals[len(fs.locals)-1].Depth > fs.scopeDepth {
		c.retireLocal(fs.locals[len(fs.locals)-1])
		fs.locals = fs.locals[:len(fs.locals)-1]
		n++
	}
	if n == 0 {
		return
	}
	if keepTop {
		c.emitArg(OP_CLEAN, n, span, -n)
	} else {
		c.emitPopN(n, span)
	}
}

// dropScope forgets the scope's locals without emitting code, for callers
// that have already cleaned the stack themselves.
func (c *Compiler) dropScope() {
	fs := c.fs
	fs.scopeDepth--
	for len(fs.locals) > 0 && fs.locals[len(fs.locals)-1].Depth > fs.scopeDepth {
		c.retireLocal(fs.locals[len(fs.locals)-1])
		fs.locals = fs.locals[:len(fs.locals)-1]
	}
}

func (c *Compiler) retireLocal(l Local) {
	if l.debug >= 0 {
		c.fs.debugLocals[l.debug].End = c.fs.chunk.Len()
	}
}

// addLocal names the value on top of the stack.
func (c *Compiler) addLocal(name string) int {
	fs := c.fs
	slot := fs.sp - 1
	l := Local{Name: name, Depth: fs.scopeDepth, Slot: slot, debug: -1}
	if name != "" && name != "_" {
		fs.debugLocals = append(fs.debugLocals, LocalInfo{Name: name, Slot: slot, Start: fs.chunk.Len(), End: -1})
		l.debug = len(fs.debugLocals) - 1
	}
	fs.locals = append(fs.locals, l)
	return slot
}

// addTemp reserves the value on top of the stack as an anonymous local.
func (c *Compiler) addTemp() int {
	return c.addLocal("")
}

// resolveLocal looks up a local variable by name
func (fs *funcState) resolveLocal(name string) int {
	if name == "" || name == "_" {
		return -1
	}
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].Name == name {
			return fs.locals[i].Slot
		}
	}
	return -1
}

// resolveCapture looks for a variable in enclosing functions and threads it
// through every closure in between.
func (fs *funcState) resolveCapture(name string) int {
	if fs.enclosing == nil {
		return -1
	}
	for i, cp := range fs.captures {
		if cp.name == name {
			return i
		}
	}
	if slot := fs.enclosing.resolveLocal(name); slot != -1 {
		fs.captures = append(fs.captures, capture{name: name, fromLocal: true, index: slot})
		return len(fs.captures) - 1
	}
	if idx := fs.enclosing.resolveCapture(name); idx != -1 {
		fs.captures = append(fs.captures, capture{name: name, fromLocal: false, index: idx})
		return len(fs.captures) - 1
	}
	return -1
}

// emit helpers. effect is the net change of the operand-stack height.

func (c *Compiler) emit(op Opcode, span ast.Span, effect int) {
	c.fs.chunk.WriteOp(op, span)
	c.fs.adjust(effect)
}

func (c *Compiler) emitArg(op Opcode, arg int, span ast.Span, effect int) {
	c.fs.chunk.WriteOp(op, span)
	c.fs.chunk.WriteU16(arg)
	c.fs.adjust(effect)
}

func (c *Compiler) emitArgs(op Opcode, a, b int, span ast.Span, effect int) {
	c.fs.chunk.WriteOp(op, span)
	c.fs.chunk.WriteU16(a)
	c.fs.chunk.WriteU16(b)
	c.fs.adjust(effect)
}

func (c *Compiler) emitPopN(n int, span ast.Span) {
	switch {
	case n == 1:
		c.emit(OP_POP, span, -1)
	case n > 1:
		c.emitArg(OP_POPN, n, span, -n)
	}
}

func (c *Compiler) emitCopy(slot int, span ast.Span) {
	c.emitArg(OP_COPY, slot, span, 1)
}

// emitJump writes a jump with a placeholder target and returns the operand
// offset for patchJump.
func (c *Compiler) emitJump(op Opcode, span ast.Span) int {
	c.fs.chunk.WriteOp(op, span)
	c.fs.chunk.WriteU32(0xffffffff)
	if op != OP_JUMP {
		c.fs.adjust(-1)
	}
	return c.fs.chunk.Len() - 4
}

// emitLoop jumps back to a known target.
func (c *Compiler) emitLoop(target int, span ast.Span) {
	c.fs.chunk.WriteOp(OP_JUMP, span)
	c.fs.chunk.WriteU32(target)
}

// patchJump points the jump at offset to the current end of code.
func (c *Compiler) patchJump(offset int) {
	c.fs.chunk.PatchU32(offset, c.fs.chunk.Len())
}

func (c *Compiler) here() int {
	return c.fs.chunk.Len()
}

func (c *Compiler) str(s string) int {
	return c.unit.AddString(s)
}

// markSuspend records the RESUME marker emitted after AWAIT/SELECT.
func (c *Compiler) markSuspend(span ast.Span) {
	c.fs.suspendPoints = append(c.fs.suspendPoints, c.here())
	c.emit(OP_RESUME, span, 0)
}
