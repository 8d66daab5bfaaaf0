package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable representation of the unit: every
// function's instructions with spans, operands and the locals in scope.
func Disassemble(u *Unit) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("== unit %s (%s) ==\n", u.ID, u.Source))
	for i := range u.Functions {
		fn := &u.Functions[i]
		kind := "fn"
		if fn.Async {
			kind = "async fn"
		}
		if fn.Generator {
			kind += "*"
		}
		sb.WriteString(fmt.Sprintf("\n== %s %s/%d (frame %d, captures %d) ==\n", kind, fn.Name, fn.Arity, fn.FrameSize, fn.Captures))

		offset := fn.Entry
		for offset < fn.End && offset < len(u.Code) {
			offset = disassembleInstruction(&sb, u, fn, offset)
		}
	}
	return sb.String()
}

// disassembleInstruction disassembles a single instruction
func disassembleInstruction(sb *strings.Builder, u *Unit, fn *FunctionInfo, offset int) int {
	sb.WriteString(fmt.Sprintf("%04d ", offset))

	// Print source position
	span := u.SpanAt(offset)
	if offset > fn.Entry && u.SpanAt(offset-1) == span {
		sb.WriteString("      | ")
	} else {
		sb.WriteString(fmt.Sprintf("%7s ", span.String()))
	}

	op := Opcode(u.Code[offset])
	size := instructionLen(op)
	if offset+size > len(u.Code) {
		sb.WriteString(fmt.Sprintf("%s (truncated)\n", op))
		return len(u.Code)
	}

	operands := make([]int, 0, 3)
	at := offset + 1
	for _, w := range operandWidths[op] {
		switch w {
		case 1:
			operands = append(operands, int(u.Code[at]))
		case 2:
			operands = append(operands, u.ReadU16(at))
		case 4:
			operands = append(operands, u.ReadU32(at))
		}
		at += w
	}

	sb.WriteString(fmt.Sprintf("%-16s", op))
	for _, o := range operands {
		sb.WriteString(fmt.Sprintf(" %4d", o))
	}
	if note := operandNote(u, op, operands); note != "" {
		sb.WriteString(" ")
		sb.WriteString(note)
	}
	if locals := fn.LocalsAt(offset); len(locals) > 0 && op == OP_RESUME {
		sb.WriteString(fmt.Sprintf(" [%s]", strings.Join(locals, ", ")))
	}
	sb.WriteString("\n")
	return offset + size
}

// operandNote resolves table indices to something readable.
func operandNote(u *Unit, op Opcode, ops []int) string {
	switch op {
	case OP_CONST:
		if ops[0] < len(u.Constants) {
			return fmt.Sprintf("'%s'", constantString(u.Constants[ops[0]]))
		}
		return "(invalid)"
	case OP_STATIC_STR, OP_FIELD_GET, OP_FIELD_SET, OP_IS_TYPE, OP_CALL_INSTANCE:
		if ops[0] < len(u.Strings) {
			return fmt.Sprintf("%q", u.Strings[ops[0]])
		}
		return "(invalid)"
	case OP_JUMP, OP_JUMP_IF_FALSE, OP_JUMP_IF_TRUE:
		return fmt.Sprintf("-> %04d", ops[0])
	case OP_CALL, OP_FN, OP_CLOSURE:
		if ops[0] < len(u.Functions) {
			return "'" + u.Functions[ops[0]].Name + "'"
		}
		return "(invalid)"
	case OP_CALL_NATIVE, OP_NATIVE_FN:
		if ops[0] < len(u.Natives) {
			return "'" + u.Natives[ops[0]].Path + "'"
		}
		return "(invalid)"
	case OP_OBJECT, OP_MATCH_OBJECT:
		if ops[0] < len(u.Keys) {
			return "{" + strings.Join(u.Keys[ops[0]], ", ") + "}"
		}
		return "(invalid)"
	case OP_TYPED_OBJECT, OP_TYPED_TUPLE, OP_MATCH_TYPE:
		if ops[0] < len(u.Types) {
			return "'" + u.Types[ops[0]].Name + "'"
		}
		return "(invalid)"
	case OP_MATCH_BUILTIN:
		names := [...]string{"Some", "None", "Ok", "Err", "Yielded", "Complete"}
		if ops[0] < len(names) {
			return names[ops[0]]
		}
		return "(invalid)"
	case OP_PANIC:
		if ops[0] == int(ReasonUnmatchedPattern) {
			return "unmatched pattern"
		}
		return "unreachable"
	}
	return ""
}

func constantString(c Constant) string {
	switch c.Kind {
	case ConstInt, ConstByte:
		return fmt.Sprintf("%d", c.Int)
	case ConstFloat:
		return formatFloat(c.Float)
	case ConstChar:
		return string(rune(c.Int))
	case ConstBytes:
		return BytesVal(c.Bytes).Inspect()
	}
	return "?"
}
