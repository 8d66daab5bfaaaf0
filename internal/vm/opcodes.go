// Package vm implements the Rune bytecode compiler, virtual machine and
// async scheduler.
package vm

// Opcode represents a single VM instruction
type Opcode byte

// Operands are big-endian. Slots, counts and table indices are 2 bytes,
// jump targets are 4-byte absolute offsets into Unit.Code.
const (
	// Stack manipulation
	OP_UNIT       Opcode = iota // Push ()
	OP_TRUE                     // Push true
	OP_FALSE                    // Push false
	OP_CONST                    // [idx:2] Push constant from pool
	OP_STATIC_STR               // [idx:2] Push static string (no allocation)
	OP_POP                      // Discard top of stack
	OP_POPN                     // [n:2] Discard n values
	OP_DUP                      // Duplicate top of stack
	OP_CLEAN                    // [n:2] Keep top, discard n values below it
	OP_COPY                     // [slot:2] Push frame slot
	OP_REPLACE                  // [slot:2] Pop into frame slot
	OP_CAPTURE                  // [idx:2] Push captured value of the running closure

	// Arithmetic and bitwise
	OP_ADD  // +
	OP_SUB  // -
	OP_MUL  // *
	OP_DIV  // /
	OP_REM  // %
	OP_NEG  // Unary minus
	OP_BAND // &
	OP_BOR  // |
	OP_BXOR // ^
	OP_SHL  // <<
	OP_SHR  // >>
	OP_NOT  // ! (logical on bool, bitwise on int)

	// Comparison
	OP_EQ // ==
	OP_NE // !=
	OP_LT // <
	OP_LE // <=
	OP_GT // >
	OP_GE // >=

	// Control flow
	OP_JUMP          // [target:4]
	OP_JUMP_IF_FALSE // [target:4] Pop condition, jump when false
	OP_JUMP_IF_TRUE  // [target:4] Pop condition, jump when true

	// Functions
	OP_CALL          // [fn:2][argc:2] Call unit function
	OP_CALL_NATIVE   // [native:2][argc:2] Call linked native
	OP_CALL_INSTANCE // [name:2][argc:2] Call instance function on receiver below args
	OP_CALL_FN       // [argc:2] Call function value below args
	OP_FN            // [fn:2] Push unit function as a value
	OP_NATIVE_FN     // [native:2] Push native as a value
	OP_CLOSURE       // [fn:2][n:2] Pop n captures, push closure
	OP_RETURN        // Return top of stack
	OP_RETURN_UNIT   // Return ()

	// Construction
	OP_VEC          // [n:2]
	OP_TUPLE        // [n:2]
	OP_OBJECT       // [keys:2] Pop one value per key
	OP_TYPED_OBJECT // [type:2] Pop one value per declared field
	OP_TYPED_TUPLE  // [type:2] Pop arity values
	OP_SOME
	OP_NONE
	OP_OK
	OP_ERR
	OP_YIELDED       // Wrap top as GeneratorState::Yielded
	OP_COMPLETE      // Wrap top as GeneratorState::Complete
	OP_STRING_CONCAT // [n:2] Pop n values, push their display forms joined

	// Access
	OP_INDEX_GET // [target, index] -> value
	OP_INDEX_SET // [target, index, value] -> ()
	OP_FIELD_GET // [name:2]
	OP_FIELD_SET // [name:2] [target, value] -> ()
	OP_TUPLE_GET // [i:2]
	OP_TUPLE_SET // [i:2] [target, value] -> ()
	OP_LEN       // Length of Vec, Tuple, Bytes, String or Object

	// Pattern tests: pop the tested value, push a bool
	OP_IS_TYPE       // [name:2] Type-name test
	OP_MATCH_SEQ     // [kind:1][len:2][exact:1] Vec/Tuple length test
	OP_MATCH_OBJECT  // [keys:2][exact:1] Object key-set test
	OP_MATCH_TYPE    // [type:2] Exact struct/variant test
	OP_MATCH_BUILTIN // [variant:1] Some/None/Ok/Err/Yielded/Complete test

	// Async and errors
	OP_TRY    // Unwrap Some/Ok or return None/Err from the current function
	OP_AWAIT  // Pop future, suspend until it completes, push its value
	OP_SELECT // [n:2][default:1] Pop n futures, push (value, branch)
	OP_YIELD  // Pop value and suspend the generator; push the sent value on resume
	OP_RESUME // Suspension marker: execution continues here after a wake
	OP_PANIC  // [reason:1]
)

// Sequence kinds for OP_MATCH_SEQ
const (
	SeqVec   byte = 0
	SeqTuple byte = 1
)

// Builtin variants for OP_MATCH_BUILTIN
const (
	VariantSome byte = iota
	VariantNone
	VariantOk
	VariantErr
	VariantYielded
	VariantComplete
)

// Panic reasons for OP_PANIC
const (
	ReasonUnmatchedPattern byte = iota
	ReasonUnreachable
)

// OpcodeNames maps opcodes to their names for debugging
var OpcodeNames = map[Opcode]string{
	OP_UNIT:       "UNIT",
	OP_TRUE:       "TRUE",
	OP_FALSE:      "FALSE",
	OP_CONST:      "CONST",
	OP_STATIC_STR: "STATIC_STR",
	OP_POP:        "POP",
	OP_POPN:       "POPN",
	OP_DUP:        "DUP",
	OP_CLEAN:      "CLEAN",
	OP_COPY:       "COPY",
	OP_REPLACE:    "REPLACE",
	OP_CAPTURE:    "CAPTURE",

	OP_ADD:  "ADD",
	OP_SUB:  "SUB",
	OP_MUL:  "MUL",
	OP_DIV:  "DIV",
	OP_REM:  "REM",
	OP_NEG:  "NEG",
	OP_BAND: "BAND",
	OP_BOR:  "BOR",
	OP_BXOR: "BXOR",
	OP_SHL:  "SHL",
	OP_SHR:  "SHR",
	OP_NOT:  "NOT",

	OP_EQ: "EQ",
	OP_NE: "NE",
	OP_LT: "LT",
	OP_LE: "LE",
	OP_GT: "GT",
	OP_GE: "GE",

	OP_JUMP:          "JUMP",
	OP_JUMP_IF_FALSE: "JUMP_IF_FALSE",
	OP_JUMP_IF_TRUE:  "JUMP_IF_TRUE",

	OP_CALL:          "CALL",
	OP_CALL_NATIVE:   "CALL_NATIVE",
	OP_CALL_INSTANCE: "CALL_INSTANCE",
	OP_CALL_FN:       "CALL_FN",
	OP_FN:            "FN",
	OP_NATIVE_FN:     "NATIVE_FN",
	OP_CLOSURE:       "CLOSURE",
	OP_RETURN:        "RETURN",
	OP_RETURN_UNIT:   "RETURN_UNIT",

	OP_VEC:           "VEC",
	OP_TUPLE:         "TUPLE",
	OP_OBJECT:        "OBJECT",
	OP_TYPED_OBJECT:  "TYPED_OBJECT",
	OP_TYPED_TUPLE:   "TYPED_TUPLE",
	OP_SOME:          "SOME",
	OP_NONE:          "NONE",
	OP_OK:            "OK",
	OP_ERR:           "ERR",
	OP_YIELDED:       "YIELDED",
	OP_COMPLETE:      "COMPLETE",
	OP_STRING_CONCAT: "STRING_CONCAT",

	OP_INDEX_GET: "INDEX_GET",
	OP_INDEX_SET: "INDEX_SET",
	OP_FIELD_GET: "FIELD_GET",
	OP_FIELD_SET: "FIELD_SET",
	OP_TUPLE_GET: "TUPLE_GET",
	OP_TUPLE_SET: "TUPLE_SET",
	OP_LEN:       "LEN",

	OP_IS_TYPE:       "IS_TYPE",
	OP_MATCH_SEQ:     "MATCH_SEQ",
	OP_MATCH_OBJECT:  "MATCH_OBJECT",
	OP_MATCH_TYPE:    "MATCH_TYPE",
	OP_MATCH_BUILTIN: "MATCH_BUILTIN",

	OP_TRY:    "TRY",
	OP_AWAIT:  "AWAIT",
	OP_SELECT: "SELECT",
	OP_YIELD:  "YIELD",
	OP_RESUME: "RESUME",
	OP_PANIC:  "PANIC",
}

// operandWidths lists the byte width of each operand of an opcode.
// Opcodes without an entry take no operands.
var operandWidths = map[Opcode][]int{
	OP_CONST:         {2},
	OP_STATIC_STR:    {2},
	OP_POPN:          {2},
	OP_CLEAN:         {2},
	OP_COPY:          {2},
	OP_REPLACE:       {2},
	OP_CAPTURE:       {2},
	OP_JUMP:          {4},
	OP_JUMP_IF_FALSE: {4},
	OP_JUMP_IF_TRUE:  {4},
	OP_CALL:          {2, 2},
	OP_CALL_NATIVE:   {2, 2},
	OP_CALL_INSTANCE: {2, 2},
	OP_CALL_FN:       {2},
	OP_FN:            {2},
	OP_NATIVE_FN:     {2},
	OP_CLOSURE:       {2, 2},
	OP_VEC:           {2},
	OP_TUPLE:         {2},
	OP_OBJECT:        {2},
	OP_TYPED_OBJECT:  {2},
	OP_TYPED_TUPLE:   {2},
	OP_STRING_CONCAT: {2},
	OP_FIELD_GET:     {2},
	OP_FIELD_SET:     {2},
	OP_TUPLE_GET:     {2},
	OP_TUPLE_SET:     {2},
	OP_IS_TYPE:       {2},
	OP_MATCH_SEQ:     {1, 2, 1},
	OP_MATCH_OBJECT:  {2, 1},
	OP_MATCH_TYPE:    {2},
	OP_MATCH_BUILTIN: {1},
	OP_SELECT:        {2, 1},
	OP_PANIC:         {1},
}

// instructionLen returns the encoded size of op including its operands.
func instructionLen(op Opcode) int {
	n := 1
	for _, w := range operandWidths[op] {
		n += w
	}
	return n
}

func (op Opcode) String() string {
	if name, ok := OpcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}
