package ast

import "strings"

// LitKind is the kind of a literal.
type LitKind int

const (
	LitUnit LitKind = iota
	LitBool
	LitInt
	LitFloat
	LitChar
	LitStr
	LitByteStr
	LitByte
)

// Lit is a literal value. Only the field matching Kind is meaningful.
// When Raw is set on an integer literal the compiler parses it itself and
// rejects values that do not fit in 64 bits.
type Lit struct {
	Span  Span
	Kind  LitKind
	Bool  bool
	Int   int64
	Float float64
	Char  rune
	Str   string
	Bytes []byte
	Raw   string
}

func (e *Lit) GetSpan() Span { return e.Span }
func (e *Lit) exprNode()     {}

// Ident is a bare name: x
type Ident struct {
	Span Span
	Name string
}

func (e *Ident) GetSpan() Span { return e.Span }
func (e *Ident) exprNode()     {}

// Path is a qualified name: bytes::new, Shape::Circle
type Path struct {
	Span     Span
	Segments []string
}

func (e *Path) GetSpan() Span { return e.Span }
func (e *Path) exprNode()     {}

// String joins the segments with "::".
func (e *Path) String() string {
	return JoinPath(e.Segments)
}

// JoinPath joins path segments with "::".
func JoinPath(segs []string) string {
	return strings.Join(segs, "::")
}

// BinOp is a binary operator.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd // short-circuit &&
	OpOr  // short-circuit ||
)

var binOpNames = [...]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpRem: "%",
	OpBitAnd: "&", OpBitOr: "|", OpBitXor: "^", OpShl: "<<", OpShr: ">>",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAnd: "&&", OpOr: "||",
}

func (op BinOp) String() string {
	if int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return "?"
}

// Binary is a binary operation: a + b
type Binary struct {
	Span Span
	Op   BinOp
	L, R Expr
}

func (e *Binary) GetSpan() Span { return e.Span }
func (e *Binary) exprNode()     {}

// UnOp is a unary operator.
type UnOp int

const (
	OpNeg UnOp = iota // -x
	OpNot             // !x (logical on bool, bitwise on int)
)

// Unary is a prefix operation: -x, !x
type Unary struct {
	Span Span
	Op   UnOp
	X    Expr
}

func (e *Unary) GetSpan() Span { return e.Span }
func (e *Unary) exprNode()     {}

// Assign stores into a local, a field, a tuple element or an index: x = v
type Assign struct {
	Span   Span
	Target Expr
	Value  Expr
}

func (e *Assign) GetSpan() Span { return e.Span }
func (e *Assign) exprNode()     {}

// CompoundAssign is x op= v.
type CompoundAssign struct {
	Span   Span
	Op     BinOp
	Target Expr
	Value  Expr
}

func (e *CompoundAssign) GetSpan() Span { return e.Span }
func (e *CompoundAssign) exprNode()     {}

// Call is a call to a function value, a unit function, a native or a
// constructor: f(a, b), bytes::new(), Point(1, 2), Some(x)
type Call struct {
	Span   Span
	Callee Expr
	Args   []Expr
}

func (e *Call) GetSpan() Span { return e.Span }
func (e *Call) exprNode()     {}

// MethodCall is an instance function call: recv.name(args)
type MethodCall struct {
	Span Span
	Recv Expr
	Name string
	Args []Expr
}

func (e *MethodCall) GetSpan() Span { return e.Span }
func (e *MethodCall) exprNode()     {}

// FieldAccess reads a named field: x.name
type FieldAccess struct {
	Span Span
	X    Expr
	Name string
}

func (e *FieldAccess) GetSpan() Span { return e.Span }
func (e *FieldAccess) exprNode()     {}

// TupleField reads a positional element: x.0
type TupleField struct {
	Span  Span
	X     Expr
	Index int
}

func (e *TupleField) GetSpan() Span { return e.Span }
func (e *TupleField) exprNode()     {}

// Index reads an element by index or key: x[i]
type Index struct {
	Span  Span
	X     Expr
	Index Expr
}

func (e *Index) GetSpan() Span { return e.Span }
func (e *Index) exprNode()     {}

// VecLit is [a, b, c]
type VecLit struct {
	Span  Span
	Elems []Expr
}

func (e *VecLit) GetSpan() Span { return e.Span }
func (e *VecLit) exprNode()     {}

// TupleLit is (a, b, c)
type TupleLit struct {
	Span  Span
	Elems []Expr
}

func (e *TupleLit) GetSpan() Span { return e.Span }
func (e *TupleLit) exprNode()     {}

// FieldInit is one name: value pair of an object or struct literal.
type FieldInit struct {
	Span  Span
	Name  string
	Value Expr
}

// ObjectLit is an anonymous object: #{a: 1, b: 2}
type ObjectLit struct {
	Span   Span
	Fields []*FieldInit
}

func (e *ObjectLit) GetSpan() Span { return e.Span }
func (e *ObjectLit) exprNode()     {}

// StructLit constructs a struct or variant with named fields:
// Point { x: 1, y: 2 }, Shape::Rect { w: 1, h: 2 }
type StructLit struct {
	Span   Span
	Path   []string
	Fields []*FieldInit
}

func (e *StructLit) GetSpan() Span { return e.Span }
func (e *StructLit) exprNode()     {}

// If is if cond { ... } else ...; Else is nil, a *Block or another *If.
type If struct {
	Span Span
	Cond Expr
	Then *Block
	Else Expr
}

func (e *If) GetSpan() Span { return e.Span }
func (e *If) exprNode()     {}

// MatchArm is pattern [if guard] => body
type MatchArm struct {
	Span    Span
	Pattern Pattern
	Guard   Expr
	Body    Expr
}

// Match is match x { arms }
type Match struct {
	Span Span
	X    Expr
	Arms []*MatchArm
}

func (e *Match) GetSpan() Span { return e.Span }
func (e *Match) exprNode()     {}

// While is while cond { ... }
type While struct {
	Span Span
	Cond Expr
	Body *Block
}

func (e *While) GetSpan() Span { return e.Span }
func (e *While) exprNode()     {}

// Loop is loop { ... }; its value is the value given to break.
type Loop struct {
	Span Span
	Body *Block
}

func (e *Loop) GetSpan() Span { return e.Span }
func (e *Loop) exprNode()     {}

// For is for pattern in iter { ... }
type For struct {
	Span    Span
	Binding Pattern
	Iter    Expr
	Body    *Block
}

func (e *For) GetSpan() Span { return e.Span }
func (e *For) exprNode()     {}

// Break leaves the innermost loop, optionally with a value.
type Break struct {
	Span  Span
	Value Expr
}

func (e *Break) GetSpan() Span { return e.Span }
func (e *Break) exprNode()     {}

// Continue jumps to the next iteration of the innermost loop.
type Continue struct {
	Span Span
}

func (e *Continue) GetSpan() Span { return e.Span }
func (e *Continue) exprNode()     {}

// Return leaves the current function.
type Return struct {
	Span  Span
	Value Expr
}

func (e *Return) GetSpan() Span { return e.Span }
func (e *Return) exprNode()     {}

// Await is x.await
type Await struct {
	Span Span
	X    Expr
}

func (e *Await) GetSpan() Span { return e.Span }
func (e *Await) exprNode()     {}

// Yield suspends the enclosing generator with Value (unit when nil). The
// expression evaluates to the value the generator is resumed with.
type Yield struct {
	Span  Span
	Value Expr
}

func (e *Yield) GetSpan() Span { return e.Span }
func (e *Yield) exprNode()     {}

// Template is a template string. Parts are joined by their display form.
type Template struct {
	Span  Span
	Parts []Expr
}

func (e *Template) GetSpan() Span { return e.Span }
func (e *Template) exprNode()     {}

// SelectArm is pattern = future => body
type SelectArm struct {
	Span    Span
	Pattern Pattern
	Future  Expr
	Body    Expr
}

// Select races futures: select { a = f1 => ..., b = f2 => ..., default => ... }
type Select struct {
	Span    Span
	Arms    []*SelectArm
	Default Expr
}

func (e *Select) GetSpan() Span { return e.Span }
func (e *Select) exprNode()     {}

// Try is x? on Option or Result.
type Try struct {
	Span Span
	X    Expr
}

func (e *Try) GetSpan() Span { return e.Span }
func (e *Try) exprNode()     {}

// Closure is |a, b| body or async |a| body.
type Closure struct {
	Span   Span
	Params []*Param
	Body   Expr
	Async  bool
}

func (e *Closure) GetSpan() Span { return e.Span }
func (e *Closure) exprNode()     {}

// Is is x is Type or x is not Type.
type Is struct {
	Span Span
	X    Expr
	Type []string
	Not  bool
}

func (e *Is) GetSpan() Span { return e.Span }
func (e *Is) exprNode()     {}
