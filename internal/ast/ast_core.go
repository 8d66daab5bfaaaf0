// Package ast defines the syntax tree consumed by the Rune compiler.
//
// The tree is produced by an external parser (or assembled by a host through
// the builder helpers in builders.go). Every node carries a Span so that
// compile errors and runtime panics can point back at the source without
// re-parsing it.
package ast

import "fmt"

// Span locates a node in the source text.
type Span struct {
	Start  int // byte offset of the first character
	End    int // byte offset one past the last character
	Line   int // 1-based line of Start
	Column int // 1-based column of Start
}

// Pos returns a span that only carries a line and a column.
func Pos(line, col int) Span {
	return Span{Line: line, Column: col}
}

// IsZero reports whether the span carries no position at all.
func (s Span) IsZero() bool {
	return s == Span{}
}

func (s Span) String() string {
	if s.IsZero() {
		return "?"
	}
	return fmt.Sprintf("%d:%d", s.Line, s.Column)
}

// Node is the base interface for all AST nodes.
type Node interface {
	GetSpan() Span
}

// Item is a top-level declaration.
type Item interface {
	Node
	itemNode()
}

// Stmt is a Node that represents a statement.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is a Node that represents an expression.
type Expr interface {
	Node
	exprNode()
}

// File is the root node produced for one source file.
type File struct {
	Name  string // Source file path, used in diagnostics
	Items []Item
}

// Param is a function or closure parameter.
type Param struct {
	Span Span
	Name string
}

// FnDecl declares a function: fn name(a, b) { ... } or async fn name() { ... }
type FnDecl struct {
	Span   Span
	Name   string
	Params []*Param
	Body   *Block
	Async  bool
}

func (d *FnDecl) GetSpan() Span { return d.Span }
func (d *FnDecl) itemNode()     {}

// StructKind distinguishes the three shapes of structs and enum variants.
type StructKind int

const (
	StructUnit  StructKind = iota // struct Empty;
	StructTuple                   // struct Point(x, y);
	StructNamed                   // struct Point { x, y }
)

// StructDecl declares a struct type.
type StructDecl struct {
	Span   Span
	Name   string
	Kind   StructKind
	Fields []string // Named fields (StructNamed only)
	Arity  int      // Number of elements (StructTuple only)
}

func (d *StructDecl) GetSpan() Span { return d.Span }
func (d *StructDecl) itemNode()     {}

// Variant is a single enum variant.
type Variant struct {
	Span   Span
	Name   string
	Kind   StructKind
	Fields []string
	Arity  int
}

// EnumDecl declares an enum: enum Shape { Circle(r), Rect { w, h }, Empty }
type EnumDecl struct {
	Span     Span
	Name     string
	Variants []*Variant
}

func (d *EnumDecl) GetSpan() Span { return d.Span }
func (d *EnumDecl) itemNode()     {}

// ImplDecl attaches instance functions to a type: impl Point { fn len(self) { ... } }
type ImplDecl struct {
	Span Span
	Type string
	Fns  []*FnDecl
}

func (d *ImplDecl) GetSpan() Span { return d.Span }
func (d *ImplDecl) itemNode()     {}

// LetStmt binds a pattern: let (a, b) = pair;
type LetStmt struct {
	Span    Span
	Pattern Pattern
	Value   Expr
}

func (s *LetStmt) GetSpan() Span { return s.Span }
func (s *LetStmt) stmtNode()     {}

// ExprStmt is an expression terminated by a semicolon; its value is discarded.
type ExprStmt struct {
	Span Span
	X    Expr
}

func (s *ExprStmt) GetSpan() Span { return s.Span }
func (s *ExprStmt) stmtNode()     {}

// ItemStmt is a nested item declaration inside a block (fn, struct, enum).
type ItemStmt struct {
	Span Span
	Item Item
}

func (s *ItemStmt) GetSpan() Span { return s.Span }
func (s *ItemStmt) stmtNode()     {}

// Block is a braced sequence of statements with an optional tail expression
// that gives the block its value. A block without a tail evaluates to unit.
type Block struct {
	Span  Span
	Stmts []Stmt
	Tail  Expr
}

func (b *Block) GetSpan() Span { return b.Span }
func (b *Block) exprNode()     {}
