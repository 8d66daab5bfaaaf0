package ast

// Pattern is a Node that appears on the left of let, in match arms,
// select arms and for loops.
type Pattern interface {
	Node
	patternNode()
}

// PatWild is _
type PatWild struct {
	Span Span
}

func (p *PatWild) GetSpan() Span { return p.Span }
func (p *PatWild) patternNode()  {}

// PatBind binds the matched value to a new local: x
type PatBind struct {
	Span Span
	Name string
}

func (p *PatBind) GetSpan() Span { return p.Span }
func (p *PatBind) patternNode()  {}

// PatLit matches by equality against a literal: 1, "a", 'c', true
type PatLit struct {
	Span Span
	Lit  *Lit
}

func (p *PatLit) GetSpan() Span { return p.Span }
func (p *PatLit) patternNode()  {}

// PatVec matches a Vec: [a, b] or [1, 2, ...] when Rest is set.
type PatVec struct {
	Span  Span
	Elems []Pattern
	Rest  bool
}

func (p *PatVec) GetSpan() Span { return p.Span }
func (p *PatVec) patternNode()  {}

// PatTuple matches a Tuple: (a, b) or (a, ...).
type PatTuple struct {
	Span  Span
	Elems []Pattern
	Rest  bool
}

func (p *PatTuple) GetSpan() Span { return p.Span }
func (p *PatTuple) patternNode()  {}

// FieldPat matches one field of an object pattern. A nil Pattern binds
// the field to a local of the same name.
type FieldPat struct {
	Span    Span
	Name    string
	Pattern Pattern
}

// PatObject matches an anonymous object (Path is nil) or a struct/variant
// with named fields: #{a, b: 1}, Point { x, .. }, Shape::Rect { w, h }
type PatObject struct {
	Span   Span
	Path   []string
	Fields []*FieldPat
	Rest   bool
}

func (p *PatObject) GetSpan() Span { return p.Span }
func (p *PatObject) patternNode()  {}

// PatCtor matches a tuple-like constructor: Some(x), None, Ok(v), Err(e),
// Point(a, b), Shape::Circle(r), Shape::Empty
type PatCtor struct {
	Span  Span
	Path  []string
	Elems []Pattern
	Rest  bool
}

func (p *PatCtor) GetSpan() Span { return p.Span }
func (p *PatCtor) patternNode()  {}

// PatType matches any value of a type: n if n is int is written as
// PatBind plus a guard, while `_: int` style tests use PatType.
type PatType struct {
	Span Span
	Type []string
	Bind string // optional binding name
}

func (p *PatType) GetSpan() Span { return p.Span }
func (p *PatType) patternNode()  {}
