package ast

// Builder helpers for hosts and tests that assemble trees without a parser.
// Nodes built here carry zero spans unless At is applied.

func Int(v int64) *Lit { return &Lit{Kind: LitInt, Int: v} }
func Float(v float64) *Lit { return &Lit{Kind: LitFloat, Float: v} }
func Bool(v bool) *Lit { return &Lit{Kind: LitBool, Bool: v} }
func Char(v rune) *Lit { return &Lit{Kind: LitChar, Char: v} }
func Str(v string) *Lit { return &Lit{Kind: LitStr, Str: v} }
func ByteStr(v []byte) *Lit { return &Lit{Kind: LitByteStr, Bytes: v} }
func Byte(v byte) *Lit { return &Lit{Kind: LitByte, Int: int64(v)} }
func UnitLit() *Lit { return &Lit{Kind: LitUnit} }
func RawInt(text string) *Lit { return &Lit{Kind: LitInt, Raw: text} }

// Id references a name.
func Id(name string) *Ident { return &Ident{Name: name} }

// P references a qualified path such as bytes::new.
func P(segs ...string) *Path { return &Path{Segments: segs} }

func Bin(op BinOp, l, r Expr) *Binary { return &Binary{Op: op, L: l, R: r} }
func Neg(x Expr) *Unary { return &Unary{Op: OpNeg, X: x} }
func Not(x Expr) *Unary { return &Unary{Op: OpNot, X: x} }

func Set(target, value Expr) *Assign { return &Assign{Target: target, Value: value} }
func SetOp(op BinOp, target, value Expr) *CompoundAssign {
	return &CompoundAssign{Op: op, Target: target, Value: value}
}

// CallE calls an arbitrary callee expression.
func CallE(callee Expr, args ...Expr) *Call { return &Call{Callee: callee, Args: args} }

// CallN calls a name; "a::b" style names should use CallP.
func CallN(name string, args ...Expr) *Call { return &Call{Callee: Id(name), Args: args} }

// CallP calls a path.
func CallP(path []string, args ...Expr) *Call { return &Call{Callee: P(path...), Args: args} }

func Method(recv Expr, name string, args ...Expr) *MethodCall {
	return &MethodCall{Recv: recv, Name: name, Args: args}
}

func Field(x Expr, name string) *FieldAccess { return &FieldAccess{X: x, Name: name} }
func TField(x Expr, i int) *TupleField { return &TupleField{X: x, Index: i} }
func Idx(x, i Expr) *Index { return &Index{X: x, Index: i} }

func Vec(elems ...Expr) *VecLit { return &VecLit{Elems: elems} }
func Tup(elems ...Expr) *TupleLit { return &TupleLit{Elems: elems} }
func Obj(fields ...*FieldInit) *ObjectLit { return &ObjectLit{Fields: fields} }
func F(name string, v Expr) *FieldInit { return &FieldInit{Name: name, Value: v} }

func StructE(path []string, fields ...*FieldInit) *StructLit {
	return &StructLit{Path: path, Fields: fields}
}

func IfE(cond Expr, then *Block, els Expr) *If { return &If{Cond: cond, Then: then, Else: els} }

func MatchE(x Expr, arms ...*MatchArm) *Match { return &Match{X: x, Arms: arms} }
func Arm(p Pattern, guard Expr, body Expr) *MatchArm {
	return &MatchArm{Pattern: p, Guard: guard, Body: body}
}

func WhileE(cond Expr, body *Block) *While { return &While{Cond: cond, Body: body} }
func LoopE(body *Block) *Loop { return &Loop{Body: body} }
func ForE(p Pattern, iter Expr, body *Block) *For { return &For{Binding: p, Iter: iter, Body: body} }
func BreakE(v Expr) *Break { return &Break{Value: v} }
func ContinueE() *Continue { return &Continue{} }
func Ret(v Expr) *Return { return &Return{Value: v} }
func AwaitE(x Expr) *Await { return &Await{X: x} }
func TryE(x Expr) *Try { return &Try{X: x} }
func YieldE(v Expr) *Yield { return &Yield{Value: v} }
func Tmpl(parts ...Expr) *Template { return &Template{Parts: parts} }
func IsE(x Expr, typ ...string) *Is { return &Is{X: x, Type: typ} }
func IsNotE(x Expr, typ ...string) *Is { return &Is{X: x, Type: typ, Not: true} }

func SelectE(def Expr, arms ...*SelectArm) *Select { return &Select{Arms: arms, Default: def} }
func SArm(p Pattern, fut Expr, body Expr) *SelectArm {
	return &SelectArm{Pattern: p, Future: fut, Body: body}
}

// Lambda builds a closure.
func Lambda(params []string, body Expr) *Closure {
	return &Closure{Params: Params(params...), Body: body}
}

func AsyncLambda(params []string, body Expr) *Closure {
	return &Closure{Params: Params(params...), Body: body, Async: true}
}

// Statements

func Let(p Pattern, v Expr) *LetStmt { return &LetStmt{Pattern: p, Value: v} }
func LetN(name string, v Expr) *LetStmt { return &LetStmt{Pattern: PB(name), Value: v} }
func Do(x Expr) *ExprStmt { return &ExprStmt{X: x} }

// Blk builds a block without a tail; its value is unit.
func Blk(stmts ...Stmt) *Block { return &Block{Stmts: stmts} }

// BlkT builds a block whose value is tail.
func BlkT(tail Expr, stmts ...Stmt) *Block { return &Block{Stmts: stmts, Tail: tail} }

// Patterns

func PW() *PatWild { return &PatWild{} }
func PB(name string) *PatBind { return &PatBind{Name: name} }
func PL(l *Lit) *PatLit { return &PatLit{Lit: l} }
func PInt(v int64) *PatLit { return &PatLit{Lit: Int(v)} }
func PStr(v string) *PatLit { return &PatLit{Lit: Str(v)} }
func PV(elems ...Pattern) *PatVec { return &PatVec{Elems: elems} }
func PVRest(elems ...Pattern) *PatVec { return &PatVec{Elems: elems, Rest: true} }
func PT(elems ...Pattern) *PatTuple { return &PatTuple{Elems: elems} }
func PTRest(elems ...Pattern) *PatTuple {
	return &PatTuple{Elems: elems, Rest: true}
}
func PC(path []string, elems ...Pattern) *PatCtor { return &PatCtor{Path: path, Elems: elems} }
func PO(path []string, fields ...*FieldPat) *PatObject {
	return &PatObject{Path: path, Fields: fields}
}
func PF(name string, p Pattern) *FieldPat { return &FieldPat{Name: name, Pattern: p} }
func PTy(bind string, typ ...string) *PatType { return &PatType{Type: typ, Bind: bind} }

// Items

func Params(names ...string) []*Param {
	ps := make([]*Param, len(names))
	for i, n := range names {
		ps[i] = &Param{Name: n}
	}
	return ps
}

func Fn(name string, params []string, body *Block) *FnDecl {
	return &FnDecl{Name: name, Params: Params(params...), Body: body}
}

func AsyncFn(name string, params []string, body *Block) *FnDecl {
	return &FnDecl{Name: name, Params: Params(params...), Body: body, Async: true}
}

func Struct(name string, fields ...string) *StructDecl {
	return &StructDecl{Name: name, Kind: StructNamed, Fields: fields}
}

func TupleStruct(name string, arity int) *StructDecl {
	return &StructDecl{Name: name, Kind: StructTuple, Arity: arity}
}

func Enum(name string, variants ...*Variant) *EnumDecl {
	return &EnumDecl{Name: name, Variants: variants}
}

func UnitVariant(name string) *Variant { return &Variant{Name: name, Kind: StructUnit} }
func TupleVariant(name string, arity int) *Variant {
	return &Variant{Name: name, Kind: StructTuple, Arity: arity}
}
func NamedVariant(name string, fields ...string) *Variant {
	return &Variant{Name: name, Kind: StructNamed, Fields: fields}
}

func Impl(typ string, fns ...*FnDecl) *ImplDecl { return &ImplDecl{Type: typ, Fns: fns} }

func FileOf(name string, items ...Item) *File { return &File{Name: name, Items: items} }

// At stamps a line/column span on a node built by the helpers above and
// returns it, so tests can check diagnostics: At(Id("x"), 3, 5).
func At[N Node](n N, line, col int) N {
	s := Pos(line, col)
	switch x := any(n).(type) {
	case *Lit:
		x.Span = s
	case *Ident:
		x.Span = s
	case *Path:
		x.Span = s
	case *Binary:
		x.Span = s
	case *Unary:
		x.Span = s
	case *Assign:
		x.Span = s
	case *CompoundAssign:
		x.Span = s
	case *Call:
		x.Span = s
	case *MethodCall:
		x.Span = s
	case *FieldAccess:
		x.Span = s
	case *TupleField:
		x.Span = s
	case *Index:
		x.Span = s
	case *Match:
		x.Span = s
	case *Await:
		x.Span = s
	case *Yield:
		x.Span = s
	case *Template:
		x.Span = s
	case *Select:
		x.Span = s
	case *Break:
		x.Span = s
	case *Continue:
		x.Span = s
	case *Return:
		x.Span = s
	case *LetStmt:
		x.Span = s
	case *ExprStmt:
		x.Span = s
	case *Block:
		x.Span = s
	case *FnDecl:
		x.Span = s
	case *StructDecl:
		x.Span = s
	case *EnumDecl:
		x.Span = s
	case *PatBind:
		x.Span = s
	case *PatVec:
		x.Span = s
	case *PatTuple:
		x.Span = s
	case *PatCtor:
		x.Span = s
	case *PatObject:
		x.Span = s
	case *Try:
		x.Span = s
	case *StructLit:
		x.Span = s
	}
	return n
}
