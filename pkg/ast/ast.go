// Package ast defines the node types produced by the parser.
package ast

import "github.com/eikobot/eikobot/pkg/source"

// Node is implemented by every AST node.
type Node interface {
	Span() source.Span
}

// Expr is implemented by expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Stmt is implemented by statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// ---- Expressions ----

// BoolLit is a True or False literal.
type BoolLit struct {
	Value    bool
	ExprSpan source.Span
}

// IntLit is an integer literal.
type IntLit struct {
	Value    int64
	ExprSpan source.Span
}

// FloatLit is a float literal.
type FloatLit struct {
	Value    float64
	ExprSpan source.Span
}

// StringLit is a string literal; adjacent literals are merged by the parser.
type StringLit struct {
	Value    string
	ExprSpan source.Span
}

// NoneLit is the None literal.
type NoneLit struct {
	ExprSpan source.Span
}

// IdentExpr references a name in scope.
type IdentExpr struct {
	Name     string
	ExprSpan source.Span
}

// UnaryExpr is `-x` or `not x`.
type UnaryExpr struct {
	Op       string
	Operand  Expr
	ExprSpan source.Span
}

// BinaryExpr is an arithmetic or boolean binary operation.
type BinaryExpr struct {
	Op       string // + - * / // % ** and or
	Left     Expr
	Right    Expr
	ExprSpan source.Span
}

// CompareExpr is `a == b`, `a < b`, `a in b`, etc.
type CompareExpr struct {
	Op       string // == != < > <= >= in
	Left     Expr
	Right    Expr
	ExprSpan source.Span
}

// IndexExpr is a subscript access `a[b]`.
type IndexExpr struct {
	Target   Expr
	Index    Expr
	ExprSpan source.Span
}

// DotExpr is an attribute access `a.b`.
type DotExpr struct {
	Target   Expr
	Attr     string
	AttrSpan source.Span
	ExprSpan source.Span
}

// Arg is a single call argument, positional or keyword.
type Arg struct {
	// Name is empty for positional arguments.
	Name  string
	Value Expr
	Span  source.Span
}

// CallExpr is a call `f(a, b=c)` of a constructor, plugin or type.
type CallExpr struct {
	Fn       Expr
	Args     []Arg
	ExprSpan source.Span
}

// ListLit is `[a, b, c]`.
type ListLit struct {
	Elems    []Expr
	ExprSpan source.Span
}

// DictEntry is one `key: value` pair of a dict literal.
type DictEntry struct {
	Key   Expr
	Value Expr
}

// DictLit is `{k: v, ...}`.
type DictLit struct {
	Entries  []DictEntry
	ExprSpan source.Span
}

// FStringPart is either a literal chunk or an embedded expression.
type FStringPart struct {
	// Lit holds the literal text; nil Expr.
	Lit string
	// Expr holds the embedded expression; empty Lit.
	Expr Expr
}

// FStringExpr is an f-string with interleaved literal and expression parts.
type FStringExpr struct {
	Parts    []FStringPart
	ExprSpan source.Span
}

func (e *BoolLit) Span() source.Span     { return e.ExprSpan }
func (e *IntLit) Span() source.Span      { return e.ExprSpan }
func (e *FloatLit) Span() source.Span    { return e.ExprSpan }
func (e *StringLit) Span() source.Span   { return e.ExprSpan }
func (e *NoneLit) Span() source.Span     { return e.ExprSpan }
func (e *IdentExpr) Span() source.Span   { return e.ExprSpan }
func (e *UnaryExpr) Span() source.Span   { return e.ExprSpan }
func (e *BinaryExpr) Span() source.Span  { return e.ExprSpan }
func (e *CompareExpr) Span() source.Span { return e.ExprSpan }
func (e *IndexExpr) Span() source.Span   { return e.ExprSpan }
func (e *DotExpr) Span() source.Span     { return e.ExprSpan }
func (e *CallExpr) Span() source.Span    { return e.ExprSpan }
func (e *ListLit) Span() source.Span     { return e.ExprSpan }
func (e *DictLit) Span() source.Span     { return e.ExprSpan }
func (e *FStringExpr) Span() source.Span { return e.ExprSpan }

func (*BoolLit) exprNode()     {}
func (*IntLit) exprNode()      {}
func (*FloatLit) exprNode()    {}
func (*StringLit) exprNode()   {}
func (*NoneLit) exprNode()     {}
func (*IdentExpr) exprNode()   {}
func (*UnaryExpr) exprNode()   {}
func (*BinaryExpr) exprNode()  {}
func (*CompareExpr) exprNode() {}
func (*IndexExpr) exprNode()   {}
func (*DotExpr) exprNode()     {}
func (*CallExpr) exprNode()    {}
func (*ListLit) exprNode()     {}
func (*DictLit) exprNode()     {}
func (*FStringExpr) exprNode() {}

// ---- Type expressions ----
//
// Annotations and typedef bases are parsed by a dedicated sub-grammar so
// ordinary value expressions can never be mistaken for types.

// TypeExpr is a node of the type-expression mini-grammar.
type TypeExpr interface {
	Node
	typeNode()
}

// TypeName is a plain or dotted type reference like `int` or `std.Host`.
type TypeName struct {
	// Parts holds the dotted path; a plain name has one part.
	Parts    []string
	ExprSpan source.Span
}

// TypeSubscript is a parameterised type like `list[int]`,
// `dict[str, int]`, `Optional[str]` or `Union[int, str]`.
type TypeSubscript struct {
	Base     *TypeName
	Params   []TypeExpr
	ExprSpan source.Span
}

func (t *TypeName) Span() source.Span      { return t.ExprSpan }
func (t *TypeSubscript) Span() source.Span { return t.ExprSpan }
func (*TypeName) typeNode()                {}
func (*TypeSubscript) typeNode()           {}

// Name returns the dotted form of the type name.
func (t *TypeName) Name() string {
	out := t.Parts[0]
	for _, p := range t.Parts[1:] {
		out += "." + p
	}
	return out
}

// ---- Statements ----

// ExprStmt is an expression evaluated for effect at statement level.
type ExprStmt struct {
	X Expr
}

// AssignStmt binds a value to a name, property or forward declaration.
type AssignStmt struct {
	// Target is an IdentExpr or DotExpr.
	Target Expr
	// Type is the optional annotation.
	Type  TypeExpr
	Value Expr
	// StmtSpan points at the assignment operator.
	StmtSpan source.Span
}

// DeclStmt is a forward declaration `name: type` without a value.
type DeclStmt struct {
	Name     string
	Type     TypeExpr
	StmtSpan source.Span
}

// Branch is one arm of an if/elif chain; Cond is nil for else.
type Branch struct {
	Cond Expr
	Body []Stmt
}

// IfStmt is an if/elif/else chain.
type IfStmt struct {
	Branches []Branch
	StmtSpan source.Span
}

// ForStmt is `for name in expr:` over an ordered container.
type ForStmt struct {
	Name     string
	Iter     Expr
	Body     []Stmt
	StmtSpan source.Span
}

// Decorator is `@name(args)` applied to the following declaration.
type Decorator struct {
	Name     string
	Args     []Expr
	StmtSpan source.Span
}

// Property is one property schema line in a resource body.
type Property struct {
	Name    string
	Type    TypeExpr
	Default Expr
	Promise bool
	Span    source.Span
}

// Param is a constructor parameter.
type Param struct {
	Name    string
	Type    TypeExpr
	Default Expr
	Span    source.Span
}

// Constructor is an `implement name(self, ...):` or `def __init__` block.
type Constructor struct {
	Name       string
	Params     []Param
	Body       []Stmt
	Constraint Expr // from @constraint, nil if absent
	Span       source.Span
}

// ResourceStmt declares a resource definition.
type ResourceStmt struct {
	Name         string
	Parent       *TypeName // nil when the definition has no parent
	Decorators   []Decorator
	Properties   []Property
	Constructors []*Constructor
	// InheritOnly marks a `...` body.
	InheritOnly bool
	StmtSpan    source.Span
}

// TypedefStmt is `typedef Name base if refinement`.
type TypedefStmt struct {
	Name       string
	Base       TypeExpr
	Refinement Expr // nil when the typedef is a plain alias
	StmtSpan   source.Span
}

// EnumStmt declares an enum and its members.
type EnumStmt struct {
	Name     string
	Members  []string
	StmtSpan source.Span
}

// ImportStmt is `import a.b.c [as name]`.
type ImportStmt struct {
	Path     []string
	Alias    string
	StmtSpan source.Span
}

// FromImportName is one `name [as alias]` of a from-import.
type FromImportName struct {
	Name  string
	Alias string
	Span  source.Span
}

// FromImportStmt is `from a.b import x, y as z`. Dots holds the number of
// leading dots for relative imports.
type FromImportStmt struct {
	Dots     int
	Path     []string
	Names    []FromImportName
	StmtSpan source.Span
}

// Module is a parsed source file.
type Module struct {
	File  string
	Stmts []Stmt
}

func (s *ExprStmt) Span() source.Span       { return s.X.Span() }
func (s *AssignStmt) Span() source.Span     { return s.StmtSpan }
func (s *DeclStmt) Span() source.Span       { return s.StmtSpan }
func (s *IfStmt) Span() source.Span         { return s.StmtSpan }
func (s *ForStmt) Span() source.Span        { return s.StmtSpan }
func (s *ResourceStmt) Span() source.Span   { return s.StmtSpan }
func (s *TypedefStmt) Span() source.Span    { return s.StmtSpan }
func (s *EnumStmt) Span() source.Span       { return s.StmtSpan }
func (s *ImportStmt) Span() source.Span     { return s.StmtSpan }
func (s *FromImportStmt) Span() source.Span { return s.StmtSpan }

func (*ExprStmt) stmtNode()       {}
func (*AssignStmt) stmtNode()     {}
func (*DeclStmt) stmtNode()       {}
func (*IfStmt) stmtNode()         {}
func (*ForStmt) stmtNode()        {}
func (*ResourceStmt) stmtNode()   {}
func (*TypedefStmt) stmtNode()    {}
func (*EnumStmt) stmtNode()       {}
func (*ImportStmt) stmtNode()     {}
func (*FromImportStmt) stmtNode() {}
