package parser

import (
	"testing"

	"github.com/eikobot/eikobot/pkg/ast"
	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/source"
)

func parse(t *testing.T, src string) *ast.Module {
	t.Helper()
	srcmap := source.NewMap()
	file := srcmap.Add("test.eiko", src)
	mod, errors := ParseFile(file)
	if len(errors) > 0 {
		t.Fatalf("parse failed: %v", errors)
	}
	return mod
}

func TestParseAssignment(t *testing.T) {
	mod := parse(t, "a = 1 + 2\n")
	if len(mod.Stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(mod.Stmts))
	}
	assign, ok := mod.Stmts[0].(*ast.AssignStmt)
	if !ok {
		t.Fatalf("expected AssignStmt, got %T", mod.Stmts[0])
	}
	if _, ok := assign.Value.(*ast.BinaryExpr); !ok {
		t.Errorf("expected BinaryExpr value, got %T", assign.Value)
	}
}

func TestParsePrecedence(t *testing.T) {
	mod := parse(t, "a = 1 + 2 * 3\n")
	assign := mod.Stmts[0].(*ast.AssignStmt)
	add, ok := assign.Value.(*ast.BinaryExpr)
	if !ok || add.Op != "+" {
		t.Fatalf("expected + at the root, got %T", assign.Value)
	}
	mul, ok := add.Right.(*ast.BinaryExpr)
	if !ok || mul.Op != "*" {
		t.Fatalf("expected * on the right, got %T", add.Right)
	}
}

func TestParseComparisonAndBool(t *testing.T) {
	mod := parse(t, "ok = 1 <= x and x <= 65535\n")
	assign := mod.Stmts[0].(*ast.AssignStmt)
	band, ok := assign.Value.(*ast.BinaryExpr)
	if !ok || band.Op != "and" {
		t.Fatalf("expected 'and' at the root, got %T", assign.Value)
	}
	if _, ok := band.Left.(*ast.CompareExpr); !ok {
		t.Errorf("expected CompareExpr on the left, got %T", band.Left)
	}
}

func TestParseForwardDeclaration(t *testing.T) {
	mod := parse(t, "a: int\na = 5\n")
	if _, ok := mod.Stmts[0].(*ast.DeclStmt); !ok {
		t.Fatalf("expected DeclStmt, got %T", mod.Stmts[0])
	}
	if _, ok := mod.Stmts[1].(*ast.AssignStmt); !ok {
		t.Fatalf("expected AssignStmt, got %T", mod.Stmts[1])
	}
}

func TestParseResource(t *testing.T) {
	src := `resource Wheel:
    brand: str
    age: int = 0
`
	mod := parse(t, src)
	res, ok := mod.Stmts[0].(*ast.ResourceStmt)
	if !ok {
		t.Fatalf("expected ResourceStmt, got %T", mod.Stmts[0])
	}
	if res.Name != "Wheel" {
		t.Errorf("name: got %q", res.Name)
	}
	if len(res.Properties) != 2 {
		t.Fatalf("expected 2 properties, got %d", len(res.Properties))
	}
	if res.Properties[0].Name != "brand" || res.Properties[1].Name != "age" {
		t.Errorf("property order: %v, %v", res.Properties[0].Name, res.Properties[1].Name)
	}
	if res.Properties[1].Default == nil {
		t.Errorf("age should carry a default")
	}
}

func TestParseResourceWithConstructors(t *testing.T) {
	src := `resource WebServer:
    host: str

    @constraint(isinstance(h, Debian))
    implement a(self, h: Host):
        self.host = h.hostname

    implement b(self, h: Host, port: int = 80):
        self.host = h.hostname
`
	mod := parse(t, src)
	res := mod.Stmts[0].(*ast.ResourceStmt)
	if len(res.Constructors) != 2 {
		t.Fatalf("expected 2 constructors, got %d", len(res.Constructors))
	}
	if res.Constructors[0].Constraint == nil {
		t.Errorf("first constructor should carry a constraint")
	}
	if res.Constructors[1].Constraint != nil {
		t.Errorf("second constructor should not carry a constraint")
	}
	if len(res.Constructors[1].Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(res.Constructors[1].Params))
	}
	if res.Constructors[1].Params[1].Default == nil {
		t.Errorf("port should carry a default")
	}
}

func TestParseInheritanceAndTripleDot(t *testing.T) {
	src := `resource Debian(Host):
    ...
`
	mod := parse(t, src)
	res := mod.Stmts[0].(*ast.ResourceStmt)
	if res.Parent == nil || res.Parent.Name() != "Host" {
		t.Fatalf("parent: %+v", res.Parent)
	}
	if !res.InheritOnly {
		t.Errorf("expected an inherit-only body")
	}
}

func TestParseIndexDecorator(t *testing.T) {
	src := `@index(["host.hostname", "path"])
resource File:
    path: str
`
	mod := parse(t, src)
	res := mod.Stmts[0].(*ast.ResourceStmt)
	if len(res.Decorators) != 1 || res.Decorators[0].Name != "index" {
		t.Fatalf("decorators: %+v", res.Decorators)
	}
}

func TestParsePromiseProperty(t *testing.T) {
	src := `resource VM:
    name: str
    promise ip: str
`
	mod := parse(t, src)
	res := mod.Stmts[0].(*ast.ResourceStmt)
	if len(res.Properties) != 2 {
		t.Fatalf("expected 2 properties, got %d", len(res.Properties))
	}
	if !res.Properties[1].Promise {
		t.Errorf("ip should be a promise property")
	}
}

func TestParseTypedef(t *testing.T) {
	mod := parse(t, "typedef Port int if 1 <= self and self <= 65535\n")
	td, ok := mod.Stmts[0].(*ast.TypedefStmt)
	if !ok {
		t.Fatalf("expected TypedefStmt, got %T", mod.Stmts[0])
	}
	if td.Name != "Port" || td.Refinement == nil {
		t.Errorf("typedef: %+v", td)
	}
}

func TestParseEnum(t *testing.T) {
	src := `enum Color:
    red
    green
    blue
`
	mod := parse(t, src)
	enum := mod.Stmts[0].(*ast.EnumStmt)
	if len(enum.Members) != 3 || enum.Members[0] != "red" {
		t.Errorf("members: %v", enum.Members)
	}
}

func TestParseImports(t *testing.T) {
	src := "import std.ssh as remote\nfrom .ssh import Host, Cmd as Command\n"
	mod := parse(t, src)

	imp := mod.Stmts[0].(*ast.ImportStmt)
	if imp.Alias != "remote" || len(imp.Path) != 2 {
		t.Errorf("import: %+v", imp)
	}

	from := mod.Stmts[1].(*ast.FromImportStmt)
	if from.Dots != 1 || len(from.Names) != 2 {
		t.Fatalf("from-import: %+v", from)
	}
	if from.Names[1].Alias != "Command" {
		t.Errorf("alias: %q", from.Names[1].Alias)
	}
}

func TestParseTypeExpressions(t *testing.T) {
	src := `a: list[int]
b: dict[str, list[int]]
c: Optional[str]
d: Union[int, str]
e: std.Host
`
	mod := parse(t, src)
	if len(mod.Stmts) != 5 {
		t.Fatalf("expected 5 statements, got %d", len(mod.Stmts))
	}
	b := mod.Stmts[1].(*ast.DeclStmt)
	sub, ok := b.Type.(*ast.TypeSubscript)
	if !ok || sub.Base.Name() != "dict" || len(sub.Params) != 2 {
		t.Fatalf("dict annotation: %+v", b.Type)
	}
	e := mod.Stmts[4].(*ast.DeclStmt)
	name, ok := e.Type.(*ast.TypeName)
	if !ok || name.Name() != "std.Host" {
		t.Fatalf("dotted annotation: %+v", e.Type)
	}
}

func TestParseCallArguments(t *testing.T) {
	mod := parse(t, "s = Server(\"web\", port=8080, tags=[\"a\", \"b\"],)\n")
	assign := mod.Stmts[0].(*ast.AssignStmt)
	call := assign.Value.(*ast.CallExpr)
	if len(call.Args) != 3 {
		t.Fatalf("expected 3 arguments, got %d", len(call.Args))
	}
	if call.Args[0].Name != "" || call.Args[1].Name != "port" || call.Args[2].Name != "tags" {
		t.Errorf("argument names: %+v", call.Args)
	}
}

func TestParseIfElifElse(t *testing.T) {
	src := `if a:
    x = 1
elif b:
    x = 2
else:
    x = 3
`
	mod := parse(t, src)
	stmt := mod.Stmts[0].(*ast.IfStmt)
	if len(stmt.Branches) != 3 {
		t.Fatalf("expected 3 branches, got %d", len(stmt.Branches))
	}
	if stmt.Branches[2].Cond != nil {
		t.Errorf("else branch should have no condition")
	}
}

func TestParseForLoop(t *testing.T) {
	src := `for name in names:
    Server(name)
`
	mod := parse(t, src)
	stmt := mod.Stmts[0].(*ast.ForStmt)
	if stmt.Name != "name" || len(stmt.Body) != 1 {
		t.Errorf("for: %+v", stmt)
	}
}

func TestParseRecoversPerStatement(t *testing.T) {
	srcmap := source.NewMap()
	file := srcmap.Add("test.eiko", "a = = 1\nb = 2\nc = ]\nd = 4\n")
	mod, errors := ParseFile(file)
	if len(errors) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errors), errors)
	}
	for _, err := range errors {
		if !errs.IsKind(err, errs.KindSyntax) {
			t.Errorf("expected SyntaxError, got %v", err)
		}
	}
	// The good statements survive.
	if len(mod.Stmts) != 2 {
		t.Errorf("expected 2 surviving statements, got %d", len(mod.Stmts))
	}
}

func TestParseAdjacentStringsConcatenate(t *testing.T) {
	mod := parse(t, "a = \"one\" \"two\"\n")
	assign := mod.Stmts[0].(*ast.AssignStmt)
	lit, ok := assign.Value.(*ast.StringLit)
	if !ok || lit.Value != "onetwo" {
		t.Errorf("got %+v", assign.Value)
	}
}

func TestParseFString(t *testing.T) {
	mod := parse(t, "a = f\"port {p} open\"\n")
	assign := mod.Stmts[0].(*ast.AssignStmt)
	fstr, ok := assign.Value.(*ast.FStringExpr)
	if !ok {
		t.Fatalf("expected FStringExpr, got %T", assign.Value)
	}
	if len(fstr.Parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(fstr.Parts))
	}
	if fstr.Parts[1].Expr == nil {
		t.Errorf("middle part should be an expression")
	}
}
