// Package parser builds an AST from the lexer's token stream.
//
// Expressions are parsed with Pratt-style precedence climbing; statements
// with plain recursive descent over INDENT/DEDENT blocks. Annotations go
// through a dedicated type-expression sub-grammar (typeexpr.go).
package parser

import (
	"strconv"

	"github.com/eikobot/eikobot/pkg/ast"
	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/lexer"
	"github.com/eikobot/eikobot/pkg/source"
)

// Binding powers, low to high. Assignment is handled at statement level.
var binaryPrecedence = map[string]int{
	"or":  20,
	"and": 30,
	"==":  50,
	"!=":  50,
	"<":   50,
	">":   50,
	"<=":  50,
	">=":  50,
	"in":  50,
	"+":   60,
	"-":   60,
	"*":   70,
	"/":   70,
	"//":  70,
	"%":   70,
	"**":  90,
}

const (
	unaryNegPrecedence = 80
	unaryNotPrecedence = 40
)

// Parser consumes a token stream and produces a module AST.
type Parser struct {
	file   string
	tokens []lexer.Token
	pos    int
	errors []error
}

// New creates a parser over the given file's tokens.
func New(file *source.File, tokens []lexer.Token) *Parser {
	return &Parser{file: file.Path, tokens: tokens}
}

// ParseFile tokenizes and parses a registered source file.
func ParseFile(file *source.File) (*ast.Module, []error) {
	tokens, err := lexer.Tokenize(file)
	if err != nil {
		return nil, []error{err}
	}
	return New(file, tokens).Parse()
}

// Parse parses the whole token stream. Statements that fail to parse are
// skipped and reported; parsing continues at the next statement.
func (p *Parser) Parse() (*ast.Module, []error) {
	mod := &ast.Module{File: p.file}
	for !p.at(lexer.EOF) {
		stmt, err := p.parseStmt()
		if err != nil {
			p.errors = append(p.errors, err)
			p.synchronize()
			continue
		}
		if stmt != nil {
			mod.Stmts = append(mod.Stmts, stmt)
		}
	}
	return mod, p.errors
}

// synchronize skips tokens until the start of the next statement.
func (p *Parser) synchronize() {
	depth := 0
	for !p.at(lexer.EOF) {
		switch p.cur().Kind {
		case lexer.Indent:
			depth++
		case lexer.Dedent:
			if depth == 0 {
				// Parse runs at module level, so these dedents close the
				// block the failed statement sat in.
				for p.at(lexer.Dedent) {
					p.advance()
				}
				return
			}
			depth--
		case lexer.Newline:
			if depth == 0 {
				p.advance()
				for p.at(lexer.Dedent) {
					p.advance()
				}
				return
			}
		}
		p.advance()
	}
}

// ---- statements ----

func (p *Parser) parseStmt() (ast.Stmt, error) {
	switch p.cur().Kind {
	case lexer.Newline:
		p.advance()
		return nil, nil
	case lexer.KwImport:
		return p.parseImport()
	case lexer.KwFrom:
		return p.parseFromImport()
	case lexer.At:
		return p.parseDecorated()
	case lexer.KwResource:
		return p.parseResource(nil)
	case lexer.KwTypedef:
		return p.parseTypedef()
	case lexer.KwEnum:
		return p.parseEnum()
	case lexer.KwIf:
		return p.parseIf()
	case lexer.KwFor:
		return p.parseFor()
	default:
		return p.parseSimpleStmt()
	}
}

// parseSimpleStmt parses declarations, assignments and expression
// statements, all of which start with an expression.
func (p *Parser) parseSimpleStmt() (ast.Stmt, error) {
	expr, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}

	// `name: type [= value]`: forward declaration or annotated assignment.
	if p.at(lexer.Colon) {
		ident, ok := expr.(*ast.IdentExpr)
		if !ok {
			return nil, p.errorAt(p.cur().Span, "only plain names can carry a type annotation")
		}
		p.advance()
		typ, err := p.parseTypeExpr()
		if err != nil {
			return nil, err
		}
		if p.at(lexer.Assign) {
			opSpan := p.advance().Span
			value, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if err := p.endStmt(); err != nil {
				return nil, err
			}
			return &ast.AssignStmt{Target: ident, Type: typ, Value: value, StmtSpan: opSpan}, nil
		}
		if err := p.endStmt(); err != nil {
			return nil, err
		}
		return &ast.DeclStmt{Name: ident.Name, Type: typ, StmtSpan: ident.ExprSpan}, nil
	}

	if p.at(lexer.Assign) {
		opSpan := p.advance().Span
		switch expr.(type) {
		case *ast.IdentExpr, *ast.DotExpr:
		default:
			return nil, p.errorAt(opSpan, "cannot assign to this expression")
		}
		value, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if err := p.endStmt(); err != nil {
			return nil, err
		}
		return &ast.AssignStmt{Target: expr, Value: value, StmtSpan: opSpan}, nil
	}

	if err := p.endStmt(); err != nil {
		return nil, err
	}
	return &ast.ExprStmt{X: expr}, nil
}

func (p *Parser) parseImport() (ast.Stmt, error) {
	start := p.expect(lexer.KwImport)
	path, err := p.parseDottedName()
	if err != nil {
		return nil, err
	}
	alias := ""
	if p.at(lexer.KwAs) {
		p.advance()
		tok, err := p.expectTok(lexer.Ident)
		if err != nil {
			return nil, err
		}
		alias = tok.Lexeme
	}
	if err := p.endStmt(); err != nil {
		return nil, err
	}
	return &ast.ImportStmt{Path: path, Alias: alias, StmtSpan: start.Span}, nil
}

func (p *Parser) parseFromImport() (ast.Stmt, error) {
	start := p.expect(lexer.KwFrom)

	dots := 0
	for p.at(lexer.Dot) || p.at(lexer.TripleDot) {
		if p.at(lexer.TripleDot) {
			dots += 3
		} else {
			dots++
		}
		p.advance()
	}

	var path []string
	if p.at(lexer.Ident) {
		var err error
		path, err = p.parseDottedName()
		if err != nil {
			return nil, err
		}
	}
	if dots == 0 && len(path) == 0 {
		return nil, p.errorAt(p.cur().Span, "expected module path after 'from'")
	}

	if _, err := p.expectTok(lexer.KwImport); err != nil {
		return nil, err
	}

	var names []ast.FromImportName
	for {
		tok, err := p.expectTok(lexer.Ident)
		if err != nil {
			return nil, err
		}
		name := ast.FromImportName{Name: tok.Lexeme, Span: tok.Span}
		if p.at(lexer.KwAs) {
			p.advance()
			alias, err := p.expectTok(lexer.Ident)
			if err != nil {
				return nil, err
			}
			name.Alias = alias.Lexeme
		}
		names = append(names, name)
		if !p.at(lexer.Comma) {
			break
		}
		p.advance()
	}
	if err := p.endStmt(); err != nil {
		return nil, err
	}
	return &ast.FromImportStmt{Dots: dots, Path: path, Names: names, StmtSpan: start.Span}, nil
}

// parseDecorated collects decorators and applies them to the declaration
// that follows.
func (p *Parser) parseDecorated() (ast.Stmt, error) {
	var decorators []ast.Decorator
	for p.at(lexer.At) {
		dec, err := p.parseDecorator()
		if err != nil {
			return nil, err
		}
		decorators = append(decorators, dec)
	}
	if !p.at(lexer.KwResource) {
		return nil, p.errorAt(p.cur().Span, "expected a resource definition after decorator")
	}
	return p.parseResource(decorators)
}

func (p *Parser) parseDecorator() (ast.Decorator, error) {
	start := p.expect(lexer.At)
	nameTok, err := p.expectTok(lexer.Ident)
	if err != nil {
		return ast.Decorator{}, err
	}
	dec := ast.Decorator{Name: nameTok.Lexeme, StmtSpan: start.Span.To(nameTok.Span)}
	if p.at(lexer.LParen) {
		p.advance()
		for !p.at(lexer.RParen) {
			arg, err := p.parseExpr(0)
			if err != nil {
				return ast.Decorator{}, err
			}
			dec.Args = append(dec.Args, arg)
			if !p.at(lexer.Comma) {
				break
			}
			p.advance()
		}
		if _, err := p.expectTok(lexer.RParen); err != nil {
			return ast.Decorator{}, err
		}
	}
	// Trailing newline between a decorator and its declaration.
	for p.at(lexer.Newline) {
		p.advance()
	}
	return dec, nil
}

func (p *Parser) parseResource(decorators []ast.Decorator) (ast.Stmt, error) {
	start := p.expect(lexer.KwResource)
	nameTok, err := p.expectTok(lexer.Ident)
	if err != nil {
		return nil, err
	}

	res := &ast.ResourceStmt{
		Name:       nameTok.Lexeme,
		Decorators: decorators,
		StmtSpan:   start.Span.To(nameTok.Span),
	}

	if p.at(lexer.LParen) {
		p.advance()
		parent, err := p.parseTypeName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectTok(lexer.RParen); err != nil {
			return nil, err
		}
		res.Parent = parent
	}

	if _, err := p.expectTok(lexer.Colon); err != nil {
		return nil, err
	}
	if err := p.endStmt(); err != nil {
		return nil, err
	}
	if _, err := p.expectTok(lexer.Indent); err != nil {
		return nil, err
	}

	for !p.at(lexer.Dedent) && !p.at(lexer.EOF) {
		if p.at(lexer.Newline) {
			p.advance()
			continue
		}
		if err := p.parseResourceBodyItem(res); err != nil {
			return nil, err
		}
	}
	p.expect(lexer.Dedent)

	if res.InheritOnly && len(res.Properties) > 0 {
		return nil, p.errorAt(res.StmtSpan, "a '...' body cannot declare properties")
	}
	return res, nil
}

func (p *Parser) parseResourceBodyItem(res *ast.ResourceStmt) error {
	switch p.cur().Kind {
	case lexer.TripleDot:
		p.advance()
		res.InheritOnly = true
		return p.endStmt()

	case lexer.At:
		// Only @constraint applies inside a resource body.
		dec, err := p.parseDecorator()
		if err != nil {
			return err
		}
		if dec.Name != "constraint" {
			return p.errorAt(dec.StmtSpan, "only @constraint may decorate a constructor")
		}
		if len(dec.Args) != 1 {
			return p.errorAt(dec.StmtSpan, "@constraint takes exactly one expression")
		}
		ctor, err := p.parseConstructor()
		if err != nil {
			return err
		}
		ctor.Constraint = dec.Args[0]
		res.Constructors = append(res.Constructors, ctor)
		return nil

	case lexer.KwImplement, lexer.KwDef:
		ctor, err := p.parseConstructor()
		if err != nil {
			return err
		}
		res.Constructors = append(res.Constructors, ctor)
		return nil

	case lexer.KwPromise:
		p.advance()
		prop, err := p.parseProperty()
		if err != nil {
			return err
		}
		prop.Promise = true
		res.Properties = append(res.Properties, prop)
		return nil

	case lexer.Ident:
		prop, err := p.parseProperty()
		if err != nil {
			return err
		}
		res.Properties = append(res.Properties, prop)
		return nil

	default:
		return p.errorAt(p.cur().Span, "unexpected token in resource body")
	}
}

func (p *Parser) parseProperty() (ast.Property, error) {
	nameTok, err := p.expectTok(lexer.Ident)
	if err != nil {
		return ast.Property{}, err
	}
	if _, err := p.expectTok(lexer.Colon); err != nil {
		return ast.Property{}, err
	}
	typ, err := p.parseTypeExpr()
	if err != nil {
		return ast.Property{}, err
	}
	prop := ast.Property{Name: nameTok.Lexeme, Type: typ, Span: nameTok.Span}
	if p.at(lexer.Assign) {
		p.advance()
		prop.Default, err = p.parseExpr(0)
		if err != nil {
			return ast.Property{}, err
		}
	}
	return prop, p.endStmt()
}

func (p *Parser) parseConstructor() (*ast.Constructor, error) {
	start := p.advance() // implement or def
	nameTok, err := p.expectTok(lexer.Ident)
	if err != nil {
		return nil, err
	}
	if start.Kind == lexer.KwDef && nameTok.Lexeme != "__init__" {
		return nil, p.errorAt(nameTok.Span, "only '__init__' may be defined with 'def' in a resource body")
	}

	ctor := &ast.Constructor{Name: nameTok.Lexeme, Span: start.Span.To(nameTok.Span)}

	if _, err := p.expectTok(lexer.LParen); err != nil {
		return nil, err
	}
	if !p.at(lexer.KwSelf) {
		return nil, p.errorAt(p.cur().Span, "constructor's first parameter must be 'self'")
	}
	p.advance()

	for p.at(lexer.Comma) {
		p.advance()
		if p.at(lexer.RParen) {
			break // trailing comma
		}
		param, err := p.parseParam()
		if err != nil {
			return nil, err
		}
		ctor.Params = append(ctor.Params, param)
	}
	if _, err := p.expectTok(lexer.RParen); err != nil {
		return nil, err
	}
	if _, err := p.expectTok(lexer.Colon); err != nil {
		return nil, err
	}
	if err := p.endStmt(); err != nil {
		return nil, err
	}

	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	ctor.Body = body
	return ctor, nil
}

func (p *Parser) parseParam() (ast.Param, error) {
	nameTok, err := p.expectTok(lexer.Ident)
	if err != nil {
		return ast.Param{}, err
	}
	param := ast.Param{Name: nameTok.Lexeme, Span: nameTok.Span}
	if p.at(lexer.Colon) {
		p.advance()
		param.Type, err = p.parseTypeExpr()
		if err != nil {
			return ast.Param{}, err
		}
	}
	if p.at(lexer.Assign) {
		p.advance()
		param.Default, err = p.parseExpr(0)
		if err != nil {
			return ast.Param{}, err
		}
	}
	return param, nil
}

func (p *Parser) parseTypedef() (ast.Stmt, error) {
	start := p.expect(lexer.KwTypedef)
	nameTok, err := p.expectTok(lexer.Ident)
	if err != nil {
		return nil, err
	}
	base, err := p.parseTypeExpr()
	if err != nil {
		return nil, err
	}
	td := &ast.TypedefStmt{Name: nameTok.Lexeme, Base: base, StmtSpan: start.Span.To(nameTok.Span)}
	if p.at(lexer.KwIf) {
		p.advance()
		td.Refinement, err = p.parseExpr(0)
		if err != nil {
			return nil, err
		}
	}
	return td, p.endStmt()
}

func (p *Parser) parseEnum() (ast.Stmt, error) {
	start := p.expect(lexer.KwEnum)
	nameTok, err := p.expectTok(lexer.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectTok(lexer.Colon); err != nil {
		return nil, err
	}
	if err := p.endStmt(); err != nil {
		return nil, err
	}
	if _, err := p.expectTok(lexer.Indent); err != nil {
		return nil, err
	}

	stmt := &ast.EnumStmt{Name: nameTok.Lexeme, StmtSpan: start.Span.To(nameTok.Span)}
	for !p.at(lexer.Dedent) && !p.at(lexer.EOF) {
		if p.at(lexer.Newline) {
			p.advance()
			continue
		}
		member, err := p.expectTok(lexer.Ident)
		if err != nil {
			return nil, err
		}
		stmt.Members = append(stmt.Members, member.Lexeme)
		if err := p.endStmt(); err != nil {
			return nil, err
		}
	}
	p.expect(lexer.Dedent)

	if len(stmt.Members) == 0 {
		return nil, p.errorAt(stmt.StmtSpan, "enum must declare at least one member")
	}
	return stmt, nil
}

func (p *Parser) parseIf() (ast.Stmt, error) {
	start := p.expect(lexer.KwIf)
	stmt := &ast.IfStmt{StmtSpan: start.Span}

	cond, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	body, err := p.parseColonBlock()
	if err != nil {
		return nil, err
	}
	stmt.Branches = append(stmt.Branches, ast.Branch{Cond: cond, Body: body})

	for p.at(lexer.KwElif) {
		p.advance()
		cond, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		body, err := p.parseColonBlock()
		if err != nil {
			return nil, err
		}
		stmt.Branches = append(stmt.Branches, ast.Branch{Cond: cond, Body: body})
	}

	if p.at(lexer.KwElse) {
		p.advance()
		body, err := p.parseColonBlock()
		if err != nil {
			return nil, err
		}
		stmt.Branches = append(stmt.Branches, ast.Branch{Body: body})
	}
	return stmt, nil
}

func (p *Parser) parseFor() (ast.Stmt, error) {
	start := p.expect(lexer.KwFor)
	nameTok, err := p.expectTok(lexer.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectTok(lexer.KwIn); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	body, err := p.parseColonBlock()
	if err != nil {
		return nil, err
	}
	return &ast.ForStmt{Name: nameTok.Lexeme, Iter: iter, Body: body, StmtSpan: start.Span}, nil
}

func (p *Parser) parseColonBlock() ([]ast.Stmt, error) {
	if _, err := p.expectTok(lexer.Colon); err != nil {
		return nil, err
	}
	if err := p.endStmt(); err != nil {
		return nil, err
	}
	return p.parseBlock()
}

func (p *Parser) parseBlock() ([]ast.Stmt, error) {
	if _, err := p.expectTok(lexer.Indent); err != nil {
		return nil, err
	}
	var stmts []ast.Stmt
	for !p.at(lexer.Dedent) && !p.at(lexer.EOF) {
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
	p.expect(lexer.Dedent)
	return stmts, nil
}

// ---- expressions ----

func (p *Parser) parseExpr(minPrecedence int) (ast.Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return p.parseBinaryRHS(minPrecedence, lhs)
}

func (p *Parser) parseBinaryRHS(minPrecedence int, lhs ast.Expr) (ast.Expr, error) {
	for {
		op, prec, ok := p.peekBinaryOp()
		if !ok || prec < minPrecedence {
			return lhs, nil
		}
		p.advance()

		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		// Left-associative except exponentiation.
		nextMin := prec + 1
		if op == "**" {
			nextMin = prec
		}
		for {
			_, nextPrec, nextOK := p.peekBinaryOp()
			if !nextOK || nextPrec < nextMin {
				break
			}
			rhs, err = p.parseBinaryRHS(nextMin, rhs)
			if err != nil {
				return nil, err
			}
		}

		span := lhs.Span().To(rhs.Span())
		switch op {
		case "==", "!=", "<", ">", "<=", ">=", "in":
			lhs = &ast.CompareExpr{Op: op, Left: lhs, Right: rhs, ExprSpan: span}
		default:
			lhs = &ast.BinaryExpr{Op: op, Left: lhs, Right: rhs, ExprSpan: span}
		}
	}
}

func (p *Parser) peekBinaryOp() (string, int, bool) {
	tok := p.cur()
	var op string
	switch tok.Kind {
	case lexer.ArithOp, lexer.CompareOp:
		op = tok.Lexeme
	case lexer.KwAnd:
		op = "and"
	case lexer.KwOr:
		op = "or"
	case lexer.KwIn:
		op = "in"
	default:
		return "", 0, false
	}
	prec, ok := binaryPrecedence[op]
	return op, prec, ok
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	tok := p.cur()
	if tok.Kind == lexer.ArithOp && tok.Lexeme == "-" {
		p.advance()
		operand, err := p.parseExpr(unaryNegPrecedence)
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "-", Operand: operand, ExprSpan: tok.Span.To(operand.Span())}, nil
	}
	if tok.Kind == lexer.KwNot {
		p.advance()
		operand, err := p.parseExpr(unaryNotPrecedence)
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "not", Operand: operand, ExprSpan: tok.Span.To(operand.Span())}, nil
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary followed by any number of call, index and
// attribute suffixes.
func (p *Parser) parsePostfix() (ast.Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Kind {
		case lexer.LParen:
			expr, err = p.parseCall(expr)
		case lexer.LBracket:
			expr, err = p.parseIndex(expr)
		case lexer.Dot:
			p.advance()
			attr, aerr := p.expectTok(lexer.Ident)
			if aerr != nil {
				return nil, aerr
			}
			expr = &ast.DotExpr{
				Target:   expr,
				Attr:     attr.Lexeme,
				AttrSpan: attr.Span,
				ExprSpan: expr.Span().To(attr.Span),
			}
		default:
			return expr, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (p *Parser) parseCall(fn ast.Expr) (ast.Expr, error) {
	p.expect(lexer.LParen)
	call := &ast.CallExpr{Fn: fn}

	for !p.at(lexer.RParen) {
		var arg ast.Arg
		// keyword argument: name=value
		if p.at(lexer.Ident) && p.peekKind(1) == lexer.Assign {
			nameTok := p.advance()
			p.advance() // '='
			value, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			arg = ast.Arg{Name: nameTok.Lexeme, Value: value, Span: nameTok.Span.To(value.Span())}
		} else {
			value, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			arg = ast.Arg{Value: value, Span: value.Span()}
		}
		call.Args = append(call.Args, arg)

		if !p.at(lexer.Comma) {
			break
		}
		p.advance()
	}

	closing, err := p.expectTok(lexer.RParen)
	if err != nil {
		return nil, err
	}
	call.ExprSpan = fn.Span().To(closing.Span)
	return call, nil
}

func (p *Parser) parseIndex(target ast.Expr) (ast.Expr, error) {
	p.expect(lexer.LBracket)
	index, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	closing, err := p.expectTok(lexer.RBracket)
	if err != nil {
		return nil, err
	}
	return &ast.IndexExpr{Target: target, Index: index, ExprSpan: target.Span().To(closing.Span)}, nil
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok := p.cur()
	switch tok.Kind {
	case lexer.IntLit:
		p.advance()
		v, err := strconv.ParseInt(tok.Lexeme, 10, 64)
		if err != nil {
			return nil, p.errorAt(tok.Span, "invalid integer literal")
		}
		return &ast.IntLit{Value: v, ExprSpan: tok.Span}, nil

	case lexer.FloatLit:
		p.advance()
		v, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			return nil, p.errorAt(tok.Span, "invalid float literal")
		}
		return &ast.FloatLit{Value: v, ExprSpan: tok.Span}, nil

	case lexer.StringLit:
		p.advance()
		value := tok.Lexeme
		span := tok.Span
		// Adjacent string literals concatenate.
		for p.at(lexer.StringLit) {
			next := p.advance()
			value += next.Lexeme
			span = span.To(next.Span)
		}
		return &ast.StringLit{Value: value, ExprSpan: span}, nil

	case lexer.FStringStart:
		return p.parseFString()

	case lexer.KwTrue:
		p.advance()
		return &ast.BoolLit{Value: true, ExprSpan: tok.Span}, nil

	case lexer.KwFalse:
		p.advance()
		return &ast.BoolLit{Value: false, ExprSpan: tok.Span}, nil

	case lexer.KwNone:
		p.advance()
		return &ast.NoneLit{ExprSpan: tok.Span}, nil

	case lexer.Ident, lexer.KwSelf:
		p.advance()
		name := tok.Lexeme
		if tok.Kind == lexer.KwSelf {
			name = "self"
		}
		return &ast.IdentExpr{Name: name, ExprSpan: tok.Span}, nil

	case lexer.KwIsInstance:
		p.advance()
		return &ast.IdentExpr{Name: "isinstance", ExprSpan: tok.Span}, nil

	case lexer.LParen:
		p.advance()
		expr, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectTok(lexer.RParen); err != nil {
			return nil, err
		}
		return expr, nil

	case lexer.LBracket:
		return p.parseListLit()

	case lexer.LBrace:
		return p.parseDictLit()

	default:
		return nil, p.errorAt(tok.Span, "unexpected token %s", tok.Kind)
	}
}

func (p *Parser) parseListLit() (ast.Expr, error) {
	open := p.expect(lexer.LBracket)
	lit := &ast.ListLit{}
	for !p.at(lexer.RBracket) {
		elem, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		lit.Elems = append(lit.Elems, elem)
		if !p.at(lexer.Comma) {
			break
		}
		p.advance()
	}
	closing, err := p.expectTok(lexer.RBracket)
	if err != nil {
		return nil, err
	}
	lit.ExprSpan = open.Span.To(closing.Span)
	return lit, nil
}

func (p *Parser) parseDictLit() (ast.Expr, error) {
	open := p.expect(lexer.LBrace)
	lit := &ast.DictLit{}
	for !p.at(lexer.RBrace) {
		key, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectTok(lexer.Colon); err != nil {
			return nil, err
		}
		value, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		lit.Entries = append(lit.Entries, ast.DictEntry{Key: key, Value: value})
		if !p.at(lexer.Comma) {
			break
		}
		p.advance()
	}
	closing, err := p.expectTok(lexer.RBrace)
	if err != nil {
		return nil, err
	}
	lit.ExprSpan = open.Span.To(closing.Span)
	return lit, nil
}

func (p *Parser) parseFString() (ast.Expr, error) {
	start := p.expect(lexer.FStringStart)
	fstr := &ast.FStringExpr{ExprSpan: start.Span}

	for {
		switch p.cur().Kind {
		case lexer.FStringLit:
			tok := p.advance()
			fstr.Parts = append(fstr.Parts, ast.FStringPart{Lit: tok.Lexeme})

		case lexer.FStringExprStart:
			p.advance()
			expr, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.expectTok(lexer.FStringExprEnd); err != nil {
				return nil, err
			}
			fstr.Parts = append(fstr.Parts, ast.FStringPart{Expr: expr})

		case lexer.FStringEnd:
			end := p.advance()
			fstr.ExprSpan = start.Span.To(end.Span)
			return fstr, nil

		default:
			return nil, p.errorAt(p.cur().Span, "unexpected token inside f-string")
		}
	}
}

func (p *Parser) parseDottedName() ([]string, error) {
	tok, err := p.expectTok(lexer.Ident)
	if err != nil {
		return nil, err
	}
	parts := []string{tok.Lexeme}
	for p.at(lexer.Dot) {
		p.advance()
		tok, err := p.expectTok(lexer.Ident)
		if err != nil {
			return nil, err
		}
		parts = append(parts, tok.Lexeme)
	}
	return parts, nil
}

// ---- token helpers ----

func (p *Parser) cur() lexer.Token {
	return p.tokens[p.pos]
}

func (p *Parser) peekKind(offset int) lexer.Kind {
	if p.pos+offset >= len(p.tokens) {
		return lexer.EOF
	}
	return p.tokens[p.pos+offset].Kind
}

func (p *Parser) at(kind lexer.Kind) bool {
	return p.cur().Kind == kind
}

func (p *Parser) advance() lexer.Token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

// expect consumes a token the caller already verified.
func (p *Parser) expect(kind lexer.Kind) lexer.Token {
	return p.advance()
}

func (p *Parser) expectTok(kind lexer.Kind) (lexer.Token, error) {
	tok := p.cur()
	if tok.Kind != kind {
		return lexer.Token{}, p.errorAt(tok.Span, "unexpected token %s, expected %s", tok.Kind, kind)
	}
	return p.advance(), nil
}

// endStmt consumes the newline terminating a statement. EOF and a pending
// DEDENT also close a statement.
func (p *Parser) endStmt() error {
	switch p.cur().Kind {
	case lexer.Newline:
		p.advance()
		return nil
	case lexer.EOF, lexer.Dedent:
		return nil
	default:
		return p.errorAt(p.cur().Span, "unexpected token %s, expected end of statement", p.cur().Kind)
	}
}

func (p *Parser) errorAt(span source.Span, format string, args ...any) error {
	return errs.Newf(errs.KindSyntax, format, args...).WithSpan(span)
}
