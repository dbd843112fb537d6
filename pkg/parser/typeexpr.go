package parser

import (
	"github.com/eikobot/eikobot/pkg/ast"
	"github.com/eikobot/eikobot/pkg/lexer"
)

// parseTypeExpr parses the type-expression mini-grammar used by
// annotations and typedef bases:
//
//	type      := name [ '[' type { ',' type } [','] ']' ]
//	name      := IDENT { '.' IDENT }
//
// Value expressions are never valid here, which keeps annotations
// unambiguous.
func (p *Parser) parseTypeExpr() (ast.TypeExpr, error) {
	name, err := p.parseTypeName()
	if err != nil {
		return nil, err
	}

	if !p.at(lexer.LBracket) {
		return name, nil
	}

	p.advance()
	sub := &ast.TypeSubscript{Base: name}
	for !p.at(lexer.RBracket) {
		param, err := p.parseTypeExpr()
		if err != nil {
			return nil, err
		}
		sub.Params = append(sub.Params, param)
		if !p.at(lexer.Comma) {
			break
		}
		p.advance()
	}
	closing, err := p.expectTok(lexer.RBracket)
	if err != nil {
		return nil, err
	}
	sub.ExprSpan = name.ExprSpan.To(closing.Span)
	return sub, nil
}

func (p *Parser) parseTypeName() (*ast.TypeName, error) {
	tok, err := p.expectTok(lexer.Ident)
	if err != nil {
		return nil, err
	}
	name := &ast.TypeName{Parts: []string{tok.Lexeme}, ExprSpan: tok.Span}
	for p.at(lexer.Dot) {
		p.advance()
		part, err := p.expectTok(lexer.Ident)
		if err != nil {
			return nil, err
		}
		name.Parts = append(name.Parts, part.Lexeme)
		name.ExprSpan = name.ExprSpan.To(part.Span)
	}
	return name, nil
}
