// Package lexer turns Eiko source text into a token stream.
//
// Indentation is tracked with a stack of column widths and surfaced as
// explicit INDENT and DEDENT tokens, so the parser never has to reason
// about whitespace. Newlines inside bracket pairs are suppressed.
package lexer

import (
	"strings"

	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/source"
)

// Kind identifies the type of a token.
type Kind int

const (
	EOF Kind = iota
	Newline
	Indent
	Dedent

	Ident
	IntLit
	FloatLit
	StringLit

	// f-string tokens: FStringStart, then alternating FStringLit and
	// FStringExprStart ... FStringExprEnd groups, closed by FStringEnd.
	FStringStart
	FStringLit
	FStringExprStart
	FStringExprEnd
	FStringEnd

	KwImport
	KwFrom
	KwAs
	KwResource
	KwTypedef
	KwEnum
	KwDef
	KwImplement
	KwSelf
	KwIf
	KwElif
	KwElse
	KwFor
	KwIn
	KwAnd
	KwOr
	KwNot
	KwTrue
	KwFalse
	KwNone
	KwPromise
	KwIsInstance

	LParen
	RParen
	LBracket
	RBracket
	LBrace
	RBrace
	Colon
	DoubleColon
	Comma
	Dot
	TripleDot
	At

	Assign
	ArithOp
	CompareOp
)

var kindNames = map[Kind]string{
	EOF: "EOF", Newline: "NEWLINE", Indent: "INDENT", Dedent: "DEDENT",
	Ident: "identifier", IntLit: "integer", FloatLit: "float", StringLit: "string",
	FStringStart: "f-string", FStringLit: "f-string literal",
	FStringExprStart: "f-string expression", FStringExprEnd: "end of f-string expression",
	FStringEnd: "end of f-string",
	KwImport:  "import", KwFrom: "from", KwAs: "as", KwResource: "resource",
	KwTypedef: "typedef", KwEnum: "enum", KwDef: "def", KwImplement: "implement",
	KwSelf: "self", KwIf: "if", KwElif: "elif", KwElse: "else", KwFor: "for",
	KwIn: "in", KwAnd: "and", KwOr: "or", KwNot: "not", KwTrue: "True",
	KwFalse: "False", KwNone: "None", KwPromise: "promise", KwIsInstance: "isinstance",
	LParen: "(", RParen: ")", LBracket: "[", RBracket: "]", LBrace: "{",
	RBrace: "}", Colon: ":", DoubleColon: "::", Comma: ",", Dot: ".",
	TripleDot: "...", At: "@", Assign: "=", ArithOp: "arithmetic operator",
	CompareOp: "comparison operator",
}

// String returns a readable name for the kind, for diagnostics.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

var keywords = map[string]Kind{
	"import":     KwImport,
	"from":       KwFrom,
	"as":         KwAs,
	"resource":   KwResource,
	"typedef":    KwTypedef,
	"enum":       KwEnum,
	"def":        KwDef,
	"implement":  KwImplement,
	"self":       KwSelf,
	"if":         KwIf,
	"elif":       KwElif,
	"else":       KwElse,
	"for":        KwFor,
	"in":         KwIn,
	"and":        KwAnd,
	"or":         KwOr,
	"not":        KwNot,
	"True":       KwTrue,
	"False":      KwFalse,
	"None":       KwNone,
	"promise":    KwPromise,
	"isinstance": KwIsInstance,
}

// Token is a single lexical token with its source span.
type Token struct {
	Kind   Kind
	Lexeme string
	Span   source.Span
}

// IsKeyword reports whether the token is any keyword.
func (t Token) IsKeyword() bool {
	return t.Kind >= KwImport && t.Kind <= KwIsInstance
}

type scanner struct {
	file    string
	src     string
	pos     int
	line    int
	col     int

	indents      []int
	bracketDepth int
	tokens       []Token

	// sub reports this scanner lexes an embedded f-string expression:
	// indentation and newlines are not tracked.
	sub bool
}

// Tokenize lexes source content registered under file.
func Tokenize(file *source.File) ([]Token, error) {
	s := &scanner{
		file:    file.Path,
		src:     file.Content,
		line:    1,
		col:     1,
		indents: []int{0},
	}
	return s.run()
}

func (s *scanner) run() ([]Token, error) {
	for !s.atEnd() {
		if !s.sub && s.bracketDepth == 0 && s.col == 1 {
			if err := s.scanIndentation(); err != nil {
				return nil, err
			}
			if s.atEnd() {
				break
			}
		}

		if err := s.scanLine(); err != nil {
			return nil, err
		}
	}

	if !s.sub {
		// A final line without terminating newline still closes cleanly.
		if n := len(s.tokens); n > 0 && s.tokens[n-1].Kind != Newline &&
			s.tokens[n-1].Kind != Indent && s.tokens[n-1].Kind != Dedent {
			s.emit(Newline, "")
		}
		for len(s.indents) > 1 {
			s.indents = s.indents[:len(s.indents)-1]
			s.emit(Dedent, "")
		}
	}
	s.emit(EOF, "")
	return s.tokens, nil
}

// scanIndentation handles the whitespace prefix of a logical line.
// Blank and comment-only lines produce no tokens at all.
func (s *scanner) scanIndentation() error {
	start := s.here()
	spaces, tabs := 0, 0
	for !s.atEnd() {
		switch s.peek() {
		case ' ':
			spaces++
			s.advance()
			continue
		case '\t':
			tabs++
			s.advance()
			continue
		}
		break
	}

	if s.atEnd() || s.peek() == '\n' || s.peek() == '#' {
		// Nothing on this line; comments are consumed by scanLine.
		return nil
	}

	if spaces > 0 && tabs > 0 {
		return errs.New(errs.KindLex,
			"inconsistent use of tabs and spaces in indentation").
			WithSpan(source.NewSpan(s.file, start.Line, start.Col))
	}

	width := spaces + tabs
	current := s.indents[len(s.indents)-1]
	switch {
	case width > current:
		s.indents = append(s.indents, width)
		s.emit(Indent, "")
	case width < current:
		for len(s.indents) > 1 && s.indents[len(s.indents)-1] > width {
			s.indents = s.indents[:len(s.indents)-1]
			s.emit(Dedent, "")
		}
		if s.indents[len(s.indents)-1] != width {
			return errs.New(errs.KindLex,
				"unindent does not match any outer indentation level").
				WithSpan(source.NewSpan(s.file, start.Line, start.Col))
		}
	}
	return nil
}

// scanLine lexes tokens until the end of the current physical line.
func (s *scanner) scanLine() error {
	for !s.atEnd() {
		ch := s.peek()

		switch {
		case ch == '\n':
			s.advance()
			if s.bracketDepth == 0 && !s.sub {
				if n := len(s.tokens); n > 0 && s.lastMeaningful() {
					s.emit(Newline, "")
				}
				return nil
			}
			continue

		case ch == ' ' || ch == '\t' || ch == '\r':
			s.advance()
			continue

		case ch == '#':
			for !s.atEnd() && s.peek() != '\n' {
				s.advance()
			}
			continue
		}

		if err := s.scanToken(); err != nil {
			return err
		}
	}
	return nil
}

// lastMeaningful reports whether the last emitted token ends a logical line.
func (s *scanner) lastMeaningful() bool {
	k := s.tokens[len(s.tokens)-1].Kind
	return k != Newline && k != Indent && k != Dedent
}

func (s *scanner) scanToken() error {
	start := s.here()
	ch := s.peek()

	if isIdentStart(ch) {
		return s.scanIdentOrString(start)
	}
	if isDigit(ch) {
		s.scanNumber(start)
		return nil
	}
	if ch == '"' || ch == '\'' {
		return s.scanString(start, false)
	}
	return s.scanOperator(start)
}

func (s *scanner) scanIdentOrString(start source.Position) error {
	// A lone r or f prefix directly followed by a quote starts a raw
	// or format string rather than an identifier.
	if s.peek() == 'r' && (s.peekAt(1) == '"' || s.peekAt(1) == '\'') {
		s.advance()
		return s.scanString(start, true)
	}
	if s.peek() == 'f' && (s.peekAt(1) == '"' || s.peekAt(1) == '\'') {
		s.advance()
		return s.scanFString(start)
	}

	from := s.pos
	for !s.atEnd() && isIdentPart(s.peek()) {
		s.advance()
	}
	text := s.src[from:s.pos]
	if kind, ok := keywords[text]; ok {
		s.emitAt(kind, text, start)
		return nil
	}
	s.emitAt(Ident, text, start)
	return nil
}

func (s *scanner) scanNumber(start source.Position) {
	from := s.pos
	isFloat := false
	for !s.atEnd() {
		ch := s.peek()
		if isDigit(ch) {
			s.advance()
			continue
		}
		// A single dot continues a float, but `1..2` or `1...` does not.
		if ch == '.' && !isFloat && isDigit(s.peekAt(1)) {
			isFloat = true
			s.advance()
			continue
		}
		break
	}
	kind := IntLit
	if isFloat {
		kind = FloatLit
	}
	s.emitAt(kind, s.src[from:s.pos], start)
}

func (s *scanner) scanString(start source.Position, raw bool) error {
	delim := s.peek()
	s.advance()

	var b strings.Builder
	for {
		if s.atEnd() || s.peek() == '\n' {
			return errs.New(errs.KindLex, "EOL while scanning string literal").
				WithSpan(source.NewSpan(s.file, start.Line, start.Col))
		}
		ch := s.peek()
		if ch == delim {
			s.advance()
			break
		}
		if ch == '\\' && !raw {
			s.advance()
			if s.atEnd() {
				return errs.New(errs.KindLex, "EOL while scanning string literal").
					WithSpan(source.NewSpan(s.file, start.Line, start.Col))
			}
			b.WriteString(unescape(s.peek()))
			s.advance()
			continue
		}
		b.WriteByte(ch)
		s.advance()
	}
	s.emitAt(StringLit, b.String(), start)
	return nil
}

func unescape(ch byte) string {
	switch ch {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case 'r':
		return "\r"
	case '0':
		return "\x00"
	case '\\', '"', '\'':
		return string(ch)
	default:
		// Unknown escapes pass through unchanged.
		return "\\" + string(ch)
	}
}

// scanFString lexes an f-string, splitting it into literal chunks and
// embedded expression token groups.
func (s *scanner) scanFString(start source.Position) error {
	delim := s.peek()
	s.advance()
	s.emitAt(FStringStart, string(delim), start)

	var lit strings.Builder
	litStart := s.here()
	flush := func() {
		if lit.Len() > 0 {
			s.emitAt(FStringLit, lit.String(), litStart)
			lit.Reset()
		}
	}

	for {
		if s.atEnd() || s.peek() == '\n' {
			return errs.New(errs.KindLex, "EOL while scanning f-string literal").
				WithSpan(source.NewSpan(s.file, start.Line, start.Col))
		}
		ch := s.peek()

		switch {
		case ch == delim:
			s.advance()
			flush()
			s.emit(FStringEnd, string(delim))
			return nil

		case ch == '\\':
			s.advance()
			if s.atEnd() {
				return errs.New(errs.KindLex, "EOL while scanning f-string literal").
					WithSpan(source.NewSpan(s.file, start.Line, start.Col))
			}
			lit.WriteString(unescape(s.peek()))
			s.advance()

		case ch == '{' && s.peekAt(1) == '{':
			lit.WriteByte('{')
			s.advance()
			s.advance()

		case ch == '}' && s.peekAt(1) == '}':
			lit.WriteByte('}')
			s.advance()
			s.advance()

		case ch == '}':
			return errs.New(errs.KindLex, "single '}' is not allowed in f-string").
				WithSpan(source.NewSpan(s.file, s.line, s.col))

		case ch == '{':
			flush()
			if err := s.scanFStringExpr(delim); err != nil {
				return err
			}
			litStart = s.here()

		default:
			lit.WriteByte(ch)
			s.advance()
		}
	}
}

// scanFStringExpr lexes one `{expr}` group by running a nested scanner
// over the expression substring.
func (s *scanner) scanFStringExpr(delim byte) error {
	open := s.here()
	s.advance() // consume '{'
	s.emitAt(FStringExprStart, "{", open)

	exprStart := s.here()
	from := s.pos
	depth := 1
	for depth > 0 {
		if s.atEnd() || s.peek() == '\n' || s.peek() == delim {
			return errs.New(errs.KindLex, "unterminated expression in f-string").
				WithSpan(source.NewSpan(s.file, open.Line, open.Col))
		}
		switch s.peek() {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				continue
			}
		}
		s.advance()
	}

	sub := &scanner{
		file: s.file,
		src:  s.src[from:s.pos],
		line: exprStart.Line,
		col:  exprStart.Col,
		sub:  true,
	}
	toks, err := sub.run()
	if err != nil {
		return err
	}
	for _, t := range toks {
		if t.Kind == EOF {
			break
		}
		s.tokens = append(s.tokens, t)
	}

	end := s.here()
	s.advance() // consume '}'
	s.emitAt(FStringExprEnd, "}", end)
	return nil
}

func (s *scanner) scanOperator(start source.Position) error {
	ch := s.advance()
	switch ch {
	case '(':
		s.bracketDepth++
		s.emitAt(LParen, "(", start)
	case ')', ']', '}':
		// An unmatched closer is left for the parser to report; it does
		// not open a bracket region that would swallow later newlines.
		if s.bracketDepth > 0 {
			s.bracketDepth--
		}
		switch ch {
		case ')':
			s.emitAt(RParen, ")", start)
		case ']':
			s.emitAt(RBracket, "]", start)
		default:
			s.emitAt(RBrace, "}", start)
		}
	case '[':
		s.bracketDepth++
		s.emitAt(LBracket, "[", start)
	case '{':
		s.bracketDepth++
		s.emitAt(LBrace, "{", start)
	case ',':
		s.emitAt(Comma, ",", start)
	case '@':
		s.emitAt(At, "@", start)
	case ':':
		if s.match(':') {
			s.emitAt(DoubleColon, "::", start)
		} else {
			s.emitAt(Colon, ":", start)
		}
	case '.':
		if s.peek() == '.' && s.peekAt(1) == '.' {
			s.advance()
			s.advance()
			s.emitAt(TripleDot, "...", start)
		} else {
			s.emitAt(Dot, ".", start)
		}
	case '=':
		if s.match('=') {
			s.emitAt(CompareOp, "==", start)
		} else {
			s.emitAt(Assign, "=", start)
		}
	case '!':
		if s.match('=') {
			s.emitAt(CompareOp, "!=", start)
		} else {
			return errs.New(errs.KindLex, "unexpected character '!'").
				WithSpan(source.NewSpan(s.file, start.Line, start.Col))
		}
	case '<':
		if s.match('=') {
			s.emitAt(CompareOp, "<=", start)
		} else {
			s.emitAt(CompareOp, "<", start)
		}
	case '>':
		if s.match('=') {
			s.emitAt(CompareOp, ">=", start)
		} else {
			s.emitAt(CompareOp, ">", start)
		}
	case '+':
		s.emitAt(ArithOp, "+", start)
	case '-':
		s.emitAt(ArithOp, "-", start)
	case '*':
		if s.match('*') {
			s.emitAt(ArithOp, "**", start)
		} else {
			s.emitAt(ArithOp, "*", start)
		}
	case '/':
		if s.match('/') {
			s.emitAt(ArithOp, "//", start)
		} else {
			s.emitAt(ArithOp, "/", start)
		}
	case '%':
		s.emitAt(ArithOp, "%", start)
	default:
		return errs.Newf(errs.KindLex, "unexpected character %q", string(ch)).
			WithSpan(source.NewSpan(s.file, start.Line, start.Col))
	}
	return nil
}

func (s *scanner) here() source.Position {
	return source.Position{Line: s.line, Col: s.col}
}

func (s *scanner) atEnd() bool {
	return s.pos >= len(s.src)
}

func (s *scanner) peek() byte {
	if s.atEnd() {
		return 0
	}
	return s.src[s.pos]
}

func (s *scanner) peekAt(offset int) byte {
	p := s.pos + offset
	if p >= len(s.src) {
		return 0
	}
	return s.src[p]
}

func (s *scanner) advance() byte {
	ch := s.src[s.pos]
	s.pos++
	if ch == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return ch
}

func (s *scanner) match(ch byte) bool {
	if s.peek() == ch {
		s.advance()
		return true
	}
	return false
}

func (s *scanner) emit(kind Kind, lexeme string) {
	s.emitAt(kind, lexeme, s.here())
}

func (s *scanner) emitAt(kind Kind, lexeme string, start source.Position) {
	s.tokens = append(s.tokens, Token{
		Kind:   kind,
		Lexeme: lexeme,
		Span: source.Span{
			File:      s.file,
			StartLine: start.Line,
			StartCol:  start.Col,
			EndLine:   s.line,
			EndCol:    s.col,
		},
	})
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
