package flat

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/hupe1980/annbridge/model"
)

// The engine's predicate language is a small SQL-ish filter grammar:
//
//	expr     := or
//	or       := and { OR and }
//	and      := unary { AND unary }
//	unary    := NOT unary | '(' expr ')' | predicate
//	predicate:= operand ( cmpOp operand
//	                    | IS [NOT] NULL
//	                    | [NOT] IN '(' operand {',' operand} ')'
//	                    | [NOT] BETWEEN operand AND operand )?
//	operand  := identifier | number | 'string' | TRUE | FALSE | NULL
//
// String literals double embedded single quotes ('it''s'). A bare
// boolean column or literal is a valid predicate. Comparisons against
// NULL are false; IS NULL is the only way to match nulls.

// RowAccessor resolves a column name to its value for one row.
type RowAccessor func(column string) (model.Value, bool)

// Expr is a compiled predicate.
type Expr interface {
	Eval(row RowAccessor) bool
}

// ParsePredicate compiles a predicate string. An empty or blank input
// yields a nil Expr, meaning match-all.
func ParsePredicate(s string) (Expr, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	p := &parser{lex: newLexer(s)}
	if err := p.next(); err != nil {
		return nil, err
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("predicate: unexpected %q", p.tok.text)
	}
	return e, nil
}

type andExpr struct{ left, right Expr }

func (e andExpr) Eval(row RowAccessor) bool { return e.left.Eval(row) && e.right.Eval(row) }

type orExpr struct{ left, right Expr }

func (e orExpr) Eval(row RowAccessor) bool { return e.left.Eval(row) || e.right.Eval(row) }

type notExpr struct{ inner Expr }

func (e notExpr) Eval(row RowAccessor) bool { return !e.inner.Eval(row) }

type cmpOp uint8

const (
	opEq cmpOp = iota
	opNe
	opLt
	opLe
	opGt
	opGe
)

// operand is a column reference or a literal.
type operand struct {
	column  string
	literal model.Value
}

func (o operand) value(row RowAccessor) (model.Value, bool) {
	if o.column != "" {
		return row(o.column)
	}
	return o.literal, true
}

type cmpExpr struct {
	op    cmpOp
	left  operand
	right operand
}

func (e cmpExpr) Eval(row RowAccessor) bool {
	a, okA := e.left.value(row)
	b, okB := e.right.value(row)
	if !okA || !okB {
		return false
	}
	switch e.op {
	case opEq:
		return compareEqual(a, b)
	case opNe:
		return !a.IsNull() && !b.IsNull() && !compareEqual(a, b)
	case opLt:
		return compareLess(a, b)
	case opLe:
		return compareLess(a, b) || compareEqual(a, b)
	case opGt:
		return compareLess(b, a)
	case opGe:
		return compareLess(b, a) || compareEqual(a, b)
	default:
		return false
	}
}

type isNullExpr struct {
	target operand
	negate bool
}

func (e isNullExpr) Eval(row RowAccessor) bool {
	v, ok := e.target.value(row)
	isNull := !ok || v.IsNull()
	return isNull != e.negate
}

type inExpr struct {
	target operand
	items  []operand
	negate bool
}

func (e inExpr) Eval(row RowAccessor) bool {
	v, ok := e.target.value(row)
	if !ok || v.IsNull() {
		return false
	}
	for _, item := range e.items {
		iv, ok := item.value(row)
		if ok && compareEqual(v, iv) {
			return !e.negate
		}
	}
	return e.negate
}

type betweenExpr struct {
	target operand
	lo, hi operand
	negate bool
}

func (e betweenExpr) Eval(row RowAccessor) bool {
	v, okV := e.target.value(row)
	lo, okL := e.lo.value(row)
	hi, okH := e.hi.value(row)
	if !okV || !okL || !okH || v.IsNull() {
		return false
	}
	in := (compareLess(lo, v) || compareEqual(lo, v)) &&
		(compareLess(v, hi) || compareEqual(v, hi))
	return in != e.negate
}

// boolExpr is a bare operand used as a predicate; it matches when the
// value is boolean true.
type boolExpr struct{ target operand }

func (e boolExpr) Eval(row RowAccessor) bool {
	v, ok := e.target.value(row)
	return ok && v.Kind == model.KindBool && v.B
}

func compareEqual(a, b model.Value) bool {
	if a.IsNull() || b.IsNull() {
		return false
	}
	return a.Equal(b)
}

// compareLess orders numbers across int/float kinds and strings
// lexicographically. Mixed or non-orderable kinds never order.
func compareLess(a, b model.Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.Less(b)
	}
	if a.Kind == model.KindString && b.Kind == model.KindString {
		return a.S < b.S
	}
	return false
}

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp     // = != <> < <= > >=
	tokLParen // (
	tokRParen // )
	tokComma
	tokKeyword // AND OR NOT IS IN BETWEEN NULL TRUE FALSE
)

type token struct {
	kind tokenKind
	text string
}

type lexer struct {
	input string
	pos   int
}

func newLexer(s string) *lexer { return &lexer{input: s} }

var keywords = map[string]struct{}{
	"AND": {}, "OR": {}, "NOT": {}, "IS": {}, "IN": {},
	"BETWEEN": {}, "NULL": {}, "TRUE": {}, "FALSE": {},
}

func (l *lexer) lex() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF}, nil
	}

	c := l.input[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "("}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")"}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ","}, nil
	case c == '=':
		l.pos++
		return token{kind: tokOp, text: "="}, nil
	case c == '!':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '=' {
			l.pos += 2
			return token{kind: tokOp, text: "!="}, nil
		}
		return token{}, fmt.Errorf("predicate: unexpected '!' at offset %d", l.pos)
	case c == '<':
		if l.pos+1 < len(l.input) {
			switch l.input[l.pos+1] {
			case '=':
				l.pos += 2
				return token{kind: tokOp, text: "<="}, nil
			case '>':
				l.pos += 2
				return token{kind: tokOp, text: "!="}, nil
			}
		}
		l.pos++
		return token{kind: tokOp, text: "<"}, nil
	case c == '>':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '=' {
			l.pos += 2
			return token{kind: tokOp, text: ">="}, nil
		}
		l.pos++
		return token{kind: tokOp, text: ">"}, nil
	case c == '\'':
		return l.lexString()
	case c == '"':
		return l.lexQuotedIdent()
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return l.lexNumber()
	case isIdentStart(c):
		return l.lexIdent()
	default:
		return token{}, fmt.Errorf("predicate: unexpected character %q at offset %d", c, l.pos)
	}
}

func (l *lexer) lexString() (token, error) {
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\'' {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '\'' {
				sb.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return token{kind: tokString, text: sb.String()}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("predicate: unterminated string literal")
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if l.input[l.pos] == '-' || l.input[l.pos] == '+' {
		l.pos++
	}
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' {
			l.pos++
			continue
		}
		if (c == '-' || c == '+') && (l.input[l.pos-1] == 'e' || l.input[l.pos-1] == 'E') {
			l.pos++
			continue
		}
		break
	}
	text := l.input[start:l.pos]
	if text == "-" || text == "+" {
		return token{}, fmt.Errorf("predicate: malformed number %q", text)
	}
	return token{kind: tokNumber, text: text}, nil
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	text := l.input[start:l.pos]
	if _, ok := keywords[strings.ToUpper(text)]; ok {
		return token{kind: tokKeyword, text: strings.ToUpper(text)}, nil
	}
	return token{kind: tokIdent, text: text}, nil
}

// lexQuotedIdent reads a double-quoted identifier. Embedded quotes are
// doubled, mirroring string literals.
func (l *lexer) lexQuotedIdent() (token, error) {
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '"' {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '"' {
				sb.WriteByte('"')
				l.pos += 2
				continue
			}
			l.pos++
			return token{kind: tokIdent, text: sb.String()}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("predicate: unterminated quoted identifier")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) next() error {
	t, err := p.lex.lex()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) accept(kind tokenKind, text string) (bool, error) {
	if p.tok.kind != kind || (text != "" && p.tok.text != text) {
		return false, nil
	}
	return true, p.next()
}

func (p *parser) expect(kind tokenKind, text string) error {
	ok, err := p.accept(kind, text)
	if err != nil {
		return err
	}
	if !ok {
		want := text
		if want == "" {
			want = fmt.Sprintf("token kind %d", kind)
		}
		return fmt.Errorf("predicate: expected %s, got %q", want, p.tok.text)
	}
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		ok, err := p.accept(tokKeyword, "OR")
		if err != nil {
			return nil, err
		}
		if !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		ok, err := p.accept(tokKeyword, "AND")
		if err != nil {
			return nil, err
		}
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if ok, err := p.accept(tokKeyword, "NOT"); err != nil {
		return nil, err
	} else if ok {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	}
	if ok, err := p.accept(tokLParen, ""); err != nil {
		return nil, err
	} else if ok {
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ""); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if p.tok.kind == tokOp {
		op, err := parseCmpOp(p.tok.text)
		if err != nil {
			return nil, err
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return cmpExpr{op: op, left: left, right: right}, nil
	}

	if ok, err := p.accept(tokKeyword, "IS"); err != nil {
		return nil, err
	} else if ok {
		negate, err := p.accept(tokKeyword, "NOT")
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokKeyword, "NULL"); err != nil {
			return nil, err
		}
		return isNullExpr{target: left, negate: negate}, nil
	}

	negate := false
	if ok, err := p.accept(tokKeyword, "NOT"); err != nil {
		return nil, err
	} else if ok {
		negate = true
	}

	if ok, err := p.accept(tokKeyword, "IN"); err != nil {
		return nil, err
	} else if ok {
		return p.parseInTail(left, negate)
	}
	if ok, err := p.accept(tokKeyword, "BETWEEN"); err != nil {
		return nil, err
	} else if ok {
		return p.parseBetweenTail(left, negate)
	}
	if negate {
		return nil, fmt.Errorf("predicate: expected IN or BETWEEN after NOT, got %q", p.tok.text)
	}
	return boolExpr{target: left}, nil
}

func (p *parser) parseInTail(target operand, negate bool) (Expr, error) {
	if err := p.expect(tokLParen, ""); err != nil {
		return nil, err
	}
	var items []operand
	for {
		item, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		ok, err := p.accept(tokComma, "")
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	if err := p.expect(tokRParen, ""); err != nil {
		return nil, err
	}
	return inExpr{target: target, items: items, negate: negate}, nil
}

func (p *parser) parseBetweenTail(target operand, negate bool) (Expr, error) {
	lo, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokKeyword, "AND"); err != nil {
		return nil, err
	}
	hi, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return betweenExpr{target: target, lo: lo, hi: hi, negate: negate}, nil
}

func (p *parser) parseOperand() (operand, error) {
	switch p.tok.kind {
	case tokIdent:
		name := p.tok.text
		if err := p.next(); err != nil {
			return operand{}, err
		}
		return operand{column: name}, nil
	case tokNumber:
		text := p.tok.text
		if err := p.next(); err != nil {
			return operand{}, err
		}
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return operand{literal: model.Int(i)}, nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return operand{}, fmt.Errorf("predicate: malformed number %q", text)
		}
		return operand{literal: model.Float(f)}, nil
	case tokString:
		s := p.tok.text
		if err := p.next(); err != nil {
			return operand{}, err
		}
		return operand{literal: model.String(s)}, nil
	case tokKeyword:
		switch p.tok.text {
		case "TRUE":
			return operand{literal: model.Bool(true)}, p.next()
		case "FALSE":
			return operand{literal: model.Bool(false)}, p.next()
		case "NULL":
			return operand{literal: model.Null()}, p.next()
		}
	}
	return operand{}, fmt.Errorf("predicate: expected operand, got %q", p.tok.text)
}

func parseCmpOp(text string) (cmpOp, error) {
	switch text {
	case "=":
		return opEq, nil
	case "!=":
		return opNe, nil
	case "<":
		return opLt, nil
	case "<=":
		return opLe, nil
	case ">":
		return opGt, nil
	case ">=":
		return opGe, nil
	default:
		return 0, fmt.Errorf("predicate: unknown operator %q", text)
	}
}
