package sql

import (
	"fmt"

	"github.com/guileen/crossquery/types"
)

// SyntaxError reports a parse failure with the offending position.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

type parser struct {
	toks []Token
	pos  int
}

// Parse parses a full SELECT statement.
func Parse(src string) (*Query, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, &SyntaxError{Msg: err.Error()}
	}
	p := &parser{toks: toks}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != TokEOF {
		return nil, p.errorf("unexpected %s", p.peek())
	}
	return q, nil
}

// ParseExpr parses a standalone scalar expression, such as a resume filter.
func ParseExpr(src string) (Expr, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, &SyntaxError{Msg: err.Error()}
	}
	p := &parser{toks: toks}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != TokEOF {
		return nil, p.errorf("unexpected %s", p.peek())
	}
	return e, nil
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if t.Type != TokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.peek().Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.Type == TokKeyword && t.Text == kw
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return p.errorf("expected %s, found %s", kw, p.peek())
	}
	return nil
}

func (p *parser) isOp(op string) bool {
	t := p.peek()
	return t.Type == TokOp && t.Text == op
}

func (p *parser) acceptOp(op string) bool {
	if p.isOp(op) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectOp(op string) error {
	if !p.acceptOp(op) {
		return p.errorf("expected %q, found %s", op, p.peek())
	}
	return nil
}

func (p *parser) parseQuery() (*Query, error) {
	q := &Query{}
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	q.Distinct = p.acceptKeyword("DISTINCT")
	if p.acceptKeyword("TOP") {
		e, err := p.parseCountOperand("TOP")
		if err != nil {
			return nil, err
		}
		q.Top = e
	}
	switch {
	case p.acceptOp("*"):
		q.Star = true
	case p.acceptKeyword("VALUE"):
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		q.SelectValue = true
		q.Items = []SelectItem{{Expr: e}}
	default:
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item := SelectItem{Expr: e}
			if p.acceptKeyword("AS") {
				t := p.next()
				if t.Type != TokIdent && t.Type != TokKeyword {
					return nil, p.errorf("expected alias after AS")
				}
				item.Alias = t.Text
				if t.Type == TokKeyword {
					item.Alias = keywordSource(t)
				}
			}
			q.Items = append(q.Items, item)
			if !p.acceptOp(",") {
				break
			}
		}
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	t := p.next()
	if t.Type != TokIdent {
		return nil, p.errorf("expected collection name after FROM")
	}
	q.Collection, q.Alias = t.Text, t.Text
	p.acceptKeyword("AS")
	if p.peek().Type == TokIdent {
		q.Alias = p.next().Text
	}

	if p.acceptKeyword("WHERE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		q.Where = e
	}
	if p.acceptKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			q.GroupBy = append(q.GroupBy, e)
			if !p.acceptOp(",") {
				break
			}
		}
	}
	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Expr: e}
			if p.acceptKeyword("DESC") {
				item.Desc = true
			} else {
				p.acceptKeyword("ASC")
			}
			q.OrderBy = append(q.OrderBy, item)
			if !p.acceptOp(",") {
				break
			}
		}
	}
	if p.acceptKeyword("OFFSET") {
		e, err := p.parseCountOperand("OFFSET")
		if err != nil {
			return nil, err
		}
		q.Offset = e
		if err := p.expectKeyword("LIMIT"); err != nil {
			return nil, err
		}
		if q.Limit, err = p.parseCountOperand("LIMIT"); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// parseCountOperand accepts the number or parameter after TOP, OFFSET and LIMIT.
func (p *parser) parseCountOperand(clause string) (Expr, error) {
	t := p.next()
	switch t.Type {
	case TokNumber:
		return &Literal{Value: types.NumberItem(t.Num)}, nil
	case TokParam:
		return &Param{Name: t.Text}, nil
	}
	return nil, &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("%s expects a number or parameter, found %s", clause, t)}
}

func (p *parser) parseExpr() (Expr, error) {
	cond, err := p.parseCoalesce()
	if err != nil {
		return nil, err
	}
	if !p.acceptOp("?") {
		return cond, nil
	}
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(":"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Ternary{Cond: cond, Then: then, Else: els}, nil
}

func (p *parser) parseCoalesce() (Expr, error) {
	l, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("??") {
		r, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "??", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "OR", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (Expr, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "AND", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.acceptKeyword("NOT") {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", X: x}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]bool{"=": true, "!=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) parseComparison() (Expr, error) {
	l, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.Type == TokOp && comparisonOps[t.Text]:
			p.pos++
			r, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			op := t.Text
			if op == "<>" {
				op = "!="
			}
			l = &Binary{Op: op, L: l, R: r}
		case p.isKeyword("NOT") && p.pos+1 < len(p.toks) &&
			p.toks[p.pos+1].Type == TokKeyword && (p.toks[p.pos+1].Text == "IN" || p.toks[p.pos+1].Text == "BETWEEN"):
			p.pos++
			if l, err = p.parseInOrBetween(l, true); err != nil {
				return nil, err
			}
		case p.isKeyword("IN") || p.isKeyword("BETWEEN"):
			if l, err = p.parseInOrBetween(l, false); err != nil {
				return nil, err
			}
		default:
			return l, nil
		}
	}
}

func (p *parser) parseInOrBetween(x Expr, not bool) (Expr, error) {
	if p.acceptKeyword("BETWEEN") {
		lo, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		return &Between{X: x, Lo: lo, Hi: hi, Not: not}, nil
	}
	if err := p.expectKeyword("IN"); err != nil {
		return nil, err
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	in := &In{X: x, Not: not}
	for !p.isOp(")") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		in.List = append(in.List, e)
		if !p.acceptOp(",") {
			break
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return in, nil
}

func (p *parser) parseConcat() (Expr, error) {
	l, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("||") {
		r, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "||", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	l, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.next().Text
		r, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: op, L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("%") {
		op := p.next().Text
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: op, L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.isOp("-") || p.isOp("+") {
		op := p.next().Text
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(*Literal); ok && op == "-" {
			if n, isNum := lit.Value.AsNumber(); isNum {
				return &Literal{Value: types.NumberItem(-n)}, nil
			}
		}
		return &Unary{Op: op, X: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptOp("."):
			t := p.next()
			if t.Type != TokIdent && t.Type != TokKeyword {
				return nil, p.errorf("expected property name after '.'")
			}
			name := t.Text
			if t.Type == TokKeyword {
				name = keywordSource(t)
			}
			e = &Property{Base: e, Name: name}
		case p.acceptOp("["):
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			if lit, ok := idx.(*Literal); ok {
				if s, isStr := lit.Value.AsString(); isStr {
					e = &Property{Base: e, Name: s}
					continue
				}
			}
			e = &Index{Base: e, Index: idx}
		default:
			return e, nil
		}
	}
}

// keywordSource returns a keyword used as a property name in lower case,
// e.g. c.value or c.top.
func keywordSource(t Token) string {
	b := []byte(t.Text)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.Type {
	case TokNumber:
		p.pos++
		return &Literal{Value: types.NumberItem(t.Num)}, nil
	case TokString:
		p.pos++
		return &Literal{Value: types.StringItem(t.Text)}, nil
	case TokParam:
		p.pos++
		return &Param{Name: t.Text}, nil
	case TokKeyword:
		switch t.Text {
		case "TRUE":
			p.pos++
			return &Literal{Value: types.BoolItem(true)}, nil
		case "FALSE":
			p.pos++
			return &Literal{Value: types.BoolItem(false)}, nil
		case "NULL":
			p.pos++
			return &Literal{Value: types.NullItem()}, nil
		case "UNDEFINED":
			p.pos++
			return &Literal{Value: types.UndefinedItem()}, nil
		}
		return nil, p.errorf("unexpected keyword %s", t.Text)
	case TokIdent:
		p.pos++
		if p.acceptOp("(") {
			return p.parseCall(t)
		}
		return &Ident{Name: t.Text}, nil
	case TokOp:
		switch t.Text {
		case "(":
			p.pos++
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return e, nil
		case "[":
			p.pos++
			arr := &ArrayLit{}
			for !p.isOp("]") {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				arr.Elems = append(arr.Elems, e)
				if !p.acceptOp(",") {
					break
				}
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			return arr, nil
		case "{":
			p.pos++
			obj := &ObjectLit{}
			for !p.isOp("}") {
				k := p.next()
				if k.Type != TokString && k.Type != TokIdent && k.Type != TokKeyword {
					return nil, p.errorf("expected object key, found %s", k)
				}
				name := k.Text
				if k.Type == TokKeyword {
					name = keywordSource(k)
				}
				if err := p.expectOp(":"); err != nil {
					return nil, err
				}
				v, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				obj.Fields = append(obj.Fields, ObjectField{Name: name, Value: v})
				if !p.acceptOp(",") {
					break
				}
			}
			if err := p.expectOp("}"); err != nil {
				return nil, err
			}
			return obj, nil
		}
	}
	return nil, p.errorf("unexpected %s", t)
}

func (p *parser) parseCall(name Token) (Expr, error) {
	call := &Call{Name: keywordUpper(name.Text)}
	if !p.acceptOp(")") {
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, e)
			if !p.acceptOp(",") {
				break
			}
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
	}
	if _, ok := builtins[call.Name]; !ok && !aggregateNames[call.Name] {
		return nil, &SyntaxError{Pos: name.Pos, Msg: fmt.Sprintf("unknown function %s", name.Text)}
	}
	return call, nil
}

func keywordUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
