package sql

import (
	"regexp"
	"strings"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// FormatExpr renders e as query text. Compound expressions are fully
// parenthesized, so two expressions are the same expression exactly when
// their formatted text is equal.
func FormatExpr(e Expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

func writeExpr(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case nil:
		b.WriteString("undefined")
	case *Literal:
		if !n.Value.IsDefined() {
			b.WriteString("undefined")
			return
		}
		b.WriteString(n.Value.JSON())
	case *Param:
		b.WriteString("@")
		b.WriteString(n.Name)
	case *Ident:
		b.WriteString(n.Name)
	case *Property:
		writeExpr(b, n.Base)
		if identRe.MatchString(n.Name) && !keywords[strings.ToUpper(n.Name)] {
			b.WriteString(".")
			b.WriteString(n.Name)
		} else {
			b.WriteString("[")
			b.WriteString(quote(n.Name))
			b.WriteString("]")
		}
	case *Index:
		writeExpr(b, n.Base)
		b.WriteString("[")
		writeExpr(b, n.Index)
		b.WriteString("]")
	case *Unary:
		b.WriteString("(")
		b.WriteString(n.Op)
		if n.Op == "NOT" {
			b.WriteString(" ")
		}
		writeExpr(b, n.X)
		b.WriteString(")")
	case *Binary:
		b.WriteString("(")
		writeExpr(b, n.L)
		b.WriteString(" ")
		b.WriteString(n.Op)
		b.WriteString(" ")
		writeExpr(b, n.R)
		b.WriteString(")")
	case *Between:
		b.WriteString("(")
		writeExpr(b, n.X)
		if n.Not {
			b.WriteString(" NOT")
		}
		b.WriteString(" BETWEEN ")
		writeExpr(b, n.Lo)
		b.WriteString(" AND ")
		writeExpr(b, n.Hi)
		b.WriteString(")")
	case *In:
		b.WriteString("(")
		writeExpr(b, n.X)
		if n.Not {
			b.WriteString(" NOT")
		}
		b.WriteString(" IN (")
		writeList(b, n.List)
		b.WriteString("))")
	case *Ternary:
		b.WriteString("(")
		writeExpr(b, n.Cond)
		b.WriteString(" ? ")
		writeExpr(b, n.Then)
		b.WriteString(" : ")
		writeExpr(b, n.Else)
		b.WriteString(")")
	case *Call:
		b.WriteString(n.Name)
		b.WriteString("(")
		writeList(b, n.Args)
		b.WriteString(")")
	case *ArrayLit:
		b.WriteString("[")
		writeList(b, n.Elems)
		b.WriteString("]")
	case *ObjectLit:
		b.WriteString("{")
		for i, f := range n.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quote(f.Name))
			b.WriteString(": ")
			writeExpr(b, f.Value)
		}
		b.WriteString("}")
	}
}

func writeList(b *strings.Builder, list []Expr) {
	for i, e := range list {
		if i > 0 {
			b.WriteString(", ")
		}
		writeExpr(b, e)
	}
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// String renders the query as text that Parse accepts.
func (q *Query) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if q.Distinct {
		b.WriteString("DISTINCT ")
	}
	if q.Top != nil {
		b.WriteString("TOP ")
		writeExpr(&b, q.Top)
		b.WriteString(" ")
	}
	switch {
	case q.Star:
		b.WriteString("*")
	case q.SelectValue:
		b.WriteString("VALUE ")
		writeExpr(&b, q.Items[0].Expr)
	default:
		for i, it := range q.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(&b, it.Expr)
			if it.Alias != "" {
				b.WriteString(" AS ")
				b.WriteString(it.Alias)
			}
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(q.Collection)
	if q.Alias != "" && q.Alias != q.Collection {
		b.WriteString(" ")
		b.WriteString(q.Alias)
	}
	if q.Where != nil {
		b.WriteString(" WHERE ")
		writeExpr(&b, q.Where)
	}
	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		writeList(&b, q.GroupBy)
	}
	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range q.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(&b, o.Expr)
			if o.Desc {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
		}
	}
	if q.Offset != nil {
		b.WriteString(" OFFSET ")
		writeExpr(&b, q.Offset)
		b.WriteString(" LIMIT ")
		writeExpr(&b, q.Limit)
	}
	return b.String()
}
