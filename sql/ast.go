// Package sql parses, formats and evaluates the document query dialect:
// SELECT [DISTINCT] [TOP n] ... FROM c [WHERE] [GROUP BY] [ORDER BY] [OFFSET LIMIT].
package sql

import (
	"strconv"

	"github.com/guileen/crossquery/types"
)

// Expr is a scalar expression node.
type Expr interface {
	exprNode()
}

// Literal is a constant value.
type Literal struct {
	Value types.Item
}

// Param is a named parameter, @name.
type Param struct {
	Name string
}

// Ident is a bare identifier; in a query it names the root document alias.
type Ident struct {
	Name string
}

// Property is Base.Name or Base["Name"].
type Property struct {
	Base Expr
	Name string
}

// Index is Base[Index] with a non-string index expression.
type Index struct {
	Base  Expr
	Index Expr
}

// Unary is NOT X, -X or +X.
type Unary struct {
	Op string
	X  Expr
}

// Binary is L Op R for comparison, logical, arithmetic, || and ?? operators.
type Binary struct {
	Op string
	L  Expr
	R  Expr
}

// Between is X [NOT] BETWEEN Lo AND Hi.
type Between struct {
	X   Expr
	Lo  Expr
	Hi  Expr
	Not bool
}

// In is X [NOT] IN (List...).
type In struct {
	X    Expr
	List []Expr
	Not  bool
}

// Ternary is Cond ? Then : Else.
type Ternary struct {
	Cond Expr
	Then Expr
	Else Expr
}

// Call is a built-in or aggregate function call. Name is upper-cased.
type Call struct {
	Name string
	Args []Expr
}

// ArrayLit is [e1, e2, ...].
type ArrayLit struct {
	Elems []Expr
}

// ObjectField is one "name": value pair of an ObjectLit.
type ObjectField struct {
	Name  string
	Value Expr
}

// ObjectLit is {"name": e, ...}.
type ObjectLit struct {
	Fields []ObjectField
}

func (*Literal) exprNode()   {}
func (*Param) exprNode()     {}
func (*Ident) exprNode()     {}
func (*Property) exprNode()  {}
func (*Index) exprNode()     {}
func (*Unary) exprNode()     {}
func (*Binary) exprNode()    {}
func (*Between) exprNode()   {}
func (*In) exprNode()        {}
func (*Ternary) exprNode()   {}
func (*Call) exprNode()      {}
func (*ArrayLit) exprNode()  {}
func (*ObjectLit) exprNode() {}

// SelectItem is one projection of a SELECT list.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// OrderItem is one ORDER BY column.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// Query is a parsed SELECT statement.
type Query struct {
	Distinct    bool
	Top         Expr
	Star        bool
	SelectValue bool
	Items       []SelectItem
	Collection  string
	Alias       string
	Where       Expr
	GroupBy     []Expr
	OrderBy     []OrderItem
	Offset      Expr
	Limit       Expr
}

// Clone returns a shallow copy whose slices may be replaced independently.
func (q *Query) Clone() *Query {
	c := *q
	c.Items = append([]SelectItem(nil), q.Items...)
	c.GroupBy = append([]Expr(nil), q.GroupBy...)
	c.OrderBy = append([]OrderItem(nil), q.OrderBy...)
	return &c
}

// Walk calls fn for e and every sub-expression, depth first. fn returning
// false stops descent into that node's children.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Property:
		Walk(n.Base, fn)
	case *Index:
		Walk(n.Base, fn)
		Walk(n.Index, fn)
	case *Unary:
		Walk(n.X, fn)
	case *Binary:
		Walk(n.L, fn)
		Walk(n.R, fn)
	case *Between:
		Walk(n.X, fn)
		Walk(n.Lo, fn)
		Walk(n.Hi, fn)
	case *In:
		Walk(n.X, fn)
		for _, x := range n.List {
			Walk(x, fn)
		}
	case *Ternary:
		Walk(n.Cond, fn)
		Walk(n.Then, fn)
		Walk(n.Else, fn)
	case *Call:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *ArrayLit:
		for _, x := range n.Elems {
			Walk(x, fn)
		}
	case *ObjectLit:
		for _, f := range n.Fields {
			Walk(f.Value, fn)
		}
	}
}

// IsAggregateCall reports whether e is a call to COUNT, SUM, MIN, MAX or AVG.
func IsAggregateCall(e Expr) bool {
	c, ok := e.(*Call)
	return ok && aggregateNames[c.Name]
}

var aggregateNames = map[string]bool{"COUNT": true, "SUM": true, "MIN": true, "MAX": true, "AVG": true}

// ContainsAggregate reports whether any node under e is an aggregate call.
func ContainsAggregate(e Expr) bool {
	found := false
	Walk(e, func(x Expr) bool {
		if IsAggregateCall(x) {
			found = true
		}
		return !found
	})
	return found
}

// And joins predicates with AND, skipping nil ones.
func And(preds ...Expr) Expr {
	var out Expr
	for _, p := range preds {
		if p == nil {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		out = &Binary{Op: "AND", L: out, R: p}
	}
	return out
}

// ProjectionNames returns the output property name of each SELECT item: its
// alias, else the name of a trailing property access, else "$1", "$2", ...
// numbered over the unnamed items.
func ProjectionNames(items []SelectItem) []string {
	names := make([]string, len(items))
	unnamed := 0
	for i, it := range items {
		switch {
		case it.Alias != "":
			names[i] = it.Alias
		case isProperty(it.Expr):
			names[i] = it.Expr.(*Property).Name
		default:
			unnamed++
			names[i] = "$" + strconv.Itoa(unnamed)
		}
	}
	return names
}

func isProperty(e Expr) bool {
	_, ok := e.(*Property)
	return ok
}
