package engine

import (
	"github.com/guileen/crossquery/sql"
	"github.com/guileen/crossquery/types"
)

// resumeFilter builds the predicate that restricts a partition to the items
// at or after values in ORDER BY order:
//
//	(c1 > v1) OR (c1 = v1 AND c2 > v2) OR ... OR (c1 = v1 AND ... AND ck >= vk)
//
// with < and <= for descending columns. inclusive selects >= (<=) on the
// last column; otherwise the last comparison is strict too.
func resumeFilter(columns []sql.OrderItem, values []types.Item, inclusive bool) string {
	var disjuncts []sql.Expr
	for i := range columns {
		var conj []sql.Expr
		for j := 0; j < i; j++ {
			conj = append(conj, &sql.Binary{Op: "=", L: columns[j].Expr, R: &sql.Literal{Value: values[j]}})
		}
		op := ">"
		if columns[i].Desc {
			op = "<"
		}
		if inclusive && i == len(columns)-1 {
			op += "="
		}
		conj = append(conj, &sql.Binary{Op: op, L: columns[i].Expr, R: &sql.Literal{Value: values[i]}})
		disjuncts = append(disjuncts, sql.And(conj...))
	}
	var out sql.Expr
	for _, d := range disjuncts {
		if out == nil {
			out = d
			continue
		}
		out = &sql.Binary{Op: "OR", L: out, R: d}
	}
	return sql.FormatExpr(out)
}

// skipState drops, at the start of a resumed partition, the items equal to
// the last emitted one that were emitted before the suspension: items with
// the same ORDER BY values and a rid at or before the last rid, in the
// direction of the first column.
type skipState struct {
	values    []types.Item
	rid       string
	desc      bool
	remaining int
}

func (k *skipState) clone() *skipState {
	if k == nil {
		return nil
	}
	c := *k
	return &c
}

// drop reports whether row was emitted before and must be skipped.
func (k *skipState) drop(row types.Item) bool {
	if types.CompareSlices(orderValues(row), k.values) != 0 {
		return false
	}
	rid, _ := row.Get("_rid").AsString()
	if k.rid != "" && rid != "" && rid != k.rid {
		if k.desc {
			return rid > k.rid
		}
		return rid < k.rid
	}
	if k.remaining > 0 {
		k.remaining--
		return true
	}
	return false
}
