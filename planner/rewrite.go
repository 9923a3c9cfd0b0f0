package planner

import (
	"strconv"

	"github.com/guileen/crossquery/sql"
	"github.com/guileen/crossquery/types"
)

// rewrite builds the partition query for the query's strategy.
func rewrite(q *sql.Query, qi *QueryInfo) string {
	switch qi.Strategy() {
	case StrategyGroupBy:
		return rewriteGroupBy(q).String()
	case StrategyAggregate:
		return rewriteAggregate(q).String()
	case StrategyOrderBy:
		return rewriteOrderBy(q, qi).String()
	}
	rq := q.Clone()
	rq.Top = pushdownTop(qi)
	rq.Offset, rq.Limit = nil, nil
	return rq.String()
}

// pushdownTop is the row count a partition must return at most: TOP n, or
// OFFSET o LIMIT l as TOP o+l.
func pushdownTop(qi *QueryInfo) sql.Expr {
	n := qi.Top
	if qi.Limit >= 0 {
		if ol := qi.Offset + qi.Limit; n < 0 || ol < n {
			n = ol
		}
	}
	if n < 0 {
		return nil
	}
	return number(n)
}

// rewriteOrderBy projects the rid, the ORDER BY values and the payload so the
// engine can merge partitions without re-evaluating ORDER BY.
func rewriteOrderBy(q *sql.Query, qi *QueryInfo) *sql.Query {
	rq := q.Clone()
	rq.Star, rq.SelectValue = false, false
	rq.Top = pushdownTop(qi)
	rq.Offset, rq.Limit = nil, nil

	orderByItems := &sql.ArrayLit{}
	preds := []sql.Expr{q.Where}
	for _, o := range q.OrderBy {
		orderByItems.Elems = append(orderByItems.Elems, itemOf(o.Expr))
		preds = append(preds, &sql.Call{Name: "IS_DEFINED", Args: []sql.Expr{o.Expr}})
	}
	preds = append(preds, &sql.Ident{Name: FilterPlaceholder})
	rq.Where = sql.And(preds...)

	rq.Items = nil
	if !q.Distinct {
		rq.Items = append(rq.Items, sql.SelectItem{Expr: &sql.Property{Base: &sql.Ident{Name: q.Alias}, Name: "_rid"}})
	}
	rq.Items = append(rq.Items,
		sql.SelectItem{Expr: orderByItems, Alias: "orderByItems"},
		sql.SelectItem{Expr: payloadOf(q), Alias: "payload"},
	)
	return rq
}

// rewriteAggregate ships one partial per aggregate as SELECT VALUE
// [{"item": partial}, ...].
func rewriteAggregate(q *sql.Query) *sql.Query {
	rq := q.Clone()
	rq.Distinct, rq.Top, rq.Offset, rq.Limit = false, nil, nil, nil
	partials := &sql.ArrayLit{}
	for _, it := range q.Items {
		partials.Elems = append(partials.Elems, itemOf(partialOf(it.Expr.(*sql.Call))))
	}
	rq.SelectValue = true
	rq.Items = []sql.SelectItem{{Expr: partials}}
	return rq
}

// rewriteGroupBy ships the group key and, per projection, either the group
// expression or the aggregate partial wrapped in {"item": ...}.
func rewriteGroupBy(q *sql.Query) *sql.Query {
	rq := q.Clone()
	rq.Top, rq.Offset, rq.Limit = nil, nil, nil
	rq.SelectValue = false

	keys := &sql.ArrayLit{}
	for _, g := range q.GroupBy {
		keys.Elems = append(keys.Elems, itemOf(g))
	}
	payload := &sql.ObjectLit{}
	names := sql.ProjectionNames(q.Items)
	for i, it := range q.Items {
		name := names[i]
		if q.SelectValue {
			name = valueAlias
		}
		v := it.Expr
		if call, ok := v.(*sql.Call); ok && sql.IsAggregateCall(call) {
			v = itemOf(partialOf(call))
		}
		payload.Fields = append(payload.Fields, sql.ObjectField{Name: name, Value: v})
	}
	rq.Items = []sql.SelectItem{
		{Expr: keys, Alias: "groupByItems"},
		{Expr: payload, Alias: "payload"},
	}
	return rq
}

// valueAlias names the single payload field of a SELECT VALUE ... GROUP BY.
const valueAlias = "$value"

// PayloadField returns the payload field name of projection i.
func (qi *QueryInfo) PayloadField(i int) string {
	if qi.HasSelectValue {
		return valueAlias
	}
	return qi.Projections[i].Alias
}

// partialOf is the mergeable form of an aggregate: AVG travels as its sum
// and the count of numeric inputs.
func partialOf(call *sql.Call) sql.Expr {
	if call.Name != "AVG" {
		return call
	}
	arg := call.Args[0]
	numeric := &sql.Ternary{
		Cond: &sql.Call{Name: "IS_NUMBER", Args: []sql.Expr{arg}},
		Then: arg,
		Else: &sql.Literal{Value: types.UndefinedItem()},
	}
	return &sql.ObjectLit{Fields: []sql.ObjectField{
		{Name: "sum", Value: &sql.Call{Name: "SUM", Args: []sql.Expr{arg}}},
		{Name: "count", Value: &sql.Call{Name: "COUNT", Args: []sql.Expr{numeric}}},
	}}
}

// payloadOf is the value the query projects for each document.
func payloadOf(q *sql.Query) sql.Expr {
	switch {
	case q.Star:
		return &sql.Ident{Name: q.Alias}
	case q.SelectValue:
		return q.Items[0].Expr
	}
	obj := &sql.ObjectLit{}
	names := sql.ProjectionNames(q.Items)
	for i, it := range q.Items {
		obj.Fields = append(obj.Fields, sql.ObjectField{Name: names[i], Value: it.Expr})
	}
	return obj
}

func itemOf(e sql.Expr) sql.Expr {
	return &sql.ObjectLit{Fields: []sql.ObjectField{{Name: "item", Value: e}}}
}

func number(n int) sql.Expr {
	return &sql.Literal{Value: types.NumberItem(float64(n))}
}

// String renders the strategy-relevant shape, for logs and tests.
func (qi *QueryInfo) String() string {
	return string(qi.Strategy()) + " top=" + strconv.Itoa(qi.Top) +
		" offset=" + strconv.Itoa(qi.Offset) + " limit=" + strconv.Itoa(qi.Limit) +
		" distinct=" + qi.DistinctType.String()
}
