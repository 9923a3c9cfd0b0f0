package executor

import (
	"context"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/guileen/crossquery/aggregate"
	"github.com/guileen/crossquery/codec"
	"github.com/guileen/crossquery/metrics"
	"github.com/guileen/crossquery/sql"
	"github.com/guileen/crossquery/types"
)

// row is one evaluated result row and its position in result order.
type row struct {
	value types.Item
	pos   position
}

// materialize evaluates the whole query over the range and returns the rows
// after the token's position. The read cost is charged to the first page
// only, since every later page re-derives the same result.
func (e *Executor) materialize(ctx context.Context, req *Request, tok token) (*Result, error) {
	docs, retrieved, err := e.collect(ctx, req)
	if err != nil {
		return nil, err
	}
	rows := e.evaluate(req, docs)
	from, to, err := window(req)
	if err != nil {
		return nil, err
	}
	if to >= 0 && to < len(rows) {
		rows = rows[:to]
	}
	if from > len(rows) {
		from = len(rows)
	}
	rows = rows[from:]

	res := &Result{}
	if tok.After == nil {
		res.Metrics.RetrievedDocumentCount = retrieved.RetrievedDocumentCount
		res.Metrics.RetrievedDocumentSize = retrieved.RetrievedDocumentSize
	}

	desc := descending(req.Query)
	start := 0
	if tok.After != nil {
		start = sort.Search(len(rows), func(i int) bool {
			return comparePositions(rows[i].pos, *tok.After, desc) > 0
		})
	}
	end := len(rows)
	if req.MaxItemCount > 0 && start+req.MaxItemCount < end {
		end = start + req.MaxItemCount
	}
	for _, r := range rows[start:end] {
		res.Items = append(res.Items, r.value)
		res.Metrics.OutputDocumentCount++
		res.Metrics.OutputDocumentSize += int64(r.value.Size())
	}
	if end < len(rows) {
		after := rows[end-1].pos
		res.Continuation = token{After: &after}.encode()
	}
	return res, nil
}

// collect reads every document of the range that passes WHERE.
func (e *Executor) collect(ctx context.Context, req *Request) ([]types.Item, metrics.QueryMetrics, error) {
	var (
		docs      []types.Item
		retrieved metrics.QueryMetrics
	)
	err := e.scan(ctx, req.Range, nil, func(doc document) bool {
		retrieved.RetrievedDocumentCount++
		retrieved.RetrievedDocumentSize += int64(doc.size)
		if e.matches(req, doc.body) {
			docs = append(docs, doc.body)
		}
		return true
	})
	return docs, retrieved, err
}

// evaluate produces the result rows in result order, before TOP and
// OFFSET/LIMIT.
func (e *Executor) evaluate(req *Request, docs []types.Item) []row {
	q := req.Query
	switch {
	case len(q.GroupBy) > 0:
		return e.groupRows(req, docs)
	case hasAggregates(q):
		env := e.env(req, types.UndefinedItem())
		env.Aggregates = e.aggregates(req, docs)
		if v := project(q, env); v.IsDefined() {
			return []row{{value: v}}
		}
		return nil
	}

	desc := descending(q)
	rows := make([]row, 0, len(docs))
	for _, doc := range docs {
		env := e.env(req, doc)
		values, ok := orderValues(q, env)
		if !ok {
			continue
		}
		v := project(q, env)
		if !v.IsDefined() {
			continue
		}
		tie, _ := doc.Get("_rid").AsString()
		if q.Distinct {
			tie = encodeTie(v)
		}
		rows = append(rows, row{value: v, pos: position{Values: values, Tie: tie}})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return comparePositions(rows[i].pos, rows[j].pos, desc) < 0
	})
	if q.Distinct {
		rows = dedupe(rows)
	}
	return rows
}

// groupRows folds documents into groups ordered by group key.
func (e *Executor) groupRows(req *Request, docs []types.Item) []row {
	q := req.Query
	type group struct {
		key  string
		docs []types.Item
	}
	groups := map[string]*group{}
	for _, doc := range docs {
		env := e.env(req, doc)
		keys := make([]types.Item, len(q.GroupBy))
		for i, g := range q.GroupBy {
			keys[i] = sql.Eval(g, env)
		}
		k := hex.EncodeToString(codec.EncodeItems(keys...))
		grp, ok := groups[k]
		if !ok {
			grp = &group{key: k}
			groups[k] = grp
		}
		grp.docs = append(grp.docs, doc)
	}

	rows := make([]row, 0, len(groups))
	for _, grp := range groups {
		env := e.env(req, grp.docs[0])
		env.Aggregates = e.aggregates(req, grp.docs)
		if v := project(q, env); v.IsDefined() {
			rows = append(rows, row{value: v, pos: position{Tie: grp.key}})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].pos.Tie < rows[j].pos.Tie })
	return rows
}

// aggregates computes every aggregate call of the SELECT list over docs.
func (e *Executor) aggregates(req *Request, docs []types.Item) map[*sql.Call]types.Item {
	out := map[*sql.Call]types.Item{}
	for _, it := range req.Query.Items {
		sql.Walk(it.Expr, func(x sql.Expr) bool {
			call, ok := x.(*sql.Call)
			if !ok || !sql.IsAggregateCall(call) {
				return true
			}
			if len(call.Args) != 1 {
				out[call] = types.UndefinedItem()
				return false
			}
			agg := aggregate.New(aggregate.Operator(call.Name))
			for _, doc := range docs {
				agg.Update(sql.Eval(call.Args[0], e.env(req, doc)))
			}
			out[call] = agg.Finalize()
			return false
		})
	}
	return out
}

// orderValues evaluates the ORDER BY columns; documents missing any of
// them are left out of an ordered result.
func orderValues(q *sql.Query, env *sql.Env) ([]types.Item, bool) {
	if len(q.OrderBy) == 0 {
		return nil, true
	}
	values := make([]types.Item, len(q.OrderBy))
	for i, o := range q.OrderBy {
		values[i] = sql.Eval(o.Expr, env)
		if !values[i].IsDefined() {
			return nil, false
		}
	}
	return values, true
}

func descending(q *sql.Query) []bool {
	desc := make([]bool, len(q.OrderBy))
	for i, o := range q.OrderBy {
		desc[i] = o.Desc
	}
	return desc
}

// comparePositions orders by each ORDER BY column in its direction, then by
// tie key in the direction of the first column.
func comparePositions(a, b position, desc []bool) int {
	for i := range desc {
		if i >= len(a.Values) || i >= len(b.Values) {
			break
		}
		c := types.Compare(a.Values[i], b.Values[i])
		if desc[i] {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	c := strings.Compare(a.Tie, b.Tie)
	if len(desc) > 0 && desc[0] {
		c = -c
	}
	return c
}

// dedupe keeps the first row of every distinct value.
func dedupe(rows []row) []row {
	seen := make(map[codec.Hash192]struct{}, len(rows))
	out := rows[:0]
	for _, r := range rows {
		h := codec.DistinctHash(r.value)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, r)
	}
	return out
}

func encodeTie(v types.Item) string {
	return hex.EncodeToString(codec.AppendItem(nil, v))
}
