// Package executor evaluates a query against the documents of one partition
// key range held in a storage.KV. It is the per-partition half of query
// execution the emulated backend performs.
package executor

import (
	"context"

	"github.com/guileen/crossquery/codec"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/metrics"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/sql"
	"github.com/guileen/crossquery/storage"
	"github.com/guileen/crossquery/types"
)

// Request is one page of a partition query.
type Request struct {
	Query        *sql.Query
	Params       map[string]types.Item
	Range        routing.Range
	Continuation *string
	MaxItemCount int
	// ScanBudget caps the documents a streaming page may read; a page that
	// runs out of budget returns early, possibly empty. 0 means unlimited.
	ScanBudget int
}

// Result is one page of output.
type Result struct {
	Items        []types.Item
	Continuation *string
	Metrics      metrics.QueryMetrics
}

// Executor runs queries over a KV.
type Executor struct {
	kv storage.KV
}

// New creates an Executor over kv.
func New(kv storage.KV) *Executor {
	return &Executor{kv: kv}
}

// Execute runs one page of req. Queries without ORDER BY, GROUP BY,
// aggregates or DISTINCT stream in storage order; the rest are evaluated
// in full and paged by position in their result order.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Result, error) {
	if req.Range.IsEmpty() {
		return nil, qerrors.NewBadRequestf("Execute", "empty partition key range %s", req.Range)
	}
	tok, err := parseToken(req.Continuation)
	if err != nil {
		return nil, err
	}
	q := req.Query
	if len(q.OrderBy) == 0 && len(q.GroupBy) == 0 && !q.Distinct && !hasAggregates(q) {
		return e.stream(ctx, req, tok)
	}
	return e.materialize(ctx, req, tok)
}

// document is a stored document with its storage key.
type document struct {
	key  []byte
	body types.Item
	size int
}

// scan calls fn for each document of rng with key > after, in key order,
// until fn returns false.
func (e *Executor) scan(ctx context.Context, rng routing.Range, after []byte, fn func(document) bool) error {
	lower, upper := codec.DocumentRangeBounds(rng.Min, rng.Max)
	start := lower
	if after != nil {
		if next := append(append([]byte(nil), after...), 0x00); string(next) > string(lower) {
			start = next
		}
	}
	iter := e.kv.NewIterator(&storage.IteratorOptions{LowerBound: lower, UpperBound: upper})
	defer iter.Close()

	for ok := iter.SeekGE(start); ok && iter.Valid(); ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return qerrors.Wrap(err, qerrors.ErrCodeRequestCanceled, "Execute")
		}
		raw := iter.Value()
		body, err := types.Parse(raw)
		if err != nil {
			return qerrors.Wrapf(err, qerrors.ErrCodeInternal, "Execute", "corrupt document at %x", iter.Key())
		}
		doc := document{key: append([]byte(nil), iter.Key()...), body: body, size: len(raw)}
		if !fn(doc) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return qerrors.Wrap(err, qerrors.ErrCodeInternal, "Execute")
	}
	return nil
}

func (e *Executor) env(req *Request, root types.Item) *sql.Env {
	return &sql.Env{Alias: req.Query.Alias, Root: root, Params: req.Params}
}

func (e *Executor) matches(req *Request, doc types.Item) bool {
	if req.Query.Where == nil {
		return true
	}
	return sql.Eval(req.Query.Where, e.env(req, doc)).IsTrue()
}

// project evaluates the SELECT list for one document or group.
func project(q *sql.Query, env *sql.Env) types.Item {
	switch {
	case q.Star:
		return env.Root
	case q.SelectValue:
		return sql.Eval(q.Items[0].Expr, env)
	}
	names := sql.ProjectionNames(q.Items)
	fields := make([]types.Field, len(q.Items))
	for i, it := range q.Items {
		fields[i] = types.F(names[i], sql.Eval(it.Expr, env))
	}
	return types.ObjectItem(fields...)
}

func hasAggregates(q *sql.Query) bool {
	for _, it := range q.Items {
		if sql.ContainsAggregate(it.Expr) {
			return true
		}
	}
	return false
}

// count evaluates a TOP, OFFSET or LIMIT operand; -1 when absent.
func count(e sql.Expr, params map[string]types.Item, clause string) (int, error) {
	if e == nil {
		return -1, nil
	}
	v := sql.Eval(e, &sql.Env{Params: params})
	n, ok := v.AsNumber()
	if !ok || n < 0 || n != float64(int(n)) {
		return 0, qerrors.NewBadRequestf("Execute", "%s expects a non-negative integer, got %s", clause, v)
	}
	return int(n), nil
}

// window returns the [from, to) slice of result rows TOP and OFFSET/LIMIT
// keep; to is -1 when unbounded.
func window(req *Request) (from, to int, err error) {
	q := req.Query
	top, err := count(q.Top, req.Params, "TOP")
	if err != nil {
		return 0, 0, err
	}
	offset, err := count(q.Offset, req.Params, "OFFSET")
	if err != nil {
		return 0, 0, err
	}
	limit, err := count(q.Limit, req.Params, "LIMIT")
	if err != nil {
		return 0, 0, err
	}
	from, to = 0, -1
	if offset >= 0 {
		from = offset
		to = offset + limit
	}
	if top >= 0 && (to < 0 || from+top < to) {
		to = from + top
	}
	return from, to, nil
}
