package planner

import (
	"math"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/guileen/crossquery/aggregate"
	"github.com/guileen/crossquery/codec"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/logger"
	"github.com/guileen/crossquery/sql"
	"github.com/guileen/crossquery/types"
)

// Planner plans queries and caches the results.
type Planner struct {
	cache *lru.Cache[string, *QueryInfo]
}

// New creates a planner keeping up to cacheSize plans.
func New(cacheSize int) (*Planner, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, *QueryInfo](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Planner{cache: cache}, nil
}

// Plan parses and analyzes text. pkPath is the collection's partition key
// path, e.g. "/id". The returned QueryInfo is shared and must not be mutated.
func (p *Planner) Plan(text string, params map[string]types.Item, pkPath string) (*QueryInfo, error) {
	key := cacheKey(text, params, pkPath)
	if qi, ok := p.cache.Get(key); ok {
		return qi, nil
	}
	qi, err := Analyze(text, params, pkPath)
	if err != nil {
		return nil, err
	}
	p.cache.Add(key, qi)
	logger.Debug("planned query",
		logger.Strategy(string(qi.Strategy())),
		logger.String("distinct", qi.DistinctType.String()),
		logger.String("rewritten", qi.RewrittenQuery))
	return qi, nil
}

// Len returns the number of cached plans.
func (p *Planner) Len() int { return p.cache.Len() }

func cacheKey(text string, params map[string]types.Item, pkPath string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(text)
	b.WriteByte(0)
	b.WriteString(pkPath)
	for _, name := range names {
		b.WriteByte(0)
		b.WriteString(name)
		b.Write(codec.AppendItem(nil, params[name]))
	}
	return b.String()
}

// Analyze parses text and builds its QueryInfo without caching.
func Analyze(text string, params map[string]types.Item, pkPath string) (*QueryInfo, error) {
	q, err := sql.Parse(text)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeBadRequest, "Plan")
	}

	qi := &QueryInfo{
		Text:           text,
		Query:          q,
		OrderBy:        q.OrderBy,
		HasSelectValue: q.SelectValue,
	}
	if qi.Top, err = resolveCount(q.Top, params, "TOP"); err != nil {
		return nil, err
	}
	if qi.Offset, err = resolveCount(q.Offset, params, "OFFSET"); err != nil {
		return nil, err
	}
	if qi.Limit, err = resolveCount(q.Limit, params, "LIMIT"); err != nil {
		return nil, err
	}
	for _, o := range q.OrderBy {
		qi.OrderByExpressions = append(qi.OrderByExpressions, sql.FormatExpr(o.Expr))
	}
	for _, g := range q.GroupBy {
		qi.GroupByExpressions = append(qi.GroupByExpressions, sql.FormatExpr(g))
	}

	if err := validate(q, qi); err != nil {
		return nil, err
	}

	names := sql.ProjectionNames(q.Items)
	if qi.HasAggregates || len(q.GroupBy) > 0 {
		for i, it := range q.Items {
			proj := Projection{Alias: names[i]}
			if q.SelectValue {
				proj.Alias = ""
			}
			if call, ok := it.Expr.(*sql.Call); ok && sql.IsAggregateCall(call) {
				proj.Aggregate = aggregate.Operator(call.Name)
				qi.Aggregates = append(qi.Aggregates, proj.Aggregate)
			} else {
				qi.GroupByAliases = append(qi.GroupByAliases, proj.Alias)
			}
			qi.Projections = append(qi.Projections, proj)
		}
	}

	if q.Distinct {
		qi.DistinctType = DistinctUnordered
		if len(q.OrderBy) > 0 && !q.Star && len(q.Items) == 1 &&
			sql.FormatExpr(q.Items[0].Expr) == qi.OrderByExpressions[0] {
			qi.DistinctType = DistinctOrdered
		}
	}

	qi.PartitionKey = extractPartitionKey(q, params, pkPath)
	qi.RewrittenQuery = rewrite(q, qi)
	return qi, nil
}

func validate(q *sql.Query, qi *QueryInfo) error {
	if q.Where != nil && sql.ContainsAggregate(q.Where) {
		return badQuery("Aggregates are not allowed in the WHERE clause.")
	}
	for _, g := range q.GroupBy {
		if sql.ContainsAggregate(g) {
			return badQuery("Aggregates are not allowed in the GROUP BY clause.")
		}
	}
	for _, o := range q.OrderBy {
		if sql.ContainsAggregate(o.Expr) {
			return badQuery("Aggregates are not allowed in the ORDER BY clause.")
		}
	}

	aggregates, plain := 0, 0
	for _, it := range q.Items {
		if !sql.ContainsAggregate(it.Expr) {
			plain++
			continue
		}
		call, ok := it.Expr.(*sql.Call)
		if !ok || !sql.IsAggregateCall(call) {
			return badQuery(qerrors.MsgAggregateComposition)
		}
		for _, a := range call.Args {
			if sql.ContainsAggregate(a) {
				return badQuery(qerrors.MsgAggregateComposition)
			}
		}
		if len(call.Args) != 1 {
			return qerrors.NewBadRequestf("Plan", "%s expects exactly one argument.", call.Name)
		}
		aggregates++
	}
	qi.HasAggregates = aggregates > 0

	if len(q.GroupBy) > 0 {
		switch {
		case len(q.OrderBy) > 0:
			return badQuery("ORDER BY is not supported together with GROUP BY.")
		case q.Distinct:
			return badQuery("DISTINCT is not supported together with GROUP BY.")
		case q.Star:
			return badQuery("'SELECT *' is not valid with GROUP BY.")
		}
		for _, it := range q.Items {
			if sql.ContainsAggregate(it.Expr) {
				continue
			}
			if !containsString(qi.GroupByExpressions, sql.FormatExpr(it.Expr)) {
				return qerrors.NewBadRequestf("Plan",
					"Property reference '%s' is invalid in the select list because it is not contained in the GROUP BY clause.",
					sql.FormatExpr(it.Expr))
			}
		}
		return nil
	}
	if aggregates > 0 && plain > 0 {
		return badQuery("Aggregates cannot be combined with other projections unless the query has a GROUP BY clause.")
	}
	if aggregates > 0 && len(q.OrderBy) > 0 {
		return badQuery("ORDER BY is not supported together with aggregates.")
	}
	return nil
}

// resolveCount evaluates a TOP, OFFSET or LIMIT operand; -1 when absent.
func resolveCount(e sql.Expr, params map[string]types.Item, clause string) (int, error) {
	if e == nil {
		return -1, nil
	}
	v := sql.Eval(e, &sql.Env{Params: params})
	n, ok := v.AsNumber()
	if !ok || n != math.Trunc(n) || n < 0 || n > math.MaxInt32 {
		return 0, qerrors.NewBadRequestf("Plan", "%s expects a non-negative integer, got %s.", clause, v)
	}
	return int(n), nil
}

// extractPartitionKey finds `alias.<pk path> = value` among the top-level
// AND conjuncts of WHERE.
func extractPartitionKey(q *sql.Query, params map[string]types.Item, pkPath string) *types.Item {
	path := strings.Split(strings.Trim(pkPath, "/"), "/")
	if pkPath == "" || len(path) == 0 || path[0] == "" {
		return nil
	}
	for _, conj := range conjuncts(q.Where) {
		b, ok := conj.(*sql.Binary)
		if !ok || b.Op != "=" {
			continue
		}
		for _, pair := range [][2]sql.Expr{{b.L, b.R}, {b.R, b.L}} {
			if !isPath(pair[0], q.Alias, path) {
				continue
			}
			var v types.Item
			switch x := pair[1].(type) {
			case *sql.Literal:
				v = x.Value
			case *sql.Param:
				v = params[x.Name]
			default:
				continue
			}
			if v.IsDefined() {
				return &v
			}
		}
	}
	return nil
}

func conjuncts(e sql.Expr) []sql.Expr {
	if b, ok := e.(*sql.Binary); ok && b.Op == "AND" {
		return append(conjuncts(b.L), conjuncts(b.R)...)
	}
	if e == nil {
		return nil
	}
	return []sql.Expr{e}
}

func isPath(e sql.Expr, alias string, path []string) bool {
	for i := len(path) - 1; i >= 0; i-- {
		p, ok := e.(*sql.Property)
		if !ok || p.Name != path[i] {
			return false
		}
		e = p.Base
	}
	id, ok := e.(*sql.Ident)
	return ok && id.Name == alias
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func badQuery(msg string) error {
	return qerrors.NewBadRequest("Plan", msg)
}
