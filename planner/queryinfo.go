// Package planner analyzes a query's shape, rejects shapes the engine cannot
// execute across partitions, and rewrites the query each partition runs.
package planner

import (
	"strings"

	"github.com/guileen/crossquery/aggregate"
	"github.com/guileen/crossquery/sql"
	"github.com/guileen/crossquery/types"
)

// FilterPlaceholder marks where an ORDER BY resume filter is spliced into
// the partition query.
const FilterPlaceholder = "{documentdb-formattableorderbyquery-filter}"

// DistinctType says how DISTINCT is enforced across partitions.
type DistinctType int

const (
	DistinctNone DistinctType = iota
	// DistinctOrdered suppresses adjacent duplicates; rows arrive sorted by
	// the projected value.
	DistinctOrdered
	// DistinctUnordered keeps a hash set of every emitted row.
	DistinctUnordered
)

func (d DistinctType) String() string {
	switch d {
	case DistinctOrdered:
		return "Ordered"
	case DistinctUnordered:
		return "Unordered"
	}
	return "None"
}

// Strategy is the cross-partition execution strategy.
type Strategy string

const (
	StrategyParallel    Strategy = "parallel"
	StrategyOrderBy     Strategy = "orderby"
	StrategyAggregate   Strategy = "aggregate"
	StrategyGroupBy     Strategy = "groupby"
	StrategyPassthrough Strategy = "passthrough"
)

// Projection is one output column of an aggregate or GROUP BY query.
// Aggregate is empty for a column that repeats a GROUP BY expression.
type Projection struct {
	Alias     string
	Aggregate aggregate.Operator
}

// QueryInfo is the analysis of one query.
type QueryInfo struct {
	Text  string
	Query *sql.Query

	DistinctType DistinctType
	// Top, Offset and Limit are -1 when absent.
	Top    int
	Offset int
	Limit  int

	OrderBy            []sql.OrderItem
	OrderByExpressions []string

	// Aggregates lists the operators of an aggregate or GROUP BY projection
	// in SELECT order.
	Aggregates         []aggregate.Operator
	Projections        []Projection
	GroupByExpressions []string
	GroupByAliases     []string

	HasSelectValue bool
	HasAggregates  bool

	// PartitionKey is the value of a top-level equality on the partition
	// key path, nil when the query does not pin one.
	PartitionKey *types.Item

	// RewrittenQuery is the query each partition runs. ORDER BY queries
	// carry FilterPlaceholder.
	RewrittenQuery string
}

// Strategy returns the cross-partition strategy for the query.
func (qi *QueryInfo) Strategy() Strategy {
	switch {
	case len(qi.GroupByExpressions) > 0:
		return StrategyGroupBy
	case qi.HasAggregates:
		return StrategyAggregate
	case len(qi.OrderBy) > 0:
		return StrategyOrderBy
	}
	return StrategyParallel
}

// HasOrderBy reports whether the query has an ORDER BY clause.
func (qi *QueryInfo) HasOrderBy() bool { return len(qi.OrderBy) > 0 }

// Descending reports the direction of each ORDER BY column.
func (qi *QueryInfo) Descending() []bool {
	out := make([]bool, len(qi.OrderBy))
	for i, o := range qi.OrderBy {
		out[i] = o.Desc
	}
	return out
}

// PartitionQuery returns the partition query with filter spliced in. An
// empty filter matches everything.
func (qi *QueryInfo) PartitionQuery(filter string) string {
	if filter == "" {
		filter = "true"
	}
	return strings.Replace(qi.RewrittenQuery, FilterPlaceholder, filter, 1)
}
