package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/crossquery/aggregate"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/sql"
	"github.com/guileen/crossquery/types"
)

func analyze(t *testing.T, text string) *QueryInfo {
	t.Helper()
	qi, err := Analyze(text, nil, "/pk")
	require.NoError(t, err)
	return qi
}

func TestStrategySelection(t *testing.T) {
	tests := []struct {
		query string
		want  Strategy
	}{
		{"SELECT * FROM c", StrategyParallel},
		{"SELECT * FROM c ORDER BY c.n", StrategyOrderBy},
		{"SELECT VALUE COUNT(1) FROM c", StrategyAggregate},
		{"SELECT c.age, COUNT(1) AS n FROM c GROUP BY c.age", StrategyGroupBy},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, analyze(t, tt.query).Strategy())
		})
	}
}

func TestOrderByRewrite(t *testing.T) {
	qi := analyze(t, "SELECT c.name FROM c WHERE c.n > 1 ORDER BY c.n DESC, c.name")
	assert.Equal(t, []string{"c.n", "c.name"}, qi.OrderByExpressions)
	assert.Equal(t, []bool{true, false}, qi.Descending())

	text := qi.PartitionQuery("")
	assert.Equal(t,
		`SELECT c._rid, [{"item": c.n}, {"item": c.name}] AS orderByItems, {"name": c.name} AS payload FROM c `+
			`WHERE ((((c.n > 1) AND IS_DEFINED(c.n)) AND IS_DEFINED(c.name)) AND true) ORDER BY c.n DESC, c.name ASC`,
		text)
	_, err := sql.Parse(text)
	require.NoError(t, err)

	filtered := qi.PartitionQuery("(c.n < 5)")
	assert.Contains(t, filtered, "AND (c.n < 5))")
}

func TestDistinctType(t *testing.T) {
	assert.Equal(t, DistinctNone, analyze(t, "SELECT * FROM c").DistinctType)
	assert.Equal(t, DistinctUnordered, analyze(t, "SELECT DISTINCT VALUE c.a FROM c").DistinctType)
	assert.Equal(t, DistinctOrdered, analyze(t, "SELECT DISTINCT VALUE c.a FROM c ORDER BY c.a").DistinctType)
	assert.Equal(t, DistinctOrdered, analyze(t, "SELECT DISTINCT c.a FROM c ORDER BY c.a DESC").DistinctType)
	assert.Equal(t, DistinctUnordered, analyze(t, "SELECT DISTINCT VALUE c.a FROM c ORDER BY c.b").DistinctType)

	qi := analyze(t, "SELECT DISTINCT VALUE c.a FROM c ORDER BY c.a")
	assert.NotContains(t, qi.RewrittenQuery, "_rid")
	assert.Contains(t, qi.RewrittenQuery, "SELECT DISTINCT ")
}

func TestTopAndOffsetLimitPushdown(t *testing.T) {
	qi := analyze(t, "SELECT TOP 5 * FROM c")
	assert.Equal(t, 5, qi.Top)
	assert.Equal(t, "SELECT TOP 5 * FROM c", qi.RewrittenQuery)

	qi = analyze(t, "SELECT * FROM c ORDER BY c.n OFFSET 3 LIMIT 4")
	assert.Equal(t, 3, qi.Offset)
	assert.Equal(t, 4, qi.Limit)
	assert.Contains(t, qi.RewrittenQuery, "SELECT TOP 7 ")
	assert.NotContains(t, qi.RewrittenQuery, "OFFSET")

	qi, err := Analyze("SELECT TOP @n * FROM c", map[string]types.Item{"n": types.NumberItem(2)}, "/pk")
	require.NoError(t, err)
	assert.Equal(t, 2, qi.Top)
}

func TestAggregateRewrite(t *testing.T) {
	qi := analyze(t, "SELECT COUNT(1) AS n, AVG(c.x) AS mean FROM c WHERE c.x > 0")
	assert.Equal(t, []aggregate.Operator{aggregate.Count, aggregate.Avg}, qi.Aggregates)
	assert.Equal(t, []Projection{{Alias: "n", Aggregate: aggregate.Count}, {Alias: "mean", Aggregate: aggregate.Avg}}, qi.Projections)
	assert.Equal(t,
		`SELECT VALUE [{"item": COUNT(1)}, {"item": {"sum": SUM(c.x), "count": COUNT((IS_NUMBER(c.x) ? c.x : undefined))}}] FROM c WHERE (c.x > 0)`,
		qi.RewrittenQuery)
	_, err := sql.Parse(qi.RewrittenQuery)
	require.NoError(t, err)

	qi = analyze(t, "SELECT VALUE SUM(c.x) FROM c")
	assert.True(t, qi.HasSelectValue)
	assert.Equal(t, []Projection{{Aggregate: aggregate.Sum}}, qi.Projections)
}

func TestGroupByRewrite(t *testing.T) {
	qi := analyze(t, "SELECT c.age, COUNT(1) AS count FROM c GROUP BY c.age")
	assert.Equal(t, []string{"c.age"}, qi.GroupByExpressions)
	assert.Equal(t, []string{"age"}, qi.GroupByAliases)
	assert.Equal(t,
		`SELECT [{"item": c.age}] AS groupByItems, {"age": c.age, "count": {"item": COUNT(1)}} AS payload FROM c GROUP BY c.age`,
		qi.RewrittenQuery)
	assert.Equal(t, "count", qi.PayloadField(1))

	qi = analyze(t, "SELECT VALUE MAX(c.n) FROM c GROUP BY c.age")
	assert.Equal(t, "$value", qi.PayloadField(0))
	assert.Contains(t, qi.RewrittenQuery, `{"$value": {"item": MAX(c.n)}} AS payload`)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		query string
		msg   string
	}{
		{"SELECT VALUE SUM(c.a) + 1 FROM c", qerrors.MsgAggregateComposition},
		{"SELECT VALUE SUM(c.a) / COUNT(1) FROM c", qerrors.MsgAggregateComposition},
		{"SELECT VALUE {\"s\": SUM(c.a)} FROM c", qerrors.MsgAggregateComposition},
		{"SELECT VALUE SUM(MAX(c.a)) FROM c", qerrors.MsgAggregateComposition},
		{"SELECT c.a, COUNT(1) FROM c", "Aggregates cannot be combined"},
		{"SELECT c.a FROM c GROUP BY c.a ORDER BY c.a", "ORDER BY is not supported together with GROUP BY"},
		{"SELECT VALUE COUNT(1) FROM c ORDER BY c.a", "ORDER BY is not supported together with aggregates"},
		{"SELECT DISTINCT c.a FROM c GROUP BY c.a", "DISTINCT"},
		{"SELECT * FROM c GROUP BY c.a", "SELECT *"},
		{"SELECT c.b FROM c GROUP BY c.a", "not contained in the GROUP BY clause"},
		{"SELECT * FROM c WHERE COUNT(1) > 1", "WHERE"},
		{"SELECT TOP @n * FROM c", "TOP expects"},
		{"SELECT * FROM c OFFSET 1.5 LIMIT 2", "OFFSET expects"},
		{"SELEC * FROM c", "syntax error"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, err := Analyze(tt.query, nil, "/pk")
			require.Error(t, err)
			assert.True(t, qerrors.IsBadRequest(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestPartitionKeyExtraction(t *testing.T) {
	qi := analyze(t, "SELECT * FROM c WHERE c.pk = 'doc5'")
	require.NotNil(t, qi.PartitionKey)
	assert.Equal(t, types.StringItem("doc5"), *qi.PartitionKey)

	qi = analyze(t, "SELECT * FROM c WHERE c.n > 1 AND 'x' = c.pk")
	require.NotNil(t, qi.PartitionKey)

	qi, err := Analyze("SELECT * FROM root r WHERE r.a.b = @v", map[string]types.Item{"v": types.NumberItem(3)}, "/a/b")
	require.NoError(t, err)
	require.NotNil(t, qi.PartitionKey)
	assert.Equal(t, types.NumberItem(3), *qi.PartitionKey)

	assert.Nil(t, analyze(t, "SELECT * FROM c WHERE c.pk = 'a' OR c.pk = 'b'").PartitionKey)
	assert.Nil(t, analyze(t, "SELECT * FROM c WHERE c.other = 'a'").PartitionKey)
}

func TestPlanCache(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)

	a, err := p.Plan("SELECT * FROM c", nil, "/id")
	require.NoError(t, err)
	b, err := p.Plan("SELECT * FROM c", nil, "/id")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = p.Plan("SELECT TOP @n * FROM c", map[string]types.Item{"n": types.NumberItem(1)}, "/id")
	require.NoError(t, err)
	_, err = p.Plan("SELECT TOP @n * FROM c", map[string]types.Item{"n": types.NumberItem(2)}, "/id")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())

	_, err = p.Plan("SELECT VALUE SUM(c.a) + 1 FROM c", nil, "/id")
	assert.Error(t, err)
}
