package sql

import (
	"testing"

	"github.com/guileen/crossquery/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClauses(t *testing.T) {
	q, err := Parse(`SELECT DISTINCT TOP 5 c.name, c.age AS years FROM root c
		WHERE c.age >= 18 AND NOT IS_NULL(c.name)
		ORDER BY c.age DESC, c.name
		OFFSET 2 LIMIT 3`)
	require.NoError(t, err)

	assert.True(t, q.Distinct)
	assert.Equal(t, "5", FormatExpr(q.Top))
	assert.Equal(t, "root", q.Collection)
	assert.Equal(t, "c", q.Alias)
	require.Len(t, q.Items, 2)
	assert.Equal(t, "c.name", FormatExpr(q.Items[0].Expr))
	assert.Equal(t, "years", q.Items[1].Alias)
	assert.Equal(t, "((c.age >= 18) AND (NOT IS_NULL(c.name)))", FormatExpr(q.Where))
	require.Len(t, q.OrderBy, 2)
	assert.True(t, q.OrderBy[0].Desc)
	assert.False(t, q.OrderBy[1].Desc)
	assert.Equal(t, "2", FormatExpr(q.Offset))
	assert.Equal(t, "3", FormatExpr(q.Limit))
}

func TestParseValueAndGroupBy(t *testing.T) {
	q, err := Parse(`select value count(1) from c group by c.age`)
	require.NoError(t, err)
	assert.True(t, q.SelectValue)
	assert.True(t, IsAggregateCall(q.Items[0].Expr))
	require.Len(t, q.GroupBy, 1)
	assert.Equal(t, "c.age", FormatExpr(q.GroupBy[0]))
}

func TestFormatRoundTrip(t *testing.T) {
	queries := []string{
		`SELECT * FROM c`,
		`SELECT VALUE c["first name"] FROM c WHERE c.tags[0] = "x"`,
		`SELECT c.id, {"n": c.n * 2, "s": c.a || 'b'} AS o FROM c WHERE c.x BETWEEN 1 AND 5 OR c.y NOT IN (1, 2)`,
		`SELECT TOP @n c.id FROM c WHERE (c.a ?? 3) > -2 ? true : false ORDER BY c.id`,
		`SELECT [{"item": c.age}] AS orderByItems, c AS payload FROM c WHERE IS_DEFINED(c.age) ORDER BY c.age DESC`,
		`SELECT c.value AS value FROM c`,
	}
	for _, src := range queries {
		t.Run(src, func(t *testing.T) {
			q, err := Parse(src)
			require.NoError(t, err)
			text := q.String()
			again, err := Parse(text)
			require.NoError(t, err, text)
			assert.Equal(t, text, again.String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		``,
		`SELECT`,
		`SELECT * FROM`,
		`SELECT * FROM c WHERE`,
		`SELECT TOP x * FROM c`,
		`SELECT * FROM c ORDER c.id`,
		`SELECT NOPE(c.id) FROM c`,
		`SELECT 'unterminated FROM c`,
		`SELECT * FROM c extra junk`,
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			var syntaxErr *SyntaxError
			assert.ErrorAs(t, err, &syntaxErr)
		})
	}
}

func evalString(t *testing.T, expr string, doc string) types.Item {
	t.Helper()
	e, err := ParseExpr(expr)
	require.NoError(t, err)
	return Eval(e, &Env{
		Alias:  "c",
		Root:   types.MustParse(doc),
		Params: map[string]types.Item{"p": types.NumberItem(10)},
	})
}

func TestEval(t *testing.T) {
	doc := `{"id": "a", "n": 4, "s": "Hello", "arr": [1, 2, 3], "nested": {"x": true}, "nil": null}`
	tests := []struct {
		expr string
		want string // JSON, or "undefined"
	}{
		{`c.n + 1`, `5`},
		{`c.n * @p`, `40`},
		{`c.n / 0`, `undefined`},
		{`c.n % 3`, `1`},
		{`c.s || "!"`, `"Hello!"`},
		{`c.n > 3`, `true`},
		{`c.n > "3"`, `undefined`},
		{`c.n = "4"`, `undefined`},
		{`c.arr = [1, 2, 3]`, `true`},
		{`c.missing = 1`, `undefined`},
		{`c.missing ?? "dflt"`, `"dflt"`},
		{`c.n > 3 AND c.missing`, `undefined`},
		{`c.n > 5 AND c.missing`, `false`},
		{`c.n > 3 OR c.missing`, `true`},
		{`NOT c.nested.x`, `false`},
		{`c.n BETWEEN 1 AND 4`, `true`},
		{`c.n NOT BETWEEN 1 AND 4`, `false`},
		{`c.id IN ("b", "a")`, `true`},
		{`c.id NOT IN ("b")`, `true`},
		{`c.arr[1]`, `2`},
		{`c["nested"]["x"]`, `true`},
		{`c.n > 1 ? "big" : "small"`, `"big"`},
		{`IS_DEFINED(c.missing)`, `false`},
		{`IS_NULL(c.nil)`, `true`},
		{`IS_NUMBER(c.n)`, `true`},
		{`IS_STRING(c.n)`, `false`},
		{`LOWER(c.s)`, `"hello"`},
		{`LENGTH(c.s)`, `5`},
		{`CONCAT(c.id, "-", c.s)`, `"a-Hello"`},
		{`STARTSWITH(c.s, "He")`, `true`},
		{`ARRAY_LENGTH(c.arr)`, `3`},
		{`ARRAY_CONTAINS(c.arr, 2)`, `true`},
		{`ABS(-3)`, `3`},
		{`TOSTRING(c.n)`, `"4"`},
		{`{"k": c.missing, "v": c.n}`, `{"v":4}`},
		{`[c.n, c.missing]`, `[4]`},
		{`-c.n`, `-4`},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got := evalString(t, tt.expr, doc)
			if tt.want == "undefined" {
				assert.False(t, got.IsDefined(), "got %s", got)
				return
			}
			assert.True(t, types.Equal(types.MustParse(tt.want), got), "want %s got %s", tt.want, got)
		})
	}
}

func TestEvalAggregatesFromEnv(t *testing.T) {
	q, err := Parse(`SELECT VALUE SUM(c.n) FROM c`)
	require.NoError(t, err)
	call := q.Items[0].Expr.(*Call)

	env := &Env{Alias: "c", Aggregates: map[*Call]types.Item{call: types.NumberItem(7)}}
	assert.Equal(t, types.NumberItem(7), Eval(call, env))
	assert.False(t, Eval(call, &Env{Alias: "c"}).IsDefined())
}

func TestContainsAggregate(t *testing.T) {
	e, err := ParseExpr(`SUM(c.a) + 1`)
	require.NoError(t, err)
	assert.True(t, ContainsAggregate(e))
	assert.False(t, IsAggregateCall(e))

	e, err = ParseExpr(`c.a + 1`)
	require.NoError(t, err)
	assert.False(t, ContainsAggregate(e))
}

func TestAnd(t *testing.T) {
	a, _ := ParseExpr(`c.a = 1`)
	b, _ := ParseExpr(`c.b = 2`)
	assert.Nil(t, And())
	assert.Equal(t, a, And(nil, a))
	assert.Equal(t, "((c.a = 1) AND (c.b = 2))", FormatExpr(And(a, nil, b)))
}

func TestProjectionNames(t *testing.T) {
	q, err := Parse(`SELECT c.name, c.address.city, c.a + 1, UPPER(c.b) AS up, c["x y"], 3 FROM c`)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "city", "$1", "up", "x y", "$2"}, ProjectionNames(q.Items))
}
