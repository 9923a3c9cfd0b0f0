package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/crossquery/codec"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/idgen"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/sql"
	"github.com/guileen/crossquery/storage"
	"github.com/guileen/crossquery/types"
)

// seed stores n documents {"id": "doc<i>", "n": i % mod, "g": i % 3} with rid i+1.
func seed(t *testing.T, n, mod int) *Executor {
	t.Helper()
	kv, err := storage.NewPebbleKV(storage.InMemoryPebbleConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	ctx := context.Background()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("doc%03d", i)
		rid := idgen.FormatRID(int64(i + 1))
		doc := types.MustParse(fmt.Sprintf(`{"id": %q, "n": %d, "g": %d, "_rid": %q}`, id, i%mod, i%3, rid))
		epk := routing.EffectivePartitionKey(types.StringItem(id))
		require.NoError(t, kv.Set(ctx, codec.EncodeDocumentKey(epk, rid), []byte(doc.JSON())))
	}
	return New(kv)
}

func run(t *testing.T, e *Executor, query string, rng routing.Range, pageSize int, cont *string) ([]types.Item, []*Result) {
	t.Helper()
	q, err := sql.Parse(query)
	require.NoError(t, err)
	var items []types.Item
	var pages []*Result
	for {
		res, err := e.Execute(context.Background(), &Request{Query: q, Range: rng, Continuation: cont, MaxItemCount: pageSize})
		require.NoError(t, err)
		items = append(items, res.Items...)
		pages = append(pages, res)
		if res.Continuation == nil {
			return items, pages
		}
		cont = res.Continuation
	}
}

func TestStreamPaging(t *testing.T) {
	e := seed(t, 25, 5)
	all, _ := run(t, e, "SELECT * FROM c", routing.FullRange(), 0, nil)
	require.Len(t, all, 25)

	paged, pages := run(t, e, "SELECT * FROM c", routing.FullRange(), 7, nil)
	assert.Equal(t, all, paged)
	var retrieved, output int64
	for _, p := range pages {
		retrieved += p.Metrics.RetrievedDocumentCount
		output += p.Metrics.OutputDocumentCount
	}
	assert.Equal(t, int64(25), retrieved)
	assert.Equal(t, int64(25), output)
}

func TestStreamTopAcrossPages(t *testing.T) {
	e := seed(t, 25, 5)
	items, _ := run(t, e, "SELECT TOP 8 VALUE c.id FROM c WHERE c.n = 1", routing.FullRange(), 2, nil)
	assert.Len(t, items, 5)

	items, _ = run(t, e, "SELECT TOP 8 VALUE c.id FROM c", routing.FullRange(), 3, nil)
	assert.Len(t, items, 8)

	items, _ = run(t, e, "SELECT VALUE c.id FROM c OFFSET 20 LIMIT 10", routing.FullRange(), 3, nil)
	assert.Len(t, items, 5)
}

func TestScanBudgetProducesEmptyPages(t *testing.T) {
	e := seed(t, 10, 5)
	q, err := sql.Parse("SELECT * FROM c WHERE c.n = 4")
	require.NoError(t, err)

	var cont *string
	var got, empty int
	for i := 0; i < 100; i++ {
		res, err := e.Execute(context.Background(), &Request{Query: q, Range: routing.FullRange(), Continuation: cont, MaxItemCount: 10, ScanBudget: 2})
		require.NoError(t, err)
		got += len(res.Items)
		if len(res.Items) == 0 && res.Continuation != nil {
			empty++
		}
		if res.Continuation == nil {
			break
		}
		cont = res.Continuation
	}
	assert.Equal(t, 2, got)
	assert.Greater(t, empty, 0)
}

func TestOrderByWithTies(t *testing.T) {
	e := seed(t, 20, 4)
	query := "SELECT c.n, c._rid FROM c ORDER BY c.n DESC"
	all, _ := run(t, e, query, routing.FullRange(), 0, nil)
	require.Len(t, all, 20)
	for i := 1; i < len(all); i++ {
		pn, _ := all[i-1].Get("n").AsNumber()
		cn, _ := all[i].Get("n").AsNumber()
		require.GreaterOrEqual(t, pn, cn)
		if pn == cn {
			prid, _ := all[i-1].Get("_rid").AsString()
			crid, _ := all[i].Get("_rid").AsString()
			assert.Greater(t, prid, crid, "ties follow the first column's direction")
		}
	}

	paged, _ := run(t, e, query, routing.FullRange(), 3, nil)
	assert.Equal(t, all, paged)
}

func TestEvaluatedTokenSurvivesSplit(t *testing.T) {
	e := seed(t, 30, 6)
	query := "SELECT VALUE c.id FROM c ORDER BY c.n"
	all, _ := run(t, e, query, routing.FullRange(), 0, nil)

	q, err := sql.Parse(query)
	require.NoError(t, err)
	first, err := e.Execute(context.Background(), &Request{Query: q, Range: routing.FullRange(), MaxItemCount: 10})
	require.NoError(t, err)
	require.NotNil(t, first.Continuation)

	mid, ok := routing.MidPoint(routing.FullRange())
	require.True(t, ok)
	left, _ := run(t, e, query, routing.Range{Min: "", Max: mid}, 4, first.Continuation)
	right, _ := run(t, e, query, routing.Range{Min: mid, Max: "FF"}, 4, first.Continuation)

	rest := map[string]bool{}
	for _, v := range append(left, right...) {
		rest[v.String()] = true
	}
	assert.Len(t, rest, 20)
	for _, v := range all[10:] {
		assert.True(t, rest[v.String()], "missing %s", v)
	}
}

func TestGroupByAndAggregates(t *testing.T) {
	e := seed(t, 12, 4)
	items, _ := run(t, e, "SELECT c.g, COUNT(1) AS n, SUM(c.n) AS total FROM c GROUP BY c.g", routing.FullRange(), 2, nil)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, types.NumberItem(4), it.Get("n"))
	}

	items, _ = run(t, e, `SELECT VALUE [{"item": COUNT(1)}, {"item": MAX(c.n)}, {"item": MIN(c.missing)}] FROM c`, routing.FullRange(), 10, nil)
	require.Len(t, items, 1)
	assert.Equal(t, `[{"item":12},{"item":3},{}]`, items[0].JSON())

	items, _ = run(t, e, "SELECT VALUE AVG(c.missing) FROM c", routing.FullRange(), 10, nil)
	assert.Empty(t, items)

	items, _ = run(t, e, "SELECT VALUE AVG(c.n) FROM c WHERE c.g = 0", routing.FullRange(), 10, nil)
	require.Len(t, items, 1)
	assert.Equal(t, types.NumberItem(1.5), items[0])
}

func TestDistinct(t *testing.T) {
	e := seed(t, 20, 4)
	items, _ := run(t, e, "SELECT DISTINCT VALUE c.n FROM c", routing.FullRange(), 1, nil)
	assert.Len(t, items, 4)

	items, _ = run(t, e, "SELECT DISTINCT VALUE c.n FROM c ORDER BY c.n DESC", routing.FullRange(), 3, nil)
	require.Len(t, items, 4)
	assert.Equal(t, types.NumberItem(3), items[0])
	assert.Equal(t, types.NumberItem(0), items[3])
}

func TestMalformedContinuation(t *testing.T) {
	e := seed(t, 1, 1)
	q, err := sql.Parse("SELECT * FROM c")
	require.NoError(t, err)
	bad := "not json"
	_, err = e.Execute(context.Background(), &Request{Query: q, Range: routing.FullRange(), Continuation: &bad})
	assert.True(t, qerrors.IsBadRequest(err))

	_, err = e.Execute(context.Background(), &Request{Query: q, Range: routing.Range{Min: "AA", Max: "AA"}})
	assert.True(t, qerrors.IsBadRequest(err))
}
