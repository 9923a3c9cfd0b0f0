package client

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/crossquery/emulator"
	"github.com/guileen/crossquery/engine/config"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/types"
)

func newClient(t *testing.T, emu *emulator.Emulator) *Client {
	t.Helper()
	c, err := New(emu, config.DefaultConfig())
	require.NoError(t, err)
	return c
}

// people seeds collection "people" partitioned by /id with n documents
// {"id", "age": 20 + i % 9, "city": one of four}.
func people(t *testing.T, partitions, n int) *emulator.Emulator {
	t.Helper()
	emu := emulator.New()
	t.Cleanup(func() { _ = emu.Close() })
	require.NoError(t, emu.CreateCollection("people", "/id", partitions))
	cities := []string{"oslo", "lima", "pune", "kyiv"}
	for i := 0; i < n; i++ {
		doc := types.MustParse(fmt.Sprintf(`{"id": "p%04d", "age": %d, "city": %q, "score": %d}`, i, 20+i%9, cities[i%4], (i*37)%101))
		_, err := emu.Upsert(context.Background(), "people", doc)
		require.NoError(t, err)
	}
	return emu
}

func feed(pageSize, dop int) *FeedOptions {
	return &FeedOptions{EnableCrossPartitionQuery: true, MaxItemCount: pageSize, MaxDegreeOfParallelism: dop}
}

// resumeAll drains a query one page per iterator, resuming each from the
// previous page's token.
func resumeAll(t *testing.T, c *Client, query string, fo *FeedOptions) []types.Item {
	t.Helper()
	var out []types.Item
	for i := 0; ; i++ {
		require.Less(t, i, 10000)
		it := c.Query("people", NewQuerySpec(query), fo)
		resp, err := it.ExecuteNext(context.Background())
		require.NoError(t, err)
		it.Close()
		out = append(out, resp.Items...)
		token, err := resp.ContinuationToken()
		require.NoError(t, err)
		if token == "" {
			return out
		}
		next := *fo
		next.RequestContinuation = token
		fo = &next
	}
}

func jsonOf(items []types.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.JSON()
	}
	return out
}

func TestScenarioAllDocumentsOnce(t *testing.T) {
	emu := emulator.New()
	defer emu.Close()
	require.NoError(t, emu.CreateCollection("people", "/id", 5))
	docs := make([]types.Item, 1000)
	for i := range docs {
		docs[i] = types.MustParse(fmt.Sprintf(`{"id": "%08d"}`, i))
	}
	require.NoError(t, emu.UpsertAll(context.Background(), "people", docs))

	it := newClient(t, emu).Query("people", NewQuerySpec("SELECT * FROM c"), feed(10, 10))
	defer it.Close()
	items, err := it.DrainAll(context.Background())
	require.NoError(t, err)
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		id, _ := item.Get("id").AsString()
		require.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 1000)
	assert.False(t, it.HasMoreResults())
}

func TestScenarioExactKeySinglePage(t *testing.T) {
	emu := emulator.New()
	defer emu.Close()
	require.NoError(t, emu.CreateCollection("people", "/pk", 4))
	for i := 1; i <= 6; i++ {
		_, err := emu.Upsert(context.Background(), "people", types.MustParse(fmt.Sprintf(`{"id": "%d", "pk": "doc%d"}`, i, i)))
		require.NoError(t, err)
	}

	it := newClient(t, emu).Query("people", NewQuerySpec("SELECT * FROM c WHERE c.pk = 'doc5'"), &FeedOptions{})
	resp, err := it.ExecuteNext(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count())
	pk, _ := resp.Items[0].Get("pk").AsString()
	assert.Equal(t, "doc5", pk)
	token, err := resp.ContinuationToken()
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.False(t, it.HasMoreResults())
}

func TestScenarioUnorderedDistinctResume(t *testing.T) {
	c := newClient(t, people(t, 4, 40))
	it := c.Query("people", NewQuerySpec("SELECT DISTINCT c.city FROM c"), feed(1, 0))
	resp, err := it.ExecuteNext(context.Background())
	require.NoError(t, err)
	_, err = resp.ContinuationToken()
	require.Error(t, err)
	assert.True(t, qerrors.IsBadRequest(err))
	assert.Contains(t, err.Error(), qerrors.MsgUnorderedDistinctContinuation)

	// a token of the ordered form of the query is still refused
	ordered := c.Query("people", NewQuerySpec("SELECT DISTINCT VALUE c.city FROM c ORDER BY c.city"), feed(1, 0))
	resp, err = ordered.ExecuteNext(context.Background())
	require.NoError(t, err)
	token, err := resp.ContinuationToken()
	require.NoError(t, err)
	fo := feed(1, 0)
	fo.RequestContinuation = token
	_, err = c.Query("people", NewQuerySpec("SELECT DISTINCT c.city FROM c"), fo).ExecuteNext(context.Background())
	assert.True(t, qerrors.IsBadRequest(err))
}

func TestScenarioGroupBy(t *testing.T) {
	emu := people(t, 4, 100)
	c := newClient(t, emu)

	want := map[float64]int{}
	for i := 0; i < 100; i++ {
		want[float64(20+i%9)]++
	}
	for _, size := range []int{1, 5, 10} {
		it := c.Query("people", NewQuerySpec("SELECT c.age, COUNT(1) as count FROM c GROUP BY c.age"), feed(size, -1))
		items, err := it.DrainAll(context.Background())
		require.NoError(t, err)
		got := map[float64]int{}
		for _, item := range items {
			age, _ := item.Get("age").AsNumber()
			n, _ := item.Get("count").AsNumber()
			got[age] = int(n)
		}
		assert.Equal(t, want, got, "page size %d", size)
	}

	it := c.Query("people", NewQuerySpec("SELECT c.age, COUNT(1) as count FROM c GROUP BY c.age"), feed(1, 0))
	resp, err := it.ExecuteNext(context.Background())
	require.NoError(t, err)
	_, err = resp.ContinuationToken()
	require.Error(t, err)
	assert.Contains(t, err.Error(), qerrors.MsgGroupByContinuation)
}

func TestOrderPreservedAcrossTokens(t *testing.T) {
	c := newClient(t, people(t, 5, 150))
	for _, q := range []string{
		"SELECT * FROM c ORDER BY c.age",
		"SELECT c.id, c.score FROM c ORDER BY c.score DESC",
		"SELECT VALUE c.id FROM c ORDER BY c.city, c.age DESC",
	} {
		oneShot, err := c.Query("people", NewQuerySpec(q), feed(1000, 0)).DrainAll(context.Background())
		require.NoError(t, err)
		require.Len(t, oneShot, 150)
		for _, size := range []int{1, 10, 100} {
			got := resumeAll(t, c, q, feed(size, -1))
			assert.Equal(t, jsonOf(oneShot), jsonOf(got), "%s page size %d", q, size)
		}
	}
}

func TestDistinctMatchesDeduplicatedResult(t *testing.T) {
	c := newClient(t, people(t, 4, 120))
	for _, pair := range [][2]string{
		{"SELECT DISTINCT VALUE c.age FROM c", "SELECT VALUE c.age FROM c"},
		{"SELECT DISTINCT c.city FROM c", "SELECT c.city FROM c"},
		{"SELECT DISTINCT VALUE c.score FROM c ORDER BY c.score", "SELECT VALUE c.score FROM c ORDER BY c.score"},
	} {
		plain, err := c.Query("people", NewQuerySpec(pair[1]), feed(1000, 0)).DrainAll(context.Background())
		require.NoError(t, err)
		var want []string
		seen := map[string]bool{}
		for _, s := range jsonOf(plain) {
			if !seen[s] {
				seen[s] = true
				want = append(want, s)
			}
		}
		for _, size := range []int{1, 10, 100} {
			got, err := c.Query("people", NewQuerySpec(pair[0]), feed(size, 0)).DrainAll(context.Background())
			require.NoError(t, err)
			gotJSON := jsonOf(got)
			if pair[0] == "SELECT DISTINCT VALUE c.score FROM c ORDER BY c.score" {
				assert.Equal(t, want, gotJSON)
				continue
			}
			sorted := append([]string(nil), want...)
			sort.Strings(sorted)
			sort.Strings(gotJSON)
			assert.Equal(t, sorted, gotJSON, pair[0])
		}
	}
}

func TestTopBoundSerial(t *testing.T) {
	c := newClient(t, people(t, 5, 100))
	for _, n := range []int{1, 7, 33} {
		fo := feed(4, 0)
		fo.PopulateQueryMetrics = true
		it := c.Query("people", NewQuerySpec(fmt.Sprintf("SELECT TOP %d * FROM c", n)), fo)
		items, err := it.DrainAll(context.Background())
		require.NoError(t, err)
		assert.Len(t, items, n)
		assert.LessOrEqual(t, it.CumulativeMetrics().Total().OutputDocumentCount, int64(n))
	}
}

func TestAggregateMerge(t *testing.T) {
	c := newClient(t, people(t, 4, 90))
	want := 0
	for i := 0; i < 90; i++ {
		if age := 20 + i%9; age >= 25 {
			want += (i * 37) % 101
		}
	}
	items, err := c.Query("people", NewQuerySpec("SELECT VALUE SUM(c.score) FROM c WHERE c.age >= 25"), feed(3, -1)).DrainAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	sum, _ := items[0].AsNumber()
	assert.Equal(t, float64(want), sum)

	items, err = c.Query("people", NewQuerySpec("SELECT VALUE AVG(c.score) FROM c WHERE c.age > 99"), nil).DrainAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = c.Query("people", NewQuerySpec("SELECT VALUE AVG(c.age) FROM c WHERE c.city = @city",
		Parameter{Name: "@city", Value: types.StringItem("oslo")}), nil).DrainAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	var total, count float64
	for i := 0; i < 90; i += 4 {
		total += float64(20 + i%9)
		count++
	}
	avg, _ := items[0].AsNumber()
	assert.InDelta(t, total/count, avg, 1e-9)
}

func TestTotalsIndependentOfKnobs(t *testing.T) {
	c := newClient(t, people(t, 4, 80))
	for _, q := range []string{"SELECT * FROM c", "SELECT * FROM c ORDER BY c.score", "SELECT VALUE COUNT(1) FROM c"} {
		type totals struct {
			charge    float64
			retrieved int64
			output    int64
		}
		var base *totals
		for _, knobs := range [][2]int{{100, 0}, {1, 0}, {5, -1}, {13, 2}} {
			fo := feed(knobs[0], knobs[1])
			fo.PopulateQueryMetrics = true
			it := c.Query("people", NewQuerySpec(q), fo)
			_, err := it.DrainAll(context.Background())
			require.NoError(t, err)
			m := it.CumulativeMetrics().Total()
			got := &totals{charge: it.TotalRequestCharge(), retrieved: m.RetrievedDocumentCount, output: m.OutputDocumentCount}
			if base == nil {
				base = got
				continue
			}
			assert.InDelta(t, base.charge, got.charge, 1e-9, q)
			assert.Equal(t, base.retrieved, got.retrieved, q)
			assert.Equal(t, base.output, got.output, q)
		}
	}
}

func TestSplitMidQuery(t *testing.T) {
	emu := people(t, 2, 60)
	c := newClient(t, emu)
	for _, q := range []string{"SELECT VALUE c.id FROM c", "SELECT VALUE c.id FROM c ORDER BY c.score, c.id"} {
		want, err := c.Query("people", NewQuerySpec(q), feed(1000, 0)).DrainAll(context.Background())
		require.NoError(t, err)

		it := c.Query("people", NewQuerySpec(q), feed(7, -1))
		first, err := it.ExecuteNext(context.Background())
		require.NoError(t, err)
		require.NoError(t, emu.SplitAll(context.Background(), "people"))
		rest, err := it.DrainAll(context.Background())
		require.NoError(t, err)
		assert.ElementsMatch(t, jsonOf(want), jsonOf(append(first.Items, rest...)), q)
	}
}

func TestMalformedTokens(t *testing.T) {
	c := newClient(t, people(t, 3, 10))
	for _, token := range []string{
		"not json",
		`{"version": 1, "fingerprint": "x", "source": []}`,
		`{"version": 7, "fingerprint": "x", "source": []}`,
	} {
		fo := feed(5, 0)
		fo.RequestContinuation = token
		_, err := c.Query("people", NewQuerySpec("SELECT * FROM c"), fo).ExecuteNext(context.Background())
		assert.True(t, qerrors.IsBadRequest(err), token)
	}
}

func TestTransientErrorsAreDistinguishable(t *testing.T) {
	emu := people(t, 3, 10)
	c := newClient(t, emu)
	emu.InjectTransient(1)
	it := c.Query("people", NewQuerySpec("SELECT * FROM c"), feed(5, 0))
	_, err := it.ExecuteNext(context.Background())
	require.Error(t, err)
	assert.True(t, qerrors.IsTransient(err))
	assert.False(t, qerrors.IsBadRequest(err))
	assert.False(t, it.HasMoreResults())

	emu.InjectSpuriousCancel(1)
	items, err := c.Query("people", NewQuerySpec("SELECT * FROM c"), feed(5, 0)).DrainAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 10)
}

func TestBadQueriesFailOnFirstPull(t *testing.T) {
	c := newClient(t, people(t, 2, 5))
	for _, q := range []string{
		"SELECT COUNT(1) + 1 FROM c",
		"SELECT FROM c",
		"SELECT c.age, COUNT(1) FROM c",
	} {
		_, err := c.Query("people", NewQuerySpec(q), nil).ExecuteNext(context.Background())
		assert.True(t, qerrors.IsBadRequest(err), q)
	}
}

func TestActivityIDIsGenerated(t *testing.T) {
	c := newClient(t, people(t, 2, 5))
	it := c.Query("people", NewQuerySpec("SELECT * FROM c"), nil)
	resp, err := it.ExecuteNext(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, it.ActivityID())
	assert.Equal(t, it.ActivityID(), resp.ActivityID)

	fo := feed(5, 0)
	fo.ActivityID = "fixed"
	it = c.Query("people", NewQuerySpec("SELECT * FROM c"), fo)
	resp, err = it.ExecuteNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed", resp.ActivityID)
}
