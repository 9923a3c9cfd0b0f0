package routing

import (
	"context"
	"sort"
	"testing"

	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	live      []PartitionKeyRange
	stale     []PartitionKeyRange
	refreshes int
}

func (f *fakeProvider) PartitionKeyRanges(_ context.Context, _ string, forceRefresh bool) ([]PartitionKeyRange, error) {
	if forceRefresh {
		f.refreshes++
		return f.live, nil
	}
	if f.stale != nil {
		return f.stale, nil
	}
	return f.live, nil
}

func (f *fakeProvider) PartitionKeyPath(context.Context, string) (string, error) {
	return "/pk", nil
}

func rangesOf(n int) []PartitionKeyRange {
	out := make([]PartitionKeyRange, n)
	for i, r := range SplitEvenly(n) {
		out[i] = PartitionKeyRange{ID: string(rune('0' + i)), MinInclusive: r.Min, MaxExclusive: r.Max}
	}
	return out
}

func TestSplitEvenlyTilesKeySpace(t *testing.T) {
	rs := SplitEvenly(5)
	require.Len(t, rs, 5)
	assert.Equal(t, MinimumInclusiveEPK, rs[0].Min)
	assert.Equal(t, MaximumExclusiveEPK, rs[4].Max)
	for i := 1; i < len(rs); i++ {
		assert.Equal(t, rs[i-1].Max, rs[i].Min)
		assert.Less(t, rs[i].Min, rs[i].Max)
	}
}

func TestEffectivePartitionKey(t *testing.T) {
	epk := EffectivePartitionKey(types.StringItem("doc5"))
	assert.Len(t, epk, 16)
	assert.True(t, FullRange().Contains(epk))
	assert.Equal(t, epk, EffectivePartitionKey(types.StringItem("doc5")))
	assert.NotEqual(t, epk, EffectivePartitionKey(types.StringItem("doc6")))
}

func TestMidPoint(t *testing.T) {
	for _, r := range SplitEvenly(3) {
		mid, ok := MidPoint(r)
		require.True(t, ok, r.String())
		assert.True(t, r.Min < mid && mid < r.Max, "%s not inside %s", mid, r)
	}
	_, ok := MidPoint(Range{Min: "0000000000000001", Max: "0000000000000002"})
	assert.False(t, ok)
}

func TestResolveTargets(t *testing.T) {
	ctx := context.Background()
	live := rangesOf(4)
	shuffled := []PartitionKeyRange{live[2], live[0], live[3], live[1]}
	e := NewEnumerator(&fakeProvider{live: shuffled})

	t.Run("AllPartitionsSorted", func(t *testing.T) {
		targets, err := e.ResolveTargets(ctx, "coll", nil)
		require.NoError(t, err)
		require.Len(t, targets, 4)
		assert.True(t, sort.SliceIsSorted(targets, func(i, j int) bool { return targets[i].Min < targets[j].Min }))
	})

	t.Run("ExactKey", func(t *testing.T) {
		pk := types.StringItem("doc5")
		targets, err := e.ResolveTargets(ctx, "coll", &pk)
		require.NoError(t, err)
		require.Len(t, targets, 1)
		assert.True(t, targets[0].Range().Contains(EffectivePartitionKey(pk)))
		assert.Equal(t, KeyRange(pk), targets[0].Range())

		var owner string
		for _, r := range live {
			if r.Range().Contains(EffectivePartitionKey(pk)) {
				owner = r.ID
			}
		}
		assert.Equal(t, owner, targets[0].ID)
	})

	t.Run("KeyRangeHoldsOneKey", func(t *testing.T) {
		kr := KeyRange(types.StringItem("a"))
		assert.True(t, kr.Contains(EffectivePartitionKey(types.StringItem("a"))))
		assert.False(t, kr.Contains(EffectivePartitionKey(types.StringItem("b"))))
	})

	t.Run("Override", func(t *testing.T) {
		target, err := e.ResolveOverride(ctx, "coll", "2")
		require.NoError(t, err)
		assert.Equal(t, live[2].Target(), target)

		_, err = e.ResolveOverride(ctx, "coll", "99")
		assert.True(t, qerrors.IsBadRequest(err))
	})
}

func TestResolveRangeAfterSplit(t *testing.T) {
	ctx := context.Background()
	before := rangesOf(2)
	mid, ok := MidPoint(before[0].Range())
	require.True(t, ok)

	after := []PartitionKeyRange{
		{ID: "2", MinInclusive: before[0].MinInclusive, MaxExclusive: mid, Parents: []string{"0"}},
		{ID: "3", MinInclusive: mid, MaxExclusive: before[0].MaxExclusive, Parents: []string{"0"}},
		before[1],
	}
	provider := &fakeProvider{live: after, stale: before}
	e := NewEnumerator(provider)

	children, err := e.Replacements(ctx, "coll", before[0].Target())
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "2", children[0].ID)
	assert.Equal(t, "3", children[1].ID)
	assert.Equal(t, 1, provider.refreshes)

	resolved, err := e.ResolveRange(ctx, "coll", before[0].Range())
	require.NoError(t, err)
	assert.Equal(t, children, resolved)
}

func TestResolveRangeRejects(t *testing.T) {
	ctx := context.Background()
	live := rangesOf(2)
	e := NewEnumerator(&fakeProvider{live: live})

	t.Run("Merged", func(t *testing.T) {
		mid, _ := MidPoint(live[0].Range())
		_, err := e.ResolveRange(ctx, "coll", Range{Min: live[0].MinInclusive, Max: mid})
		assert.True(t, qerrors.IsBadRequest(err))
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := e.ResolveRange(ctx, "coll", Range{Min: "AA", Max: "AA"})
		assert.True(t, qerrors.IsBadRequest(err))
	})

	t.Run("OutsideKeySpace", func(t *testing.T) {
		_, err := e.ResolveRange(ctx, "coll", Range{Min: "FF", Max: "FFFF"})
		assert.True(t, qerrors.IsBadRequest(err))
	})

	t.Run("StillLive", func(t *testing.T) {
		_, err := e.Replacements(ctx, "coll", live[1].Target())
		assert.True(t, qerrors.IsTransient(err))
	})
}
