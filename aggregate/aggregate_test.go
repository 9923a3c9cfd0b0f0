package aggregate

import (
	"testing"

	"github.com/guileen/crossquery/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nums(vs ...float64) []types.Item {
	out := make([]types.Item, len(vs))
	for i, v := range vs {
		out[i] = types.NumberItem(v)
	}
	return out
}

func fold(op Operator, values []types.Item) AggFunction {
	a := New(op)
	for _, v := range values {
		a.Update(v)
	}
	return a
}

func TestUpdateAndFinalize(t *testing.T) {
	mixed := append(nums(3, 1, 2), types.StringItem("x"), types.UndefinedItem(), types.NullItem())

	tests := []struct {
		op   Operator
		in   []types.Item
		want types.Item
	}{
		{Count, mixed, types.NumberItem(5)},
		{Sum, mixed, types.NumberItem(6)},
		{Avg, mixed, types.NumberItem(2)},
		{Min, nums(3, 1, 2), types.NumberItem(1)},
		{Max, nums(3, 1, 2), types.NumberItem(3)},
		{Max, mixed, types.StringItem("x")},
		{Min, mixed, types.NullItem()},
		{Count, nil, types.NumberItem(0)},
		{Sum, nil, types.NumberItem(0)},
		{Avg, nil, types.UndefinedItem()},
		{Min, nil, types.UndefinedItem()},
		{Max, []types.Item{types.UndefinedItem()}, types.UndefinedItem()},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			got := fold(tt.op, tt.in).Finalize()
			assert.True(t, types.Equal(tt.want, got), "want %s got %s", tt.want, got)
		})
	}
}

func TestMergeAcrossPartitions(t *testing.T) {
	partitions := [][]types.Item{nums(1, 2), nums(), nums(10), nums(4, 4, 4)}
	var all []types.Item
	for _, p := range partitions {
		all = append(all, p...)
	}

	for _, op := range []Operator{Count, Sum, Min, Max, Avg} {
		t.Run(string(op), func(t *testing.T) {
			merged := New(op)
			for _, p := range partitions {
				require.NoError(t, merged.Merge(PartialOf(op, fold(op, p))))
			}
			want := fold(op, all).Finalize()
			assert.True(t, types.Equal(want, merged.Finalize()), "want %s got %s", want, merged.Finalize())
		})
	}
}

func TestAvgIsNotAverageOfAverages(t *testing.T) {
	merged := New(Avg)
	require.NoError(t, merged.Merge(PartialOf(Avg, fold(Avg, nums(1)))))
	require.NoError(t, merged.Merge(PartialOf(Avg, fold(Avg, nums(3, 3, 3)))))
	assert.Equal(t, types.NumberItem(2.5), merged.Finalize())
}

func TestMergeRejectsBadPartials(t *testing.T) {
	assert.Error(t, New(Count).Merge(types.StringItem("1")))
	assert.Error(t, New(Sum).Merge(types.BoolItem(true)))
	assert.Error(t, New(Avg).Merge(types.NumberItem(1)))
	assert.NoError(t, New(Avg).Merge(types.UndefinedItem()))
}

func TestParseOperator(t *testing.T) {
	op, ok := ParseOperator("avg")
	assert.True(t, ok)
	assert.Equal(t, Avg, op)

	_, ok = ParseOperator("median")
	assert.False(t, ok)
}
