package codec

import (
	"bytes"
	"testing"

	"github.com/guileen/crossquery/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleItems() []types.Item {
	return []types.Item{
		types.UndefinedItem(),
		types.NullItem(),
		types.BoolItem(false),
		types.BoolItem(true),
		types.NumberItem(-1e9),
		types.NumberItem(-0.5),
		types.NumberItem(0),
		types.NumberItem(42),
		types.StringItem(""),
		types.StringItem("a\x00b"),
		types.StringItem("ab"),
		types.MustParse(`[]`),
		types.MustParse(`[1, "x"]`),
		types.MustParse(`[2]`),
		types.MustParse(`{}`),
		types.MustParse(`{"a": 1}`),
		types.MustParse(`{"a": 1, "b": null}`),
		types.MustParse(`{"b": [true]}`),
	}
}

func TestAppendItemPreservesOrder(t *testing.T) {
	items := sampleItems()
	for i := range items {
		for j := range items {
			want := types.Compare(items[i], items[j])
			got := bytes.Compare(AppendItem(nil, items[i]), AppendItem(nil, items[j]))
			assert.Equal(t, want, got, "%s vs %s", items[i], items[j])
		}
	}
}

func TestDecodeItem(t *testing.T) {
	for _, item := range sampleItems() {
		t.Run(item.String(), func(t *testing.T) {
			enc := AppendItem(nil, item)
			got, n, err := DecodeItem(enc)
			require.NoError(t, err)
			assert.Equal(t, len(enc), n)
			assert.True(t, types.Equal(item, got))
		})
	}

	_, _, err := DecodeItem([]byte{0x7F})
	assert.Error(t, err)
	_, _, err = DecodeItem([]byte{tagArray, tagNull})
	assert.Error(t, err)
}

func TestDistinctHashNormalizes(t *testing.T) {
	a := types.MustParse(`{"x": 1, "y": "z"}`)
	b := types.MustParse(`{"y": "z", "x": 1.0}`)
	c := types.MustParse(`{"x": 2, "y": "z"}`)

	assert.Equal(t, DistinctHash(a), DistinctHash(b))
	assert.NotEqual(t, DistinctHash(a), DistinctHash(c))
	assert.NotEqual(t, DistinctHash(types.StringItem("1")), DistinctHash(types.NumberItem(1)))
	assert.False(t, DistinctHash(types.NullItem()).IsZero())
}

func TestHash192StringRoundTrip(t *testing.T) {
	h := DistinctHash(types.MustParse(`[1, 2, 3]`))
	s := h.String()
	assert.Len(t, s, 48)

	parsed, err := ParseHash192(s)
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash192("xyz")
	assert.Error(t, err)
}

func TestDocumentKeys(t *testing.T) {
	key := EncodeDocumentKey("0A1B", "00000000000000FF")
	epk, rid, err := DecodeDocumentKey(key)
	require.NoError(t, err)
	assert.Equal(t, "0A1B", epk)
	assert.Equal(t, "00000000000000FF", rid)

	lower, upper := DocumentRangeBounds("0A", "1F")
	assert.True(t, bytes.Compare(lower, key) <= 0)
	assert.True(t, bytes.Compare(key, upper) < 0)

	outside := EncodeDocumentKey("1F", "00")
	assert.True(t, bytes.Compare(outside, upper) >= 0)

	full := EncodeDocumentKey("", "01")
	lowerAll, _ := DocumentRangeBounds("", "FF")
	assert.True(t, bytes.Compare(lowerAll, full) <= 0)
}

func TestPartitionKeyHashBelowFF(t *testing.T) {
	for _, pk := range sampleItems() {
		h := PartitionKeyHash(pk)
		assert.Less(t, h, uint64(1)<<62)
	}
}
