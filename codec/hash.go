package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"

	"github.com/guileen/crossquery/pool"
	"github.com/guileen/crossquery/types"
)

const distinctHashSeed uint64 = 0x9E3779B97F4A7C15

// Hash192 identifies an item for DISTINCT. It is the seeded 128-bit xxh3 of
// the canonical encoding followed by the 64-bit xxhash of the same bytes.
// For n distinct items the chance that any two collide is about n²/2^193,
// which stays below 1e-40 for a trillion items.
type Hash192 struct {
	Hi  uint64
	Mid uint64
	Lo  uint64
}

// DistinctHash hashes the canonical form of item, so items that compare
// equal hash alike regardless of number formatting or field order.
func DistinctHash(item types.Item) Hash192 {
	var out Hash192
	pool.Scratch.With(func(b []byte) []byte {
		b = AppendItem(b, item)
		h := xxh3.Hash128Seed(b, distinctHashSeed)
		out = Hash192{Hi: h.Hi, Mid: h.Lo, Lo: xxhash.Sum64(b)}
		return b
	})
	return out
}

// IsZero reports whether h is the zero hash, used as "nothing emitted yet".
func (h Hash192) IsZero() bool {
	return h == Hash192{}
}

// String renders the hash as 48 hex digits.
func (h Hash192) String() string {
	var buf []byte
	buf = appendMemComparableUint64(buf, h.Hi)
	buf = appendMemComparableUint64(buf, h.Mid)
	buf = appendMemComparableUint64(buf, h.Lo)
	return hex.EncodeToString(buf)
}

// ParseHash192 parses the String form.
func ParseHash192(s string) (Hash192, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 24 {
		return Hash192{}, fmt.Errorf("codec: invalid distinct hash %q", s)
	}
	var h Hash192
	for i := 0; i < 8; i++ {
		h.Hi = h.Hi<<8 | uint64(b[i])
		h.Mid = h.Mid<<8 | uint64(b[8+i])
		h.Lo = h.Lo<<8 | uint64(b[16+i])
	}
	return h, nil
}

// PartitionKeyHash hashes a partition key value into the 62-bit space used
// for effective partition keys.
func PartitionKeyHash(pk types.Item) uint64 {
	var h uint64
	pool.Scratch.With(func(b []byte) []byte {
		b = AppendItem(b, pk)
		h = xxhash.Sum64(b) >> 2
		return b
	})
	return h
}
