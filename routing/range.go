// Package routing resolves which physical partitions a query must visit.
// Partitions own contiguous intervals of the effective partition key space
// ["", "FF"), written as upper-case hex strings compared byte-wise.
package routing

import (
	"fmt"

	"github.com/guileen/crossquery/codec"
	"github.com/guileen/crossquery/types"
)

const (
	// MinimumInclusiveEPK is the lower bound of the key space.
	MinimumInclusiveEPK = ""
	// MaximumExclusiveEPK is the upper bound of the key space.
	MaximumExclusiveEPK = "FF"
)

// EPKCeiling bounds the numeric value of every effective partition key.
const EPKCeiling uint64 = 1 << 62

// Range is the half-open interval [Min, Max) of effective partition keys.
type Range struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// FullRange covers every effective partition key.
func FullRange() Range {
	return Range{Min: MinimumInclusiveEPK, Max: MaximumExclusiveEPK}
}

// IsEmpty reports whether the range contains no key.
func (r Range) IsEmpty() bool { return r.Min >= r.Max }

// Contains reports whether epk falls in the range.
func (r Range) Contains(epk string) bool { return r.Min <= epk && epk < r.Max }

// Overlaps reports whether the two ranges share a key.
func (r Range) Overlaps(o Range) bool { return r.Min < o.Max && o.Min < r.Max }

// Covers reports whether o lies entirely inside r.
func (r Range) Covers(o Range) bool { return r.Min <= o.Min && o.Max <= r.Max }

func (r Range) String() string { return fmt.Sprintf("[%q, %q)", r.Min, r.Max) }

// PartitionKeyRange is one live physical partition as reported by the routing map.
type PartitionKeyRange struct {
	ID           string   `json:"id"`
	MinInclusive string   `json:"minInclusive"`
	MaxExclusive string   `json:"maxExclusive"`
	Parents      []string `json:"parents,omitempty"`
}

// Range returns the key interval owned by the partition.
func (p PartitionKeyRange) Range() Range {
	return Range{Min: p.MinInclusive, Max: p.MaxExclusive}
}

// Target returns the PartitionTarget for the partition.
func (p PartitionKeyRange) Target() PartitionTarget {
	return PartitionTarget{ID: p.ID, Min: p.MinInclusive, Max: p.MaxExclusive}
}

// PartitionTarget identifies one partition a query pipe is opened against.
type PartitionTarget struct {
	ID  string `json:"id"`
	Min string `json:"min"`
	Max string `json:"max"`
}

// Range returns the key interval of the target.
func (t PartitionTarget) Range() Range { return Range{Min: t.Min, Max: t.Max} }

func (t PartitionTarget) String() string {
	return fmt.Sprintf("%s%s", t.ID, t.Range())
}

// EffectivePartitionKey maps a partition key value into the key space. The
// result is 16 hex digits whose first digit is at most 3, so it always sorts
// below MaximumExclusiveEPK.
func EffectivePartitionKey(pk types.Item) string {
	return fmt.Sprintf("%016X", codec.PartitionKeyHash(pk))
}

// KeyRange is the range holding exactly the documents of one partition key
// value. Every effective partition key has the same length, so no other key
// sorts between epk and epk+"0".
func KeyRange(pk types.Item) Range {
	epk := EffectivePartitionKey(pk)
	return Range{Min: epk, Max: epk + "0"}
}

// MidPoint returns a key strictly inside r used to split it in two, or
// false when r is too narrow.
func MidPoint(r Range) (string, bool) {
	lo := parseEPK(r.Min)
	hi := parseEPK(r.Max)
	if r.Max == MaximumExclusiveEPK {
		hi = EPKCeiling
	}
	if hi <= lo+1 {
		return "", false
	}
	mid := fmt.Sprintf("%016X", lo+(hi-lo)/2)
	if mid <= r.Min || mid >= r.Max {
		return "", false
	}
	return mid, true
}

// SplitEvenly cuts the key space into n contiguous ranges of equal width.
func SplitEvenly(n int) []Range {
	out := make([]Range, n)
	step := EPKCeiling / uint64(n)
	for i := 0; i < n; i++ {
		out[i].Min = MinimumInclusiveEPK
		if i > 0 {
			out[i].Min = fmt.Sprintf("%016X", uint64(i)*step)
		}
		out[i].Max = MaximumExclusiveEPK
		if i < n-1 {
			out[i].Max = fmt.Sprintf("%016X", uint64(i+1)*step)
		}
	}
	return out
}

// parseEPK reads up to 16 hex digits as a number, padding short keys with
// zeros on the right, so "" is 0 and "FF" is 0xFF00000000000000.
func parseEPK(s string) uint64 {
	var v uint64
	for i := 0; i < 16; i++ {
		v <<= 4
		if i < len(s) {
			c := s[i]
			switch {
			case c >= '0' && c <= '9':
				v |= uint64(c - '0')
			case c >= 'A' && c <= 'F':
				v |= uint64(c-'A') + 10
			case c >= 'a' && c <= 'f':
				v |= uint64(c-'a') + 10
			}
		}
	}
	return v
}
