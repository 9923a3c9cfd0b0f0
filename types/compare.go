package types

import "strings"

// Compare orders two items: first by Kind (undefined < null < boolean <
// number < string < array < object), then by value. Arrays compare
// element-wise then by length; objects compare their name-sorted fields
// pairwise (name, then value) then by field count.
func Compare(a, b Item) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case Undefined, Null:
		return 0
	case Bool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		}
		return 1
	case Number:
		switch {
		case a.n < b.n:
			return -1
		case a.n > b.n:
			return 1
		}
		return 0
	case String:
		return strings.Compare(a.s, b.s)
	case Array:
		n := min(len(a.arr), len(b.arr))
		for i := 0; i < n; i++ {
			if c := Compare(a.arr[i], b.arr[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(a.arr), len(b.arr))
	default:
		af, bf := a.sortedFields(), b.sortedFields()
		n := min(len(af), len(bf))
		for i := 0; i < n; i++ {
			if c := strings.Compare(af[i].Name, bf[i].Name); c != 0 {
				return c
			}
			if c := Compare(af[i].Value, bf[i].Value); c != 0 {
				return c
			}
		}
		return cmpInt(len(af), len(bf))
	}
}

// Equal reports structural equality. Object field order is ignored.
func Equal(a, b Item) bool {
	return Compare(a, b) == 0
}

// CompareComparable compares two items the way query predicates do: only
// two primitives of the same kind are ordered; any other pair is not
// comparable and the predicate evaluates to undefined.
func CompareComparable(a, b Item) (int, bool) {
	if a.kind != b.kind || !a.kind.IsPrimitive() {
		return 0, false
	}
	return Compare(a, b), true
}

// CompareSlices compares item tuples lexicographically.
func CompareSlices(a, b []Item) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
