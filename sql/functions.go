package sql

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/guileen/crossquery/types"
)

type builtin struct {
	arity int // -1 for variadic
	call  func(args []types.Item) types.Item
}

func kindCheck(k types.Kind) builtin {
	return builtin{arity: 1, call: func(a []types.Item) types.Item {
		return types.BoolItem(a[0].Kind() == k)
	}}
}

func stringFn(fn func(string) types.Item) builtin {
	return builtin{arity: 1, call: func(a []types.Item) types.Item {
		s, ok := a[0].AsString()
		if !ok {
			return types.UndefinedItem()
		}
		return fn(s)
	}}
}

func stringPredicate(fn func(s, sub string) bool) builtin {
	return builtin{arity: 2, call: func(a []types.Item) types.Item {
		s, ok1 := a[0].AsString()
		sub, ok2 := a[1].AsString()
		if !ok1 || !ok2 {
			return types.UndefinedItem()
		}
		return types.BoolItem(fn(s, sub))
	}}
}

func mathFn(fn func(float64) float64) builtin {
	return builtin{arity: 1, call: func(a []types.Item) types.Item {
		f, ok := a[0].AsNumber()
		if !ok {
			return types.UndefinedItem()
		}
		return types.NumberItem(fn(f))
	}}
}

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"IS_DEFINED": {arity: 1, call: func(a []types.Item) types.Item { return types.BoolItem(a[0].IsDefined()) }},
		"IS_NULL":    kindCheck(types.Null),
		"IS_BOOL":    kindCheck(types.Bool),
		"IS_NUMBER":  kindCheck(types.Number),
		"IS_STRING":  kindCheck(types.String),
		"IS_ARRAY":   kindCheck(types.Array),
		"IS_OBJECT":  kindCheck(types.Object),
		"IS_PRIMITIVE": {arity: 1, call: func(a []types.Item) types.Item {
			return types.BoolItem(a[0].Kind().IsPrimitive())
		}},
		"LOWER": stringFn(func(s string) types.Item { return types.StringItem(strings.ToLower(s)) }),
		"UPPER": stringFn(func(s string) types.Item { return types.StringItem(strings.ToUpper(s)) }),
		"LENGTH": stringFn(func(s string) types.Item {
			return types.NumberItem(float64(utf8.RuneCountInString(s)))
		}),
		"CONCAT": {arity: -1, call: func(a []types.Item) types.Item {
			var b strings.Builder
			for _, x := range a {
				s, ok := x.AsString()
				if !ok {
					return types.UndefinedItem()
				}
				b.WriteString(s)
			}
			return types.StringItem(b.String())
		}},
		"CONTAINS":   stringPredicate(strings.Contains),
		"STARTSWITH": stringPredicate(strings.HasPrefix),
		"ENDSWITH":   stringPredicate(strings.HasSuffix),
		"ABS":        mathFn(math.Abs),
		"FLOOR":      mathFn(math.Floor),
		"CEILING":    mathFn(math.Ceil),
		"ROUND":      mathFn(math.Round),
		"ARRAY_LENGTH": {arity: 1, call: func(a []types.Item) types.Item {
			if a[0].Kind() != types.Array {
				return types.UndefinedItem()
			}
			return types.NumberItem(float64(a[0].Len()))
		}},
		"ARRAY_CONTAINS": {arity: 2, call: func(a []types.Item) types.Item {
			if a[0].Kind() != types.Array {
				return types.UndefinedItem()
			}
			for _, e := range a[0].Elems() {
				if types.Equal(e, a[1]) {
					return types.BoolItem(true)
				}
			}
			return types.BoolItem(false)
		}},
		"TOSTRING": {arity: 1, call: func(a []types.Item) types.Item {
			switch a[0].Kind() {
			case types.Undefined:
				return types.UndefinedItem()
			case types.String:
				return a[0]
			case types.Number:
				f, _ := a[0].AsNumber()
				return types.StringItem(strconv.FormatFloat(f, 'g', -1, 64))
			}
			return types.StringItem(a[0].JSON())
		}},
	}
}
