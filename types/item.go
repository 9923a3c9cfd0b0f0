// Package types defines Item, the structured value flowing through every
// stage of a query: documents, projections, sort keys and aggregate partials.
package types

import (
	"fmt"
	"math"
	"sort"
)

// Kind is the JSON type of an Item. The declaration order is the cross-type sort order.
type Kind uint8

const (
	Undefined Kind = iota
	Null
	Bool
	Number
	String
	Array
	Object
)

var kindNames = [...]string{"undefined", "null", "boolean", "number", "string", "array", "object"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// IsPrimitive reports whether k is null, boolean, number or string.
func (k Kind) IsPrimitive() bool {
	return k == Null || k == Bool || k == Number || k == String
}

// Field is one property of an object Item. Fields keep their insertion order.
type Field struct {
	Name  string
	Value Item
}

// Item is an immutable JSON value, or undefined. The zero Item is undefined.
type Item struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Item
	obj  []Field
}

var (
	undefinedItem = Item{}
	nullItem      = Item{kind: Null}
	trueItem      = Item{kind: Bool, b: true}
	falseItem     = Item{kind: Bool}
)

// UndefinedItem returns the undefined value.
func UndefinedItem() Item { return undefinedItem }

// NullItem returns JSON null.
func NullItem() Item { return nullItem }

// BoolItem wraps a boolean.
func BoolItem(b bool) Item {
	if b {
		return trueItem
	}
	return falseItem
}

// NumberItem wraps a number.
func NumberItem(n float64) Item { return Item{kind: Number, n: n} }

// StringItem wraps a string.
func StringItem(s string) Item { return Item{kind: String, s: s} }

// ArrayItem builds an array. Undefined elements are kept; JSON rendering turns them into null.
func ArrayItem(elems ...Item) Item {
	if elems == nil {
		elems = []Item{}
	}
	return Item{kind: Array, arr: elems}
}

// ObjectItem builds an object. Undefined values are dropped and a repeated
// name keeps the last value at the position of the first.
func ObjectItem(fields ...Field) Item {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if !f.Value.IsDefined() {
			continue
		}
		replaced := false
		for i := range out {
			if out[i].Name == f.Name {
				out[i].Value = f.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return Item{kind: Object, obj: out}
}

// F is shorthand for a Field.
func F(name string, v Item) Field { return Field{Name: name, Value: v} }

// Kind returns the JSON type of the item.
func (it Item) Kind() Kind { return it.kind }

// IsDefined reports whether the item holds a value.
func (it Item) IsDefined() bool { return it.kind != Undefined }

// AsBool returns the boolean value and whether the item is a boolean.
func (it Item) AsBool() (bool, bool) { return it.b, it.kind == Bool }

// AsNumber returns the numeric value and whether the item is a number.
func (it Item) AsNumber() (float64, bool) { return it.n, it.kind == Number }

// AsString returns the string value and whether the item is a string.
func (it Item) AsString() (string, bool) { return it.s, it.kind == String }

// IsTrue reports whether the item is the boolean true. WHERE keeps only such rows.
func (it Item) IsTrue() bool { return it.kind == Bool && it.b }

// Len returns the number of elements of an array or fields of an object.
func (it Item) Len() int {
	switch it.kind {
	case Array:
		return len(it.arr)
	case Object:
		return len(it.obj)
	}
	return 0
}

// Elems returns the elements of an array. The slice must not be modified.
func (it Item) Elems() []Item {
	if it.kind != Array {
		return nil
	}
	return it.arr
}

// Index returns element i of an array, or undefined.
func (it Item) Index(i int) Item {
	if it.kind != Array || i < 0 || i >= len(it.arr) {
		return undefinedItem
	}
	return it.arr[i]
}

// Fields returns the fields of an object in insertion order. The slice must not be modified.
func (it Item) Fields() []Field {
	if it.kind != Object {
		return nil
	}
	return it.obj
}

// Get returns the named property of an object, or undefined.
func (it Item) Get(name string) Item {
	if it.kind != Object {
		return undefinedItem
	}
	for _, f := range it.obj {
		if f.Name == name {
			return f.Value
		}
	}
	return undefinedItem
}

// GetPath follows a chain of property names.
func (it Item) GetPath(names ...string) Item {
	cur := it
	for _, n := range names {
		cur = cur.Get(n)
		if !cur.IsDefined() {
			return undefinedItem
		}
	}
	return cur
}

// With returns a copy of an object with name set to v. An undefined v removes the property.
func (it Item) With(name string, v Item) Item {
	if it.kind != Object {
		return it
	}
	out := make([]Field, 0, len(it.obj)+1)
	found := false
	for _, f := range it.obj {
		if f.Name == name {
			found = true
			if v.IsDefined() {
				out = append(out, Field{Name: name, Value: v})
			}
			continue
		}
		out = append(out, f)
	}
	if !found && v.IsDefined() {
		out = append(out, Field{Name: name, Value: v})
	}
	return Item{kind: Object, obj: out}
}

// sortedFields returns the fields of an object ordered by name.
func (it Item) sortedFields() []Field {
	fs := make([]Field, len(it.obj))
	copy(fs, it.obj)
	sort.Slice(fs, func(i, j int) bool { return fs[i].Name < fs[j].Name })
	return fs
}

// FromGo converts decoded Go values (nil, bool, numbers, string, []any,
// map[string]any, Item) into an Item. Map keys are sorted.
func FromGo(v any) (Item, error) {
	switch t := v.(type) {
	case nil:
		return nullItem, nil
	case Item:
		return t, nil
	case bool:
		return BoolItem(t), nil
	case float64:
		return NumberItem(t), nil
	case float32:
		return NumberItem(float64(t)), nil
	case int:
		return NumberItem(float64(t)), nil
	case int32:
		return NumberItem(float64(t)), nil
	case int64:
		return NumberItem(float64(t)), nil
	case uint64:
		return NumberItem(float64(t)), nil
	case string:
		return StringItem(t), nil
	case []any:
		elems := make([]Item, len(t))
		for i, e := range t {
			item, err := FromGo(e)
			if err != nil {
				return undefinedItem, err
			}
			elems[i] = item
		}
		return ArrayItem(elems...), nil
	case []Item:
		return ArrayItem(t...), nil
	case map[string]any:
		names := make([]string, 0, len(t))
		for k := range t {
			names = append(names, k)
		}
		sort.Strings(names)
		fields := make([]Field, 0, len(t))
		for _, k := range names {
			item, err := FromGo(t[k])
			if err != nil {
				return undefinedItem, err
			}
			fields = append(fields, Field{Name: k, Value: item})
		}
		return ObjectItem(fields...), nil
	}
	return undefinedItem, fmt.Errorf("types: cannot convert %T to Item", v)
}

// MustFromGo is FromGo for literals known to convert.
func MustFromGo(v any) Item {
	item, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return item
}

// ToGo converts the item to plain Go values; undefined becomes nil.
func (it Item) ToGo() any {
	switch it.kind {
	case Null, Undefined:
		return nil
	case Bool:
		return it.b
	case Number:
		return it.n
	case String:
		return it.s
	case Array:
		out := make([]any, len(it.arr))
		for i, e := range it.arr {
			out[i] = e.ToGo()
		}
		return out
	default:
		out := make(map[string]any, len(it.obj))
		for _, f := range it.obj {
			out[f.Name] = f.Value.ToGo()
		}
		return out
	}
}

// IsInteger reports whether a number has no fractional part.
func (it Item) IsInteger() bool {
	return it.kind == Number && !math.IsInf(it.n, 0) && it.n == math.Trunc(it.n)
}
