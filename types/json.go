package types

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/guileen/crossquery/pool"
)

var errInvalidJSON = errors.New("invalid JSON")

// Parse decodes one JSON value. Object fields keep their document order.
func Parse(data []byte) (Item, error) {
	if !json.Valid(data) {
		return undefinedItem, fmt.Errorf("types: %w", errInvalidJSON)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	item, err := parseValue(dec)
	if err != nil {
		return undefinedItem, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return undefinedItem, fmt.Errorf("types: unexpected data after JSON value")
	}
	return item, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Item {
	item, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return item
}

func parseValue(dec *json.Decoder) (Item, error) {
	tok, err := dec.Token()
	if err != nil {
		return undefinedItem, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			elems := []Item{}
			for dec.More() {
				e, err := parseValue(dec)
				if err != nil {
					return undefinedItem, err
				}
				elems = append(elems, e)
			}
			if _, err := dec.Token(); err != nil {
				return undefinedItem, err
			}
			return ArrayItem(elems...), nil
		case '{':
			var fields []Field
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return undefinedItem, err
				}
				name, ok := keyTok.(string)
				if !ok {
					return undefinedItem, fmt.Errorf("types: object key %v is not a string", keyTok)
				}
				v, err := parseValue(dec)
				if err != nil {
					return undefinedItem, err
				}
				fields = append(fields, Field{Name: name, Value: v})
			}
			if _, err := dec.Token(); err != nil {
				return undefinedItem, err
			}
			return ObjectItem(fields...), nil
		}
		return undefinedItem, fmt.Errorf("types: unexpected delimiter %v", t)
	case nil:
		return nullItem, nil
	case bool:
		return BoolItem(t), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return undefinedItem, fmt.Errorf("types: bad number %q: %w", t, err)
		}
		return NumberItem(f), nil
	case float64:
		return NumberItem(t), nil
	case string:
		return StringItem(t), nil
	}
	return undefinedItem, fmt.Errorf("types: unexpected token %T", tok)
}

// AppendJSON appends the compact JSON form of the item. Undefined renders
// as nothing at the top level, as null inside arrays, and is omitted from
// objects.
func (it Item) AppendJSON(dst []byte) []byte {
	switch it.kind {
	case Undefined:
		return dst
	case Null:
		return append(dst, "null"...)
	case Bool:
		return strconv.AppendBool(dst, it.b)
	case Number:
		if math.IsNaN(it.n) || math.IsInf(it.n, 0) {
			return append(dst, "null"...)
		}
		return strconv.AppendFloat(dst, it.n, 'g', -1, 64)
	case String:
		return appendString(dst, it.s)
	case Array:
		dst = append(dst, '[')
		for i, e := range it.arr {
			if i > 0 {
				dst = append(dst, ',')
			}
			if e.IsDefined() {
				dst = e.AppendJSON(dst)
			} else {
				dst = append(dst, "null"...)
			}
		}
		return append(dst, ']')
	default:
		dst = append(dst, '{')
		first := true
		for _, f := range it.obj {
			if !f.Value.IsDefined() {
				continue
			}
			if !first {
				dst = append(dst, ',')
			}
			first = false
			dst = appendString(dst, f.Name)
			dst = append(dst, ':')
			dst = f.Value.AppendJSON(dst)
		}
		return append(dst, '}')
	}
}

func appendString(dst []byte, s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return strconv.AppendQuote(dst, s)
	}
	return append(dst, b...)
}

// JSON returns the compact JSON form of the item.
func (it Item) JSON() string {
	return string(it.AppendJSON(nil))
}

// Size is the length of the JSON form, used for document size metrics.
func (it Item) Size() int {
	var n int
	pool.Scratch.With(func(b []byte) []byte {
		b = it.AppendJSON(b)
		n = len(b)
		return b
	})
	return n
}

// String implements fmt.Stringer.
func (it Item) String() string {
	if !it.IsDefined() {
		return "undefined"
	}
	return it.JSON()
}

// MarshalJSON implements json.Marshaler. Undefined marshals as null.
func (it Item) MarshalJSON() ([]byte, error) {
	if !it.IsDefined() {
		return []byte("null"), nil
	}
	return it.AppendJSON(nil), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (it *Item) UnmarshalJSON(data []byte) error {
	item, err := Parse(data)
	if err != nil {
		return err
	}
	*it = item
	return nil
}
