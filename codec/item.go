// Package codec holds the byte encodings of the query engine: the canonical
// order-preserving form of an Item, the distinct hash built on it, and the
// storage keys of the partitioned backend.
package codec

import (
	"fmt"

	"github.com/guileen/crossquery/types"
)

// Kind tags start at 0x01 so the 0x00 container terminator sorts first.
const (
	tagUndefined byte = 0x01 + iota
	tagNull
	tagFalse
	tagTrue
	tagNumber
	tagString
	tagArray
	tagObject

	tagEnd   byte = 0x00
	tagField byte = 0x01
)

// AppendItem appends the canonical encoding of item. bytes.Compare over two
// encodings agrees with types.Compare, numbers are normalized (1 and 1.0
// encode alike) and object fields are written in name order, so equal
// items always encode to equal bytes.
func AppendItem(buf []byte, item types.Item) []byte {
	switch item.Kind() {
	case types.Undefined:
		return append(buf, tagUndefined)
	case types.Null:
		return append(buf, tagNull)
	case types.Bool:
		if b, _ := item.AsBool(); b {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	case types.Number:
		n, _ := item.AsNumber()
		return appendMemComparableFloat64(append(buf, tagNumber), n)
	case types.String:
		s, _ := item.AsString()
		return appendMemComparableString(append(buf, tagString), s)
	case types.Array:
		buf = append(buf, tagArray)
		for _, e := range item.Elems() {
			buf = AppendItem(buf, e)
		}
		return append(buf, tagEnd)
	default:
		buf = append(buf, tagObject)
		for _, f := range sortedFields(item) {
			buf = append(buf, tagField)
			buf = appendMemComparableString(buf, f.Name)
			buf = AppendItem(buf, f.Value)
		}
		return append(buf, tagEnd)
	}
}

// EncodeItems encodes a tuple; the result is usable as a map key for group-by.
func EncodeItems(items ...types.Item) []byte {
	var buf []byte
	for _, it := range items {
		buf = AppendItem(buf, it)
	}
	return buf
}

// DecodeItem reads one canonical item and returns the bytes consumed.
// Objects come back with fields in name order.
func DecodeItem(data []byte) (types.Item, int, error) {
	if len(data) == 0 {
		return types.UndefinedItem(), 0, fmt.Errorf("codec: empty item")
	}
	switch data[0] {
	case tagUndefined:
		return types.UndefinedItem(), 1, nil
	case tagNull:
		return types.NullItem(), 1, nil
	case tagFalse:
		return types.BoolItem(false), 1, nil
	case tagTrue:
		return types.BoolItem(true), 1, nil
	case tagNumber:
		f, n, err := readMemComparableFloat64(data[1:])
		if err != nil {
			return types.UndefinedItem(), 0, err
		}
		return types.NumberItem(f), 1 + n, nil
	case tagString:
		s, n, err := readMemComparableString(data[1:])
		if err != nil {
			return types.UndefinedItem(), 0, err
		}
		return types.StringItem(s), 1 + n, nil
	case tagArray:
		off := 1
		elems := []types.Item{}
		for {
			if off >= len(data) {
				return types.UndefinedItem(), 0, fmt.Errorf("codec: unterminated array")
			}
			if data[off] == tagEnd {
				return types.ArrayItem(elems...), off + 1, nil
			}
			e, n, err := DecodeItem(data[off:])
			if err != nil {
				return types.UndefinedItem(), 0, err
			}
			elems = append(elems, e)
			off += n
		}
	case tagObject:
		off := 1
		var fields []types.Field
		for {
			if off >= len(data) {
				return types.UndefinedItem(), 0, fmt.Errorf("codec: unterminated object")
			}
			if data[off] == tagEnd {
				return types.ObjectItem(fields...), off + 1, nil
			}
			if data[off] != tagField {
				return types.UndefinedItem(), 0, fmt.Errorf("codec: bad field tag 0x%02x", data[off])
			}
			name, n, err := readMemComparableString(data[off+1:])
			if err != nil {
				return types.UndefinedItem(), 0, err
			}
			off += 1 + n
			v, n, err := DecodeItem(data[off:])
			if err != nil {
				return types.UndefinedItem(), 0, err
			}
			off += n
			fields = append(fields, types.F(name, v))
		}
	}
	return types.UndefinedItem(), 0, fmt.Errorf("codec: unknown tag 0x%02x", data[0])
}

func sortedFields(item types.Item) []types.Field {
	fs := append([]types.Field(nil), item.Fields()...)
	for i := 1; i < len(fs); i++ {
		for j := i; j > 0 && fs[j].Name < fs[j-1].Name; j-- {
			fs[j], fs[j-1] = fs[j-1], fs[j]
		}
	}
	return fs
}
