// Package continuation encodes the suspended state of a cross-partition
// query into an opaque, versioned token and validates tokens on resume.
package continuation

import (
	"github.com/goccy/go-json"

	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/types"
)

// CompositeToken is the cursor of one partition that still holds data.
// Token is the backend cursor; nil means the partition has not been read yet.
type CompositeToken struct {
	Token *string       `json:"token"`
	Range routing.Range `json:"range"`
}

// OrderByItem is one ORDER BY column value as the backend emits it,
// {"item": v}. An undefined value has no "item" field.
type OrderByItem struct {
	Item types.Item
}

// MarshalJSON implements json.Marshaler.
func (o OrderByItem) MarshalJSON() ([]byte, error) {
	return types.ObjectItem(types.F("item", o.Item)).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OrderByItem) UnmarshalJSON(data []byte) error {
	v, err := types.Parse(data)
	if err != nil {
		return err
	}
	o.Item = v.Get("item")
	return nil
}

// OrderByItemsOf extracts the column values of an orderByItems array.
func OrderByItemsOf(v types.Item) []OrderByItem {
	elems := v.Elems()
	out := make([]OrderByItem, len(elems))
	for i, e := range elems {
		out[i] = OrderByItem{Item: e.Get("item")}
	}
	return out
}

// Values returns the bare column values.
func Values(items []OrderByItem) []types.Item {
	out := make([]types.Item, len(items))
	for i, o := range items {
		out[i] = o.Item
	}
	return out
}

// OrderByToken is the resume state of one partition of an ORDER BY query.
// OrderByItems and Rid describe the last item emitted from the partition the
// token was taken at; SkipCount is how many items identical to it were
// emitted; Filter is the predicate injected into the partition's query.
type OrderByToken struct {
	CompositeToken CompositeToken `json:"compositeToken"`
	OrderByItems   []OrderByItem  `json:"orderByItems"`
	Rid            string         `json:"rid"`
	SkipCount      int            `json:"skipCount"`
	Filter         string         `json:"filter"`
}

// TopToken carries the rows a TOP query may still return.
type TopToken struct {
	Limit       int             `json:"limit"`
	SourceToken json.RawMessage `json:"sourceToken"`
}

// OffsetLimitToken carries the rows still to skip and to return.
type OffsetLimitToken struct {
	Offset      int             `json:"offset"`
	Limit       int             `json:"limit"`
	SourceToken json.RawMessage `json:"sourceToken"`
}

// DistinctToken carries the hash of the last emitted row of an ordered
// DISTINCT query; empty before the first row.
type DistinctToken struct {
	LastHash    string          `json:"lastHash"`
	SourceToken json.RawMessage `json:"sourceToken"`
}
