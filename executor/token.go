package executor

import (
	"encoding/hex"

	"github.com/goccy/go-json"

	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/types"
)

// token is the backend continuation. Streaming queries resume after the
// storage key of the last scanned document; evaluated queries resume after
// the result position of the last returned row. Neither depends on the
// partition key range, so a token stays valid for the children of a split.
type token struct {
	Key   string    `json:"key,omitempty"`
	Count int       `json:"count,omitempty"`
	After *position `json:"after,omitempty"`

	key []byte
}

// position orders evaluated rows: ORDER BY values, then a tie key.
type position struct {
	Values []types.Item `json:"values"`
	Tie    string       `json:"tie"`
}

func parseToken(s *string) (token, error) {
	var t token
	if s == nil {
		return t, nil
	}
	if err := json.Unmarshal([]byte(*s), &t); err != nil {
		return t, qerrors.NewBadRequestf("Execute", "malformed backend continuation %q", *s)
	}
	if t.Count < 0 {
		return t, qerrors.NewBadRequestf("Execute", "malformed backend continuation %q", *s)
	}
	if t.Key != "" {
		key, err := hex.DecodeString(t.Key)
		if err != nil {
			return t, qerrors.NewBadRequestf("Execute", "malformed backend continuation %q", *s)
		}
		t.key = key
	}
	return t, nil
}

func (t token) encode() *string {
	b, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}
