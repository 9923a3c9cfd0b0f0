package continuation

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/routing"
)

// CurrentVersion is the token format this build writes and the newest it reads.
const CurrentVersion = 1

// Envelope is the outermost token structure.
type Envelope struct {
	Version     int             `json:"version"`
	Fingerprint string          `json:"fingerprint"`
	Source      json.RawMessage `json:"source"`
}

// Fingerprint identifies the query a token belongs to. Tokens replayed
// against any other query are rejected.
func Fingerprint(parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Serialize wraps the state of the outermost stage into a token.
func Serialize(version int, fingerprint string, state any) (string, error) {
	src, err := json.Marshal(state)
	if err != nil {
		return "", qerrors.Wrap(err, qerrors.ErrCodeInternal, "continuation.Serialize")
	}
	out, err := json.Marshal(Envelope{Version: version, Fingerprint: fingerprint, Source: src})
	if err != nil {
		return "", qerrors.Wrap(err, qerrors.ErrCodeInternal, "continuation.Serialize")
	}
	return string(out), nil
}

// Deserialize validates token and returns the state of the outermost stage.
// Tokens written by a newer version, or for a different query, are rejected.
func Deserialize(token string, version int, fingerprint string) (json.RawMessage, error) {
	raw := []byte(token)
	if err := validate(envelopeSchema, raw); err != nil {
		return nil, badToken("malformed continuation token: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, badToken("malformed continuation token: %v", err)
	}
	if env.Version > version {
		return nil, badToken("continuation token version %d is newer than supported version %d", env.Version, version)
	}
	if env.Fingerprint != fingerprint {
		return nil, badToken("continuation token was issued for a different query")
	}
	return env.Source, nil
}

// DecodeComposite decodes the per-partition cursors of a document-order query.
func DecodeComposite(raw []byte) ([]CompositeToken, error) {
	if err := validate(compositeSchema, raw); err != nil {
		return nil, badToken("malformed composite continuation: %v", err)
	}
	var tokens []CompositeToken
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, badToken("malformed composite continuation: %v", err)
	}
	ranges := make([]routing.Range, len(tokens))
	for i, t := range tokens {
		ranges[i] = t.Range
	}
	if err := checkRanges(ranges); err != nil {
		return nil, err
	}
	return tokens, nil
}

// DecodeOrderBy decodes the per-partition state of an ORDER BY query with
// the given number of ORDER BY columns.
func DecodeOrderBy(raw []byte, columns int) ([]OrderByToken, error) {
	if err := validate(orderBySchema, raw); err != nil {
		return nil, badToken("malformed order by continuation: %v", err)
	}
	var tokens []OrderByToken
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, badToken("malformed order by continuation: %v", err)
	}
	ranges := make([]routing.Range, len(tokens))
	for i, t := range tokens {
		if len(t.OrderByItems) != columns {
			return nil, badToken("order by continuation has %d order by items, query has %d", len(t.OrderByItems), columns)
		}
		for _, o := range t.OrderByItems {
			if !o.Item.IsDefined() {
				return nil, badToken("order by continuation holds an undefined order by item")
			}
		}
		ranges[i] = t.CompositeToken.Range
	}
	if err := checkRanges(ranges); err != nil {
		return nil, err
	}
	return tokens, nil
}

// DecodeTop decodes a TOP stage token.
func DecodeTop(raw []byte) (TopToken, error) {
	var t TopToken
	if err := validate(topSchema, raw); err != nil {
		return t, badToken("malformed top continuation: %v", err)
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, badToken("malformed top continuation: %v", err)
	}
	return t, nil
}

// DecodeOffsetLimit decodes an OFFSET/LIMIT stage token.
func DecodeOffsetLimit(raw []byte) (OffsetLimitToken, error) {
	var t OffsetLimitToken
	if err := validate(offsetLimitSchema, raw); err != nil {
		return t, badToken("malformed offset limit continuation: %v", err)
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, badToken("malformed offset limit continuation: %v", err)
	}
	return t, nil
}

// DecodeDistinct decodes an ordered DISTINCT stage token.
func DecodeDistinct(raw []byte) (DistinctToken, error) {
	var t DistinctToken
	if err := validate(distinctSchema, raw); err != nil {
		return t, badToken("malformed distinct continuation: %v", err)
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, badToken("malformed distinct continuation: %v", err)
	}
	return t, nil
}

// IsNull reports whether raw is absent or the JSON literal null.
func IsNull(raw []byte) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// checkRanges requires non-empty, sorted, non-overlapping ranges.
func checkRanges(ranges []routing.Range) error {
	for i, r := range ranges {
		if r.IsEmpty() {
			return badToken("continuation holds empty partition key range %s", r)
		}
		if i > 0 && ranges[i-1].Max > r.Min {
			return badToken("continuation partition key ranges %s and %s overlap or are out of order", ranges[i-1], r)
		}
	}
	return nil
}

func badToken(format string, args ...any) error {
	return qerrors.NewBadRequestf("continuation.Deserialize", format, args...)
}
