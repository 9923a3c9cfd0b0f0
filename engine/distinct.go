package engine

import (
	"context"

	"github.com/guileen/crossquery/codec"
	"github.com/guileen/crossquery/continuation"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/types"
)

// distinctStage drops duplicate rows. In ordered mode duplicates arrive
// next to each other, so remembering the last hash is enough and survives
// a continuation; unordered mode keeps every hash seen and cannot resume.
type distinctStage struct {
	source  stage
	ordered bool
	value   func(types.Item) types.Item

	last codec.Hash192
	seen map[codec.Hash192]struct{}
}

func newDistinctStage(source stage, ordered bool, value func(types.Item) types.Item, lastHash codec.Hash192) *distinctStage {
	s := &distinctStage{source: source, ordered: ordered, value: value, last: lastHash}
	if !ordered {
		s.seen = make(map[codec.Hash192]struct{})
	}
	return s
}

// payloadOf is the value DISTINCT compares for rows of an ORDER BY query.
func payloadOf(row types.Item) types.Item { return row.Get("payload") }

func identity(row types.Item) types.Item { return row }

func (s *distinctStage) next(ctx context.Context, hint int) ([]types.Item, error) {
	for {
		rows, err := s.source.next(ctx, hint)
		if err != nil {
			return nil, err
		}
		out := rows[:0:0]
		for _, row := range rows {
			h := codec.DistinctHash(s.value(row))
			if s.ordered {
				if h == s.last {
					continue
				}
				s.last = h
			} else {
				if _, ok := s.seen[h]; ok {
					continue
				}
				s.seen[h] = struct{}{}
			}
			out = append(out, row)
		}
		if len(out) > 0 || s.source.done() {
			return out, nil
		}
	}
}

func (s *distinctStage) done() bool { return s.source.done() }

func (s *distinctStage) state() (any, error) {
	if !s.ordered {
		return nil, qerrors.NewBadRequest("engine.Distinct", qerrors.MsgUnorderedDistinctContinuation)
	}
	src, err := sourceToken(s.source)
	if err != nil {
		return nil, err
	}
	tok := continuation.DistinctToken{SourceToken: src}
	if !s.last.IsZero() {
		tok.LastHash = s.last.String()
	}
	return tok, nil
}
