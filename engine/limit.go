package engine

import (
	"context"

	"github.com/guileen/crossquery/continuation"
	"github.com/guileen/crossquery/types"
)

// topStage returns at most limit rows in total.
type topStage struct {
	source    stage
	remaining int
}

func newTopStage(source stage, remaining int) *topStage {
	return &topStage{source: source, remaining: remaining}
}

func (s *topStage) next(ctx context.Context, hint int) ([]types.Item, error) {
	if s.remaining <= 0 {
		return nil, nil
	}
	if hint <= 0 || hint > s.remaining {
		hint = s.remaining
	}
	rows, err := s.source.next(ctx, hint)
	if err != nil {
		return nil, err
	}
	if len(rows) > s.remaining {
		rows = rows[:s.remaining]
	}
	s.remaining -= len(rows)
	return rows, nil
}

func (s *topStage) done() bool {
	return s.remaining <= 0 || s.source.done()
}

func (s *topStage) state() (any, error) {
	src, err := sourceToken(s.source)
	if err != nil {
		return nil, err
	}
	return continuation.TopToken{Limit: s.remaining, SourceToken: src}, nil
}

// offsetLimitStage skips offset rows, then returns at most limit rows;
// a negative limit is unbounded.
type offsetLimitStage struct {
	source stage
	offset int
	limit  int
}

func newOffsetLimitStage(source stage, offset, limit int) *offsetLimitStage {
	return &offsetLimitStage{source: source, offset: offset, limit: limit}
}

func (s *offsetLimitStage) next(ctx context.Context, hint int) ([]types.Item, error) {
	for {
		if s.limit == 0 {
			return nil, nil
		}
		want := hint
		if s.limit > 0 && (want <= 0 || want > s.limit) {
			want = s.limit
		}
		if want > 0 {
			want += s.offset
		}
		rows, err := s.source.next(ctx, want)
		if err != nil {
			return nil, err
		}
		skip := min(s.offset, len(rows))
		s.offset -= skip
		rows = rows[skip:]
		if s.limit >= 0 && len(rows) > s.limit {
			rows = rows[:s.limit]
		}
		if s.limit > 0 {
			s.limit -= len(rows)
		}
		if len(rows) > 0 || s.offset == 0 || s.source.done() {
			return rows, nil
		}
	}
}

func (s *offsetLimitStage) done() bool {
	return s.limit == 0 || s.source.done()
}

func (s *offsetLimitStage) state() (any, error) {
	src, err := sourceToken(s.source)
	if err != nil {
		return nil, err
	}
	return continuation.OffsetLimitToken{Offset: s.offset, Limit: s.limit, SourceToken: src}, nil
}
