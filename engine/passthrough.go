package engine

import (
	"context"

	"github.com/guileen/crossquery/continuation"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/pipe"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/types"
)

// passthroughStage runs the query unchanged on the single partition that
// owns it: one backend round trip per page, with ORDER BY, DISTINCT, TOP
// and OFFSET evaluated by the partition.
type passthroughStage struct {
	rt       *runtime
	pk       *types.Item
	target   routing.PartitionTarget
	query    pipe.Query
	pipe     *pipe.Pipe
	finished bool
}

func newPassthroughStage(rt *runtime, target routing.PartitionTarget, pk *types.Item, text string, token *string) *passthroughStage {
	q := pipe.Query{Collection: rt.opts.Collection, Text: text, Parameters: rt.params}
	return &passthroughStage{
		rt:     rt,
		pk:     pk,
		target: target,
		query:  q,
		pipe:   pipe.Open(rt.client, target, q, rt.opts.MaxItemCount, token, rt.pipeOptions...),
	}
}

func (s *passthroughStage) next(ctx context.Context, hint int) ([]types.Item, error) {
	if s.finished {
		return nil, nil
	}
	for {
		page, err := s.pipe.PullN(ctx, hint)
		if qerrors.IsPartitionGone(err) && s.pk != nil {
			// The key moved to a child partition; the key range is unchanged.
			target, rerr := s.rt.enum.ResolveKey(ctx, s.rt.opts.Collection, *s.pk, true)
			if rerr != nil {
				return nil, rerr
			}
			s.rt.collectors.ObserveSplit()
			s.target = target
			s.pipe = pipe.Open(s.rt.client, target, s.query, s.rt.opts.MaxItemCount, s.pipe.Continuation(), s.rt.pipeOptions...)
			continue
		}
		if err != nil {
			return nil, err
		}
		s.rt.acct.record(page)
		s.finished = page.Done()
		return page.Items, nil
	}
}

func (s *passthroughStage) done() bool { return s.finished }

func (s *passthroughStage) state() (any, error) {
	return []continuation.CompositeToken{{Token: s.pipe.Continuation(), Range: s.target.Range()}}, nil
}
