package engine

import (
	"context"

	"github.com/guileen/crossquery/continuation"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/types"
)

// parallelStage concatenates partitions in key range order. Each page is
// one backend page of the first partition that still holds data, while the
// scheduler reads ahead in the others.
type parallelStage struct {
	rt        *runtime
	producers []*producer
}

func newParallelStage(ctx context.Context, rt *runtime, text string, tokens []continuation.CompositeToken) (*parallelStage, error) {
	s := &parallelStage{rt: rt}
	if tokens == nil {
		targets, err := rt.enum.ResolveTargets(ctx, rt.opts.Collection, nil)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			s.producers = append(s.producers, rt.newProducer(t, text, nil, ""))
		}
		return s, nil
	}
	for _, tok := range tokens {
		targets, err := rt.resolve(ctx, tok.Range)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			s.producers = append(s.producers, rt.newProducer(t, text, tok.Token, ""))
		}
	}
	return s, nil
}

func (s *parallelStage) next(ctx context.Context, hint int) ([]types.Item, error) {
	s.rt.sched.kick(s.producers)
	for len(s.producers) > 0 {
		p := s.producers[0]
		err := p.fill(ctx, hint)
		if qerrors.IsPartitionGone(err) {
			children, err := s.rt.split(ctx, p)
			if err != nil {
				return nil, err
			}
			s.producers = append(children, s.producers[1:]...)
			s.rt.sched.kick(children)
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.exhausted() {
			s.producers = s.producers[1:]
			continue
		}
		items := p.takePage()
		s.prune()
		s.rt.sched.kick(s.producers)
		return items, nil
	}
	return nil, nil
}

// prune drops leading partitions that are fully drained.
func (s *parallelStage) prune() {
	for len(s.producers) > 0 && s.producers[0].exhausted() {
		s.producers = s.producers[1:]
	}
}

func (s *parallelStage) done() bool {
	for _, p := range s.producers {
		if !p.exhausted() {
			return false
		}
	}
	return true
}

func (s *parallelStage) state() (any, error) {
	tokens := make([]continuation.CompositeToken, 0, len(s.producers))
	for _, p := range s.producers {
		if p.exhausted() {
			continue
		}
		tokens = append(tokens, continuation.CompositeToken{Token: p.resumeToken(), Range: p.target.Range()})
	}
	return tokens, nil
}

// close retires every producer.
func (s *parallelStage) close() {
	for _, p := range s.producers {
		p.retire()
	}
}
