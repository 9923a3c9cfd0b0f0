package engine

import (
	"context"

	"github.com/guileen/crossquery/aggregate"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/planner"
	"github.com/guileen/crossquery/types"
)

// aggregateStage merges the per-partition partials of a query with
// aggregates and no GROUP BY into one row. Each partition row is
// [{"item": partial}, ...] in projection order.
type aggregateStage struct {
	source   stage
	info     *planner.QueryInfo
	emitted  bool
	finished bool
}

func newAggregateStage(source stage, info *planner.QueryInfo) *aggregateStage {
	return &aggregateStage{source: source, info: info}
}

func (s *aggregateStage) next(ctx context.Context, _ int) ([]types.Item, error) {
	if s.emitted {
		return nil, nil
	}
	aggs := make([]aggregate.AggFunction, len(s.info.Projections))
	for i, p := range s.info.Projections {
		aggs[i] = aggregate.New(p.Aggregate)
	}
	for !s.source.done() {
		rows, err := s.source.next(ctx, 0)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			for i, elem := range row.Elems() {
				if i >= len(aggs) {
					break
				}
				if err := aggs[i].Merge(elem.Get("item")); err != nil {
					return nil, qerrors.Wrap(err, qerrors.ErrCodeInternal, "engine.Aggregate")
				}
			}
		}
	}
	s.emitted = true

	if s.info.HasSelectValue {
		v := aggs[0].Finalize()
		if !v.IsDefined() {
			return nil, nil
		}
		return []types.Item{v}, nil
	}
	fields := make([]types.Field, 0, len(aggs))
	for i, a := range aggs {
		v := a.Finalize()
		if !v.IsDefined() {
			continue
		}
		fields = append(fields, types.F(s.info.Projections[i].Alias, v))
	}
	return []types.Item{types.ObjectItem(fields...)}, nil
}

func (s *aggregateStage) done() bool { return s.emitted }

func (s *aggregateStage) state() (any, error) {
	return nil, qerrors.NewBadRequest("engine.Aggregate", "continuation tokens are not supported for aggregate queries without GROUP BY")
}
