package engine

import (
	"context"

	"github.com/guileen/crossquery/aggregate"
	"github.com/guileen/crossquery/codec"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/planner"
	"github.com/guileen/crossquery/types"
)

// groupByStage merges partition rows {groupByItems, payload} into one row
// per group. Aggregate projections merge their partials; the others take
// the value of the first row of the group. Groups are emitted in the order
// they were first seen, one page at a time, once every partition is read.
type groupByStage struct {
	source   stage
	info     *planner.QueryInfo
	pageSize int

	groups  map[string]*group
	order   []*group
	drained bool
	pos     int
}

type group struct {
	values []types.Item
	aggs   []aggregate.AggFunction
}

func newGroupByStage(source stage, info *planner.QueryInfo, pageSize int) *groupByStage {
	return &groupByStage{
		source:   source,
		info:     info,
		pageSize: pageSize,
		groups:   make(map[string]*group),
	}
}

func (s *groupByStage) next(ctx context.Context, hint int) ([]types.Item, error) {
	if !s.drained {
		for !s.source.done() {
			rows, err := s.source.next(ctx, 0)
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				if err := s.add(row); err != nil {
					return nil, err
				}
			}
		}
		s.drained = true
	}

	n := s.pageSize
	if hint > 0 && hint < n {
		n = hint
	}
	end := min(s.pos+n, len(s.order))
	out := make([]types.Item, 0, end-s.pos)
	for _, g := range s.order[s.pos:end] {
		if v, ok := s.result(g); ok {
			out = append(out, v)
		}
	}
	s.pos = end
	return out, nil
}

func (s *groupByStage) add(row types.Item) error {
	key := string(codec.EncodeItems(row.Get("groupByItems").Elems()...))
	payload := row.Get("payload")
	g, ok := s.groups[key]
	if !ok {
		g = &group{
			values: make([]types.Item, len(s.info.Projections)),
			aggs:   make([]aggregate.AggFunction, len(s.info.Projections)),
		}
		for i, p := range s.info.Projections {
			if p.Aggregate != "" {
				g.aggs[i] = aggregate.New(p.Aggregate)
			} else {
				g.values[i] = payload.Get(s.info.PayloadField(i))
			}
		}
		s.groups[key] = g
		s.order = append(s.order, g)
	}
	for i, a := range g.aggs {
		if a == nil {
			continue
		}
		if err := a.Merge(payload.Get(s.info.PayloadField(i)).Get("item")); err != nil {
			return qerrors.Wrap(err, qerrors.ErrCodeInternal, "engine.GroupBy")
		}
	}
	return nil
}

// result renders the final row of g. A SELECT VALUE group whose value is
// undefined produces no row.
func (s *groupByStage) result(g *group) (types.Item, bool) {
	value := func(i int) types.Item {
		if g.aggs[i] != nil {
			return g.aggs[i].Finalize()
		}
		return g.values[i]
	}
	if s.info.HasSelectValue {
		v := value(0)
		return v, v.IsDefined()
	}
	fields := make([]types.Field, 0, len(s.info.Projections))
	for i, p := range s.info.Projections {
		if v := value(i); v.IsDefined() {
			fields = append(fields, types.F(p.Alias, v))
		}
	}
	return types.ObjectItem(fields...), true
}

func (s *groupByStage) done() bool {
	return s.drained && s.pos >= len(s.order)
}

func (s *groupByStage) state() (any, error) {
	return nil, qerrors.NewBadRequest("engine.GroupBy", qerrors.MsgGroupByContinuation)
}
