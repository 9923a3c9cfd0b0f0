package engine

import (
	"container/heap"
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/guileen/crossquery/continuation"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/planner"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/types"
)

// orderByStage merges partitions that each return rows sorted by the ORDER
// BY columns. Rows carry {_rid, orderByItems, payload}; the payload is
// unwrapped by the caller.
type orderByStage struct {
	rt         *runtime
	info       *planner.QueryInfo
	desc       []bool
	allowMixed bool
	pageSize   int

	producers []*producer
	heap      producerHeap
	started   bool
	kinds     []types.Kind

	// last is the most recently emitted row and where it came from.
	last *emitted
}

type emitted struct {
	values []types.Item
	rid    string
	rng    routing.Range
	count  int
}

func newOrderByStage(ctx context.Context, rt *runtime, info *planner.QueryInfo, allowMixed bool, tokens []continuation.OrderByToken) (*orderByStage, error) {
	s := &orderByStage{
		rt:         rt,
		info:       info,
		desc:       info.Descending(),
		allowMixed: allowMixed,
		pageSize:   rt.opts.MaxItemCount,
	}
	s.heap.less = s.less
	if tokens == nil {
		targets, err := rt.enum.ResolveTargets(ctx, rt.opts.Collection, nil)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			s.producers = append(s.producers, rt.newProducer(t, info.PartitionQuery(""), nil, ""))
		}
		return s, nil
	}

	for _, tok := range tokens {
		targets, err := rt.resolve(ctx, tok.CompositeToken.Range)
		if err != nil {
			return nil, err
		}
		values := continuation.Values(tok.OrderByItems)
		var skip *skipState
		if tok.SkipCount > 0 {
			skip = &skipState{values: values, rid: tok.Rid, desc: s.desc[0], remaining: tok.SkipCount}
			s.last = &emitted{values: values, rid: tok.Rid, rng: tok.CompositeToken.Range, count: tok.SkipCount}
		}
		for _, t := range targets {
			p := rt.newProducer(t, info.PartitionQuery(tok.Filter), tok.CompositeToken.Token, tok.Filter)
			p.skip = skip.clone()
			s.producers = append(s.producers, p)
		}
	}
	return s, nil
}

// start primes every partition concurrently, at most dop at a time, then
// queues the ones holding a row.
func (s *orderByStage) start(ctx context.Context, hint int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.rt.dop))
	for _, p := range s.producers {
		p := p
		g.Go(func() error {
			if err := p.fill(gctx, hint); err != nil && !qerrors.IsPartitionGone(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, p := range append([]*producer(nil), s.producers...) {
		ready, err := s.ready(ctx, p, hint)
		if err != nil {
			return err
		}
		for _, r := range ready {
			heap.Push(&s.heap, r)
		}
	}
	s.started = true
	return nil
}

// ready brings p to a state where it holds its next row or is exhausted,
// dropping rows emitted before a resume. A split replaces p by its
// children, which are made ready in turn. It returns the producers that
// hold a row.
func (s *orderByStage) ready(ctx context.Context, p *producer, hint int) ([]*producer, error) {
	for {
		err := p.fill(ctx, hint)
		if qerrors.IsPartitionGone(err) {
			children, err := s.rt.split(ctx, p)
			if err != nil {
				return nil, err
			}
			s.replace(p, children)
			var out []*producer
			for _, c := range children {
				r, err := s.ready(ctx, c, hint)
				if err != nil {
					return nil, err
				}
				out = append(out, r...)
			}
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		row, ok := p.peek()
		if !ok {
			return nil, nil
		}
		if p.skip != nil && p.skip.drop(row) {
			p.pop()
			continue
		}
		p.skip = nil
		if err := s.checkKinds(row); err != nil {
			return nil, err
		}
		return []*producer{p}, nil
	}
}

// replace swaps p for its children, keeping key range order.
func (s *orderByStage) replace(p *producer, children []*producer) {
	for i, q := range s.producers {
		if q == p {
			rest := append([]*producer(nil), s.producers[i+1:]...)
			s.producers = append(append(s.producers[:i], children...), rest...)
			return
		}
	}
}

// checkKinds rejects a column holding values of different kinds unless
// mixed-type ordering is allowed.
func (s *orderByStage) checkKinds(row types.Item) error {
	if s.allowMixed {
		return nil
	}
	values := orderValues(row)
	if s.kinds == nil {
		s.kinds = make([]types.Kind, len(values))
		for i, v := range values {
			s.kinds[i] = v.Kind()
		}
		return nil
	}
	for i, v := range values {
		if i < len(s.kinds) && v.Kind() != s.kinds[i] {
			return qerrors.NewBadRequest("engine.OrderBy", qerrors.MsgMixedTypeOrderBy)
		}
	}
	return nil
}

func (s *orderByStage) next(ctx context.Context, hint int) ([]types.Item, error) {
	if !s.started {
		if err := s.start(ctx, hint); err != nil {
			return nil, err
		}
	}
	limit := s.pageSize
	if hint > 0 && hint < limit {
		limit = hint
	}

	var out []types.Item
	for len(out) < limit && s.heap.Len() > 0 {
		p := heap.Pop(&s.heap).(*producer)
		row, _ := p.peek()
		p.pop()
		out = append(out, row)
		s.noteEmitted(p, row)

		refill := 0
		if hint > 0 {
			refill = hint - len(out)
		}
		ready, err := s.ready(ctx, p, refill)
		if err != nil {
			return nil, err
		}
		for _, r := range ready {
			heap.Push(&s.heap, r)
		}
	}
	s.prune()
	s.rt.sched.kick(s.producers)
	return out, nil
}

func (s *orderByStage) noteEmitted(p *producer, row types.Item) {
	values := orderValues(row)
	rid, _ := row.Get("_rid").AsString()
	rng := p.target.Range()
	if l := s.last; l != nil && l.rng.Covers(rng) && l.rid == rid && types.CompareSlices(l.values, values) == 0 {
		l.count++
		l.rng = rng
		return
	}
	s.last = &emitted{values: values, rid: rid, rng: rng, count: 1}
}

// prune drops exhausted partitions.
func (s *orderByStage) prune() {
	live := s.producers[:0]
	for _, p := range s.producers {
		if !p.exhausted() {
			live = append(live, p)
		}
	}
	for i := len(live); i < len(s.producers); i++ {
		s.producers[i] = nil
	}
	s.producers = live
}

func (s *orderByStage) done() bool {
	if !s.started {
		return false
	}
	return s.heap.Len() == 0
}

// state records, for every partition still holding rows, the continuation
// of its first unread page and the filter that excludes what was emitted:
// partitions left of the one the last row came from have emitted every row
// equal to it, so they resume strictly after it; the others resume at it,
// and the source partition skips the equal rows it already emitted.
func (s *orderByStage) state() (any, error) {
	if s.last == nil {
		return nil, qerrors.NewInternalf("engine.OrderBy", "no row emitted before suspending")
	}
	items := make([]continuation.OrderByItem, len(s.last.values))
	for i, v := range s.last.values {
		items[i] = continuation.OrderByItem{Item: v}
	}
	strict := resumeFilter(s.info.OrderBy, s.last.values, false)
	inclusive := resumeFilter(s.info.OrderBy, s.last.values, true)

	tokens := make([]continuation.OrderByToken, 0, len(s.producers))
	for _, p := range s.producers {
		if p.exhausted() {
			continue
		}
		rng := p.target.Range()
		tok := continuation.OrderByToken{
			CompositeToken: continuation.CompositeToken{Token: p.resumeToken(), Range: rng},
			OrderByItems:   items,
			Rid:            s.last.rid,
			Filter:         inclusive,
		}
		switch {
		case rng.Max <= s.last.rng.Min:
			tok.Filter = strict
		case s.last.rng.Covers(rng):
			tok.SkipCount = s.last.count
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (s *orderByStage) close() {
	for _, p := range s.producers {
		p.retire()
	}
}

// less orders partitions by their next row: ORDER BY values in each
// column's direction, then key range position.
func (s *orderByStage) less(a, b *producer) bool {
	ra, _ := a.peek()
	rb, _ := b.peek()
	va, vb := orderValues(ra), orderValues(rb)
	for i := range s.desc {
		if i >= len(va) || i >= len(vb) {
			break
		}
		c := types.Compare(va[i], vb[i])
		if s.desc[i] {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	if a.target.Min != b.target.Min {
		return a.target.Min < b.target.Min
	}
	return a.target.Max > b.target.Max
}

// orderValues extracts the ORDER BY values of a partition row.
func orderValues(row types.Item) []types.Item {
	return continuation.Values(continuation.OrderByItemsOf(row.Get("orderByItems")))
}

// producerHeap is a heap of producers keyed by their next row.
type producerHeap struct {
	items []*producer
	less  func(a, b *producer) bool
}

func (h producerHeap) Len() int           { return len(h.items) }
func (h producerHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h producerHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *producerHeap) Push(x any) { h.items = append(h.items, x.(*producer)) }

func (h *producerHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return x
}
