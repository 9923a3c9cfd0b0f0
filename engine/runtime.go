package engine

import (
	"context"
	"sync"

	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/logger"
	"github.com/guileen/crossquery/metrics"
	"github.com/guileen/crossquery/pipe"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/types"
)

// runtime is what every stage of one execution shares.
type runtime struct {
	client      pipe.QueryClient
	enum        *routing.Enumerator
	opts        Options
	params      map[string]types.Item
	pipeOptions []pipe.Option
	collectors  *metrics.Collectors
	sched       *scheduler
	dop         int
	acct        accounting
}

func (rt *runtime) release(n int) { rt.sched.release(n) }

// split replaces a producer whose partition is gone by producers over the
// partitions that now own its range. Each child resumes from the parent's
// continuation with the parent's resume filter.
func (rt *runtime) split(ctx context.Context, p *producer) ([]*producer, error) {
	targets, err := rt.enum.Replacements(ctx, rt.opts.Collection, p.target)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	token := p.next
	p.mu.Unlock()
	p.retire()

	children := make([]*producer, len(targets))
	for i, t := range targets {
		children[i] = rt.newProducer(t, p.text, token, p.filter)
		children[i].skip = p.skip.clone()
	}
	rt.collectors.ObserveSplit()
	logger.InfoContext(ctx, "repaired partition split",
		logger.Collection(rt.opts.Collection),
		logger.PartitionRange(p.target.ID, p.target.Min, p.target.Max),
		logger.Int("children", len(children)))
	return children, nil
}

// resolve returns the live partitions that make up a token range.
func (rt *runtime) resolve(ctx context.Context, rng routing.Range) ([]routing.PartitionTarget, error) {
	targets, err := rt.enum.ResolveRange(ctx, rt.opts.Collection, rng)
	if err != nil {
		if qerrors.IsBadRequest(err) {
			return nil, qerrors.Wrapf(err, qerrors.ErrCodeBadRequest, "engine.resume", "continuation token range %s cannot be resumed", rng)
		}
		return nil, err
	}
	return targets, nil
}

// accounting collects the charge and metrics of every fetch, foreground or
// prefetch, until the next page hands them to the caller.
type accounting struct {
	mu         sync.Mutex
	charge     float64
	partitions metrics.Partitioned
	activity   string
}

func (a *accounting) record(page *pipe.Page) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.charge += page.RequestCharge
	if page.ActivityID != "" {
		a.activity = page.ActivityID
	}
	if page.Metrics != nil {
		if a.partitions == nil {
			a.partitions = metrics.Partitioned{}
		}
		a.partitions.Record(page.Target.ID, page.Metrics)
	}
}

// take returns and resets what was collected.
func (a *accounting) take() (float64, metrics.Partitioned, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	charge, parts, activity := a.charge, a.partitions, a.activity
	a.charge, a.partitions = 0, nil
	return charge, parts, activity
}
