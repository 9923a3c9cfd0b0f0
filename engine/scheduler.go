package engine

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"

	"github.com/guileen/crossquery/logger"
)

// scheduler prefetches pages on a bounded worker pool while the shared
// buffer budget allows. A serial execution has no scheduler.
type scheduler struct {
	ctx      context.Context
	pool     *ants.Pool
	budget   *semaphore.Weighted
	reserve  int
	wg       sync.WaitGroup
	closeMu  sync.RWMutex
	isClosed bool
}

// newScheduler creates a scheduler with dop workers and room for
// maxBuffered prefetched items. Each prefetch reserves a full page.
func newScheduler(ctx context.Context, dop, pageSize, maxBuffered int) (*scheduler, error) {
	pool, err := ants.NewPool(dop, ants.WithNonblocking(true), ants.WithPanicHandler(func(v any) {
		logger.Error("prefetch worker panic", logger.Any("panic", v))
	}))
	if err != nil {
		return nil, err
	}
	return &scheduler{
		ctx:     ctx,
		pool:    pool,
		budget:  semaphore.NewWeighted(int64(maxBuffered)),
		reserve: min(pageSize, maxBuffered),
	}, nil
}

// kick starts a prefetch for every producer that can take one.
func (s *scheduler) kick(producers []*producer) {
	if s == nil {
		return
	}
	for _, p := range producers {
		s.prefetch(p)
	}
}

func (s *scheduler) prefetch(p *producer) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.isClosed || s.ctx.Err() != nil {
		return
	}
	if !s.budget.TryAcquire(int64(s.reserve)) {
		return
	}
	ch, ok := p.startPrefetch()
	if !ok {
		s.budget.Release(int64(s.reserve))
		return
	}
	s.wg.Add(1)
	err := s.pool.Submit(func() {
		defer s.wg.Done()
		if err := p.fetch(s.ctx, s.reserve, s.reserve, ch); err != nil {
			logger.DebugContext(s.ctx, "prefetch failed",
				logger.PartitionRange(p.target.ID, p.target.Min, p.target.Max),
				logger.ErrorField(err))
			return
		}
		s.prefetch(p)
	})
	if err != nil {
		s.wg.Done()
		p.abortPrefetch(ch)
		s.budget.Release(int64(s.reserve))
	}
}

// release returns n items to the budget.
func (s *scheduler) release(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.budget.Release(int64(n))
}

// close waits for running prefetches and stops the pool. The context the
// scheduler was created with must be canceled first so fetches return.
func (s *scheduler) close() {
	if s == nil {
		return
	}
	s.closeMu.Lock()
	s.isClosed = true
	s.closeMu.Unlock()
	s.wg.Wait()
	s.pool.Release()
}
