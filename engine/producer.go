package engine

import (
	"context"
	"sync"

	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/pipe"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/types"
)

// buffered is a fetched page with a read position. reserved is the share
// of the buffer budget the page holds until it is consumed.
type buffered struct {
	page     *pipe.Page
	pos      int
	reserved int
}

// producer reads one partition through a pipe and queues the pages it
// fetched, whether on demand or ahead of time by the scheduler. At most one
// fetch is in flight per producer.
type producer struct {
	rt     *runtime
	target routing.PartitionTarget
	text   string
	filter string
	pipe   *pipe.Pipe

	// skip drops the items a resumed ORDER BY partition already emitted.
	skip *skipState

	mu       sync.Mutex
	pages    []*buffered
	next     *string
	done     bool
	inflight chan struct{}
	err      error
	retired  bool
}

// newProducer opens a pipe over target resuming from token. filter is the
// resume predicate text already spliced into text, kept for the token.
func (rt *runtime) newProducer(target routing.PartitionTarget, text string, token *string, filter string) *producer {
	q := pipe.Query{Collection: rt.opts.Collection, Text: text, Parameters: rt.params}
	return &producer{
		rt:     rt,
		target: target,
		text:   text,
		filter: filter,
		pipe:   pipe.Open(rt.client, target, q, rt.opts.MaxItemCount, token, rt.pipeOptions...),
		next:   token,
	}
}

// fill makes sure an unread item is buffered, fetching synchronously when
// nothing is, until the partition is exhausted. A background fetch in
// flight is waited for instead of issuing a second one.
func (p *producer) fill(ctx context.Context, hint int) error {
	for {
		p.mu.Lock()
		if p.hasUnreadLocked() {
			p.mu.Unlock()
			return nil
		}
		if ch := p.inflight; ch != nil {
			p.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return qerrors.Wrap(ctx.Err(), qerrors.ErrCodeRequestCanceled, "engine.fill")
			}
		}
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return err
		}
		if p.done {
			p.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		p.inflight = ch
		p.mu.Unlock()

		if err := p.fetch(ctx, hint, 0, ch); err != nil {
			return err
		}
	}
}

// fetch pulls one page of at most n items. reserved items of the buffer
// budget were acquired for it by the scheduler; the part the page does not
// use is returned at once.
func (p *producer) fetch(ctx context.Context, n, reserved int, ch chan struct{}) error {
	page, err := p.pipe.PullN(ctx, n)

	p.mu.Lock()
	p.inflight = nil
	close(ch)
	if err != nil {
		// A failed prefetch surfaces once the buffer drains; a vanished
		// partition stays vanished.
		if reserved > 0 || qerrors.IsPartitionGone(err) {
			p.err = err
		}
		p.mu.Unlock()
		p.rt.release(reserved)
		return err
	}
	p.rt.acct.record(page)
	p.next = page.Continuation
	p.done = page.Done()
	keep := 0
	if len(page.Items) > 0 && !p.retired {
		keep = min(reserved, len(page.Items))
		p.pages = append(p.pages, &buffered{page: page, reserved: keep})
		p.rt.collectors.AddBuffered(len(page.Items))
	}
	p.mu.Unlock()
	p.rt.release(reserved - keep)
	return nil
}

func (p *producer) hasUnreadLocked() bool {
	return len(p.pages) > 0
}

// exhausted reports whether the partition is drained and nothing is left
// in the buffer.
func (p *producer) exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done && len(p.pages) == 0 && p.inflight == nil
}

// peek returns the next unread item.
func (p *producer) peek() (types.Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pages) == 0 {
		return types.Item{}, false
	}
	b := p.pages[0]
	return b.page.Items[b.pos], true
}

// pop consumes the item peek returned.
func (p *producer) pop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pages) == 0 {
		return
	}
	b := p.pages[0]
	b.pos++
	if b.pos == len(b.page.Items) {
		p.dropHeadLocked()
	}
}

// takePage consumes the unread rest of the oldest buffered page.
func (p *producer) takePage() []types.Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pages) == 0 {
		return nil
	}
	b := p.pages[0]
	items := b.page.Items[b.pos:]
	p.dropHeadLocked()
	return items
}

func (p *producer) dropHeadLocked() {
	b := p.pages[0]
	p.pages[0] = nil
	p.pages = p.pages[1:]
	p.rt.collectors.AddBuffered(-len(b.page.Items))
	p.rt.release(b.reserved)
}

// resumeToken is the backend continuation that refetches the first unread
// item: the one that fetched the oldest buffered page, or the pipe's next
// continuation when nothing is buffered.
func (p *producer) resumeToken() *string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pages) > 0 {
		return p.pages[0].page.Fetched
	}
	return p.next
}

// retire releases the buffer and stops further prefetching.
func (p *producer) retire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retired = true
	for len(p.pages) > 0 {
		p.dropHeadLocked()
	}
}

// startPrefetch marks a scheduler fetch in flight, unless the producer has
// one already or cannot fetch any more.
func (p *producer) startPrefetch() (chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retired || p.done || p.err != nil || p.inflight != nil {
		return nil, false
	}
	ch := make(chan struct{})
	p.inflight = ch
	return ch, true
}

// abortPrefetch undoes startPrefetch when the fetch could not be scheduled.
func (p *producer) abortPrefetch(ch chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight = nil
	close(ch)
}
