// Package pipe opens resumable cursors against a single partition of a
// collection. A Pipe performs exactly one backend round trip per pull and
// never prefetches.
package pipe

import (
	"context"
	"time"

	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/logger"
	"github.com/guileen/crossquery/metrics"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/types"
)

// Request is one page request against one partition.
type Request struct {
	Collection          string
	Range               routing.Range
	PartitionKeyRangeID string
	Query               string
	Parameters          map[string]types.Item
	// Continuation is the backend cursor; nil starts from the beginning.
	Continuation    *string
	MaxItemCount    int
	ActivityID      string
	PopulateMetrics bool
}

// Response is the backend's answer to a Request. A nil Continuation means
// the partition holds no further results.
type Response struct {
	Items         []types.Item
	Continuation  *string
	RequestCharge float64
	Metrics       *metrics.QueryMetrics
	ActivityID    string
}

// QueryClient is the backend contract. Implementations report failures as
// *errors.EngineError so callers can tell transient from permanent ones; a
// partition that no longer exists is reported with code partition_gone.
type QueryClient interface {
	ExecuteQuery(ctx context.Context, req *Request) (*Response, error)
}

// Query is the per-partition query a pipe runs.
type Query struct {
	Collection string
	Text       string
	Parameters map[string]types.Item
}

// Page is the result of one pull.
type Page struct {
	Items []types.Item
	// Continuation resumes after this page; nil when the partition is exhausted.
	Continuation *string
	// Fetched is the continuation that produced this page.
	Fetched        *string
	RequestCharge  float64
	RetrievedCount int64
	RetrievedSize  int64
	OutputCount    int64
	OutputSize     int64
	Metrics        *metrics.QueryMetrics
	Target         routing.PartitionTarget
	ActivityID     string
}

// Done reports whether the partition is exhausted after this page.
func (p *Page) Done() bool { return p.Continuation == nil }

// Option configures a Pipe.
type Option func(*Pipe)

// WithSpuriousCancelRetries sets how many backend-reported cancellations
// are re-issued while the caller's context is still live.
func WithSpuriousCancelRetries(n int) Option {
	return func(p *Pipe) { p.retries = n }
}

// WithActivityID tags every request with id.
func WithActivityID(id string) Option {
	return func(p *Pipe) { p.activityID = id }
}

// WithMetrics asks the backend for per-request query metrics.
func WithMetrics(enabled bool) Option {
	return func(p *Pipe) { p.populateMetrics = enabled }
}

// WithCollectors reports every round trip to c.
func WithCollectors(c *metrics.Collectors) Option {
	return func(p *Pipe) { p.collectors = c }
}

// Pipe is a cursor over one partition. It is not safe for concurrent pulls.
type Pipe struct {
	client   QueryClient
	target   routing.PartitionTarget
	query    Query
	pageSize int

	retries         int
	activityID      string
	populateMetrics bool
	collectors      *metrics.Collectors

	token     *string
	exhausted bool
}

// Open creates a pipe over target. pageSizeHint <= 0 leaves the page size to
// the backend. resumeToken continues a previous cursor.
func Open(client QueryClient, target routing.PartitionTarget, query Query, pageSizeHint int, resumeToken *string, opts ...Option) *Pipe {
	p := &Pipe{
		client:   client,
		target:   target,
		query:    query,
		pageSize: pageSizeHint,
		retries:  1,
		token:    cloneToken(resumeToken),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Target returns the partition this pipe reads.
func (p *Pipe) Target() routing.PartitionTarget { return p.target }

// Query returns the query the pipe runs.
func (p *Pipe) Query() Query { return p.query }

// Exhausted reports whether a page with a nil continuation was returned.
func (p *Pipe) Exhausted() bool { return p.exhausted }

// Continuation returns the cursor the next pull will resume from.
func (p *Pipe) Continuation() *string { return cloneToken(p.token) }

// Pull fetches the next page using the pipe's page size.
func (p *Pipe) Pull(ctx context.Context) (*Page, error) {
	return p.PullN(ctx, 0)
}

// PullN fetches the next page, asking for at most n items when n > 0 and
// n is below the pipe's page size. The page may hold fewer items than asked
// for, including none while the continuation is still non-nil.
func (p *Pipe) PullN(ctx context.Context, n int) (*Page, error) {
	if p.exhausted {
		return nil, qerrors.NewInternalf("Pipe.Pull", "partition %s is already exhausted", p.target.ID)
	}
	size := p.pageSize
	if n > 0 && (size <= 0 || n < size) {
		size = n
	}

	req := &Request{
		Collection:          p.query.Collection,
		Range:               p.target.Range(),
		PartitionKeyRangeID: p.target.ID,
		Query:               p.query.Text,
		Parameters:          p.query.Parameters,
		Continuation:        cloneToken(p.token),
		MaxItemCount:        size,
		ActivityID:          p.activityID,
		PopulateMetrics:     p.populateMetrics,
	}

	ctx = logger.WithPartition(ctx, p.target.ID)
	start := time.Now()
	resp, attempts, err := p.execute(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		p.collectors.ObserveFetch(qerrors.Code(err), elapsed.Seconds())
		return nil, err
	}
	p.collectors.ObserveFetch("ok", elapsed.Seconds())

	page := &Page{
		Items:         resp.Items,
		Continuation:  cloneToken(resp.Continuation),
		Fetched:       cloneToken(p.token),
		RequestCharge: resp.RequestCharge,
		OutputCount:   int64(len(resp.Items)),
		Target:        p.target,
		ActivityID:    resp.ActivityID,
	}
	if resp.Metrics != nil {
		m := resp.Metrics.Clone()
		m.FetchExecutionRanges = append(m.FetchExecutionRanges, metrics.FetchExecutionRange{
			PartitionID:  p.target.ID,
			ActivityID:   resp.ActivityID,
			StartTime:    start,
			EndTime:      start.Add(elapsed),
			NumberOfDocs: int64(len(resp.Items)),
			RetryCount:   attempts - 1,
		})
		page.Metrics = m
		page.RetrievedCount = m.RetrievedDocumentCount
		page.RetrievedSize = m.RetrievedDocumentSize
		page.OutputCount = m.OutputDocumentCount
		page.OutputSize = m.OutputDocumentSize
	} else {
		for _, it := range resp.Items {
			page.OutputSize += int64(it.Size())
		}
	}

	p.token = cloneToken(resp.Continuation)
	p.exhausted = resp.Continuation == nil

	logger.DebugContext(ctx, "partition fetch",
		logger.PartitionRange(p.target.ID, p.target.Min, p.target.Max),
		logger.PageSize(size),
		logger.Int("items", len(resp.Items)),
		logger.Bool("exhausted", p.exhausted),
		logger.Charge(resp.RequestCharge),
		logger.Duration("elapsed", elapsed))
	return page, nil
}

// execute issues req, re-issuing it when the backend reports a cancellation
// the caller did not ask for.
func (p *Pipe) execute(ctx context.Context, req *Request) (*Response, int, error) {
	attempts := 0
	for {
		attempts++
		resp, err := p.client.ExecuteQuery(ctx, req)
		if err == nil {
			return resp, attempts, nil
		}
		if ctx.Err() != nil {
			return nil, attempts, qerrors.Wrap(ctx.Err(), qerrors.ErrCodeRequestCanceled, "Pipe.Pull")
		}
		if !qerrors.IsRequestCanceled(err) || attempts > p.retries {
			return nil, attempts, err
		}
		logger.WarnContext(ctx, "retrying spuriously canceled partition fetch",
			logger.PartitionRange(p.target.ID, p.target.Min, p.target.Max),
			logger.Int("attempt", attempts),
			logger.ErrorField(err))
	}
}

func cloneToken(t *string) *string {
	if t == nil {
		return nil
	}
	s := *t
	return &s
}
