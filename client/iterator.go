package client

import (
	"context"
	"sync"

	"github.com/guileen/crossquery/engine"
	"github.com/guileen/crossquery/metrics"
	"github.com/guileen/crossquery/planner"
	"github.com/guileen/crossquery/types"
)

// FeedIterator pulls the pages of one query.
type FeedIterator struct {
	engine     *engine.Engine
	activityID string

	mu         sync.Mutex
	charge     float64
	cumulative metrics.Partitioned
}

// HasMoreResults reports whether ExecuteNext may return more items. It
// turns false once the page with a null continuation has been returned,
// or after an error.
func (it *FeedIterator) HasMoreResults() bool {
	return it.engine.HasMore()
}

// ExecuteNext returns the next page.
func (it *FeedIterator) ExecuteNext(ctx context.Context) (*FeedResponse, error) {
	page, err := it.engine.Next(ctx)
	if err != nil {
		return nil, err
	}
	resp := &FeedResponse{
		Items:         materialize(it.engine.Strategy(), page.Items),
		RequestCharge: page.RequestCharge,
		ActivityID:    it.activityID,
		QueryMetrics:  page.Metrics,
		continuation:  page.Continuation,
		tokenErr:      page.TokenErr,
	}
	it.mu.Lock()
	it.charge += page.RequestCharge
	it.cumulative.Merge(page.Metrics)
	it.mu.Unlock()
	return resp, nil
}

// DrainAll returns every remaining item.
func (it *FeedIterator) DrainAll(ctx context.Context) ([]types.Item, error) {
	var out []types.Item
	for it.HasMoreResults() {
		resp, err := it.ExecuteNext(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, resp.Items...)
	}
	return out, nil
}

// Close abandons the query. Pages prefetched but not returned are dropped.
func (it *FeedIterator) Close() {
	it.engine.Close()
}

// ActivityID is the id every backend request of this query carries.
func (it *FeedIterator) ActivityID() string { return it.activityID }

// TotalRequestCharge is the charge of every page returned so far.
func (it *FeedIterator) TotalRequestCharge() float64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.charge
}

// CumulativeMetrics returns the per partition metrics of every page so
// far, when metrics were requested.
func (it *FeedIterator) CumulativeMetrics() metrics.Partitioned {
	it.mu.Lock()
	defer it.mu.Unlock()
	out := metrics.Partitioned{}
	out.Merge(it.cumulative)
	return out
}

// materialize shapes merged rows into what the query projects: ORDER BY
// rows are unwrapped to their payload and undefined values are dropped.
func materialize(strategy planner.Strategy, rows []types.Item) []types.Item {
	out := make([]types.Item, 0, len(rows))
	for _, row := range rows {
		if strategy == planner.StrategyOrderBy {
			row = row.Get("payload")
		}
		if !row.IsDefined() {
			continue
		}
		out = append(out, row)
	}
	return out
}
