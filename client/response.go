package client

import (
	"github.com/guileen/crossquery/metrics"
	"github.com/guileen/crossquery/types"
)

// FeedResponse is one page of results.
type FeedResponse struct {
	Items         []types.Item
	RequestCharge float64
	ActivityID    string
	// QueryMetrics are keyed by partition key range id.
	QueryMetrics metrics.Partitioned

	continuation *string
	tokenErr     error
}

// Count is the number of items in the page.
func (r *FeedResponse) Count() int { return len(r.Items) }

// ContinuationToken returns the token that resumes after this page, or ""
// after the last page. Queries that cannot be resumed return the reason.
func (r *FeedResponse) ContinuationToken() (string, error) {
	if r.tokenErr != nil {
		return "", r.tokenErr
	}
	if r.continuation == nil {
		return "", nil
	}
	return *r.continuation, nil
}
