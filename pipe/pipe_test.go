package pipe

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/metrics"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/types"
)

// scriptedClient serves items in fixed pages and can fail a number of calls.
type scriptedClient struct {
	items    []types.Item
	failures []error
	requests []*Request
}

func (c *scriptedClient) ExecuteQuery(_ context.Context, req *Request) (*Response, error) {
	c.requests = append(c.requests, req)
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return nil, err
	}
	start := 0
	if req.Continuation != nil {
		start, _ = strconv.Atoi(*req.Continuation)
	}
	n := req.MaxItemCount
	if n <= 0 {
		n = 10
	}
	end := start + n
	if end > len(c.items) {
		end = len(c.items)
	}
	resp := &Response{Items: c.items[start:end], RequestCharge: float64(end - start)}
	if end < len(c.items) {
		next := strconv.Itoa(end)
		resp.Continuation = &next
	}
	if req.PopulateMetrics {
		resp.Metrics = &metrics.QueryMetrics{
			RequestCharge:          resp.RequestCharge,
			RetrievedDocumentCount: int64(end - start),
			OutputDocumentCount:    int64(end - start),
		}
	}
	return resp, nil
}

func numbers(n int) []types.Item {
	out := make([]types.Item, n)
	for i := range out {
		out[i] = types.NumberItem(float64(i))
	}
	return out
}

var target = routing.PartitionTarget{ID: "0", Min: "", Max: "FF"}

func TestPipeDrainsInPages(t *testing.T) {
	client := &scriptedClient{items: numbers(7)}
	p := Open(client, target, Query{Collection: "c", Text: "SELECT * FROM c"}, 3, nil)

	var got []types.Item
	var fetched []*string
	for !p.Exhausted() {
		page, err := p.Pull(context.Background())
		require.NoError(t, err)
		got = append(got, page.Items...)
		fetched = append(fetched, page.Fetched)
	}
	assert.Equal(t, numbers(7), got)
	require.Len(t, fetched, 3)
	assert.Nil(t, fetched[0])
	assert.Equal(t, "3", *fetched[1])
	assert.Nil(t, p.Continuation())

	_, err := p.Pull(context.Background())
	assert.Error(t, err)
}

func TestPipeResumesAndHonorsHint(t *testing.T) {
	client := &scriptedClient{items: numbers(10)}
	resume := "4"
	p := Open(client, target, Query{Collection: "c"}, 5, &resume)

	page, err := p.PullN(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, numbers(10)[4:6], page.Items)
	assert.Equal(t, 2, client.requests[0].MaxItemCount)
	assert.Equal(t, "0", client.requests[0].PartitionKeyRangeID)

	page, err = p.PullN(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, page.Items, 4)
	assert.True(t, page.Done())
}

func TestPipeRetriesSpuriousCancelOnce(t *testing.T) {
	client := &scriptedClient{
		items:    numbers(2),
		failures: []error{qerrors.NewRequestCanceled("ExecuteQuery", "canceled")},
	}
	p := Open(client, target, Query{}, 10, nil, WithMetrics(true))

	page, err := p.Pull(context.Background())
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	require.NotNil(t, page.Metrics)
	require.Len(t, page.Metrics.FetchExecutionRanges, 1)
	assert.Equal(t, 1, page.Metrics.FetchExecutionRanges[0].RetryCount)
	assert.Equal(t, int64(2), page.RetrievedCount)
}

func TestPipeSurfacesRepeatedCancel(t *testing.T) {
	cancel := qerrors.NewRequestCanceled("ExecuteQuery", "canceled")
	client := &scriptedClient{items: numbers(2), failures: []error{cancel, cancel}}
	p := Open(client, target, Query{}, 10, nil, WithSpuriousCancelRetries(1))

	_, err := p.Pull(context.Background())
	assert.True(t, qerrors.IsRequestCanceled(err))
	assert.False(t, p.Exhausted())
}

func TestPipeDoesNotRetryTransientErrors(t *testing.T) {
	client := &scriptedClient{
		items:    numbers(2),
		failures: []error{qerrors.NewServiceUnavailable("ExecuteQuery", "busy")},
	}
	p := Open(client, target, Query{}, 10, nil)

	_, err := p.Pull(context.Background())
	assert.True(t, qerrors.IsTransient(err))
	assert.Len(t, client.requests, 1)

	page, err := p.Pull(context.Background())
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestPipeCallerCancellation(t *testing.T) {
	client := &scriptedClient{
		items:    numbers(2),
		failures: []error{qerrors.NewRequestCanceled("ExecuteQuery", "canceled")},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Open(client, target, Query{}, 10, nil)

	_, err := p.Pull(ctx)
	assert.True(t, qerrors.IsRequestCanceled(err))
	assert.Len(t, client.requests, 1)
}
