package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryMetricsAdd(t *testing.T) {
	m := &QueryMetrics{RequestCharge: 1.5, RetrievedDocumentCount: 3, OutputDocumentCount: 2}
	m.Add(&QueryMetrics{RequestCharge: 0.5, RetrievedDocumentCount: 1, OutputDocumentCount: 1,
		FetchExecutionRanges: []FetchExecutionRange{{PartitionID: "0"}}})
	m.Add(nil)

	assert.Equal(t, 2.0, m.RequestCharge)
	assert.Equal(t, int64(4), m.RetrievedDocumentCount)
	assert.Equal(t, int64(3), m.OutputDocumentCount)
	assert.Len(t, m.FetchExecutionRanges, 1)
}

func TestPartitionedTotal(t *testing.T) {
	p := Partitioned{}
	p.Record("1", &QueryMetrics{RequestCharge: 1, OutputDocumentCount: 1})
	p.Record("0", &QueryMetrics{RequestCharge: 2, OutputDocumentCount: 2})
	p.Record("1", &QueryMetrics{RequestCharge: 3, OutputDocumentCount: 3})

	other := Partitioned{}
	other.Record("2", &QueryMetrics{RequestCharge: 4})
	p.Merge(other)

	assert.Equal(t, []string{"0", "1", "2"}, p.IDs())
	total := p.Total()
	assert.Equal(t, 10.0, total.RequestCharge)
	assert.Equal(t, int64(6), total.OutputDocumentCount)
	assert.Equal(t, 4.0, p["1"].RequestCharge)
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.ObserveQuery("orderby", "ok")
	c.ObserveQuery("orderby", "ok")
	c.ObservePage("orderby", 2.5)
	c.ObserveFetch("ok", 0.01)
	c.ObserveSplit()
	c.AddBuffered(5)
	c.AddBuffered(-2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.QueriesTotal.WithLabelValues("orderby", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SplitsHandled))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.BufferedItems))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.ObserveQuery("parallel", "ok")
		c.ObservePage("parallel", 1)
		c.ObserveFetch("ok", 1)
		c.ObserveSplit()
		c.AddBuffered(1)
	})
}
