// Package metrics carries per-partition query metrics and the Prometheus
// collectors exported by the engine and the HTTP surface.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FetchExecutionRange records which documents one partition fetch covered.
type FetchExecutionRange struct {
	PartitionID  string    `json:"partitionId"`
	ActivityID   string    `json:"activityId"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	NumberOfDocs int64     `json:"numberOfDocuments"`
	RetryCount   int       `json:"retryCount"`
}

// QueryMetrics accumulates backend-reported counters for one partition or
// for a whole query.
type QueryMetrics struct {
	RequestCharge          float64               `json:"requestCharge"`
	RetrievedDocumentCount int64                 `json:"retrievedDocumentCount"`
	RetrievedDocumentSize  int64                 `json:"retrievedDocumentSize"`
	OutputDocumentCount    int64                 `json:"outputDocumentCount"`
	OutputDocumentSize     int64                 `json:"outputDocumentSize"`
	FetchExecutionRanges   []FetchExecutionRange `json:"fetchExecutionRanges,omitempty"`
}

// Add folds o into m.
func (m *QueryMetrics) Add(o *QueryMetrics) {
	if o == nil {
		return
	}
	m.RequestCharge += o.RequestCharge
	m.RetrievedDocumentCount += o.RetrievedDocumentCount
	m.RetrievedDocumentSize += o.RetrievedDocumentSize
	m.OutputDocumentCount += o.OutputDocumentCount
	m.OutputDocumentSize += o.OutputDocumentSize
	m.FetchExecutionRanges = append(m.FetchExecutionRanges, o.FetchExecutionRanges...)
}

// Clone returns a deep copy.
func (m *QueryMetrics) Clone() *QueryMetrics {
	c := *m
	c.FetchExecutionRanges = append([]FetchExecutionRange(nil), m.FetchExecutionRanges...)
	return &c
}

func (m *QueryMetrics) String() string {
	return fmt.Sprintf("charge=%.2f retrieved=%d/%dB output=%d/%dB fetches=%d",
		m.RequestCharge, m.RetrievedDocumentCount, m.RetrievedDocumentSize,
		m.OutputDocumentCount, m.OutputDocumentSize, len(m.FetchExecutionRanges))
}

// Partitioned maps partition key range id to that partition's metrics.
type Partitioned map[string]*QueryMetrics

// Record adds m under partition id.
func (p Partitioned) Record(id string, m *QueryMetrics) {
	if m == nil {
		return
	}
	cur, ok := p[id]
	if !ok {
		cur = &QueryMetrics{}
		p[id] = cur
	}
	cur.Add(m)
}

// Merge folds every partition of o into p.
func (p Partitioned) Merge(o Partitioned) {
	for id, m := range o {
		p.Record(id, m)
	}
}

// Total sums every partition.
func (p Partitioned) Total() *QueryMetrics {
	total := &QueryMetrics{}
	for _, id := range p.IDs() {
		total.Add(p[id])
	}
	return total
}

// IDs returns the partition ids in sorted order.
func (p Partitioned) IDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p Partitioned) String() string {
	var b strings.Builder
	for _, id := range p.IDs() {
		fmt.Fprintf(&b, "%s: %s\n", id, p[id])
	}
	return b.String()
}
