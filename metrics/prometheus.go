package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the engine's Prometheus instruments. A nil *Collectors
// is valid and records nothing.
type Collectors struct {
	QueriesTotal     *prometheus.CounterVec
	PagesTotal       *prometheus.CounterVec
	PartitionFetches *prometheus.CounterVec
	SplitsHandled    prometheus.Counter
	RequestCharge    *prometheus.HistogramVec
	FetchDuration    *prometheus.HistogramVec
	BufferedItems    prometheus.Gauge
}

// NewCollectors builds the instruments and registers them with reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossquery_queries_total",
				Help: "Total number of queries by execution strategy and outcome",
			},
			[]string{"strategy", "status"},
		),
		PagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossquery_pages_total",
				Help: "Total number of result pages returned to callers",
			},
			[]string{"strategy"},
		),
		PartitionFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossquery_partition_fetches_total",
				Help: "Total number of single-partition fetches by outcome",
			},
			[]string{"status"},
		),
		SplitsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossquery_partition_splits_handled_total",
			Help: "Total number of partition splits repaired mid-query",
		}),
		RequestCharge: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crossquery_page_request_charge",
				Help:    "Request charge of each result page",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"strategy"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crossquery_partition_fetch_duration_seconds",
				Help:    "Latency of single-partition fetches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		BufferedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crossquery_buffered_items",
			Help: "Items currently held in partition prefetch buffers",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.QueriesTotal, c.PagesTotal, c.PartitionFetches, c.SplitsHandled,
			c.RequestCharge, c.FetchDuration, c.BufferedItems)
	}
	return c
}

var (
	defaultOnce       sync.Once
	defaultCollectors *Collectors
)

// Default returns collectors registered with the default Prometheus registry.
func Default() *Collectors {
	defaultOnce.Do(func() {
		defaultCollectors = NewCollectors(prometheus.DefaultRegisterer)
	})
	return defaultCollectors
}

// ObserveQuery counts a finished or failed query.
func (c *Collectors) ObserveQuery(strategy, status string) {
	if c == nil {
		return
	}
	c.QueriesTotal.WithLabelValues(strategy, status).Inc()
}

// ObservePage records one page handed to the caller.
func (c *Collectors) ObservePage(strategy string, charge float64) {
	if c == nil {
		return
	}
	c.PagesTotal.WithLabelValues(strategy).Inc()
	c.RequestCharge.WithLabelValues(strategy).Observe(charge)
}

// ObserveFetch records one partition round trip.
func (c *Collectors) ObserveFetch(status string, seconds float64) {
	if c == nil {
		return
	}
	c.PartitionFetches.WithLabelValues(status).Inc()
	c.FetchDuration.WithLabelValues(status).Observe(seconds)
}

// ObserveSplit counts a repaired split.
func (c *Collectors) ObserveSplit() {
	if c == nil {
		return
	}
	c.SplitsHandled.Inc()
}

// AddBuffered moves the buffered item gauge by delta.
func (c *Collectors) AddBuffered(delta int) {
	if c == nil {
		return
	}
	c.BufferedItems.Add(float64(delta))
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics gathered by g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
