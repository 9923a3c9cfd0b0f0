// Package client is the caller-facing query API: it runs queries through
// the merge engine and hands back pages shaped as the query projected them,
// together with cumulative request charge and metrics.
package client

import (
	"github.com/google/uuid"

	"github.com/guileen/crossquery/engine"
	"github.com/guileen/crossquery/engine/config"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/logger"
	"github.com/guileen/crossquery/metrics"
	"github.com/guileen/crossquery/pipe"
	"github.com/guileen/crossquery/planner"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/types"
)

// Backend answers partition queries and publishes the routing map.
type Backend interface {
	pipe.QueryClient
	routing.Provider
}

// Client provides query access to the collections of one backend.
type Client struct {
	backend    Backend
	enum       *routing.Enumerator
	planner    *planner.Planner
	cfg        config.Config
	collectors *metrics.Collectors
}

// Option configures a Client.
type Option func(*Client)

// WithCollectors records query metrics into c.
func WithCollectors(c *metrics.Collectors) Option {
	return func(cl *Client) { cl.collectors = c }
}

// New creates a client over backend.
func New(backend Backend, cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeBadRequest, "client.New")
	}
	p, err := planner.New(cfg.PlanCacheSize)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeInternal, "client.New")
	}
	c := &Client{
		backend: backend,
		enum:    routing.NewEnumerator(backend),
		planner: p,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Parameter binds @Name in the query text.
type Parameter struct {
	Name  string
	Value types.Item
}

// QuerySpec is a query and its parameter bindings.
type QuerySpec struct {
	Query      string
	Parameters []Parameter
}

// NewQuerySpec returns a spec with no parameters.
func NewQuerySpec(query string, params ...Parameter) QuerySpec {
	return QuerySpec{Query: query, Parameters: params}
}

func (q QuerySpec) parameters() map[string]types.Item {
	if len(q.Parameters) == 0 {
		return nil
	}
	out := make(map[string]types.Item, len(q.Parameters))
	for _, p := range q.Parameters {
		name := p.Name
		if len(name) > 0 && name[0] == '@' {
			name = name[1:]
		}
		out[name] = p.Value
	}
	return out
}

// FeedOptions are the per-query knobs. A nil *FeedOptions uses the client
// configuration.
type FeedOptions struct {
	EnableCrossPartitionQuery bool
	// MaxItemCount is the page size; 0 or -1 leaves it unspecified.
	MaxItemCount int
	// MaxDegreeOfParallelism: 0 serial, -1 automatic, N bounded.
	MaxDegreeOfParallelism int
	MaxBufferedItemCount   int
	PartitionKey           *types.Item
	PartitionKeyRangeID    string
	RequestContinuation    string
	PopulateQueryMetrics   bool
	// ActivityID correlates the backend requests of this query; generated
	// when empty.
	ActivityID string
}

// DefaultFeedOptions returns the options a nil *FeedOptions stands for.
func (c *Client) DefaultFeedOptions() *FeedOptions {
	return &FeedOptions{
		EnableCrossPartitionQuery: true,
		MaxItemCount:              c.cfg.MaxItemCount,
		MaxDegreeOfParallelism:    c.cfg.MaxDegreeOfParallelism,
		MaxBufferedItemCount:      c.cfg.MaxBufferedItemCount,
	}
}

// Query starts a query over collection. Nothing is sent to the backend
// until the first ExecuteNext.
func (c *Client) Query(collection string, spec QuerySpec, fo *FeedOptions) *FeedIterator {
	if fo == nil {
		fo = c.DefaultFeedOptions()
	}
	activity := fo.ActivityID
	if activity == "" {
		activity = uuid.NewString()
	}
	opts := engine.Options{
		Collection:                collection,
		PartitionKey:              fo.PartitionKey,
		PartitionKeyRangeID:       fo.PartitionKeyRangeID,
		EnableCrossPartitionQuery: fo.EnableCrossPartitionQuery,
		MaxItemCount:              fo.MaxItemCount,
		MaxDegreeOfParallelism:    fo.MaxDegreeOfParallelism,
		MaxBufferedItemCount:      fo.MaxBufferedItemCount,
		Continuation:              fo.RequestContinuation,
		PopulateMetrics:           fo.PopulateQueryMetrics,
		ActivityID:                activity,
	}
	q := pipe.Query{Collection: collection, Text: spec.Query, Parameters: spec.parameters()}
	logger.Debug("query started",
		logger.Collection(collection),
		logger.String("activity_id", activity),
		logger.Bool("resumed", fo.RequestContinuation != ""))
	return &FeedIterator{
		engine:     engine.New(c.backend, c.enum, c.planner, q, opts, c.cfg, c.collectors),
		activityID: activity,
		cumulative: metrics.Partitioned{},
	}
}
