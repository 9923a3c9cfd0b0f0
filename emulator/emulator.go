// Package emulator is an in-process partitioned document backend. Each
// collection keeps its documents in one pebble database keyed by effective
// partition key and rid; the routing map on top of it can be split at
// runtime, and faults can be injected into the query path.
package emulator

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/executor"
	"github.com/guileen/crossquery/idgen"
	"github.com/guileen/crossquery/logger"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/sql"
	"github.com/guileen/crossquery/storage"
)

// Request charge model.
const (
	RetrievedDocumentCharge = 0.5
	OutputDocumentCharge    = 0.01
)

// Option configures an Emulator.
type Option func(*Emulator)

// WithThrottle rejects query requests beyond limit per second with code
// throttled.
func WithThrottle(limit rate.Limit, burst int) Option {
	return func(e *Emulator) { e.limiter = rate.NewLimiter(limit, burst) }
}

// WithLatency delays every query request by d.
func WithLatency(d time.Duration) Option {
	return func(e *Emulator) { e.latency = d }
}

// WithScanBudget caps the documents one streaming page reads, so sparse
// filters return empty pages that still carry a continuation.
func WithScanBudget(n int) Option {
	return func(e *Emulator) { e.scanBudget = n }
}

// WithRIDGenerator replaces the resource id generator.
func WithRIDGenerator(g idgen.RIDGenerator) Option {
	return func(e *Emulator) { e.rids = g }
}

// RequestRecord describes one query request the emulator served or refused.
type RequestRecord struct {
	Collection   string
	RangeID      string
	MaxItemCount int
	Continuation *string
	Items        int
	Code         string
}

// Emulator is the backend. It implements pipe.QueryClient and routing.Provider.
type Emulator struct {
	mu          sync.RWMutex
	collections map[string]*collection

	rids       idgen.RIDGenerator
	limiter    *rate.Limiter
	latency    time.Duration
	scanBudget int
	queries    *lru.Cache[string, *sql.Query]

	faultMu         sync.Mutex
	transientFaults int
	cancelFaults    int
	requests        []RequestRecord
}

type collection struct {
	name   string
	pkPath []string
	kv     storage.KV
	exec   *executor.Executor

	mu      sync.RWMutex
	ranges  []routing.PartitionKeyRange
	retired map[string][]string
	nextID  int
}

// New creates an empty emulator.
func New(opts ...Option) *Emulator {
	queries, _ := lru.New[string, *sql.Query](256)
	e := &Emulator{
		collections: make(map[string]*collection),
		rids:        idgen.MustNew(1),
		queries:     queries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateCollection creates a collection partitioned on pkPath (e.g. "/id")
// into the given number of evenly sized partition key ranges.
func (e *Emulator) CreateCollection(name, pkPath string, partitions int) error {
	if name == "" {
		return qerrors.NewBadRequest("CreateCollection", "collection name is required")
	}
	if !strings.HasPrefix(pkPath, "/") || len(pkPath) < 2 {
		return qerrors.NewBadRequestf("CreateCollection", "invalid partition key path %q", pkPath)
	}
	if partitions <= 0 {
		return qerrors.NewBadRequestf("CreateCollection", "partition count must be positive, got %d", partitions)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.collections[name]; ok {
		return qerrors.Errorf(qerrors.ErrCodeConflict, "collection %s already exists", name)
	}

	kv, err := storage.NewPebbleKV(storage.InMemoryPebbleConfig())
	if err != nil {
		return qerrors.Wrap(err, qerrors.ErrCodeInternal, "CreateCollection")
	}
	c := &collection{
		name:    name,
		pkPath:  strings.Split(strings.TrimPrefix(pkPath, "/"), "/"),
		kv:      kv,
		exec:    executor.New(kv),
		retired: make(map[string][]string),
	}
	for _, r := range routing.SplitEvenly(partitions) {
		c.ranges = append(c.ranges, routing.PartitionKeyRange{ID: c.newID(), MinInclusive: r.Min, MaxExclusive: r.Max})
	}
	e.collections[name] = c

	logger.Info("collection created",
		logger.Collection(name),
		logger.String("partition_key_path", pkPath),
		logger.Int("partitions", partitions))
	return nil
}

func (e *Emulator) collection(op, name string) (*collection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.collections[name]
	if !ok {
		return nil, qerrors.NewNotFoundf(op, "collection %s not found", name)
	}
	return c, nil
}

// Close releases every collection's storage.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for name, c := range e.collections {
		if err := c.kv.Close(); err != nil && first == nil {
			first = err
		}
		delete(e.collections, name)
	}
	return first
}

// PartitionKeyRanges returns the live ranges of the collection in key order.
func (e *Emulator) PartitionKeyRanges(_ context.Context, name string, _ bool) ([]routing.PartitionKeyRange, error) {
	c, err := e.collection("PartitionKeyRanges", name)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]routing.PartitionKeyRange, len(c.ranges))
	copy(out, c.ranges)
	return out, nil
}

// PartitionKeyPath returns the partition key path the collection was created with.
func (e *Emulator) PartitionKeyPath(_ context.Context, name string) (string, error) {
	c, err := e.collection("PartitionKeyPath", name)
	if err != nil {
		return "", err
	}
	return "/" + strings.Join(c.pkPath, "/"), nil
}

// Split replaces the live range rangeID with two children cut at its
// midpoint. Documents stay where they are; requests addressed to rangeID
// fail with partition_gone from now on.
func (e *Emulator) Split(ctx context.Context, name, rangeID string) ([]routing.PartitionKeyRange, error) {
	c, err := e.collection("Split", name)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, r := range c.ranges {
		if r.ID == rangeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		if _, gone := c.retired[rangeID]; gone {
			return nil, qerrors.NewPartitionGone("Split", rangeID)
		}
		return nil, qerrors.NewNotFoundf("Split", "partition key range %s not found", rangeID)
	}
	parent := c.ranges[idx]
	mid, ok := routing.MidPoint(parent.Range())
	if !ok {
		return nil, qerrors.NewBadRequestf("Split", "partition key range %s is too narrow to split", rangeID)
	}
	children := []routing.PartitionKeyRange{
		{ID: c.newID(), MinInclusive: parent.MinInclusive, MaxExclusive: mid, Parents: []string{parent.ID}},
		{ID: c.newID(), MinInclusive: mid, MaxExclusive: parent.MaxExclusive, Parents: []string{parent.ID}},
	}
	c.ranges = append(c.ranges[:idx], append(children, c.ranges[idx+1:]...)...)
	sort.Slice(c.ranges, func(i, j int) bool { return c.ranges[i].MinInclusive < c.ranges[j].MinInclusive })
	c.retired[parent.ID] = []string{children[0].ID, children[1].ID}

	logger.InfoContext(ctx, "partition split",
		logger.Collection(name),
		logger.PartitionRange(parent.ID, parent.MinInclusive, parent.MaxExclusive),
		logger.String("left", children[0].ID),
		logger.String("right", children[1].ID))
	out := make([]routing.PartitionKeyRange, len(children))
	copy(out, children)
	return out, nil
}

// SplitAll splits every live range of the collection once.
func (e *Emulator) SplitAll(ctx context.Context, name string) error {
	ranges, err := e.PartitionKeyRanges(ctx, name, true)
	if err != nil {
		return err
	}
	for _, r := range ranges {
		if _, err := e.Split(ctx, name, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// newID must be called with c.mu held or before c is published.
func (c *collection) newID() string {
	id := strconv.Itoa(c.nextID)
	c.nextID++
	return id
}

// lookup finds the live range id, reporting partition_gone for split ones.
func (c *collection) lookup(op, id string) (routing.PartitionKeyRange, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.ranges {
		if r.ID == id {
			return r, nil
		}
	}
	if _, gone := c.retired[id]; gone {
		return routing.PartitionKeyRange{}, qerrors.NewPartitionGone(op, id)
	}
	return routing.PartitionKeyRange{}, qerrors.NewNotFoundf(op, "partition key range %s not found", id)
}

// query returns the parsed form of text, cached.
func (e *Emulator) query(text string) (*sql.Query, error) {
	if q, ok := e.queries.Get(text); ok {
		return q, nil
	}
	q, err := sql.Parse(text)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeBadRequest, "ExecuteQuery")
	}
	e.queries.Add(text, q)
	return q, nil
}
