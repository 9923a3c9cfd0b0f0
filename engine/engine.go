// Package engine executes a query across the partitions of a collection as
// a pull-driven state machine: it plans the query, opens one producer per
// partition, merges their pages with the strategy the query shape calls for
// and suspends into a continuation token between pages.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/guileen/crossquery/codec"
	"github.com/guileen/crossquery/continuation"
	"github.com/guileen/crossquery/engine/config"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/logger"
	"github.com/guileen/crossquery/metrics"
	"github.com/guileen/crossquery/pipe"
	"github.com/guileen/crossquery/planner"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/types"
)

// Page is one page of merged results.
type Page struct {
	// Items are rows as the merge emits them: ORDER BY rows still carry
	// orderByItems and payload.
	Items []types.Item
	// Continuation resumes after this page; nil after the last page or when
	// TokenErr is set.
	Continuation *string
	// TokenErr is why no continuation can be issued for an unfinished query.
	TokenErr      error
	RequestCharge float64
	// Metrics are per partition, set when metrics were requested.
	Metrics    metrics.Partitioned
	ActivityID string
}

// Engine runs one query. It is safe for concurrent use, but pulls are
// serialized.
type Engine struct {
	client     pipe.QueryClient
	enum       *routing.Enumerator
	planner    *planner.Planner
	query      pipe.Query
	opts       Options
	cfg        config.Config
	collectors *metrics.Collectors

	mu          sync.Mutex
	state       State
	err         error
	info        *planner.QueryInfo
	strategy    planner.Strategy
	fingerprint string
	rt          *runtime
	root        stage
	closers     []interface{ close() }
	cancel      context.CancelFunc
	started     time.Time
	finished    bool
}

// New creates an engine for query. Nothing is planned or fetched until the
// first Next.
func New(client pipe.QueryClient, enum *routing.Enumerator, p *planner.Planner, query pipe.Query, opts Options, cfg config.Config, collectors *metrics.Collectors) *Engine {
	if opts.Collection == "" {
		opts.Collection = query.Collection
	}
	query.Collection = opts.Collection
	return &Engine{
		client:     client,
		enum:       enum,
		planner:    p,
		query:      query,
		opts:       opts.withDefaults(cfg),
		cfg:        cfg,
		collectors: collectors,
	}
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HasMore reports whether Next may return further pages.
func (e *Engine) HasMore() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != Exhausted && e.state != Faulted
}

// Strategy returns the execution strategy, known after the first Next.
func (e *Engine) Strategy() planner.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategy
}

// QueryInfo returns the plan, known after the first Next.
func (e *Engine) QueryInfo() *planner.QueryInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

// Next returns the next page. After an error the engine is Faulted and
// every later call returns the same error.
func (e *Engine) Next(ctx context.Context) (*Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Faulted:
		return nil, e.err
	case Exhausted:
		return &Page{}, nil
	case Uninitialized:
		e.state = FanningOut
		e.started = time.Now()
		if err := e.init(ctx); err != nil {
			return nil, e.fault(ctx, err)
		}
	}

	items, err := e.root.next(ctx, 0)
	if err != nil {
		return nil, e.fault(ctx, err)
	}
	charge, parts, activity := e.rt.acct.take()
	page := &Page{
		Items:         items,
		RequestCharge: charge,
		ActivityID:    activity,
	}
	if e.opts.PopulateMetrics {
		page.Metrics = parts
	}
	if page.ActivityID == "" {
		page.ActivityID = e.opts.ActivityID
	}

	if e.root.done() {
		e.state = Exhausted
		e.finish("ok")
	} else {
		e.state = Draining
		page.Continuation, page.TokenErr = e.suspend()
	}
	e.collectors.ObservePage(string(e.strategy), charge)
	logger.DebugContext(ctx, "page emitted",
		logger.Collection(e.opts.Collection),
		logger.Strategy(string(e.strategy)),
		logger.PageSize(len(items)),
		logger.Charge(charge),
		logger.Bool("more", page.Continuation != nil || page.TokenErr != nil))
	return page, nil
}

// suspend serializes the state after the last page.
func (e *Engine) suspend() (*string, error) {
	st, err := e.root.state()
	if err != nil {
		return nil, err
	}
	token, err := continuation.Serialize(e.cfg.TokenVersion, e.fingerprint, st)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// Close releases producers and stops prefetching. It is safe to call more
// than once and at any page boundary.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Uninitialized {
		e.state = Exhausted
		return
	}
	e.finish("closed")
}

func (e *Engine) finish(status string) {
	if e.finished {
		return
	}
	e.finished = true
	if e.cancel != nil {
		e.cancel()
	}
	if e.rt != nil {
		e.rt.sched.close()
	}
	for _, c := range e.closers {
		c.close()
	}
	if !e.started.IsZero() {
		e.collectors.ObserveQuery(string(e.strategy), status)
		logger.Debug("query finished",
			logger.Collection(e.opts.Collection),
			logger.Strategy(string(e.strategy)),
			logger.String("status", status),
			logger.Duration("elapsed", time.Since(e.started)))
	}
}

func (e *Engine) fault(ctx context.Context, err error) error {
	e.state = Faulted
	e.err = err
	if qerrors.IsBadRequest(err) {
		qerrors.LogWarning(ctx, err)
	} else {
		qerrors.LogError(ctx, err)
	}
	e.finish(qerrors.Code(err))
	return err
}

// init plans the query, validates the continuation and builds the stages.
func (e *Engine) init(ctx context.Context) error {
	pkPath, err := e.enum.PartitionKeyPath(ctx, e.opts.Collection)
	if err != nil {
		return err
	}
	info, err := e.planner.Plan(e.query.Text, e.query.Parameters, pkPath)
	if err != nil {
		return err
	}
	e.info = info
	e.fingerprint = e.fingerprintOf()

	var raw json.RawMessage
	if e.opts.Continuation != "" {
		if raw, err = continuation.Deserialize(e.opts.Continuation, e.cfg.TokenVersion, e.fingerprint); err != nil {
			return err
		}
	}

	bg, cancel := context.WithCancel(logger.WithActivityID(context.Background(), e.opts.ActivityID))
	e.cancel = cancel
	e.rt = &runtime{
		client:     e.client,
		enum:       e.enum,
		opts:       e.opts,
		params:     e.query.Parameters,
		collectors: e.collectors,
		pipeOptions: []pipe.Option{
			pipe.WithSpuriousCancelRetries(e.cfg.SpuriousCancelRetries),
			pipe.WithActivityID(e.opts.ActivityID),
			pipe.WithMetrics(e.opts.PopulateMetrics),
			pipe.WithCollectors(e.collectors),
		},
	}

	if pinned, err := e.pinned(ctx, raw); pinned || err != nil {
		return err
	}

	targets, err := e.enum.ResolveTargets(ctx, e.opts.Collection, nil)
	if err != nil {
		return err
	}
	if len(targets) > 1 && !e.opts.EnableCrossPartitionQuery {
		return qerrors.NewBadRequest("engine.Plan", qerrors.MsgCrossPartitionDisabled)
	}
	e.strategy = info.Strategy()
	e.rt.dop = parallelism(e.opts.MaxDegreeOfParallelism, len(targets), e.cfg.AutoParallelismCap)
	if e.rt.dop > 0 {
		sched, err := newScheduler(bg, e.rt.dop, e.opts.MaxItemCount, e.opts.MaxBufferedItemCount)
		if err != nil {
			return qerrors.Wrap(err, qerrors.ErrCodeInternal, "engine.scheduler")
		}
		e.rt.sched = sched
	}

	root, err := e.build(ctx, raw)
	if err != nil {
		return err
	}
	e.root = root
	logger.InfoContext(ctx, "query planned",
		logger.Collection(e.opts.Collection),
		logger.Strategy(string(e.strategy)),
		logger.Int("partitions", len(targets)),
		logger.Int("dop", e.rt.dop),
		logger.Bool("resumed", raw != nil))
	return nil
}

// pinned sets up a passthrough execution when the query is confined to
// one partition.
func (e *Engine) pinned(ctx context.Context, raw json.RawMessage) (bool, error) {
	var (
		target routing.PartitionTarget
		pk     *types.Item
		err    error
	)
	switch {
	case e.opts.PartitionKeyRangeID != "":
		target, err = e.enum.ResolveOverride(ctx, e.opts.Collection, e.opts.PartitionKeyRangeID)
	case e.opts.PartitionKey != nil:
		pk = e.opts.PartitionKey
	case e.info.PartitionKey != nil:
		pk = e.info.PartitionKey
	default:
		return false, nil
	}
	if pk != nil {
		target, err = e.enum.ResolveKey(ctx, e.opts.Collection, *pk, false)
	}
	if err != nil {
		return true, err
	}

	var token *string
	if raw != nil && !continuation.IsNull(raw) {
		tokens, err := continuation.DecodeComposite(raw)
		if err != nil {
			return true, err
		}
		if len(tokens) != 1 || tokens[0].Range != target.Range() {
			return true, qerrors.NewBadRequestf("engine.resume", "continuation token does not belong to partition %s", target)
		}
		token = tokens[0].Token
	}
	e.strategy = planner.StrategyPassthrough
	e.root = newPassthroughStage(e.rt, target, pk, e.info.Text, token)
	logger.InfoContext(ctx, "query pinned to one partition",
		logger.Collection(e.opts.Collection),
		logger.PartitionRange(target.ID, target.Min, target.Max))
	return true, nil
}

// build assembles the stages outermost first, peeling each layer of the
// continuation as it goes.
func (e *Engine) build(ctx context.Context, raw json.RawMessage) (stage, error) {
	info := e.info
	resumed := raw != nil

	top := info.Top
	if resumed && top >= 0 {
		tok, err := continuation.DecodeTop(raw)
		if err != nil {
			return nil, err
		}
		top, raw = tok.Limit, tok.SourceToken
	}
	offset, limit := max(0, info.Offset), info.Limit
	if resumed && limit >= 0 {
		tok, err := continuation.DecodeOffsetLimit(raw)
		if err != nil {
			return nil, err
		}
		offset, limit, raw = tok.Offset, tok.Limit, tok.SourceToken
	}
	var lastHash codec.Hash192
	switch info.DistinctType {
	case planner.DistinctOrdered:
		if resumed {
			tok, err := continuation.DecodeDistinct(raw)
			if err != nil {
				return nil, err
			}
			if tok.LastHash != "" {
				if lastHash, err = codec.ParseHash192(tok.LastHash); err != nil {
					return nil, qerrors.Wrap(err, qerrors.ErrCodeBadRequest, "engine.resume")
				}
			}
			raw = tok.SourceToken
		}
	case planner.DistinctUnordered:
		if resumed {
			return nil, qerrors.NewBadRequest("engine.resume", qerrors.MsgUnorderedDistinctContinuation)
		}
	}

	var (
		s   stage
		err error
	)
	switch e.strategy {
	case planner.StrategyGroupBy:
		if resumed {
			return nil, qerrors.NewBadRequest("engine.resume", qerrors.MsgGroupByContinuation)
		}
		src, err := e.parallel(ctx, nil)
		if err != nil {
			return nil, err
		}
		s = newGroupByStage(src, info, e.opts.MaxItemCount)
	case planner.StrategyAggregate:
		if resumed {
			return nil, qerrors.NewBadRequest("engine.resume", "continuation tokens are not supported for aggregate queries without GROUP BY")
		}
		src, err := e.parallel(ctx, nil)
		if err != nil {
			return nil, err
		}
		s = newAggregateStage(src, info)
	case planner.StrategyOrderBy:
		var tokens []continuation.OrderByToken
		if resumed {
			if tokens, err = decodeOrderBy(raw, len(info.OrderBy)); err != nil {
				return nil, err
			}
		}
		ob, err := newOrderByStage(ctx, e.rt, info, e.cfg.AllowMixedTypeOrderBy, tokens)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, ob)
		s = ob
	default:
		var tokens []continuation.CompositeToken
		if resumed {
			if tokens, err = decodeComposite(raw); err != nil {
				return nil, err
			}
		}
		if s, err = e.parallel(ctx, tokens); err != nil {
			return nil, err
		}
	}

	if info.DistinctType != planner.DistinctNone {
		value := identity
		if e.strategy == planner.StrategyOrderBy {
			value = payloadOf
		}
		s = newDistinctStage(s, info.DistinctType == planner.DistinctOrdered, value, lastHash)
	}
	if info.Limit >= 0 {
		s = newOffsetLimitStage(s, offset, limit)
	}
	if info.Top >= 0 {
		s = newTopStage(s, top)
	}
	return s, nil
}

func (e *Engine) parallel(ctx context.Context, tokens []continuation.CompositeToken) (*parallelStage, error) {
	ps, err := newParallelStage(ctx, e.rt, e.info.PartitionQuery(""), tokens)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, ps)
	return ps, nil
}

// decodeComposite decodes a document-order source token; null means the
// source had nothing left.
func decodeComposite(raw json.RawMessage) ([]continuation.CompositeToken, error) {
	if continuation.IsNull(raw) {
		return []continuation.CompositeToken{}, nil
	}
	return continuation.DecodeComposite(raw)
}

func decodeOrderBy(raw json.RawMessage, columns int) ([]continuation.OrderByToken, error) {
	if continuation.IsNull(raw) {
		return []continuation.OrderByToken{}, nil
	}
	return continuation.DecodeOrderBy(raw, columns)
}

// fingerprintOf identifies the query and the options that change its
// result set.
func (e *Engine) fingerprintOf() string {
	parts := []string{e.query.Text, e.opts.PartitionKeyRangeID}
	if e.opts.PartitionKey != nil {
		parts = append(parts, e.opts.PartitionKey.JSON())
	} else {
		parts = append(parts, "")
	}
	names := make([]string, 0, len(e.query.Parameters))
	for name := range e.query.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name+"="+e.query.Parameters[name].JSON())
	}
	return continuation.Fingerprint(parts...)
}
