package routing

import (
	"context"
	"sort"
	"sync"

	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/logger"
	"github.com/guileen/crossquery/types"
)

// Provider is the routing map service. It reports the live partition key
// ranges of a collection; forceRefresh bypasses any cache it keeps.
type Provider interface {
	PartitionKeyRanges(ctx context.Context, collection string, forceRefresh bool) ([]PartitionKeyRange, error)
	PartitionKeyPath(ctx context.Context, collection string) (string, error)
}

// Enumerator resolves query targets against a Provider and caches the
// routing map per collection until a lookup proves it stale.
type Enumerator struct {
	provider Provider

	mu    sync.Mutex
	cache map[string][]PartitionKeyRange
}

// NewEnumerator creates an Enumerator over provider.
func NewEnumerator(provider Provider) *Enumerator {
	return &Enumerator{provider: provider, cache: make(map[string][]PartitionKeyRange)}
}

// PartitionKeyPath returns the partition key path of the collection, e.g. "/id".
func (e *Enumerator) PartitionKeyPath(ctx context.Context, collection string) (string, error) {
	return e.provider.PartitionKeyPath(ctx, collection)
}

func (e *Enumerator) ranges(ctx context.Context, collection string, refresh bool) ([]PartitionKeyRange, error) {
	e.mu.Lock()
	cached, ok := e.cache[collection]
	e.mu.Unlock()
	if ok && !refresh {
		return cached, nil
	}

	ranges, err := e.provider.PartitionKeyRanges(ctx, collection, refresh)
	if err != nil {
		return nil, err
	}
	sorted := append([]PartitionKeyRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinInclusive < sorted[j].MinInclusive })

	e.mu.Lock()
	e.cache[collection] = sorted
	e.mu.Unlock()
	return sorted, nil
}

// ResolveTargets returns the partitions a query must visit, sorted by the
// lower bound of their key range. With an exact partition key only the
// owning partition is returned, narrowed to that key's documents.
func (e *Enumerator) ResolveTargets(ctx context.Context, collection string, partitionKey *types.Item) ([]PartitionTarget, error) {
	if partitionKey != nil {
		t, err := e.ResolveKey(ctx, collection, *partitionKey, false)
		if err != nil {
			return nil, err
		}
		return []PartitionTarget{t}, nil
	}
	return e.ResolveRange(ctx, collection, FullRange())
}

// ResolveKey returns the partition owning pk with its range narrowed to
// KeyRange(pk). refresh bypasses the cached routing map.
func (e *Enumerator) ResolveKey(ctx context.Context, collection string, pk types.Item, refresh bool) (PartitionTarget, error) {
	epk := EffectivePartitionKey(pk)
	ranges, err := e.ranges(ctx, collection, refresh)
	if err != nil {
		return PartitionTarget{}, err
	}
	for _, r := range ranges {
		if r.Range().Contains(epk) {
			kr := KeyRange(pk)
			return PartitionTarget{ID: r.ID, Min: kr.Min, Max: kr.Max}, nil
		}
	}
	return PartitionTarget{}, qerrors.NewInternalf("ResolveKey", "no partition owns effective partition key %s of collection %s", epk, collection)
}

// ResolveOverride returns the partition with the given id.
func (e *Enumerator) ResolveOverride(ctx context.Context, collection, rangeID string) (PartitionTarget, error) {
	for _, refresh := range []bool{false, true} {
		ranges, err := e.ranges(ctx, collection, refresh)
		if err != nil {
			return PartitionTarget{}, err
		}
		for _, r := range ranges {
			if r.ID == rangeID {
				return r.Target(), nil
			}
		}
	}
	return PartitionTarget{}, qerrors.NewBadRequestf("ResolveOverride", "partition key range id %s does not exist in collection %s", rangeID, collection)
}

// ResolveRange returns the live partitions that together make up rng. The
// cached routing map is refreshed once if it does not tile rng exactly.
// A range with no live partition, or one that now lies inside a wider
// partition (a merge), is rejected as a bad request.
func (e *Enumerator) ResolveRange(ctx context.Context, collection string, rng Range) ([]PartitionTarget, error) {
	if rng.IsEmpty() {
		return nil, qerrors.NewBadRequestf("ResolveRange", "empty partition key range %s", rng)
	}
	var reason string
	for _, refresh := range []bool{false, true} {
		ranges, err := e.ranges(ctx, collection, refresh)
		if err != nil {
			return nil, err
		}
		targets, why := tile(ranges, rng)
		if why == "" {
			return targets, nil
		}
		reason = why
	}
	return nil, qerrors.NewBadRequestf("ResolveRange", "partition key range %s of collection %s %s", rng, collection, reason)
}

// Replacements resolves the children of a partition the backend reported
// as gone. The routing map is always refreshed first.
func (e *Enumerator) Replacements(ctx context.Context, collection string, gone PartitionTarget) ([]PartitionTarget, error) {
	ranges, err := e.ranges(ctx, collection, true)
	if err != nil {
		return nil, err
	}
	targets, why := tile(ranges, gone.Range())
	if why != "" {
		return nil, qerrors.NewBadRequestf("Replacements", "partition %s of collection %s %s", gone, collection, why)
	}
	for _, t := range targets {
		if t.ID == gone.ID {
			return nil, qerrors.NewServiceUnavailable("Replacements",
				"partition "+gone.ID+" was reported gone but is still routed")
		}
	}
	logger.InfoContext(ctx, "resolved split partition",
		logger.Collection(collection), logger.String("parent", gone.ID), logger.Int("children", len(targets)))
	return targets, nil
}

// tile returns the ranges overlapping rng when they cover it exactly and
// none extends past it; otherwise it explains the mismatch.
func tile(ranges []PartitionKeyRange, rng Range) ([]PartitionTarget, string) {
	var out []PartitionTarget
	next := rng.Min
	for _, r := range ranges {
		if !r.Range().Overlaps(rng) {
			continue
		}
		if !rng.Covers(r.Range()) {
			return nil, "is no longer a partition boundary; partition merges are not supported during a query"
		}
		if r.MinInclusive != next {
			return nil, "is not fully covered by live partitions"
		}
		out = append(out, r.Target())
		next = r.MaxExclusive
	}
	if len(out) == 0 {
		return nil, "has no live partition"
	}
	if next != rng.Max {
		return nil, "is not fully covered by live partitions"
	}
	return out, ""
}
