package engine

import (
	"github.com/guileen/crossquery/engine/config"
	"github.com/guileen/crossquery/types"
)

// Options configures one query execution. Zero values fall back to the
// engine configuration.
type Options struct {
	Collection string

	// PartitionKey pins the query to one logical partition.
	PartitionKey *types.Item
	// PartitionKeyRangeID pins the query to one physical partition.
	PartitionKeyRangeID string

	EnableCrossPartitionQuery bool
	// MaxItemCount is the page size; <= 0 uses the configured default.
	MaxItemCount int
	// MaxDegreeOfParallelism: 0 serial, -1 automatic, N at most N
	// concurrent prefetches.
	MaxDegreeOfParallelism int
	// MaxBufferedItemCount bounds prefetched items; <= 0 uses the default.
	MaxBufferedItemCount int

	// Continuation resumes a previous execution of the same query.
	Continuation    string
	PopulateMetrics bool
	ActivityID      string
}

// withDefaults fills unset knobs from cfg.
func (o Options) withDefaults(cfg config.Config) Options {
	if o.MaxItemCount <= 0 {
		o.MaxItemCount = cfg.MaxItemCount
	}
	if o.MaxBufferedItemCount <= 0 {
		o.MaxBufferedItemCount = cfg.MaxBufferedItemCount
	}
	return o
}

// parallelism resolves the degree of parallelism for n targets.
func parallelism(requested, n, autoCap int) int {
	switch {
	case requested < 0:
		return max(1, min(n, autoCap))
	case requested > n:
		return max(1, n)
	}
	return requested
}
