package logger

import (
	"context"
)

// ContextKey is used for context values
type ContextKey string

const (
	// ActivityIDKey is the context key for the client activity id of a query
	ActivityIDKey ContextKey = "activity_id"
	// QueryIDKey is the context key for the fingerprint of the running query
	QueryIDKey ContextKey = "query_id"
	// PartitionKeyRangeIDKey is the context key for the partition being fetched
	PartitionKeyRangeIDKey ContextKey = "partition_key_range_id"
)

// WithContextValue adds a value to the context for logging
func WithContextValue(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

// WithActivityID tags ctx with the activity id of a query.
func WithActivityID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ActivityIDKey, id)
}

// WithPartition tags ctx with the partition key range id being fetched.
func WithPartition(ctx context.Context, rangeID string) context.Context {
	return context.WithValue(ctx, PartitionKeyRangeIDKey, rangeID)
}

// ActivityIDFrom returns the activity id stored in ctx, if any.
func ActivityIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ActivityIDKey).(string)
	return id
}

// ExtractContextValues extracts logging-relevant values from context
func ExtractContextValues(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	var args []any
	for _, key := range []ContextKey{ActivityIDKey, QueryIDKey, PartitionKeyRangeIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			args = append(args, string(key), v)
		}
	}
	return args
}
