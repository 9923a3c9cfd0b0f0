// Package storage provides the key-value store the emulated partitions keep
// their documents in.
package storage

import (
	"context"
	"errors"
	"io"
)

// WriteOptions defines options for write operations
type WriteOptions struct {
	Sync bool
}

var (
	DefaultWriteOptions = &WriteOptions{Sync: false}
	SyncWriteOptions    = &WriteOptions{Sync: true}
)

// KV defines the interface for key-value storage operations
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	NewBatch() Batch
	CommitBatch(ctx context.Context, batch Batch) error
	NewIterator(opts *IteratorOptions) Iterator
	Stats() KVStats
	Close() error
}

// Batch defines the interface for batch operations
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	Count() int
	Reset()
	Close() error
}

// IteratorOptions defines options for iterator operations
type IteratorOptions struct {
	LowerBound []byte
	UpperBound []byte
	Reverse    bool
}

// Iterator defines the interface for iterating over key-value pairs
type Iterator interface {
	io.Closer
	Valid() bool
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	SeekGE(key []byte) bool
	First() bool
}

// KVStats provides statistics about the KV store
type KVStats struct {
	KeyCount        int64
	ApproximateSize int64
	MemTableSize    int64
	FlushCount      int64
	CompactionCount int64
}

// Error types
var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("kv store closed")
)

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
