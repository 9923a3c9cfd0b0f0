package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleKV is a KV backed by a pebble database.
type PebbleKV struct {
	db     *pebble.DB
	mu     sync.RWMutex
	closed bool
}

// NewPebbleKV opens a pebble database as described by config.
func NewPebbleKV(config *PebbleConfig) (*PebbleKV, error) {
	cache := pebble.NewCache(config.CacheSize)
	defer cache.Unref()

	compression := pebble.NoCompression
	if config.CompressionEnabled {
		compression = pebble.SnappyCompression
	}

	opts := &pebble.Options{
		Cache:                       cache,
		MaxOpenFiles:                config.MaxOpenFiles,
		MemTableSize:                uint64(config.MemTableSize),
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       config.L0CompactionThreshold,
		L0StopWritesThreshold:       config.L0StopWritesThreshold,
		Levels: []pebble.LevelOptions{
			{BlockSize: config.BlockSize, Compression: compression},
		},
	}
	if config.EnableBloomFilter {
		for i := range opts.Levels {
			opts.Levels[i].FilterPolicy = bloom.FilterPolicy(config.BloomFilterBitsPerKey)
			opts.Levels[i].FilterType = pebble.TableFilter
		}
	}

	path := config.Path
	if config.InMemory {
		opts.FS = vfs.NewMem()
		path = ""
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleKV{db: db}, nil
}

func (p *PebbleKV) Get(ctx context.Context, key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	value, closer, err := p.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (p *PebbleKV) Set(ctx context.Context, key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	if err := p.db.Set(key, value, pebble.NoSync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (p *PebbleKV) Delete(ctx context.Context, key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	if err := p.db.Delete(key, pebble.NoSync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

func (p *PebbleKV) NewBatch() Batch {
	return &PebbleBatch{batch: p.db.NewBatch()}
}

func (p *PebbleKV) CommitBatch(ctx context.Context, batch Batch) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	pebbleBatch, ok := batch.(*PebbleBatch)
	if !ok {
		return fmt.Errorf("invalid batch type")
	}
	if err := pebbleBatch.batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("pebble commit: %w", err)
	}
	return nil
}

// NewIterator returns an iterator over [LowerBound, UpperBound). A failed
// open is reported through the iterator's Error.
func (p *PebbleKV) NewIterator(opts *IteratorOptions) Iterator {
	pebbleOpts := &pebble.IterOptions{}
	reverse := false
	if opts != nil {
		pebbleOpts.LowerBound = opts.LowerBound
		pebbleOpts.UpperBound = opts.UpperBound
		reverse = opts.Reverse
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return &PebbleIterator{err: ErrClosed}
	}
	iter, err := p.db.NewIter(pebbleOpts)
	if err != nil {
		return &PebbleIterator{err: err}
	}
	return &PebbleIterator{iter: iter, reverse: reverse}
}

func (p *PebbleKV) Stats() KVStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return KVStats{}
	}
	m := p.db.Metrics()
	var keys int64
	for _, level := range m.Levels {
		keys += int64(level.NumFiles)
	}
	return KVStats{
		KeyCount:        keys,
		ApproximateSize: int64(m.DiskSpaceUsage()),
		MemTableSize:    int64(m.MemTable.Size),
		FlushCount:      int64(m.Flush.Count),
		CompactionCount: int64(m.Compact.Count),
	}
}

func (p *PebbleKV) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// PebbleBatch is a write batch applied atomically by CommitBatch.
type PebbleBatch struct {
	batch *pebble.Batch
}

func (b *PebbleBatch) Set(key, value []byte) error { return b.batch.Set(key, value, nil) }
func (b *PebbleBatch) Delete(key []byte) error     { return b.batch.Delete(key, nil) }
func (b *PebbleBatch) Count() int                  { return int(b.batch.Count()) }
func (b *PebbleBatch) Reset()                      { b.batch.Reset() }
func (b *PebbleBatch) Close() error                { return b.batch.Close() }
