// Package pool provides reusable scratch buffers for item encoding.
package pool

import (
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks pool reuse.
type PoolMetrics struct {
	Gets      int64
	Puts      int64
	Hits      int64
	Misses    int64
	Discarded int64
}

type atomicMetrics struct {
	gets      atomic.Int64
	puts      atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	discarded atomic.Int64
}

// BufferPool hands out empty byte slices with at least initial capacity.
// Buffers that grew beyond maxCap are dropped on Put so one huge document
// does not pin memory.
type BufferPool struct {
	pool    sync.Pool
	initial int
	maxCap  int
	metrics atomicMetrics
}

// NewBufferPool creates a pool of buffers starting at initial bytes and
// retained up to maxCap bytes.
func NewBufferPool(initial, maxCap int) *BufferPool {
	if maxCap < initial {
		maxCap = initial
	}
	return &BufferPool{initial: initial, maxCap: maxCap}
}

// Scratch is the shared pool used for hashing and sizing items.
var Scratch = NewBufferPool(256, 64*1024)

// Get returns a zero-length buffer.
func (bp *BufferPool) Get() *[]byte {
	bp.metrics.gets.Add(1)
	if v := bp.pool.Get(); v != nil {
		bp.metrics.hits.Add(1)
		buf := v.(*[]byte)
		*buf = (*buf)[:0]
		return buf
	}
	bp.metrics.misses.Add(1)
	buf := make([]byte, 0, bp.initial)
	return &buf
}

// Put returns a buffer obtained from Get.
func (bp *BufferPool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	if cap(*buf) > bp.maxCap {
		bp.metrics.discarded.Add(1)
		return
	}
	bp.metrics.puts.Add(1)
	bp.pool.Put(buf)
}

// With runs fn with a pooled buffer; fn must not retain the slice.
func (bp *BufferPool) With(fn func(buf []byte) []byte) {
	buf := bp.Get()
	*buf = fn(*buf)
	bp.Put(buf)
}

// Metrics returns the current pool metrics.
func (bp *BufferPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Gets:      bp.metrics.gets.Load(),
		Puts:      bp.metrics.puts.Load(),
		Hits:      bp.metrics.hits.Load(),
		Misses:    bp.metrics.misses.Load(),
		Discarded: bp.metrics.discarded.Load(),
	}
}
