package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPool(t *testing.T) {
	bp := NewBufferPool(16, 64)

	buf := bp.Get()
	assert.Len(t, *buf, 0)
	assert.GreaterOrEqual(t, cap(*buf), 16)
	*buf = append(*buf, "hello"...)
	bp.Put(buf)

	again := bp.Get()
	assert.Len(t, *again, 0, "buffers come back empty")
	bp.Put(again)

	m := bp.Metrics()
	assert.Equal(t, int64(2), m.Gets)
	assert.Equal(t, int64(2), m.Puts)
	assert.Equal(t, m.Gets, m.Hits+m.Misses)
}

func TestBufferPoolDropsOversized(t *testing.T) {
	bp := NewBufferPool(8, 32)

	buf := bp.Get()
	*buf = append(*buf, make([]byte, 100)...)
	bp.Put(buf)

	m := bp.Metrics()
	assert.Equal(t, int64(1), m.Discarded)
	assert.Equal(t, int64(0), m.Puts)
}

func TestWith(t *testing.T) {
	bp := NewBufferPool(8, 1024)
	var n int
	bp.With(func(buf []byte) []byte {
		buf = append(buf, "abc"...)
		n = len(buf)
		return buf
	})
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(1), bp.Metrics().Puts)
}
