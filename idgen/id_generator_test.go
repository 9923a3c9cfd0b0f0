package idgen

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRID(t *testing.T) {
	gen := MustNew(0)
	ctx := context.Background()

	prev := ""
	for i := 0; i < 5000; i++ {
		rid, err := gen.NextRID(ctx)
		require.NoError(t, err)
		require.Len(t, rid, 16)
		require.Greater(t, rid, prev)
		prev = rid
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := gen.NextRID(canceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatRID(t *testing.T) {
	assert.Equal(t, "00000000000000FF", FormatRID(255))
}

func TestClockSteppingBack(t *testing.T) {
	gen := MustNew(3)
	clock := Epoch.Add(time.Second)
	gen.now = func() time.Time { return clock }

	first := gen.Next()
	clock = clock.Add(-time.Millisecond * 500)
	second := gen.Next()
	assert.Greater(t, second, first)
	assert.Equal(t, int64(3), second>>seqBits&maxNode)
}

func TestSequenceOverflowBorrowsNextMillisecond(t *testing.T) {
	gen := MustNew(0)
	gen.now = func() time.Time { return Epoch.Add(time.Second) }

	var last int64
	for i := 0; i <= seqMask+1; i++ {
		id := gen.Next()
		require.Greater(t, id, last)
		last = id
	}
	assert.Equal(t, int64(1001), last>>(nodeBits+seqBits))
}

func TestConcurrentSafety(t *testing.T) {
	gen := MustNew(1)
	const goroutines = 10
	const iterations = 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		rids []string
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				rid, err := gen.NextRID(context.Background())
				if err != nil {
					t.Errorf("concurrent test error: %v", err)
					return
				}
				mu.Lock()
				rids = append(rids, rid)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Strings(rids)
	for i := 1; i < len(rids); i++ {
		assert.NotEqual(t, rids[i-1], rids[i])
	}
}

func TestNewRejectsBadNode(t *testing.T) {
	_, err := New(1024)
	assert.Error(t, err)
	assert.Panics(t, func() { MustNew(-1) })
}
