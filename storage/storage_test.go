package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) *PebbleKV {
	t.Helper()
	kv, err := NewPebbleKV(InMemoryPebbleConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestPebbleKVBasicOperations(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)

	require.NoError(t, kv.Set(ctx, []byte("a"), []byte("1")))
	v, err := kv.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, kv.Delete(ctx, []byte("a")))
	_, err = kv.Get(ctx, []byte("a"))
	assert.True(t, IsNotFound(err))
}

func TestPebbleKVBatchAndIterator(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)

	batch := kv.NewBatch()
	for i := 0; i < 10; i++ {
		require.NoError(t, batch.Set([]byte(fmt.Sprintf("k%02d", i)), []byte{byte(i)}))
	}
	assert.Equal(t, 10, batch.Count())
	require.NoError(t, kv.CommitBatch(ctx, batch))
	require.NoError(t, batch.Close())

	iter := kv.NewIterator(&IteratorOptions{LowerBound: []byte("k03"), UpperBound: []byte("k07")})
	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	require.NoError(t, iter.Error())
	require.NoError(t, iter.Close())
	assert.Equal(t, []string{"k03", "k04", "k05", "k06"}, keys)

	rev := kv.NewIterator(&IteratorOptions{LowerBound: []byte("k00"), UpperBound: []byte("k10"), Reverse: true})
	keys = nil
	for rev.SeekGE([]byte("k03")); rev.Valid(); rev.Next() {
		keys = append(keys, string(rev.Key()))
	}
	require.NoError(t, rev.Close())
	assert.Equal(t, []string{"k02", "k01", "k00"}, keys)
}

func TestPebbleKVClosed(t *testing.T) {
	kv, err := NewPebbleKV(InMemoryPebbleConfig())
	require.NoError(t, err)
	require.NoError(t, kv.Close())
	require.NoError(t, kv.Close())

	_, err = kv.Get(context.Background(), []byte("a"))
	assert.ErrorIs(t, err, ErrClosed)
	iter := kv.NewIterator(nil)
	assert.False(t, iter.First())
	assert.ErrorIs(t, iter.Error(), ErrClosed)
}
