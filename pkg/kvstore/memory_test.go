package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "k1", []byte("v1"), 0))
	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Returned slices are copies
	got[0] = 'x'
	again, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), again)

	removed, err := store.Delete(ctx, "k1", "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestMemoryStoreTTL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ephemeral", []byte("v"), 1))
	_, err := store.Get(ctx, "ephemeral")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	_, err = store.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreKeysByPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a:1", []byte("v"), 0))
	require.NoError(t, store.Set(ctx, "a:2", []byte("v"), 0))
	require.NoError(t, store.Set(ctx, "b:1", []byte("v"), 0))

	keys, err := store.Keys(ctx, "a:")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "a:2"}, keys)
}

func TestMemoryStoreSortedSets(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.ZAdd(ctx, "scores", "m1", 10))
	require.NoError(t, store.ZAdd(ctx, "scores", "m2", 5))
	require.NoError(t, store.ZAdd(ctx, "scores", "m3", 20))
	// Re-adding updates the score in place
	require.NoError(t, store.ZAdd(ctx, "scores", "m1", 1))

	score, ok, err := store.ZScore(ctx, "scores", "m1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.0, score)

	_, ok, err = store.ZScore(ctx, "scores", "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := store.ZRangeByScore(ctx, "scores", 1, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, members)

	members, err = store.ZRangeByScore(ctx, "scores", 0, 100, 2)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	scored, err := store.ZRangeWithScores(ctx, "scores")
	require.NoError(t, err)
	require.Len(t, scored, 3)
	assert.Equal(t, "m1", scored[0].Member)
	assert.Equal(t, "m3", scored[2].Member)

	require.NoError(t, store.ZRem(ctx, "scores", "m1", "m2"))
	scored, err = store.ZRangeWithScores(ctx, "scores")
	require.NoError(t, err)
	assert.Len(t, scored, 1)
}
