package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, _, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", []byte("v1")))
	value, version, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
	assert.Equal(t, int64(1), version)

	require.NoError(t, store.Set(ctx, "k", []byte("v2")))
	_, version, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestMemoryCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	// version 0 creates
	require.NoError(t, store.CompareAndSwap(ctx, "k", []byte("v1"), 0))
	assert.ErrorIs(t, store.CompareAndSwap(ctx, "k", []byte("again"), 0), ErrConflict)

	_, version, err := store.Get(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, store.CompareAndSwap(ctx, "k", []byte("v2"), version))
	assert.ErrorIs(t, store.CompareAndSwap(ctx, "k", []byte("v3"), version), ErrConflict)

	assert.ErrorIs(t, store.CompareAndSwap(ctx, "missing", []byte("v"), 7), ErrNotFound)
}

func TestMemoryKeysPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Set(ctx, "workers/a", []byte("1")))
	require.NoError(t, store.Set(ctx, "workers/b", []byte("2")))
	require.NoError(t, store.Set(ctx, "metrics/latest", []byte("3")))

	keys, err := store.Keys(ctx, "workers/")
	require.NoError(t, err)
	assert.Equal(t, []string{"workers/a", "workers/b"}, keys)
}

func TestMemoryListBoundedNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	for _, v := range []string{"1", "2", "3", "4"} {
		require.NoError(t, store.PushList(ctx, "l", []byte(v), 3))
	}

	all, err := store.RangeList(ctx, "l", 0)
	require.NoError(t, err)
	require.Len(t, all, 3, "list must stay bounded")
	assert.Equal(t, []byte("4"), all[0], "newest entry first")
	assert.Equal(t, []byte("2"), all[2])

	two, err := store.RangeList(ctx, "l", 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}
