package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

func TestWALStore_LastWriteWinsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewWALStore(dir)
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v1")))
	require.NoError(t, store.Set(ctx, "other", []byte("x")))
	require.NoError(t, store.Set(ctx, "k", []byte("v2")))

	val, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(val))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, reopened.Close())
	}()

	val, ok, err = reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(val))

	val, ok, err = reopened.Get(ctx, "other")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", string(val))
}

func TestWALStore_MissingDir(t *testing.T) {
	_, err := NewWALStore("")
	require.Error(t, err)
	assert.True(t, domain.IsConfiguration(err))
}

func TestWALStore_Uninitialized(t *testing.T) {
	var s *WALStore
	_, _, err := s.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, s.Set(context.Background(), "k", nil))
	assert.Error(t, s.Close())
}
