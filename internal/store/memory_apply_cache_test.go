package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryApplyCache_SetGet(t *testing.T) {
	c := NewMemoryApplyCache(zap.NewNop())
	ctx := context.Background()

	_, err := c.Get(ctx, "acme", "container-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "acme", "container-1", "hash-a", time.Minute))

	hash, err := c.Get(ctx, "acme", "container-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-a", hash)
}

func TestMemoryApplyCache_KeyedByContainerRef(t *testing.T) {
	c := NewMemoryApplyCache(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "acme", "container-1", "hash-a", time.Minute))

	// A recreated container gets a new ref, so the cached hash no longer applies
	_, err := c.Get(ctx, "acme", "container-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryApplyCache_Expires(t *testing.T) {
	c := NewMemoryApplyCache(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "acme", "container-1", "hash-a", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "acme", "container-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryApplyCache_Invalidate(t *testing.T) {
	c := NewMemoryApplyCache(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "acme", "container-1", "hash-a", time.Minute))
	require.NoError(t, c.Invalidate(ctx, "acme", "container-1"))

	_, err := c.Get(ctx, "acme", "container-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
