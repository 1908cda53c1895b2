package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetSet(t *testing.T) {
	c, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	_, found, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "k", []byte("v1"), time.Hour))
	v, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v1", string(v))

	require.NoError(t, c.Set(ctx, "k", []byte("v2"), time.Hour))
	v, _, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(v))
}

func TestCacheEntryExpires(t *testing.T) {
	c, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Second))
	time.Sleep(1500 * time.Millisecond)
	_, found, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
