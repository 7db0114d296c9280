package registry

import (
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRegistryLazyClient(t *testing.T) {
	r := NewCacheRegistry()
	r.Register("default", &redis.Options{Addr: "localhost:6379"})

	// Clients are created lazily and reused; NewClient does not dial.
	first, ok := r.Client("default")
	require.True(t, ok)
	require.NotNil(t, first)

	second, ok := r.Client("default")
	require.True(t, ok)
	assert.Same(t, first, second)
}

func TestCacheRegistryUnknownAlias(t *testing.T) {
	r := NewCacheRegistry()
	client, ok := r.Client("nope")
	assert.False(t, ok)
	assert.Nil(t, client)
}

func TestCacheRegistryResetRebuilds(t *testing.T) {
	r := NewCacheRegistry()
	r.Register("default", &redis.Options{Addr: "localhost:6379"})

	first, _ := r.Client("default")
	r.Reset("default")

	second, ok := r.Client("default")
	require.True(t, ok)
	assert.NotSame(t, first, second)
}

func TestCacheRegistryRemove(t *testing.T) {
	r := NewCacheRegistry()
	r.Register("default", &redis.Options{Addr: "localhost:6379"})
	_, _ = r.Client("default")

	r.Remove("default")
	_, ok := r.Client("default")
	assert.False(t, ok)
}

func TestCacheRegistryRegisterOverwrites(t *testing.T) {
	r := NewCacheRegistry()
	r.Register("default", &redis.Options{Addr: "localhost:6379"})
	first, _ := r.Client("default")

	r.Register("default", &redis.Options{Addr: "other:6379"})
	second, ok := r.Client("default")
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, "other:6379", second.Options().Addr)
}
