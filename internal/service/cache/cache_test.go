package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgcache "Heimdall/pkg/cache"
)

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache(0)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("k", "v", time.Second)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheBound(t *testing.T) {
	c := NewTTLCache(2)
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Hour)
	c.Set("c", 3, time.Hour)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "entry closest to expiry is evicted first")
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestTTLCacheBytes(t *testing.T) {
	c := NewTTLCache(0)
	require.NoError(t, c.SetBytes("k", []byte("payload"), 0))

	b, ok, err := c.GetBytes("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), b)

	c.Set("other", 42, 0)
	_, ok, err = c.GetBytes("other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServiceCache(t *testing.T) {
	mem := pkgcache.NewMemoryCache()
	defer mem.Close()
	c := NewServiceCache(mem, time.Second)

	_, ok, err := c.GetBytes("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetBytes("k", []byte(`{"a":1}`), time.Minute))
	b, ok, err := c.GetBytes("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(b))
}
