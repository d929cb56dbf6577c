package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchrest/internal/transport"
)

func TestMemoryCache_SetGet(t *testing.T) {
	mc, err := NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	defer mc.Close()

	mc.Set("k", &transport.Response{StatusCode: 200, Body: []byte(`{"a":1}`)})

	got, ok := mc.Get("k")
	require.True(t, ok)
	assert.Equal(t, 200, got.StatusCode)
	assert.Equal(t, `{"a":1}`, string(got.Body))

	// callers get copies
	got.Body[0] = 'x'
	again, _ := mc.Get("k")
	assert.Equal(t, `{"a":1}`, string(again.Body))

	_, ok = mc.Get("missing")
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	mc, err := NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	defer mc.Close()

	now := time.Unix(1000, 0)
	mc.now = func() time.Time { return now }

	mc.Set("k", &transport.Response{StatusCode: 200})
	now = now.Add(2 * time.Minute)

	_, ok := mc.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCache_RemoveExpired(t *testing.T) {
	mc, err := NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	defer mc.Close()

	now := time.Unix(1000, 0)
	mc.now = func() time.Time { return now }
	mc.Set("old", &transport.Response{StatusCode: 200})
	now = now.Add(30 * time.Second)
	mc.Set("new", &transport.Response{StatusCode: 200})
	now = now.Add(45 * time.Second)

	mc.removeExpired()
	assert.Equal(t, 1, mc.Len())
	_, ok := mc.Get("new")
	assert.True(t, ok)
}

func TestMemoryCache_EvictsAndPurges(t *testing.T) {
	mc, err := NewMemoryCache(2, time.Minute)
	require.NoError(t, err)
	defer mc.Close()

	mc.Set("a", &transport.Response{StatusCode: 200})
	mc.Set("b", &transport.Response{StatusCode: 200})
	mc.Set("c", &transport.Response{StatusCode: 200})
	_, ok := mc.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, mc.Len())

	mc.Purge()
	assert.Equal(t, 0, mc.Len())
	mc.Close()
	mc.Close()
}

func TestNoopCache(t *testing.T) {
	var c Cache = NewNoopCache()
	c.Set("k", &transport.Response{StatusCode: 200})
	_, ok := c.Get("k")
	assert.False(t, ok)
	c.Purge()
	c.Close()
}

func TestMethodRules(t *testing.T) {
	assert.True(t, IsCacheable("get"))
	assert.True(t, IsCacheable(""))
	assert.False(t, IsCacheable("POST"))
	assert.True(t, IsMutation("delete"))
	assert.True(t, IsMutation("PATCH"))
	assert.False(t, IsMutation("GET"))
}
