package jembatan

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache[T any](ttl time.Duration, clock *fakeClock) *Cache[T] {
	c := NewCache[T](ttl)
	c.now = clock.Now
	return c
}

func TestCacheSetGet(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache[map[string]int](100*time.Millisecond, clock)

	cache.Set("/users", "GET", map[string]int{"id": 1}, nil)

	got, ok := cache.Get("/users", "GET", nil)
	require.True(t, ok)
	assert.Equal(t, map[string]int{"id": 1}, got)

	clock.Advance(150 * time.Millisecond)
	_, ok = cache.Get("/users", "GET", nil)
	assert.False(t, ok, "entry should expire after its TTL")
	assert.Equal(t, 0, cache.Len(), "expired entry should be evicted on read")
}

func TestCacheExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache[string](time.Second, clock)
	cache.Set("/a", "GET", "payload", nil)

	clock.Advance(time.Second)
	_, ok := cache.Get("/a", "GET", nil)
	assert.True(t, ok, "entry aged exactly TTL is still fresh")

	clock.Advance(time.Nanosecond)
	_, ok = cache.Get("/a", "GET", nil)
	assert.False(t, ok)
}

func TestCacheEntryTTLOverride(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache[string](time.Minute, clock)

	cache.Set("/short", "GET", "x", nil, WithEntryTTL(time.Second))
	cache.Set("/default", "GET", "y", nil)

	clock.Advance(2 * time.Second)
	_, ok := cache.Get("/short", "GET", nil)
	assert.False(t, ok)
	_, ok = cache.Get("/default", "GET", nil)
	assert.True(t, ok)

	entry, ok := cache.Entry("/default", "GET", nil)
	require.True(t, ok)
	assert.Equal(t, time.Minute, entry.TTL)
}

func TestCacheParamsDoNotCollide(t *testing.T) {
	cache := NewCache[string](time.Minute)

	cache.Set("/users", "GET", "page1", map[string]any{"page": 1})
	cache.Set("/users", "GET", "page1-sorted", map[string]any{"page": 1, "sort": "name"})

	got, ok := cache.Get("/users", "GET", map[string]any{"page": 1})
	require.True(t, ok)
	assert.Equal(t, "page1", got)

	got, ok = cache.Get("/users", "GET", map[string]any{"sort": "name", "page": 1})
	require.True(t, ok)
	assert.Equal(t, "page1-sorted", got)

	_, ok = cache.Get("/users", "GET", nil)
	assert.False(t, ok)
	_, ok = cache.Get("/users", "POST", map[string]any{"page": 1})
	assert.False(t, ok, "method is part of the key")

	// Integers past 2^53 must not be rounded into each other.
	cache.Set("/users", "GET", "user-993", map[string]any{"id": int64(9007199254740993)})
	_, ok = cache.Get("/users", "GET", map[string]any{"id": int64(9007199254740992)})
	assert.False(t, ok, "large integer ids are distinct keys")
	got, ok = cache.Get("/users", "GET", map[string]any{"id": int64(9007199254740993)})
	require.True(t, ok)
	assert.Equal(t, "user-993", got)
	assert.Equal(t, `GET:/users:{"id":9007199254740993}`,
		CacheKey("GET", "/users", map[string]any{"id": int64(9007199254740993)}))
}

func TestCacheKeyCanonical(t *testing.T) {
	type filter struct {
		Z string `json:"z"`
		A string `json:"a"`
	}

	a := CacheKey("get", "/x", map[string]any{"b": 2, "a": map[string]any{"y": 1, "x": 2}})
	b := CacheKey("GET", "/x", map[string]any{"a": map[string]any{"x": 2, "y": 1}, "b": 2})
	assert.Equal(t, a, b)
	assert.Equal(t, `GET:/x:{"a":{"x":2,"y":1},"b":2}`, a)

	assert.Equal(t, CacheKey("GET", "/x", filter{Z: "1", A: "2"}), CacheKey("GET", "/x", map[string]any{"a": "2", "z": "1"}))
	assert.Equal(t, "GET:/x:", CacheKey("GET", "/x", nil))
	assert.Equal(t, "GET:/x:", CacheKey("GET", "/x", map[string]any{}))

	var nilQuery map[string]any
	assert.Equal(t, "GET:/x:", CacheKey("GET", "/x", nilQuery))
}

func TestCacheRevalidationToken(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache[string](time.Second, clock)

	cache.Set("/etag", "GET", "body", nil, WithRevalidationToken(`"abc"`))
	cache.Set("/plain", "GET", "body", nil)

	token, ok := cache.RevalidationToken("/etag", "GET", nil)
	require.True(t, ok)
	assert.Equal(t, `"abc"`, token)

	_, ok = cache.RevalidationToken("/plain", "GET", nil)
	assert.False(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = cache.RevalidationToken("/etag", "GET", nil)
	assert.False(t, ok, "token follows the same freshness rule as the payload")
}

func TestCacheMustRevalidate(t *testing.T) {
	cache := NewCache[string](time.Minute)
	cache.Set("/strict", "GET", "body", nil, WithRevalidationToken(`"s"`), WithMustRevalidate())
	cache.Set("/loose", "GET", "body", nil)

	entry, ok := cache.Entry("/strict", "GET", nil)
	require.True(t, ok)
	assert.True(t, entry.MustRevalidate)

	entry, ok = cache.Entry("/loose", "GET", nil)
	require.True(t, ok)
	assert.False(t, entry.MustRevalidate)
}

func TestCacheInvalidateAndClear(t *testing.T) {
	cache := NewCache[int](time.Minute)
	cache.Set("/a", "GET", 1, nil)
	cache.Set("/b", "GET", 2, nil)

	cache.Invalidate("/a", "GET", nil)
	_, ok := cache.Get("/a", "GET", nil)
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Len())

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestCacheCleanup(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache[int](time.Minute, clock)

	cache.Set("/old1", "GET", 1, nil, WithEntryTTL(time.Second))
	cache.Set("/old2", "GET", 2, nil, WithEntryTTL(time.Second))
	cache.Set("/fresh", "GET", 3, nil)

	clock.Advance(5 * time.Second)
	assert.Equal(t, 2, cache.Cleanup())
	assert.Equal(t, 1, cache.Len())

	got, ok := cache.Get("/fresh", "GET", nil)
	require.True(t, ok)
	assert.Equal(t, 3, got)

	assert.Equal(t, 0, cache.Cleanup())
}

func TestCacheOverwriteResetsStoredAt(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache[string](time.Second, clock)

	cache.Set("/a", "GET", "v1", nil)
	clock.Advance(800 * time.Millisecond)
	cache.Set("/a", "GET", "v2", nil)
	clock.Advance(800 * time.Millisecond)

	got, ok := cache.Get("/a", "GET", nil)
	require.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestCacheConcurrentAccess(t *testing.T) {
	cache := NewCache[int](time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := fmt.Sprintf("/item/%d", i%5)
			for j := 0; j < 100; j++ {
				cache.Set(url, "GET", j, map[string]any{"j": j % 3})
				cache.Get(url, "GET", map[string]any{"j": j % 3})
				cache.Cleanup()
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 15)
}

func TestNewCacheDefaultTTL(t *testing.T) {
	cache := NewCache[int](0)
	assert.Equal(t, DefaultCacheTTL, cache.defaultTTL)
}

func BenchmarkCacheKey(b *testing.B) {
	params := map[string]any{"page": 1, "sort": "name", "filter": map[string]any{"active": true}}
	for i := 0; i < b.N; i++ {
		CacheKey("GET", "https://api.example.com/users", params)
	}
}
