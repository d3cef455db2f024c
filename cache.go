package jembatan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is used when neither the cache nor the entry sets a TTL.
const DefaultCacheTTL = 5 * time.Minute

// CacheEntry is one memoized payload. An entry is fresh while
// now - StoredAt <= TTL.
type CacheEntry[T any] struct {
	Payload           T
	StoredAt          time.Time
	TTL               time.Duration
	RevalidationToken string
	// MustRevalidate entries are kept only to answer a 304; they are never
	// served without asking the origin first.
	MustRevalidate bool
}

func (e *CacheEntry[T]) expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// Cache is an in-process TTL cache keyed by (method, URL, params). It never
// returns an expired entry: expired entries are evicted when read or when
// Cleanup runs. There is no size bound. Safe for concurrent use.
type Cache[T any] struct {
	mu         sync.RWMutex
	entries    map[string]*CacheEntry[T]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewCache creates a cache whose entries default to ttl.
func NewCache[T any](ttl time.Duration) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache[T]{
		entries:    make(map[string]*CacheEntry[T]),
		defaultTTL: ttl,
		now:        time.Now,
	}
}

// CacheSetOption customizes a single Set call.
type CacheSetOption func(*cacheSetOptions)

type cacheSetOptions struct {
	ttl        time.Duration
	token      string
	revalidate bool
}

// WithEntryTTL overrides the cache-wide TTL for one entry.
func WithEntryTTL(ttl time.Duration) CacheSetOption {
	return func(o *cacheSetOptions) {
		o.ttl = ttl
	}
}

// WithRevalidationToken stores an opaque token (typically an ETag) next to the payload.
func WithRevalidationToken(token string) CacheSetOption {
	return func(o *cacheSetOptions) {
		o.token = token
	}
}

// WithMustRevalidate marks the entry as usable only after a conditional request.
func WithMustRevalidate() CacheSetOption {
	return func(o *cacheSetOptions) {
		o.revalidate = true
	}
}

// Set stores or overwrites the entry for (url, method, params).
func (c *Cache[T]) Set(url, method string, payload T, params any, opts ...CacheSetOption) {
	o := cacheSetOptions{ttl: c.defaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = c.defaultTTL
	}

	key := CacheKey(method, url, params)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &CacheEntry[T]{
		Payload:           payload,
		StoredAt:          c.now(),
		TTL:               o.ttl,
		RevalidationToken: o.token,
		MustRevalidate:    o.revalidate,
	}
}

// Get returns the fresh payload for (url, method, params).
func (c *Cache[T]) Get(url, method string, params any) (T, bool) {
	entry, ok := c.lookup(CacheKey(method, url, params))
	if !ok {
		var zero T
		return zero, false
	}
	return entry.Payload, true
}

// Entry returns a copy of the fresh entry, including its metadata.
func (c *Cache[T]) Entry(url, method string, params any) (CacheEntry[T], bool) {
	entry, ok := c.lookup(CacheKey(method, url, params))
	if !ok {
		return CacheEntry[T]{}, false
	}
	return *entry, true
}

// RevalidationToken returns the token stored with a fresh entry.
func (c *Cache[T]) RevalidationToken(url, method string, params any) (string, bool) {
	entry, ok := c.lookup(CacheKey(method, url, params))
	if !ok || entry.RevalidationToken == "" {
		return "", false
	}
	return entry.RevalidationToken, true
}

func (c *Cache[T]) lookup(key string) (*CacheEntry[T], bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := c.now()
	if !entry.expired(now) {
		return entry, true
	}

	c.mu.Lock()
	// A concurrent Set may have replaced the entry since the read lock was released.
	if current, ok := c.entries[key]; ok && current.expired(now) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return nil, false
}

// Invalidate deletes one entry.
func (c *Cache[T]) Invalidate(url, method string, params any) {
	key := CacheKey(method, url, params)
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear deletes all entries.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*CacheEntry[T])
	c.mu.Unlock()
}

// Cleanup evicts every expired entry and returns how many were removed.
func (c *Cache[T]) Cleanup() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of stored entries, including expired ones not yet evicted.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheKey builds METHOD:URL:params where params is canonical JSON. Map keys
// are emitted in sorted order at every depth, so parameter sets that differ
// only in insertion order share a key.
func CacheKey(method, url string, params any) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(':')
	b.WriteString(url)
	b.WriteByte(':')
	b.WriteString(canonicalParams(params))
	return b.String()
}

func canonicalParams(params any) string {
	if params == nil {
		return ""
	}
	if m, ok := params.(map[string]any); ok && len(m) == 0 {
		return ""
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprint(params)
	}
	// Round-trip through a generic value so struct field order and nested
	// maps are normalized the same way as top-level maps. Numbers stay
	// json.Number so integers beyond 2^53 keep every digit.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return string(raw)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return string(raw)
	}
	return string(canonical)
}
