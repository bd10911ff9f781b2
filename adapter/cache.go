package webull

import (
	"net/url"
	"sync"
	"time"
)

// CacheKey identifies one cached response. Auth headers are not part of the key.
type CacheKey struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// NewCacheKey builds a key from the request parts. query is encoded in sorted
// key order so equal parameter sets map to the same key.
func NewCacheKey(method, path string, query url.Values, body []byte) CacheKey {
	return CacheKey{
		Method: method,
		Path:   path,
		Query:  query.Encode(),
		Body:   string(body),
	}
}

type cacheEntry[V any] struct {
	value     V
	createdAt time.Time
	ttl       time.Duration
}

func (e cacheEntry[V]) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// ResponseCache is a TTL cache with a capacity bound. Expiry is checked lazily
// on lookup. When full, expired entries are purged first and then the oldest
// entries by creation time are evicted.
type ResponseCache[V any] struct {
	mu         sync.Mutex
	entries    map[CacheKey]cacheEntry[V]
	defaultTTL time.Duration
	maxEntries int
	now        func() time.Time
}

// NewResponseCache creates a cache. maxEntries <= 0 means unbounded.
func NewResponseCache[V any](defaultTTL time.Duration, maxEntries int) *ResponseCache[V] {
	return &ResponseCache[V]{
		entries:    make(map[CacheKey]cacheEntry[V]),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached value for key. An expired hit is removed and reported
// as a miss.
func (c *ResponseCache[V]) Get(key CacheKey) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if entry.expired(c.now()) {
		delete(c.entries, key)
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key with the default TTL.
func (c *ResponseCache[V]) Set(key CacheKey, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with the given TTL.
func (c *ResponseCache[V]) SetWithTTL(key CacheKey, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.purgeExpired(now)
		for len(c.entries) >= c.maxEntries {
			c.evictOldest()
		}
	}

	c.entries[key] = cacheEntry[V]{value: value, createdAt: now, ttl: ttl}
}

// Remove deletes key.
func (c *ResponseCache[V]) Remove(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// RemoveFunc deletes every entry whose key matches and returns how many were removed.
func (c *ResponseCache[V]) RemoveFunc(match func(CacheKey) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if match(key) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops every entry.
func (c *ResponseCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[CacheKey]cacheEntry[V])
}

// Cleanup drops every expired entry and returns how many were removed.
func (c *ResponseCache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.purgeExpired(c.now())
}

// Len returns the number of stored entries, expired or not.
func (c *ResponseCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *ResponseCache[V]) purgeExpired(now time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *ResponseCache[V]) evictOldest() {
	var (
		oldestKey CacheKey
		oldest    time.Time
		found     bool
	)
	for key, entry := range c.entries {
		if !found || entry.createdAt.Before(oldest) {
			oldestKey, oldest, found = key, entry.createdAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
