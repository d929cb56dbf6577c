package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"batchrest/internal/transport"
)

// cacheEntry represents a cached item with expiration
type cacheEntry struct {
	resp      *transport.Response
	expiresAt time.Time
}

// MemoryCache is an in-memory LRU cache with TTL support
type MemoryCache struct {
	cache *lru.Cache[string, *cacheEntry]
	ttl   time.Duration
	now   func() time.Time
	done  chan struct{}
	once  sync.Once
	mu    sync.RWMutex
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(size int, ttl time.Duration) (*MemoryCache, error) {
	cache, err := lru.New[string, *cacheEntry](size)
	if err != nil {
		return nil, err
	}

	mc := &MemoryCache{
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
		done:  make(chan struct{}),
	}

	go mc.cleanupLoop()

	return mc, nil
}

// Get retrieves a response from the cache
func (mc *MemoryCache) Get(key string) (*transport.Response, bool) {
	mc.mu.RLock()
	entry, ok := mc.cache.Get(key)
	mc.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if mc.now().After(entry.expiresAt) {
		mc.mu.Lock()
		mc.cache.Remove(key)
		mc.mu.Unlock()
		return nil, false
	}

	return entry.resp.Clone(), true
}

// Set stores a response in the cache
func (mc *MemoryCache) Set(key string, resp *transport.Response) {
	entry := &cacheEntry{
		resp:      resp.Clone(),
		expiresAt: mc.now().Add(mc.ttl),
	}

	mc.mu.Lock()
	mc.cache.Add(key, entry)
	mc.mu.Unlock()
}

// Purge removes every entry
func (mc *MemoryCache) Purge() {
	mc.mu.Lock()
	mc.cache.Purge()
	mc.mu.Unlock()
}

// Len returns the number of entries, expired ones included
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.cache.Len()
}

// Close stops the cleanup goroutine
func (mc *MemoryCache) Close() {
	mc.once.Do(func() { close(mc.done) })
}

// cleanupLoop periodically removes expired entries
func (mc *MemoryCache) cleanupLoop() {
	interval := mc.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-mc.done:
			return
		case <-ticker.C:
			mc.removeExpired()
		}
	}
}

// removeExpired removes all expired entries from the cache
func (mc *MemoryCache) removeExpired() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	for _, key := range mc.cache.Keys() {
		entry, ok := mc.cache.Peek(key)
		if ok && now.After(entry.expiresAt) {
			mc.cache.Remove(key)
		}
	}
}

// NoopCache is a cache that does nothing (used when caching is disabled)
type NoopCache struct{}

// NewNoopCache creates a new no-op cache
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

// Get always returns not found
func (nc *NoopCache) Get(key string) (*transport.Response, bool) {
	return nil, false
}

// Set does nothing
func (nc *NoopCache) Set(key string, resp *transport.Response) {}

// Purge does nothing
func (nc *NoopCache) Purge() {}

// Close does nothing
func (nc *NoopCache) Close() {}
