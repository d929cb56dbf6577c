package cache

import "batchrest/internal/transport"

// Cache defines the interface for caching backend responses
type Cache interface {
	// Get returns a copy of the cached response for key
	Get(key string) (*transport.Response, bool)

	// Set stores a copy of resp under key
	Set(key string, resp *transport.Response)

	// Purge drops every entry
	Purge()

	// Close releases any resources held by the cache
	Close()
}
