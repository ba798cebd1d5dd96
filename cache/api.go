package cache

import "context"

// Cache is a byte-bounded, in-memory LRU cache of file payloads keyed by path.
// All methods are safe for concurrent use by multiple goroutines.
//
// Typical complexity for operations is amortized O(1):
// a map lookup plus constant-time arena relinking under a shard lock.
type Cache interface {
	// Get returns a copy of the payload for key and a presence flag.
	// On hit, the entry becomes the most recently used.
	Get(key string) ([]byte, bool)

	// Add inserts or replaces the payload for key and makes it the most
	// recently used. The cache keeps its own copy of data. Entries are
	// evicted from the LRU end while the byte size is at or above capacity.
	Add(key string, data []byte)

	// Remove deletes key if present and returns true on success.
	Remove(key string) bool

	// GetOrLoad returns the payload for key, running load on a miss.
	// Concurrent loads for the same key are coalesced (singleflight).
	// A load error is returned to every waiter and nothing is cached.
	GetOrLoad(ctx context.Context, key string, load LoadFunc) ([]byte, error)

	// Len returns the number of resident entries across all shards.
	Len() int

	// Size returns the total resident payload size in bytes.
	Size() int64

	// Capacity returns the byte budget (0 when caching is disabled).
	Capacity() int64

	// Stats returns a snapshot of hit/miss/eviction counters and sizes.
	Stats() Stats

	// Close marks the cache closed. Later Gets miss and Adds are ignored.
	// Current implementation is a soft close and returns nil.
	Close() error
}
