// Package cache provides the in-memory file cache of the edge server: a
// byte-bounded LRU keyed by resolved file path, shared by every connection
// handler of one listener.
//
// Design
//
//   - Storage: each shard keeps a map[string]index for lookups and an
//     arena-backed MRU↔LRU doubly linked list bounded by two sentinels.
//     Links are slot indices, so the key index never owns a node and a stale
//     handle simply fails to resolve (it is treated as a miss).
//
//   - Capacity: the budget is given in KiB and accounted in payload bytes.
//     Inserting a new key, or growing an existing one, evicts from the LRU end
//     while the byte size is at or above capacity. An update accounts only the
//     difference between the old and the new payload length.
//
//   - Disabled mode: CapacityKiB == 0 yields a cache that never stores
//     anything; Get always misses and Add is a no-op.
//
//   - Concurrency: one RWMutex per shard guards index, list and size
//     together. The default is a single shard, which keeps recency global.
//     Options.Shards > 1 (or AutoShards) splits keys and capacity across
//     shards to reduce contention.
//
//   - Payloads: Add stores a private copy and Get returns a private copy.
//     Stored slices are never mutated, only replaced.
//
//   - GetOrLoad: coalesces concurrent loads for the same key using
//     singleflight; failed loads are not cached.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals.
//     By default NoopMetrics is used; plug the Prometheus adapter from
//     metrics/prom to export them.
//
// Basic usage
//
//	c := cache.New(cache.Options{CapacityKiB: 10 * 1024}) // 10 MiB
//	c.Add("/srv/www/index.html", body)
//	if b, ok := c.Get("/srv/www/index.html"); ok {
//	    _ = b // serve
//	}
//
// With GetOrLoad
//
//	b, err := c.GetOrLoad(ctx, path, func(ctx context.Context) ([]byte, error) {
//	    return os.ReadFile(path)
//	})
//
// Thread-safety & complexity
//
// All methods on Cache are safe for concurrent use. Get and Add cost one map
// access plus a constant number of index rewrites; each eviction is O(1).
package cache
