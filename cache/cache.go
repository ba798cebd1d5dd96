package cache

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/edgecache/internal/singleflight"
	"github.com/IvanBrykalov/edgecache/internal/util"
)

// cache is a sharded, byte-bounded in-memory LRU.
// All methods are safe for concurrent use by multiple goroutines.
type cache struct {
	shards   []*shard // nil when caching is disabled
	capacity int64
	closed   atomic.Bool

	opt    Options
	totals totals

	// singleflight group for coalescing concurrent loads in GetOrLoad.
	sf singleflight.Group[string, []byte]
}

// New constructs a cache with the provided Options.
// Defaults:
//   - CapacityKiB <= 0 -> disabled (every Get misses, Add is a no-op)
//   - nil Metrics      -> NoopMetrics
//   - Shards <= 1      -> single shard; AutoShards -> ≈ 2*GOMAXPROCS
func New(opt Options) Cache {
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	c := &cache{capacity: opt.capacityBytes(), opt: opt}
	if c.capacity == 0 {
		return c
	}

	// number of shards -> power of two
	sh := opt.Shards
	switch {
	case sh == AutoShards:
		sh = util.ReasonableShardCount()
	case sh <= 1:
		sh = 1
	case sh >= MaxShards:
		sh = MaxShards
	default:
		sh = int(util.NextPow2(uint64(sh)))
	}

	perShardCap := (c.capacity + int64(sh) - 1) / int64(sh) // split capacity evenly (ceil)
	c.shards = make([]*shard, sh)
	for i := range c.shards {
		c.shards[i] = newShard(perShardCap, opt, &c.totals)
	}
	return c
}

// ---- Cache implementation ----

// Get returns a copy of the payload for key and a presence flag.
func (c *cache) Get(key string) ([]byte, bool) {
	if !c.enabled() {
		return nil, false
	}
	data, ok := c.getShard(key).Get(key)
	if !ok {
		return nil, false
	}
	// Stored payloads are never mutated, so the copy can happen unlocked.
	return bytes.Clone(data), true
}

// Add inserts or replaces key with a private copy of data.
func (c *cache) Add(key string, data []byte) {
	if !c.enabled() {
		return
	}
	c.getShard(key).Add(key, bytes.Clone(data), c.deadline())
}

// Remove deletes key if present and returns true on success.
func (c *cache) Remove(key string) bool {
	if !c.enabled() {
		return false
	}
	return c.getShard(key).Remove(key)
}

// GetOrLoad returns the payload for key; on miss it runs load, coalescing
// concurrent loads for the same key (singleflight). With caching disabled
// load runs on every call.
func (c *cache) GetOrLoad(ctx context.Context, key string, load LoadFunc) ([]byte, error) {
	if !c.enabled() {
		return load(ctx)
	}
	// fast path
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	// singleflight: exactly one real load for the key
	v, err := c.sf.Do(ctx, key, func() ([]byte, error) {
		// double-check after flight join
		if v, ok := c.getShard(key).Peek(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err == nil {
			c.Add(key, v)
		}
		return v, err
	})
	if err != nil {
		return nil, err
	}
	// Every waiter receives the same slice; hand out private copies.
	return bytes.Clone(v), nil
}

// Len returns the total number of resident entries across all shards.
func (c *cache) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

// Size returns the total resident payload bytes across all shards.
func (c *cache) Size() int64 {
	var total int64
	for _, s := range c.shards {
		total += s.Size()
	}
	return total
}

// Capacity returns the byte budget.
func (c *cache) Capacity() int64 { return c.capacity }

// Stats sums per-shard counters into a snapshot.
func (c *cache) Stats() Stats {
	st := Stats{Capacity: c.capacity}
	for _, s := range c.shards {
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
		st.Evictions += s.evicts.Load()
		s.mu.RLock()
		st.Entries += s.list.len
		st.Bytes += s.size
		s.mu.RUnlock()
	}
	return st
}

// Close marks the cache as closed. Future operations are ignored.
func (c *cache) Close() error {
	c.closed.Store(true)
	return nil
}

// ---- helpers ----

func (c *cache) enabled() bool {
	return c.shards != nil && !c.closed.Load()
}

// getShard picks a shard by hashing the key.
// len(c.shards) is guaranteed to be a power of two.
func (c *cache) getShard(k string) *shard {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	return c.shards[util.ShardIndex(util.Fnv64a(k), len(c.shards))]
}

// deadline converts Options.TTL into an absolute UnixNano deadline.
// A non-positive TTL returns 0 (no expiration).
func (c *cache) deadline() int64 {
	if c.opt.TTL <= 0 {
		return 0
	}
	now := time.Now().UnixNano()
	if c.opt.Clock != nil {
		now = c.opt.Clock.NowUnixNano()
	}
	return now + int64(c.opt.TTL)
}
