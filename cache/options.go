package cache

import (
	"context"
	"time"

	"github.com/IvanBrykalov/edgecache/internal/util"
)

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictCapacity: removed to bring the byte size back under capacity.
	EvictCapacity EvictReason = iota
	// EvictTTL: expired by TTL (lazy eviction on access).
	EvictTTL
)

// String returns a stable lowercase name, suitable for metric labels.
func (r EvictReason) String() string {
	switch r {
	case EvictTTL:
		return "ttl"
	default:
		return "capacity"
	}
}

// AutoShards asks New to pick a shard count from GOMAXPROCS.
const AutoShards = -1

// MaxShards is the largest shard count New will build; larger requests clamp.
const MaxShards = util.MaxShards

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, bytes int64)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// LoadFunc produces the payload for a key on a GetOrLoad miss.
type LoadFunc func(ctx context.Context) ([]byte, error)

// Options configures the cache. Zero values are safe:
//   - CapacityKiB == 0 => caching disabled
//   - Shards 0 or 1    => one shard (exact global LRU order)
//   - nil Metrics      => NoopMetrics
type Options struct {
	// CapacityKiB is the payload budget in kibibytes (bytes = CapacityKiB*1024).
	// Zero permanently disables the instance.
	CapacityKiB int

	// Shards splits the cache into independently locked partitions.
	// Values above 1 are rounded up to a power of two and the byte budget is
	// split evenly, so recency becomes per-shard rather than global.
	// AutoShards picks ≈ 2*GOMAXPROCS. Counts above MaxShards clamp to it.
	Shards int

	// TTL bounds how long an entry may be served (0 = no expiry).
	// Expiration is lazy: it is checked on Get.
	TTL time.Duration

	// OnEvict is called under the shard lock; keep callbacks lightweight.
	OnEvict func(key string, size int, reason EvictReason)
	Metrics Metrics

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}

// capacityBytes converts the configured KiB budget to bytes.
func (o Options) capacityBytes() int64 {
	if o.CapacityKiB <= 0 {
		return 0
	}
	return int64(o.CapacityKiB) * 1024
}
