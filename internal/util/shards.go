package util

import "runtime"

// MaxShards caps how many partitions a byte cache is split into. Past this
// the per-shard byte budget gets too small for typical static files.
const MaxShards = 256

// ReasonableShardCount is the shard count used for AutoShards:
// 2*GOMAXPROCS rounded up to a power of two, at most MaxShards.
func ReasonableShardCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p * 2)))
	if n > MaxShards {
		n = MaxShards
	}
	return n
}

// ShardIndex picks the shard for a path hash. Shard counts built by the cache
// are powers of two and take the mask path; other counts fall back to modulo.
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(shards)) {
		return int(hash & uint64(shards-1))
	}
	return int(hash % uint64(shards))
}
