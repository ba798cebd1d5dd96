package cache

import (
	"sync"
	"time"

	"github.com/IvanBrykalov/edgecache/internal/util"
)

// shard is an independent partition of the cache with its own lock, key
// index and arena-backed recency list (head=MRU, tail=LRU).
type shard struct {
	// ---- guarded by mu ----
	mu    sync.RWMutex
	index map[string]index // key -> arena slot; never owns the node
	list  recencyList
	size  int64 // Σ len(data) over linked nodes
	cap   int64 // per-shard byte capacity

	opt    Options
	totals *totals

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicInt64
}

// totals aggregates entry count and bytes across shards for the Size metric.
type totals struct {
	entries util.PaddedAtomicInt64
	bytes   util.PaddedAtomicInt64
}

func newShard(capacity int64, opt Options, t *totals) *shard {
	return &shard{
		index:  make(map[string]index),
		list:   newRecencyList(0),
		cap:    capacity,
		opt:    opt,
		totals: t,
	}
}

// Get returns the payload slice and promotes the entry to MRU.
// TTL: if expired, the entry is evicted and a miss is returned.
// The returned slice is shared with the arena and must not be modified.
func (s *shard) Get(k string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, n := s.lookupLocked(k)
	if n == nil {
		s.missLocked()
		return nil, false
	}
	if s.expiredLocked(n) {
		s.evictLocked(i, EvictTTL)
		s.reportSizeLocked()
		s.missLocked()
		return nil, false
	}

	s.list.promote(i)
	s.hits.Add(1)
	s.opt.Metrics.Hit()
	return n.data, true
}

// Peek returns the payload without promoting it or touching counters.
// Expired entries are reported as absent but left for Get to evict.
func (s *shard) Peek(k string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[k]
	if !ok {
		return nil, false
	}
	n := s.list.at(i)
	if n == nil || n.key != k || s.expiredLocked(n) {
		return nil, false
	}
	return n.data, true
}

// Add inserts or replaces an entry, promotes it and trims to capacity.
// data is stored as-is; the caller hands over ownership.
func (s *shard) Add(k string, data []byte, exp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, n := s.lookupLocked(k); n != nil {
		// In-place update: account only the size difference.
		delta := int64(len(data)) - n.size()
		n.data = data
		n.exp = exp
		s.size += delta
		s.totals.bytes.Add(delta)
		s.list.promote(i)
		if delta > 0 {
			s.purgeLocked()
		}
		s.reportSizeLocked()
		return
	}

	// New entry path.
	i := s.list.alloc(k, data, exp)
	s.index[k] = i
	s.list.pushFront(i)
	s.size += int64(len(data))
	s.totals.entries.Add(1)
	s.totals.bytes.Add(int64(len(data)))

	s.purgeLocked()
	s.reportSizeLocked()
}

// Remove deletes an entry by key. Returns true if the entry existed.
func (s *shard) Remove(k string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, n := s.lookupLocked(k)
	if n == nil {
		return false
	}
	s.unlinkLocked(i)
	// Note: explicit Remove is not counted as an eviction in metrics.
	s.reportSizeLocked()
	return true
}

// Len returns the number of resident entries in this shard.
func (s *shard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.len
}

// Size returns the resident payload bytes in this shard.
func (s *shard) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// -------------------- internals (mu held) --------------------

// lookupLocked resolves k through the index. A handle that no longer points
// at a live node with the same key is dropped and reported as absent.
func (s *shard) lookupLocked(k string) (index, *node) {
	i, ok := s.index[k]
	if !ok {
		return nilIdx, nil
	}
	n := s.list.at(i)
	if n == nil || n.key != k {
		delete(s.index, k)
		return nilIdx, nil
	}
	return i, n
}

func (s *shard) missLocked() {
	s.misses.Add(1)
	s.opt.Metrics.Miss()
}

func (s *shard) expiredLocked(n *node) bool {
	if n.exp == 0 {
		return false
	}
	return s.now() > n.exp
}

func (s *shard) now() int64 {
	if s.opt.Clock != nil {
		return s.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// unlinkLocked detaches the node, drops its key and frees the slot.
// It returns the key and payload length of the removed node.
func (s *shard) unlinkLocked(i index) (string, int) {
	n := &s.list.nodes[i]
	k, sz := n.key, len(n.data)

	s.list.detach(i)
	delete(s.index, k)
	s.size -= int64(sz)
	s.list.release(i)

	s.totals.entries.Add(-1)
	s.totals.bytes.Add(-int64(sz))
	return k, sz
}

// evictLocked removes the node, updates counters and calls OnEvict.
func (s *shard) evictLocked(i index, reason EvictReason) {
	k, sz := s.unlinkLocked(i)
	s.evicts.Add(1)
	s.opt.Metrics.Evict(reason)
	if cb := s.opt.OnEvict; cb != nil {
		cb(k, sz, reason)
	}
}

// purgeLocked evicts LRU entries while the shard is at or above capacity.
// Every iteration removes one node, so zero-length entries cannot stall it.
func (s *shard) purgeLocked() {
	for s.size >= s.cap {
		lru := s.list.back()
		if lru == nilIdx {
			break
		}
		s.evictLocked(lru, EvictCapacity)
	}
}

func (s *shard) reportSizeLocked() {
	s.opt.Metrics.Size(int(s.totals.entries.Load()), s.totals.bytes.Load())
}
