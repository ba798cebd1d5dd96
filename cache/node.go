package cache

import "math"

// index addresses a node slot in a shard's arena.
// Slots are stable for the lifetime of a node; a freed slot is reused
// by the next allocation.
type index uint32

const (
	headIdx index = 0              // sentinel before the MRU node
	tailIdx index = 1              // sentinel after the LRU node
	nilIdx  index = math.MaxUint32 // "no link"
)

// node is an arena slot of the recency list.
// It owns the cached payload; prev/next are plain indices, so there are
// no owning or weak pointers between nodes.
type node struct {
	key  string
	data []byte // never mutated after store; replaced wholesale on update

	// Links: prev points towards head (MRU side), next towards tail (LRU side).
	prev index
	next index

	// Absolute expiration deadline in UnixNano. Zero means "no TTL".
	exp int64

	// live is false for sentinels and for slots sitting on the free list.
	live bool
}

// size is the number of payload bytes accounted for this node.
func (n *node) size() int64 { return int64(len(n.data)) }
