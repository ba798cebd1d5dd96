package cache

// recencyList is a doubly linked list of arena slots bounded by two fixed
// sentinels: head (slot 0) and tail (slot 1). Order is MRU at head.next and
// LRU at tail.prev, so both the promotion target and the eviction candidate
// are reachable in O(1).
//
// The list is the sole owner of its nodes. Anything else (the key index)
// only holds indices and must resolve them through at().
//
// Not safe for concurrent use; the owning shard serializes access.
type recencyList struct {
	nodes []node
	free  []index
	len   int
}

func newRecencyList(hint int) recencyList {
	if hint < 0 {
		hint = 0
	}
	l := recencyList{nodes: make([]node, 2, 2+hint)}
	l.nodes[headIdx] = node{prev: nilIdx, next: tailIdx}
	l.nodes[tailIdx] = node{prev: headIdx, next: nilIdx}
	return l
}

// alloc stores a new detached node and returns its slot.
func (l *recencyList) alloc(key string, data []byte, exp int64) index {
	n := node{key: key, data: data, exp: exp, prev: nilIdx, next: nilIdx, live: true}
	if k := len(l.free); k > 0 {
		i := l.free[k-1]
		l.free = l.free[:k-1]
		l.nodes[i] = n
		return i
	}
	l.nodes = append(l.nodes, n)
	return index(len(l.nodes) - 1)
}

// release clears a detached slot and returns it to the free list.
func (l *recencyList) release(i index) {
	l.nodes[i] = node{prev: nilIdx, next: nilIdx}
	l.free = append(l.free, i)
}

// at resolves i to a live node, or nil for sentinels, freed slots and
// out-of-range indices.
func (l *recencyList) at(i index) *node {
	if i == nilIdx || int(i) >= len(l.nodes) {
		return nil
	}
	n := &l.nodes[i]
	if !n.live {
		return nil
	}
	return n
}

// pushFront links a detached node right after head (MRU) in O(1).
func (l *recencyList) pushFront(i index) {
	n := &l.nodes[i]
	first := l.nodes[headIdx].next
	n.prev = headIdx
	n.next = first
	l.nodes[first].prev = i
	l.nodes[headIdx].next = i
	l.len++
}

// detach splices a linked node out of the list in O(1).
func (l *recencyList) detach(i index) {
	n := &l.nodes[i]
	l.nodes[n.prev].next = n.next
	l.nodes[n.next].prev = n.prev
	n.prev, n.next = nilIdx, nilIdx
	l.len--
}

// promote moves a linked node to MRU. A node that is already MRU is left alone.
func (l *recencyList) promote(i index) {
	if l.nodes[headIdx].next == i {
		return
	}
	l.detach(i)
	l.pushFront(i)
}

// front returns the MRU slot or nilIdx when empty.
func (l *recencyList) front() index {
	if f := l.nodes[headIdx].next; f != tailIdx {
		return f
	}
	return nilIdx
}

// back returns the LRU slot (the eviction candidate) or nilIdx when empty.
func (l *recencyList) back() index {
	if b := l.nodes[tailIdx].prev; b != headIdx {
		return b
	}
	return nilIdx
}

// each walks linked nodes from MRU to LRU until fn returns false.
func (l *recencyList) each(fn func(i index, n *node) bool) {
	for i := l.nodes[headIdx].next; i != tailIdx; i = l.nodes[i].next {
		if !fn(i, &l.nodes[i]) {
			return
		}
	}
}
