package cache

import (
	"fmt"
	"testing"
)

// checkInvariants walks every shard and verifies:
//   - size == Σ len(data) over nodes reachable from head
//   - index keys == reachable keys, with no duplicates
//   - prev/next links are mutually consistent and list.len matches
//   - a non-empty shard stays below its byte capacity
func checkInvariants(t *testing.T, c Cache) {
	t.Helper()

	impl, ok := c.(*cache)
	if !ok {
		t.Fatalf("unexpected Cache implementation %T", c)
	}
	for si, s := range impl.shards {
		if err := s.verify(); err != nil {
			t.Fatalf("shard %d: %v", si, err)
		}
	}
}

func (s *shard) verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]index, len(s.index))
	var sum int64
	count := 0
	prev := headIdx
	var err error
	s.list.each(func(i index, n *node) bool {
		switch {
		case !n.live:
			err = fmt.Errorf("slot %d linked but not live", i)
		case n.prev != prev:
			err = fmt.Errorf("slot %d prev=%d, want %d", i, n.prev, prev)
		}
		if _, dup := seen[n.key]; dup {
			err = fmt.Errorf("duplicate key %q in list", n.key)
		}
		if err != nil {
			return false
		}
		seen[n.key] = i
		sum += n.size()
		count++
		prev = i
		return true
	})
	if err != nil {
		return err
	}
	if s.list.nodes[tailIdx].prev != prev {
		return fmt.Errorf("tail.prev=%d, want %d", s.list.nodes[tailIdx].prev, prev)
	}
	if count != s.list.len {
		return fmt.Errorf("list.len=%d, walked %d", s.list.len, count)
	}
	if sum != s.size {
		return fmt.Errorf("size=%d, Σ len(data)=%d", s.size, sum)
	}
	if count > 0 && s.size >= s.cap {
		return fmt.Errorf("size=%d must stay below capacity %d", s.size, s.cap)
	}
	if len(s.index) != len(seen) {
		return fmt.Errorf("index has %d keys, list has %d", len(s.index), len(seen))
	}
	for k, i := range s.index {
		if seen[k] != i {
			return fmt.Errorf("index[%q]=%d, list slot %d", k, i, seen[k])
		}
	}
	if live := len(s.list.nodes) - 2 - len(s.list.free); live != count {
		return fmt.Errorf("arena holds %d live slots, list has %d", live, count)
	}
	return nil
}

// order returns keys from MRU to LRU for a single-shard cache.
func order(t *testing.T, c Cache) []string {
	t.Helper()

	impl := c.(*cache)
	if len(impl.shards) != 1 {
		t.Fatalf("order needs a single shard, have %d", len(impl.shards))
	}
	s := impl.shards[0]
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	s.list.each(func(_ index, n *node) bool {
		keys = append(keys, n.key)
		return true
	})
	return keys
}
