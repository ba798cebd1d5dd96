package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type fakeClock struct{ t atomic.Int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t.Load() }
func (f *fakeClock) add(d time.Duration) { f.t.Add(int64(d)) }

// recMetrics records metric hook calls.
type recMetrics struct {
	mu           sync.Mutex
	hits, misses int
	evicts       map[EvictReason]int
	lastEntries  int
	lastBytes    int64
}

func (m *recMetrics) Hit()  { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *recMetrics) Miss() { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *recMetrics) Evict(r EvictReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.evicts == nil {
		m.evicts = map[EvictReason]int{}
	}
	m.evicts[r]++
}
func (m *recMetrics) Size(entries int, b int64) {
	m.mu.Lock()
	m.lastEntries, m.lastBytes = entries, b
	m.mu.Unlock()
}

func payload(n int) []byte { return bytes.Repeat([]byte{'x'}, n) }

func newTestCache(t *testing.T, opt Options) Cache {
	t.Helper()
	c := New(opt)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// Add followed by Get returns the same bytes.
func TestCache_RoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{CapacityKiB: 1})
	want := []byte("<h1>hello</h1>")
	c.Add("/index.html", want)

	got, ok := c.Get("/index.html")
	if !ok || !bytes.Equal(got, want) {
		t.Fatalf("Get = %q ok=%v, want %q", got, ok, want)
	}
	if c.Capacity() != 1024 {
		t.Fatalf("Capacity = %d, want 1024 (KiB converted to bytes)", c.Capacity())
	}
	checkInvariants(t, c)
}

// The cache keeps private copies: neither the caller's input nor a returned
// slice can change what is stored.
func TestCache_PayloadIsolation(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{CapacityKiB: 1})
	in := []byte("abc")
	c.Add("/a", in)
	in[0] = 'z'

	out, _ := c.Get("/a")
	if string(out) != "abc" {
		t.Fatalf("input mutation leaked into cache: %q", out)
	}
	out[1] = 'z'
	if again, _ := c.Get("/a"); string(again) != "abc" {
		t.Fatalf("output mutation leaked into cache: %q", again)
	}
}

// Updating an existing key changes size by the byte-length difference only.
func TestCache_UpdateDelta(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{CapacityKiB: 4})
	c.Add("/other", payload(100))
	c.Add("/k", payload(300))
	before := c.Size()

	c.Add("/k", payload(120))
	if got, want := c.Size(), before+120-300; got != want {
		t.Fatalf("size after shrink = %d, want %d", got, want)
	}
	c.Add("/k", payload(500))
	if got, want := c.Size(), before+500-300; got != want {
		t.Fatalf("size after grow = %d, want %d", got, want)
	}
	// Repeated identical updates must not drift.
	for i := 0; i < 10; i++ {
		c.Add("/k", payload(500))
	}
	if got, want := c.Size(), int64(600); got != want {
		t.Fatalf("size after repeated updates = %d, want %d", got, want)
	}
	if c.Len() != 2 {
		t.Fatalf("update must not create nodes, Len = %d", c.Len())
	}
	checkInvariants(t, c)
}

// 600 + 600 bytes exceed 1 KiB: the older entry is evicted.
func TestCache_EvictionLRU(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{CapacityKiB: 1})
	c.Add("/a", payload(600))
	c.Add("/b", payload(600))

	if _, ok := c.Get("/a"); ok {
		t.Fatal("/a must be evicted")
	}
	if _, ok := c.Get("/b"); !ok {
		t.Fatal("/b must survive")
	}
	if got := c.Size(); got != 600 {
		t.Fatalf("size = %d, want 600", got)
	}
	checkInvariants(t, c)
}

// Accessing /a promotes it, so inserting /c evicts /b instead.
func TestCache_RecencyResetByAccess(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{CapacityKiB: 1})
	c.Add("/a", payload(400))
	c.Add("/b", payload(300))
	if _, ok := c.Get("/a"); !ok { // promote a -> MRU
		t.Fatal("expect hit for /a")
	}
	c.Add("/c", payload(400)) // 1100 bytes -> evict LRU (/b)

	if _, ok := c.Get("/b"); ok {
		t.Fatal("/b must be evicted")
	}
	if _, ok := c.Get("/a"); !ok {
		t.Fatal("/a must survive (promoted)")
	}
	if got := order(t, c); !slices.Equal(got, []string{"/a", "/c"}) {
		t.Fatalf("order = %v, want [/a /c]", got)
	}
	checkInvariants(t, c)
}

// Re-adding a key moves it to MRU without creating a node.
func TestCache_UpdatePromotes(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{CapacityKiB: 1})
	for _, k := range []string{"/a", "/b", "/c"} {
		c.Add(k, payload(10))
	}
	c.Add("/a", payload(20))
	if got := order(t, c); !slices.Equal(got, []string{"/a", "/c", "/b"}) {
		t.Fatalf("order = %v, want [/a /c /b]", got)
	}
	checkInvariants(t, c)
}

// Growing an entry through an update also trims the LRU end.
func TestCache_UpdateGrowthEvicts(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{CapacityKiB: 1})
	c.Add("/a", payload(300))
	c.Add("/b", payload(300))
	c.Add("/b", payload(800)) // 1100 bytes -> /a goes

	if _, ok := c.Get("/a"); ok {
		t.Fatal("/a must be evicted after /b grew")
	}
	if got, ok := c.Get("/b"); !ok || len(got) != 800 {
		t.Fatalf("/b must hold the new payload, len=%d ok=%v", len(got), ok)
	}
	checkInvariants(t, c)
}

// Capacity 0 disables the cache entirely.
func TestCache_Disabled(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{CapacityKiB: 0})
	c.Add("/a", []byte("a"))
	if _, ok := c.Get("/a"); ok {
		t.Fatal("disabled cache must always miss")
	}
	if c.Len() != 0 || c.Size() != 0 || c.Capacity() != 0 {
		t.Fatalf("disabled cache must stay empty: len=%d size=%d cap=%d", c.Len(), c.Size(), c.Capacity())
	}
	if c.Remove("/a") {
		t.Fatal("Remove on disabled cache must be false")
	}

	var loads int
	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(context.Background(), "/a", func(context.Context) ([]byte, error) {
			loads++
			return []byte("a"), nil
		})
		if err != nil || string(v) != "a" {
			t.Fatalf("GetOrLoad = %q, %v", v, err)
		}
	}
	if loads != 3 {
		t.Fatalf("disabled cache must load every time, loads=%d", loads)
	}
}

// A single entry at or above capacity is admitted and immediately evicted,
// together with everything older.
func TestCache_OversizedEntryDegenerates(t *testing.T) {
	t.Parallel()

	var evicted []string
	c := newTestCache(t, Options{
		CapacityKiB: 1,
		OnEvict:     func(k string, _ int, _ EvictReason) { evicted = append(evicted, k) },
	})
	c.Add("/small", payload(10))
	c.Add("/huge", payload(2048))

	if c.Len() != 0 || c.Size() != 0 {
		t.Fatalf("cache must be empty, len=%d size=%d", c.Len(), c.Size())
	}
	if !slices.Equal(evicted, []string{"/small", "/huge"}) {
		t.Fatalf("evicted = %v", evicted)
	}

	// Just below capacity is kept.
	c.Add("/fits", payload(1023))
	if _, ok := c.Get("/fits"); !ok {
		t.Fatal("1023-byte entry must fit a 1 KiB cache")
	}
	checkInvariants(t, c)
}

// Zero-length entries count as nodes; purge still terminates.
func TestCache_ZeroLengthEntries(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{CapacityKiB: 1})
	for i := 0; i < 5; i++ {
		c.Add(fmt.Sprintf("/empty%d", i), nil)
	}
	if c.Len() != 5 || c.Size() != 0 {
		t.Fatalf("len=%d size=%d, want 5 and 0", c.Len(), c.Size())
	}
	if v, ok := c.Get("/empty0"); !ok || len(v) != 0 {
		t.Fatalf("zero-length hit expected, got %q ok=%v", v, ok)
	}

	c.Add("/big", payload(1024))
	if c.Len() != 0 || c.Size() != 0 {
		t.Fatalf("len=%d size=%d after oversized add", c.Len(), c.Size())
	}
	checkInvariants(t, c)
}

func TestCache_Remove(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{CapacityKiB: 1})
	c.Add("/a", payload(100))
	c.Add("/b", payload(50))

	if !c.Remove("/a") {
		t.Fatal("Remove /a must be true")
	}
	if c.Remove("/a") {
		t.Fatal("second Remove must be false")
	}
	if _, ok := c.Get("/a"); ok {
		t.Fatal("/a must be absent after Remove")
	}
	if c.Size() != 50 {
		t.Fatalf("size = %d, want 50", c.Size())
	}
	// The freed slot is reused by the next insert.
	c.Add("/c", payload(10))
	checkInvariants(t, c)
}

// Uses a fake clock to avoid timing flakiness.
func TestCache_TTL_FakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	m := &recMetrics{}
	c := newTestCache(t, Options{CapacityKiB: 1, TTL: 100 * time.Millisecond, Clock: clk, Metrics: m})

	c.Add("/x", []byte("v"))
	if _, ok := c.Get("/x"); !ok {
		t.Fatal("fresh miss")
	}
	clk.add(200 * time.Millisecond)
	if _, ok := c.Get("/x"); ok {
		t.Fatal("expired hit")
	}
	if c.Len() != 0 {
		t.Fatal("expired entry must be evicted on access")
	}
	if m.evicts[EvictTTL] != 1 {
		t.Fatalf("ttl evictions = %d, want 1", m.evicts[EvictTTL])
	}
	checkInvariants(t, c)
}

// Hooks and Stats agree on hits, misses, evictions and sizes.
func TestCache_MetricsAndStats(t *testing.T) {
	t.Parallel()

	m := &recMetrics{}
	c := newTestCache(t, Options{CapacityKiB: 1, Metrics: m})
	c.Add("/a", payload(600))
	c.Get("/a")
	c.Get("/nope")
	c.Add("/b", payload(600)) // evicts /a

	st := c.Stats()
	want := Stats{Hits: 1, Misses: 1, Evictions: 1, Entries: 1, Bytes: 600, Capacity: 1024}
	if st != want {
		t.Fatalf("Stats = %+v, want %+v", st, want)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hits != 1 || m.misses != 1 || m.evicts[EvictCapacity] != 1 {
		t.Fatalf("metrics hits=%d misses=%d evicts=%v", m.hits, m.misses, m.evicts)
	}
	if m.lastEntries != 1 || m.lastBytes != 600 {
		t.Fatalf("size gauge = (%d, %d), want (1, 600)", m.lastEntries, m.lastBytes)
	}
}

// Close turns the cache into a permanent miss.
func TestCache_Close(t *testing.T) {
	t.Parallel()

	c := New(Options{CapacityKiB: 1})
	c.Add("/a", []byte("a"))
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("/a"); ok {
		t.Fatal("closed cache must miss")
	}
	c.Add("/b", []byte("b"))
	if c.Len() != 1 {
		t.Fatalf("Add after Close must be ignored, Len=%d", c.Len())
	}
}

// Shards split the byte budget; AutoShards picks a power of two.
func TestCache_Shards(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{CapacityKiB: 64, Shards: 3})
	impl := c.(*cache)
	if len(impl.shards) != 4 {
		t.Fatalf("shards = %d, want 4 (rounded to power of two)", len(impl.shards))
	}
	if impl.shards[0].cap != 16*1024 {
		t.Fatalf("per-shard cap = %d, want %d", impl.shards[0].cap, 16*1024)
	}
	for i := 0; i < 200; i++ {
		c.Add(fmt.Sprintf("/f/%d", i), payload(100+i))
	}
	if c.Size() >= c.Capacity() {
		t.Fatalf("size %d must stay below capacity %d", c.Size(), c.Capacity())
	}
	checkInvariants(t, c)

	auto := newTestCache(t, Options{CapacityKiB: 64, Shards: AutoShards})
	if n := len(auto.(*cache).shards); n < 1 || n&(n-1) != 0 {
		t.Fatalf("auto shard count %d is not a power of two", n)
	}

	huge := newTestCache(t, Options{CapacityKiB: 64, Shards: 1 << 30})
	if n := len(huge.(*cache).shards); n != MaxShards {
		t.Fatalf("shard count %d, want clamp to %d", n, MaxShards)
	}
}

// Concurrent GetOrLoad calls for the same key trigger the loader at most
// once; subsequent calls are cache hits.
func TestCache_GetOrLoad_Singleflight(t *testing.T) {
	t.Parallel()

	var calls int64
	c := newTestCache(t, Options{CapacityKiB: 64})
	load := func(context.Context) ([]byte, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(5 * time.Millisecond) // simulate disk I/O
		return []byte("body"), nil
	}

	const N = 64
	var g errgroup.Group
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < N; i++ {
		g.Go(func() error {
			v, err := c.GetOrLoad(ctx, "/k", load)
			if err != nil {
				return err
			}
			if string(v) != "body" {
				return fmt.Errorf("got %q", v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("loader must run exactly once, got %d", got)
	}
	if _, ok := c.Get("/k"); !ok {
		t.Fatal("loaded payload must be cached")
	}
}

// A failing load is returned and nothing is cached.
func TestCache_GetOrLoad_Error(t *testing.T) {
	t.Parallel()

	errDisk := errors.New("disk on fire")
	c := newTestCache(t, Options{CapacityKiB: 1})

	_, err := c.GetOrLoad(context.Background(), "/k", func(context.Context) ([]byte, error) {
		return nil, errDisk
	})
	if !errors.Is(err, errDisk) {
		t.Fatalf("err = %v, want %v", err, errDisk)
	}
	if c.Len() != 0 {
		t.Fatal("failed load must not be cached")
	}

	v, err := c.GetOrLoad(context.Background(), "/k", func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || string(v) != "ok" {
		t.Fatalf("retry = %q, %v", v, err)
	}
}
