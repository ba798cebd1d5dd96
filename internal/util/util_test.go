package util

import "testing"

func TestNextPow2(t *testing.T) {
	t.Parallel()

	cases := map[uint64]uint64{0: 1, 1: 1, 2: 2, 3: 4, 5: 8, 64: 64, 65: 128}
	for in, want := range cases {
		if got := NextPow2(in); got != want {
			t.Fatalf("NextPow2(%d) = %d, want %d", in, got, want)
		}
	}
	if got := NextPow2(1<<63 + 1); got != 1<<63 {
		t.Fatalf("overflow must clamp to 1<<63, got %d", got)
	}
}

// Known FNV-1a vectors; the empty string hashes to the offset basis.
func TestFnv64a(t *testing.T) {
	t.Parallel()

	if got := Fnv64a(""); got != fnvOffset64 {
		t.Fatalf("Fnv64a(\"\") = %#x", got)
	}
	if got := Fnv64a("a"); got != 0xaf63dc4c8601ec8c {
		t.Fatalf("Fnv64a(\"a\") = %#x", got)
	}
}

func TestShardIndex_InRange(t *testing.T) {
	t.Parallel()

	for _, shards := range []int{1, 2, 3, 8, 10, 256} {
		for _, k := range []string{"/", "/index.html", "/static/app.js"} {
			i := ShardIndex(Fnv64a(k), shards)
			if i < 0 || i >= shards {
				t.Fatalf("ShardIndex out of range: %d for %d shards", i, shards)
			}
		}
	}
	if n := ReasonableShardCount(); n < 1 || n > MaxShards || !IsPowerOfTwo(uint64(n)) {
		t.Fatalf("ReasonableShardCount = %d", n)
	}
}
