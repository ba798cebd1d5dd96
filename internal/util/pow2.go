package util

// IsPowerOfTwo reports whether x is a non-zero power of two.
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && (x&(x-1)) == 0
}

// NextPow2 rounds a requested shard count up to a power of two so that
// ShardIndex can mask instead of divide. 0 and 1 map to 1; results that
// would not fit in 64 bits clamp to 1<<63.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	for shift := uint(1); shift < 64; shift <<= 1 {
		x |= x >> shift
	}
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}
