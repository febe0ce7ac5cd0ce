package util

import "runtime"

const maxShards = 256

// ShardCount returns the shard count for a requested value:
// n <= 0 picks 2*GOMAXPROCS, and the result is a power of two in [1, 256].
func ShardCount(n int) int {
	if n <= 0 {
		n = 2 * runtime.GOMAXPROCS(0)
	}
	c := int(NextPow2(uint64(n)))
	if c > maxShards {
		c = maxShards
	}
	return c
}

// ShardIndex maps a hash onto one of shards buckets; shards must be a power of two.
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(hash & uint64(shards-1))
}
