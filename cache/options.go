package cache

import (
	"time"

	"github.com/IvanBrykalov/imgcache/policy"
)

// EvictReason explains why an entry left the cache.
type EvictReason int

const (
	// EvictPolicy: chosen by the eviction policy or the entry-count limit.
	EvictPolicy EvictReason = iota
	// EvictTTL: the entry expired and was dropped lazily on access.
	EvictTTL
	// EvictCapacity: dropped to bring the total cost under MaxCost.
	EvictCapacity
)

// String returns a stable label for metrics and logs.
func (r EvictReason) String() string {
	switch r {
	case EvictTTL:
		return "ttl"
	case EvictCapacity:
		return "capacity"
	default:
		return "policy"
	}
}

// Metrics receives memory-tier signals. Implementations must be goroutine-safe.
// Resize carries the change in resident entries and cost after a mutation;
// summing the deltas from all shards gives the cache totals.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Resize(entries int, cost int64)
}

// Clock returns the current time in UnixNano. Tests swap it for a fake.
type Clock interface{ NowUnixNano() int64 }

// Options configures a memory cache. Only Capacity is required.
type Options[K comparable, V any] struct {
	// Capacity bounds the number of resident entries (split across shards).
	Capacity int

	// Shards is rounded up to a power of two; <= 0 picks 2*GOMAXPROCS.
	Shards int

	// Policy decides promotion and admission; nil means LRU.
	Policy policy.Policy[K, V]

	// DefaultTTL applies to Set; zero disables expiry.
	DefaultTTL time.Duration

	// Cost weighs a value against MaxCost. Both must be set for cost limiting.
	Cost    func(V) int64
	MaxCost int64

	// Hash maps a key to a shard. Nil uses xxhash for string-like keys.
	Hash func(K) uint64

	// OnEvict runs under the shard lock for every eviction (not for Remove).
	// It must not call back into the same cache.
	OnEvict func(k K, v V, reason EvictReason)

	Metrics Metrics
	Clock   Clock
}
