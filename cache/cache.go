package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/imgcache/internal/util"
	"github.com/IvanBrykalov/imgcache/policy/lru"
)

// ErrClosed is returned by tiered operations after Close.
var ErrClosed = errors.New("cache: closed")

// Cache is the memory-tier contract used by Tiered and the loader.
// All methods are safe for concurrent use.
type Cache[K comparable, V any] interface {
	Get(k K) (V, bool)
	Peek(k K) (V, bool)
	Set(k K, v V)
	SetWithTTL(k K, v V, ttl time.Duration)
	Remove(k K) bool
	Len() int
	Cost() int64
	Close() error
}

// BlobStore is a content-addressed byte store keyed by the request digest.
// A miss is (nil, false, nil); err is reserved for I/O failures.
type BlobStore interface {
	Read(ctx context.Context, key string) ([]byte, bool, error)
	Write(ctx context.Context, key string, data []byte) error
}

// BlobDeleter is implemented by blob stores that support removal.
// Delete reports whether key was present.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) (bool, error)
}

// Memory is a sharded in-memory cache. Each shard has its own mutex, so
// operations on keys that hash to different shards never contend.
type Memory[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   func(K) uint64
	opt    Options[K, V]
	closed atomic.Bool
}

var _ Cache[string, int] = (*Memory[string, int])(nil)

// New builds a memory cache. It panics when Capacity <= 0.
func New[K comparable, V any](opt Options[K, V]) *Memory[K, V] {
	if opt.Capacity <= 0 {
		panic("cache: Capacity must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New[K, V]()
	}
	hash := opt.Hash
	if hash == nil {
		hash = util.Hash64[K]
	}

	n := util.ShardCount(opt.Shards)
	perCap := (opt.Capacity + n - 1) / n
	var perCost int64
	if opt.MaxCost > 0 && opt.Cost != nil {
		perCost = (opt.MaxCost + int64(n) - 1) / int64(n)
	}

	m := &Memory[K, V]{
		shards: make([]*shard[K, V], n),
		hash:   hash,
		opt:    opt,
	}
	for i := range m.shards {
		m.shards[i] = newShard(perCap, perCost, &m.opt)
	}
	return m
}

// Get returns the value for k and records a use with the policy.
// Expired entries are dropped and reported as misses.
func (m *Memory[K, V]) Get(k K) (V, bool) {
	if m.closed.Load() {
		var zero V
		return zero, false
	}
	return m.shardFor(k).get(k, true)
}

// Peek is Get without promotion or hit/miss accounting.
func (m *Memory[K, V]) Peek(k K) (V, bool) {
	if m.closed.Load() {
		var zero V
		return zero, false
	}
	return m.shardFor(k).get(k, false)
}

// Set inserts or replaces k with DefaultTTL. Concurrent Sets of one key are
// serialized by the shard lock; the last one wins.
func (m *Memory[K, V]) Set(k K, v V) {
	m.SetWithTTL(k, v, m.opt.DefaultTTL)
}

// SetWithTTL is Set with an explicit TTL; ttl <= 0 never expires.
func (m *Memory[K, V]) SetWithTTL(k K, v V, ttl time.Duration) {
	if m.closed.Load() {
		return
	}
	var cost int64
	if m.opt.Cost != nil {
		cost = max(m.opt.Cost(v), 0)
	}
	m.shardFor(k).set(k, v, m.deadline(ttl), cost)
}

// Remove deletes k. Removal is not an eviction and does not fire OnEvict.
func (m *Memory[K, V]) Remove(k K) bool {
	if m.closed.Load() {
		return false
	}
	return m.shardFor(k).remove(k)
}

// Len is the number of resident entries.
func (m *Memory[K, V]) Len() int {
	n := 0
	for _, s := range m.shards {
		n += s.size()
	}
	return n
}

// Cost is the summed cost of resident entries.
func (m *Memory[K, V]) Cost() int64 {
	var c int64
	for _, s := range m.shards {
		c += s.totalCost()
	}
	return c
}

// Stats returns hit, miss and eviction counts accumulated by all shards.
func (m *Memory[K, V]) Stats() (hits, misses, evictions int64) {
	for _, s := range m.shards {
		hits += s.hits.Load()
		misses += s.misses.Load()
		evictions += s.evictions.Load()
	}
	return hits, misses, evictions
}

// Close stops serving reads and writes. It is idempotent.
func (m *Memory[K, V]) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *Memory[K, V]) shardFor(k K) *shard[K, V] {
	return m.shards[util.ShardIndex(m.hash(k), len(m.shards))]
}

func (m *Memory[K, V]) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now(m.opt.Clock) + int64(ttl)
}

func now(c Clock) int64 {
	if c != nil {
		return c.NowUnixNano()
	}
	return time.Now().UnixNano()
}
