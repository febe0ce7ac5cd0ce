// Package cache is the storage side of the image loader: a sharded memory
// tier plus optional blob tiers that persist raw image bytes.
//
// Memory tier
//
//   - Sharding: keys are spread over a power-of-two number of shards, each
//     guarded by its own mutex. Reads and writes for keys on different shards
//     never wait on each other.
//   - Ordering: every shard keeps an index and an intrusive recency list.
//     The policy (LRU by default, 2Q from policy/twoq) decides promotion and
//     may nominate victims; the shard enforces the limits.
//   - Limits: Capacity bounds the entry count and MaxCost (with Cost) bounds
//     the summed weight, for images the decoded byte size. Both are split
//     evenly across shards, so with many shards eviction is approximately
//     global LRU; use Shards: 1 when exact order matters.
//   - TTL: optional, checked lazily on access.
//   - Hooks: OnEvict fires under the shard lock for every eviction; the
//     loader uses it to prune completed fetch statuses.
//
// Blob tiers
//
// BlobStore implementations (cache/disk, cache/valkey) hold raw bytes keyed
// by the hex request digest. Tiered combines a memory tier with one blob
// tier: Get falls through to the blob tier on a memory miss and refills the
// memory tier; Put writes through to both.
//
// Example
//
//	mem := cache.New[key.Key, *loader.Image](cache.Options[key.Key, *loader.Image]{
//	    Capacity: 512,
//	    MaxCost:  64 << 20,
//	    Cost:     func(img *loader.Image) int64 { return img.Size() },
//	})
//	disk, _ := disk.New("/var/cache/imgcache")
//	store := cache.NewTiered(mem, disk, decodeImage, cache.TieredOptions{})
package cache
