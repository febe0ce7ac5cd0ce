// Package policy defines the contract between the memory cache and its
// eviction strategies. A strategy never owns entries: it reorders the shard's
// recency list through Hooks and may nominate a victim on admission.
package policy

// Node is a resident entry as seen by a policy.
type Node[K comparable, V any] interface {
	Key() K
	Value() *V
}

// Hooks are the O(1) list operations a shard lends to its policy.
// They are always invoked with the shard lock held and never touch the
// shard's key index.
type Hooks[K comparable, V any] interface {
	MoveToFront(Node[K, V])
	PushFront(Node[K, V])
	Remove(Node[K, V])
	// Back returns the least recently used node, or nil.
	Back() Node[K, V]
	Len() int
}

// ShardPolicy is a policy instance bound to one shard.
//
// OnAdd must link the node (usually via PushFront) and may return a victim,
// which the shard evicts and then reports through OnRemove. OnGet and
// OnUpdate record use. OnRemove lets the policy drop its own bookkeeping.
type ShardPolicy[K comparable, V any] interface {
	OnAdd(Node[K, V]) (victim Node[K, V])
	OnGet(Node[K, V])
	OnUpdate(Node[K, V])
	OnRemove(Node[K, V])
}

// Policy builds one ShardPolicy per shard.
type Policy[K comparable, V any] interface {
	New(Hooks[K, V]) ShardPolicy[K, V]
}
