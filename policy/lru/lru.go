// Package lru is the default move-to-front eviction policy. Victims are taken
// from the back of the shard list when the shard exceeds its limits.
package lru

import "github.com/IvanBrykalov/imgcache/policy"

type factory[K comparable, V any] struct{}

// New returns the LRU policy factory.
func New[K comparable, V any]() policy.Policy[K, V] { return factory[K, V]{} }

func (factory[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &shardLRU[K, V]{hooks: h}
}

type shardLRU[K comparable, V any] struct {
	hooks policy.Hooks[K, V]
}

func (p *shardLRU[K, V]) OnAdd(n policy.Node[K, V]) policy.Node[K, V] {
	p.hooks.PushFront(n)
	return nil
}

func (p *shardLRU[K, V]) OnGet(n policy.Node[K, V])    { p.hooks.MoveToFront(n) }
func (p *shardLRU[K, V]) OnUpdate(n policy.Node[K, V]) { p.hooks.MoveToFront(n) }
func (p *shardLRU[K, V]) OnRemove(policy.Node[K, V])   {}
