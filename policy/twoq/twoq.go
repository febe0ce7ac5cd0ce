// Package twoq implements a simplified 2Q policy that keeps one-hit wonders
// (for example a long scroll through thumbnails seen once) from flushing
// images that are requested repeatedly.
//
// New entries land in a probation queue. A second hit promotes them to the
// protected part of the shard list. When probation overflows its oldest entry
// is nominated for eviction and its key is remembered as a ghost; a ghost key
// that comes back is admitted straight into the protected part.
package twoq

import (
	"container/list"

	"github.com/IvanBrykalov/imgcache/policy"
)

// New returns a 2Q factory. probation and ghosts are per-shard sizes;
// values below 1 are raised to 1.
func New[K comparable, V any](probation, ghosts int) policy.Policy[K, V] {
	return factory[K, V]{probation: max(probation, 1), ghosts: max(ghosts, 1)}
}

type factory[K comparable, V any] struct {
	probation int
	ghosts    int
}

func (f factory[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &shard2Q[K, V]{
		hooks:     h,
		maxProb:   f.probation,
		maxGhosts: f.ghosts,
		prob:      list.New(),
		probIdx:   make(map[policy.Node[K, V]]*list.Element),
		ghost:     list.New(),
		ghostIdx:  make(map[K]*list.Element),
	}
}

type shard2Q[K comparable, V any] struct {
	hooks policy.Hooks[K, V]

	maxProb   int
	maxGhosts int

	// probation queue, newest at the front
	prob    *list.List
	probIdx map[policy.Node[K, V]]*list.Element

	// ghost keys of entries evicted from probation, newest at the front
	ghost    *list.List
	ghostIdx map[K]*list.Element
}

func (q *shard2Q[K, V]) OnAdd(n policy.Node[K, V]) policy.Node[K, V] {
	q.hooks.PushFront(n)

	if el, seen := q.ghostIdx[n.Key()]; seen {
		q.ghost.Remove(el)
		delete(q.ghostIdx, n.Key())
		return nil
	}

	q.probIdx[n] = q.prob.PushFront(n)
	if q.prob.Len() <= q.maxProb {
		return nil
	}
	return q.prob.Back().Value.(policy.Node[K, V])
}

func (q *shard2Q[K, V]) OnGet(n policy.Node[K, V]) {
	if el, ok := q.probIdx[n]; ok {
		q.prob.Remove(el)
		delete(q.probIdx, n)
	}
	q.hooks.MoveToFront(n)
}

func (q *shard2Q[K, V]) OnUpdate(n policy.Node[K, V]) { q.OnGet(n) }

func (q *shard2Q[K, V]) OnRemove(n policy.Node[K, V]) {
	el, ok := q.probIdx[n]
	if !ok {
		return
	}
	q.prob.Remove(el)
	delete(q.probIdx, n)

	k := n.Key()
	if old, ok := q.ghostIdx[k]; ok {
		q.ghost.Remove(old)
	}
	q.ghostIdx[k] = q.ghost.PushFront(k)
	for q.ghost.Len() > q.maxGhosts {
		oldest := q.ghost.Back()
		delete(q.ghostIdx, oldest.Value.(K))
		q.ghost.Remove(oldest)
	}
}
