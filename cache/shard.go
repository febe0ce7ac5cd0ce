package cache

import (
	"sync"

	"github.com/IvanBrykalov/imgcache/internal/util"
	"github.com/IvanBrykalov/imgcache/policy"
)

// shard owns a key index and a recency list. All fields below mu are guarded by it.
type shard[K comparable, V any] struct {
	mu      sync.Mutex
	index   map[K]*entry[K, V]
	head    *entry[K, V]
	tail    *entry[K, V]
	n       int
	cost    int64
	maxN    int
	maxCost int64 // 0 disables cost limiting
	pol     policy.ShardPolicy[K, V]
	opt     *Options[K, V]

	_         util.CacheLinePad
	hits      util.PaddedCounter
	misses    util.PaddedCounter
	evictions util.PaddedCounter
}

func newShard[K comparable, V any](maxN int, maxCost int64, opt *Options[K, V]) *shard[K, V] {
	s := &shard[K, V]{
		index:   make(map[K]*entry[K, V]),
		maxN:    maxN,
		maxCost: maxCost,
		opt:     opt,
	}
	s.pol = opt.Policy.New(listHooks[K, V]{s})
	return s
}

func (s *shard[K, V]) get(k K, touch bool) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	e, ok := s.index[k]
	if ok && e.deadline != 0 && now(s.opt.Clock) > e.deadline {
		n0, c0 := s.n, s.cost
		s.evict(e, EvictTTL)
		s.report(n0, c0)
		ok = false
	}
	if !ok {
		if touch {
			s.misses.Add(1)
			s.opt.Metrics.Miss()
		}
		return zero, false
	}
	if touch {
		s.pol.OnGet(e)
		s.hits.Add(1)
		s.opt.Metrics.Hit()
	}
	return e.val, true
}

func (s *shard[K, V]) set(k K, v V, deadline, cost int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n0, c0 := s.n, s.cost
	if e, ok := s.index[k]; ok {
		s.cost += cost - e.cost
		e.val, e.deadline, e.cost = v, deadline, cost
		s.pol.OnUpdate(e)
	} else {
		e := &entry[K, V]{key: k, val: v, deadline: deadline, cost: cost}
		s.index[k] = e
		if victim := s.pol.OnAdd(e); victim != nil {
			s.evict(victim.(*entry[K, V]), EvictPolicy)
		}
	}
	s.trim()
	s.report(n0, c0)
}

func (s *shard[K, V]) remove(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[k]
	if !ok {
		return false
	}
	n0, c0 := s.n, s.cost
	s.pol.OnRemove(e)
	s.unlink(e)
	delete(s.index, k)
	s.report(n0, c0)
	return true
}

func (s *shard[K, V]) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (s *shard[K, V]) totalCost() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cost
}

// trim evicts from the back until both limits hold. A single entry larger
// than maxCost is evicted too rather than pinning the shard over budget.
func (s *shard[K, V]) trim() {
	for s.n > s.maxN && s.tail != nil {
		s.evict(s.tail, EvictPolicy)
	}
	for s.maxCost > 0 && s.cost > s.maxCost && s.tail != nil {
		s.evict(s.tail, EvictCapacity)
	}
}

func (s *shard[K, V]) evict(e *entry[K, V], reason EvictReason) {
	s.pol.OnRemove(e)
	s.unlink(e)
	delete(s.index, e.key)
	s.evictions.Add(1)
	s.opt.Metrics.Evict(reason)
	if s.opt.OnEvict != nil {
		s.opt.OnEvict(e.key, e.val, reason)
	}
}

// report publishes the change in size since (n0, c0).
func (s *shard[K, V]) report(n0 int, c0 int64) {
	if dn, dc := s.n-n0, s.cost-c0; dn != 0 || dc != 0 {
		s.opt.Metrics.Resize(dn, dc)
	}
}

func (s *shard[K, V]) pushFront(e *entry[K, V]) {
	e.prev, e.next = nil, s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
	s.n++
	s.cost += e.cost
}

func (s *shard[K, V]) unlink(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else if s.head == e {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else if s.tail == e {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
	s.n--
	s.cost = max(s.cost-e.cost, 0)
}

func (s *shard[K, V]) moveToFront(e *entry[K, V]) {
	if s.head == e {
		return
	}
	s.unlink(e)
	s.pushFront(e)
}

// listHooks lends the shard's list operations to its policy.
type listHooks[K comparable, V any] struct{ s *shard[K, V] }

func (h listHooks[K, V]) MoveToFront(n policy.Node[K, V]) { h.s.moveToFront(n.(*entry[K, V])) }
func (h listHooks[K, V]) PushFront(n policy.Node[K, V])   { h.s.pushFront(n.(*entry[K, V])) }
func (h listHooks[K, V]) Remove(n policy.Node[K, V])      { h.s.unlink(n.(*entry[K, V])) }
func (h listHooks[K, V]) Len() int                        { return h.s.n }

func (h listHooks[K, V]) Back() policy.Node[K, V] {
	if h.s.tail == nil {
		return nil
	}
	return h.s.tail
}
