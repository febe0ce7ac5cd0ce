package cache

// entry is a resident cache element linked into its shard's recency list
// (head is the most recently used end).
type entry[K comparable, V any] struct {
	key K
	val V

	prev, next *entry[K, V]

	// deadline is an absolute UnixNano expiry; zero never expires.
	deadline int64
	// cost is the entry's weight against Options.MaxCost (bytes for images).
	cost int64
}

// Key implements policy.Node.
func (e *entry[K, V]) Key() K { return e.key }

// Value implements policy.Node. Only touch the pointer under the shard lock.
func (e *entry[K, V]) Value() *V { return &e.val }
