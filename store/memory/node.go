package memory

import "github.com/IvanBrykalov/refreshcache/store"

// node is an intrusive doubly linked list element owned by a shard.
// It stores the key/entry alongside list links and the accounted cost.
type node struct {
	key string
	val store.Entry

	// Intrusive list links: head is MRU, tail is LRU.
	prev *node
	next *node

	// Accounted size in bytes (entry payload).
	cost int64
}

// Key returns the node key (part of policy.Node interface).
func (n *node) Key() string { return n.key }

// Value returns a pointer to the stored entry (part of policy.Node interface).
// NOTE: callers must only read/write through this pointer while holding the
// shard lock; otherwise data races may occur.
func (n *node) Value() *store.Entry { return &n.val }

func (n *node) expired(now int64) bool { return n.val.ExpiredAt(now) }
