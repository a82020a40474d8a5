// Package fifo implements first-in-first-out eviction: the oldest insertion
// is evicted regardless of how often or how recently it was read.
package fifo

import "github.com/IvanBrykalov/refreshcache/policy"

type fifo[K comparable, V any] struct {
	h policy.Hooks[K, V]
}

type fifoPolicy[K comparable, V any] struct{}

// New returns a Policy factory that constructs per-shard FIFO instances.
func New[K comparable, V any]() policy.Policy[K, V] { return fifoPolicy[K, V]{} }

func (fifoPolicy[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &fifo[K, V]{h: h}
}

// OnAdd appends the entry at the young end of the shard list.
func (p *fifo[K, V]) OnAdd(n policy.Node[K, V]) (evict policy.Node[K, V]) {
	p.h.PushFront(n)
	return nil
}

// OnGet leaves insertion order untouched.
func (p *fifo[K, V]) OnGet(policy.Node[K, V]) {}

// OnUpdate keeps the original insertion position: an in-place refresh
// does not make an entry younger.
func (p *fifo[K, V]) OnUpdate(policy.Node[K, V]) {}

func (p *fifo[K, V]) OnRemove(policy.Node[K, V]) {}

// Victim is the oldest insertion.
func (p *fifo[K, V]) Victim() policy.Node[K, V] { return p.h.Back() }
