// Package lru evicts the least recently used entry of a shard.
package lru

import "github.com/IvanBrykalov/refreshcache/policy"

// Factory builds per-shard LRU instances. The zero value is ready to use.
type Factory[K comparable, V any] struct{}

// New returns the LRU factory.
func New[K comparable, V any]() policy.Policy[K, V] { return Factory[K, V]{} }

// New binds an LRU instance to one shard's list.
func (Factory[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return shardLRU[K, V]{list: h}
}

// shardLRU keeps no state of its own: the shard list is the recency order,
// MRU at the front.
type shardLRU[K comparable, V any] struct {
	list policy.Hooks[K, V]
}

func (p shardLRU[K, V]) OnAdd(n policy.Node[K, V]) policy.Node[K, V] {
	p.list.PushFront(n)
	return nil
}

func (p shardLRU[K, V]) OnGet(n policy.Node[K, V]) { p.list.MoveToFront(n) }

// OnUpdate counts a write, including a background refresh, as a use.
func (p shardLRU[K, V]) OnUpdate(n policy.Node[K, V]) { p.list.MoveToFront(n) }

func (shardLRU[K, V]) OnRemove(policy.Node[K, V]) {}

func (p shardLRU[K, V]) Victim() policy.Node[K, V] { return p.list.Back() }
