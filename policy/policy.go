// Package policy defines the eviction-policy contract used by store/memory.
//
// A Policy is a factory; each shard binds its own ShardPolicy to hooks over
// the shard's intrusive list. Policies decide ordering and name the victim
// when the shard is over its entry or byte budget.
package policy

import (
	"fmt"
	"strings"
)

// Node is a resident entry as a policy sees it. Value points into the
// node, so a refresh can replace the entry without relinking.
type Node[K comparable, V any] interface {
	Key() K
	Value() *V
}

// Hooks are the shard's O(1) operations on its intrusive list, MRU at the
// front. They touch only the list; the shard owns its key index. Every
// call happens under the shard lock.
type Hooks[K comparable, V any] interface {
	MoveToFront(Node[K, V])
	PushFront(Node[K, V]) // admission
	Remove(Node[K, V])
	Back() Node[K, V] // nil when empty
	Len() int
}

// ShardPolicy orders one shard. All methods run under the shard lock.
//
// OnAdd must link the node through Hooks and may return a node for the
// shard to evict right away; the shard then unlinks it and calls OnRemove.
// OnGet and OnUpdate record an access. OnRemove only updates policy state.
// Victim names the next node to evict when the shard is over its entry or
// byte budget, or nil if the shard is empty.
type ShardPolicy[K comparable, V any] interface {
	OnAdd(Node[K, V]) (evict Node[K, V])
	OnGet(Node[K, V])
	OnUpdate(Node[K, V])
	OnRemove(Node[K, V])
	Victim() Node[K, V]
}

// Policy builds a ShardPolicy for each shard of a store.
type Policy[K comparable, V any] interface {
	New(Hooks[K, V]) ShardPolicy[K, V]
}

// Name identifies a built-in policy in configuration.
type Name string

const (
	LRU  Name = "lru"
	LFU  Name = "lfu"
	FIFO Name = "fifo"
	TwoQ Name = "2q"
)

// ParseName normalizes a policy name. The empty string maps to LRU.
func ParseName(s string) (Name, error) {
	switch n := Name(strings.ToLower(strings.TrimSpace(s))); n {
	case "":
		return LRU, nil
	case LRU, LFU, FIFO, TwoQ:
		return n, nil
	default:
		return "", fmt.Errorf("policy: unknown eviction policy %q (use lru, lfu, fifo or 2q)", s)
	}
}
