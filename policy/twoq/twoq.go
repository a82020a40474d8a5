// Package twoq implements the 2Q eviction policy.
//
// First-time keys enter a probation queue (A1in). A key read while on
// probation is promoted to the main queue (Am), which is the shard list
// itself. Keys evicted from probation leave a ghost (A1out); a ghost key
// that is written again skips probation. One-shot keys, such as those from
// a crawl of rarely requested properties, therefore never push out the
// working set.
package twoq

import (
	"container/list"

	"github.com/IvanBrykalov/refreshcache/policy"
)

// Sizes configures the per-shard queue lengths.
type Sizes struct {
	Probation int // A1in
	Ghosts    int // A1out
}

// ForShard derives the classic 2Q sizing from a shard's entry capacity:
// a quarter on probation and ghosts for half the capacity.
func ForShard(capacity int) Sizes {
	return Sizes{Probation: capacity / 4, Ghosts: capacity / 2}
}

// New returns a 2Q factory. Sizes below one are raised to one.
func New[K comparable, V any](sz Sizes) policy.Policy[K, V] {
	sz.Probation = max(sz.Probation, 1)
	sz.Ghosts = max(sz.Ghosts, 1)
	return factory[K, V]{sz: sz}
}

type factory[K comparable, V any] struct{ sz Sizes }

func (f factory[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &shard2Q[K, V]{
		main:      h,
		sz:        f.sz,
		probation: newQueue[policy.Node[K, V]](),
		ghosts:    newQueue[K](),
	}
}

// queue is a recency-ordered set, newest at the front.
type queue[T comparable] struct {
	l   *list.List
	idx map[T]*list.Element
}

func newQueue[T comparable]() *queue[T] {
	return &queue[T]{l: list.New(), idx: make(map[T]*list.Element)}
}

func (q *queue[T]) len() int { return q.l.Len() }

// push adds v at the front, moving it there if already present.
func (q *queue[T]) push(v T) {
	if el, ok := q.idx[v]; ok {
		q.l.MoveToFront(el)
		return
	}
	q.idx[v] = q.l.PushFront(v)
}

// remove reports whether v was present.
func (q *queue[T]) remove(v T) bool {
	el, ok := q.idx[v]
	if !ok {
		return false
	}
	q.l.Remove(el)
	delete(q.idx, v)
	return true
}

func (q *queue[T]) oldest() (T, bool) {
	el := q.l.Back()
	if el == nil {
		var zero T
		return zero, false
	}
	return el.Value.(T), true
}

// shard2Q is called under the shard lock.
type shard2Q[K comparable, V any] struct {
	main      policy.Hooks[K, V]
	sz        Sizes
	probation *queue[policy.Node[K, V]]
	ghosts    *queue[K]
}

// OnAdd links every new node into the shard list. Remembered keys go
// straight to Am; others are put on probation, and once probation is over
// its length its oldest node is returned for eviction.
func (q *shard2Q[K, V]) OnAdd(n policy.Node[K, V]) policy.Node[K, V] {
	q.main.PushFront(n)
	if q.ghosts.remove(n.Key()) {
		return nil
	}
	q.probation.push(n)
	if q.probation.len() <= q.sz.Probation {
		return nil
	}
	old, _ := q.probation.oldest()
	return old
}

// OnGet promotes a probation node to Am.
func (q *shard2Q[K, V]) OnGet(n policy.Node[K, V]) {
	q.probation.remove(n)
	q.main.MoveToFront(n)
}

func (q *shard2Q[K, V]) OnUpdate(n policy.Node[K, V]) { q.OnGet(n) }

// OnRemove remembers keys that leave probation. Removals from Am leave no
// ghost.
func (q *shard2Q[K, V]) OnRemove(n policy.Node[K, V]) {
	if !q.probation.remove(n) {
		return
	}
	q.ghosts.push(n.Key())
	for q.ghosts.len() > q.sz.Ghosts {
		k, _ := q.ghosts.oldest()
		q.ghosts.remove(k)
	}
}

// Victim is the oldest probation node while probation is full, else the
// LRU node of the shard.
func (q *shard2Q[K, V]) Victim() policy.Node[K, V] {
	if q.probation.len() >= q.sz.Probation {
		if old, ok := q.probation.oldest(); ok {
			return old
		}
	}
	return q.main.Back()
}
