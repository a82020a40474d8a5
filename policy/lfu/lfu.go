// Package lfu implements Least-Frequently-Used eviction with recency as the
// tie-breaker: among entries with the lowest access count, the one touched
// longest ago is evicted first.
//
// Entries are kept in frequency buckets; each bucket is an MRU→LRU list.
// minFreq tracks the lowest populated bucket so Victim stays O(1) on the
// common path.
package lfu

import (
	"container/list"

	"github.com/IvanBrykalov/refreshcache/policy"
)

type lfu[K comparable, V any] struct {
	h policy.Hooks[K, V]

	minFreq int
	buckets map[int]*list.List // freq -> MRU..LRU of nodes
	index   map[policy.Node[K, V]]*item[K, V]
}

type item[K comparable, V any] struct {
	freq int
	el   *list.Element // element.Value is policy.Node[K,V]
}

type lfuPolicy[K comparable, V any] struct{}

// New returns a Policy factory that constructs per-shard LFU instances.
func New[K comparable, V any]() policy.Policy[K, V] { return lfuPolicy[K, V]{} }

func (lfuPolicy[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &lfu[K, V]{
		h:       h,
		buckets: make(map[int]*list.List),
		index:   make(map[policy.Node[K, V]]*item[K, V]),
	}
}

// OnAdd admits the node with frequency 1.
func (p *lfu[K, V]) OnAdd(n policy.Node[K, V]) (evict policy.Node[K, V]) {
	p.h.PushFront(n)
	p.index[n] = &item[K, V]{freq: 1, el: p.bucket(1).PushFront(n)}
	p.minFreq = 1
	return nil
}

// OnGet bumps the node's frequency.
func (p *lfu[K, V]) OnGet(n policy.Node[K, V]) {
	p.h.MoveToFront(n)
	p.touch(n)
}

// OnUpdate counts a write as an access.
func (p *lfu[K, V]) OnUpdate(n policy.Node[K, V]) { p.OnGet(n) }

// OnRemove drops the node from its bucket.
func (p *lfu[K, V]) OnRemove(n policy.Node[K, V]) {
	it, ok := p.index[n]
	if !ok {
		return
	}
	p.unlink(it)
	delete(p.index, n)
}

// Victim is the least recently used node in the lowest frequency bucket.
func (p *lfu[K, V]) Victim() policy.Node[K, V] {
	if len(p.index) == 0 {
		return nil
	}
	b, ok := p.buckets[p.minFreq]
	if !ok {
		p.recomputeMin()
		b = p.buckets[p.minFreq]
	}
	if b == nil || b.Len() == 0 {
		return nil
	}
	return b.Back().Value.(policy.Node[K, V])
}

func (p *lfu[K, V]) touch(n policy.Node[K, V]) {
	it, ok := p.index[n]
	if !ok {
		return
	}
	old := it.freq
	p.unlink(it)
	it.freq++
	it.el = p.bucket(it.freq).PushFront(n)
	if old == p.minFreq {
		if _, still := p.buckets[old]; !still {
			p.minFreq = it.freq
		}
	}
}

func (p *lfu[K, V]) unlink(it *item[K, V]) {
	b := p.buckets[it.freq]
	if b == nil {
		return
	}
	b.Remove(it.el)
	if b.Len() == 0 {
		delete(p.buckets, it.freq)
	}
}

func (p *lfu[K, V]) bucket(freq int) *list.List {
	b, ok := p.buckets[freq]
	if !ok {
		b = list.New()
		p.buckets[freq] = b
	}
	return b
}

// recomputeMin is needed only after an explicit removal emptied the
// minimum bucket.
func (p *lfu[K, V]) recomputeMin() {
	first := true
	for f := range p.buckets {
		if first || f < p.minFreq {
			p.minFreq = f
			first = false
		}
	}
}
