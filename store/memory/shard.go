package memory

import (
	"strings"
	"sync"

	"github.com/IvanBrykalov/refreshcache/internal/util"
	"github.com/IvanBrykalov/refreshcache/policy"
	"github.com/IvanBrykalov/refreshcache/store"
)

// eviction is recorded under the shard lock and reported after unlock.
type eviction struct {
	key    string
	reason store.EvictReason
}

type pair struct {
	key string
	val store.Entry
}

// shard is an independent partition of the store with its own lock, map,
// and an intrusive doubly linked list (head=MRU, tail=LRU).
type shard struct {
	// ---- guarded by mu ----
	mu      sync.RWMutex
	m       map[string]*node
	head    *node // MRU
	tail    *node // LRU
	len     int   // number of resident entries
	cost    int64 // total accounted bytes
	cap     int   // per-shard entry capacity
	maxCost int64 // per-shard byte limit (0 = disabled)

	pol   policy.ShardPolicy[string, store.Entry]
	clock store.Clock

	// evictions collected during the current locked operation
	pending []eviction

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.Counter
	misses util.Counter
	evicts util.Counter
}

// newShard initializes a shard with its slice of the global budgets.
func newShard(capacity int, maxCost int64, pol policy.Policy[string, store.Entry], clock store.Clock) *shard {
	s := &shard{
		m:       make(map[string]*node, min(capacity, 1024)),
		cap:     capacity,
		maxCost: maxCost,
		clock:   clock,
	}
	s.pol = pol.New(shardHooks{s: s})
	return s
}

// Set inserts or updates an entry and records the access with the policy.
// Returns the evictions performed to stay within budget.
func (s *shard) Set(k string, e store.Entry) ([]eviction, error) {
	cost := e.Size()
	if s.maxCost > 0 && cost > s.maxCost {
		return nil, store.ErrEntryTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.m[k]; ok {
		// In-place update: identity is preserved, only the cost delta moves.
		s.cost += cost - n.cost
		n.val = e
		n.cost = cost

		s.pol.OnUpdate(n)
		s.shrinkLocked(n)
		return s.drainLocked(), nil
	}

	// New entry path: make room first so the policy never picks the
	// entry being admitted, then insert.
	s.makeRoomLocked(cost)
	n := &node{key: k, val: e, cost: cost}
	s.m[k] = n

	if ev := s.pol.OnAdd(n); ev != nil {
		s.evictNode(ev.(*node), store.EvictPolicy)
	}
	return s.drainLocked(), nil
}

// Get returns the entry and records the access with the policy.
// An entry past its deadline is evicted and reported as a miss.
func (s *shard) Get(k string, now int64) (store.Entry, bool, []eviction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		s.misses.Add(1)
		return store.Entry{}, false, nil
	}
	if n.expired(now) {
		s.evictNode(n, store.EvictTTL)
		s.misses.Add(1)
		return store.Entry{}, false, s.drainLocked()
	}

	s.pol.OnGet(n)
	s.hits.Add(1)
	return n.val, true, nil
}

// Remove deletes an entry by key. Returns true if the entry existed.
func (s *shard) Remove(k string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		return false
	}
	s.pol.OnRemove(n)
	s.removeNode(n)
	delete(s.m, k)
	return true
}

// Len returns the number of resident entries in this shard.
func (s *shard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.len
}

// Cost returns the accounted bytes in this shard.
func (s *shard) Cost() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cost
}

// collect returns live entries whose key starts with prefix, without
// touching policy state.
func (s *shard) collect(prefix string, now int64) []pair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []pair
	for k, n := range s.m {
		if n.expired(now) || !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, pair{key: k, val: n.val})
	}
	return out
}

// purge evicts every entry past its deadline.
func (s *shard) purge(now int64) []eviction {
	s.mu.Lock()
	defer s.mu.Unlock()

	for n := s.tail; n != nil; {
		prev := n.prev
		if n.expired(now) {
			s.evictNode(n, store.EvictTTL)
		}
		n = prev
	}
	return s.drainLocked()
}

// -------------------- internals (mu held) --------------------

// insertFront inserts n at MRU in O(1).
func (s *shard) insertFront(n *node) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
	s.cost += n.cost
}

// moveToFront promotes n to MRU in O(1).
func (s *shard) moveToFront(n *node) {
	if n == s.head {
		return
	}
	// detach
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	// insert at head
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// removeNode removes n from the list and updates counters in O(1).
func (s *shard) removeNode(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.len--
	s.cost -= n.cost
	if s.cost < 0 {
		s.cost = 0
	}
}

// back returns the current LRU node in O(1).
func (s *shard) back() *node { return s.tail }

// evictNode removes the node and queues the eviction for reporting.
func (s *shard) evictNode(n *node, reason store.EvictReason) {
	s.pol.OnRemove(n)
	s.removeNode(n)
	delete(s.m, n.key)
	s.evicts.Add(1)
	s.pending = append(s.pending, eviction{key: n.key, reason: reason})
}

// makeRoomLocked evicts until one more entry of the given cost fits into
// both the count and the byte budget. Expired entries go first.
func (s *shard) makeRoomLocked(cost int64) {
	overCount := func() bool { return s.len+1 > s.cap }
	overCost := func() bool { return s.maxCost > 0 && s.cost+cost > s.maxCost }
	if !overCount() && !overCost() {
		return
	}
	s.purgeExpiredLocked()

	for overCount() {
		if !s.evictVictim(nil, store.EvictPolicy) {
			break
		}
	}
	for overCost() {
		if !s.evictVictim(nil, store.EvictCapacity) {
			break
		}
	}
}

// shrinkLocked restores the byte budget after an in-place update grew an
// entry. The updated entry itself (keep) is never chosen while others remain.
func (s *shard) shrinkLocked(keep *node) {
	if s.maxCost <= 0 || s.cost <= s.maxCost {
		return
	}
	s.purgeExpiredLocked()
	for s.cost > s.maxCost && s.len > 1 {
		if !s.evictVictim(keep, store.EvictCapacity) {
			break
		}
	}
}

func (s *shard) evictVictim(keep *node, reason store.EvictReason) bool {
	v := s.pol.Victim()
	if v == nil {
		return false
	}
	n := v.(*node)
	if n == keep {
		// Fall back to the list tail, or its neighbour when keep is the tail.
		n = s.back()
		if n == keep {
			n = keep.prev
		}
		if n == nil {
			return false
		}
	}
	s.evictNode(n, reason)
	return true
}

func (s *shard) purgeExpiredLocked() {
	now := s.clock.NowUnixNano()
	for n := s.tail; n != nil; {
		prev := n.prev
		if n.expired(now) {
			s.evictNode(n, store.EvictTTL)
		}
		n = prev
	}
}

func (s *shard) drainLocked() []eviction {
	if len(s.pending) == 0 {
		return nil
	}
	out := s.pending
	s.pending = nil
	return out
}

// -------------------- policy hooks --------------------

// shardHooks adapts the shard's list operations to policy.Hooks.
type shardHooks struct{ s *shard }

func (h shardHooks) MoveToFront(x policy.Node[string, store.Entry]) {
	h.s.moveToFront(x.(*node))
}
func (h shardHooks) PushFront(x policy.Node[string, store.Entry]) { h.s.insertFront(x.(*node)) }
func (h shardHooks) Remove(x policy.Node[string, store.Entry]) {
	// Policies call Remove while the shard lock is held.
	// Map bookkeeping is performed by the shard itself.
	h.s.removeNode(x.(*node))
}
func (h shardHooks) Back() policy.Node[string, store.Entry] {
	if t := h.s.back(); t != nil {
		return t
	}
	return nil
}
func (h shardHooks) Len() int { return h.s.len }
