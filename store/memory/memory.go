// Package memory provides a sharded, bounded, in-process store.Store.
//
// Design
//
//   - Concurrency: the keyspace is split into shards, each protected by an
//     RWMutex. The shard count is a power of two; the automatic choice is
//     lowered for small capacities so each shard keeps a useful slice of the
//     budget.
//
//   - Storage: each shard keeps a map[string]*node for lookups and an
//     intrusive MRU↔LRU doubly linked list for ordering.
//
//   - Bounds: MaxEntries and MaxBytes are split evenly across shards. A write
//     that would exceed a shard budget evicts policy victims before the new
//     entry is admitted, under the same lock, so accounting never drifts.
//
//   - Policies: LRU (default), LFU, FIFO and 2Q via the policy package.
//
//   - Locks: lock tokens live in a dedicated table with compare-and-set
//     semantics and their own expiry. They are never evicted and never
//     reported by Keys or Range.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/IvanBrykalov/refreshcache/internal/util"
	"github.com/IvanBrykalov/refreshcache/policy"
	"github.com/IvanBrykalov/refreshcache/policy/fifo"
	"github.com/IvanBrykalov/refreshcache/policy/lfu"
	"github.com/IvanBrykalov/refreshcache/policy/lru"
	"github.com/IvanBrykalov/refreshcache/policy/twoq"
	"github.com/IvanBrykalov/refreshcache/store"
)

// DefaultMaxEntries is used when Options.MaxEntries is not positive.
const DefaultMaxEntries = 10_000

// AutoShards sizes the shard count from GOMAXPROCS and MaxEntries.
const AutoShards = -1

// minPerShard keeps automatic sharding from slicing small budgets too thin.
const minPerShard = 256

// Options configures the memory store. Zero values are safe.
type Options struct {
	// MaxEntries bounds the number of resident entries (default 10_000).
	MaxEntries int
	// MaxBytes bounds the accounted payload bytes; 0 disables the limit.
	MaxBytes int64
	// Shards is the shard count. 0 keeps one shard: MaxEntries and MaxBytes
	// are then exact bounds and the policy's eviction order is global. A
	// positive count (rounded up to a power of two) or AutoShards spreads
	// keys over shards for less lock contention; each shard enforces its
	// slice of both budgets, so a shard may evict while the store as a whole
	// is below MaxEntries, and no single entry may exceed MaxEntryBytes.
	Shards int
	// PolicyName selects a built-in policy; ignored when Policy is set.
	PolicyName policy.Name
	// Policy overrides the eviction policy factory.
	Policy policy.Policy[string, store.Entry]
	// OnEvict is called after the shard lock is released, once per eviction.
	OnEvict func(key string, reason store.EvictReason)
	// Clock overrides the time source (tests). Nil => wall clock.
	Clock store.Clock
}

// Store is the sharded in-memory implementation of store.Store.
type Store struct {
	shards []*shard
	opt    Options

	lockMu sync.Mutex
	locks  map[string]lockToken
}

type lockToken struct {
	owner     string
	expiresAt int64
}

// New constructs a memory store.
func New(opt Options) (*Store, error) {
	if opt.MaxEntries <= 0 {
		opt.MaxEntries = DefaultMaxEntries
	}
	if opt.Clock == nil {
		opt.Clock = store.SystemClock{}
	}

	sh := util.ShardCount(opt.Shards, opt.MaxEntries, minPerShard)

	pol := opt.Policy
	if pol == nil {
		var err error
		if pol, err = builtin(opt.PolicyName, opt.MaxEntries/sh); err != nil {
			return nil, err
		}
	}

	s := &Store{
		shards: make([]*shard, sh),
		opt:    opt,
		locks:  make(map[string]lockToken),
	}
	// Per-shard budgets sum to exactly MaxEntries and MaxBytes.
	for i := range s.shards {
		capacity := int(util.SplitEven(int64(opt.MaxEntries), sh, i))
		var cost int64
		if opt.MaxBytes > 0 {
			cost = max(util.SplitEven(opt.MaxBytes, sh, i), 1)
		}
		s.shards[i] = newShard(capacity, cost, pol, opt.Clock)
	}
	return s, nil
}

// builtin resolves a policy name; 2Q queues are sized per shard.
func builtin(name policy.Name, perShardCap int) (policy.Policy[string, store.Entry], error) {
	n, err := policy.ParseName(string(name))
	if err != nil {
		return nil, err
	}
	switch n {
	case policy.LFU:
		return lfu.New[string, store.Entry](), nil
	case policy.FIFO:
		return fifo.New[string, store.Entry](), nil
	case policy.TwoQ:
		return twoq.New[string, store.Entry](twoq.ForShard(perShardCap)), nil
	default:
		return lru.New[string, store.Entry](), nil
	}
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, key string) (store.Entry, bool, error) {
	e, ok, ev := s.shardFor(key).Get(key, s.now())
	s.report(ev)
	return e, ok, nil
}

// Set implements store.Store.
func (s *Store) Set(_ context.Context, key string, e store.Entry) error {
	ev, err := s.shardFor(key).Set(key, e)
	s.report(ev)
	return err
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	return s.shardFor(key).Remove(key), nil
}

// Keys implements store.Store. Every shard is scanned; keys are collected
// under the shard read lock and fn runs without any lock held.
func (s *Store) Keys(ctx context.Context, prefix string, fn func(key string) bool) error {
	return s.Range(ctx, prefix, func(k string, _ store.Entry) bool { return fn(k) })
}

// Range implements store.Store.
func (s *Store) Range(ctx context.Context, prefix string, fn func(key string, e store.Entry) bool) error {
	now := s.now()
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, p := range sh.collect(prefix, now) {
			if !fn(p.key, p.val) {
				return nil
			}
		}
	}
	return nil
}

// Len implements store.Store.
func (s *Store) Len(context.Context) (int, error) { return s.Entries(), nil }

// Entries returns the total number of resident entries across all shards.
func (s *Store) Entries() int {
	total := 0
	for _, sh := range s.shards {
		total += sh.Len()
	}
	return total
}

// Bytes returns the total accounted payload bytes.
func (s *Store) Bytes() int64 {
	var total int64
	for _, sh := range s.shards {
		total += sh.Cost()
	}
	return total
}

// MaxEntryBytes is the largest entry every shard can admit, or 0 when
// MaxBytes is unset.
func (s *Store) MaxEntryBytes() int64 {
	var limit int64
	for _, sh := range s.shards {
		if sh.maxCost > 0 && (limit == 0 || sh.maxCost < limit) {
			limit = sh.maxCost
		}
	}
	return limit
}

// ShardStat is a point-in-time view of one shard.
type ShardStat struct {
	Entries   int
	Bytes     int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// ShardStats reports every shard, for spotting hash skew across tenants.
func (s *Store) ShardStats() []ShardStat {
	out := make([]ShardStat, len(s.shards))
	for i, sh := range s.shards {
		out[i] = ShardStat{
			Entries:   sh.Len(),
			Bytes:     sh.Cost(),
			Hits:      sh.hits.Load(),
			Misses:    sh.misses.Load(),
			Evictions: sh.evicts.Load(),
		}
	}
	return out
}

// TryLock implements store.Store. An expired token is replaced atomically.
// A non-positive ttl creates a token that never expires.
func (s *Store) TryLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	if t, ok := s.locks[key]; ok && (t.expiresAt == 0 || now < t.expiresAt) {
		return false, nil
	}
	var exp int64
	if ttl > 0 {
		exp = now + int64(ttl)
	}
	s.locks[key] = lockToken{owner: owner, expiresAt: exp}
	return true, nil
}

// Unlock implements store.Store.
func (s *Store) Unlock(_ context.Context, key, owner string) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	t, ok := s.locks[key]
	if !ok || t.owner != owner {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

// PurgeExpired implements store.Purger. It also drops expired lock tokens.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	now := s.now()
	n := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ev := sh.purge(now)
		n += len(ev)
		s.report(ev)
	}

	s.lockMu.Lock()
	for k, t := range s.locks {
		if t.expiresAt != 0 && now >= t.expiresAt {
			delete(s.locks, k)
		}
	}
	s.lockMu.Unlock()
	return n, nil
}

// Close implements store.Store. The memory store holds no external resources.
func (s *Store) Close() error { return nil }

func (s *Store) shardFor(key string) *shard {
	return s.shards[util.ShardIndex(util.Hash(key), len(s.shards))]
}

func (s *Store) now() int64 { return s.opt.Clock.NowUnixNano() }

func (s *Store) report(ev []eviction) {
	if s.opt.OnEvict == nil {
		return
	}
	for _, e := range ev {
		s.opt.OnEvict(e.key, e.reason)
	}
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Purger = (*Store)(nil)
)
