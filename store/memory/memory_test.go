package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/refreshcache/policy"
	"github.com/IvanBrykalov/refreshcache/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  int64
}

func (f *fakeClock) NowUnixNano() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) add(d time.Duration) {
	f.mu.Lock()
	f.t += int64(d)
	f.mu.Unlock()
}

func entry(v string) store.Entry { return store.Entry{Value: []byte(v)} }

func mustNew(t *testing.T, opt Options) *Store {
	t.Helper()
	s, err := New(opt)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func has(t *testing.T, s *Store, k string) bool {
	t.Helper()
	_, ok, err := s.Get(context.Background(), k)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

// Deterministic LRU eviction: single shard, capacity 3.
// Reading "a" promotes it, so inserting "d" evicts "b".
func TestMemory_EvictionLRU(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var evicted []string
	s := mustNew(t, Options{
		MaxEntries: 3,
		Shards:     1,
		OnEvict:    func(k string, _ store.EvictReason) { evicted = append(evicted, k) },
	})

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, entry(k)); err != nil {
			t.Fatal(err)
		}
	}
	if !has(t, s, "a") {
		t.Fatal("expect hit for a")
	}
	if err := s.Set(ctx, "d", entry("d")); err != nil {
		t.Fatal(err)
	}

	if has(t, s, "b") {
		t.Fatal("b must be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !has(t, s, k) {
			t.Fatalf("%s must survive", k)
		}
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("evicted=%v, want [b]", evicted)
	}
	if n, _ := s.Len(ctx); n != 3 {
		t.Fatalf("Len=%d, want 3", n)
	}
}

// LFU keeps the frequently read key even though it is the oldest.
func TestMemory_EvictionLFU(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := mustNew(t, Options{MaxEntries: 2, Shards: 1, PolicyName: policy.LFU})
	_ = s.Set(ctx, "hot", entry("1"))
	_ = s.Set(ctx, "cold", entry("2"))
	for i := 0; i < 3; i++ {
		has(t, s, "hot")
	}
	_ = s.Set(ctx, "new", entry("3"))

	if !has(t, s, "hot") {
		t.Fatal("hot must survive")
	}
	if has(t, s, "cold") {
		t.Fatal("cold must be evicted")
	}
	if !has(t, s, "new") {
		t.Fatal("new entry must be admitted")
	}
}

// FIFO ignores reads: the first insertion leaves first.
func TestMemory_EvictionFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := mustNew(t, Options{MaxEntries: 2, Shards: 1, PolicyName: policy.FIFO})
	_ = s.Set(ctx, "a", entry("1"))
	_ = s.Set(ctx, "b", entry("2"))
	has(t, s, "a")
	_ = s.Set(ctx, "c", entry("3"))

	if has(t, s, "a") {
		t.Fatal("a must be evicted despite the read")
	}
	if !has(t, s, "b") || !has(t, s, "c") {
		t.Fatal("b and c must be present")
	}
}

func TestMemory_UnknownPolicy(t *testing.T) {
	t.Parallel()
	if _, err := New(Options{PolicyName: "arc"}); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

// Byte budget: writes evict until the new entry fits; an entry larger than
// the whole budget is rejected.
func TestMemory_ByteBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var reasons []store.EvictReason
	s := mustNew(t, Options{
		MaxEntries: 100,
		MaxBytes:   10,
		Shards:     1,
		OnEvict:    func(_ string, r store.EvictReason) { reasons = append(reasons, r) },
	})

	_ = s.Set(ctx, "a", entry("aaaa"))
	_ = s.Set(ctx, "b", entry("bbbb"))
	_ = s.Set(ctx, "c", entry("cccc")) // 12 bytes > 10, evicts a

	if has(t, s, "a") {
		t.Fatal("a must be evicted by the byte budget")
	}
	if got := s.Bytes(); got != 8 {
		t.Fatalf("Bytes=%d, want 8", got)
	}
	if len(reasons) != 1 || reasons[0] != store.EvictCapacity {
		t.Fatalf("reasons=%v, want [capacity]", reasons)
	}

	if err := s.Set(ctx, "big", entry("0123456789x")); !errors.Is(err, store.ErrEntryTooLarge) {
		t.Fatalf("err=%v, want ErrEntryTooLarge", err)
	}
}

// Growing an entry in place evicts others, never the entry being written.
func TestMemory_InPlaceGrowthKeepsUpdatedEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := mustNew(t, Options{MaxEntries: 10, MaxBytes: 10, Shards: 1})
	_ = s.Set(ctx, "a", entry("aa"))
	_ = s.Set(ctx, "b", entry("bb"))
	_ = s.Set(ctx, "a", entry("aaaaaaaa")) // 8 + 2 = 10 fits
	_ = s.Set(ctx, "a", entry("aaaaaaaaa")) // 9 + 2 > 10, b goes

	if !has(t, s, "a") {
		t.Fatal("updated entry must stay")
	}
	if has(t, s, "b") {
		t.Fatal("b must be evicted")
	}
}

func TestMemory_DeadlineAndPurge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := &fakeClock{t: 1}
	var ttl int
	s := mustNew(t, Options{
		Clock: clk,
		OnEvict: func(_ string, r store.EvictReason) {
			if r == store.EvictTTL {
				ttl++
			}
		},
	})

	_ = s.Set(ctx, "short", store.Entry{Value: []byte("x"), Deadline: clk.NowUnixNano() + int64(time.Second)})
	_ = s.Set(ctx, "forever", entry("y"))

	if !has(t, s, "short") {
		t.Fatal("entry must be live before its deadline")
	}
	clk.add(2 * time.Second)

	var keys []string
	_ = s.Keys(ctx, "", func(k string) bool { keys = append(keys, k); return true })
	if len(keys) != 1 || keys[0] != "forever" {
		t.Fatalf("Keys=%v, want [forever]", keys)
	}

	n, err := s.PurgeExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpired n=%d err=%v, want 1", n, err)
	}
	if has(t, s, "short") {
		t.Fatal("expired entry must be gone")
	}
	if ttl != 1 {
		t.Fatalf("ttl evictions=%d, want 1", ttl)
	}
}

func TestMemory_KeysPrefixAndEarlyStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := mustNew(t, Options{Shards: 4})
	for _, k := range []string{"t1:a", "t1:b", "t2:a", "t1:c"} {
		_ = s.Set(ctx, k, entry(k))
	}

	var got []string
	_ = s.Keys(ctx, "t1:", func(k string) bool { got = append(got, k); return true })
	sort.Strings(got)
	if fmt.Sprint(got) != "[t1:a t1:b t1:c]" {
		t.Fatalf("Keys=%v", got)
	}

	calls := 0
	_ = s.Range(ctx, "", func(string, store.Entry) bool { calls++; return false })
	if calls != 1 {
		t.Fatalf("Range must stop after fn returns false, calls=%d", calls)
	}

	if ok, _ := s.Delete(ctx, "t1:a"); !ok {
		t.Fatal("Delete must report existing key")
	}
	if ok, _ := s.Delete(ctx, "t1:a"); ok {
		t.Fatal("second Delete must report false")
	}
}

func TestMemory_LockCompareAndSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := &fakeClock{t: 1}
	s := mustNew(t, Options{Clock: clk})

	if ok, _ := s.TryLock(ctx, "k:lock", "A", time.Second); !ok {
		t.Fatal("first TryLock must succeed")
	}
	if ok, _ := s.TryLock(ctx, "k:lock", "B", time.Second); ok {
		t.Fatal("held lock must not be acquired")
	}
	if ok, _ := s.Unlock(ctx, "k:lock", "B"); ok {
		t.Fatal("non-owner must not release")
	}

	clk.add(2 * time.Second)
	if ok, _ := s.TryLock(ctx, "k:lock", "B", time.Second); !ok {
		t.Fatal("expired lock must be acquirable")
	}
	if ok, _ := s.Unlock(ctx, "k:lock", "A"); ok {
		t.Fatal("stale owner must not release the new holder")
	}
	if ok, _ := s.Unlock(ctx, "k:lock", "B"); !ok {
		t.Fatal("owner must release")
	}

	// Lock tokens are never visible as keys.
	var keys int
	_ = s.Keys(ctx, "", func(string) bool { keys++; return true })
	if keys != 0 {
		t.Fatalf("lock tokens leaked into Keys: %d", keys)
	}
}

// Only one of many concurrent contenders acquires the lock.
func TestMemory_LockExclusiveUnderContention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := mustNew(t, Options{})

	var (
		mu  sync.Mutex
		won int
		g   errgroup.Group
	)
	for i := 0; i < 64; i++ {
		owner := fmt.Sprintf("o%d", i)
		g.Go(func() error {
			ok, err := s.TryLock(ctx, "k:lock", owner, time.Minute)
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if won != 1 {
		t.Fatalf("winners=%d, want 1", won)
	}
}

// Exact capacity is respected across shards under concurrent writers.
func TestMemory_ConcurrentSetWithinCapacity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := mustNew(t, Options{MaxEntries: 512, Shards: 8})

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 1000; i++ {
				if err := s.Set(ctx, fmt.Sprintf("w%d:%d", w, i), entry("v")); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if n := s.Entries(); n > 512 {
		t.Fatalf("Entries=%d exceeds capacity", n)
	}
}

func TestMemory_ShardSelection(t *testing.T) {
	t.Parallel()
	if s := mustNew(t, Options{MaxEntries: 1 << 20}); len(s.shards) != 1 {
		t.Fatalf("default must use one shard, got %d", len(s.shards))
	}
	if s := mustNew(t, Options{MaxEntries: 10, Shards: AutoShards}); len(s.shards) != 1 {
		t.Fatalf("auto over small capacity must use one shard, got %d", len(s.shards))
	}
	if s := mustNew(t, Options{MaxEntries: 10, Shards: 3}); len(s.shards) != 4 {
		t.Fatalf("explicit shards must round up to pow2, got %d", len(s.shards))
	}
}

// Per-shard budgets add up to the configured totals.
func TestMemory_BudgetsSumExactly(t *testing.T) {
	t.Parallel()

	s := mustNew(t, Options{MaxEntries: 10_000, MaxBytes: 1000, Shards: 32})
	var entries int
	var bytes int64
	for _, sh := range s.shards {
		entries += sh.cap
		bytes += sh.maxCost
	}
	if entries != 10_000 || bytes != 1000 {
		t.Fatalf("shard budgets sum to %d entries, %d bytes", entries, bytes)
	}
	if got := s.MaxEntryBytes(); got != 1000/32 {
		t.Fatalf("MaxEntryBytes = %d, want %d", got, 1000/32)
	}
	if got := mustNew(t, Options{}).MaxEntryBytes(); got != 0 {
		t.Fatalf("unbounded bytes: MaxEntryBytes = %d, want 0", got)
	}
}

// The default store fills to exactly MaxEntries before evicting.
func TestMemory_DefaultFillsToBound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	const n = 4096
	evictions := 0
	s := mustNew(t, Options{MaxEntries: n, OnEvict: func(string, store.EvictReason) { evictions++ }})
	for i := range n {
		k := fmt.Sprintf("t:%d", i)
		_ = s.Set(ctx, k, entry(k))
	}
	if s.Entries() != n || evictions != 0 {
		t.Fatalf("entries=%d evictions=%d, want %d and 0", s.Entries(), evictions, n)
	}
	_ = s.Set(ctx, "t:extra", entry("t:extra"))
	if s.Entries() != n || evictions != 1 {
		t.Fatalf("after overflow entries=%d evictions=%d", s.Entries(), evictions)
	}
}

func TestMemory_ShardStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := mustNew(t, Options{MaxEntries: 1, Shards: 1})
	_ = s.Set(ctx, "t:a", entry("t:a"))
	_, _, _ = s.Get(ctx, "t:a")
	_, _, _ = s.Get(ctx, "t:missing")
	_ = s.Set(ctx, "t:b", entry("t:b"))

	st := s.ShardStats()
	if len(st) != 1 {
		t.Fatalf("shards=%d, want 1", len(st))
	}
	got := st[0]
	if got.Entries != 1 || got.Hits != 1 || got.Misses != 1 || got.Evictions != 1 {
		t.Fatalf("stats=%+v", got)
	}
}
