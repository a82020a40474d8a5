package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/refreshcache/internal/breaker"
	"github.com/IvanBrykalov/refreshcache/internal/singleflight"
	"github.com/IvanBrykalov/refreshcache/store"
	"github.com/IvanBrykalov/refreshcache/store/memory"
)

// cache implements Cache on top of a store.Store.
// All methods are safe for concurrent use by multiple goroutines.
type cache[V any] struct {
	opt   Options[V]
	store store.Store
	owned bool // store was created by New and is closed by Close
	log   *slog.Logger

	breaker *breaker.Breaker
	// sf coalesces concurrent misses for the same physical key.
	sf      singleflight.Group[string, V]
	refresh *refresher[V]
	stats   counters
	closed  atomic.Bool

	stopReap context.CancelFunc
	reapDone chan struct{}
}

// sizer is implemented by stores that can report their footprint cheaply.
type sizer interface {
	Entries() int
	Bytes() int64
}

// New constructs a cache with the provided Options.
// Defaults:
//   - nil Store    -> sharded in-memory store (LRU unless Policy says otherwise)
//   - nil Metrics  -> NoopMetrics
//   - nil Logger   -> discard
//
// If a Snapshotter (or PersistencePath) is configured, live entries of the
// last snapshot are restored before New returns.
func New[V any](opt Options[V]) (Cache[V], error) {
	opt, err := opt.withDefaults()
	if err != nil {
		return nil, err
	}
	c := &cache[V]{opt: opt, log: opt.Logger}

	if opt.Store != nil {
		c.store = opt.Store
	} else {
		ms, err := memory.New(memory.Options{
			MaxEntries: opt.MaxEntries,
			MaxBytes:   opt.MaxMemoryBytes,
			Shards:     opt.Shards,
			PolicyName: opt.Policy,
			OnEvict:    c.onEvict,
			Clock:      opt.Clock,
		})
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		c.store, c.owned = ms, true
		if limit := ms.MaxEntryBytes(); limit > 0 && c.opt.MaxValueBytes > limit {
			c.log.Warn("cache: MaxValueBytes lowered to the per-shard byte budget",
				"max_value_bytes", c.opt.MaxValueBytes, "limit", limit, "shards", opt.Shards)
			c.opt.MaxValueBytes = limit
		}
	}

	c.breaker = breaker.New(breaker.Config{
		FailureThreshold: opt.Breaker.FailureThreshold,
		Cooldown:         opt.Breaker.Cooldown,
		MaxCooldown:      opt.Breaker.MaxCooldown,
		Now:              func() time.Time { return time.Unix(0, opt.Clock.NowUnixNano()) },
		OnStateChange: func(from, to breaker.State) {
			c.opt.Metrics.CircuitState(to.String())
			c.log.Warn("cache: upstream circuit changed state", "from", from.String(), "to", to.String())
		},
	})
	c.refresh = newRefresher(c)

	if opt.Snapshotter != nil {
		c.restore(context.Background())
	}
	c.startReaper()
	return c, nil
}

// ---- Cache[V] implementation ----

// Get returns the value for key within tenant and a presence flag.
func (c *cache[V]) Get(ctx context.Context, tenant, key string) (V, bool) {
	e, ok := c.GetEntry(ctx, tenant, key)
	return e.Value, ok
}

// GetEntry returns the decoded entry. Non-fresh hits schedule a background
// refresh through Options.Loader when one is configured.
func (c *cache[V]) GetEntry(ctx context.Context, tenant, key string) (Entry[V], bool) {
	if c.closed.Load() {
		return Entry[V]{}, false
	}
	tenant, pk, err := c.physical(tenant, key)
	if err != nil {
		c.log.Debug("cache: rejected lookup", "tenant", tenant, "key", key, "err", err)
		return Entry[V]{}, false
	}
	e, ok := c.serve(ctx, tenant, key, pk)
	if ok && e.State != Fresh && c.opt.Loader != nil {
		c.refresh.schedule(tenant, key, pk, e.TTL, c.loaderFetch(tenant, key))
	}
	return e, ok
}

// Set inserts or replaces the value for key within tenant.
func (c *cache[V]) Set(ctx context.Context, tenant, key string, v V, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	tenant, pk, err := c.physical(tenant, key)
	if err != nil {
		return err
	}
	return c.put(ctx, tenant, key, pk, v, resolveTTL(ttl, c.opt.DefaultTTL))
}

// Delete removes key within tenant.
func (c *cache[V]) Delete(ctx context.Context, tenant, key string) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	_, pk, err := c.physical(tenant, key)
	if err != nil {
		return 0, err
	}
	ok, err := c.store.Delete(ctx, pk)
	if err != nil {
		c.stats.errors.Add(1)
		return 0, fmt.Errorf("cache: delete %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	c.stats.deletes.Add(1)
	c.reportSize()
	return 1, nil
}

// Len returns the number of live entries reported by the store.
func (c *cache[V]) Len() int {
	n, err := c.store.Len(context.Background())
	if err != nil {
		c.log.Warn("cache: store length failed", "err", err)
		return 0
	}
	return n
}

// Metrics returns a snapshot of the counters.
func (c *cache[V]) Metrics() Stats { return c.stats.snapshot() }

// Close stops refreshes and the reaper, saves the snapshot, and closes the
// store if New created it. Subsequent calls return nil.
func (c *cache[V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.refresh.close()
	c.stopReaper()

	var errs []error
	if c.opt.Snapshotter != nil {
		if err := c.save(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if c.owned {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ---- helpers ----

func (c *cache[V]) now() int64 { return c.opt.Clock.NowUnixNano() }

// read fetches and classifies the stored entry. Expired entries and store
// errors read as absent.
func (c *cache[V]) read(ctx context.Context, pk string) (store.Entry, State, bool) {
	se, ok, err := c.store.Get(ctx, pk)
	if err != nil {
		c.stats.errors.Add(1)
		c.log.Warn("cache: store get failed", "key", pk, "err", err)
		return store.Entry{}, Expired, false
	}
	if !ok {
		return store.Entry{}, Expired, false
	}
	st := classify(c.now(), se, c.opt.RefreshThreshold, c.opt.SoftTTL)
	if st == Expired {
		return store.Entry{}, Expired, false
	}
	return se, st, true
}

// serve is read + decode with hit/miss accounting. An entry that cannot be
// decoded is dropped and counts as a miss.
func (c *cache[V]) serve(ctx context.Context, tenant, key, pk string) (Entry[V], bool) {
	if se, st, ok := c.read(ctx, pk); ok {
		e, err := c.decodeEntry(tenant, key, se, st)
		if err == nil {
			c.stats.hits.Add(1)
			c.opt.Metrics.Hit()
			if st == StaleServable {
				c.stats.staleHits.Add(1)
				c.opt.Metrics.StaleHit()
			}
			return e, true
		}
		c.stats.errors.Add(1)
		c.log.Warn("cache: dropping undecodable entry", "tenant", tenant, "key", key, "err", err)
		_, _ = c.store.Delete(ctx, pk)
	}
	c.stats.misses.Add(1)
	c.opt.Metrics.Miss()
	return Entry[V]{}, false
}

// put encodes and stores v under pk.
func (c *cache[V]) put(ctx context.Context, tenant, key, pk string, v V, ttl time.Duration) error {
	se, err := c.encode(tenant, key, v, ttl)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, pk, se); err != nil {
		if errors.Is(err, store.ErrEntryTooLarge) {
			return fmt.Errorf("%w: %s is %d bytes", ErrSizeExceeded, key, len(se.Value))
		}
		c.stats.errors.Add(1)
		return fmt.Errorf("cache: store set %s: %w", key, err)
	}
	c.stats.sets.Add(1)
	c.reportSize()
	return nil
}

// encode serializes v, compressing above the threshold. A compression
// failure falls back to the uncompressed payload.
func (c *cache[V]) encode(tenant, key string, v V, ttl time.Duration) (store.Entry, error) {
	raw, err := c.opt.Codec.Marshal(v)
	if err != nil {
		return store.Entry{}, fmt.Errorf("%w: %s: %w", ErrSerialization, key, err)
	}

	payload, compressed := raw, false
	if t := c.opt.CompressionThreshold; t > 0 && len(raw) > t {
		z, err := c.opt.Compressor.Compress(raw)
		switch {
		case err != nil:
			c.log.Warn("cache: compression failed, storing uncompressed",
				"tenant", tenant, "key", key, "compressor", c.opt.Compressor.Name(), "err", err)
		case len(z) < len(raw):
			payload, compressed = z, true
		}
	}
	if int64(len(payload)) > c.opt.MaxValueBytes {
		return store.Entry{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrSizeExceeded, key, len(payload), c.opt.MaxValueBytes)
	}

	now := c.now()
	return store.Entry{
		Value:      payload,
		StoredAt:   now,
		TTL:        ttl,
		Deadline:   deadline(now, ttl, c.opt.SoftTTL),
		Compressed: compressed,
	}, nil
}

func (c *cache[V]) decodeEntry(tenant, key string, se store.Entry, st State) (Entry[V], error) {
	raw := se.Value
	if se.Compressed {
		var err error
		if raw, err = c.opt.Compressor.Decompress(raw); err != nil {
			return Entry[V]{}, fmt.Errorf("%w: %w", ErrSerialization, err)
		}
	}
	v, err := c.opt.Codec.Unmarshal(raw)
	if err != nil {
		return Entry[V]{}, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	ttl := se.TTL
	if ttl < 0 {
		ttl = 0
	}
	return Entry[V]{
		Tenant:     tenant,
		Key:        key,
		Value:      v,
		StoredAt:   time.Unix(0, se.StoredAt),
		TTL:        ttl,
		SizeBytes:  se.Size(),
		Compressed: se.Compressed,
		State:      st,
	}, nil
}

// onEvict receives evictions from the default memory store.
func (c *cache[V]) onEvict(pk string, reason store.EvictReason) {
	c.stats.evictions.Add(1)
	c.opt.Metrics.Evict(reason)
	if c.opt.OnEvict != nil {
		tenant, key := splitKey(pk)
		c.opt.OnEvict(tenant, key, reason)
	}
}

func (c *cache[V]) reportSize() {
	if s, ok := c.store.(sizer); ok {
		c.opt.Metrics.Size(s.Entries(), s.Bytes())
	}
}
