package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FetchWithSingleFlight returns the cached value for key, or fetches it.
//
// A hit returns immediately; Refreshable and StaleServable hits also
// schedule a background refresh with fetch. On a miss, concurrent callers in
// this process join one flight. The flight leader takes the store lock
// token for the key, so callers in other processes sharing the store wait
// for the same fetch instead of issuing their own.
//
// The fetch runs on a context detached from ctx and bounded by
// FetchTimeout: cancelling ctx returns ctx.Err() to this caller only.
//
// Errors: *FetchError (matches ErrUpstreamFetch) when fetch failed,
// ErrCircuitOpen when the breaker refused the call, ErrLockTimeout when
// another fetcher did not deliver in time. A fetched value that cannot be
// cached because of its size is returned together with ErrSizeExceeded.
func (c *cache[V]) FetchWithSingleFlight(ctx context.Context, tenant, key string, ttl time.Duration, fetch FetchFunc[V]) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrClosed
	}
	if fetch == nil {
		return zero, errors.New("cache: nil fetch function")
	}
	tenant, pk, err := c.physical(tenant, key)
	if err != nil {
		return zero, err
	}
	ttl = resolveTTL(ttl, c.opt.DefaultTTL)

	if e, ok := c.serve(ctx, tenant, key, pk); ok {
		if e.State != Fresh {
			c.refresh.schedule(tenant, key, pk, ttl, fetch)
		}
		return e.Value, nil
	}

	v, err, shared := c.sf.Do(ctx, pk, func() (V, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opt.FetchTimeout)
		defer cancel()
		return c.fill(fctx, tenant, key, pk, ttl, fetch)
	})
	if shared {
		c.stats.coalesced.Add(1)
		c.opt.Metrics.Coalesced()
	}
	return v, err
}

// GetOrLoad returns the value for key, loading it through Options.Loader
// on a miss.
func (c *cache[V]) GetOrLoad(ctx context.Context, tenant, key string) (V, error) {
	if c.opt.Loader == nil {
		var zero V
		return zero, ErrNoLoader
	}
	t, err := normalizeTenant(tenant)
	if err != nil {
		var zero V
		return zero, err
	}
	return c.FetchWithSingleFlight(ctx, t, key, 0, c.loaderFetch(t, key))
}

func (c *cache[V]) loaderFetch(tenant, key string) FetchFunc[V] {
	return func(ctx context.Context) (V, error) { return c.opt.Loader(ctx, tenant, key) }
}

// fill runs inside the flight. It re-checks the store, then either becomes
// the fetcher by taking the lock token or waits for the holder: every
// LockRetryInterval it looks for the value and retries the lock, so a
// holder that fails or dies hands the fetch to a waiter.
func (c *cache[V]) fill(ctx context.Context, tenant, key, pk string, ttl time.Duration, fetch FetchFunc[V]) (V, error) {
	var zero V
	lockKey := pk + lockSuffix
	owner := uuid.NewString()
	attempts := c.lockAttempts()

	for attempt := 0; ; attempt++ {
		if se, st, ok := c.read(ctx, pk); ok {
			if e, err := c.decodeEntry(tenant, key, se, st); err == nil {
				return e.Value, nil
			}
		}

		acquired, err := c.store.TryLock(ctx, lockKey, owner, c.opt.LockTimeout)
		if err != nil {
			c.stats.errors.Add(1)
			return zero, fmt.Errorf("cache: lock %s: %w", key, err)
		}
		if acquired {
			return c.fetchLocked(ctx, tenant, key, pk, lockKey, owner, ttl, fetch)
		}

		if attempt == 0 {
			c.stats.coalesced.Add(1)
			c.opt.Metrics.Coalesced()
		}
		if attempt >= attempts {
			return zero, ErrLockTimeout
		}
		if err := sleepCtx(ctx, c.opt.LockRetryInterval); err != nil {
			return zero, fmt.Errorf("%w: %w", ErrLockTimeout, err)
		}
	}
}

// fetchLocked fetches and stores while holding the lock token.
func (c *cache[V]) fetchLocked(ctx context.Context, tenant, key, pk, lockKey, owner string, ttl time.Duration, fetch FetchFunc[V]) (V, error) {
	defer c.unlock(lockKey, owner)

	v, err := c.guardedFetch(ctx, tenant, key, fetch)
	if err != nil {
		return v, err
	}
	if err := c.put(ctx, tenant, key, pk, v, ttl); err != nil {
		if errors.Is(err, ErrSizeExceeded) || errors.Is(err, ErrSerialization) {
			return v, err
		}
		c.log.Warn("cache: fetched value not cached", "tenant", tenant, "key", key, "err", err)
	}
	return v, nil
}

// guardedFetch calls fetch through the circuit breaker.
func (c *cache[V]) guardedFetch(ctx context.Context, tenant, key string, fetch FetchFunc[V]) (v V, err error) {
	if err := c.breaker.Allow(); err != nil {
		c.stats.rejections.Add(1)
		c.opt.Metrics.CircuitRejected()
		return v, ErrCircuitOpen
	}

	start := time.Now()
	recorded := false
	defer func() {
		if !recorded {
			// fetch panicked; the breaker must not stay in its probe.
			c.breaker.Record(errors.New("cache: fetch panicked"))
		}
	}()
	v, err = fetch(ctx)
	c.breaker.Record(err)
	recorded = true

	c.stats.fetches.Add(1)
	c.opt.Metrics.Fetch(time.Since(start), err)
	if err != nil {
		c.stats.errors.Add(1)
		var zero V
		return zero, &FetchError{Tenant: tenant, Key: key, Err: err}
	}
	return v, nil
}

func (c *cache[V]) unlock(lockKey, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opt.LockTimeout)
	defer cancel()
	if _, err := c.store.Unlock(ctx, lockKey, owner); err != nil {
		c.stats.errors.Add(1)
		c.log.Warn("cache: unlock failed", "lock", lockKey, "err", err)
	}
}

// lockAttempts is how many times a waiter retries within LockWaitTimeout.
func (c *cache[V]) lockAttempts() int {
	n := int((c.opt.LockWaitTimeout + c.opt.LockRetryInterval - 1) / c.opt.LockRetryInterval)
	return max(n, 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
