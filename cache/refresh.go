package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// refresher runs background refreshes. A key has at most one refresh in
// flight; sem bounds them globally. Scheduling never blocks the caller:
// when the limit is reached the signal is dropped and the next read of the
// key signals again.
type refresher[V any] struct {
	c   *cache[V]
	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{} // physical keys
	closed   bool
}

func newRefresher[V any](c *cache[V]) *refresher[V] {
	ctx, cancel := context.WithCancel(context.Background())
	return &refresher[V]{
		c:        c,
		sem:      semaphore.NewWeighted(int64(c.opt.MaxConcurrentRefreshes)),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

// schedule starts a refresh of pk unless one is already running.
// Reports whether a refresh was started.
func (r *refresher[V]) schedule(tenant, key, pk string, ttl time.Duration, fetch FetchFunc[V]) bool {
	if r.c.sf.InFlight(pk) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if _, busy := r.inflight[pk]; busy {
		return false
	}
	if !r.sem.TryAcquire(1) {
		r.c.log.Debug("cache: refresh dropped, limit reached", "tenant", tenant, "key", key)
		return false
	}
	r.inflight[pk] = struct{}{}
	r.wg.Add(1)

	r.c.stats.refreshes.Add(1)
	r.c.opt.Metrics.Refresh()
	go r.run(tenant, key, pk, ttl, fetch)
	return true
}

func (r *refresher[V]) run(tenant, key, pk string, ttl time.Duration, fetch FetchFunc[V]) {
	defer func() {
		if rec := recover(); rec != nil {
			r.c.stats.errors.Add(1)
			r.fail(tenant, key, fmt.Errorf("cache: refresh panic: %v", rec))
		}
		r.mu.Lock()
		delete(r.inflight, pk)
		r.mu.Unlock()
		r.sem.Release(1)
		r.wg.Done()
	}()

	ctx, cancel := context.WithTimeout(r.ctx, r.c.opt.FetchTimeout)
	defer cancel()
	if err := r.c.refreshKey(ctx, tenant, key, pk, ttl, fetch); err != nil {
		r.fail(tenant, key, err)
	}
}

func (r *refresher[V]) fail(tenant, key string, err error) {
	r.c.log.Warn("cache: background refresh failed", "tenant", tenant, "key", key, "err", err)
	if r.c.opt.OnRefreshError != nil {
		r.c.opt.OnRefreshError(tenant, key, err)
	}
}

// close cancels running refreshes and waits for them to return.
func (r *refresher[V]) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

// refreshKey re-fetches pk under its lock token. If another caller or
// process holds the lock the refresh is already happening and is skipped.
// On failure the current value stays in place.
func (c *cache[V]) refreshKey(ctx context.Context, tenant, key, pk string, ttl time.Duration, fetch FetchFunc[V]) error {
	lockKey := pk + lockSuffix
	owner := uuid.NewString()
	acquired, err := c.store.TryLock(ctx, lockKey, owner, c.opt.LockTimeout)
	if err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache: lock %s: %w", key, err)
	}
	if !acquired {
		c.log.Debug("cache: refresh skipped, lock held", "tenant", tenant, "key", key)
		return nil
	}
	defer c.unlock(lockKey, owner)

	v, err := c.guardedFetch(ctx, tenant, key, fetch)
	if err != nil {
		return err
	}
	return c.put(ctx, tenant, key, pk, v, ttl)
}
