// Package cache provides a generic, multi-tenant, refresh-ahead cache with
// stampede protection, built for upstream metadata that changes rarely but
// is read constantly (CDN properties, zones, contracts, groups).
//
// Design
//
//   - Segmentation: every operation takes a tenant ID. Physical keys are
//     tenant + ":" + key; tenant IDs may not contain ':', so two tenants can
//     never address the same physical key. Pattern deletes are scoped to the
//     tenant prefix. Tenant(id) returns a Segment bound to one tenant.
//
//   - Storage: values are encoded by a Codec (JSON by default, msgpack or raw
//     bytes) and optionally compressed above CompressionThreshold before they
//     reach the backing store.Store. The default store is the sharded
//     in-memory store (store/memory) with LRU, LFU, FIFO or 2Q eviction; a
//     Redis store (store/redis) is available for sharing across processes.
//
//   - Expiration: an entry is Fresh until the last RefreshThreshold fraction
//     of its TTL, then Refreshable until hard expiry, then StaleServable for
//     SoftTTL, then Expired. Refreshable and StaleServable reads return the
//     value immediately and signal a background refresh.
//
//   - Stampede protection: concurrent misses in one process share a single
//     flight; across processes the flight leader takes a lock token in the
//     store (TryLock with a safety expiry). Waiters poll the store at
//     LockRetryInterval until the value appears, the lock frees up, or
//     LockWaitTimeout runs out (ErrLockTimeout).
//
//   - Cancellation: the shared fetch runs on a context detached from the
//     caller (bounded by FetchTimeout), so an abandoned caller never aborts
//     work other waiters depend on.
//
//   - Circuit breaker: upstream failures are counted; after
//     Breaker.FailureThreshold consecutive failures fetches fail fast with
//     ErrCircuitOpen until the cool-down passes and one probe succeeds.
//
//   - Refresh-ahead: at most one background refresh per key is in flight,
//     bounded globally by MaxConcurrentRefreshes. Failures are logged and
//     passed to OnRefreshError; the previous value stays servable.
//
//   - Metrics: Options.Metrics receives hit/miss/evict/fetch signals
//     (NoopMetrics by default; see metrics/prom and metrics/otel). Metrics()
//     returns a counter snapshot.
//
// Basic usage
//
//	c, err := cache.New[Property](cache.Options[Property]{
//	    MaxEntries: 10_000,
//	    DefaultTTL: 5 * time.Minute,
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	p, err := c.FetchWithSingleFlight(ctx, "acme", "property:prp_1", 0,
//	    func(ctx context.Context) (Property, error) {
//	        return api.GetProperty(ctx, "prp_1")
//	    })
//
// Tenant segments
//
//	acme := c.Tenant("acme")
//	_ = acme.Set(ctx, "zones", zones, time.Minute)
//	n, _ := acme.DeleteByPattern(ctx, "property:*")
//
// Thread-safety
//
// All methods on Cache and Segment are safe for concurrent use.
package cache
