package cache

import (
	"context"
	"time"
)

// NoExpiration stores an entry without a TTL.
const NoExpiration time.Duration = -1

// FetchFunc retrieves a value from the upstream.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Loader retrieves the value for a tenant key. It powers GetOrLoad and the
// background refresh of entries read through Get.
type Loader[V any] func(ctx context.Context, tenant, key string) (V, error)

// Cache is a multi-tenant, refresh-ahead cache.
// All methods are safe for concurrent use by multiple goroutines.
//
// A ttl argument of 0 selects Options.DefaultTTL; NoExpiration (or any
// negative ttl) stores the entry without expiry.
type Cache[V any] interface {
	// Get returns the value for key within tenant. Refreshable and
	// stale-servable entries are returned and trigger a background refresh
	// through Options.Loader, if one is configured.
	Get(ctx context.Context, tenant, key string) (V, bool)

	// GetEntry is like Get but also returns the entry metadata.
	GetEntry(ctx context.Context, tenant, key string) (Entry[V], bool)

	// Set inserts or replaces the value. It fails with ErrSizeExceeded when
	// the encoded value exceeds Options.MaxValueBytes.
	Set(ctx context.Context, tenant, key string, v V, ttl time.Duration) error

	// Delete removes key and returns the number of removed entries (0 or 1).
	Delete(ctx context.Context, tenant, key string) (int, error)

	// DeleteByPattern removes every key of tenant matching the glob pattern
	// ('*' matches any run of characters) and returns how many were removed.
	DeleteByPattern(ctx context.Context, tenant, pattern string) (int, error)

	// FetchWithSingleFlight returns the cached value, or calls fetch exactly
	// once across all concurrent callers for the key and caches the result.
	FetchWithSingleFlight(ctx context.Context, tenant, key string, ttl time.Duration, fetch FetchFunc[V]) (V, error)

	// GetOrLoad is FetchWithSingleFlight backed by Options.Loader with the
	// default TTL. Returns ErrNoLoader if none was configured.
	GetOrLoad(ctx context.Context, tenant, key string) (V, error)

	// Tenant returns a view bound to one tenant.
	Tenant(id string) *Segment[V]

	// Metrics returns a snapshot of the cache counters.
	Metrics() Stats

	// Len returns the number of live entries across all tenants.
	Len() int

	// Close stops background work, saves a snapshot if configured, and
	// releases the store when the cache created it.
	Close() error
}

// State classifies an entry by its age.
type State int

const (
	// Fresh entries are returned with no further action.
	Fresh State = iota
	// Refreshable entries are in the last RefreshThreshold fraction of
	// their TTL; reads trigger a background refresh.
	Refreshable
	// StaleServable entries are past hard expiry but inside SoftTTL.
	StaleServable
	// Expired entries are treated as misses.
	Expired
)

// String returns a stable label for the state.
func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Refreshable:
		return "refreshable"
	case StaleServable:
		return "stale"
	default:
		return "expired"
	}
}

// Entry is a decoded value plus its bookkeeping.
type Entry[V any] struct {
	Tenant     string
	Key        string
	Value      V
	StoredAt   time.Time
	TTL        time.Duration // 0 means no expiry
	SizeBytes  int64         // stored size, after compression
	Compressed bool
	State      State
}

// ExpiresAt is the hard expiry, or the zero time for entries without TTL.
func (e Entry[V]) ExpiresAt() time.Time {
	if e.TTL <= 0 {
		return time.Time{}
	}
	return e.StoredAt.Add(e.TTL)
}
