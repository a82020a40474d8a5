package cache

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/IvanBrykalov/refreshcache/compress"
	"github.com/IvanBrykalov/refreshcache/persist"
	"github.com/IvanBrykalov/refreshcache/policy"
	"github.com/IvanBrykalov/refreshcache/store"
	"github.com/IvanBrykalov/refreshcache/store/memory"
)

// EvictReason explains why an entry was removed by the store.
type EvictReason = store.EvictReason

const (
	// EvictPolicy: removed by the active eviction policy (entry-count bound).
	EvictPolicy = store.EvictPolicy
	// EvictTTL: dropped after its deadline passed.
	EvictTTL = store.EvictTTL
	// EvictCapacity: removed to satisfy the byte budget.
	EvictCapacity = store.EvictCapacity
)

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock = store.Clock

// AutoShards sizes the default store's shard count from GOMAXPROCS.
const AutoShards = memory.AutoShards

// Defaults applied by New for zero-valued options.
const (
	DefaultMaxEntries             = 10_000
	DefaultMaxMemoryBytes         = 256 << 20
	DefaultMaxValueBytes          = 32 << 20
	DefaultTTL                    = 5 * time.Minute
	DefaultRefreshThreshold       = 0.2
	DefaultLockTimeout            = 10 * time.Second
	DefaultLockRetryInterval      = 50 * time.Millisecond
	DefaultFetchTimeout           = 30 * time.Second
	DefaultMaxConcurrentRefreshes = 64
)

// BreakerOptions configures the upstream circuit breaker.
type BreakerOptions struct {
	// FailureThreshold consecutive failures open the circuit (default 5).
	FailureThreshold int
	// Cooldown is the base open period (default 30s).
	Cooldown time.Duration
	// MaxCooldown caps the extended cool-down after failed probes (default 5m).
	MaxCooldown time.Duration
}

// Options configures the cache. Zero values are safe; defaults are applied
// in New():
//   - nil Store     => in-memory store sized by MaxEntries/MaxMemoryBytes
//   - nil Codec     => Bytes for []byte values, JSON otherwise
//   - nil Metrics   => NoopMetrics
//   - nil Logger    => discard
type Options[V any] struct {
	// Bounds of the default in-memory store.
	MaxEntries     int
	MaxMemoryBytes int64
	// Shards of the default in-memory store. 0 keeps one shard, so
	// MaxEntries and MaxMemoryBytes are exact and eviction order is global.
	// A positive count, or AutoShards, splits both budgets across shards
	// for less lock contention: eviction becomes per shard, and
	// MaxValueBytes is lowered to the per-shard byte budget if it is larger.
	Shards int
	// Policy selects the eviction policy of the default store (lru by default).
	Policy policy.Name

	// MaxValueBytes rejects single values larger than this after compression.
	MaxValueBytes int64

	// DefaultTTL applies when a ttl argument is 0.
	DefaultTTL time.Duration
	// RefreshThreshold is the fraction of TTL, counted back from hard
	// expiry, during which reads trigger a background refresh. Must be in
	// [0, 1); 0 selects DefaultRefreshThreshold.
	RefreshThreshold float64
	// SoftTTL is the grace period after hard expiry during which the stale
	// value is still served while it is refreshed. 0 disables it.
	SoftTTL time.Duration

	// LockTimeout is the safety expiry of a fetch lock token.
	LockTimeout time.Duration
	// LockRetryInterval is the pause between checks while another caller
	// holds the fetch lock.
	LockRetryInterval time.Duration
	// LockWaitTimeout bounds how long a caller waits for another fetcher
	// (default 2×LockTimeout).
	LockWaitTimeout time.Duration
	// FetchTimeout bounds a single fetch on its detached context.
	FetchTimeout time.Duration

	// CompressionThreshold compresses encoded values larger than this many
	// bytes; 0 disables compression.
	CompressionThreshold int
	// Compressor used above the threshold and for reading compressed
	// entries (default zstd).
	Compressor compress.Compressor
	// Codec encodes values for the store.
	Codec Codec[V]

	// Breaker configures the upstream circuit breaker.
	Breaker BreakerOptions

	// MaxConcurrentRefreshes bounds background refreshes across all keys.
	MaxConcurrentRefreshes int
	// Loader is used by GetOrLoad and by refreshes triggered from Get.
	Loader Loader[V]
	// OnRefreshError receives background refresh failures.
	OnRefreshError func(tenant, key string, err error)
	// OnEvict is called after an entry of the default store is evicted.
	OnEvict func(tenant, key string, reason EvictReason)

	// Store overrides the backing store. A caller-provided store is not
	// closed by Close.
	Store store.Store

	// Snapshotter restores entries in New and saves them in Close.
	Snapshotter persist.Snapshotter
	// PersistencePath is shorthand for a file Snapshotter.
	PersistencePath string

	// ReapInterval periodically drops entries past their store deadline
	// (stores implementing store.Purger). 0 disables the reaper.
	ReapInterval time.Duration

	// Observability
	Metrics Metrics
	Logger  *slog.Logger

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}

// withDefaults returns a copy with zero values replaced.
func (o Options[V]) withDefaults() (Options[V], error) {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.MaxMemoryBytes <= 0 {
		o.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if o.MaxValueBytes <= 0 {
		o.MaxValueBytes = DefaultMaxValueBytes
	}
	if o.DefaultTTL == 0 {
		o.DefaultTTL = DefaultTTL
	}
	if o.RefreshThreshold < 0 || o.RefreshThreshold >= 1 {
		return o, fmt.Errorf("cache: RefreshThreshold %v out of range [0,1)", o.RefreshThreshold)
	}
	if o.RefreshThreshold == 0 {
		o.RefreshThreshold = DefaultRefreshThreshold
	}
	if o.SoftTTL < 0 {
		return o, fmt.Errorf("cache: negative SoftTTL %v", o.SoftTTL)
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.LockRetryInterval <= 0 {
		o.LockRetryInterval = DefaultLockRetryInterval
	}
	if o.LockWaitTimeout <= 0 {
		o.LockWaitTimeout = 2 * o.LockTimeout
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.CompressionThreshold < 0 {
		return o, fmt.Errorf("cache: negative CompressionThreshold %d", o.CompressionThreshold)
	}
	if o.Compressor == nil {
		z, err := compress.NewZstd()
		if err != nil {
			return o, err
		}
		o.Compressor = z
	}
	if o.Codec == nil {
		o.Codec = defaultCodec[V]()
	}
	if o.MaxConcurrentRefreshes <= 0 {
		o.MaxConcurrentRefreshes = DefaultMaxConcurrentRefreshes
	}
	if o.Snapshotter == nil && o.PersistencePath != "" {
		o.Snapshotter = persist.NewFile(o.PersistencePath)
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Clock == nil {
		o.Clock = store.SystemClock{}
	}
	return o, nil
}
