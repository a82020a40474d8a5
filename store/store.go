// Package store defines the backing-store contract used by the cache.
//
// A Store keeps opaque byte payloads together with the metadata the cache
// needs to decide freshness (StoredAt, TTL) and the deadline after which the
// store itself may drop the entry. Stores also provide lock tokens with
// compare-and-set semantics for stampede protection.
//
// Two implementations ship with the module: store/memory (sharded, in-process,
// bounded by a pluggable eviction policy) and store/redis (networked).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrEntryTooLarge is returned by Set when a single entry can never fit
// into the store's memory budget.
var ErrEntryTooLarge = errors.New("store: entry exceeds memory budget")

// Entry is a stored payload plus its bookkeeping.
type Entry struct {
	// Value is the (possibly compressed) serialized payload.
	Value []byte
	// StoredAt is the UnixNano timestamp of the last write.
	StoredAt int64
	// TTL is the entry-specific time-to-live. Non-positive means no expiry.
	TTL time.Duration
	// Deadline is the absolute UnixNano instant after which the store may
	// drop the entry (hard expiry plus any stale grace). Zero means never.
	Deadline int64
	// Compressed reports whether Value is compressed.
	Compressed bool
}

// Size is the accounted size of the entry in bytes.
func (e Entry) Size() int64 { return int64(len(e.Value)) }

// ExpiredAt reports whether the store deadline has passed at now.
func (e Entry) ExpiredAt(now int64) bool {
	return e.Deadline != 0 && now >= e.Deadline
}

// EvictReason explains why an entry was removed by the store.
type EvictReason int

const (
	// EvictPolicy: removed by the active eviction policy (entry-count bound).
	EvictPolicy EvictReason = iota
	// EvictTTL: dropped because its store deadline passed.
	EvictTTL
	// EvictCapacity: removed to satisfy the byte budget.
	EvictCapacity
)

// String returns a stable label for the reason.
func (r EvictReason) String() string {
	switch r {
	case EvictTTL:
		return "ttl"
	case EvictCapacity:
		return "capacity"
	default:
		return "policy"
	}
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// SystemClock reads the wall clock.
type SystemClock struct{}

// NowUnixNano implements Clock.
func (SystemClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// Store is the contract every backing store satisfies.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use.
//   - Get never returns an entry whose Deadline has passed.
//   - TryLock is atomic: at most one unexpired lock per key exists.
//   - Unlock only releases a lock still held by owner.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) (bool, error)

	// Keys calls fn for every live key starting with prefix, stopping early
	// when fn returns false. Lock tokens are never reported.
	Keys(ctx context.Context, prefix string, fn func(key string) bool) error
	// Range is like Keys but also yields the entry.
	Range(ctx context.Context, prefix string, fn func(key string, e Entry) bool) error
	// Len returns the number of live entries.
	Len(ctx context.Context) (int, error)

	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) (bool, error)

	Close() error
}

// Purger is implemented by stores that can proactively drop entries past
// their deadline. Stores with native expiry need not implement it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}
