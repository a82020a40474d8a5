// Package util holds the hashing and sharding helpers of store/memory.
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Hash returns a 64-bit xxhash of a physical key.
func Hash(key string) uint64 { return xxhash.Sum64String(key) }

// CacheLineSize is a reasonable default for most modern CPUs.
const CacheLineSize = 64

// CacheLinePad separates a shard's lock-protected state from its counters.
type CacheLinePad struct{ _ [CacheLineSize]byte }

// Counter is an atomic uint64 padded to one cache line, so per-shard
// counters bumped from many goroutines do not share a line.
type Counter struct {
	atomic.Uint64
	_ [CacheLineSize - 8]byte
}
