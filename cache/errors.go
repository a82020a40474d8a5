package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrSizeExceeded is returned when a single encoded value is larger
	// than Options.MaxValueBytes or can never fit the memory budget.
	ErrSizeExceeded = errors.New("cache: value size exceeds limit")

	// ErrLockTimeout is returned when a caller gave up waiting for another
	// fetcher to populate the key. It is retryable.
	ErrLockTimeout = errors.New("cache: timed out waiting for in-flight fetch")

	// ErrCircuitOpen is returned when the upstream breaker is open and the
	// fetch was not attempted.
	ErrCircuitOpen = errors.New("cache: circuit open")

	// ErrUpstreamFetch matches every *FetchError.
	ErrUpstreamFetch = errors.New("cache: upstream fetch failed")

	// ErrSerialization is returned when a value cannot be encoded.
	ErrSerialization = errors.New("cache: serialization failed")

	// ErrInvalidKey is returned for empty, oversized, or multi-line keys.
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrInvalidTenant is returned for tenant IDs that could collide with
	// another tenant's key space.
	ErrInvalidTenant = errors.New("cache: invalid tenant")

	// ErrNoLoader is returned by GetOrLoad when no Loader was configured.
	ErrNoLoader = errors.New("cache: no Loader provided")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache: closed")
)

// FetchError wraps an error returned by a fetch function.
type FetchError struct {
	Tenant string
	Key    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("cache: fetch %s:%s: %v", e.Tenant, e.Key, e.Err)
}

// Unwrap returns the upstream error.
func (e *FetchError) Unwrap() error { return e.Err }

// Is reports ErrUpstreamFetch as matching.
func (e *FetchError) Is(target error) bool { return target == ErrUpstreamFetch }
