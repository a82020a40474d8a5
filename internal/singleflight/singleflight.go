// Package singleflight coalesces concurrent calls for the same key.
package singleflight

import (
	"context"
	"fmt"
	"sync"
)

// Group coalesces concurrent function calls for the same key K so that
// the supplied fn is executed at most once per flight. Other concurrent
// callers wait for the shared result.
//
// Concurrency notes:
//   - The first caller for a given key starts the flight: fn runs in its
//     own goroutine, so no caller (the starter included) is bound to it.
//   - Every caller waits on c.done or its own ctx. Publishing (val, err)
//     happens-before close(c.done), so reads after <-done observe the
//     final values.
//   - Cancelling ctx unblocks only that caller. The flight keeps running
//     and its result is still delivered to everyone else still waiting.
//     fn receives no context from Do; callers that want a deadline on the
//     work bind it themselves.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
}

// Do runs fn once for the given key. Concurrent calls with the same key
// wait for the shared result. shared reports whether the caller joined a
// flight started by someone else.
//
// If ctx is cancelled before the flight completes, Do returns ctx.Err()
// while fn continues to run to completion.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	c, ok := g.m[key]
	if !ok {
		c = &call[V]{done: make(chan struct{})}
		g.m[key] = c
		go g.run(key, c, fn)
	}
	g.mu.Unlock()

	select {
	case <-c.done:
		return c.val, c.err, ok
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err(), ok
	}
}

// InFlight reports whether a flight for key is currently running.
func (g *Group[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

func (g *Group[K, V]) run(key K, c *call[V], fn func() (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("singleflight: panic: %v", r)
		}
		// Remove the in-flight marker before waking waiters, so a caller
		// that observes the result and retries starts a new flight.
		g.mu.Lock()
		delete(g.m, key)
		g.mu.Unlock()
		close(c.done)
	}()
	c.val, c.err = fn()
}
