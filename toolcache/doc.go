// Package toolcache caches tool results for the CDN tool adapter.
//
// Read-only tool calls are keyed by tool ID and the canonical JSON of their
// input, so identical calls share one cached result and concurrent identical
// calls share one execution. Calls tagged as mutations run uncached and then
// invalidate every cached result of the same resource within the caller's
// tenant. The tenant travels in the context (WithTenant).
package toolcache
