package toolcache

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/IvanBrykalov/refreshcache/cache"
)

// ExecutorFunc is the function signature for tool execution.
type ExecutorFunc func(ctx context.Context, toolID string, input any) ([]byte, error)

// UnsafeTags mark tools with side effects. They are never cached and their
// success invalidates the cached results of their resource.
var UnsafeTags = []string{"write", "danger", "unsafe", "mutation", "delete"}

// IsUnsafe reports whether any tag is unsafe. Matching is case-insensitive.
func IsUnsafe(tags []string) bool {
	return slices.ContainsFunc(tags, func(tag string) bool {
		return slices.Contains(UnsafeTags, strings.ToLower(tag))
	})
}

// Options configures a Middleware. Zero values are safe.
type Options struct {
	Keyer  Keyer  // nil => DefaultKeyer
	Policy Policy // zero => caching disabled; see DefaultPolicy
	Logger *slog.Logger
}

// Middleware wraps tool execution with the cache.
type Middleware struct {
	cache  cache.Cache[[]byte]
	keyer  Keyer
	policy Policy
	log    *slog.Logger
}

// New creates a middleware on c.
func New(c cache.Cache[[]byte], opt Options) *Middleware {
	if opt.Keyer == nil {
		opt.Keyer = DefaultKeyer{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}
	return &Middleware{cache: c, keyer: opt.Keyer, policy: opt.Policy, log: opt.Logger}
}

// Execute runs the tool through the cache.
//
// Safe tools: a cached result is returned without calling executor; on a
// miss concurrent identical calls share one executor run. Errors are not
// cached. Unsafe tools always run; on success the tenant's cached results
// for Resource(toolID) are dropped.
func (m *Middleware) Execute(ctx context.Context, toolID string, input any, tags []string, executor ExecutorFunc) ([]byte, error) {
	tenant := TenantFrom(ctx)
	if IsUnsafe(tags) {
		out, err := executor(ctx, toolID, input)
		if err != nil {
			return out, err
		}
		m.Invalidate(ctx, tenant, Resource(toolID))
		return out, nil
	}

	ttl := m.policy.TTLFor(toolID)
	if ttl <= 0 {
		return executor(ctx, toolID, input)
	}
	key, err := m.keyer.Key(toolID, input)
	if err != nil {
		m.log.Debug("toolcache: key generation failed, running uncached", "tool", toolID, "err", err)
		return executor(ctx, toolID, input)
	}

	out, err := m.cache.FetchWithSingleFlight(ctx, tenant, key, ttl, func(fctx context.Context) ([]byte, error) {
		return executor(fctx, toolID, input)
	})
	if errors.Is(err, cache.ErrSizeExceeded) {
		// The result is valid; it just does not fit.
		m.log.Debug("toolcache: result too large to cache", "tool", toolID, "bytes", len(out))
		return out, nil
	}
	return out, err
}

// Invalidate removes the tenant's cached results of resource and returns
// how many were removed: results of the tools under it ("<resource>.*") and
// of the tool named exactly resource, so a dot-less read tool is dropped by
// its mutations too. Failures are logged.
func (m *Middleware) Invalidate(ctx context.Context, tenant, resource string) int {
	n := 0
	for _, pattern := range []string{resource + ".*", resource + ":*"} {
		d, err := m.cache.DeleteByPattern(ctx, tenant, pattern)
		n += d
		if err != nil {
			m.log.Warn("toolcache: invalidation failed", "tenant", tenant, "resource", resource, "err", err)
			return n
		}
	}
	m.log.Debug("toolcache: invalidated", "tenant", tenant, "resource", resource, "entries", n)
	return n
}
