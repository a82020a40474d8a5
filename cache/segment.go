package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultTenant is used when a tenant ID is empty.
const DefaultTenant = "default"

// MaxKeyLength bounds logical keys and tenant IDs in bytes.
const MaxKeyLength = 512

const (
	tenantSep  = ":"
	lockSuffix = ":lock"
)

// Segment is a Cache view bound to one tenant. Every operation is scoped to
// that tenant's key space.
type Segment[V any] struct {
	c  Cache[V]
	id string
}

// Tenant returns the segment of id. The ID is validated on each call, so
// an invalid ID surfaces as ErrInvalidTenant from the segment's methods.
func (c *cache[V]) Tenant(id string) *Segment[V] { return &Segment[V]{c: c, id: id} }

// ID returns the tenant ID the segment is bound to.
func (s *Segment[V]) ID() string { return s.id }

// Get is Cache.Get within the segment's tenant.
func (s *Segment[V]) Get(ctx context.Context, key string) (V, bool) {
	return s.c.Get(ctx, s.id, key)
}

// GetEntry is Cache.GetEntry within the segment's tenant.
func (s *Segment[V]) GetEntry(ctx context.Context, key string) (Entry[V], bool) {
	return s.c.GetEntry(ctx, s.id, key)
}

// Set stores v under key for the segment's tenant.
func (s *Segment[V]) Set(ctx context.Context, key string, v V, ttl time.Duration) error {
	return s.c.Set(ctx, s.id, key, v, ttl)
}

// Delete removes key from the segment.
func (s *Segment[V]) Delete(ctx context.Context, key string) (int, error) {
	return s.c.Delete(ctx, s.id, key)
}

// DeleteByPattern removes the segment's keys matching pattern.
func (s *Segment[V]) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	return s.c.DeleteByPattern(ctx, s.id, pattern)
}

// FetchWithSingleFlight is Cache.FetchWithSingleFlight within the segment.
func (s *Segment[V]) FetchWithSingleFlight(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[V]) (V, error) {
	return s.c.FetchWithSingleFlight(ctx, s.id, key, ttl, fetch)
}

// GetOrLoad is Cache.GetOrLoad within the segment.
func (s *Segment[V]) GetOrLoad(ctx context.Context, key string) (V, error) {
	return s.c.GetOrLoad(ctx, s.id, key)
}

// DeleteByPattern removes the tenant's keys matching pattern. The literal
// prefix before the first '*' narrows the store scan; the full glob is then
// matched against each logical key.
func (c *cache[V]) DeleteByPattern(ctx context.Context, tenant, pattern string) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	tenant, err := normalizeTenant(tenant)
	if err != nil {
		return 0, err
	}
	if err := validateKey(pattern); err != nil {
		return 0, err
	}

	g := compileGlob(pattern)
	base := tenant + tenantSep
	var keys []string
	err = c.store.Keys(ctx, base+g.prefix(), func(pk string) bool {
		if g.match(pk[len(base):]) {
			keys = append(keys, pk)
		}
		return true
	})
	if err != nil {
		c.stats.errors.Add(1)
		return 0, fmt.Errorf("cache: scan %s: %w", pattern, err)
	}

	n := 0
	for _, pk := range keys {
		ok, err := c.store.Delete(ctx, pk)
		if err != nil {
			c.stats.errors.Add(1)
			c.stats.deletes.Add(uint64(n))
			return n, fmt.Errorf("cache: delete %s: %w", pk, err)
		}
		if ok {
			n++
		}
	}
	c.stats.deletes.Add(uint64(n))
	if n > 0 {
		c.reportSize()
	}
	c.log.Debug("cache: pattern delete", "tenant", tenant, "pattern", pattern, "deleted", n)
	return n, nil
}

// physical validates the tenant and key and returns the normalized tenant
// with the physical key.
func (c *cache[V]) physical(tenant, key string) (string, string, error) {
	t, err := normalizeTenant(tenant)
	if err != nil {
		return tenant, "", err
	}
	if err := validateKey(key); err != nil {
		return t, "", err
	}
	return t, t + tenantSep + key, nil
}

func normalizeTenant(id string) (string, error) {
	if id == "" {
		return DefaultTenant, nil
	}
	if len(id) > MaxKeyLength || strings.ContainsAny(id, tenantSep+"\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, id)
	}
	return id, nil
}

func validateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > MaxKeyLength:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidKey, len(key), MaxKeyLength)
	case strings.ContainsAny(key, "\r\n"):
		return fmt.Errorf("%w: contains line break", ErrInvalidKey)
	}
	return nil
}

// splitKey reverses physical. Tenant IDs never contain the separator.
func splitKey(pk string) (tenant, key string) {
	tenant, key, _ = strings.Cut(pk, tenantSep)
	return tenant, key
}

// glob matches '*' against any run of characters, including '/' and ':'.
type glob struct{ parts []string }

func compileGlob(pattern string) glob { return glob{parts: strings.Split(pattern, "*")} }

// prefix is the literal text before the first '*'.
func (g glob) prefix() string { return g.parts[0] }

func (g glob) match(s string) bool {
	if len(g.parts) == 1 {
		return s == g.parts[0]
	}
	first, last := g.parts[0], g.parts[len(g.parts)-1]
	if !strings.HasPrefix(s, first) {
		return false
	}
	s = s[len(first):]
	for _, mid := range g.parts[1 : len(g.parts)-1] {
		i := strings.Index(s, mid)
		if i < 0 {
			return false
		}
		s = s[i+len(mid):]
	}
	return strings.HasSuffix(s, last)
}
