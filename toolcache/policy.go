package toolcache

import (
	"strings"
	"time"
)

// Policy configures caching behavior.
type Policy struct {
	// DefaultTTL is the TTL to use when no tool override matches.
	// If zero, caching is disabled.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Override TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration

	// ToolTTLs overrides the TTL by tool ID prefix; the longest matching
	// prefix wins. A negative value disables caching for those tools.
	ToolTTLs map[string]time.Duration
}

// DefaultPolicy returns the default caching policy.
// DefaultTTL: 5 minutes, MaxTTL: 1 hour.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     time.Hour,
	}
}

// ShouldCache returns true if caching is enabled by this policy.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// TTLFor returns the TTL for toolID, or 0 when the tool is not cached.
func (p Policy) TTLFor(toolID string) time.Duration {
	if !p.ShouldCache() {
		return 0
	}
	ttl, best := p.DefaultTTL, -1
	for prefix, d := range p.ToolTTLs {
		if len(prefix) > best && strings.HasPrefix(toolID, prefix) {
			ttl, best = d, len(prefix)
		}
	}
	if ttl <= 0 {
		return 0
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
