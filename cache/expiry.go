package cache

import (
	"time"

	"github.com/IvanBrykalov/refreshcache/store"
)

// classify places an entry on its lifecycle at now.
//
//	storedAt ──fresh── refreshAt ──refreshable── hard ──stale── hard+soft ── expired
//
// refreshAt = storedAt + ttl*(1-threshold). Entries without TTL stay fresh.
func classify(now int64, e store.Entry, threshold float64, soft time.Duration) State {
	if e.TTL <= 0 {
		return Fresh
	}
	ttl := int64(e.TTL)
	hard := e.StoredAt + ttl
	refreshAt := e.StoredAt + int64(float64(ttl)*(1-threshold))

	switch {
	case now < refreshAt:
		return Fresh
	case now < hard:
		return Refreshable
	case soft > 0 && now < hard+int64(soft):
		return StaleServable
	default:
		return Expired
	}
}

// resolveTTL maps the API ttl argument onto the stored TTL (0 = none).
func resolveTTL(ttl, def time.Duration) time.Duration {
	if ttl == 0 {
		ttl = def
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}

// deadline is the instant the store may drop the entry: hard expiry plus
// the stale grace. 0 means never.
func deadline(storedAt int64, ttl, soft time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return storedAt + int64(ttl) + int64(soft)
}
