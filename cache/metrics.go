package cache

import (
	"sync/atomic"
	"time"
)

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	// StaleHit is reported in addition to Hit for values served after
	// hard expiry.
	StaleHit()
	Evict(reason EvictReason)
	Size(entries int, cost int64)
	// Fetch observes one upstream call; err is the fetch outcome.
	Fetch(d time.Duration, err error)
	// Coalesced counts callers that reused another caller's fetch.
	Coalesced()
	// Refresh counts started background refreshes.
	Refresh()
	// CircuitRejected counts fetches refused by the open breaker.
	CircuitRejected()
	// CircuitState reports breaker transitions ("closed", "open", "half-open").
	CircuitState(state string)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is safe for concurrent use and intended as the default when
// no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                         {}
func (NoopMetrics) Miss()                        {}
func (NoopMetrics) StaleHit()                    {}
func (NoopMetrics) Evict(EvictReason)            {}
func (NoopMetrics) Size(entries int, cost int64) {}
func (NoopMetrics) Fetch(time.Duration, error)   {}
func (NoopMetrics) Coalesced()                   {}
func (NoopMetrics) Refresh()                     {}
func (NoopMetrics) CircuitRejected()             {}
func (NoopMetrics) CircuitState(string)          {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}

// Stats is an immutable snapshot of the cache counters.
type Stats struct {
	Hits                uint64
	Misses              uint64
	StaleHits           uint64
	Errors              uint64
	Evictions           uint64
	FetchesCoalesced    uint64
	BackgroundRefreshes uint64
	Fetches             uint64
	CircuitRejections   uint64
	Sets                uint64
	Deletes             uint64
}

// HitRate is Hits / (Hits + Misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// counters are monotonically increasing; snapshot reads each atomically.
type counters struct {
	hits, misses, staleHits, errors, evictions atomic.Uint64
	coalesced, refreshes, fetches, rejections  atomic.Uint64
	sets, deletes                              atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:                c.hits.Load(),
		Misses:              c.misses.Load(),
		StaleHits:           c.staleHits.Load(),
		Errors:              c.errors.Load(),
		Evictions:           c.evictions.Load(),
		FetchesCoalesced:    c.coalesced.Load(),
		BackgroundRefreshes: c.refreshes.Load(),
		Fetches:             c.fetches.Load(),
		CircuitRejections:   c.rejections.Load(),
		Sets:                c.sets.Load(),
		Deletes:             c.deletes.Load(),
	}
}
