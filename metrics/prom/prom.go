// Package prom exports cache metrics to Prometheus.
package prom

import (
	"time"

	"github.com/IvanBrykalov/refreshcache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

var circuitStates = []string{"closed", "open", "half-open"}

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	staleHits  prometheus.Counter
	evicts     *prometheus.CounterVec
	sizeEnt    prometheus.Gauge
	sizeCost   prometheus.Gauge
	fetches    *prometheus.CounterVec
	fetchDur   prometheus.Histogram
	coalesced  prometheus.Counter
	refreshes  prometheus.Counter
	rejections prometheus.Counter
	circuit    *prometheus.GaugeVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	a := &Adapter{
		hits:      counter("hits_total", "Cache hits, stale hits included"),
		misses:    counter("misses_total", "Cache misses"),
		staleHits: counter("stale_hits_total", "Values served after hard expiry"),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Cache evictions by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}),
		sizeCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_bytes",
			Help:        "Total resident payload bytes",
			ConstLabels: constLabels,
		}),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "fetches_total",
				Help:        "Upstream fetches by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		fetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "fetch_duration_seconds",
			Help:        "Upstream fetch latency",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		coalesced:  counter("fetches_coalesced_total", "Callers that reused another caller's fetch"),
		refreshes:  counter("refreshes_total", "Background refreshes started"),
		rejections: counter("circuit_rejections_total", "Fetches refused by the open circuit"),
		circuit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "circuit_state",
				Help:        "1 for the current upstream circuit state",
				ConstLabels: constLabels,
			},
			[]string{"state"},
		),
	}
	reg.MustRegister(a.hits, a.misses, a.staleHits, a.evicts, a.sizeEnt, a.sizeCost,
		a.fetches, a.fetchDur, a.coalesced, a.refreshes, a.rejections, a.circuit)
	a.CircuitState("closed")
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

func (a *Adapter) StaleHit() { a.staleHits.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Size updates gauges for the number of entries and total bytes.
func (a *Adapter) Size(entries int, cost int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeCost.Set(float64(cost))
}

// Fetch records one upstream call.
func (a *Adapter) Fetch(d time.Duration, err error) {
	a.fetchDur.Observe(d.Seconds())
	if err != nil {
		a.fetches.WithLabelValues("error").Inc()
		return
	}
	a.fetches.WithLabelValues("ok").Inc()
}

func (a *Adapter) Coalesced()       { a.coalesced.Inc() }
func (a *Adapter) Refresh()         { a.refreshes.Inc() }
func (a *Adapter) CircuitRejected() { a.rejections.Inc() }

// CircuitState sets the gauge of state to 1 and the others to 0.
func (a *Adapter) CircuitState(state string) {
	for _, s := range circuitStates {
		v := 0.0
		if s == state {
			v = 1
		}
		a.circuit.WithLabelValues(s).Set(v)
	}
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
