// Package otelmetrics exports cache metrics through an OpenTelemetry meter.
//
// Instruments:
//
//	refreshcache.lookups          {lookup}  result=hit|miss|stale
//	refreshcache.evictions        {entry}   reason=policy|ttl|capacity
//	refreshcache.fetches          {call}    outcome=ok|error
//	refreshcache.fetch.duration   ms
//	refreshcache.coalesced        {call}
//	refreshcache.refreshes        {call}
//	refreshcache.circuit.rejected {call}
//	refreshcache.circuit.state    1 for the current state, state=closed|open|half-open
//	refreshcache.entries          {entry}
//	refreshcache.bytes            By
package otelmetrics

import (
	"context"
	"time"

	"github.com/IvanBrykalov/refreshcache/cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName is the instrumentation scope used when no meter is given.
const ScopeName = "github.com/IvanBrykalov/refreshcache"

var (
	hitAttr   = metric.WithAttributes(attribute.String("result", "hit"))
	missAttr  = metric.WithAttributes(attribute.String("result", "miss"))
	staleAttr = metric.WithAttributes(attribute.String("result", "stale"))
	okAttr    = metric.WithAttributes(attribute.String("outcome", "ok"))
	errAttr   = metric.WithAttributes(attribute.String("outcome", "error"))

	circuitStates = []string{"closed", "open", "half-open"}
)

// Adapter implements cache.Metrics on OpenTelemetry instruments.
type Adapter struct {
	attrs metric.MeasurementOption

	lookups    metric.Int64Counter
	evictions  metric.Int64Counter
	fetches    metric.Int64Counter
	fetchDur   metric.Float64Histogram
	coalesced  metric.Int64Counter
	refreshes  metric.Int64Counter
	rejections metric.Int64Counter
	circuit    metric.Int64Gauge
	entries    metric.Int64Gauge
	bytes      metric.Int64Gauge
}

// New creates the instruments on meter (nil => the global meter provider).
// attrs are attached to every measurement, e.g. the cache name.
func New(meter metric.Meter, attrs ...attribute.KeyValue) (*Adapter, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(ScopeName)
	}
	a := &Adapter{attrs: metric.WithAttributes(attrs...)}

	var err error
	counter := func(name, desc, unit string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		return c
	}
	gauge := func(name, desc, unit string) metric.Int64Gauge {
		if err != nil {
			return nil
		}
		var g metric.Int64Gauge
		g, err = meter.Int64Gauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
		return g
	}

	a.lookups = counter("refreshcache.lookups", "Cache lookups by result", "{lookup}")
	a.evictions = counter("refreshcache.evictions", "Entries removed by the store", "{entry}")
	a.fetches = counter("refreshcache.fetches", "Upstream fetches by outcome", "{call}")
	a.coalesced = counter("refreshcache.coalesced", "Callers that reused another caller's fetch", "{call}")
	a.refreshes = counter("refreshcache.refreshes", "Background refreshes started", "{call}")
	a.rejections = counter("refreshcache.circuit.rejected", "Fetches refused by the open circuit", "{call}")
	a.circuit = gauge("refreshcache.circuit.state", "1 for the current upstream circuit state", "1")
	a.entries = gauge("refreshcache.entries", "Resident entries", "{entry}")
	a.bytes = gauge("refreshcache.bytes", "Resident payload bytes", "By")
	if err != nil {
		return nil, err
	}
	a.fetchDur, err = meter.Float64Histogram(
		"refreshcache.fetch.duration",
		metric.WithDescription("Upstream fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) Hit()  { a.lookups.Add(context.Background(), 1, a.attrs, hitAttr) }
func (a *Adapter) Miss() { a.lookups.Add(context.Background(), 1, a.attrs, missAttr) }

// StaleHit is counted on top of the hit already reported for the lookup.
func (a *Adapter) StaleHit() { a.lookups.Add(context.Background(), 1, a.attrs, staleAttr) }

func (a *Adapter) Evict(r cache.EvictReason) {
	a.evictions.Add(context.Background(), 1, a.attrs,
		metric.WithAttributes(attribute.String("reason", r.String())))
}

func (a *Adapter) Size(entries int, cost int64) {
	ctx := context.Background()
	a.entries.Record(ctx, int64(entries), a.attrs)
	a.bytes.Record(ctx, cost, a.attrs)
}

func (a *Adapter) Fetch(d time.Duration, err error) {
	ctx := context.Background()
	outcome := okAttr
	if err != nil {
		outcome = errAttr
	}
	a.fetches.Add(ctx, 1, a.attrs, outcome)
	a.fetchDur.Record(ctx, float64(d)/float64(time.Millisecond), a.attrs)
}

func (a *Adapter) Coalesced()       { a.coalesced.Add(context.Background(), 1, a.attrs) }
func (a *Adapter) Refresh()         { a.refreshes.Add(context.Background(), 1, a.attrs) }
func (a *Adapter) CircuitRejected() { a.rejections.Add(context.Background(), 1, a.attrs) }

func (a *Adapter) CircuitState(state string) {
	ctx := context.Background()
	for _, s := range circuitStates {
		var v int64
		if s == state {
			v = 1
		}
		a.circuit.Record(ctx, v, a.attrs, metric.WithAttributes(attribute.String("state", s)))
	}
}

var _ cache.Metrics = (*Adapter)(nil)
