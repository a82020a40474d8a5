package otelmetrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IvanBrykalov/refreshcache/cache"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newReader(t *testing.T) (*sdkmetric.ManualReader, *Adapter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	a, err := New(mp.Meter("test"), attribute.String("cache", "tools"))
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}
	return reader, a
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere adds the data points of an int64 sum whose attributes include kv.
func sumWhere(t *testing.T, m *metricdata.Metrics, kv attribute.KeyValue) int64 {
	t.Helper()
	if m == nil {
		t.Fatal("metric not found")
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v.Emit() == kv.Value.Emit() {
			total += dp.Value
		}
	}
	return total
}

func TestAdapter_Lookups(t *testing.T) {
	reader, a := newReader(t)
	a.Hit()
	a.Hit()
	a.StaleHit()
	a.Miss()

	m := findMetric(collect(t, reader), "refreshcache.lookups")
	if got := sumWhere(t, m, attribute.String("result", "hit")); got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}
	if got := sumWhere(t, m, attribute.String("result", "stale")); got != 1 {
		t.Errorf("stale = %d, want 1", got)
	}
	if got := sumWhere(t, m, attribute.String("cache", "tools")); got != 4 {
		t.Errorf("constant attribute missing, total = %d", got)
	}
}

func TestAdapter_FetchAndCircuit(t *testing.T) {
	reader, a := newReader(t)
	a.Fetch(3*time.Millisecond, nil)
	a.Fetch(time.Millisecond, errors.New("boom"))
	a.CircuitRejected()
	a.CircuitState("open")
	a.Evict(cache.EvictCapacity)

	rm := collect(t, reader)
	fetches := findMetric(rm, "refreshcache.fetches")
	if got := sumWhere(t, fetches, attribute.String("outcome", "error")); got != 1 {
		t.Errorf("error fetches = %d, want 1", got)
	}
	evictions := findMetric(rm, "refreshcache.evictions")
	if got := sumWhere(t, evictions, attribute.String("reason", "capacity")); got != 1 {
		t.Errorf("capacity evictions = %d, want 1", got)
	}

	hist := findMetric(rm, "refreshcache.fetch.duration")
	if hist == nil {
		t.Fatal("fetch duration histogram not found")
	}
	h, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok || len(h.DataPoints) != 1 || h.DataPoints[0].Count != 2 {
		t.Fatalf("unexpected histogram %+v", hist.Data)
	}

	state := findMetric(rm, "refreshcache.circuit.state")
	if state == nil {
		t.Fatal("circuit state gauge not found")
	}
	g, ok := state.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("expected Gauge[int64], got %T", state.Data)
	}
	for _, dp := range g.DataPoints {
		s, _ := dp.Attributes.Value("state")
		want := int64(0)
		if s.AsString() == "open" {
			want = 1
		}
		if dp.Value != want {
			t.Errorf("state %s = %d, want %d", s.AsString(), dp.Value, want)
		}
	}
}

func TestAdapter_WiredIntoCache(t *testing.T) {
	reader, a := newReader(t)
	c, err := cache.New(cache.Options[string]{Metrics: a})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	if err := c.Set(ctx, "acme", "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	c.Get(ctx, "acme", "k")
	c.Get(ctx, "acme", "missing")

	rm := collect(t, reader)
	lookups := findMetric(rm, "refreshcache.lookups")
	if got := sumWhere(t, lookups, attribute.String("result", "miss")); got != 1 {
		t.Errorf("misses = %d, want 1", got)
	}
	entries := findMetric(rm, "refreshcache.entries")
	if entries == nil {
		t.Fatal("entries gauge not found")
	}
	if g := entries.Data.(metricdata.Gauge[int64]); g.DataPoints[0].Value != 1 {
		t.Errorf("entries = %d, want 1", g.DataPoints[0].Value)
	}
}
