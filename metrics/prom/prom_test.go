package prom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IvanBrykalov/refreshcache/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg, "refreshcache", "test", prometheus.Labels{"instance": "a"})

	a.Hit()
	a.Hit()
	a.StaleHit()
	a.Miss()
	a.Evict(cache.EvictTTL)
	a.Evict(cache.EvictPolicy)
	a.Evict(cache.EvictPolicy)
	a.Size(3, 1024)
	a.Fetch(5*time.Millisecond, nil)
	a.Fetch(time.Millisecond, errors.New("boom"))
	a.Coalesced()
	a.Refresh()
	a.CircuitRejected()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.staleHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.evicts.WithLabelValues("ttl")))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.evicts.WithLabelValues("policy")))
	assert.Equal(t, 3.0, testutil.ToFloat64(a.sizeEnt))
	assert.Equal(t, 1024.0, testutil.ToFloat64(a.sizeCost))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.fetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.fetches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.coalesced))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.refreshes))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.rejections))
	assert.Equal(t, 1, testutil.CollectAndCount(a.fetchDur))
}

func TestAdapterCircuitState(t *testing.T) {
	a := New(prometheus.NewRegistry(), "", "", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.circuit.WithLabelValues("closed")))
	a.CircuitState("open")
	assert.Equal(t, 0.0, testutil.ToFloat64(a.circuit.WithLabelValues("closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.circuit.WithLabelValues("open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(a.circuit.WithLabelValues("half-open")))
}

// The adapter plugged into a real cache sees the cache's events.
func TestAdapterWiredIntoCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg, "refreshcache", "", nil)

	c, err := cache.New(cache.Options[string]{Metrics: a})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	_, err = c.FetchWithSingleFlight(ctx, "acme", "k", time.Minute, func(context.Context) (string, error) {
		return "v", nil
	})
	require.NoError(t, err)
	_, ok := c.Get(ctx, "acme", "k")
	require.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.fetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.sizeEnt))

	n, err := testutil.GatherAndCount(reg, "refreshcache_hits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
