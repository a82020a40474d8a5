// Command cachebench runs a multi-tenant tool-call workload against the cache
// with a synthetic flaky upstream, and exposes optional pprof/Prometheus
// endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/IvanBrykalov/refreshcache/cache"
	"github.com/IvanBrykalov/refreshcache/internal/config"
	pmet "github.com/IvanBrykalov/refreshcache/metrics/prom"
	"github.com/IvanBrykalov/refreshcache/persist"
	redisstore "github.com/IvanBrykalov/refreshcache/store/redis"
	"github.com/IvanBrykalov/refreshcache/toolcache"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cachebench:", err)
		os.Exit(1)
	}
}

func run() error {
	// ---- Flags ----
	var (
		configFile = flag.String("config", "", "YAML config file (defaults + REFRESHCACHE_* env when empty)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 95, "read percentage [0..100]; the rest are mutations")
		tenants  = flag.Int("tenants", 8, "number of tenants")

		keys  = flag.Int("keys", 100_000, "keyspace size per tenant")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		latency  = flag.Duration("upstream_latency", 5*time.Millisecond, "mean upstream latency")
		failRate = flag.Float64("upstream_fail", 0.01, "upstream failure probability [0..1)")

		pprofAddr = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	log, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go serve(log, "pprof", *pprofAddr, nil)
	}

	// ---- Build cache ----
	opt, err := config.CacheOptions[[]byte](cfg)
	if err != nil {
		return err
	}
	opt.Logger = log
	opt.OnRefreshError = func(tenant, key string, err error) {
		log.Debug("refresh failed", "tenant", tenant, "key", key, "err", err)
	}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		opt.Metrics = pmet.New(reg, cfg.Metrics.Namespace, "bench", nil)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go serve(log, "metrics", cfg.Metrics.Addr, mux)
	}
	rs, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if rs != nil {
		opt.Store = rs
		defer func() { _ = rs.Close() }()
	}
	if opt.Snapshotter, err = openSnapshotter(ctx, cfg); err != nil {
		return err
	}

	c, err := cache.New(opt)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Error("close cache", "err", err)
		}
	}()

	mw := toolcache.New(c, toolcache.Options{
		Policy: toolcache.Policy{
			DefaultTTL: cfg.Cache.DefaultTTL,
			ToolTTLs:   map[string]time.Duration{"cdn.analytics.": 4 * cfg.Cache.DefaultTTL},
		},
		Logger: log,
	})
	up := &upstream{latency: *latency, failRate: *failRate}

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	keysMax := uint64(max(*keys-1, 1))
	tenantsN := max(*tenants, 1)
	seedBase := *seed
	workersN := max(*workers, 1)

	// ---- Load generation ----
	var reads, writes, failures, total uint64
	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, *zipfS, *zipfV, keysMax)

			for runCtx.Err() == nil {
				tctx := toolcache.WithTenant(runCtx, "tenant-"+strconv.Itoa(localR.Intn(tenantsN)))
				input := map[string]any{"zone": localZipf.Uint64()}

				atomic.AddUint64(&total, 1)
				var err error
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					_, err = mw.Execute(tctx, toolFor(localR), input, nil, up.call)
				} else {
					atomic.AddUint64(&writes, 1)
					_, err = mw.Execute(tctx, "cdn.zones.update", input, []string{"write"}, up.call)
				}
				if err != nil && runCtx.Err() == nil {
					atomic.AddUint64(&failures, 1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	st := c.Metrics()
	fmt.Printf("policy=%s tenants=%d workers=%d keys=%d dur=%v seed=%d store=%s\n",
		cfg.Cache.EvictionPolicy, tenantsN, workersN, *keys, elapsed, seedBase, cfg.Store.Driver)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d  failures=%d\n",
		ops, float64(ops)/elapsed.Seconds(), atomic.LoadUint64(&reads), atomic.LoadUint64(&writes), atomic.LoadUint64(&failures))
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%  stale=%d\n", st.Hits, st.Misses, st.HitRate()*100, st.StaleHits)
	fmt.Printf("upstream=%d  coalesced=%d  refreshes=%d  circuit-rejected=%d  evictions=%d\n",
		up.calls.Load(), st.FetchesCoalesced, st.BackgroundRefreshes, st.CircuitRejections, st.Evictions)
	fmt.Printf("Len()=%d\n", c.Len())
	return nil
}

var readTools = []string{"cdn.zones.get", "cdn.zones.list", "cdn.analytics.report"}

func toolFor(r *rand.Rand) string { return readTools[r.Intn(len(readTools))] }

// upstream simulates a CDN API with jittered latency and random failures.
type upstream struct {
	latency  time.Duration
	failRate float64
	calls    atomic.Int64
}

var errUpstream = errors.New("upstream: 503 service unavailable")

func (u *upstream) call(ctx context.Context, toolID string, input any) ([]byte, error) {
	n := u.calls.Add(1)
	d := u.latency / 2
	if u.latency > 0 {
		d += time.Duration(rand.Int63n(int64(u.latency)))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if rand.Float64() < u.failRate {
		return nil, errUpstream
	}
	return fmt.Appendf(nil, `{"tool":%q,"input":%v,"seq":%d}`, toolID, input, n), nil
}

func openStore(ctx context.Context, cfg *config.Configuration) (*redisstore.Store, error) {
	if cfg.Store.Driver != "redis" {
		return nil, nil
	}
	rc := cfg.Store.Redis
	return redisstore.Dial(ctx, &goredis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB},
		redisstore.Options{Prefix: rc.Prefix})
}

func openSnapshotter(ctx context.Context, cfg *config.Configuration) (persist.Snapshotter, error) {
	switch cfg.Snapshot.Driver {
	case "file":
		return persist.NewFile(cfg.Snapshot.Path), nil
	case "s3":
		sc := cfg.Snapshot.S3
		var opts []func(*awsconfig.LoadOptions) error
		if sc.Region != "" {
			opts = append(opts, awsconfig.WithRegion(sc.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return persist.NewS3(s3.NewFromConfig(awsCfg), sc.Bucket, sc.Key)
	}
	return nil, nil
}

func serve(log *slog.Logger, name, addr string, h http.Handler) {
	log.Info("serving", "endpoint", name, "addr", addr)
	if err := http.ListenAndServe(addr, h); err != nil {
		log.Error("server stopped", "endpoint", name, "err", err)
	}
}
