// Package config loads refreshcache deployment settings from YAML and the
// environment and maps them onto cache.Options.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IvanBrykalov/refreshcache/cache"
	"github.com/IvanBrykalov/refreshcache/compress"
	"github.com/IvanBrykalov/refreshcache/policy"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REFRESHCACHE_"

// Configuration represents the complete application configuration
type Configuration struct {
	Log            LogConfig      `yaml:"log"`
	Cache          CacheConfig    `yaml:"cache"`
	CircuitBreaker BreakerConfig  `yaml:"circuit_breaker"`
	Store          StoreConfig    `yaml:"store"`
	Snapshot       SnapshotConfig `yaml:"snapshot"`
	Metrics        MetricsConfig  `yaml:"metrics"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// CacheConfig mirrors the tunables of cache.Options.
type CacheConfig struct {
	MaxEntries             int           `yaml:"max_entries"`
	MaxMemoryBytes         int64         `yaml:"max_memory_bytes"`
	MaxValueBytes          int64         `yaml:"max_value_bytes"`
	Shards                 int           `yaml:"shards"` // 0 one shard, -1 automatic
	DefaultTTL             time.Duration `yaml:"default_ttl"`
	EvictionPolicy         string        `yaml:"eviction_policy"`
	RefreshThreshold       float64       `yaml:"refresh_threshold"`
	SoftTTL                time.Duration `yaml:"soft_ttl"`
	LockTimeout            time.Duration `yaml:"lock_timeout"`
	LockRetryInterval      time.Duration `yaml:"lock_retry_interval"`
	LockWaitTimeout        time.Duration `yaml:"lock_wait_timeout"`
	FetchTimeout           time.Duration `yaml:"fetch_timeout"`
	CompressionThreshold   int           `yaml:"compression_threshold"`
	Compression            string        `yaml:"compression"` // zstd, s2
	Codec                  string        `yaml:"codec"`       // json, msgpack, bytes
	MaxConcurrentRefreshes int           `yaml:"max_concurrent_refreshes"`
	ReapInterval           time.Duration `yaml:"reap_interval"`
}

// BreakerConfig configures the upstream circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
}

// StoreConfig selects the backing store.
type StoreConfig struct {
	Driver string      `yaml:"driver"` // memory, redis
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig is used when Store.Driver is redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SnapshotConfig selects where snapshots are saved on shutdown.
type SnapshotConfig struct {
	Driver string   `yaml:"driver"` // none, file, s3
	Path   string   `yaml:"path"`
	S3     S3Config `yaml:"s3"`
}

// S3Config locates the snapshot object.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`
	Region string `yaml:"region"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr      string `yaml:"addr"` // empty disables /metrics
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Log: LogConfig{Level: "info", Format: "text"},
		Cache: CacheConfig{
			MaxEntries:             cache.DefaultMaxEntries,
			MaxMemoryBytes:         cache.DefaultMaxMemoryBytes,
			MaxValueBytes:          cache.DefaultMaxValueBytes,
			DefaultTTL:             cache.DefaultTTL,
			EvictionPolicy:         string(policy.LRU),
			RefreshThreshold:       cache.DefaultRefreshThreshold,
			LockTimeout:            cache.DefaultLockTimeout,
			LockRetryInterval:      cache.DefaultLockRetryInterval,
			FetchTimeout:           cache.DefaultFetchTimeout,
			Compression:            "zstd",
			Codec:                  "json",
			MaxConcurrentRefreshes: cache.DefaultMaxConcurrentRefreshes,
		},
		CircuitBreaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
			MaxCooldown:      5 * time.Minute,
		},
		Store: StoreConfig{
			Driver: "memory",
			Redis:  RedisConfig{Addr: "localhost:6379", Prefix: "refreshcache:"},
		},
		Snapshot: SnapshotConfig{
			Driver: "none",
			S3:     S3Config{Key: "refreshcache/snapshot.bin"},
		},
		Metrics: MetricsConfig{Namespace: "refreshcache"},
	}
}

// Load returns the defaults overlaid with filename (if not empty) and the
// environment, validated.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables. Malformed
// numbers and durations are errors rather than silently ignored.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv(EnvPrefix + "LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv(EnvPrefix + "LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
	if val := os.Getenv(EnvPrefix + "STORE_DRIVER"); val != "" {
		c.Store.Driver = val
	}
	if val := os.Getenv(EnvPrefix + "REDIS_ADDR"); val != "" {
		c.Store.Redis.Addr = val
	}
	if val := os.Getenv(EnvPrefix + "REDIS_PASSWORD"); val != "" {
		c.Store.Redis.Password = val
	}
	if val := os.Getenv(EnvPrefix + "SNAPSHOT_PATH"); val != "" {
		c.Snapshot.Path = val
		if c.Snapshot.Driver == "none" || c.Snapshot.Driver == "" {
			c.Snapshot.Driver = "file"
		}
	}
	if val := os.Getenv(EnvPrefix + "METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}
	if val := os.Getenv(EnvPrefix + "DEFAULT_TTL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%sDEFAULT_TTL: %w", EnvPrefix, err)
		}
		c.Cache.DefaultTTL = d
	}
	if val := os.Getenv(EnvPrefix + "MAX_ENTRIES"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%sMAX_ENTRIES: %w", EnvPrefix, err)
		}
		c.Cache.MaxEntries = n
	}
	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := c.Log.level(); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("invalid log format: %s (must be one of: text, json)", c.Log.Format)
	}

	cc := c.Cache
	if cc.MaxEntries < 0 || cc.MaxMemoryBytes < 0 || cc.MaxValueBytes < 0 {
		return fmt.Errorf("cache size limits must not be negative")
	}
	if cc.MaxConcurrentRefreshes < 0 || cc.CompressionThreshold < 0 {
		return fmt.Errorf("max_concurrent_refreshes and compression_threshold must not be negative")
	}
	if cc.RefreshThreshold < 0 || cc.RefreshThreshold >= 1 {
		return fmt.Errorf("refresh_threshold must be in [0, 1), got %v", cc.RefreshThreshold)
	}
	for name, d := range map[string]time.Duration{
		"soft_ttl":                     cc.SoftTTL,
		"lock_timeout":                 cc.LockTimeout,
		"lock_retry_interval":          cc.LockRetryInterval,
		"lock_wait_timeout":            cc.LockWaitTimeout,
		"fetch_timeout":                cc.FetchTimeout,
		"reap_interval":                cc.ReapInterval,
		"circuit_breaker.cooldown":     c.CircuitBreaker.Cooldown,
		"circuit_breaker.max_cooldown": c.CircuitBreaker.MaxCooldown,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if _, err := policy.ParseName(cc.EvictionPolicy); err != nil {
		return fmt.Errorf("invalid eviction_policy: %w", err)
	}
	if _, err := compress.ByName(cc.Compression); err != nil {
		return fmt.Errorf("invalid compression: %w", err)
	}
	switch cc.Codec {
	case "", "json", "msgpack", "bytes":
	default:
		return fmt.Errorf("invalid codec: %s (must be one of: json, msgpack, bytes)", cc.Codec)
	}

	switch c.Store.Driver {
	case "", "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (must be one of: memory, redis)", c.Store.Driver)
	}

	switch c.Snapshot.Driver {
	case "", "none":
	case "file":
		if c.Snapshot.Path == "" {
			return fmt.Errorf("snapshot.path is required for the file driver")
		}
	case "s3":
		if c.Snapshot.S3.Bucket == "" || c.Snapshot.S3.Key == "" {
			return fmt.Errorf("snapshot.s3.bucket and snapshot.s3.key are required for the s3 driver")
		}
	default:
		return fmt.Errorf("invalid snapshot driver: %s (must be one of: none, file, s3)", c.Snapshot.Driver)
	}
	return nil
}

// NewLogger builds the slog logger described by Log.
func (c *Configuration) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := c.Log.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", l.Level)
	}
	return lvl, nil
}

// CacheOptions maps the cache and breaker sections onto cache.Options.
// Store, Snapshotter, Metrics, Logger and Loader are left to the caller.
func CacheOptions[V any](c *Configuration) (cache.Options[V], error) {
	cc := c.Cache
	name, err := policy.ParseName(cc.EvictionPolicy)
	if err != nil {
		return cache.Options[V]{}, err
	}
	comp, err := compress.ByName(cc.Compression)
	if err != nil {
		return cache.Options[V]{}, err
	}
	codec, err := codecFor[V](cc.Codec)
	if err != nil {
		return cache.Options[V]{}, err
	}
	return cache.Options[V]{
		MaxEntries:             cc.MaxEntries,
		MaxMemoryBytes:         cc.MaxMemoryBytes,
		MaxValueBytes:          cc.MaxValueBytes,
		Shards:                 cc.Shards,
		Policy:                 name,
		DefaultTTL:             cc.DefaultTTL,
		RefreshThreshold:       cc.RefreshThreshold,
		SoftTTL:                cc.SoftTTL,
		LockTimeout:            cc.LockTimeout,
		LockRetryInterval:      cc.LockRetryInterval,
		LockWaitTimeout:        cc.LockWaitTimeout,
		FetchTimeout:           cc.FetchTimeout,
		CompressionThreshold:   cc.CompressionThreshold,
		Compressor:             comp,
		Codec:                  codec,
		MaxConcurrentRefreshes: cc.MaxConcurrentRefreshes,
		ReapInterval:           cc.ReapInterval,
		Breaker: cache.BreakerOptions{
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			Cooldown:         c.CircuitBreaker.Cooldown,
			MaxCooldown:      c.CircuitBreaker.MaxCooldown,
		},
	}, nil
}

func codecFor[V any](name string) (cache.Codec[V], error) {
	switch name {
	case "", "json":
		return cache.JSON[V]{}, nil
	case "msgpack":
		return cache.Msgpack[V]{}, nil
	case "bytes":
		if c, ok := any(cache.Bytes{}).(cache.Codec[V]); ok {
			return c, nil
		}
		var zero V
		return nil, fmt.Errorf("config: bytes codec needs []byte values, not %T", zero)
	}
	return nil, fmt.Errorf("config: unknown codec %q", name)
}
