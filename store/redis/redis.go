// Package redis implements store.Store on top of Redis.
//
// Layout: entries live under Prefix+"e:"+key as msgpack envelopes and
// expire natively (PX) at their store deadline. Lock tokens live under
// Prefix+"l:"+key; TryLock is SET NX PX and Unlock is a compare-and-delete
// Lua script, so a process can never release a lock it no longer owns.
// Keys and Range iterate with SCAN MATCH on the entry prefix.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/IvanBrykalov/refreshcache/store"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "refreshcache:"

const scanCount = 256

// unlockScript deletes the lock only while it still holds our owner token.
var unlockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// Options configures the store.
type Options struct {
	// Prefix namespaces keys; defaults to DefaultPrefix.
	Prefix string
	// Clock is used to turn entry deadlines into PX expiries.
	Clock store.Clock
}

// Store is a Redis-backed store.Store.
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
	clock  store.Clock
	owned  bool
}

type envelope struct {
	Value      []byte        `msgpack:"v"`
	StoredAt   int64         `msgpack:"s"`
	TTL        time.Duration `msgpack:"t"`
	Deadline   int64         `msgpack:"d"`
	Compressed bool          `msgpack:"c"`
}

// New wraps an existing client. Close does not close the client.
func New(rdb goredis.UniversalClient, opt Options) *Store {
	if opt.Prefix == "" {
		opt.Prefix = DefaultPrefix
	}
	if opt.Clock == nil {
		opt.Clock = store.SystemClock{}
	}
	return &Store{rdb: rdb, prefix: opt.Prefix, clock: opt.Clock}
}

// Dial connects to Redis and verifies the connection. The returned store
// owns the client and closes it on Close.
func Dial(ctx context.Context, ro *goredis.Options, opt Options) (*Store, error) {
	rdb := goredis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", ro.Addr, err)
	}
	s := New(rdb, opt)
	s.owned = true
	return s, nil
}

func (s *Store) entryKey(k string) string { return s.prefix + "e:" + k }
func (s *Store) lockKey(k string) string  { return s.prefix + "l:" + k }

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) (store.Entry, bool, error) {
	b, err := s.rdb.Get(ctx, s.entryKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	e, err := decode(b)
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("redis: decode %s: %w", key, err)
	}
	if e.ExpiredAt(s.clock.NowUnixNano()) {
		return store.Entry{}, false, nil
	}
	return e, true, nil
}

// Set implements store.Store. An entry whose deadline already passed is
// removed instead of written.
func (s *Store) Set(ctx context.Context, key string, e store.Entry) error {
	var px time.Duration
	if e.Deadline != 0 {
		px = time.Duration(e.Deadline - s.clock.NowUnixNano())
		if px <= 0 {
			_, err := s.Delete(ctx, key)
			return err
		}
		if px < time.Millisecond {
			px = time.Millisecond
		}
	}
	b, err := msgpack.Marshal(&envelope{
		Value:      e.Value,
		StoredAt:   e.StoredAt,
		TTL:        e.TTL,
		Deadline:   e.Deadline,
		Compressed: e.Compressed,
	})
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.entryKey(key), b, px).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.entryKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: del %s: %w", key, err)
	}
	return n > 0, nil
}

// Keys implements store.Store.
func (s *Store) Keys(ctx context.Context, prefix string, fn func(key string) bool) error {
	return s.scan(ctx, prefix, func(full string) (bool, error) {
		return fn(strings.TrimPrefix(full, s.prefix+"e:")), nil
	})
}

// Range implements store.Store. Entries that expire between SCAN and GET
// are skipped.
func (s *Store) Range(ctx context.Context, prefix string, fn func(key string, e store.Entry) bool) error {
	return s.scan(ctx, prefix, func(full string) (bool, error) {
		k := strings.TrimPrefix(full, s.prefix+"e:")
		e, ok, err := s.Get(ctx, k)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		return fn(k, e), nil
	})
}

// Len implements store.Store. It is O(N) in the number of entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, "", func(string) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

// TryLock implements store.Store.
func (s *Store) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.lockKey(key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: lock %s: %w", key, err)
	}
	return ok, nil
}

// Unlock implements store.Store.
func (s *Store) Unlock(ctx context.Context, key, owner string) (bool, error) {
	n, err := unlockScript.Run(ctx, s.rdb, []string{s.lockKey(key)}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("redis: unlock %s: %w", key, err)
	}
	return n == 1, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) scan(ctx context.Context, prefix string, fn func(full string) (bool, error)) error {
	match := escapeGlob(s.prefix+"e:"+prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis: scan %s: %w", match, err)
		}
		for _, k := range keys {
			cont, err := fn(k)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func decode(b []byte) (store.Entry, error) {
	var env envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return store.Entry{}, err
	}
	return store.Entry{
		Value:      env.Value,
		StoredAt:   env.StoredAt,
		TTL:        env.TTL,
		Deadline:   env.Deadline,
		Compressed: env.Compressed,
	}, nil
}

// escapeGlob quotes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ store.Store = (*Store)(nil)
