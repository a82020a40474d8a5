package redis

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/refreshcache/store"
)

func setup(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := Dial(context.Background(), &goredis.Options{Addr: mr.Addr()}, Options{Prefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStore_SetGetDelete(t *testing.T) {
	s, mr := setup(t)
	ctx := context.Background()

	e := store.Entry{Value: []byte(`{"id":1}`), StoredAt: 42, TTL: time.Minute, Compressed: true}
	require.NoError(t, s.Set(ctx, "acme:k", e))
	assert.True(t, mr.Exists("test:e:acme:k"))

	got, ok, err := s.Get(ctx, "acme:k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e, got)

	deleted, err := s.Delete(ctx, "acme:k")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = s.Get(ctx, "acme:k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeadlineBecomesNativeExpiry(t *testing.T) {
	s, mr := setup(t)
	ctx := context.Background()

	deadline := time.Now().Add(10 * time.Second).UnixNano()
	require.NoError(t, s.Set(ctx, "k", store.Entry{Value: []byte("v"), Deadline: deadline}))

	ttl := mr.TTL("test:e:k")
	assert.Greater(t, ttl, 9*time.Second)
	assert.LessOrEqual(t, ttl, 10*time.Second)

	mr.FastForward(11 * time.Second)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Already past its deadline: nothing is written.
	require.NoError(t, s.Set(ctx, "old", store.Entry{Value: []byte("v"), Deadline: time.Now().Add(-time.Second).UnixNano()}))
	assert.False(t, mr.Exists("test:e:old"))
}

func TestStore_KeysRangeLen(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	for _, k := range []string{"acme:a", "acme:b", "beta:a", "acme:[x]"} {
		require.NoError(t, s.Set(ctx, k, store.Entry{Value: []byte(k)}))
	}
	require.NoError(t, func() error {
		_, err := s.TryLock(ctx, "acme:a:lock", "o", time.Minute)
		return err
	}())

	var keys []string
	require.NoError(t, s.Keys(ctx, "acme:", func(k string) bool {
		keys = append(keys, k)
		return true
	}))
	sort.Strings(keys)
	assert.Equal(t, []string{"acme:[x]", "acme:a", "acme:b"}, keys, "lock tokens must not be listed")

	values := map[string]string{}
	require.NoError(t, s.Range(ctx, "beta:", func(k string, e store.Entry) bool {
		values[k] = string(e.Value)
		return true
	}))
	assert.Equal(t, map[string]string{"beta:a": "beta:a"}, values)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStore_LockCompareAndDelete(t *testing.T) {
	s, mr := setup(t)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "k:lock", "A", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryLock(ctx, "k:lock", "B", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be acquired")

	released, err := s.Unlock(ctx, "k:lock", "B")
	require.NoError(t, err)
	assert.False(t, released, "non-owner must not release")

	mr.FastForward(6 * time.Second)
	ok, err = s.TryLock(ctx, "k:lock", "B", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock must be acquirable")

	released, err = s.Unlock(ctx, "k:lock", "A")
	require.NoError(t, err)
	assert.False(t, released, "stale owner must not release the new holder")

	released, err = s.Unlock(ctx, "k:lock", "B")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestStore_NewDoesNotOwnClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := New(rdb, Options{})
	require.NoError(t, s.Close())
	assert.NoError(t, rdb.Ping(context.Background()).Err(), "client must stay usable")
	assert.Equal(t, DefaultPrefix, s.prefix)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]e\\`, escapeGlob(`a*b?c[d]e\`))
}
