package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/IvanBrykalov/refreshcache/persist"
	"github.com/IvanBrykalov/refreshcache/store"
)

// restore loads the last snapshot into the store. Entries past their
// deadline are discarded. Failures are logged: a cold cache is still a
// working cache.
func (c *cache[V]) restore(ctx context.Context) {
	recs, err := c.opt.Snapshotter.Load(ctx)
	if err != nil {
		c.stats.errors.Add(1)
		c.log.Warn("cache: snapshot load failed, starting cold", "err", err)
		return
	}
	total := len(recs)
	restored := 0
	for _, r := range persist.Live(recs, c.now()) {
		err := c.store.Set(ctx, r.Key, store.Entry{
			Value:      r.Value,
			StoredAt:   r.StoredAt,
			TTL:        r.TTL,
			Deadline:   r.Deadline,
			Compressed: r.Compressed,
		})
		if err != nil {
			c.log.Debug("cache: snapshot entry skipped", "key", r.Key, "err", err)
			continue
		}
		restored++
	}
	c.log.Info("cache: snapshot restored", "entries", restored, "discarded", total-restored)
}

// save writes every live entry to the snapshotter.
func (c *cache[V]) save(ctx context.Context) error {
	var recs []persist.Record
	err := c.store.Range(ctx, "", func(k string, e store.Entry) bool {
		recs = append(recs, persist.Record{
			Key:        k,
			Value:      e.Value,
			StoredAt:   e.StoredAt,
			TTL:        e.TTL,
			Deadline:   e.Deadline,
			Compressed: e.Compressed,
		})
		return true
	})
	if err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache: snapshot scan: %w", err)
	}

	start := time.Now()
	if err := c.opt.Snapshotter.Save(ctx, recs); err != nil {
		c.stats.errors.Add(1)
		c.log.Error("cache: snapshot save failed", "entries", len(recs), "err", err)
		return fmt.Errorf("%w: snapshot: %w", ErrSerialization, err)
	}
	c.log.Info("cache: snapshot saved", "entries", len(recs), "took", time.Since(start))
	return nil
}
