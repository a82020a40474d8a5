package cache

import (
	"context"
	"time"

	"github.com/IvanBrykalov/refreshcache/store"
)

// startReaper launches the low-priority sweep of entries past their store
// deadline. Expiry is otherwise lazy; the sweep keeps memory and snapshots
// free of dead entries. It runs only for stores implementing store.Purger.
func (c *cache[V]) startReaper() {
	p, ok := c.store.(store.Purger)
	if c.opt.ReapInterval <= 0 || !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopReap = cancel
	c.reapDone = make(chan struct{})

	ticker := time.NewTicker(c.opt.ReapInterval)
	go func() {
		defer close(c.reapDone)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := p.PurgeExpired(ctx)
				if err != nil && ctx.Err() == nil {
					c.log.Warn("cache: reaper sweep failed", "err", err)
				}
				if n > 0 {
					c.log.Debug("cache: reaper swept expired entries", "entries", n)
					c.reportSize()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *cache[V]) stopReaper() {
	if c.stopReap == nil {
		return
	}
	c.stopReap()
	<-c.reapDone
}
