// Package accountstate caches the broker account snapshot OE reads on
// every signal (spec.md §3 AccountState, §4.3 pre-check). 30-second TTL
// per worker; force-refreshable after a fill; degrades to the last good
// snapshot on a broker error rather than blocking. Grounded on spec.md
// §4.3's pre-check description and cache/llm_cache.go's cache-with-TTL
// shape.
package accountstate

import (
	"context"
	"log"
	"sync"
	"time"

	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/errs"
)

type Cache struct {
	client broker.Client
	ttl    time.Duration

	mu         sync.Mutex
	snapshot   *broker.AccountInfo
	fetchedAt  time.Time
	forceAfter bool
}

func New(client broker.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// ForceRefresh requests that the next Get bypass the TTL, per spec.md
// §4.3's "force_refresh (set after a successful sell and after a
// completed buy)".
func (c *Cache) ForceRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceAfter = true
}

// Get returns the current account snapshot, refreshing from the broker
// if the cache is stale or a force-refresh is pending. On a broker
// error, it degrades to the last good snapshot; if none exists yet, it
// returns errs.StaleCacheError so the caller can skip the signal and
// retry later.
func (c *Cache) Get(ctx context.Context, accountID string) (broker.AccountInfo, error) {
	c.mu.Lock()
	fresh := c.snapshot != nil && !c.forceAfter && time.Since(c.fetchedAt) < c.ttl
	if fresh {
		snap := *c.snapshot
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	info, err := c.client.Account(ctx)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.snapshot == nil {
			return broker.AccountInfo{}, &errs.StaleCacheError{AccountID: accountID}
		}
		log.Printf("⚠️  account refresh failed for %s, degrading to stale cache (age=%s): %v",
			accountID, time.Since(c.fetchedAt), err)
		return *c.snapshot, nil
	}

	c.mu.Lock()
	c.snapshot = &info
	c.fetchedAt = time.Now()
	c.forceAfter = false
	c.mu.Unlock()
	return info, nil
}

// InflateTTLFor temporarily widens the cache window, used when the
// broker rate-limits OE (spec.md §4.3 "rate-limited" error class ->
// "inflate account-cache TTL temporarily").
func (c *Cache) InflateTTLFor(d time.Duration, window time.Duration) {
	c.mu.Lock()
	original := c.ttl
	c.ttl = d
	c.mu.Unlock()

	go func() {
		time.Sleep(window)
		c.mu.Lock()
		c.ttl = original
		c.mu.Unlock()
	}()
}
