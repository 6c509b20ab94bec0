package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"marketdata_hub/models"
)

// Fetcher is the upstream the cache reads through on a miss.
type Fetcher func(ctx context.Context, symbol string) *models.FetchResult

// entry is one cached quote with its bookkeeping.
type entry struct {
	result    *models.FetchResult
	fetchedAt time.Time
	hits      int64
}

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Entries      int            `json:"entries"`
	Hits         int64          `json:"hits"`
	Misses       int64          `json:"misses"`
	InFlight     int64          `json:"in_flight"`
	AutoRefresh  []string       `json:"auto_refresh_symbols"`
	AccessCounts map[string]int `json:"access_counts,omitempty"`
}

// QuoteCache is a short-TTL read-through cache for quotes. Concurrent
// misses for the same symbol collapse into one upstream fetch, and symbols
// that cross the popularity threshold are refreshed in the background so
// hot readers rarely see a miss.
type QuoteCache struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	access    map[string]int
	popular   map[string]bool
	flights   map[string]int
	group     singleflight.Group
	fetch     Fetcher
	ttl       time.Duration
	threshold int
	hits      int64
	misses    int64
	now       func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewQuoteCache builds a cache over the given upstream fetcher. A
// threshold of 0 disables popularity tracking.
func NewQuoteCache(fetch Fetcher, ttl time.Duration, popularThreshold int) *QuoteCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &QuoteCache{
		entries:   make(map[string]*entry),
		access:    make(map[string]int),
		popular:   make(map[string]bool),
		flights:   make(map[string]int),
		fetch:     fetch,
		ttl:       ttl,
		threshold: popularThreshold,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// SetClock injects a clock for tests.
func (c *QuoteCache) SetClock(now func() time.Time) { c.now = now }

// Get returns the cached quote for a symbol, fetching through on a miss
// or expiry. Any number of concurrent callers for the same cold symbol
// trigger exactly one upstream call.
func (c *QuoteCache) Get(ctx context.Context, symbol string) *models.FetchResult {
	c.mu.Lock()
	c.access[symbol]++
	if c.threshold > 0 && !c.popular[symbol] && c.access[symbol] >= c.threshold {
		c.popular[symbol] = true
		log.Printf("Quote cache: %s crossed popularity threshold, enabling auto-refresh", symbol)
	}
	if e, ok := c.entries[symbol]; ok && c.now().Sub(e.fetchedAt) < c.ttl {
		e.hits++
		c.hits++
		res := e.result
		c.mu.Unlock()
		return res
	}
	c.misses++
	c.mu.Unlock()

	return c.fetchThrough(ctx, symbol)
}

// fetchThrough runs the upstream fetch through the singleflight group, so
// concurrent readers and the background refresh of one symbol share a
// single upstream call.
func (c *QuoteCache) fetchThrough(ctx context.Context, symbol string) *models.FetchResult {
	c.mu.Lock()
	c.flights[symbol]++
	c.mu.Unlock()

	v, _, _ := c.group.Do(symbol, func() (interface{}, error) {
		res := c.fetch(ctx, symbol)
		if res != nil && res.Success {
			c.store(symbol, res)
		}
		return res, nil
	})

	c.mu.Lock()
	if c.flights[symbol]--; c.flights[symbol] <= 0 {
		delete(c.flights, symbol)
	}
	c.mu.Unlock()

	res, _ := v.(*models.FetchResult)
	return res
}

func (c *QuoteCache) store(symbol string, res *models.FetchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = &entry{result: res, fetchedAt: c.now()}
}

// Invalidate drops a single symbol from the cache.
func (c *QuoteCache) Invalidate(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, symbol)
}

// Clear drops every entry and resets popularity tracking.
func (c *QuoteCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.access = make(map[string]int)
	c.popular = make(map[string]bool)
}

// GetStats snapshots cache counters for the monitoring surface.
func (c *QuoteCache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	auto := make([]string, 0, len(c.popular))
	for s := range c.popular {
		auto = append(auto, s)
	}
	counts := make(map[string]int, len(c.access))
	for s, n := range c.access {
		counts[s] = n
	}
	return Stats{
		Entries:      len(c.entries),
		Hits:         c.hits,
		Misses:       c.misses,
		InFlight:     int64(len(c.flights)),
		AutoRefresh:  auto,
		AccessCounts: counts,
	}
}

// StartAutoRefresh launches the background loop that re-fetches popular
// symbols just before their entries expire.
func (c *QuoteCache) StartAutoRefresh(ctx context.Context) {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.refreshPopular(ctx)
			}
		}
	}()
}

// Stop terminates the auto-refresh loop.
func (c *QuoteCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *QuoteCache) refreshPopular(ctx context.Context) {
	c.mu.RLock()
	stale := make([]string, 0, len(c.popular))
	for symbol := range c.popular {
		e, ok := c.entries[symbol]
		if !ok || c.now().Sub(e.fetchedAt) >= c.ttl/2 {
			stale = append(stale, symbol)
		}
	}
	c.mu.RUnlock()

	for _, symbol := range stale {
		c.fetchThrough(ctx, symbol)
	}
}
