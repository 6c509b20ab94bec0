package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata_hub/models"
)

func quoteResult(symbol string, price float64) *models.FetchResult {
	return &models.FetchResult{
		Data: &models.MergedRecord{
			Symbol:   symbol,
			DataType: models.DataTypeQuote,
			Fields:   models.FieldMap{"price": price},
		},
		Provider: "test",
		Success:  true,
	}
}

func TestGetReadThrough(t *testing.T) {
	var calls int64
	c := NewQuoteCache(func(ctx context.Context, symbol string) *models.FetchResult {
		atomic.AddInt64(&calls, 1)
		return quoteResult(symbol, 101.5)
	}, time.Minute, 0)

	res := c.Get(context.Background(), "AAPL")
	require.True(t, res.Success)
	assert.Equal(t, 101.5, res.Data.Fields["price"])
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	// Second read inside the TTL is served from the cache.
	c.Get(context.Background(), "AAPL")
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	stats := c.GetStats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestGetCoalescesConcurrentMisses(t *testing.T) {
	var calls int64
	release := make(chan struct{})
	c := NewQuoteCache(func(ctx context.Context, symbol string) *models.FetchResult {
		atomic.AddInt64(&calls, 1)
		<-release
		return quoteResult(symbol, 99.0)
	}, time.Minute, 0)

	const readers = 20
	var wg sync.WaitGroup
	results := make([]*models.FetchResult, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Get(context.Background(), "AAPL")
		}(i)
	}

	// Give every reader time to pile onto the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "all misses collapse into one upstream call")
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, 99.0, res.Data.Fields["price"])
	}
}

func TestGetExpiry(t *testing.T) {
	var calls int64
	c := NewQuoteCache(func(ctx context.Context, symbol string) *models.FetchResult {
		atomic.AddInt64(&calls, 1)
		return quoteResult(symbol, 50.0)
	}, time.Minute, 0)

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.Get(context.Background(), "AAPL")
	now = now.Add(59 * time.Second)
	c.Get(context.Background(), "AAPL")
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	now = now.Add(2 * time.Second)
	c.Get(context.Background(), "AAPL")
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls), "expired entry refetches")
}

func TestFailedFetchIsNotCached(t *testing.T) {
	var calls int64
	c := NewQuoteCache(func(ctx context.Context, symbol string) *models.FetchResult {
		atomic.AddInt64(&calls, 1)
		return &models.FetchResult{Success: false}
	}, time.Minute, 0)

	c.Get(context.Background(), "AAPL")
	c.Get(context.Background(), "AAPL")
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls), "failures are retried, not cached")
	assert.Equal(t, 0, c.GetStats().Entries)
}

func TestInvalidateAndClear(t *testing.T) {
	var calls int64
	c := NewQuoteCache(func(ctx context.Context, symbol string) *models.FetchResult {
		atomic.AddInt64(&calls, 1)
		return quoteResult(symbol, 10.0)
	}, time.Minute, 0)

	c.Get(context.Background(), "AAPL")
	c.Get(context.Background(), "MSFT")
	assert.Equal(t, 2, c.GetStats().Entries)

	c.Invalidate("AAPL")
	assert.Equal(t, 1, c.GetStats().Entries)
	c.Get(context.Background(), "AAPL")
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))

	c.Clear()
	assert.Equal(t, 0, c.GetStats().Entries)
}

func TestInFlightCountsDistinctFlights(t *testing.T) {
	release := make(chan struct{})
	c := NewQuoteCache(func(ctx context.Context, symbol string) *models.FetchResult {
		<-release
		return quoteResult(symbol, 1.0)
	}, time.Minute, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background(), "AAPL")
		}()
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background(), "MSFT")
		}()
	}

	// Thirteen waiting readers are two deduplicated upstream flights.
	assert.Eventually(t, func() bool {
		return c.GetStats().InFlight == 2
	}, time.Second, 10*time.Millisecond)

	close(release)
	wg.Wait()
	assert.Equal(t, int64(0), c.GetStats().InFlight)
}

func TestBackgroundRefreshSharesInFlightFetch(t *testing.T) {
	var calls int64
	release := make(chan struct{})
	c := NewQuoteCache(func(ctx context.Context, symbol string) *models.FetchResult {
		if atomic.AddInt64(&calls, 1) > 1 {
			<-release
		}
		return quoteResult(symbol, 42.0)
	}, time.Minute, 1)

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.Get(context.Background(), "AAPL") // fills the cache, marks popular
	now = now.Add(61 * time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Get(context.Background(), "AAPL")
	}()
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&calls) == 2
	}, time.Second, 10*time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.refreshPopular(context.Background())
	}()

	// The refresh joins the reader's flight instead of racing it upstream.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestPopularityThreshold(t *testing.T) {
	c := NewQuoteCache(func(ctx context.Context, symbol string) *models.FetchResult {
		return quoteResult(symbol, 10.0)
	}, time.Minute, 3)

	for i := 0; i < 2; i++ {
		c.Get(context.Background(), "AAPL")
	}
	assert.Empty(t, c.GetStats().AutoRefresh)

	c.Get(context.Background(), "AAPL")
	stats := c.GetStats()
	require.Len(t, stats.AutoRefresh, 1)
	assert.Equal(t, "AAPL", stats.AutoRefresh[0])
}
