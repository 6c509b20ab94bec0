package orchestrator

import (
	"context"
	"io"
	"log"

	"marketdata_hub/models"
	"marketdata_hub/services/aggregator"
	"marketdata_hub/services/providers"
	"marketdata_hub/services/tracker"
)

// Brain is the single entry point callers use to obtain market data. It
// owns the provider registry and delegates fetching to the aggregator and
// reliability bookkeeping to the tracker, so callers never talk to a
// provider directly.
type Brain struct {
	agg     *aggregator.Aggregator
	tracker *tracker.Tracker
	closers []io.Closer
}

// New wires a Brain over the given aggregator and tracker. Providers are
// registered afterwards with AddProvider.
func New(agg *aggregator.Aggregator, trk *tracker.Tracker) *Brain {
	return &Brain{agg: agg, tracker: trk}
}

// AddProvider registers a provider with the fetch pipeline. Providers that
// hold connections (streaming adapters) are closed when the Brain shuts
// down.
func (b *Brain) AddProvider(p providers.Provider) {
	b.agg.RegisterProvider(p)
	if c, ok := p.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}
}

// GetQuote returns the merged real-time quote for a symbol.
func (b *Brain) GetQuote(ctx context.Context, symbol string) *models.FetchResult {
	return b.fetch(ctx, models.DataTypeQuote, symbol)
}

// GetCompanyInfo returns merged company profile data.
func (b *Brain) GetCompanyInfo(ctx context.Context, symbol string) *models.FetchResult {
	return b.fetch(ctx, models.DataTypeCompanyInfo, symbol)
}

// GetFundamentals returns merged fundamental ratios.
func (b *Brain) GetFundamentals(ctx context.Context, symbol string) *models.FetchResult {
	return b.fetch(ctx, models.DataTypeFundamentals, symbol)
}

// GetHistoricalPrices returns merged daily bars, most recent first.
func (b *Brain) GetHistoricalPrices(ctx context.Context, symbol string) *models.FetchResult {
	return b.fetch(ctx, models.DataTypeHistoricalPrices, symbol)
}

// GetDividends returns the merged dividend history for a symbol.
func (b *Brain) GetDividends(ctx context.Context, symbol string) *models.FetchResult {
	return b.fetch(ctx, models.DataTypeDividends, symbol)
}

// GetEarnings returns merged earnings reports.
func (b *Brain) GetEarnings(ctx context.Context, symbol string) *models.FetchResult {
	return b.fetch(ctx, models.DataTypeEarnings, symbol)
}

// GetNews returns merged recent news articles for a symbol.
func (b *Brain) GetNews(ctx context.Context, symbol string) *models.FetchResult {
	return b.fetch(ctx, models.DataTypeNews, symbol)
}

// GetOptionsChain returns the merged options chain for a symbol.
func (b *Brain) GetOptionsChain(ctx context.Context, symbol string) *models.FetchResult {
	return b.fetch(ctx, models.DataTypeOptionsChain, symbol)
}

// GetEconomicEvents returns upcoming economic calendar events. The symbol
// argument is ignored by providers but kept for a uniform pipeline.
func (b *Brain) GetEconomicEvents(ctx context.Context) *models.FetchResult {
	return b.fetch(ctx, models.DataTypeEconomicEvents, "US")
}

// Fetch runs one aggregation pass for an arbitrary data type.
func (b *Brain) Fetch(ctx context.Context, dt models.DataType, symbol string) *models.FetchResult {
	return b.fetch(ctx, dt, symbol)
}

func (b *Brain) fetch(ctx context.Context, dt models.DataType, symbol string) *models.FetchResult {
	jobID := jobIDFromContext(ctx)
	return b.agg.Fetch(ctx, dt, symbol, jobID)
}

// GetAvailableProviders lists currently eligible providers for a data
// type, best score first.
func (b *Brain) GetAvailableProviders(dt models.DataType) []tracker.RankedProvider {
	return b.tracker.EligibleProviders(dt)
}

// ProviderNames lists every registered provider.
func (b *Brain) ProviderNames() []string {
	return b.agg.ProviderNames()
}

// ShouldRetry reports whether a previously failed (symbol, data type)
// pair is due for another attempt.
func (b *Brain) ShouldRetry(symbol string, dt models.DataType) bool {
	return b.tracker.ShouldRetrySymbol(symbol, dt)
}

// Tracker exposes the underlying fetch tracker for the monitoring
// surface.
func (b *Brain) Tracker() *tracker.Tracker {
	return b.tracker
}

// Close shuts down providers that hold open connections.
func (b *Brain) Close() {
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			log.Printf("Error closing provider: %v", err)
		}
	}
}

type jobIDKey struct{}

// WithJobID tags a context with the scheduler job run that initiated the
// fetch, for attempt attribution.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

func jobIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(jobIDKey{}).(string); ok {
		return v
	}
	return ""
}
