package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata_hub/models"
	"marketdata_hub/services/providers"
	"marketdata_hub/services/tracker"
)

type fakeProvider struct {
	name  string
	types []models.DataType
	fetch func(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Supports(dt models.DataType) bool {
	for _, t := range f.types {
		if t == dt {
			return true
		}
	}
	return false
}

func (f *fakeProvider) Fetch(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
	return f.fetch(ctx, dt, symbol)
}

func newTestAggregator(t *testing.T, ps ...providers.Provider) (*Aggregator, *tracker.Tracker) {
	t.Helper()
	trk := tracker.New(tracker.DefaultConfig(), nil)
	agg := New(Config{ProviderTimeout: time.Second, MaxFanout: 1}, trk)
	for _, p := range ps {
		agg.RegisterProvider(p)
	}
	return agg, trk
}

func quoteProvider(name string, fields models.FieldMap) *fakeProvider {
	return &fakeProvider{
		name:  name,
		types: []models.DataType{models.DataTypeQuote},
		fetch: func(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
			return &providers.Payload{Fields: fields}, nil
		},
	}
}

func TestFetchFirstWriterWins(t *testing.T) {
	// Fresh providers tie on score, so rank falls back to name order:
	// alpha's price lands first and beta cannot overwrite it.
	alpha := quoteProvider("alpha", models.FieldMap{"price": 5.0, "currency": "USD"})
	beta := quoteProvider("beta", models.FieldMap{"price": 7.0, "volume": int64(1000)})
	agg, _ := newTestAggregator(t, alpha, beta)

	res := agg.Fetch(context.Background(), models.DataTypeQuote, "AAPL", "")
	require.True(t, res.Success)
	assert.Equal(t, 5.0, res.Data.Fields["price"])
	assert.Equal(t, "USD", res.Data.Fields["currency"])
	assert.Equal(t, int64(1000), res.Data.Fields["volume"])
	assert.Equal(t, "alpha+beta", res.Provider)
}

func TestFetchZeroValueDoesNotOccupySlot(t *testing.T) {
	alpha := quoteProvider("alpha", models.FieldMap{"price": 0.0})
	beta := quoteProvider("beta", models.FieldMap{"price": 7.0})
	agg, _ := newTestAggregator(t, alpha, beta)

	res := agg.Fetch(context.Background(), models.DataTypeQuote, "AAPL", "")
	require.True(t, res.Success)
	assert.Equal(t, 7.0, res.Data.Fields["price"])
	assert.Equal(t, "beta", res.Provider, "provider contributing nothing gets no attribution")
}

func TestFetchInvalidSymbol(t *testing.T) {
	agg, _ := newTestAggregator(t, quoteProvider("alpha", models.FieldMap{"price": 1.0}))

	for _, symbol := range []string{"", "WAYTOOLONGSYM", "AA PL", "AA$L"} {
		res := agg.Fetch(context.Background(), models.DataTypeQuote, symbol, "")
		assert.False(t, res.Success, "symbol %q", symbol)
		assert.ErrorIs(t, res.Err, ErrInvalidSymbol, "symbol %q", symbol)
	}

	res := agg.Fetch(context.Background(), models.DataTypeQuote, "brk.b", "")
	assert.True(t, res.Success, "dotted symbols are valid and normalized to uppercase")
	assert.Equal(t, "BRK.B", res.Data.Symbol)
}

func TestFetchNoEligibleProviders(t *testing.T) {
	agg, _ := newTestAggregator(t, quoteProvider("alpha", models.FieldMap{"price": 1.0}))

	res := agg.Fetch(context.Background(), models.DataTypeEarnings, "AAPL", "")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNoEligibleProviders)
}

func TestFetchNoDataVersusError(t *testing.T) {
	noData := &fakeProvider{
		name:  "alpha",
		types: []models.DataType{models.DataTypeQuote},
		fetch: func(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
			return nil, providers.ErrNoData
		},
	}
	agg, _ := newTestAggregator(t, noData)

	res := agg.Fetch(context.Background(), models.DataTypeQuote, "OBSCURE", "")
	assert.False(t, res.Success)
	assert.NoError(t, res.Err, "clean no-data is not an error")

	boom := &fakeProvider{
		name:  "alpha",
		types: []models.DataType{models.DataTypeQuote},
		fetch: func(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
			return nil, errors.New("connection refused")
		},
	}
	agg2, _ := newTestAggregator(t, boom)
	res2 := agg2.Fetch(context.Background(), models.DataTypeQuote, "AAPL", "")
	assert.False(t, res2.Success)
	assert.Error(t, res2.Err)
}

func TestFetchOneFailureDoesNotAbortPass(t *testing.T) {
	failing := &fakeProvider{
		name:  "alpha",
		types: []models.DataType{models.DataTypeQuote},
		fetch: func(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
			return nil, errors.New("upstream 500")
		},
	}
	beta := quoteProvider("beta", models.FieldMap{"price": 3.5})
	agg, trk := newTestAggregator(t, failing, beta)

	res := agg.Fetch(context.Background(), models.DataTypeQuote, "AAPL", "")
	require.True(t, res.Success)
	assert.Equal(t, "beta", res.Provider)

	for _, stats := range trk.ProviderPerformance() {
		if stats.Name == "alpha" {
			assert.Equal(t, 1, stats.ConsecutiveFailures)
		}
	}
}

func TestFetchListDedupKeepsRicherRecord(t *testing.T) {
	sparse := &fakeProvider{
		name:  "alpha",
		types: []models.DataType{models.DataTypeDividends},
		fetch: func(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
			return &providers.Payload{Records: []models.FieldMap{
				{"ex_date": "2026-02-10", "amount": 0.24},
			}}, nil
		},
	}
	rich := &fakeProvider{
		name:  "beta",
		types: []models.DataType{models.DataTypeDividends},
		fetch: func(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
			return &providers.Payload{Records: []models.FieldMap{
				{"ex_date": "2026-02-10", "amount": 0.24, "payment_date": "2026-02-13"},
				{"ex_date": "2025-11-10", "amount": 0.24},
			}}, nil
		},
	}
	agg, _ := newTestAggregator(t, sparse, rich)

	res := agg.Fetch(context.Background(), models.DataTypeDividends, "AAPL", "")
	require.True(t, res.Success)
	require.Len(t, res.Data.Records, 2, "duplicate natural keys collapse")
	assert.Equal(t, "2026-02-13", res.Data.Records[0].StringField("payment_date"),
		"the record with more populated fields wins the key")
	assert.Equal(t, "2026-02-10", res.Data.Records[0].StringField("ex_date"),
		"records are most recent first")
}

func TestFetchRecordsSortedMostRecentFirst(t *testing.T) {
	bars := &fakeProvider{
		name:  "alpha",
		types: []models.DataType{models.DataTypeHistoricalPrices},
		fetch: func(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
			return &providers.Payload{Records: []models.FieldMap{
				{"date": "2026-08-26", "close": 101.0},
				{"date": "2026-08-28", "close": 103.0},
				{"date": "2026-08-27", "close": 102.0},
			}}, nil
		},
	}
	agg, _ := newTestAggregator(t, bars)

	res := agg.Fetch(context.Background(), models.DataTypeHistoricalPrices, "AAPL", "")
	require.True(t, res.Success)
	require.Len(t, res.Data.Records, 3)
	assert.Equal(t, "2026-08-28", res.Data.Records[0].StringField("date"))
	assert.Equal(t, "2026-08-27", res.Data.Records[1].StringField("date"))
	assert.Equal(t, "2026-08-26", res.Data.Records[2].StringField("date"))
}

func TestFetchConcurrentFanoutIsDeterministic(t *testing.T) {
	alpha := quoteProvider("alpha", models.FieldMap{"price": 5.0})
	beta := quoteProvider("beta", models.FieldMap{"price": 7.0, "exchange": "NASDAQ"})

	trk := tracker.New(tracker.DefaultConfig(), nil)
	agg := New(Config{ProviderTimeout: time.Second, MaxFanout: 4}, trk)
	agg.RegisterProvider(alpha)
	agg.RegisterProvider(beta)

	// Merge order is rank order regardless of goroutine completion order.
	for i := 0; i < 20; i++ {
		res := agg.Fetch(context.Background(), models.DataTypeQuote, "AAPL", "")
		require.True(t, res.Success)
		assert.Equal(t, 5.0, res.Data.Fields["price"])
	}
}

func TestFetchProviderTimeout(t *testing.T) {
	slow := &fakeProvider{
		name:  "alpha",
		types: []models.DataType{models.DataTypeQuote},
		fetch: func(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &providers.Payload{Fields: models.FieldMap{"price": 1.0}}, nil
			}
		},
	}
	beta := quoteProvider("beta", models.FieldMap{"price": 2.0})

	trk := tracker.New(tracker.DefaultConfig(), nil)
	agg := New(Config{ProviderTimeout: 20 * time.Millisecond, MaxFanout: 1}, trk)
	agg.RegisterProvider(slow)
	agg.RegisterProvider(beta)

	res := agg.Fetch(context.Background(), models.DataTypeQuote, "AAPL", "")
	require.True(t, res.Success, "a timed-out provider does not abort the pass")
	assert.Equal(t, 2.0, res.Data.Fields["price"])
}

func TestFetchAllProvidersFailedIsOnePassFailure(t *testing.T) {
	boom := func(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
		return nil, errors.New("upstream 500")
	}
	agg, trk := newTestAggregator(t,
		&fakeProvider{name: "alpha", types: []models.DataType{models.DataTypeQuote}, fetch: boom},
		&fakeProvider{name: "beta", types: []models.DataType{models.DataTypeQuote}, fetch: boom},
		&fakeProvider{name: "gamma", types: []models.DataType{models.DataTypeQuote}, fetch: boom},
	)

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	trk.SetClock(func() time.Time { return now })

	res := agg.Fetch(context.Background(), models.DataTypeQuote, "AAPL", "")
	require.False(t, res.Success)
	require.Error(t, res.Err)

	// Three providers erroring is one failed pass: the pair sits out the
	// first backoff window only, it is not pushed straight to the cap.
	assert.False(t, trk.ShouldRetrySymbol("AAPL", models.DataTypeQuote))
	now = now.Add(6 * time.Minute)
	assert.True(t, trk.ShouldRetrySymbol("AAPL", models.DataTypeQuote),
		"retryable after the first window")
}

func TestFetchSuccessfulPassKeepsSymbolRetryable(t *testing.T) {
	alpha := quoteProvider("alpha", models.FieldMap{"price": 3.5})
	failing := &fakeProvider{
		name:  "beta",
		types: []models.DataType{models.DataTypeQuote},
		fetch: func(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
			return nil, errors.New("upstream 500")
		},
	}
	agg, trk := newTestAggregator(t, alpha, failing)

	res := agg.Fetch(context.Background(), models.DataTypeQuote, "MSFT", "")
	require.True(t, res.Success)

	// A lower-ranked provider erroring after the pass already produced data
	// must not mark the symbol as failed.
	assert.True(t, trk.ShouldRetrySymbol("MSFT", models.DataTypeQuote))
	assert.Equal(t, 0, trk.GetSummary().PendingRetries)
}

func TestValidateSymbol(t *testing.T) {
	assert.NoError(t, ValidateSymbol("AAPL"))
	assert.NoError(t, ValidateSymbol("BRK.B"))
	assert.NoError(t, ValidateSymbol("BF-B"))
	assert.Error(t, ValidateSymbol(""))
	assert.Error(t, ValidateSymbol("ABCDEFGHIJK"))
	assert.Error(t, ValidateSymbol("AA PL"))
}
