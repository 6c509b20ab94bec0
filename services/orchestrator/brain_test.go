package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata_hub/models"
	"marketdata_hub/services/aggregator"
	"marketdata_hub/services/providers"
	"marketdata_hub/services/tracker"
)

type stubProvider struct {
	name   string
	types  []models.DataType
	fields models.FieldMap
	closed bool
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Supports(dt models.DataType) bool {
	for _, t := range s.types {
		if t == dt {
			return true
		}
	}
	return false
}

func (s *stubProvider) Fetch(ctx context.Context, dt models.DataType, symbol string) (*providers.Payload, error) {
	return &providers.Payload{Fields: s.fields}, nil
}

func (s *stubProvider) Close() error {
	s.closed = true
	return nil
}

func newTestBrain(t *testing.T, ps ...providers.Provider) (*Brain, *tracker.Tracker) {
	t.Helper()
	trk := tracker.New(tracker.DefaultConfig(), nil)
	agg := aggregator.New(aggregator.Config{ProviderTimeout: time.Second, MaxFanout: 1}, trk)
	b := New(agg, trk)
	for _, p := range ps {
		b.AddProvider(p)
	}
	return b, trk
}

func TestBrainGetQuote(t *testing.T) {
	stub := &stubProvider{
		name:   "stub",
		types:  []models.DataType{models.DataTypeQuote},
		fields: models.FieldMap{"price": 42.0},
	}
	b, _ := newTestBrain(t, stub)

	res := b.GetQuote(context.Background(), "AAPL")
	require.True(t, res.Success)
	assert.Equal(t, models.DataTypeQuote, res.Data.DataType)
	assert.Equal(t, 42.0, res.Data.Fields["price"])
}

func TestBrainGetAvailableProviders(t *testing.T) {
	stub := &stubProvider{
		name:   "stub",
		types:  []models.DataType{models.DataTypeQuote, models.DataTypeNews},
		fields: models.FieldMap{"price": 1.0},
	}
	b, _ := newTestBrain(t, stub)

	assert.Len(t, b.GetAvailableProviders(models.DataTypeQuote), 1)
	assert.Empty(t, b.GetAvailableProviders(models.DataTypeEarnings))
	assert.Equal(t, []string{"stub"}, b.ProviderNames())
}

func TestBrainShouldRetryDelegation(t *testing.T) {
	b, trk := newTestBrain(t)
	assert.True(t, b.ShouldRetry("AAPL", models.DataTypeQuote))

	trk.RecordPassFailure("AAPL", models.DataTypeQuote)
	assert.False(t, b.ShouldRetry("AAPL", models.DataTypeQuote),
		"freshly failed pair waits out its backoff")
}

func TestBrainCloseClosesProviders(t *testing.T) {
	stub := &stubProvider{
		name:   "stub",
		types:  []models.DataType{models.DataTypeQuote},
		fields: models.FieldMap{"price": 1.0},
	}
	b, _ := newTestBrain(t, stub)

	b.Close()
	assert.True(t, stub.closed)
}

func TestJobIDContext(t *testing.T) {
	ctx := WithJobID(context.Background(), "quotes:abc123")
	assert.Equal(t, "quotes:abc123", jobIDFromContext(ctx))
	assert.Equal(t, "", jobIDFromContext(context.Background()))
}
