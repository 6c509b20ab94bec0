package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata_hub/models"
)

func TestGetJSONRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var out map[string]any
	err := getJSON(context.Background(), srv.Client(), "test", srv.URL, &out)
	rl, ok := IsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, "test", rl.Provider)
	assert.Equal(t, 2*time.Minute, rl.RetryAfter)
}

func TestGetJSONServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var out map[string]any
	err := getJSON(context.Background(), srv.Client(), "test", srv.URL, &out)
	require.Error(t, err)
	_, ok := IsRateLimit(err)
	assert.False(t, ok, "a plain 500 is not a rate limit")
}

func TestFinnhubQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "key", r.URL.Query().Get("token"))
		w.Write([]byte(`{"c":232.5,"d":1.2,"dp":0.52,"h":234,"l":230,"o":231,"pc":231.3,"t":1756406400}`))
	}))
	defer srv.Close()

	p := NewFinnhub("key", 100)
	p.BaseURL = srv.URL

	payload, err := p.Fetch(context.Background(), models.DataTypeQuote, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 232.5, payload.Fields.FloatField("price"))
	assert.Equal(t, 231.3, payload.Fields.FloatField("previous_close"))
	assert.Equal(t, 0.52, payload.Fields.FloatField("change_percent"))
	assert.NotEmpty(t, payload.Fields.StringField("timestamp"))
}

func TestFinnhubQuoteUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"c":0,"d":0,"dp":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
	}))
	defer srv.Close()

	p := NewFinnhub("key", 100)
	p.BaseURL = srv.URL

	_, err := p.Fetch(context.Background(), models.DataTypeQuote, "NOPE")
	assert.ErrorIs(t, err, ErrNoData, "all-zero body means the symbol does not exist")
}

func TestFinnhubUnsupportedType(t *testing.T) {
	p := NewFinnhub("key", 100)
	_, err := p.Fetch(context.Background(), models.DataTypeOptionsChain, "AAPL")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestAlphaVantageThrottleNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 25 requests per day."}`))
	}))
	defer srv.Close()

	p := NewAlphaVantage("key", 100)
	p.BaseURL = srv.URL

	_, err := p.Fetch(context.Background(), models.DataTypeQuote, "AAPL")
	_, ok := IsRateLimit(err)
	assert.True(t, ok, "a 200 with a Note body is throttling, not data")
}

func TestDeclaredTypes(t *testing.T) {
	p := NewFinnhub("key", 100)
	declared := DeclaredTypes(p)
	assert.Contains(t, declared, models.DataTypeQuote)
	assert.Contains(t, declared, models.DataTypeEconomicEvents)
	assert.NotContains(t, declared, models.DataTypeOptionsChain)
}

func TestPutIfSet(t *testing.T) {
	m := map[string]any{}
	putIfSet(m, "a", "")
	putIfSet(m, "b", 0.0)
	putIfSet(m, "c", int64(0))
	putIfSet(m, "d", "x")
	putIfSet(m, "e", 1.5)
	assert.Equal(t, map[string]any{"d": "x", "e": 1.5}, m)
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, 0.0, parseFloat("None"))
	assert.Equal(t, 0.0, parseFloat("-"))
	assert.Equal(t, 1.25, parseFloat("1.25"))
	assert.Equal(t, int64(42), parseInt("42"))
	assert.Equal(t, int64(3), parseInt("3.7"))
	assert.Equal(t, 1.23, parsePercent("1.23%"))
	assert.Equal(t, "", floatString(0))
	assert.Equal(t, "0.24", floatString(0.24))
}
