package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	tracked    []string
	movers     []string
	watchlists []string
	moversErr  error
}

func (f *fakeSource) TrackedSymbols(ctx context.Context) ([]string, error) { return f.tracked, nil }
func (f *fakeSource) MoverSymbols(ctx context.Context) ([]string, error) {
	return f.movers, f.moversErr
}
func (f *fakeSource) WatchlistSymbols(ctx context.Context) ([]string, error) {
	return f.watchlists, nil
}

func TestRefreshLoadsAllSources(t *testing.T) {
	src := &fakeSource{
		tracked:    []string{"AAPL", "MSFT"},
		movers:     []string{"TSLA"},
		watchlists: []string{"AAPL", "NVDA"},
	}
	r := NewSymbolRegistry(src, time.Hour)
	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, []string{"AAPL", "MSFT"}, r.Symbols(SourceTracked))
	assert.Equal(t, []string{"TSLA"}, r.Symbols(SourceMovers))
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA", "TSLA"}, r.AllSymbols(),
		"union is deduplicated and sorted")

	last, next := r.LastRefresh()
	assert.False(t, last.IsZero())
	assert.Equal(t, last.Add(time.Hour), next)
}

func TestRefreshFailureKeepsPreviousList(t *testing.T) {
	src := &fakeSource{movers: []string{"TSLA"}}
	r := NewSymbolRegistry(src, time.Hour)
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, []string{"TSLA"}, r.Symbols(SourceMovers))

	src.moversErr = errors.New("db down")
	err := r.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"TSLA"}, r.Symbols(SourceMovers),
		"failed source keeps its last good list")
}

func TestRefreshSource(t *testing.T) {
	src := &fakeSource{tracked: []string{"AAPL"}}
	r := NewSymbolRegistry(src, time.Hour)

	require.NoError(t, r.RefreshSource(context.Background(), SourceTracked))
	assert.Equal(t, []string{"AAPL"}, r.Symbols(SourceTracked))
	assert.Empty(t, r.Symbols(SourceMovers), "other sources untouched")
}

func TestEmptyRegistryBeforeFirstRefresh(t *testing.T) {
	r := NewSymbolRegistry(&fakeSource{tracked: []string{"AAPL"}}, time.Hour)
	assert.Empty(t, r.AllSymbols())
	last, _ := r.LastRefresh()
	assert.True(t, last.IsZero())
}
