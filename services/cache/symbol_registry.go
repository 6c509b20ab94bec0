package cache

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// SymbolSource supplies the symbol universe the registry caches. The
// database-backed implementation lives in the store package.
type SymbolSource interface {
	TrackedSymbols(ctx context.Context) ([]string, error)
	MoverSymbols(ctx context.Context) ([]string, error)
	WatchlistSymbols(ctx context.Context) ([]string, error)
}

// Known source names.
const (
	SourceTracked    = "tracked"
	SourceMovers     = "movers"
	SourceWatchlists = "watchlists"
)

// SymbolRegistry caches the per-source symbol lists scheduled jobs iterate
// over, refreshing them on a fixed interval so every job run does not hit
// the database.
type SymbolRegistry struct {
	mu          sync.RWMutex
	source      SymbolSource
	lists       map[string][]string
	interval    time.Duration
	lastRefresh time.Time
	now         func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSymbolRegistry builds a registry over the given source. Lists are
// empty until the first Refresh.
func NewSymbolRegistry(source SymbolSource, interval time.Duration) *SymbolRegistry {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SymbolRegistry{
		source:   source,
		lists:    make(map[string][]string),
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Refresh reloads every source list. Individual source failures keep the
// previous list for that source instead of wiping it.
func (r *SymbolRegistry) Refresh(ctx context.Context) error {
	var firstErr error
	for _, name := range []string{SourceTracked, SourceMovers, SourceWatchlists} {
		if err := r.RefreshSource(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.mu.Lock()
	r.lastRefresh = r.now()
	r.mu.Unlock()
	return firstErr
}

// RefreshSource reloads a single named list.
func (r *SymbolRegistry) RefreshSource(ctx context.Context, name string) error {
	var (
		symbols []string
		err     error
	)
	switch name {
	case SourceTracked:
		symbols, err = r.source.TrackedSymbols(ctx)
	case SourceMovers:
		symbols, err = r.source.MoverSymbols(ctx)
	case SourceWatchlists:
		symbols, err = r.source.WatchlistSymbols(ctx)
	default:
		return nil
	}
	if err != nil {
		log.Printf("Symbol registry: refresh of %s failed, keeping previous list: %v", name, err)
		return err
	}
	r.mu.Lock()
	r.lists[name] = symbols
	r.mu.Unlock()
	return nil
}

// Symbols returns the cached list for one source.
func (r *SymbolRegistry) Symbols(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.lists[name]))
	copy(out, r.lists[name])
	return out
}

// AllSymbols returns the deduplicated union of every source list, sorted.
func (r *SymbolRegistry) AllSymbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, list := range r.lists {
		for _, s := range list {
			seen[s] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// LastRefresh reports when the full list set was last reloaded, and when
// the next automatic reload is due.
func (r *SymbolRegistry) LastRefresh() (last, next time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastRefresh.IsZero() {
		return time.Time{}, time.Time{}
	}
	return r.lastRefresh, r.lastRefresh.Add(r.interval)
}

// Start launches the periodic refresh loop. The initial load happens
// immediately.
func (r *SymbolRegistry) Start(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		log.Printf("Symbol registry: initial refresh incomplete: %v", err)
	}
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					log.Printf("Symbol registry: periodic refresh incomplete: %v", err)
				}
			}
		}
	}()
}

// Stop terminates the refresh loop.
func (r *SymbolRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}
