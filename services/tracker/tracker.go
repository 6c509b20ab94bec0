package tracker

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketdata_hub/models"
	"marketdata_hub/services/providers"
)

// Config tunes eligibility, retry and cooldown policy.
type Config struct {
	MaxConsecutiveFailures int
	MaxRetryAttempts       int
	RetryBackoff           []time.Duration
	RateLimitCooldown      time.Duration
	// ResponseTimeNorm scales avg response time into [0,1] for ranking.
	ResponseTimeNorm time.Duration
}

// DefaultConfig returns the standard tracker policy.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 5,
		MaxRetryAttempts:       3,
		RetryBackoff:           []time.Duration{5 * time.Minute, 15 * time.Minute, 60 * time.Minute},
		RateLimitCooldown:      15 * time.Minute,
		ResponseTimeNorm:       5 * time.Second,
	}
}

// Summary aggregates tracker counters for health surfaces.
type Summary struct {
	TotalAttempts   int64 `json:"total_attempts"`
	TotalSuccesses  int64 `json:"total_successes"`
	TotalFailures   int64 `json:"total_failures"`
	TotalProviders  int   `json:"total_providers"`
	ActiveProviders int   `json:"active_providers"`
	PendingRetries  int   `json:"pending_retries"`
	InFlight        int   `json:"in_flight"`
}

// Tracker records every fetch attempt, derives provider health statistics
// and decides which providers are eligible before each aggregation pass.
// All shared state is keyed by provider name or (symbol, data type) and
// guarded by one mutex with short critical sections.
type Tracker struct {
	cfg Config
	now func() time.Time

	mu       sync.RWMutex
	stats    map[string]*models.ProviderStats
	declared map[string]map[models.DataType]struct{}
	inflight map[string]*models.FetchAttempt
	failed   map[string]*models.FailedSymbolEntry // key: symbol|data_type

	archive *AttemptArchive // nil when archival is disabled
}

// New creates a Tracker. archive may be nil.
func New(cfg Config, archive *AttemptArchive) *Tracker {
	if len(cfg.RetryBackoff) == 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.ResponseTimeNorm <= 0 {
		cfg.ResponseTimeNorm = DefaultConfig().ResponseTimeNorm
	}
	return &Tracker{
		cfg:      cfg,
		now:      time.Now,
		stats:    make(map[string]*models.ProviderStats),
		declared: make(map[string]map[models.DataType]struct{}),
		inflight: make(map[string]*models.FetchAttempt),
		failed:   make(map[string]*models.FailedSymbolEntry),
		archive:  archive,
	}
}

// SetClock injects a clock for tests.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// RegisterProvider declares a provider and its capability list. Declared
// capabilities let untested providers compete for eligibility before their
// first attempt.
func (t *Tracker) RegisterProvider(name string, declared []models.DataType) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.stats[name]; !ok {
		t.stats[name] = &models.ProviderStats{
			Name:             name,
			CoveredDataTypes: make(map[models.DataType]struct{}),
		}
	}
	set := make(map[models.DataType]struct{}, len(declared))
	for _, dt := range declared {
		set[dt] = struct{}{}
	}
	t.declared[name] = set
}

// RankedProvider is one eligible provider with its ranking score.
type RankedProvider struct {
	Name  string
	Score float64
}

// EligibleProviders returns providers able to serve the data type, best
// score first. Excluded: providers on rate-limit cooldown, providers at or
// over the consecutive-failure cap, and providers that never declared nor
// demonstrated support for the type.
func (t *Tracker) EligibleProviders(dt models.DataType) []RankedProvider {
	now := t.now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	ranked := make([]RankedProvider, 0, len(t.stats))
	for name, s := range t.stats {
		if s.RateLimitedUntil != nil && s.RateLimitedUntil.After(now) {
			continue
		}
		if s.ConsecutiveFailures >= t.cfg.MaxConsecutiveFailures {
			continue
		}
		if !t.supportsLocked(name, dt) {
			continue
		}
		ranked = append(ranked, RankedProvider{Name: name, Score: t.scoreLocked(s)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Name < ranked[j].Name
	})
	return ranked
}

func (t *Tracker) supportsLocked(name string, dt models.DataType) bool {
	if set, ok := t.declared[name]; ok {
		if _, ok := set[dt]; ok {
			return true
		}
	}
	if s, ok := t.stats[name]; ok {
		if _, ok := s.CoveredDataTypes[dt]; ok {
			return true
		}
	}
	return false
}

// scoreLocked computes success_rate - 0.1 * normalized_avg_response_time.
// Untested providers get the 0.5 neutral prior from SuccessRate.
func (t *Tracker) scoreLocked(s *models.ProviderStats) float64 {
	norm := s.AvgResponseTimeMs / float64(t.cfg.ResponseTimeNorm.Milliseconds())
	if norm > 1 {
		norm = 1
	}
	return s.SuccessRate() - 0.1*norm
}

// RegisterFetchAttempt creates an in-progress attempt and returns its id.
func (t *Tracker) RegisterFetchAttempt(provider, symbol string, dt models.DataType, jobID string) string {
	now := t.now()
	attempt := &models.FetchAttempt{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		DataType:  dt,
		Provider:  provider,
		Status:    models.FetchStatusInProgress,
		JobID:     jobID,
		StartedAt: now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.failed[failedKey(symbol, dt)]; ok {
		attempt.RetryCount = e.RetryCount
	}
	t.inflight[attempt.ID] = attempt
	if s := t.statsLocked(provider); s != nil {
		s.TotalAttempts++
	}
	return attempt.ID
}

func (t *Tracker) statsLocked(provider string) *models.ProviderStats {
	s, ok := t.stats[provider]
	if !ok {
		return nil
	}
	return s
}

// RecordFetchSuccess moves the attempt to its terminal success state,
// updates the provider's rolling average response time and resets the
// consecutive-failure counter. Failed-symbol entries are pass-level state
// and are cleared by RecordPassSuccess, not here.
func (t *Tracker) RecordFetchSuccess(attemptID string, execTime time.Duration, payloadSize int) {
	now := t.now()

	t.mu.Lock()
	attempt, ok := t.inflight[attemptID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.inflight, attemptID)

	attempt.Status = models.FetchStatusSuccess
	attempt.ExecutionTimeMs = execTime.Milliseconds()
	attempt.PayloadSize = payloadSize
	attempt.CompletedAt = &now

	if s := t.statsLocked(attempt.Provider); s != nil {
		s.SuccessCount++
		n := float64(s.SuccessCount)
		s.AvgResponseTimeMs = (s.AvgResponseTimeMs*(n-1) + float64(execTime.Milliseconds())) / n
		s.ConsecutiveFailures = 0
		ts := now
		s.LastSuccessAt = &ts
		s.CoveredDataTypes[attempt.DataType] = struct{}{}
	}
	t.mu.Unlock()

	t.archiveAttempt(attempt)
}

// RecordFetchFailure moves the attempt to failed, increments the provider's
// consecutive-failure counter and applies a rate-limit cooldown when the
// error is flagged as throttling. It touches provider stats only: one
// provider erroring says nothing about the aggregation pass, so the
// failed-symbol entry is driven by RecordPassFailure instead.
func (t *Tracker) RecordFetchFailure(attemptID string, fetchErr error, execTime time.Duration) {
	now := t.now()

	t.mu.Lock()
	attempt, ok := t.inflight[attemptID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.inflight, attemptID)

	attempt.Status = models.FetchStatusFailed
	attempt.ExecutionTimeMs = execTime.Milliseconds()
	attempt.CompletedAt = &now
	if fetchErr != nil {
		attempt.ErrorMessage = fetchErr.Error()
	}

	if s := t.statsLocked(attempt.Provider); s != nil {
		s.FailureCount++
		s.ConsecutiveFailures++
		ts := now
		s.LastFailureAt = &ts

		if rl, ok := providers.IsRateLimit(fetchErr); ok {
			cooldown := t.cfg.RateLimitCooldown
			if rl.RetryAfter > 0 {
				cooldown = rl.RetryAfter
			}
			until := now.Add(cooldown)
			s.RateLimitedUntil = &until
		}
	}

	t.mu.Unlock()

	t.archiveAttempt(attempt)
}

// RecordPassFailure notes that a whole aggregation pass for the (symbol,
// data type) pair failed: every eligible provider errored and no usable
// data came back. Each failed pass advances the retry counter that drives
// ShouldRetrySymbol; per-provider errors inside a pass never do.
func (t *Tracker) RecordPassFailure(symbol string, dt models.DataType) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	key := failedKey(symbol, dt)
	if e, ok := t.failed[key]; ok {
		e.RetryCount++
		e.LastFailureAt = now
		return
	}
	t.failed[key] = &models.FailedSymbolEntry{
		DataType:      dt,
		Symbol:        symbol,
		LastFailureAt: now,
		RetryCount:    1,
	}
}

// RecordPassSuccess clears the failed-symbol entry after a pass that
// produced usable data, regardless of how many individual providers
// errored along the way.
func (t *Tracker) RecordPassSuccess(symbol string, dt models.DataType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failed, failedKey(symbol, dt))
}

// RecordFetchNoData marks a clean "queried, nothing there" outcome. It is
// recorded as skipped: neither a success nor a failure, so it does not move
// the provider's reliability score or consecutive-failure counter.
func (t *Tracker) RecordFetchNoData(attemptID string, execTime time.Duration) {
	now := t.now()

	t.mu.Lock()
	attempt, ok := t.inflight[attemptID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.inflight, attemptID)

	attempt.Status = models.FetchStatusSkipped
	attempt.ExecutionTimeMs = execTime.Milliseconds()
	attempt.CompletedAt = &now
	t.mu.Unlock()

	t.archiveAttempt(attempt)
}

func (t *Tracker) archiveAttempt(a *models.FetchAttempt) {
	if t.archive == nil {
		return
	}
	if err := t.archive.Insert(a); err != nil {
		log.Printf("Warning: failed to archive fetch attempt %s: %v", a.ID, err)
	}
}

func failedKey(symbol string, dt models.DataType) string {
	return symbol + "|" + string(dt)
}

// ShouldRetrySymbol reports whether a previously failed (symbol, data type)
// pair is eligible for another aggregation pass. Pairs with no recorded
// failure are always eligible; pairs at the retry cap stay ineligible until
// a success or a manual reset clears them.
func (t *Tracker) ShouldRetrySymbol(symbol string, dt models.DataType) bool {
	now := t.now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.failed[failedKey(symbol, dt)]
	if !ok {
		return true
	}
	if e.RetryCount >= t.cfg.MaxRetryAttempts {
		return false
	}
	return !now.Before(e.LastFailureAt.Add(t.backoffFor(e.RetryCount)))
}

// backoffFor returns the wait before retry attempt n (1-based), capped at
// the last schedule entry.
func (t *Tracker) backoffFor(retryCount int) time.Duration {
	idx := retryCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(t.cfg.RetryBackoff) {
		idx = len(t.cfg.RetryBackoff) - 1
	}
	return t.cfg.RetryBackoff[idx]
}

// ResetProviderFailures clears the consecutive-failure counter and any
// rate-limit cooldown for operator-triggered recovery.
func (t *Tracker) ResetProviderFailures(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[name]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	s.ConsecutiveFailures = 0
	s.RateLimitedUntil = nil
	return nil
}

// ResetFailedSymbol removes the failed-symbol entry so a capped pair becomes
// retryable again.
func (t *Tracker) ResetFailedSymbol(symbol string, dt models.DataType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failed, failedKey(symbol, dt))
}

// GetSummary returns aggregate counters for external health surfaces.
func (t *Tracker) GetSummary() Summary {
	now := t.now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	sum := Summary{
		TotalProviders: len(t.stats),
		PendingRetries: len(t.failed),
		InFlight:       len(t.inflight),
	}
	for _, s := range t.stats {
		sum.TotalAttempts += s.TotalAttempts
		sum.TotalSuccesses += s.SuccessCount
		sum.TotalFailures += s.FailureCount

		active := s.ConsecutiveFailures < t.cfg.MaxConsecutiveFailures
		if s.RateLimitedUntil != nil && s.RateLimitedUntil.After(now) {
			active = false
		}
		if active {
			sum.ActiveProviders++
		}
	}
	return sum
}

// ProviderPerformance returns a per-provider stats snapshot, sorted by name.
func (t *Tracker) ProviderPerformance() []models.ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.ProviderStats, 0, len(t.stats))
	for _, s := range t.stats {
		snap := *s
		snap.CoveredDataTypes = nil
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CoveredDataTypes returns the data types a provider declared or has
// demonstrably returned data for.
func (t *Tracker) CoveredDataTypes(name string) []models.DataType {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[models.DataType]struct{})
	if set, ok := t.declared[name]; ok {
		for dt := range set {
			seen[dt] = struct{}{}
		}
	}
	if s, ok := t.stats[name]; ok {
		for dt := range s.CoveredDataTypes {
			seen[dt] = struct{}{}
		}
	}
	var out []models.DataType
	for _, dt := range models.AllDataTypes() {
		if _, ok := seen[dt]; ok {
			out = append(out, dt)
		}
	}
	return out
}

// CleanupOld removes archived attempts and stale failed-symbol entries older
// than the horizon. Provider aggregates are never touched.
func (t *Tracker) CleanupOld(horizon time.Duration) (int64, error) {
	cutoff := t.now().Add(-horizon)

	t.mu.Lock()
	for key, e := range t.failed {
		if e.LastFailureAt.Before(cutoff) {
			delete(t.failed, key)
		}
	}
	t.mu.Unlock()

	if t.archive == nil {
		return 0, nil
	}
	return t.archive.DeleteOlderThan(cutoff)
}
