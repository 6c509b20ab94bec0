package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"marketdata_hub/models"
	"marketdata_hub/services/providers"
	"marketdata_hub/services/tracker"
)

// ErrNoEligibleProviders means every registered provider is excluded for the
// requested data type (cooldown, failure cap, or no declared support).
var ErrNoEligibleProviders = errors.New("no eligible providers for data type")

// ErrInvalidSymbol rejects malformed symbols before any provider quota is
// spent on them.
var ErrInvalidSymbol = errors.New("invalid symbol")

// Config tunes one aggregation pass.
type Config struct {
	// ProviderTimeout bounds each individual provider call.
	ProviderTimeout time.Duration
	// InterCallDelay staggers sequential calls to respect shared limits.
	InterCallDelay time.Duration
	// MaxFanout bounds concurrent provider calls; 1 means sequential.
	MaxFanout int
}

// DefaultConfig returns the standard aggregation policy.
func DefaultConfig() Config {
	return Config{
		ProviderTimeout: 15 * time.Second,
		InterCallDelay:  200 * time.Millisecond,
		MaxFanout:       4,
	}
}

// Aggregator maximizes field coverage for one (symbol, data type) pair by
// querying every eligible provider and merging their partial results,
// first writer wins, in eligibility-rank order.
type Aggregator struct {
	cfg     Config
	tracker *tracker.Tracker
	byName  map[string]providers.Provider
	now     func() time.Time
}

// New creates an Aggregator bound to a fetch tracker.
func New(cfg Config, trk *tracker.Tracker) *Aggregator {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	if cfg.MaxFanout <= 0 {
		cfg.MaxFanout = 1
	}
	return &Aggregator{
		cfg:     cfg,
		tracker: trk,
		byName:  make(map[string]providers.Provider),
		now:     time.Now,
	}
}

// RegisterProvider adds a provider to the registry and declares its
// capabilities to the tracker.
func (a *Aggregator) RegisterProvider(p providers.Provider) {
	a.byName[p.Name()] = p
	a.tracker.RegisterProvider(p.Name(), providers.DeclaredTypes(p))
}

// ProviderNames lists registered providers in a stable order.
func (a *Aggregator) ProviderNames() []string {
	names := make([]string, 0, len(a.byName))
	for name := range a.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateSymbol applies the cheap structural check: 1-10 characters,
// alphanumeric apart from '.' and '-'.
func ValidateSymbol(symbol string) error {
	if symbol == "" || len(symbol) > 10 {
		return ErrInvalidSymbol
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-':
		default:
			return ErrInvalidSymbol
		}
	}
	return nil
}

// callOutcome is the result of one provider call within a pass.
type callOutcome struct {
	payload *providers.Payload
	err     error
	noData  bool
}

// Fetch runs one aggregation pass. A single provider failure never aborts
// the pass; only "no usable data from anyone" surfaces as a failed result.
// "No provider had data" is Success=false with Err=nil, distinct from an
// all-providers-errored pass.
func (a *Aggregator) Fetch(ctx context.Context, dt models.DataType, symbol, jobID string) *models.FetchResult {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := ValidateSymbol(symbol); err != nil {
		return &models.FetchResult{Success: false, Err: fmt.Errorf("%w: %q", err, symbol)}
	}

	ranked := a.tracker.EligibleProviders(dt)
	eligible := make([]providers.Provider, 0, len(ranked))
	for _, r := range ranked {
		if p, ok := a.byName[r.Name]; ok {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return &models.FetchResult{Success: false, Err: ErrNoEligibleProviders}
	}

	outcomes := make([]callOutcome, len(eligible))
	if a.cfg.MaxFanout <= 1 {
		for i := range eligible {
			if i > 0 && a.cfg.InterCallDelay > 0 {
				select {
				case <-ctx.Done():
					outcomes[i] = callOutcome{err: ctx.Err()}
					continue
				case <-time.After(a.cfg.InterCallDelay):
				}
			}
			outcomes[i] = a.callProvider(ctx, eligible[i], dt, symbol, jobID)
		}
	} else {
		fan := pool.New().WithMaxGoroutines(a.cfg.MaxFanout)
		for i := range eligible {
			i := i
			fan.Go(func() {
				outcomes[i] = a.callProvider(ctx, eligible[i], dt, symbol, jobID)
			})
		}
		fan.Wait()
	}

	merged := a.merge(dt, symbol, eligible, outcomes)
	if !merged.Empty() {
		a.tracker.RecordPassSuccess(symbol, dt)
		return &models.FetchResult{
			Data:     merged,
			Provider: merged.Provider(),
			Success:  true,
		}
	}

	// Nothing usable. Distinguish "everyone errored" from "nobody had data":
	// only the former counts as a failed pass for retry backoff.
	allErrored := true
	var lastErr error
	for _, o := range outcomes {
		if o.err != nil {
			lastErr = o.err
			continue
		}
		allErrored = false
	}
	if allErrored && lastErr != nil {
		a.tracker.RecordPassFailure(symbol, dt)
		return &models.FetchResult{
			Success: false,
			Err:     fmt.Errorf("all %d eligible providers failed for %s/%s: %w", len(eligible), symbol, dt, lastErr),
		}
	}
	return &models.FetchResult{Success: false}
}

// callProvider runs one bounded provider call and records its outcome with
// the tracker. A timeout is recorded as an ordinary failure unless the
// provider flags rate limiting explicitly.
func (a *Aggregator) callProvider(ctx context.Context, p providers.Provider, dt models.DataType, symbol, jobID string) callOutcome {
	attemptID := a.tracker.RegisterFetchAttempt(p.Name(), symbol, dt, jobID)

	cctx, cancel := context.WithTimeout(ctx, a.cfg.ProviderTimeout)
	defer cancel()

	start := a.now()
	payload, err := p.Fetch(cctx, dt, symbol)
	elapsed := a.now().Sub(start)

	switch {
	case errors.Is(err, providers.ErrNoData), errors.Is(err, providers.ErrUnsupported):
		a.tracker.RecordFetchNoData(attemptID, elapsed)
		return callOutcome{noData: true}
	case err != nil:
		a.tracker.RecordFetchFailure(attemptID, err, elapsed)
		log.Printf("Provider %s failed for %s/%s: %v", p.Name(), symbol, dt, err)
		return callOutcome{err: err}
	case payload.Empty():
		a.tracker.RecordFetchNoData(attemptID, elapsed)
		return callOutcome{noData: true}
	default:
		a.tracker.RecordFetchSuccess(attemptID, elapsed, payload.Size())
		return callOutcome{payload: payload}
	}
}

// merge combines provider payloads in eligibility-rank order.
func (a *Aggregator) merge(dt models.DataType, symbol string, eligible []providers.Provider, outcomes []callOutcome) *models.MergedRecord {
	merged := &models.MergedRecord{
		Symbol:    symbol,
		DataType:  dt,
		FetchedAt: a.now(),
	}

	if dt.IsListValued() {
		a.mergeRecords(dt, merged, eligible, outcomes)
	} else {
		a.mergeFields(dt, merged, eligible, outcomes)
	}
	return merged
}

// mergeFields applies first-writer-wins over the declared field list.
// Absent, empty-string and zero values never occupy a slot, so a later
// provider's real value can still land.
func (a *Aggregator) mergeFields(dt models.DataType, merged *models.MergedRecord, eligible []providers.Provider, outcomes []callOutcome) {
	fields := models.FieldMap{}
	declared := dt.FieldNames()

	for i, o := range outcomes {
		if o.payload == nil || o.payload.Fields == nil {
			continue
		}
		contributed := 0
		for _, name := range declared {
			if fields.Populated(name) {
				continue
			}
			if o.payload.Fields.Populated(name) {
				fields[name] = o.payload.Fields[name]
				contributed++
			}
		}
		if contributed > 0 {
			merged.ContributingProviders = append(merged.ContributingProviders, eligible[i].Name())
		}
	}
	merged.Fields = fields
}

// mergeRecords deduplicates list records across providers by natural key.
// When two providers report the same key, the record with strictly more
// non-null fields wins; on a tie the higher-ranked provider's record stays.
func (a *Aggregator) mergeRecords(dt models.DataType, merged *models.MergedRecord, eligible []providers.Provider, outcomes []callOutcome) {
	type slot struct {
		rec      models.FieldMap
		provider int
	}
	byKey := make(map[string]slot)
	order := make([]string, 0)

	for i, o := range outcomes {
		if o.payload == nil {
			continue
		}
		for _, rec := range o.payload.Records {
			key := dt.NaturalKey(rec)
			if key == "" || key == "|" {
				continue
			}
			cur, ok := byKey[key]
			if !ok {
				byKey[key] = slot{rec: rec, provider: i}
				order = append(order, key)
				continue
			}
			if rec.NonNullCount() > cur.rec.NonNullCount() {
				byKey[key] = slot{rec: rec, provider: i}
			}
		}
	}

	contributed := make(map[int]bool)
	records := make([]models.FieldMap, 0, len(order))
	for _, key := range order {
		s := byKey[key]
		records = append(records, s.rec)
		contributed[s.provider] = true
	}

	// Dates are ISO strings, so reverse lexicographic order is most recent
	// first. Stable sort keeps the first-contact order among equal keys.
	temporal := dt.TemporalField()
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StringField(temporal) > records[j].StringField(temporal)
	})
	merged.Records = records

	for i := range eligible {
		if contributed[i] {
			merged.ContributingProviders = append(merged.ContributingProviders, eligible[i].Name())
		}
	}
}
