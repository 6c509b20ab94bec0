package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"marketdata_hub/models"
	"marketdata_hub/services/cache"
	"marketdata_hub/services/orchestrator"
)

// Job is one schedulable unit of data collection. Each job covers a single
// data type; the scheduler drives its run template.
type Job interface {
	// Name is a unique, URL-safe job identifier.
	Name() string
	// DataType is the data type this job collects.
	DataType() models.DataType
	// Symbols returns the symbols to process on this run.
	Symbols(ctx context.Context) []string
	// Fetch obtains merged data for one symbol.
	Fetch(ctx context.Context, symbol string) *models.FetchResult
	// Validate checks a merged record before storing it.
	Validate(rec *models.MergedRecord) error
	// Store persists a validated record.
	Store(ctx context.Context, rec *models.MergedRecord) error
}

// runJob is the shared run template: iterate symbols, skip ones in retry
// backoff, fetch, validate, store with retries. One symbol failing never
// stops the rest of the run. A non-empty override list replaces the job's
// own symbol resolution, for manually triggered runs.
func runJob(ctx context.Context, job Job, brain *orchestrator.Brain, override []string) {
	runID := uuid.New().String()
	ctx = orchestrator.WithJobID(ctx, fmt.Sprintf("%s:%s", job.Name(), runID[:8]))
	start := time.Now()

	symbols := override
	if len(symbols) == 0 {
		symbols = job.Symbols(ctx)
	}
	if len(symbols) == 0 {
		log.Printf("Job %s: no symbols to process", job.Name())
		return
	}
	log.Printf("Job %s: starting run for %d symbols", job.Name(), len(symbols))

	var stored, skipped, failed int
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			log.Printf("Job %s: run canceled after %d symbols", job.Name(), stored+skipped+failed)
			return
		}
		if !brain.ShouldRetry(symbol, job.DataType()) {
			skipped++
			continue
		}

		res := job.Fetch(ctx, symbol)
		if res.Err != nil {
			log.Printf("Job %s: fetch failed for %s: %v", job.Name(), symbol, res.Err)
			failed++
			continue
		}
		if !res.Success {
			skipped++
			continue
		}
		if err := job.Validate(res.Data); err != nil {
			log.Printf("Job %s: discarding invalid data for %s: %v", job.Name(), symbol, err)
			failed++
			continue
		}

		if err := storeWithRetry(ctx, job, res.Data); err != nil {
			log.Printf("Job %s: store failed for %s: %v", job.Name(), symbol, err)
			failed++
			continue
		}
		stored++
	}

	log.Printf("Job %s: run complete in %s (stored=%d skipped=%d failed=%d)",
		job.Name(), time.Since(start).Round(time.Millisecond), stored, skipped, failed)
}

// storeWithRetry retries transient store failures with exponential backoff.
func storeWithRetry(ctx context.Context, job Job, rec *models.MergedRecord) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, job.Store(ctx, rec)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	return err
}

// StoreFunc persists one merged record.
type StoreFunc func(ctx context.Context, rec *models.MergedRecord) error

// ValidateFunc checks one merged record; nil means accept everything.
type ValidateFunc func(rec *models.MergedRecord) error

// DataJob is the standard Job implementation: symbols come from the
// registry, data from the orchestrator, persistence from a store func.
type DataJob struct {
	name     string
	dataType models.DataType
	brain    *orchestrator.Brain
	registry *cache.SymbolRegistry
	store    StoreFunc
	validate ValidateFunc
	static   []string
}

// NewDataJob builds a registry-driven job for one data type.
func NewDataJob(name string, dt models.DataType, brain *orchestrator.Brain, registry *cache.SymbolRegistry, store StoreFunc, validate ValidateFunc) *DataJob {
	return &DataJob{
		name:     name,
		dataType: dt,
		brain:    brain,
		registry: registry,
		store:    store,
		validate: validate,
	}
}

// NewStaticJob builds a job over a fixed symbol list instead of the
// registry, used for the symbol-less economic calendar.
func NewStaticJob(name string, dt models.DataType, brain *orchestrator.Brain, symbols []string, store StoreFunc, validate ValidateFunc) *DataJob {
	return &DataJob{
		name:     name,
		dataType: dt,
		brain:    brain,
		store:    store,
		validate: validate,
		static:   symbols,
	}
}

func (j *DataJob) Name() string              { return j.name }
func (j *DataJob) DataType() models.DataType { return j.dataType }

func (j *DataJob) Symbols(ctx context.Context) []string {
	if j.static != nil {
		return j.static
	}
	return j.registry.AllSymbols()
}

func (j *DataJob) Fetch(ctx context.Context, symbol string) *models.FetchResult {
	return j.brain.Fetch(ctx, j.dataType, symbol)
}

func (j *DataJob) Validate(rec *models.MergedRecord) error {
	if j.validate == nil {
		return nil
	}
	return j.validate(rec)
}

func (j *DataJob) Store(ctx context.Context, rec *models.MergedRecord) error {
	if j.store == nil {
		return nil
	}
	return j.store(ctx, rec)
}

// ValidateQuote rejects quotes with a non-positive price.
func ValidateQuote(rec *models.MergedRecord) error {
	if !rec.Fields.Populated("price") {
		return fmt.Errorf("quote for %s has no price", rec.Symbol)
	}
	if rec.Fields.FloatField("price") <= 0 {
		return fmt.Errorf("quote for %s has non-positive price", rec.Symbol)
	}
	return nil
}

// ValidateDatedRecords rejects list records whose temporal field is absent
// or not an ISO date.
func ValidateDatedRecords(rec *models.MergedRecord) error {
	field := rec.DataType.TemporalField()
	for _, r := range rec.Records {
		v := r.StringField(field)
		if v == "" {
			continue
		}
		if len(v) < 10 {
			return fmt.Errorf("record for %s has malformed %s %q", rec.Symbol, field, v)
		}
		if _, err := time.Parse("2006-01-02", v[:10]); err != nil {
			return fmt.Errorf("record for %s has malformed %s %q", rec.Symbol, field, v)
		}
	}
	return nil
}
