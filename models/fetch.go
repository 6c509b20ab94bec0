package models

import (
	"strings"
	"time"
)

// FetchStatus tracks the lifecycle of one provider call.
type FetchStatus string

const (
	FetchStatusPending    FetchStatus = "pending"
	FetchStatusInProgress FetchStatus = "in_progress"
	FetchStatusSuccess    FetchStatus = "success"
	FetchStatusFailed     FetchStatus = "failed"
	FetchStatusPartial    FetchStatus = "partial"
	FetchStatusSkipped    FetchStatus = "skipped"
)

// Terminal reports whether the status is final. Transitions are monotonic:
// pending/in_progress move to exactly one terminal state and never back.
func (s FetchStatus) Terminal() bool {
	switch s {
	case FetchStatusSuccess, FetchStatusFailed, FetchStatusPartial, FetchStatusSkipped:
		return true
	}
	return false
}

// FetchAttempt records one provider call and its outcome.
type FetchAttempt struct {
	ID              string      `json:"id"`
	Symbol          string      `json:"symbol"`
	DataType        DataType    `json:"data_type"`
	Provider        string      `json:"provider"`
	Status          FetchStatus `json:"status"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	RetryCount      int         `json:"retry_count"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`
	PayloadSize     int         `json:"payload_size,omitempty"`
	JobID           string      `json:"job_id,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}

// ProviderStats is the per-provider aggregate derived from fetch attempts.
// It is updated incrementally on every recorded attempt and never reset
// except by explicit manual intervention.
type ProviderStats struct {
	Name                string                `json:"name"`
	TotalAttempts       int64                 `json:"total_attempts"`
	SuccessCount        int64                 `json:"success_count"`
	FailureCount        int64                 `json:"failure_count"`
	AvgResponseTimeMs   float64               `json:"avg_response_time_ms"`
	LastSuccessAt       *time.Time            `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time            `json:"last_failure_at,omitempty"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	RateLimitedUntil    *time.Time            `json:"rate_limited_until,omitempty"`
	CoveredDataTypes    map[DataType]struct{} `json:"-"`
}

// SuccessRate returns the historical success ratio, or the neutral 0.5 prior
// for providers with no terminal outcomes yet.
func (s *ProviderStats) SuccessRate() float64 {
	terminal := s.SuccessCount + s.FailureCount
	if terminal == 0 {
		return 0.5
	}
	return float64(s.SuccessCount) / float64(terminal)
}

// FailedSymbolEntry marks a (symbol, data type) pair whose last aggregation
// produced no usable data. It is removed on the next success for the pair.
type FailedSymbolEntry struct {
	DataType      DataType  `json:"data_type"`
	Symbol        string    `json:"symbol"`
	LastFailureAt time.Time `json:"last_failure_at"`
	RetryCount    int       `json:"retry_count"`
}

// MergedRecord is the aggregation output for one (symbol, data type) pair.
// Scalar data types populate Fields; list-valued types populate Records.
type MergedRecord struct {
	Symbol                string     `json:"symbol"`
	DataType              DataType   `json:"data_type"`
	Fields                FieldMap   `json:"fields,omitempty"`
	Records               []FieldMap `json:"records,omitempty"`
	ContributingProviders []string   `json:"contributing_providers"`
	FetchedAt             time.Time  `json:"fetched_at"`
}

// Provider returns the synthesized attribution string, joining every
// contributing provider with "+" in first-contact order.
func (r *MergedRecord) Provider() string {
	return strings.Join(r.ContributingProviders, "+")
}

// Empty reports whether the merge produced no populated fields and no records.
func (r *MergedRecord) Empty() bool {
	if r == nil {
		return true
	}
	for _, v := range r.Fields {
		if IsPopulated(v) {
			return false
		}
	}
	return len(r.Records) == 0
}

// FetchResult is the uniform wrapper the orchestrator hands to callers.
// "No provider had data" is Success=false with Err=nil, distinct from a
// fetch error.
type FetchResult struct {
	Data     *MergedRecord `json:"data,omitempty"`
	Provider string        `json:"provider,omitempty"`
	Success  bool          `json:"success"`
	Err      error         `json:"-"`
}

// ErrorMessage renders Err for JSON surfaces.
func (r *FetchResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
