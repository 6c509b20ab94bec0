package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketdata_hub/models"
)

// ErrNoData signals a clean "queried successfully, nothing there" outcome.
// It is not a provider failure and must not count against reliability.
var ErrNoData = errors.New("provider has no data for symbol")

// ErrUnsupported is returned when a provider is asked for a data type it
// does not serve.
var ErrUnsupported = errors.New("data type not supported by provider")

// RateLimitError flags a provider failure caused by upstream throttling.
// The fetch tracker puts the provider on cooldown instead of plain
// failure-counting when it sees one.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %s rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("provider %s rate limited", e.Provider)
}

// IsRateLimit reports whether err carries a RateLimitError anywhere in its
// chain, returning it when present.
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// Payload is the normalized result of one provider call. Scalar data types
// populate Fields; list-valued types populate Records. Unknown fields are
// simply absent, never zero-filled.
type Payload struct {
	Fields  models.FieldMap
	Records []models.FieldMap
}

// Size approximates the payload size for attempt bookkeeping.
func (p *Payload) Size() int {
	if p == nil {
		return 0
	}
	n := len(p.Fields)
	for _, r := range p.Records {
		n += len(r)
	}
	return n
}

// Empty reports whether the payload holds no populated field and no record.
func (p *Payload) Empty() bool {
	if p == nil {
		return true
	}
	for _, v := range p.Fields {
		if models.IsPopulated(v) {
			return false
		}
	}
	return len(p.Records) == 0
}

// Provider is an adapter to one external market data source. Providers are
// unaware of each other and of retry or caching policy; they only translate
// one upstream wire format into sparse field maps.
type Provider interface {
	Name() string
	Supports(dt models.DataType) bool
	Fetch(ctx context.Context, dt models.DataType, symbol string) (*Payload, error)
}

// typeSet is a small helper for declaring supported data types.
type typeSet map[models.DataType]struct{}

func newTypeSet(types ...models.DataType) typeSet {
	s := make(typeSet, len(types))
	for _, dt := range types {
		s[dt] = struct{}{}
	}
	return s
}

func (s typeSet) has(dt models.DataType) bool {
	_, ok := s[dt]
	return ok
}

func (s typeSet) list() []models.DataType {
	out := make([]models.DataType, 0, len(s))
	for _, dt := range models.AllDataTypes() {
		if s.has(dt) {
			out = append(out, dt)
		}
	}
	return out
}

// DeclaredTypes returns the declared capability list of a provider, used to
// seed the fetch tracker so untested providers are rankable from the start.
func DeclaredTypes(p Provider) []models.DataType {
	var out []models.DataType
	for _, dt := range models.AllDataTypes() {
		if p.Supports(dt) {
			out = append(out, dt)
		}
	}
	return out
}
