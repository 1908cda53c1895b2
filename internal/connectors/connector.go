package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Connector performs the network call and response parsing for one source.
// Implementations return *ValidationError for malformed input and
// *UnavailableError for network or upstream failures.
type Connector interface {
	Source() string
	CheckSingle(ctx context.Context, identifier string, opts Options) (Result, error)
}

// Validator is implemented by connectors with a cheap local format check.
// The adapter runs it before touching the cache or the rate budget.
type Validator interface {
	Validate(identifier string) error
}

// Normalizer is implemented by connectors that map their payload to the
// canonical flat key space themselves. Others are flattened generically.
type Normalizer interface {
	Normalize(r Result) map[string]string
}

// SourcePolicy holds the resilience parameters of one source.
type SourcePolicy struct {
	Source        string        `validate:"required"`
	RateWindow    time.Duration `validate:"gt=0"`
	RateBudget    int           `validate:"gt=0"`
	CacheTTL      time.Duration `validate:"gte=0"`
	StaleTTL      time.Duration `validate:"gte=0"`
	MaxRetries    int           `validate:"gte=0,lte=10"`
	RetryBase     time.Duration `validate:"gt=0"`
	RetryMaxDelay time.Duration `validate:"gtefield=RetryBase"`
	Timeout       time.Duration `validate:"gt=0"`
	BatchWorkers  int           `validate:"gt=0,ltfield=RateBudget"`
	BatchStagger  time.Duration `validate:"gte=0"`
}

var validate = validator.New()

func (p SourcePolicy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("source policy %q: %w", p.Source, err)
	}
	return nil
}

// DefaultPolicy returns the built-in parameters for a known source. Volatile
// checks get short cache TTLs, slow-changing registries long ones.
func DefaultPolicy(source string) SourcePolicy {
	p := SourcePolicy{
		Source:        source,
		RateWindow:    time.Minute,
		RateBudget:    60,
		CacheTTL:      6 * time.Hour,
		StaleTTL:      72 * time.Hour,
		MaxRetries:    3,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 30 * time.Second,
		Timeout:       15 * time.Second,
		BatchWorkers:  5,
		BatchStagger:  100 * time.Millisecond,
	}
	switch source {
	case "vies":
		p.RateBudget = 30
		p.CacheTTL = time.Hour
		p.StaleTTL = 24 * time.Hour
		p.Timeout = 20 * time.Second
		p.BatchWorkers = 3
		p.BatchStagger = 250 * time.Millisecond
	case "gleif":
		p.RateBudget = 60
		p.CacheTTL = 24 * time.Hour
		p.StaleTTL = 7 * 24 * time.Hour
		p.Timeout = 10 * time.Second
	case "de_insolvency":
		p.RateBudget = 20
		p.CacheTTL = 12 * time.Hour
		p.Timeout = 30 * time.Second
		p.MaxRetries = 2
		p.BatchWorkers = 2
		p.BatchStagger = 500 * time.Millisecond
	case "eu_sanctions", "ofac", "uk_sanctions":
		p.RateBudget = 100
		p.CacheTTL = 6 * time.Hour
		p.BatchWorkers = 10
		p.BatchStagger = 50 * time.Millisecond
	}
	return p
}
