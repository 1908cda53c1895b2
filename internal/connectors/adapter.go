package connectors

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"kybmon/internal/observability"
	"kybmon/internal/ports"
)

// Adapter wraps a Connector with the shared resilience stack:
// cache lookup, rate limit, retried call, settled-only cache write.
type Adapter struct {
	conn    Connector
	policy  SourcePolicy
	limiter *RateLimiter
	cache   *Cache
	metrics *observability.Metrics
	log     logrus.FieldLogger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

type AdapterOption func(*Adapter)

func WithCache(store ports.CacheStore) AdapterOption {
	return func(a *Adapter) {
		if store != nil {
			a.cache = NewCache(store)
		}
	}
}

func WithLimiter(l *RateLimiter) AdapterOption {
	return func(a *Adapter) { a.limiter = l }
}

func WithMetrics(m *observability.Metrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

func WithLogger(l logrus.FieldLogger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

// WithClock replaces the clock and the backoff sleeper. Tests use it to run
// retries without waiting.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) AdapterOption {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
		a.sleep = sleep
	}
}

func NewAdapter(conn Connector, policy SourcePolicy, opts ...AdapterOption) (*Adapter, error) {
	if policy.Source == "" {
		policy.Source = conn.Source()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		conn:   conn,
		policy: policy,
		log:    logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.cache != nil {
		a.cache.now = a.now
	}
	a.log = a.log.WithField("source", policy.Source)
	return a, nil
}

func (a *Adapter) Source() string { return a.policy.Source }

func (a *Adapter) Policy() SourcePolicy { return a.policy }

// CheckSingle always returns a populated Result. The error is non-nil
// exactly when the result is not a success: *ValidationError,
// *RateLimitError or *UnavailableError.
func (a *Adapter) CheckSingle(ctx context.Context, identifier string, opts Options) (Result, error) {
	start := a.now()
	source := a.policy.Source

	if v, ok := a.conn.(Validator); ok {
		if err := v.Validate(identifier); err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				err = &ValidationError{Source: source, Identifier: identifier, Reason: err.Error()}
			}
			return a.finish(a.failed(identifier, err), start, err)
		}
	}

	key := CacheKey(source, identifier, opts)
	var stale *Result
	if a.cache != nil {
		res, fresh, found, err := a.cache.Lookup(ctx, key)
		switch {
		case err != nil:
			a.metrics.CacheResult(source, "error")
			a.log.WithError(err).Warn("cache lookup failed, calling source")
		case found && fresh:
			a.metrics.CacheResult(source, "hit")
			res.Cached = true
			res.Stale = false
			return a.finish(res, start, nil)
		case found:
			stale = &res
		}
		if err == nil && !(found && fresh) {
			a.metrics.CacheResult(source, "miss")
		}
	}

	if a.limiter != nil {
		ok, err := a.limiter.Allow(ctx, source, a.policy.RateBudget, a.policy.RateWindow)
		if err != nil {
			a.log.WithError(err).Warn("rate limiter unavailable, admitting request")
		} else if !ok {
			a.metrics.RateLimited(source)
			if stale != nil {
				a.metrics.CacheResult(source, "stale")
				res := *stale
				res.Cached = true
				res.Stale = true
				a.log.WithField("identifier", identifier).Debug("budget exhausted, serving stale cache entry")
				return a.finish(res, start, nil)
			}
			rerr := &RateLimitError{Source: source, Budget: a.policy.RateBudget, Window: a.policy.RateWindow}
			return a.finish(a.failed(identifier, rerr), start, rerr)
		}
	}

	retrier := Retrier{
		Source:     source,
		MaxRetries: a.policy.MaxRetries,
		Base:       a.policy.RetryBase,
		MaxDelay:   a.policy.RetryMaxDelay,
		Timeout:    a.policy.Timeout,
		Sleep:      a.sleep,
		OnRetry: func(attempt int, err error) {
			a.metrics.Retry(source)
			a.log.WithError(err).WithField("attempt", attempt).Debug("retrying source call")
		},
	}
	res, err := retrier.Do(ctx, func(ctx context.Context) (Result, error) {
		return a.conn.CheckSingle(ctx, identifier, opts)
	})
	if err != nil {
		var uerr *UnavailableError
		if !errors.As(err, &uerr) && !isTyped(err) {
			err = &UnavailableError{Source: source, Err: err}
		}
		return a.finish(a.failed(identifier, err), start, err)
	}

	res.Identifier = identifier
	res.Source = source
	res.Cached = false
	res.Stale = false
	res.CheckedAt = a.now().UTC()
	res.ResponseTimeMs = a.now().Sub(start).Milliseconds()
	if res.ResponseTimeMs < 0 {
		res.ResponseTimeMs = 0
	}
	if a.cache != nil && res.Status.Settled() {
		if err := a.cache.Put(ctx, key, res, a.policy.CacheTTL, a.policy.StaleTTL); err != nil {
			a.log.WithError(err).Warn("cache write failed")
		}
	}
	a.metrics.ObserveCheck(source, string(res.Status), a.now().Sub(start))
	return res, nil
}

// CheckBatch runs CheckSingle over identifiers with the policy's worker cap
// and stagger. Per-item errors are carried in each Result; with failFast the
// first error is also returned and unstarted items are reported as aborted.
func (a *Adapter) CheckBatch(ctx context.Context, identifiers []string, opts Options, failFast bool) ([]Result, error) {
	return RunBatch(ctx, identifiers, BatchOptions{
		Source:   a.policy.Source,
		Workers:  a.policy.BatchWorkers,
		Stagger:  a.policy.BatchStagger,
		FailFast: failFast,
	}, func(ctx context.Context, id string) (Result, error) {
		return a.CheckSingle(ctx, id, opts)
	})
}

// Normalize maps a result payload to the flat key space, delegating to the
// connector when it knows its own payload.
func (a *Adapter) Normalize(res Result) map[string]string {
	if n, ok := a.conn.(Normalizer); ok {
		return n.Normalize(res)
	}
	return Flatten(res.Data)
}

func (a *Adapter) failed(identifier string, err error) Result {
	return Result{
		Identifier: identifier,
		Source:     a.policy.Source,
		Status:     StatusFor(err),
		CheckedAt:  a.now().UTC(),
		Error:      err.Error(),
	}
}

func (a *Adapter) finish(res Result, start time.Time, err error) (Result, error) {
	took := a.now().Sub(start)
	res.ResponseTimeMs = max(took.Milliseconds(), 0)
	a.metrics.ObserveCheck(a.policy.Source, string(res.Status), took)
	if err != nil {
		a.log.WithError(err).WithField("status", res.Status).Info("source check failed")
	}
	return res, err
}

func isTyped(err error) bool {
	var verr *ValidationError
	var rerr *RateLimitError
	return errors.As(err, &verr) || errors.As(err, &rerr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
