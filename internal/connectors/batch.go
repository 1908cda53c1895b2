package connectors

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// CheckFunc performs one check; RunBatch calls it concurrently.
type CheckFunc func(ctx context.Context, identifier string) (Result, error)

// BatchOptions tunes RunBatch.
type BatchOptions struct {
	Source  string
	Workers int
	// Stagger spaces out submissions; zero submits as fast as workers free up.
	Stagger time.Duration
	// FailFast cancels outstanding work on the first error. Results already
	// completed are kept.
	FailFast bool
}

const abortedMessage = "batch aborted before this identifier was checked"

// RunBatch checks identifiers with bounded concurrency. results[i] always
// corresponds to identifiers[i]. The returned error is the first check error
// when FailFast is set, otherwise nil.
func RunBatch(ctx context.Context, identifiers []string, opts BatchOptions, check CheckFunc) ([]Result, error) {
	results := make([]Result, len(identifiers))
	if len(identifiers) == 0 {
		return results, nil
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	var g *errgroup.Group
	gctx := ctx
	if opts.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	g.SetLimit(workers)

	var limiter *rate.Limiter
	if opts.Stagger > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.Stagger), 1)
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	done := make([]bool, len(identifiers))

	for i, id := range identifiers {
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := check(gctx, id)
			if res.Identifier == "" {
				res.Identifier = id
			}
			mu.Lock()
			results[i] = res
			done[i] = true
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			if err != nil && opts.FailFast {
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range identifiers {
		if !done[i] {
			results[i] = Result{
				Identifier: id,
				Source:     opts.Source,
				Status:     StatusError,
				CheckedAt:  time.Now().UTC(),
				Error:      abortedMessage,
			}
		}
	}
	if opts.FailFast {
		return results, firstErr
	}
	return results, nil
}
