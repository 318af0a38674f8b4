package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// executor wraps one external-service call with the stage's retry policy
// and request pacing. Pacing applies before every attempt, retries included,
// so a retry storm cannot exceed the provider's request budget.
type executor struct {
	maxRetries int
	baseDelay  time.Duration
	interDelay time.Duration
	limiter    *rate.Limiter
	onRetry    func(window, attempt int, err error)
}

func newExecutor(maxRetries int, baseDelay, interDelay time.Duration, requestsPerMin int) *executor {
	var limiter *rate.Limiter
	if requestsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMin)/60.0), 1)
	}
	return &executor{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		interDelay: interDelay,
		limiter:    limiter,
	}
}

// call runs fn with exponential backoff. It returns the number of retries
// performed (zero when the first attempt succeeds) and the final error, nil
// on success. Context cancellation stops retrying immediately.
func (e *executor) call(ctx context.Context, window int, fn func(context.Context) error) (int, error) {
	attempt := 0
	operation := func() (struct{}, error) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return struct{}{}, backoff.Permanent(err)
		}
		attempt++
		if e.onRetry != nil {
			e.onRetry(window, attempt, err)
		}
		return struct{}{}, err
	}

	expo := backoff.NewExponentialBackOff()
	if e.baseDelay > 0 {
		expo.InitialInterval = e.baseDelay
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(e.maxRetries+1)),
	)

	if err == nil {
		e.pause(ctx)
	}
	return countRetries(attempt, err), err
}

// countRetries converts attempt bookkeeping into the number of failed
// attempts that were retried.
func countRetries(failedAttempts int, finalErr error) int {
	if finalErr == nil {
		return failedAttempts
	}
	if failedAttempts > 0 {
		return failedAttempts - 1
	}
	return 0
}

// pause applies the configured inter-call delay, respecting cancellation.
func (e *executor) pause(ctx context.Context) {
	if e.interDelay <= 0 {
		return
	}
	t := time.NewTimer(e.interDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
