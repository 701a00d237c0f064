package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxRetryAttempts is the total number of attempts (one initial try plus
// four retries), matching spec.md §4.4 "up to 5 attempts".
const maxRetryAttempts = 5

// Retry wraps a job-mutating call site in spec.md §4.4's "HTTP retry
// policy": up to 5 attempts, starting delay 1 s, doubling after each
// attempt, retried only on a TransportTimeoutError. This is the engine's
// explicit retry helper replacing the source's retry-via-decorator (§9).
// onRetry, if non-nil, is invoked once per retried attempt (not the first
// try) so callers can instrument retry counts; it may be nil.
func Retry(ctx context.Context, onRetry func(), fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	bounded := backoff.WithMaxRetries(policy, maxRetryAttempts-1)
	withCtx := backoff.WithContext(bounded, ctx)

	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var timeoutErr *TransportTimeoutError
		if errors.As(err, &timeoutErr) {
			return err
		}
		return backoff.Permanent(err)
	}

	if onRetry == nil {
		return backoff.Retry(op, withCtx)
	}
	return backoff.RetryNotify(op, withCtx, func(error, time.Duration) { onRetry() })
}
