package scheduler

import (
	"context"
	"time"

	"sharewear/internal/pkg/errors"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy governs in-claim retries of a stage. Transient failures are
// retried with exponential backoff while the worker holds the claim;
// permanent failures stop immediately.
type RetryPolicy struct {
	// MaxAttempts counts the first try plus retries. Default 3.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 3
	}
	return p.MaxAttempts
}

// Run invokes op until it succeeds, fails permanently, or attempts are
// exhausted. Returns the number of attempts made and the final error.
func (p RetryPolicy) Run(ctx context.Context, op func() error) (int, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempts := 0
	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if !errors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(p.maxAttempts()-1)), ctx))
	return attempts, err
}
