package ratings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Clark-Hu/fanrank/internal/domain"
)

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when Options leaves the policy empty.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 10,
	BaseDelay:   2 * time.Millisecond,
	MaxDelay:    100 * time.Millisecond,
}

// retryJitter spreads each delay over ±25% of the current interval.
const retryJitter = 0.25

// newBackOff returns a fresh delay sequence: BaseDelay doubling up to
// MaxDelay. ExponentialBackOff is stateful, so every call site needs its own.
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = 2
	b.RandomizationFactor = retryJitter
	b.Reset()
	return b
}

// inTx runs fn through the store and re-runs the whole transaction while
// it fails with domain.ErrConflict. fn must only touch state through tx.
// It returns the number of attempts made.
func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx domain.Tx) error) (int, error) {
	policy := s.retry
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := s.store.InTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		s.metrics.Conflict(op)
		return struct{}{}, err
	},
		backoff.WithBackOff(policy.newBackOff()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Debug("transaction conflict, retrying", "op", op, "attempt", attempts, "delay", next)
		}),
	)
	switch {
	case err == nil:
		return attempts, nil
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return attempts, &domain.Error{Code: domain.CodeCanceled, Err: err}
	case errors.Is(err, domain.ErrConflict):
		s.metrics.Exhausted(op)
		return attempts, &domain.Error{
			Code: domain.CodeRetryable,
			Err:  fmt.Errorf("gave up after %d attempts: %w", attempts, err),
		}
	}
	return attempts, err
}
