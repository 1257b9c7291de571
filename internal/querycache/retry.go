package querycache

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"conduit-client/internal/apierr"
	"conduit-client/internal/domain"
)

// RetryPolicy decides how a failing loader is retried before its error is
// surfaced.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first failure.
	MaxRetries int
	// ShouldRetry classifies a failure; nil retries everything.
	ShouldRetry     func(error) bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries twice with exponential backoff, except for
// failures no retry can fix.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      2,
		ShouldRetry:     Retryable,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// NoRetry surfaces the first failure.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// Retryable is false for authentication failures, invalid queries and
// cancellation; a 401 cannot succeed without new credentials.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, apierr.ErrAuthenticationRequired),
		errors.Is(err, domain.ErrInvalidQuery),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (p RetryPolicy) retryable(err error) bool {
	if p.MaxRetries <= 0 {
		return false
	}
	if p.ShouldRetry == nil {
		return true
	}
	return p.ShouldRetry(err)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	retries := max(p.MaxRetries, 0)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}
