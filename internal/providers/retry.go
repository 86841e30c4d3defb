package providers

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig controls the exponential backoff applied to outbound calls
// against an LLM provider's HTTP API. Transient failures (rate limits,
// connection resets, 5xx) are retried; the caller's ctx still bounds the
// overall attempt.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig matches the backoff the teacher's HTTP clients used
// before provider-specific tuning: three retries, starting at half a
// second, capped at ten.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// RetryDo runs fn under exponential backoff, retrying any error it returns
// up to cfg.MaxRetries additional times.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(cfg.BaseDelay),
		backoff.WithMaxInterval(cfg.MaxDelay),
	)

	return backoff.Retry(ctx, func() (T, error) {
		return fn()
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(cfg.MaxRetries+1)))
}
