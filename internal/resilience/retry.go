// Package resilience provides the retry and circuit breaker primitives that
// wrap every provider call in the dialog pipeline.
//
// [Do] retries transient failures with exponential backoff. [CircuitBreaker]
// is a classic three-state breaker (closed → open → half-open) that lets a
// flapping provider fail fast instead of burning a turn's deadline budget on
// every call.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy controls [Do].
type RetryPolicy struct {
	// Retries is the number of attempts after the first. Zero disables
	// retrying.
	Retries int

	// BaseDelay is the backoff before the first retry; each subsequent retry
	// doubles it. Default: 200ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 2s.
	MaxDelay time.Duration

	// Retryable classifies errors. When nil every error is retried.
	Retryable func(error) bool
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	return p
}

// Do runs fn, retrying per policy on retryable errors. The final error is the
// last attempt's error; callers escalate it after retries are exhausted.
// Context cancellation stops retrying immediately and is never retried
// itself.
func Do(ctx context.Context, name string, policy RetryPolicy, fn func(context.Context) error) error {
	policy = policy.withDefaults()

	var err error
	delay := policy.BaseDelay
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return err
		}
		if attempt >= policy.Retries {
			return err
		}

		slog.Warn("retrying after transient failure",
			"op", name,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}
