package chatwoot

import (
	"context"
	"time"
)

// RetryPolicy bounds the wait-then-search recovery used when a create
// collides with a concurrent creator or a stale search index.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a policy. Non-positive values fall back to one
// retry with a two second backoff.
func NewRetryPolicy(maxAttempts int, backoff time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: backoff, sleep: sleepContext}
}

// WithSleep returns a copy of the policy using the given sleep function.
// Tests use this to run without real delays.
func (p RetryPolicy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetryPolicy {
	p.sleep = sleep
	return p
}

// Wait blocks for the backoff interval or until the context is done.
func (p RetryPolicy) Wait(ctx context.Context) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return sleep(ctx, p.Backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
