package live

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	defaultRetryMaxRetries = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxDelay   = 10 * time.Second
)

// RetryPolicy configures opt-in reconnects after transport failures.
// A negative MaxRetries disables retries; zero values take defaults.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Normalized returns the policy with defaults filled in.
func (p RetryPolicy) Normalized() RetryPolicy {
	switch {
	case p.MaxRetries < 0:
		p.MaxRetries = 0
	case p.MaxRetries == 0:
		p.MaxRetries = defaultRetryMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultRetryBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultRetryMaxDelay
	}
	p.MaxDelay = max(p.MaxDelay, p.BaseDelay)
	return p
}

// Wait returns the pause before retry n (n >= 1): BaseDelay doubled for each
// earlier retry, capped at MaxDelay, with 20% jitter either way.
func (p RetryPolicy) Wait(n int) time.Duration {
	wait := p.BaseDelay
	for i := 1; i < n && wait < p.MaxDelay; i++ {
		wait *= 2
	}
	wait = min(wait, p.MaxDelay)
	return time.Duration(float64(wait) * (0.8 + 0.4*rand.Float64()))
}

// ConnectWithRetry calls connect until it succeeds or the policy is spent.
// Missing credentials and explicit closes end the loop at once.
func ConnectWithRetry[C any](ctx context.Context, connect func(context.Context) (C, error), policy RetryPolicy) (C, error) {
	policy = policy.Normalized()

	var zero C
	conn, err := connect(ctx)
	for retry := 1; err != nil; retry++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if errors.Is(err, ErrNoCredential) || errors.Is(err, ErrClosed) {
			return zero, err
		}
		if retry > policy.MaxRetries {
			return zero, fmt.Errorf("connect failed after %d retries: %w", policy.MaxRetries, err)
		}

		timer := time.NewTimer(policy.Wait(retry))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		conn, err = connect(ctx)
	}
	return conn, nil
}
