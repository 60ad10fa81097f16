package repo

import (
	"context"
	"time"

	"bulletin/internal/metrics"
	"bulletin/internal/store"
)

// RetryPolicy bounds how often transient failures and idempotent conflicts
// are retried.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Backoff returns the delay before retry n (1-based): base * 2^(n-1), capped.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if p.BaseDelay <= 0 || n < 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry runs fn until it succeeds, fails with a non-transient error, or
// the attempt budget runs out. Only ErrUnavailable is retried here.
func (r Repo) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !store.IsRetryable(err) || attempt >= r.Retry.attempts() {
			return err
		}
		delay := r.Retry.Backoff(attempt)
		metrics.ObserveRetry("unavailable")
		r.Log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", delay).Msg("backend unavailable, retrying")
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

func (r Repo) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}
