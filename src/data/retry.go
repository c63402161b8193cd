package data

import (
	"context"
	"time"
)

// RetryPolicy bounds retries of store operations: a fixed attempt count
// with a doubling delay, capped at 30s.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
}

// DefaultRetry is the policy used for counter flushes.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialDelay: 500 * time.Millisecond}
}

// Do runs fn until it succeeds, attempts run out, or ctx is done. The last
// error is returned; callers drop the item and log rather than block on it.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.InitialDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	return err
}
