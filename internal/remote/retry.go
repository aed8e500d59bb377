package remote

import (
	"context"
	"errors"
	"time"
)

// Policy describes how a remote call is retried: how many attempts, how long
// to wait between them, and which errors are worth retrying at all.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// DefaultPolicy retries transient service errors three times with doubling
// waits (1s, 2s, 4s). Conflicts and malformed content are never retryable;
// auth expiry is handled separately by the accessor's refresh path.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
		Retryable: func(err error) bool {
			return errors.Is(err, ErrServiceUnavailable)
		},
	}
}

// Do runs fn under the policy. The last error is returned when attempts are
// exhausted or the error is not retryable. Context cancellation aborts the
// wait between attempts.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		wait := time.Second
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return err
}
