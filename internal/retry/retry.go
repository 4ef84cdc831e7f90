// Package retry factors the transient-retry discipline shared by the remote
// host fetch path and the generation call path.
package retry

import (
	"context"
	"time"
)

// Retrier runs an operation up to a fixed number of attempts, sleeping
// between failures according to a backoff schedule.
type Retrier struct {
	attempts int
	backoff  func(attempt int) time.Duration
}

func New(attempts int) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrier{attempts: attempts, backoff: backoffDuration}
}

// WithBackoff replaces the backoff schedule. Tests use a zero schedule.
func (r *Retrier) WithBackoff(f func(attempt int) time.Duration) *Retrier {
	r.backoff = f
	return r
}

// Do invokes op until it succeeds, a non-transient error occurs, the attempt
// budget is spent, or the context is canceled. The last error is returned.
func (r *Retrier) Do(ctx context.Context, isTransient func(error) bool, op func() error) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if isTransient != nil && !isTransient(err) {
			return err
		}
		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff(attempt)):
		}
	}
	return err
}

func backoffDuration(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 2 * time.Second
	case 2:
		return 4 * time.Second
	default:
		return 8 * time.Second
	}
}
