package github

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum wall-clock gap between consecutive outbound
// requests. Concurrent callers serialize through the mutex, so the spacing
// holds globally across all walk and fetch goroutines, not per caller.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
	sleep    func(time.Duration)
}

func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// WithClock replaces the time source and sleeper. Tests pair a fake clock
// with a sleep that advances it.
func (l *Limiter) WithClock(now func() time.Time, sleep func(time.Duration)) *Limiter {
	l.now = now
	l.sleep = sleep
	return l
}

// Wait blocks until the caller may issue the next request and reserves its
// slot. Returns early only when ctx is already canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if l.interval > 0 && !l.last.IsZero() {
		if wait := l.interval - l.now().Sub(l.last); wait > 0 {
			l.sleep(wait)
		}
	}
	l.last = l.now()
	return nil
}
