// Package ratelimit provides a process-wide rolling-window admission gate
// bounding the number of outgoing calls per time window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter admits at most MaxCalls calls within any rolling window. It is
// constructed once per process and shared by reference across every client,
// so the backend quota holds regardless of how many clients exist.
//
// Admission control only: blocked callers are not served in FIFO order, the
// limiter only guarantees that no more than MaxCalls are admitted to the
// network per window.
type Limiter struct {
	mu          sync.Mutex
	windowStart time.Time
	calls       int

	maxCalls int
	window   time.Duration
	maxWait  time.Duration

	now   func() time.Time // injectable clock for tests
	sleep func(context.Context, time.Duration) error
}

const (
	// DefaultMaxCalls is the default per-window call quota.
	DefaultMaxCalls = 500
	// DefaultWindow is the default rolling window length.
	DefaultWindow = 60 * time.Second
	// DefaultMaxWait bounds the total time a single Acquire may spend blocked.
	DefaultMaxWait = 15 * time.Minute
)

// New creates a Limiter admitting maxCalls per window, blocking callers for
// at most maxWait in total before giving up.
func New(maxCalls int, window, maxWait time.Duration) *Limiter {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Limiter{
		maxCalls: maxCalls,
		window:   window,
		maxWait:  maxWait,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// NewDefault creates a Limiter with the default quota.
func NewDefault() *Limiter {
	return New(DefaultMaxCalls, DefaultWindow, DefaultMaxWait)
}

// Acquire blocks until a call slot is available inside the current window,
// then consumes it. It returns an error if the context is cancelled or the
// total wait exceeds the limiter's bound.
func (l *Limiter) Acquire(ctx context.Context) error {
	var waited time.Duration

	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}

		if waited+wait > l.maxWait {
			return fmt.Errorf("rate limiter: gave up after waiting %v (max %v)", waited, l.maxWait)
		}

		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		waited += wait
	}
}

// tryAcquire consumes a slot if one is free. Otherwise it returns how long
// to wait for the window to roll forward.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.calls = 0
	}

	if l.calls < l.maxCalls {
		l.calls++
		return 0, true
	}

	remaining := l.window - now.Sub(l.windowStart)
	if remaining <= 0 {
		// Window rolled over between the check above and here; retry at once.
		remaining = time.Millisecond
	}
	return remaining, false
}

// Stats reports the current window state, primarily for observability.
func (l *Limiter) Stats() (callsInWindow int, windowRemaining time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windowStart.IsZero() {
		return 0, 0
	}
	remaining := l.window - l.now().Sub(l.windowStart)
	if remaining < 0 {
		remaining = 0
	}
	return l.calls, remaining
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
