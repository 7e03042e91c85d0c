package connection

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	baseDelay = 2 * time.Second
	maxDelay  = 30 * time.Second
)

// BackoffDelay returns min(2^attempt * 2s, 30s).
func BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		return maxDelay
	}
	return min(baseDelay<<attempt, maxDelay)
}

type RetryHandler struct {
	errors ErrorHandler
	skip   atomic.Bool
	wait   func(ctx context.Context, d time.Duration) error
}

func NewRetryHandler(errors ErrorHandler) *RetryHandler {
	return &RetryHandler{
		errors: errors,
		wait:   sleep,
	}
}

// ShouldRetry reports whether a failed attempt is worth another one. There is
// no attempt limit.
func (h *RetryHandler) ShouldRetry(err error) bool {
	return h.errors.IsRetriable(err)
}

// ApplyRetryDelay waits out the backoff for attempt. When the skip flag is
// armed it is consumed and the call returns at once.
func (h *RetryHandler) ApplyRetryDelay(ctx context.Context, attempt int) error {
	if h.skip.CompareAndSwap(true, false) {
		return ctx.Err()
	}
	return h.wait(ctx, BackoffDelay(attempt))
}

// ResetDelay arms the skip flag so the next retry happens without delay.
func (h *RetryHandler) ResetDelay() {
	h.skip.Store(true)
}

// SkipArmed reports whether the next retry will skip its delay.
func (h *RetryHandler) SkipArmed() bool {
	return h.skip.Load()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
