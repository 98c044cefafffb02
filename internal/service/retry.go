package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds a collaborator call: every attempt gets its own
// Timeout, and a failed attempt is retried at most Retries more times with
// a linearly growing Backoff between attempts.
type RetryPolicy struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// DefaultDoorPolicy is the hardware door bound: 5s per attempt, two retries.
var DefaultDoorPolicy = RetryPolicy{Timeout: 5 * time.Second, Retries: 2, Backoff: 500 * time.Millisecond}

// DefaultDirectoryPolicy bounds directory service calls.
var DefaultDirectoryPolicy = RetryPolicy{Timeout: 10 * time.Second, Retries: 2, Backoff: time.Second}

// call runs op under the policy. When every attempt fails the last error is
// wrapped in ErrTransient. Cancellation of the parent context stops the
// loop early and is reported the same way.
func (p RetryPolicy) call(ctx context.Context, log *zap.Logger, name string, op func(context.Context) error) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * p.Backoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %v", ErrTransient, name, ctx.Err())
			case <-time.After(wait):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		lastErr = op(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Warn("collaborator call failed",
			zap.String("call", name),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	log.Error("collaborator unavailable",
		zap.String("call", name),
		zap.Int("attempts", retries+1),
		zap.Error(lastErr),
	)
	return fmt.Errorf("%w: %s: %v", ErrTransient, name, lastErr)
}
