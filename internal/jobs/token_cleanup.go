package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cleaner removes expired guest tokens. service.AccessService implements it.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// StartTokenCleanup deletes expired tokens every interval until ctx is done.
func StartTokenCleanup(ctx context.Context, interval time.Duration, cleaner Cleaner, log *zap.Logger) <-chan struct{} {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	log = log.Named("token-cleanup")

	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				if _, err := cleaner.CleanupExpired(runCtx); err != nil && ctx.Err() == nil {
					log.Error("token cleanup failed", zap.Error(err))
				}
				cancel()
			}
		}
	}()
	return done
}
