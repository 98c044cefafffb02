// Package jobs runs the periodic background work of the server.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
	"github.com/iliyamo/resident-gate/internal/service"
)

// Scanner lists the hardware addresses currently on the network.
type Scanner interface {
	ListConnectedIdentifiers(ctx context.Context) ([]string, error)
}

// Runner performs one single-flight tick around a scan. service.Tracker
// implements it.
type Runner interface {
	Run(ctx context.Context, scan service.ScanFunc) ([]model.PresenceEvent, error)
}

// PresenceScanConfig controls the scan loop.
type PresenceScanConfig struct {
	Interval time.Duration
	// Timeout bounds the scanner call of a single tick.
	Timeout time.Duration
}

// StartPresenceScan scans once right away and then every interval until ctx
// is done. Each tick runs on its own goroutine so the loop keeps receiving
// ticker fires while a slow scan is in flight; the tracker skips and counts
// those. The returned channel is closed once the loop and every tick it
// started have exited.
func StartPresenceScan(ctx context.Context, cfg PresenceScanConfig, scanner Scanner, tracker Runner, log *zap.Logger) <-chan struct{} {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log = log.Named("presence-scan")

	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		var wg sync.WaitGroup
		defer close(done)
		defer wg.Wait()
		defer ticker.Stop()

		fire := func() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				scanOnce(ctx, scanner, tracker, timeout, log)
			}()
		}
		fire()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fire()
			}
		}
	}()
	return done
}

// scanOnce runs one tick through the tracker. A failed scan leaves presence
// untouched; an overrun is already counted and logged by the tracker.
func scanOnce(ctx context.Context, scanner Scanner, tracker Runner, timeout time.Duration, log *zap.Logger) {
	scan := func(ctx context.Context) ([]string, time.Time, error) {
		scanCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		observed, err := scanner.ListConnectedIdentifiers(scanCtx)
		if err != nil {
			return nil, time.Time{}, err
		}
		return observed, time.Now(), nil
	}
	_, err := tracker.Run(ctx, scan)
	switch {
	case err == nil, errors.Is(err, service.ErrTickSkipped):
	case ctx.Err() != nil:
	default:
		log.Error("presence tick failed", zap.Error(err))
	}
}

var _ Runner = (*service.Tracker)(nil)
