package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
	"github.com/iliyamo/resident-gate/internal/queue"
	"github.com/iliyamo/resident-gate/internal/repository"
	"github.com/iliyamo/resident-gate/internal/service"
)

type stubScanner struct {
	macs []string
	err  error
}

func (s stubScanner) ListConnectedIdentifiers(ctx context.Context) ([]string, error) {
	return s.macs, s.err
}

type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordingRunner) Run(ctx context.Context, scan service.ScanFunc) ([]model.PresenceEvent, error) {
	observed, _, err := scan(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, observed)
	return nil, r.err
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestScanOnceFeedsTracker(t *testing.T) {
	tr := &recordingRunner{}
	scanOnce(context.Background(), stubScanner{macs: []string{"aa:bb:cc:dd:ee:ff"}}, tr, time.Second, zap.NewNop())
	require.Equal(t, 1, tr.count())
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:ff"}, tr.calls[0])
}

func TestScanFailureSkipsTick(t *testing.T) {
	tr := &recordingRunner{}
	scanOnce(context.Background(), stubScanner{err: errors.New("router down")}, tr, time.Second, zap.NewNop())
	assert.Zero(t, tr.count())
}

func TestSkippedTickIsNotAnError(t *testing.T) {
	tr := &recordingRunner{err: service.ErrTickSkipped}
	scanOnce(context.Background(), stubScanner{}, tr, time.Second, zap.NewNop())
	assert.Equal(t, 1, tr.count())
}

func TestStartPresenceScanStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &recordingRunner{}
	done := StartPresenceScan(ctx, PresenceScanConfig{Interval: 10 * time.Millisecond, Timeout: time.Second}, stubScanner{}, tr, zap.NewNop())

	require.Eventually(t, func() bool { return tr.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scan loop did not stop")
	}
}

// slowScanner takes longer than the scan interval and records how many
// scans overlap.
type slowScanner struct {
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	scans    atomic.Int32
}

func (s *slowScanner) ListConnectedIdentifiers(ctx context.Context) ([]string, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	s.scans.Add(1)
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	return nil, nil
}

type noOwners struct{}

func (noOwners) OwnerIndex(context.Context) (map[string]uint64, error) {
	return map[string]uint64{}, nil
}

func TestSlowScanCountsOverruns(t *testing.T) {
	tracker := service.NewTracker(noOwners{}, repository.NewMemoryPresenceRepo(), queue.Nop{},
		service.PresenceConfig{HitThreshold: 2, MissThreshold: 3}, zap.NewNop())
	scanner := &slowScanner{delay: 100 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := StartPresenceScan(ctx, PresenceScanConfig{Interval: 10 * time.Millisecond, Timeout: time.Second}, scanner, tracker, zap.NewNop())

	require.Eventually(t, func() bool { return tracker.Overruns() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scan loop did not stop")
	}

	assert.GreaterOrEqual(t, scanner.scans.Load(), int32(1))
	assert.Equal(t, int32(1), scanner.maxSeen.Load(), "scans must never overlap")
}

type countingCleaner struct{ runs atomic.Int32 }

func (c *countingCleaner) CleanupExpired(context.Context) (int64, error) {
	c.runs.Add(1)
	return 0, nil
}

func TestStartTokenCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &countingCleaner{}
	done := StartTokenCleanup(ctx, 10*time.Millisecond, c, zap.NewNop())

	require.Eventually(t, func() bool { return c.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
