package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
	"github.com/iliyamo/resident-gate/internal/observability/metrics"
	"github.com/iliyamo/resident-gate/internal/queue"
)

// ErrTickSkipped is returned by Run and Tick when the previous tick is still
// running. The skipped tick is dropped, not queued.
var ErrTickSkipped = errors.New("presence tick skipped: previous tick still running")

// OwnerIndexer provides the address -> resident snapshot a tick works on.
// Registry implements it.
type OwnerIndexer interface {
	OwnerIndex(ctx context.Context) (map[string]uint64, error)
}

// PresenceConfig holds the debounce thresholds. Values below 1 are raised
// to 1.
type PresenceConfig struct {
	HitThreshold  int
	MissThreshold int
}

// presenceBook is the tracker's owned state. Only the running tick writes
// it; readers take the read lock.
type presenceBook struct {
	mu     sync.RWMutex
	states map[uint64]model.PresenceState
	ready  bool
}

func newPresenceBook() *presenceBook {
	return &presenceBook{states: map[uint64]model.PresenceState{}}
}

func (b *presenceBook) snapshot() map[uint64]model.PresenceState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[uint64]model.PresenceState, len(b.states))
	for id, st := range b.states {
		out[id] = st
	}
	return out
}

// Tracker maintains debounced online/offline presence per resident from
// periodic scan snapshots.
type Tracker struct {
	owners OwnerIndexer
	store  PresenceStore
	pub    Publisher
	log    *zap.Logger

	hitThreshold  int
	missThreshold int

	book     *presenceBook
	running  atomic.Bool
	overruns atomic.Uint64
}

func NewTracker(owners OwnerIndexer, store PresenceStore, pub Publisher, cfg PresenceConfig, log *zap.Logger) *Tracker {
	return &Tracker{
		owners:        owners,
		store:         store,
		pub:           pub,
		log:           log.Named("presence"),
		hitThreshold:  max(cfg.HitThreshold, 1),
		missThreshold: max(cfg.MissThreshold, 1),
		book:          newPresenceBook(),
	}
}

// ScanFunc produces one scan snapshot and the time it was taken.
type ScanFunc func(ctx context.Context) (observed []string, at time.Time, err error)

// TryBegin claims the single tick slot. When a tick is already in flight it
// records an overrun and returns false; the caller must drop its tick.
func (t *Tracker) TryBegin() bool {
	if t.running.CompareAndSwap(false, true) {
		return true
	}
	t.overruns.Add(1)
	metrics.PresenceTickOverrunsTotal.Inc()
	t.log.Warn("presence tick overrun, skipping")
	return false
}

// End releases the slot claimed by TryBegin.
func (t *Tracker) End() { t.running.Store(false) }

// Overruns reports how many ticks were dropped because one was in flight.
func (t *Tracker) Overruns() uint64 { return t.overruns.Load() }

// Run performs one single-flight tick: scan, then apply. The slot is held
// across the scan so a slow scanner makes the next due tick an overrun
// instead of queueing it. A failed scan changes nothing.
func (t *Tracker) Run(ctx context.Context, scan ScanFunc) ([]model.PresenceEvent, error) {
	if !t.TryBegin() {
		return nil, ErrTickSkipped
	}
	defer t.End()

	observed, at, err := scan(ctx)
	if err != nil {
		metrics.PresenceTicksTotal.WithLabelValues("scan_error").Inc()
		return nil, fmt.Errorf("scan network: %w", err)
	}
	return t.apply(ctx, observed, at)
}

// Tick applies one scan snapshot taken at `at` and returns the transitions
// it produced. It shares the single tick slot with Run.
func (t *Tracker) Tick(ctx context.Context, observed []string, at time.Time) ([]model.PresenceEvent, error) {
	return t.Run(ctx, func(context.Context) ([]string, time.Time, error) { return observed, at, nil })
}

// apply computes the next state on a snapshot. Events are persisted in a
// single batch before the in-memory state is committed, so a storage
// failure leaves the tracker where it was. Caller holds the tick slot.
func (t *Tracker) apply(ctx context.Context, observed []string, at time.Time) ([]model.PresenceEvent, error) {
	next := t.book.snapshot()
	before := make(map[uint64]struct{}, len(next))
	for id := range next {
		before[id] = struct{}{}
	}

	owners, err := t.owners.OwnerIndex(ctx)
	if err != nil {
		metrics.PresenceTicksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load identifier owners: %w", err)
	}

	seen := make(map[string]struct{}, len(observed))
	for _, raw := range observed {
		addr, err := model.ParseMAC(raw)
		if err != nil {
			continue
		}
		seen[addr] = struct{}{}
	}

	// resident -> any owned identifier observed this tick
	hits := make(map[uint64]bool)
	for addr, rid := range owners {
		_, ok := seen[addr]
		hits[rid] = hits[rid] || ok
	}

	at = at.UTC()
	var events []model.PresenceEvent
	for rid, hit := range hits {
		st, ok := next[rid]
		if !ok || st.Status == model.PresenceUnknown {
			st = model.PresenceState{Status: model.PresenceOffline}
		}
		st, changed := t.step(st, hit)
		if changed {
			ts := at
			if ts.Before(st.LastTransitionAt) {
				ts = st.LastTransitionAt
			}
			st.LastTransitionAt = ts
			events = append(events, model.PresenceEvent{ResidentID: rid, Status: st.Status, At: ts})
		}
		next[rid] = st
	}
	// residents without identifiers fall back to Unknown without an event
	for rid := range next {
		if _, ok := hits[rid]; !ok {
			delete(next, rid)
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].ResidentID < events[j].ResidentID })
	if len(events) > 0 {
		if err := t.store.Append(ctx, events); err != nil {
			metrics.PresenceTicksTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("persist presence events: %w", err)
		}
	}

	online := 0
	for _, st := range next {
		if st.Status == model.PresenceOnline {
			online++
		}
	}
	t.book.mu.Lock()
	// residents seeded by IdentifierAdded while this tick ran
	for id, st := range t.book.states {
		if _, ok := before[id]; ok {
			continue
		}
		if _, ok := next[id]; !ok {
			next[id] = st
		}
	}
	t.book.states = next
	t.book.ready = true
	t.book.mu.Unlock()

	metrics.PresenceTicksTotal.WithLabelValues("ok").Inc()
	metrics.PresenceOnline.Set(float64(online))
	t.log.Debug("presence tick",
		zap.Int("observed", len(seen)),
		zap.Int("tracked", len(next)),
		zap.Int("transitions", len(events)),
	)
	for _, ev := range events {
		metrics.PresenceTransitionsTotal.WithLabelValues(ev.Status.String()).Inc()
		t.log.Info("presence transition", zap.Uint64("resident_id", ev.ResidentID), zap.String("status", ev.Status.String()))
		payload := queue.PresenceTransitionEvent{
			Seq:        ev.Seq,
			ResidentID: ev.ResidentID,
			Status:     ev.Status.String(),
			At:         ev.At.Format(time.RFC3339),
		}
		if err := t.pub.Publish(ctx, queue.RoutingPresenceTransitions, payload); err != nil {
			t.log.Warn("publish presence transition failed", zap.Error(err))
		}
	}
	return events, nil
}

// step advances the debounce counters. A hit resets the miss counter and
// vice versa; changed reports a status transition.
func (t *Tracker) step(st model.PresenceState, hit bool) (model.PresenceState, bool) {
	if hit {
		st.ConsecutiveHits++
		st.ConsecutiveMisses = 0
		if st.Status != model.PresenceOnline && st.ConsecutiveHits >= t.hitThreshold {
			st.Status = model.PresenceOnline
			return st, true
		}
		return st, false
	}
	st.ConsecutiveMisses++
	st.ConsecutiveHits = 0
	if st.Status == model.PresenceOnline && st.ConsecutiveMisses >= t.missThreshold {
		st.Status = model.PresenceOffline
		return st, true
	}
	return st, false
}

// IdentifierAdded starts tracking a resident that just gained an
// identifier. Its status becomes Offline until ticks say otherwise.
func (t *Tracker) IdentifierAdded(residentID uint64) {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()
	if st, ok := t.book.states[residentID]; ok && st.Status != model.PresenceUnknown {
		return
	}
	t.book.states[residentID] = model.PresenceState{Status: model.PresenceOffline}
}

// IdentifiersCleared stops tracking a resident that owns no identifiers
// anymore; its status becomes Unknown without an event.
func (t *Tracker) IdentifiersCleared(residentID uint64) {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()
	delete(t.book.states, residentID)
}

// Status returns the current status of a resident: Unknown when the
// resident owns no identifiers.
func (t *Tracker) Status(residentID uint64) model.PresenceStatus {
	t.book.mu.RLock()
	defer t.book.mu.RUnlock()
	return t.book.states[residentID].Status
}

// State returns the full debounce state of a resident.
func (t *Tracker) State(residentID uint64) (model.PresenceState, bool) {
	t.book.mu.RLock()
	defer t.book.mu.RUnlock()
	st, ok := t.book.states[residentID]
	return st, ok
}

// Online lists the ids of residents currently online, ascending.
func (t *Tracker) Online() []uint64 {
	t.book.mu.RLock()
	defer t.book.mu.RUnlock()
	var ids []uint64
	for id, st := range t.book.states {
		if st.Status == model.PresenceOnline {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Ready reports whether at least one tick has completed.
func (t *Tracker) Ready() bool {
	t.book.mu.RLock()
	defer t.book.mu.RUnlock()
	return t.book.ready
}

// Timeline returns the resident's transitions in [from, to), ordered by
// time then insertion order.
func (t *Tracker) Timeline(ctx context.Context, residentID uint64, from, to time.Time) ([]model.PresenceEvent, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: timeline range end must be after its start", ErrValidation)
	}
	return t.store.Range(ctx, residentID, from.UTC(), to.UTC())
}

// Restore seeds the book from the latest persisted transition per resident.
// Counters start at zero; the next tick drops residents that no longer own
// identifiers.
func (t *Tracker) Restore(ctx context.Context) error {
	latest, err := t.store.Latest(ctx)
	if err != nil {
		return fmt.Errorf("load latest presence: %w", err)
	}
	t.book.mu.Lock()
	defer t.book.mu.Unlock()
	for _, ev := range latest {
		t.book.states[ev.ResidentID] = model.PresenceState{Status: ev.Status, LastTransitionAt: ev.At}
	}
	t.log.Info("presence state restored", zap.Int("residents", len(latest)))
	return nil
}
