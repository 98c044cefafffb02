package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/resident-gate/internal/model"
)

// MemoryPresenceRepo is an append-only in-memory presence log.
type MemoryPresenceRepo struct {
	mu     sync.RWMutex
	seq    uint64
	events []model.PresenceEvent
}

func NewMemoryPresenceRepo() *MemoryPresenceRepo { return &MemoryPresenceRepo{} }

func (r *MemoryPresenceRepo) Append(_ context.Context, events []model.PresenceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range events {
		r.seq++
		events[i].Seq = r.seq
		events[i].At = events[i].At.UTC()
		r.events = append(r.events, events[i])
	}
	return nil
}

func (r *MemoryPresenceRepo) Range(_ context.Context, residentID uint64, from, to time.Time) ([]model.PresenceEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.PresenceEvent
	for _, ev := range r.events {
		if ev.ResidentID == residentID && !ev.At.Before(from) && ev.At.Before(to) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (r *MemoryPresenceRepo) Latest(_ context.Context) ([]model.PresenceEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	last := map[uint64]model.PresenceEvent{}
	for _, ev := range r.events {
		if cur, ok := last[ev.ResidentID]; !ok || ev.Seq > cur.Seq {
			last[ev.ResidentID] = ev
		}
	}
	out := make([]model.PresenceEvent, 0, len(last))
	for _, ev := range last {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResidentID < out[j].ResidentID })
	return out, nil
}
