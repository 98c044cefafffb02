package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/resident-gate/internal/model"
)

// MemoryTokenRepo keeps tokens in process memory. The map is guarded by mu;
// each record carries its own mutex so redemptions of different tokens do
// not contend while redemptions of the same token serialize.
type MemoryTokenRepo struct {
	mu     sync.RWMutex
	tokens map[string]*tokenRecord
}

type tokenRecord struct {
	mu sync.Mutex
	t  model.AccessToken
}

func NewMemoryTokenRepo() *MemoryTokenRepo {
	return &MemoryTokenRepo{tokens: map[string]*tokenRecord{}}
}

func (r *MemoryTokenRepo) record(hash string) (*tokenRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tokens[hash]
	return rec, ok
}

func (r *MemoryTokenRepo) Create(_ context.Context, t model.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[t.Hash]; ok {
		return ErrConflict
	}
	t.ID = ""
	r.tokens[t.Hash] = &tokenRecord{t: t}
	return nil
}

func (r *MemoryTokenRepo) GetByHash(_ context.Context, hash string) (model.AccessToken, error) {
	rec, ok := r.record(hash)
	if !ok {
		return model.AccessToken{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.t, nil
}

// Redeem performs the check-and-decrement under the record lock.
func (r *MemoryTokenRepo) Redeem(_ context.Context, hash string, now time.Time) (model.AccessToken, error) {
	rec, ok := r.record(hash)
	if !ok {
		return model.AccessToken{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := usable(rec.t, now); err != nil {
		return model.AccessToken{}, err
	}
	rec.t.UsesRemaining--
	return rec.t, nil
}

func (r *MemoryTokenRepo) Refund(_ context.Context, hash string) error {
	rec, ok := r.record(hash)
	if !ok {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.t.UsesRemaining < rec.t.MaxUses {
		rec.t.UsesRemaining++
	}
	return nil
}

func (r *MemoryTokenRepo) Revoke(_ context.Context, hash string) error {
	rec, ok := r.record(hash)
	if !ok {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.t.Revoked = true
	return nil
}

func (r *MemoryTokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for hash, rec := range r.tokens {
		rec.mu.Lock()
		expired := rec.t.ExpiresAt.Before(before)
		rec.mu.Unlock()
		if expired {
			delete(r.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (r *MemoryTokenRepo) ListActiveByIssuer(_ context.Context, issuerID uint64, now time.Time) ([]model.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.AccessToken
	for _, rec := range r.tokens {
		rec.mu.Lock()
		t := rec.t
		rec.mu.Unlock()
		if t.IssuerID == issuerID && usable(t, now) == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
