package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/resident-gate/internal/model"
)

// MemoryIdentityRepo is an in-process IdentityRepo for tests and for runs
// without a database. A single mutex serializes every write, which is a
// coarser form of the per-record locking MySQL provides.
type MemoryIdentityRepo struct {
	mu sync.RWMutex

	nextID      uint64
	residents   map[uint64]model.Resident
	byTelegram  map[int64]uint64
	identifiers map[string]model.NetworkIdentifier // address -> owner record
	keys        map[uint64][]model.SSHKey
}

func NewMemoryIdentityRepo() *MemoryIdentityRepo {
	return &MemoryIdentityRepo{
		residents:   map[uint64]model.Resident{},
		byTelegram:  map[int64]uint64{},
		identifiers: map[string]model.NetworkIdentifier{},
		keys:        map[uint64][]model.SSHKey{},
	}
}

func (r *MemoryIdentityRepo) CreateResident(_ context.Context, res *model.Resident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTelegram[res.TelegramID]; ok {
		return ErrConflict
	}
	r.nextID++
	res.ID = r.nextID
	r.residents[res.ID] = *res
	r.byTelegram[res.TelegramID] = res.ID
	return nil
}

func (r *MemoryIdentityRepo) ResidentByID(_ context.Context, id uint64) (model.Resident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.residents[id]
	if !ok {
		return model.Resident{}, ErrNotFound
	}
	return res, nil
}

func (r *MemoryIdentityRepo) ResidentByTelegramID(_ context.Context, telegramID int64) (model.Resident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byTelegram[telegramID]
	if !ok {
		return model.Resident{}, ErrNotFound
	}
	return r.residents[id], nil
}

func (r *MemoryIdentityRepo) ListResidents(_ context.Context) ([]model.Resident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Resident, 0, len(r.residents))
	for _, res := range r.residents {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *MemoryIdentityRepo) SetRole(_ context.Context, id uint64, role model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.residents[id]
	if !ok {
		return ErrNotFound
	}
	res.Role = role
	r.residents[id] = res
	return nil
}

func (r *MemoryIdentityRepo) AddIdentifier(_ context.Context, residentID uint64, address string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.identifiers[address]; ok {
		if cur.ResidentID != residentID {
			return false, ErrConflict
		}
		return false, nil
	}
	r.identifiers[address] = model.NetworkIdentifier{Address: address, ResidentID: residentID, AddedAt: at.UTC()}
	return true, nil
}

func (r *MemoryIdentityRepo) RemoveIdentifier(_ context.Context, residentID uint64, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.identifiers[address]
	if !ok || cur.ResidentID != residentID {
		return ErrNotFound
	}
	delete(r.identifiers, address)
	return nil
}

func (r *MemoryIdentityRepo) IdentifiersByResident(_ context.Context, residentID uint64) ([]model.NetworkIdentifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.NetworkIdentifier
	for _, ni := range r.identifiers {
		if ni.ResidentID == residentID {
			out = append(out, ni)
		}
	}
	sortIdentifiers(out)
	return out, nil
}

func (r *MemoryIdentityRepo) AllIdentifiers(_ context.Context) ([]model.NetworkIdentifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.NetworkIdentifier, 0, len(r.identifiers))
	for _, ni := range r.identifiers {
		out = append(out, ni)
	}
	sortIdentifiers(out)
	return out, nil
}

func (r *MemoryIdentityRepo) AddSSHKey(_ context.Context, key model.SSHKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys[key.ResidentID] {
		if k.KeyMaterial == key.KeyMaterial {
			return false, nil
		}
	}
	key.AddedAt = key.AddedAt.UTC()
	r.keys[key.ResidentID] = append(r.keys[key.ResidentID], key)
	return true, nil
}

func (r *MemoryIdentityRepo) SSHKeysByResident(_ context.Context, residentID uint64) ([]model.SSHKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.SSHKey(nil), r.keys[residentID]...), nil
}

func sortIdentifiers(ids []model.NetworkIdentifier) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].ResidentID != ids[j].ResidentID {
			return ids[i].ResidentID < ids[j].ResidentID
		}
		return ids[i].Address < ids[j].Address
	})
}
