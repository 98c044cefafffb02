package service

import (
	"context"
	"time"

	"github.com/iliyamo/resident-gate/internal/model"
)

// IdentityStore is satisfied by repository.IdentityRepo and
// repository.MemoryIdentityRepo.
type IdentityStore interface {
	CreateResident(ctx context.Context, res *model.Resident) error
	ResidentByID(ctx context.Context, id uint64) (model.Resident, error)
	ResidentByTelegramID(ctx context.Context, telegramID int64) (model.Resident, error)
	ListResidents(ctx context.Context) ([]model.Resident, error)
	SetRole(ctx context.Context, id uint64, role model.Role) error

	AddIdentifier(ctx context.Context, residentID uint64, address string, at time.Time) (bool, error)
	RemoveIdentifier(ctx context.Context, residentID uint64, address string) error
	IdentifiersByResident(ctx context.Context, residentID uint64) ([]model.NetworkIdentifier, error)
	AllIdentifiers(ctx context.Context) ([]model.NetworkIdentifier, error)

	AddSSHKey(ctx context.Context, key model.SSHKey) (bool, error)
	SSHKeysByResident(ctx context.Context, residentID uint64) ([]model.SSHKey, error)
}

// PresenceStore is the append-only transition log.
type PresenceStore interface {
	Append(ctx context.Context, events []model.PresenceEvent) error
	Range(ctx context.Context, residentID uint64, from, to time.Time) ([]model.PresenceEvent, error)
	Latest(ctx context.Context) ([]model.PresenceEvent, error)
}

// TokenStore must make Redeem an atomic check-and-decrement per token.
type TokenStore interface {
	Create(ctx context.Context, t model.AccessToken) error
	GetByHash(ctx context.Context, hash string) (model.AccessToken, error)
	Redeem(ctx context.Context, hash string, now time.Time) (model.AccessToken, error)
	Refund(ctx context.Context, hash string) error
	Revoke(ctx context.Context, hash string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	ListActiveByIssuer(ctx context.Context, issuerID uint64, now time.Time) ([]model.AccessToken, error)
}

// Door triggers the physical door opener. Implementations must honour ctx
// cancellation.
type Door interface {
	TriggerOpen(ctx context.Context) error
}

// Directory is the account directory collaborator.
type Directory interface {
	CreateAccount(ctx context.Context, username string) error
	ResetPassword(ctx context.Context, username string) (string, error)
	UpdateAttributes(ctx context.Context, username string, fields map[string]string) error
}

// LevelSource reports the permission level of a resident by id.
type LevelSource interface {
	LevelOf(ctx context.Context, residentID uint64) (model.Level, error)
}

// Publisher emits domain events for external consumers. Publishing is best
// effort: failures are logged and never fail the operation.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
