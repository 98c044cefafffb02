package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
)

// DirectoryTelegramAttribute is the directory attribute that links an
// account back to its chat identity.
const DirectoryTelegramAttribute = "telegramId"

var usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_.-]{0,31}$`)

// Registry is the identity registry. It is the only path through which
// other components look residents up.
type Registry struct {
	store     IdentityStore
	directory Directory
	log       *zap.Logger
	now       Clock
	dirPolicy RetryPolicy
	observer  IdentifierObserver
}

// IdentifierObserver hears about residents gaining their first identifier
// or losing their last one. Tracker implements it.
type IdentifierObserver interface {
	IdentifierAdded(residentID uint64)
	IdentifiersCleared(residentID uint64)
}

// SetObserver registers o for identifier changes. Call before serving.
func (r *Registry) SetObserver(o IdentifierObserver) { r.observer = o }

// NewRegistry builds a registry over store. directory may be nil when no
// directory service is configured.
func NewRegistry(store IdentityStore, directory Directory, log *zap.Logger) *Registry {
	return &Registry{
		store:     store,
		directory: directory,
		log:       log.Named("registry"),
		now:       systemClock,
		dirPolicy: DefaultDirectoryPolicy,
	}
}

// RegisterResident creates a resident. A telegram id can only be
// registered once.
func (r *Registry) RegisterResident(ctx context.Context, telegramID int64, directoryUsername string, role model.Role) (model.Resident, error) {
	if telegramID <= 0 {
		return model.Resident{}, fmt.Errorf("%w: telegram id must be positive", ErrValidation)
	}
	if directoryUsername != "" && !usernamePattern.MatchString(directoryUsername) {
		return model.Resident{}, fmt.Errorf("%w: %q is not a valid directory username", ErrValidation, directoryUsername)
	}
	if role != model.RoleResident && role != model.RoleAdmin {
		return model.Resident{}, fmt.Errorf("%w: unknown role", ErrValidation)
	}
	res := model.Resident{
		TelegramID:        telegramID,
		DirectoryUsername: directoryUsername,
		Role:              role,
		CreatedAt:         r.now(),
	}
	if err := r.store.CreateResident(ctx, &res); err != nil {
		if errors.Is(fromRepo(err), ErrConflict) {
			return model.Resident{}, fmt.Errorf("%w: telegram id %d", ErrConflict, telegramID)
		}
		return model.Resident{}, err
	}
	r.log.Info("resident registered",
		zap.Uint64("resident_id", res.ID),
		zap.Int64("telegram_id", telegramID),
		zap.String("role", role.String()),
	)
	return res, nil
}

// Resolve looks a resident up by telegram id.
func (r *Registry) Resolve(ctx context.Context, telegramID int64) (model.Resident, error) {
	res, err := r.store.ResidentByTelegramID(ctx, telegramID)
	return res, fromRepo(err)
}

// GetResident looks a resident up by id.
func (r *Registry) GetResident(ctx context.Context, id uint64) (model.Resident, error) {
	res, err := r.store.ResidentByID(ctx, id)
	return res, fromRepo(err)
}

func (r *Registry) ListResidents(ctx context.Context) ([]model.Resident, error) {
	return r.store.ListResidents(ctx)
}

// SetRole changes the role of the resident with the given telegram id.
func (r *Registry) SetRole(ctx context.Context, telegramID int64, role model.Role) (model.Resident, error) {
	res, err := r.Resolve(ctx, telegramID)
	if err != nil {
		return model.Resident{}, err
	}
	if err := r.store.SetRole(ctx, res.ID, role); err != nil {
		return model.Resident{}, fromRepo(err)
	}
	res.Role = role
	r.log.Info("resident role changed", zap.Uint64("resident_id", res.ID), zap.String("role", role.String()))
	return res, nil
}

// AddIdentifier claims a hardware address for a resident and returns the
// normalized address. Claiming an address the resident already owns
// succeeds without change.
func (r *Registry) AddIdentifier(ctx context.Context, residentID uint64, mac string) (string, error) {
	address, err := model.ParseMAC(mac)
	if err != nil {
		return "", fmt.Errorf("%w: %q is %v", ErrValidation, mac, err)
	}
	if _, err := r.GetResident(ctx, residentID); err != nil {
		return "", err
	}
	created, err := r.store.AddIdentifier(ctx, residentID, address, r.now())
	if err != nil {
		if errors.Is(fromRepo(err), ErrConflict) {
			return "", fmt.Errorf("%w: %s is registered to another resident", ErrConflict, address)
		}
		return "", err
	}
	if created {
		r.log.Info("identifier added", zap.Uint64("resident_id", residentID), zap.String("address", address))
		if r.observer != nil {
			r.observer.IdentifierAdded(residentID)
		}
	}
	return address, nil
}

// RemoveIdentifier releases an address owned by residentID.
func (r *Registry) RemoveIdentifier(ctx context.Context, residentID uint64, mac string) error {
	address, err := model.ParseMAC(mac)
	if err != nil {
		return fmt.Errorf("%w: %q is %v", ErrValidation, mac, err)
	}
	if err := r.store.RemoveIdentifier(ctx, residentID, address); err != nil {
		return fromRepo(err)
	}
	r.log.Info("identifier removed", zap.Uint64("resident_id", residentID), zap.String("address", address))
	if r.observer != nil {
		left, err := r.store.IdentifiersByResident(ctx, residentID)
		if err != nil {
			r.log.Warn("identifier count after removal failed", zap.Uint64("resident_id", residentID), zap.Error(err))
		} else if len(left) == 0 {
			r.observer.IdentifiersCleared(residentID)
		}
	}
	return nil
}

// Identifiers lists the addresses owned by a resident.
func (r *Registry) Identifiers(ctx context.Context, residentID uint64) ([]model.NetworkIdentifier, error) {
	return r.store.IdentifiersByResident(ctx, residentID)
}

// OwnerIndex returns a snapshot of address -> owner. The tracker reads it
// once per tick; it never writes back.
func (r *Registry) OwnerIndex(ctx context.Context) (map[string]uint64, error) {
	all, err := r.store.AllIdentifiers(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]uint64, len(all))
	for _, ni := range all {
		idx[ni.Address] = ni.ResidentID
	}
	return idx, nil
}

// AddSSHKey stores a public key for a resident. Adding a key the resident
// already has is a no-op and reports added=false.
func (r *Registry) AddSSHKey(ctx context.Context, residentID uint64, key string) (bool, error) {
	material, err := model.NormalizeSSHKey(key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := r.GetResident(ctx, residentID); err != nil {
		return false, err
	}
	added, err := r.store.AddSSHKey(ctx, model.SSHKey{ResidentID: residentID, KeyMaterial: material, AddedAt: r.now()})
	if err != nil {
		return false, err
	}
	if added {
		r.log.Info("ssh key added", zap.Uint64("resident_id", residentID))
	}
	return added, nil
}

func (r *Registry) SSHKeys(ctx context.Context, residentID uint64) ([]model.SSHKey, error) {
	return r.store.SSHKeysByResident(ctx, residentID)
}

// AdminSeed is one configured administrator.
type AdminSeed struct {
	TelegramID int64
	Username   string
}

// BootstrapAdmins registers configured administrators that are missing and
// promotes existing residents among them.
func (r *Registry) BootstrapAdmins(ctx context.Context, seeds []AdminSeed) error {
	for _, s := range seeds {
		res, err := r.Resolve(ctx, s.TelegramID)
		switch {
		case errors.Is(err, ErrNotFound):
			if _, err := r.RegisterResident(ctx, s.TelegramID, s.Username, model.RoleAdmin); err != nil && !errors.Is(err, ErrConflict) {
				return fmt.Errorf("bootstrap admin %d: %w", s.TelegramID, err)
			}
		case err != nil:
			return fmt.Errorf("bootstrap admin %d: %w", s.TelegramID, err)
		case res.Role != model.RoleAdmin:
			if _, err := r.SetRole(ctx, s.TelegramID, model.RoleAdmin); err != nil {
				return fmt.Errorf("bootstrap admin %d: %w", s.TelegramID, err)
			}
		}
	}
	return nil
}

// CreateDirectoryAccount creates the resident's directory account and
// stamps it with the resident's telegram id.
func (r *Registry) CreateDirectoryAccount(ctx context.Context, residentID uint64) error {
	res, err := r.directoryResident(ctx, residentID)
	if err != nil {
		return err
	}
	if err := r.dirPolicy.call(ctx, r.log, "directory.create_account", func(ctx context.Context) error {
		return r.directory.CreateAccount(ctx, res.DirectoryUsername)
	}); err != nil {
		return err
	}
	fields := map[string]string{DirectoryTelegramAttribute: strconv.FormatInt(res.TelegramID, 10)}
	if err := r.dirPolicy.call(ctx, r.log, "directory.update_attributes", func(ctx context.Context) error {
		return r.directory.UpdateAttributes(ctx, res.DirectoryUsername, fields)
	}); err != nil {
		return err
	}
	r.log.Info("directory account created", zap.Uint64("resident_id", residentID), zap.String("username", res.DirectoryUsername))
	return nil
}

// ResetDirectoryPassword resets the resident's directory password and
// returns the new secret.
func (r *Registry) ResetDirectoryPassword(ctx context.Context, residentID uint64) (string, error) {
	res, err := r.directoryResident(ctx, residentID)
	if err != nil {
		return "", err
	}
	var secret string
	if err := r.dirPolicy.call(ctx, r.log, "directory.reset_password", func(ctx context.Context) error {
		s, err := r.directory.ResetPassword(ctx, res.DirectoryUsername)
		secret = s
		return err
	}); err != nil {
		return "", err
	}
	r.log.Info("directory password reset", zap.Uint64("resident_id", residentID))
	return secret, nil
}

func (r *Registry) directoryResident(ctx context.Context, residentID uint64) (model.Resident, error) {
	if r.directory == nil {
		return model.Resident{}, fmt.Errorf("%w: directory service is not configured", ErrTransient)
	}
	res, err := r.GetResident(ctx, residentID)
	if err != nil {
		return model.Resident{}, err
	}
	if res.DirectoryUsername == "" {
		return model.Resident{}, fmt.Errorf("%w: no directory username on record", ErrValidation)
	}
	return res, nil
}
