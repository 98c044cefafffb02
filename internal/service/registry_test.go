package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
	"github.com/iliyamo/resident-gate/internal/queue"
	"github.com/iliyamo/resident-gate/internal/repository"
)

func newTestRegistry(dir Directory) *Registry {
	r := NewRegistry(repository.NewMemoryIdentityRepo(), dir, zap.NewNop())
	r.now = func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }
	r.dirPolicy = RetryPolicy{Timeout: time.Second, Retries: 2}
	return r
}

func TestRegisterResident(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)

	res, err := reg.RegisterResident(ctx, 1001, "alice", model.RoleResident)
	require.NoError(t, err)
	assert.NotZero(t, res.ID)

	got, err := reg.Resolve(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, res.ID, got.ID)
	assert.Equal(t, "alice", got.DirectoryUsername)

	_, err = reg.RegisterResident(ctx, 1001, "alice2", model.RoleAdmin)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = reg.RegisterResident(ctx, 1002, "Not Valid", model.RoleResident)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = reg.Resolve(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddIdentifier_ConflictLeavesOwnerUnchanged(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)
	r1, err := reg.RegisterResident(ctx, 1, "", model.RoleResident)
	require.NoError(t, err)
	r2, err := reg.RegisterResident(ctx, 2, "", model.RoleResident)
	require.NoError(t, err)

	addr, err := reg.AddIdentifier(ctx, r1.ID, "aa-bb-cc-dd-ee-ff")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", addr)

	_, err = reg.AddIdentifier(ctx, r2.ID, "AA:BB:CC:DD:EE:FF")
	assert.ErrorIs(t, err, ErrConflict)

	owners, err := reg.OwnerIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"AA:BB:CC:DD:EE:FF": r1.ID}, owners)

	// same owner again is a no-op
	_, err = reg.AddIdentifier(ctx, r1.ID, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	ids, err := reg.Identifiers(ctx, r1.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestAddIdentifier_Validation(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)
	r1, err := reg.RegisterResident(ctx, 1, "", model.RoleResident)
	require.NoError(t, err)

	for _, mac := range []string{"", "nonsense", "aa:bb:cc:dd:ee", "00:00:5e:00:53:01:02:03"} {
		_, err := reg.AddIdentifier(ctx, r1.ID, mac)
		assert.ErrorIs(t, err, ErrValidation, mac)
	}
	_, err = reg.AddIdentifier(ctx, 999, "aa:bb:cc:dd:ee:ff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveIdentifier(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)
	r1, _ := reg.RegisterResident(ctx, 1, "", model.RoleResident)
	r2, _ := reg.RegisterResident(ctx, 2, "", model.RoleResident)
	_, err := reg.AddIdentifier(ctx, r1.ID, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	assert.ErrorIs(t, reg.RemoveIdentifier(ctx, r2.ID, "aa:bb:cc:dd:ee:ff"), ErrNotFound)
	require.NoError(t, reg.RemoveIdentifier(ctx, r1.ID, "AA-BB-CC-DD-EE-FF"))
	assert.ErrorIs(t, reg.RemoveIdentifier(ctx, r1.ID, "aa:bb:cc:dd:ee:ff"), ErrNotFound)
}

func TestAddSSHKey(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)
	r1, _ := reg.RegisterResident(ctx, 1, "", model.RoleResident)

	key := "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIOMqqnkVzrm0SdG6UOoqKLsabgH5C9okWi0dh2l9GKJl"
	added, err := reg.AddSSHKey(ctx, r1.ID, key+" laptop")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = reg.AddSSHKey(ctx, r1.ID, key+" other-comment")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = reg.AddSSHKey(ctx, r1.ID, "ssh-rsa not-base64")
	assert.ErrorIs(t, err, ErrValidation)

	keys, err := reg.SSHKeys(ctx, r1.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key, keys[0].KeyMaterial)
}

func TestBootstrapAdmins(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)
	_, err := reg.RegisterResident(ctx, 10, "bob", model.RoleResident)
	require.NoError(t, err)

	require.NoError(t, reg.BootstrapAdmins(ctx, []AdminSeed{{TelegramID: 10}, {TelegramID: 11, Username: "carol"}}))
	require.NoError(t, reg.BootstrapAdmins(ctx, []AdminSeed{{TelegramID: 11, Username: "carol"}}))

	bob, err := reg.Resolve(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, bob.Role)
	carol, err := reg.Resolve(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, carol.Role)
	assert.Equal(t, "carol", carol.DirectoryUsername)
}

func TestCreateDirectoryAccount_RetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	dir := &fakeDirectory{failures: 2}
	reg := newTestRegistry(dir)
	res, err := reg.RegisterResident(ctx, 77, "dave", model.RoleResident)
	require.NoError(t, err)

	require.NoError(t, reg.CreateDirectoryAccount(ctx, res.ID))
	assert.Equal(t, []string{"dave"}, dir.created)
	assert.Equal(t, "77", dir.attrs["dave"][DirectoryTelegramAttribute])
}

func TestDirectoryFailuresSurfaceAsTransient(t *testing.T) {
	ctx := context.Background()
	dir := &fakeDirectory{failures: 10}
	reg := newTestRegistry(dir)
	res, err := reg.RegisterResident(ctx, 77, "dave", model.RoleResident)
	require.NoError(t, err)

	_, err = reg.ResetDirectoryPassword(ctx, res.ID)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 7, dir.failures, "one call plus two retries")

	noName, err := reg.RegisterResident(ctx, 78, "", model.RoleResident)
	require.NoError(t, err)
	_, err = reg.ResetDirectoryPassword(ctx, noName.ID)
	assert.ErrorIs(t, err, ErrValidation)

	unconfigured := newTestRegistry(nil)
	assert.ErrorIs(t, unconfigured.CreateDirectoryAccount(ctx, res.ID), ErrTransient)
}

func TestIdentifierChangesReachTracker(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)
	tr := NewTracker(reg, repository.NewMemoryPresenceRepo(), queue.Nop{}, PresenceConfig{HitThreshold: 2, MissThreshold: 3}, zap.NewNop())
	reg.SetObserver(tr)

	res, err := reg.RegisterResident(ctx, 7, "", model.RoleResident)
	require.NoError(t, err)
	assert.Equal(t, model.PresenceUnknown, tr.Status(res.ID))

	_, err = reg.AddIdentifier(ctx, res.ID, "aa:bb:cc:dd:ee:01")
	require.NoError(t, err)
	assert.Equal(t, model.PresenceOffline, tr.Status(res.ID), "owning an identifier means no longer unknown")

	_, err = reg.AddIdentifier(ctx, res.ID, "aa:bb:cc:dd:ee:02")
	require.NoError(t, err)
	require.NoError(t, reg.RemoveIdentifier(ctx, res.ID, "aa:bb:cc:dd:ee:01"))
	assert.Equal(t, model.PresenceOffline, tr.Status(res.ID))

	require.NoError(t, reg.RemoveIdentifier(ctx, res.ID, "aa:bb:cc:dd:ee:02"))
	assert.Equal(t, model.PresenceUnknown, tr.Status(res.ID))
}
