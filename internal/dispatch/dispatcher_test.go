package dispatch

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
	"github.com/iliyamo/resident-gate/internal/permission"
	"github.com/iliyamo/resident-gate/internal/queue"
	"github.com/iliyamo/resident-gate/internal/repository"
	"github.com/iliyamo/resident-gate/internal/service"
)

type countingDoor struct{ calls atomic.Int32 }

func (d *countingDoor) TriggerOpen(context.Context) error {
	d.calls.Add(1)
	return nil
}

const (
	adminTG    int64 = 1
	residentTG int64 = 2
	strangerTG int64 = 3
)

type fixture struct {
	d        *Dispatcher
	door     *countingDoor
	registry *service.Registry
	tracker  *service.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop()
	registry := service.NewRegistry(repository.NewMemoryIdentityRepo(), nil, log)
	_, err := registry.RegisterResident(ctx, adminTG, "root", model.RoleAdmin)
	require.NoError(t, err)
	_, err = registry.RegisterResident(ctx, residentTG, "alice", model.RoleResident)
	require.NoError(t, err)

	gate := permission.NewGate(registry, log)
	tracker := service.NewTracker(registry, repository.NewMemoryPresenceRepo(), queue.Nop{}, service.PresenceConfig{HitThreshold: 1, MissThreshold: 1}, log)
	door := &countingDoor{}
	access := service.NewAccessService(repository.NewMemoryTokenRepo(), gate, door, queue.Nop{}, service.AccessConfig{
		MaxTTL:      24 * time.Hour,
		LinkBaseURL: "https://gate.example.org",
		Door:        service.RetryPolicy{Timeout: time.Second},
	}, log)
	d := New(gate, registry, tracker, access, Options{Version: "v1.2.3"}, log)
	return &fixture{d: d, door: door, registry: registry, tracker: tracker}
}

func (f *fixture) run(tg int64, cmd string, args ...string) Response {
	return f.d.Handle(context.Background(), Request{Command: cmd, Args: args, TelegramID: tg, Chat: Chat{ID: 10, Private: true}})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "/open", Normalize("/Open@SpaceBot"))
	assert.Equal(t, "/help", Normalize(" help "))
	assert.Equal(t, "", Normalize(""))
}

func TestDeniedCommandHasNoSideEffects(t *testing.T) {
	f := newFixture(t)

	resp := f.run(strangerTG, "/open")
	assert.True(t, resp.Denied)
	assert.Equal(t, "You are not allowed to do that.", resp.Text)
	assert.Zero(t, f.door.calls.Load())

	resp = f.run(residentTG, "/register_resident", "55", "mallory", "admin")
	assert.True(t, resp.Denied)
	_, err := f.registry.Resolve(context.Background(), 55)
	assert.ErrorIs(t, err, service.ErrNotFound)

	resp = f.run(residentTG, "/self_destruct")
	assert.True(t, resp.Denied)
	assert.Equal(t, unknownCommandText, resp.Text)
}

func TestOpen(t *testing.T) {
	f := newFixture(t)
	resp := f.run(residentTG, "/open@SpaceBot")
	assert.False(t, resp.Denied)
	assert.Equal(t, "Door opened.", resp.Text)
	assert.Equal(t, int32(1), f.door.calls.Load())
}

func TestPrivateOnlyCommand(t *testing.T) {
	f := newFixture(t)
	resp := f.d.Handle(context.Background(), Request{Command: "/directory_reset_password", TelegramID: residentTG, Chat: Chat{ID: -100, Private: false}})
	assert.True(t, resp.Denied)
	assert.Equal(t, privateOnlyText, resp.Text)
}

func TestGuestLinkLifecycle(t *testing.T) {
	f := newFixture(t)

	resp := f.run(residentTG, "/guest", "2h", "2")
	require.False(t, resp.Denied)
	assert.True(t, resp.NoPreview, "guest links must not be unfurled by the chat client")
	lines := strings.Split(resp.Text, "\n")
	require.Len(t, lines, 2)
	link := lines[1]
	assert.True(t, strings.HasPrefix(link, "https://gate.example.org/v1/guest/"))

	resp = f.run(residentTG, "/guests")
	assert.Contains(t, resp.Text, "2/2 uses left")
	assert.False(t, resp.NoPreview)

	resp = f.run(adminTG, "/revoke", link)
	assert.Equal(t, "Guest link revoked.", resp.Text)

	resp = f.run(residentTG, "/guests")
	assert.Equal(t, "You have no active guest links.", resp.Text)

	resp = f.run(residentTG, "/guest", "48h")
	assert.True(t, strings.HasPrefix(resp.Text, "Invalid input: ttl may not exceed"), resp.Text)
}

func TestRegistryCommands(t *testing.T) {
	f := newFixture(t)

	resp := f.run(residentTG, "/add_mac", "aa-bb-cc-dd-ee-ff")
	assert.Equal(t, "Device AA:BB:CC:DD:EE:FF registered.", resp.Text)
	resp = f.run(adminTG, "/add_mac", "AA:BB:CC:DD:EE:FF")
	assert.Equal(t, "Already registered: AA:BB:CC:DD:EE:FF is registered to another resident", resp.Text)
	resp = f.run(residentTG, "/add_mac", "not-a-mac")
	assert.True(t, strings.HasPrefix(resp.Text, "Invalid input:"), resp.Text)
	resp = f.run(residentTG, "/macs")
	assert.Equal(t, "Your devices: AA:BB:CC:DD:EE:FF", resp.Text)

	resp = f.run(adminTG, "/register_resident", "77", "bob")
	assert.Equal(t, "Registered bob as resident.", resp.Text)
	resp = f.run(adminTG, "/register_resident", "77", "bob")
	assert.Equal(t, "Already registered: telegram id 77", resp.Text)
	resp = f.run(adminTG, "/make_admin", "77")
	assert.Equal(t, "bob is now an admin.", resp.Text)
	resp = f.run(adminTG, "/make_admin", "78")
	assert.Equal(t, "Not found.", resp.Text)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "No data collected yet.", f.run(strangerTG, "/status").Text)

	alice, err := f.registry.Resolve(ctx, residentTG)
	require.NoError(t, err)
	_, err = f.registry.AddIdentifier(ctx, alice.ID, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	_, err = f.tracker.Tick(ctx, []string{"AA:BB:CC:DD:EE:FF"}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "1 resident(s) in the space.", f.run(strangerTG, "/status").Text)
	assert.Equal(t, "In the space: alice.", f.run(residentTG, "/status").Text)

	resp := f.run(residentTG, "/residents_timeline", "1")
	assert.Contains(t, resp.Text, "alice: online at")
}

func TestHelpAndVersion(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "v1.2.3", f.run(strangerTG, "/version").Text)
	assert.NotContains(t, f.run(strangerTG, "/help").Text, "/make_admin")
	assert.Contains(t, f.run(adminTG, "/help").Text, "/make_admin**")
}
