package dispatch

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/resident-gate/internal/model"
	"github.com/iliyamo/resident-gate/internal/permission"
	"github.com/iliyamo/resident-gate/internal/queue"
	"github.com/iliyamo/resident-gate/internal/service"
)

const timeLayout = "2006-01-02 15:04 MST"

func usage(text string) error {
	return fmt.Errorf("%w: usage: %s", service.ErrValidation, text)
}

func label(r model.Resident) string {
	if r.DirectoryUsername != "" {
		return r.DirectoryUsername
	}
	return "tg:" + strconv.FormatInt(r.TelegramID, 10)
}

func (d *Dispatcher) help(_ context.Context, c permission.Caller, _ []string) (string, error) {
	return permission.HelpText(c.Level), nil
}

func (d *Dispatcher) start(ctx context.Context, c permission.Caller, args []string) (string, error) {
	help, _ := d.help(ctx, c, args)
	return "Hello! I am the space door and presence bot.\n\n" + help, nil
}

func (d *Dispatcher) version(context.Context, permission.Caller, []string) (string, error) {
	return d.opts.Version, nil
}

// status shows who is in the space. Unregistered callers only see a count.
func (d *Dispatcher) status(ctx context.Context, c permission.Caller, _ []string) (string, error) {
	if !d.tracker.Ready() {
		return "No data collected yet.", nil
	}
	online := d.tracker.Online()
	if len(online) == 0 {
		return "Nobody is in the space.", nil
	}
	if !c.Level.AtLeast(model.LevelResident) {
		return fmt.Sprintf("%d resident(s) in the space.", len(online)), nil
	}
	names := make([]string, 0, len(online))
	for _, id := range online {
		r, err := d.registry.GetResident(ctx, id)
		if err != nil {
			continue
		}
		names = append(names, label(r))
	}
	return "In the space: " + strings.Join(names, ", ") + ".", nil
}

func (d *Dispatcher) residents(ctx context.Context, _ permission.Caller, _ []string) (string, error) {
	list, err := d.registry.ListResidents(ctx)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "No residents registered.", nil
	}
	names := make([]string, 0, len(list))
	for _, r := range list {
		n := label(r)
		if r.Role == model.RoleAdmin {
			n += " (admin)"
		}
		names = append(names, n)
	}
	return "Residents: " + strings.Join(names, ", ") + ".", nil
}

func (d *Dispatcher) residentsTimeline(ctx context.Context, _ permission.Caller, args []string) (string, error) {
	hours := d.opts.TimelineHours
	if len(args) > 0 {
		h, err := strconv.Atoi(args[0])
		if err != nil || h <= 0 || h > 24*7 {
			return "", usage("/residents_timeline [hours], hours between 1 and 168")
		}
		hours = h
	}
	to := d.now()
	from := to.Add(-time.Duration(hours) * time.Hour)

	list, err := d.registry.ListResidents(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Presence over the last %dh:\n", hours)
	found := false
	for _, r := range list {
		events, err := d.tracker.Timeline(ctx, r.ID, from, to)
		if err != nil {
			return "", err
		}
		if len(events) == 0 {
			continue
		}
		found = true
		parts := make([]string, 0, len(events))
		for _, ev := range events {
			parts = append(parts, fmt.Sprintf("%s at %s", strings.ToLower(ev.Status.String()), ev.At.Format(timeLayout)))
		}
		fmt.Fprintf(&b, "%s: %s\n", label(r), strings.Join(parts, ", "))
	}
	if !found {
		return fmt.Sprintf("No presence changes in the last %dh.", hours), nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) open(ctx context.Context, c permission.Caller, _ []string) (string, error) {
	if err := d.access.OpenNow(ctx, c.Resident.ID); err != nil {
		return "", err
	}
	return "Door opened.", nil
}

func (d *Dispatcher) guest(ctx context.Context, c permission.Caller, args []string) (string, error) {
	ttl, uses := d.opts.DefaultGuestTTL, d.opts.DefaultGuestUses
	if len(args) > 0 {
		v, err := time.ParseDuration(args[0])
		if err != nil {
			return "", usage("/guest [ttl] [uses], e.g. /guest 2h 3")
		}
		ttl = v
	}
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return "", usage("/guest [ttl] [uses], e.g. /guest 2h 3")
		}
		uses = v
	}
	tok, err := d.access.IssueGuestToken(ctx, c.Resident.ID, ttl, uses)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Guest link, valid until %s for %d use(s):\n%s",
		tok.ExpiresAt.Format(timeLayout), tok.MaxUses, d.access.GuestLink(tok.ID)), nil
}

func (d *Dispatcher) guests(ctx context.Context, c permission.Caller, _ []string) (string, error) {
	list, err := d.access.ListGuestTokens(ctx, c.Resident.ID)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "You have no active guest links.", nil
	}
	var b strings.Builder
	b.WriteString("Active guest links:\n")
	for _, t := range list {
		fmt.Fprintf(&b, "%s: %d/%d uses left, until %s\n",
			queue.HashPrefix(t.Hash), t.UsesRemaining, t.MaxUses, t.ExpiresAt.Format(timeLayout))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// revoke accepts either the raw token id or the full guest link.
func (d *Dispatcher) revoke(ctx context.Context, c permission.Caller, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("/revoke <guest link>")
	}
	id := path.Base(strings.TrimRight(args[0], "/"))
	if err := d.access.RevokeToken(ctx, id, c.Resident.ID); err != nil {
		return "", err
	}
	return "Guest link revoked.", nil
}

func (d *Dispatcher) addMAC(ctx context.Context, c permission.Caller, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("/add_mac <mac>")
	}
	addr, err := d.registry.AddIdentifier(ctx, c.Resident.ID, args[0])
	if err != nil {
		return "", err
	}
	return "Device " + addr + " registered.", nil
}

func (d *Dispatcher) removeMAC(ctx context.Context, c permission.Caller, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("/remove_mac <mac>")
	}
	if err := d.registry.RemoveIdentifier(ctx, c.Resident.ID, args[0]); err != nil {
		return "", err
	}
	return "Device removed.", nil
}

func (d *Dispatcher) macs(ctx context.Context, c permission.Caller, _ []string) (string, error) {
	ids, err := d.registry.Identifiers(ctx, c.Resident.ID)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "You have no registered devices.", nil
	}
	addrs := make([]string, 0, len(ids))
	for _, ni := range ids {
		addrs = append(addrs, ni.Address)
	}
	return "Your devices: " + strings.Join(addrs, ", "), nil
}

func (d *Dispatcher) addSSH(ctx context.Context, c permission.Caller, args []string) (string, error) {
	if len(args) == 0 {
		return "", usage("/add_ssh <public key>")
	}
	added, err := d.registry.AddSSHKey(ctx, c.Resident.ID, strings.Join(args, " "))
	if err != nil {
		return "", err
	}
	if !added {
		return "This key is already registered.", nil
	}
	return "SSH key added.", nil
}

func (d *Dispatcher) sshKeys(ctx context.Context, c permission.Caller, _ []string) (string, error) {
	keys, err := d.registry.SSHKeys(ctx, c.Resident.ID)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "You have no SSH keys.", nil
	}
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k.KeyMaterial)
	}
	return strings.Join(lines, "\n"), nil
}

func (d *Dispatcher) directoryRegister(ctx context.Context, c permission.Caller, _ []string) (string, error) {
	if err := d.registry.CreateDirectoryAccount(ctx, c.Resident.ID); err != nil {
		return "", err
	}
	return "Directory account created. Use /directory_reset_password to get a password.", nil
}

func (d *Dispatcher) directoryResetPassword(ctx context.Context, c permission.Caller, _ []string) (string, error) {
	secret, err := d.registry.ResetDirectoryPassword(ctx, c.Resident.ID)
	if err != nil {
		return "", err
	}
	return "Your new directory password: " + secret, nil
}

// registerResident takes "-" as username for residents without a directory
// account.
func (d *Dispatcher) registerResident(ctx context.Context, _ permission.Caller, args []string) (string, error) {
	if len(args) < 2 || len(args) > 3 {
		return "", usage("/register_resident <telegram_id> <username|-> [admin]")
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "", usage("/register_resident <telegram_id> <username|-> [admin]")
	}
	username := args[1]
	if username == "-" {
		username = ""
	}
	role := model.RoleResident
	if len(args) == 3 {
		r, ok := model.ParseRole(args[2])
		if !ok {
			return "", usage("/register_resident <telegram_id> <username|-> [admin]")
		}
		role = r
	}
	res, err := d.registry.RegisterResident(ctx, tgID, username, role)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Registered %s as %s.", label(res), strings.ToLower(res.Role.String())), nil
}

func (d *Dispatcher) makeAdmin(ctx context.Context, _ permission.Caller, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("/make_admin <telegram_id>")
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "", usage("/make_admin <telegram_id>")
	}
	res, err := d.registry.SetRole(ctx, tgID, model.RoleAdmin)
	if err != nil {
		return "", err
	}
	return label(res) + " is now an admin.", nil
}
