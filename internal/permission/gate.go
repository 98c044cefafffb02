// Package permission holds the command permission table and the gate that
// classifies callers against it. Every command is checked here before any
// handler runs.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
	"github.com/iliyamo/resident-gate/internal/service"
)

// Rule describes one command.
type Rule struct {
	Command     string
	Level       model.Level
	PrivateOnly bool // refused in group chats
	Args        string
	Description string
}

// rules is the single source of truth for command permissions, in help
// order.
var rules = []Rule{
	{Command: "/help", Level: model.LevelPublic, Description: "display this text."},
	{Command: "/start", Level: model.LevelPublic, Description: "greet and show help."},
	{Command: "/status", Level: model.LevelPublic, Description: "show who is in the space."},
	{Command: "/version", Level: model.LevelPublic, Description: "show bot version."},
	{Command: "/residents", Level: model.LevelResident, Description: "list residents."},
	{Command: "/residents_timeline", Level: model.LevelResident, Args: "[hours]", Description: "show residents timeline."},
	{Command: "/open", Level: model.LevelResident, Description: "open the door."},
	{Command: "/guest", Level: model.LevelResident, Args: "[ttl] [uses]", Description: "issue a guest door link."},
	{Command: "/guests", Level: model.LevelResident, Description: "list your active guest links."},
	{Command: "/revoke", Level: model.LevelResident, Args: "<token>", Description: "revoke a guest link."},
	{Command: "/add_mac", Level: model.LevelResident, Args: "<mac>", Description: "register a device for presence."},
	{Command: "/remove_mac", Level: model.LevelResident, Args: "<mac>", Description: "remove a device."},
	{Command: "/macs", Level: model.LevelResident, Description: "list your devices."},
	{Command: "/add_ssh", Level: model.LevelResident, Args: "<key>", Description: "add an SSH public key."},
	{Command: "/ssh_keys", Level: model.LevelResident, Description: "list your SSH keys."},
	{Command: "/directory_register", Level: model.LevelResident, PrivateOnly: true, Description: "create your directory account."},
	{Command: "/directory_reset_password", Level: model.LevelResident, PrivateOnly: true, Description: "reset your directory password."},
	{Command: "/register_resident", Level: model.LevelAdmin, Args: "<telegram_id> <username> [admin]", Description: "register a resident."},
	{Command: "/make_admin", Level: model.LevelAdmin, Args: "<telegram_id>", Description: "promote a resident to admin."},
}

var byCommand = func() map[string]Rule {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		m[r.Command] = r
	}
	return m
}()

// Denial reasons returned by Authorize.
const (
	ReasonUnknownCommand = "unknown command"
	ReasonInsufficient   = "insufficient permission"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  string
}

// Authorize decides whether a caller at level may run command. It is pure.
func Authorize(command string, level model.Level) Decision {
	r, ok := byCommand[command]
	if !ok {
		return Decision{Reason: ReasonUnknownCommand}
	}
	if !level.AtLeast(r.Level) {
		return Decision{Reason: ReasonInsufficient}
	}
	return Decision{Allowed: true}
}

// Lookup returns the rule for command.
func Lookup(command string) (Rule, bool) {
	r, ok := byCommand[command]
	return r, ok
}

// Rules returns a copy of the permission table in help order.
func Rules() []Rule {
	return append([]Rule(nil), rules...)
}

// HelpText lists the commands visible at level. Resident commands are
// marked with * and admin commands with **.
func HelpText(level model.Level) string {
	var b strings.Builder
	b.WriteString("Available commands:\n\n")
	for _, r := range rules {
		if !level.AtLeast(r.Level) && r.Level == model.LevelAdmin {
			continue
		}
		b.WriteString(r.Command)
		switch r.Level {
		case model.LevelAdmin:
			b.WriteString("**")
		case model.LevelResident:
			b.WriteString("*")
		}
		if r.Args != "" {
			b.WriteString(" " + r.Args)
		}
		if r.PrivateOnly {
			b.WriteString(" (in private)")
		}
		b.WriteString(" - " + r.Description + "\n")
	}
	b.WriteString("\nCommands marked with * are available only to residents")
	if level.AtLeast(model.LevelAdmin) {
		b.WriteString(", and with ** only to admins")
	}
	b.WriteString(".")
	return b.String()
}

// Resolver is the identity lookup the gate depends on.
type Resolver interface {
	Resolve(ctx context.Context, telegramID int64) (model.Resident, error)
	GetResident(ctx context.Context, id uint64) (model.Resident, error)
}

// Caller is a classified chat user. Resident is nil for unregistered users.
type Caller struct {
	TelegramID int64
	Resident   *model.Resident
	Level      model.Level
}

// Gate classifies callers through the identity registry.
type Gate struct {
	registry Resolver
	log      *zap.Logger
}

func NewGate(registry Resolver, log *zap.Logger) *Gate {
	return &Gate{registry: registry, log: log.Named("permission")}
}

// Identify resolves telegramID. Unregistered users are Public; any other
// lookup failure is reported as service.ErrTransient so callers fail
// closed.
func (g *Gate) Identify(ctx context.Context, telegramID int64) (Caller, error) {
	res, err := g.registry.Resolve(ctx, telegramID)
	switch {
	case errors.Is(err, service.ErrNotFound):
		return Caller{TelegramID: telegramID, Level: model.LevelPublic}, nil
	case err != nil:
		g.log.Error("identity lookup failed", zap.Int64("telegram_id", telegramID), zap.Error(err))
		return Caller{}, fmt.Errorf("%w: identity lookup: %v", service.ErrTransient, err)
	}
	return Caller{TelegramID: telegramID, Resident: &res, Level: res.Role.Level()}, nil
}

// Classify returns the permission level of telegramID.
func (g *Gate) Classify(ctx context.Context, telegramID int64) (model.Level, error) {
	c, err := g.Identify(ctx, telegramID)
	return c.Level, err
}

// LevelOf returns the level of a resident by id. It satisfies
// service.LevelSource.
func (g *Gate) LevelOf(ctx context.Context, residentID uint64) (model.Level, error) {
	res, err := g.registry.GetResident(ctx, residentID)
	switch {
	case errors.Is(err, service.ErrNotFound):
		return model.LevelPublic, err
	case err != nil:
		return model.LevelPublic, fmt.Errorf("%w: identity lookup: %v", service.ErrTransient, err)
	}
	return res.Role.Level(), nil
}
