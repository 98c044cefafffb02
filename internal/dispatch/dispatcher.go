// Package dispatch routes chat commands to the services. The permission
// gate is always consulted first; a denied command never reaches a handler.
package dispatch

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/observability/metrics"
	"github.com/iliyamo/resident-gate/internal/permission"
	"github.com/iliyamo/resident-gate/internal/service"
)

// Chat describes where a command was sent.
type Chat struct {
	ID      int64 `json:"id"`
	Private bool  `json:"private"`
}

// Request is one command invocation from the chat transport.
type Request struct {
	Command    string
	Args       []string
	TelegramID int64
	Chat       Chat
}

// Response is the text sent back to the chat. Denied is set when the
// command was refused before any handler ran. NoPreview asks the chat
// client not to unfurl links in Text.
type Response struct {
	Text      string `json:"text"`
	Denied    bool   `json:"denied"`
	NoPreview bool   `json:"no_preview,omitempty"`
}

const (
	unknownCommandText = "Unknown command. Try /help."
	privateOnlyText    = "This command is only available in a private chat."
	internalErrorText  = "Something went wrong."
)

// Options carries the dispatcher's non-service settings.
type Options struct {
	Version          string
	DefaultGuestTTL  time.Duration
	DefaultGuestUses int
	TimelineHours    int
}

type handlerFunc func(ctx context.Context, c permission.Caller, args []string) (string, error)

// Dispatcher is safe for concurrent use; it holds no per-request state.
type Dispatcher struct {
	gate     *permission.Gate
	registry *service.Registry
	tracker  *service.Tracker
	access   *service.AccessService
	opts     Options
	log      *zap.Logger
	now      service.Clock
	handlers map[string]handlerFunc
}

func New(gate *permission.Gate, registry *service.Registry, tracker *service.Tracker, access *service.AccessService, opts Options, log *zap.Logger) *Dispatcher {
	if opts.DefaultGuestTTL <= 0 {
		opts.DefaultGuestTTL = time.Hour
	}
	if opts.DefaultGuestUses <= 0 {
		opts.DefaultGuestUses = 1
	}
	if opts.TimelineHours <= 0 {
		opts.TimelineHours = 24
	}
	d := &Dispatcher{
		gate:     gate,
		registry: registry,
		tracker:  tracker,
		access:   access,
		opts:     opts,
		log:      log.Named("dispatch"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	d.handlers = map[string]handlerFunc{
		"/help":                     d.help,
		"/start":                    d.start,
		"/version":                  d.version,
		"/status":                   d.status,
		"/residents":                d.residents,
		"/residents_timeline":       d.residentsTimeline,
		"/open":                     d.open,
		"/guest":                    d.guest,
		"/guests":                   d.guests,
		"/revoke":                   d.revoke,
		"/add_mac":                  d.addMAC,
		"/remove_mac":               d.removeMAC,
		"/macs":                     d.macs,
		"/add_ssh":                  d.addSSH,
		"/ssh_keys":                 d.sshKeys,
		"/directory_register":       d.directoryRegister,
		"/directory_reset_password": d.directoryResetPassword,
		"/register_resident":        d.registerResident,
		"/make_admin":               d.makeAdmin,
	}
	return d
}

// Normalize lower-cases a command and strips a "@botname" suffix.
func Normalize(command string) string {
	command = strings.TrimSpace(command)
	if i := strings.IndexByte(command, '@'); i >= 0 {
		command = command[:i]
	}
	command = strings.ToLower(command)
	if command != "" && !strings.HasPrefix(command, "/") {
		command = "/" + command
	}
	return command
}

// Handle classifies the caller, authorizes the command and, only when
// allowed, runs its handler.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	cmd := Normalize(req.Command)
	caller, err := d.gate.Identify(ctx, req.TelegramID)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(cmd, "error").Inc()
		return Response{Text: service.Message(err), Denied: true}
	}

	decision := permission.Authorize(cmd, caller.Level)
	if !decision.Allowed {
		d.log.Info("command denied",
			zap.String("command", cmd),
			zap.Int64("telegram_id", req.TelegramID),
			zap.String("level", caller.Level.String()),
			zap.String("reason", decision.Reason),
		)
		if decision.Reason == permission.ReasonUnknownCommand {
			metrics.CommandsTotal.WithLabelValues("unknown", "denied").Inc()
			return Response{Text: unknownCommandText, Denied: true}
		}
		metrics.CommandsTotal.WithLabelValues(cmd, "denied").Inc()
		return Response{Text: service.Message(service.ErrUnauthorized), Denied: true}
	}
	if rule, _ := permission.Lookup(cmd); rule.PrivateOnly && !req.Chat.Private {
		metrics.CommandsTotal.WithLabelValues(cmd, "denied").Inc()
		return Response{Text: privateOnlyText, Denied: true}
	}

	h, ok := d.handlers[cmd]
	if !ok {
		d.log.Error("no handler for authorized command", zap.String("command", cmd))
		return Response{Text: internalErrorText, Denied: true}
	}
	text, err := h(ctx, caller, req.Args)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(cmd, "error").Inc()
		d.log.Debug("command failed", zap.String("command", cmd), zap.Error(err))
		return Response{Text: service.Message(err)}
	}
	metrics.CommandsTotal.WithLabelValues(cmd, "ok").Inc()
	return Response{Text: text, NoPreview: cmd == "/guest"}
}
