package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resident-gate/internal/dispatch"
	"github.com/iliyamo/resident-gate/internal/middleware"
)

// Dispatcher is the command boundary the handler forwards to.
type Dispatcher interface {
	Handle(ctx context.Context, req dispatch.Request) dispatch.Response
}

// CommandHandler accepts chat commands relayed by the chat transport.
type CommandHandler struct {
	Dispatcher Dispatcher
	// Timeout bounds one command, door retries included.
	Timeout time.Duration
}

func NewCommandHandler(d Dispatcher, timeout time.Duration) *CommandHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CommandHandler{Dispatcher: d, Timeout: timeout}
}

// ----- DTOs -----

type commandReq struct {
	Command string        `json:"command"`
	Args    []string      `json:"args"`
	Chat    dispatch.Chat `json:"chat"`
}

// Handle runs POST /v1/commands. The caller comes from the transport token,
// never from the body. Denials are a normal reply, so the status is 200
// whenever the dispatcher produced a response.
func (h *CommandHandler) Handle(c echo.Context) error {
	telegramID, ok := middleware.TelegramID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	var req commandReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "command required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	resp := h.Dispatcher.Handle(ctx, dispatch.Request{
		Command:    req.Command,
		Args:       req.Args,
		TelegramID: telegramID,
		Chat:       req.Chat,
	})
	return c.JSON(http.StatusOK, resp)
}
