package handler

import (
	"context"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resident-gate/internal/model"
	"github.com/iliyamo/resident-gate/internal/service"
)

// Redeemer redeems guest tokens. service.AccessService implements it.
type Redeemer interface {
	RedeemToken(ctx context.Context, tokenID string) (model.AccessToken, error)
}

// GuestHandler serves the guest link.
type GuestHandler struct {
	Access  Redeemer
	Timeout time.Duration
}

func NewGuestHandler(a Redeemer, timeout time.Duration) *GuestHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GuestHandler{Access: a, Timeout: timeout}
}

type guestResp struct {
	Message       string     `json:"message"`
	UsesRemaining *int       `json:"uses_remaining,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

var confirmPage = template.Must(template.New("guest").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><meta name="robots" content="noindex"><title>Door access</title></head>
<body>
<form method="post" action="{{.}}">
<button type="submit">Open the door</button>
</form>
</body>
</html>
`))

// Show runs GET /v1/guest/:token. It only renders a confirmation form, so
// link previews and crawlers that fetch the URL never consume a use.
func (h *GuestHandler) Show(c echo.Context) error {
	var b strings.Builder
	if err := confirmPage.Execute(&b, c.Request().URL.Path); err != nil {
		return err
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.HTML(http.StatusOK, b.String())
}

// Redeem runs POST /v1/guest/:token and opens the door on success.
func (h *GuestHandler) Redeem(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	t, err := h.Access.RedeemToken(ctx, c.Param("token"))
	if err != nil {
		return c.JSON(statusFor(err), guestResp{Message: service.Message(err)})
	}
	uses, exp := t.UsesRemaining, t.ExpiresAt
	return c.JSON(http.StatusOK, guestResp{
		Message:       "Door opened. Welcome!",
		UsesRemaining: &uses,
		ExpiresAt:     &exp,
	})
}
