package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// TelegramIDKey is the context key JWTAuth stores the caller under.
const TelegramIDKey = "telegram_id"

// TelegramID returns the authenticated caller, if any.
func TelegramID(c echo.Context) (int64, bool) {
	id, ok := c.Get(TelegramIDKey).(int64)
	return id, ok && id > 0
}

// callerKey identifies the caller for rate limiting. Unauthenticated
// requests share "anon".
func callerKey(c echo.Context) string {
	if id, ok := TelegramID(c); ok {
		return strconv.FormatInt(id, 10)
	}
	return "anon"
}
