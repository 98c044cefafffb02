package middleware // reusable HTTP middleware for the echo server

import (
	"net/http" // HTTP status codes for responses
	"strconv"  // parse the numeric subject claim
	"strings"  // prefix checking and trimming

	"github.com/golang-jwt/jwt/v5" // JWT parsing and validation
	"github.com/labstack/echo/v4"  // echo middleware types
)

// JWTAuth returns an echo middleware that validates a Bearer transport token
// issued by the chat transport. The token must be HS256 signed with secret
// and carry the caller's telegram id as its subject. On success the id is
// stored in the context under TelegramIDKey.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims := &jwt.RegisteredClaims{}
			tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			// sub is the decimal telegram id
			id, err := strconv.ParseInt(claims.Subject, 10, 64)
			if err != nil || id <= 0 {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid subject"})
			}
			c.Set(TelegramIDKey, id)
			return next(c)
		}
	}
}
