package handler

import (
	"errors"
	"net/http"

	"github.com/iliyamo/resident-gate/internal/service"
)

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrExpired),
		errors.Is(err, service.ErrRevoked),
		errors.Is(err, service.ErrExhausted):
		return http.StatusGone
	case errors.Is(err, service.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
