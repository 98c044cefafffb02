// Package service implements the identity registry, presence tracker and
// access token service. Every operation reports failures through the
// taxonomy below; callers match with errors.Is and surface Message(err).
package service

import (
	"errors"
	"strings"

	"github.com/iliyamo/resident-gate/internal/repository"
)

var (
	// ErrValidation marks malformed input. The wrapped detail is safe to
	// show to the caller verbatim.
	ErrValidation = errors.New("validation")
	// ErrConflict marks a duplicate registration or claim.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized is a permission denial. Its message never tells the
	// caller whether the addressed resource exists.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrRevoked      = errors.New("revoked")
	ErrExhausted    = errors.New("exhausted")
	// ErrTransient marks a collaborator that was unreachable or timed out
	// after local retries. Safe to retry later.
	ErrTransient = errors.New("transient")
)

// fromRepo maps storage sentinels onto the service taxonomy.
func fromRepo(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return ErrConflict
	case errors.Is(err, repository.ErrRevoked):
		return ErrRevoked
	case errors.Is(err, repository.ErrExpired):
		return ErrExpired
	case errors.Is(err, repository.ErrExhausted):
		return ErrExhausted
	}
	return err
}

// Message returns the user-facing text for err.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "Invalid input: " + detail(err, ErrValidation)
	case errors.Is(err, ErrConflict):
		return "Already registered: " + detail(err, ErrConflict)
	case errors.Is(err, ErrUnauthorized):
		return "You are not allowed to do that."
	case errors.Is(err, ErrNotFound):
		return "Not found."
	case errors.Is(err, ErrExpired):
		return "This link has expired."
	case errors.Is(err, ErrRevoked):
		return "This link has been revoked."
	case errors.Is(err, ErrExhausted):
		return "This link has already been used up."
	case errors.Is(err, ErrTransient):
		return "The service is temporarily unavailable, please try again later."
	}
	return "Something went wrong."
}

// detail strips the "<kind>: " prefix added by fmt.Errorf("%w: ...").
func detail(err, kind error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, kind.Error()+": "); ok {
		return rest
	}
	return msg
}
