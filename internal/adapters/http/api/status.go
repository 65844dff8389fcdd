package api

import (
	"errors"
	"net/http"

	"github.com/okian/timebank/internal/domain/aggregate"
	"github.com/okian/timebank/internal/domain/ingest"
	"github.com/okian/timebank/internal/domain/resolver"
)

// statusFor maps an error to its HTTP status and client-facing message.
// Causes of internal failures never reach the client.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, "method not allowed"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ingest.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, aggregate.ErrUnknownRange):
		return http.StatusBadRequest, "unknown range"
	case errors.Is(err, resolver.ErrUnrecognized):
		return http.StatusBadRequest, "unrecognized scan input"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "invalid request body"
	case errors.Is(err, ingest.ErrValidation):
		return http.StatusBadRequest, "booth id or code is required"
	case errors.Is(err, ingest.ErrNotFound):
		return http.StatusNotFound, "booth not found"
	case errors.Is(err, ingest.ErrInactive):
		return http.StatusForbidden, "booth is inactive"
	case errors.Is(err, ingest.ErrRateLimited):
		return http.StatusTooManyRequests, "too many requests"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
