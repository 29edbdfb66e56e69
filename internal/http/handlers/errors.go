// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package), plus the shared mapping
// from service-layer errors to (status, code) pairs. These codes give clients
// a stable, machine-readable error taxonomy that supplements human-readable
// messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (invalid_transition, agent_disabled,
//     service_unavailable) are reserved for business errors that the status
//     alone cannot convey.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sessantasette/hub-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeInvalidTransition  = "invalid_transition"
	ErrCodeAgentDisabled      = "agent_disabled"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
)

// failServiceErr translates a service-layer error into the standard envelope.
// Quota errors are handled by the chat handler directly because their
// response carries the usage snapshot; everything else lands here.
func failServiceErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrPostNotFound),
		errors.Is(err, services.ErrArtistNotFound),
		errors.Is(err, services.ErrSectionNotFound),
		errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrTransitionConflict),
		errors.Is(err, services.ErrSlugTaken):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrReasonRequired),
		errors.Is(err, services.ErrReasonTooLong),
		errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrMessageTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrAgentDisabled):
		fail(c, http.StatusForbidden, ErrCodeAgentDisabled, err.Error())
	case errors.Is(err, services.ErrProviderUnavailable):
		fail(c, http.StatusBadGateway, ErrCodeServiceUnavailable, "assistant temporarily unavailable")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
