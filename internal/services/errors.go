// Package services defines the business logic for the post approval workflow,
// the artist roster, the toolkit, and the AI assistant. This file centralizes
// common service-level error values so that they can be consistently returned
// by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"
	"fmt"
)

// Post workflow errors.
var (
	// ErrPostNotFound indicates that the requested post does not exist or is
	// not accessible to the current user.
	ErrPostNotFound = errors.New("post not found")

	// ErrForbidden is returned when the acting user is not allowed to perform
	// a legal transition (or operation) on the target post.
	ErrForbidden = errors.New("actor not allowed")

	// ErrInvalidTransition is returned when the requested (from, to) status
	// pair is not in the workflow's transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTransitionConflict is returned when a compare-and-set transition lost
	// a race: the post moved to another state between read and write.
	ErrTransitionConflict = errors.New("post changed concurrently")

	// ErrReasonRequired is returned when a rejection carries no usable reason.
	ErrReasonRequired = errors.New("rejection reason is required")

	// ErrReasonTooLong is returned when a rejection reason exceeds the cap.
	ErrReasonTooLong = errors.New("rejection reason too long")

	// ErrValidation is returned for malformed post fields (unknown platform,
	// missing title, zero schedule time).
	ErrValidation = errors.New("invalid post fields")
)

// Roster and toolkit errors.
var (
	// ErrArtistNotFound indicates an unknown roster entry.
	ErrArtistNotFound = errors.New("artist not found")

	// ErrSectionNotFound indicates an unknown guideline section.
	ErrSectionNotFound = errors.New("guideline section not found")

	// ErrSlugTaken is returned when a guideline section slug already exists.
	ErrSlugTaken = errors.New("slug already in use")
)

// AI assistant errors.
var (
	// ErrAgentDisabled is returned when the artist's assistant is not
	// configured or switched off.
	ErrAgentDisabled = errors.New("assistant not enabled for artist")

	// ErrEmptyMessage is returned when the user message is blank after trim.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when the user message exceeds the cap.
	ErrMessageTooLong = errors.New("message too long")

	// ErrSessionNotFound indicates that the chat session does not exist or is
	// not accessible to the current user.
	ErrSessionNotFound = errors.New("chat session not found")

	// ErrProviderUnavailable wraps a completion provider failure. The user's
	// quota is NOT consumed when this is returned.
	ErrProviderUnavailable = errors.New("completion provider unavailable")
)

// QuotaError is returned when the artist has exhausted the daily message
// allowance. It carries the usage snapshot so handlers can surface limits.
type QuotaError struct {
	DailyLimit int
	UsedToday  int
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily message limit reached (%d/%d)", e.UsedToday, e.DailyLimit)
}

// Remaining returns how many exchanges are left today (never negative).
func (e *QuotaError) Remaining() int {
	if r := e.DailyLimit - e.UsedToday; r > 0 {
		return r
	}
	return 0
}
