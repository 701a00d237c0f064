// Package apperrors is the typed error hierarchy translated to HTTP status
// codes by internal/handlers (spec.md §7), grounded in the teacher's
// internal/storage/errors.go style of typed structs carrying an
// Error()/Unwrap() pair.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// NotFound means the requested entity is absent; surfaced as 404.
type NotFound struct {
	Kind string
	ID   string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// AlreadyExists means a conflicting create was attempted (existing token,
// duplicate deploy id); surfaced as 409.
type AlreadyExists struct {
	Kind string
	ID   string
}

func (e *AlreadyExists) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.ID)
}

// ValidationError wraps a batch of model validation failures; surfaced as
// 422 with every message in messages.error.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", e.Messages[0])
}

// AuthError means authentication failed or was missing; surfaced as 401.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// AdmissionError means a quota was exceeded or an illegal state transition
// was requested; surfaced as 409.
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string {
	return e.Reason
}

// ErrLostLeader is returned by storage.Store.UpdateDeployment when the
// timeout sweep has already rewritten the deployment to timed_out and the
// caller is not itself writing timed_out (SPEC_FULL §4 Open Question 3:
// "sweep wins"). The engine treats it as a no-op, not a resurrection.
var ErrLostLeader = errors.New("apperrors: deployment was reaped by the timeout sweep; this writer has lost leadership")

// StatusCode maps a typed error (or an unrecognized one) to the HTTP status
// it should surface as (spec.md §7).
func StatusCode(err error) int {
	var (
		notFound      *NotFound
		alreadyExists *AlreadyExists
		validationErr *ValidationError
		authErr       *AuthError
		admissionErr  *AdmissionError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &alreadyExists):
		return http.StatusConflict
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &admissionErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
