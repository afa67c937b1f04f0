package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophgate/internal/common"
)

// APIError is the JSON error body returned by every endpoint.
type APIError struct {
	Status            int        `json:"-"`
	Success           bool       `json:"success"`
	Message           string     `json:"error"`
	Code              string     `json:"code"`
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
	AttemptsRemaining *int       `json:"attemptsRemaining,omitempty"`
	Details           any        `json:"details,omitempty"`
}

func (e *APIError) Error() string { return e.Message }

func newAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

var (
	errBadBody  = newAPIError(http.StatusBadRequest, "bad_request", "Invalid request body")
	errNotFound = newAPIError(http.StatusNotFound, "not_found", "Route not found")
	errInternal = newAPIError(http.StatusInternalServerError, "internal_error", "Internal server error")
)

// unauthorized maps each authentication failure to its client-facing code.
var unauthorized = []struct {
	err     error
	code    string
	message string
}{
	{common.ErrNoToken, "no_token", "No token provided"},
	{common.ErrTokenExpired, "token_expired", "Token expired"},
	{common.ErrInvalidToken, "invalid_token", "Invalid token"},
	{common.ErrSessionInvalid, "session_invalid", "Session expired or invalid"},
	{common.ErrRefreshInvalid, "refresh_invalid", "Invalid or expired refresh token"},
}

// toAPIError maps the error taxonomy to a status code and body.
func toAPIError(err error) *APIError {
	var (
		apiErr   *APIError
		locked   *common.LockedError
		creds    *common.CredentialsError
		validErr *common.ValidationError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr

	case errors.As(err, &validErr):
		msg := validErr.Message
		if msg == "" {
			msg = validErr.Error()
		}
		return newAPIError(http.StatusBadRequest, "validation_error", msg)

	case errors.As(err, &locked):
		e := newAPIError(http.StatusLocked, "account_locked", "Account is locked due to too many failed attempts")
		until := locked.Until
		e.LockedUntil = &until
		return e

	case errors.As(err, &creds):
		e := newAPIError(http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
		remaining := creds.AttemptsRemaining
		e.AttemptsRemaining = &remaining
		return e

	case errors.Is(err, common.ErrAccountDisabled):
		return newAPIError(http.StatusForbidden, "account_disabled", "Account is disabled")

	case errors.Is(err, common.ErrorForbidden):
		return newAPIError(http.StatusForbidden, "forbidden", "Insufficient permissions")

	case errors.Is(err, common.ErrorValidation):
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error())

	case errors.Is(err, common.ErrorNotFound):
		return errNotFound
	}

	if errors.Is(err, common.ErrorUnauthorized) {
		for _, u := range unauthorized {
			if errors.Is(err, u.err) {
				return newAPIError(http.StatusUnauthorized, u.code, u.message)
			}
		}
		return newAPIError(http.StatusUnauthorized, "unauthorized", "Authentication required")
	}

	return errInternal
}
