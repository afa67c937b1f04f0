package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("insufficient permissions")
	ErrorValidation   = errors.New("validation error")

	// Auth errors (missing, invalid or malformed token).
	ErrNoToken      = fmt.Errorf("no token provided: %w", ErrorUnauthorized)
	ErrInvalidToken = fmt.Errorf("invalid token: %w", ErrorUnauthorized)

	// Token lifecycle errors.
	ErrTokenExpired   = fmt.Errorf("token expired: %w", ErrorUnauthorized)
	ErrSessionInvalid = fmt.Errorf("session expired or invalid: %w", ErrorUnauthorized)
	ErrRefreshInvalid = fmt.Errorf("invalid or expired refresh token: %w", ErrorUnauthorized)

	// Account errors.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrorUnauthorized)
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountDisabled    = fmt.Errorf("account is disabled: %w", ErrorForbidden)
)

// LockedError is returned when a login targets an account whose lock has not
// yet expired. It matches ErrAccountLocked.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked, e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// CredentialsError carries the number of attempts left before the account is
// locked. It matches ErrInvalidCredentials and ErrorUnauthorized.
type CredentialsError struct {
	AttemptsRemaining int
}

func (e *CredentialsError) Error() string { return ErrInvalidCredentials.Error() }

func (e *CredentialsError) Unwrap() error { return ErrInvalidCredentials }

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrorValidation }

// Internal wraps err so that it matches ErrorInternal while keeping the cause
// available for logging.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrorInternal, err)
}
