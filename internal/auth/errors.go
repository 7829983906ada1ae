package auth

import (
	"errors"
	"fmt"
	"time"
)

// Error codes surfaced to clients. Responses carry the code alongside a
// human-readable message and never include internal detail.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeMissingToken       = "MISSING_AUTH_TOKEN"
	CodeInvalidToken       = "INVALID_AUTH_TOKEN"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeAdminRequired      = "ADMIN_REQUIRED"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingToken       = errors.New("missing authentication token")
	ErrInvalidToken       = errors.New("invalid authentication token")
	ErrTokenExpired       = errors.New("authentication token expired")
	ErrAdminRequired      = errors.New("admin role required")
	ErrEmailTaken         = errors.New("email already registered")
)

// LockedError rejects login for an account until Until, regardless of
// whether the presented password is correct.
type LockedError struct {
	Until time.Time
}

func (e LockedError) Error() string {
	return "account temporarily locked"
}

// RateLimitedError rejects an authentication attempt before credentials are
// examined. The response is identical whether or not the account exists.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return "too many authentication attempts"
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
