package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateEmail indicates a registration with an already used address.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrTwoFactorRequired signals that login must continue with a TOTP code.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrInvalidTwoFactorCode indicates a rejected TOTP code.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	// ErrSessionInvalid indicates a missing, superseded or expired session.
	ErrSessionInvalid = errors.New("session invalid")
)
