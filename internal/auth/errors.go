package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("auth: not found")
	ErrAlreadyExists  = errors.New("auth: already exists")
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrConflict       = errors.New("auth: conflicting update")
	ErrNotImplemented = errors.New("auth: not implemented")

	// ErrAuthenticationFailed is deliberately generic: callers must not be
	// able to distinguish an unknown account from a wrong password.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")

	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrTokenTheft         = errors.New("auth: refresh token reuse detected")
	ErrAccountDeactivated = errors.New("auth: account deactivated")

	ErrRateLimited         = errors.New("auth: rate limit exceeded")
	ErrVerificationExpired = errors.New("auth: verification expired")
	ErrAttemptsExceeded    = errors.New("auth: verification attempts exceeded")
	ErrCodeMismatch        = errors.New("auth: verification code mismatch")
	ErrDeliveryFailed      = errors.New("auth: verification delivery failed")
)

// CodeMismatchError reports a failed code comparison along with the number
// of attempts the caller still has before the record locks out.
type CodeMismatchError struct {
	Remaining int
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("auth: verification code mismatch (%d attempts remaining)", e.Remaining)
}

func (e *CodeMismatchError) Unwrap() error { return ErrCodeMismatch }
