package models

import (
	"errors"
	"fmt"
	"time"
)

// Error variables shared across components. The engine handles validation
// and token errors internally by re-prompting; integrity and transient
// errors escalate to the auth service, which maps them to user-safe text.
var (
	// ErrValidation marks malformed input (username syntax, short password).
	// Always recoverable: the stage does not advance and the user is
	// re-prompted.
	ErrValidation = errors.New("validation failed")

	// ErrNotRegistered marks a flow precondition failure: the user has no
	// completed registration.
	ErrNotRegistered = errors.New("user not registered")

	// ErrAlreadyRegistered is returned when registration is requested for a
	// user who already completed it.
	ErrAlreadyRegistered = errors.New("user already registered")

	// ErrNotAuthenticated marks an operation that requires a completed
	// login, requested while logged out.
	ErrNotAuthenticated = errors.New("user not authenticated")

	// ErrTokenInvalid marks a wrong, expired, or already consumed reset
	// token. Recoverable by re-prompting until the token expires.
	ErrTokenInvalid = errors.New("invalid or expired reset token")

	// ErrIntegrity marks a vault decryption failure: the ciphertext was
	// tampered with or the key is wrong. Fatal for that credential record.
	ErrIntegrity = errors.New("credential integrity check failed")

	// ErrTransient marks a collaborator I/O failure or timeout. The inbound
	// message is treated as not consumed; the same input may be retried.
	ErrTransient = errors.New("transient failure")
)

// BlockedError reports that login is blocked for a user until the given
// time. It is terminal for the current attempt.
type BlockedError struct {
	UserID string
	Until  time.Time
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("login blocked for user %s until %s", e.UserID, e.Until.Format(time.RFC3339))
}

// Remaining returns the cool-down left at the given time, never negative.
func (e *BlockedError) Remaining(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
