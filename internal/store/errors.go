package store

import "errors"

// Error variables shared by all store backends.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrResetTokenNotFound = errors.New("reset token not found")
)
