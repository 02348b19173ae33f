package state

import (
	"errors"
	"fmt"
)

var (
	// ErrUserIDNotFound is returned when neither the ds_user_id cookie nor the
	// bearer token identify the logged-in user.
	ErrUserIDNotFound = errors.New("user id not found in session")
	// ErrNoCheckpoint is returned when a checkpoint is requested but none is pending.
	ErrNoCheckpoint = errors.New("no checkpoint pending")
	// ErrInvalidSnapshot is returned when a snapshot cannot be decoded.
	ErrInvalidSnapshot = errors.New("invalid session snapshot")
)

// CookieNotFoundError reports a required cookie that is absent from the jar.
type CookieNotFoundError struct {
	Name string
}

func (e *CookieNotFoundError) Error() string {
	return fmt.Sprintf("required cookie %q not found", e.Name)
}
