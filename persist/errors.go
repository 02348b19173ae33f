package persist

import "errors"

var (
	// ErrConflict is returned by Save when the stored snapshot moved past
	// the revision this Store last loaded or saved.
	ErrConflict = errors.New("session snapshot changed since it was loaded")
	// ErrWrongPassphrase is returned when a passphrase does not match the
	// store's verifier.
	ErrWrongPassphrase = errors.New("wrong passphrase for session store")
	// ErrInvalidSessionID is returned for empty or oversized session ids.
	ErrInvalidSessionID = errors.New("invalid session id")
)
