package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
	// ErrRollbackDetected is returned when a stored revision is older than
	// one previously observed.
	ErrRollbackDetected = errors.New("rollback detected: stored revision is older than last seen")
	// ErrUnsupportedEnvelope is returned for envelopes this build cannot open.
	ErrUnsupportedEnvelope = errors.New("unsupported envelope")
)
