package crypto

import "errors"

var (
	// ErrInvalidPEM is returned when a server public key cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")
	// ErrInvalidEnvelope is returned when a password envelope is malformed.
	ErrInvalidEnvelope = errors.New("invalid password envelope")
	// ErrUnsupportedVersion is returned for envelopes or sealed blobs of an unknown version.
	ErrUnsupportedVersion = errors.New("unsupported version")
	// ErrWrongPassphrase is returned when a sealed blob fails authentication.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted data")
)
