package storage

import (
	"fmt"

	"github.com/jmcleod/ironwire/internal/util"
)

const (
	envelopeVer    = 1
	envelopeScheme = "aes256gcm"
)

// Envelope is a sealed record containing AES-256-GCM encrypted data.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Version    uint64 `json:"version,omitempty"`
}

// SealRecord encrypts plaintext into an Envelope at the given version.
func SealRecord(recordKey, plaintext, aad []byte, version uint64) (*Envelope, error) {
	sealed, err := util.EncryptAESWithAAD(plaintext, recordKey, aad)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Ver:        envelopeVer,
		Scheme:     envelopeScheme,
		Nonce:      sealed[:util.GCMNonceSize],
		Ciphertext: sealed[util.GCMNonceSize:],
		Version:    version,
	}, nil
}

// OpenRecord decrypts an Envelope using the given record key and AAD.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope == nil {
		return nil, fmt.Errorf("nil envelope: %w", ErrUnsupportedEnvelope)
	}
	if envelope.Ver != envelopeVer {
		return nil, fmt.Errorf("envelope version %d: %w", envelope.Ver, ErrUnsupportedEnvelope)
	}
	if envelope.Scheme != envelopeScheme {
		return nil, fmt.Errorf("envelope scheme %q: %w", envelope.Scheme, ErrUnsupportedEnvelope)
	}
	return util.OpenAESWithNonce(envelope.Ciphertext, recordKey, envelope.Nonce, aad)
}
