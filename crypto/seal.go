package crypto

import (
	"errors"
	"fmt"

	"github.com/jmcleod/ironwire/internal/util"
)

const (
	sealVersion = 1
	sealSaltLen = 16
)

// sealAAD binds sealed blobs to their purpose.
var sealAAD = []byte("ironwire:sealed-session:v1")

// sealKDFParams is the cost profile for passphrase-sealed session exports.
var sealKDFParams = func() util.Argon2idParams {
	p, err := util.Argon2idProfile(util.KDFProfileModerate)
	if err != nil {
		panic(err)
	}
	return p
}()

// SealSnapshot encrypts a serialized session under a key derived from
// passphrase with Argon2id. The output is version || salt || nonce ||
// ciphertext || tag.
func SealSnapshot(data []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	salt, err := util.RandomBytes(sealSaltLen)
	if err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	key, err := util.DeriveArgon2idKey([]byte(util.Normalize(passphrase)), salt, sealKDFParams)
	if err != nil {
		return nil, fmt.Errorf("deriving seal key: %w", err)
	}
	defer util.WipeBytes(key)

	ciphertext, err := util.EncryptAESWithAAD(data, key, sealAAD)
	if err != nil {
		return nil, fmt.Errorf("sealing data: %w", err)
	}

	out := make([]byte, 0, 1+sealSaltLen+len(ciphertext))
	out = append(out, byte(sealVersion))
	out = append(out, salt...)
	out = append(out, ciphertext...)
	return out, nil
}

// OpenSnapshot reverses SealSnapshot.
func OpenSnapshot(sealed []byte, passphrase string) ([]byte, error) {
	if len(sealed) < 1+sealSaltLen {
		return nil, fmt.Errorf("sealed data too short")
	}
	if sealed[0] != sealVersion {
		return nil, fmt.Errorf("%w: sealed version %d", ErrUnsupportedVersion, sealed[0])
	}
	salt := sealed[1 : 1+sealSaltLen]
	key, err := util.DeriveArgon2idKey([]byte(util.Normalize(passphrase)), salt, sealKDFParams)
	if err != nil {
		return nil, fmt.Errorf("deriving seal key: %w", err)
	}
	defer util.WipeBytes(key)

	data, err := util.DecryptAESWithAAD(sealed[1+sealSaltLen:], key, sealAAD)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return data, nil
}
