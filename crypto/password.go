package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/jmcleod/ironwire/internal/util"
)

const (
	envelopeVersion = 1

	// PasswordVersionEncrypted marks an RSA/AES-GCM envelope.
	PasswordVersionEncrypted = 4
	// PasswordVersionPlain marks the plaintext fallback used before the
	// server has published a key.
	PasswordVersionPlain = 0
)

// EncryptedPassword is the credential submitted in the enc_password field.
// Timestamp is the exact AAD used for the envelope and must be sent with it.
type EncryptedPassword struct {
	Timestamp string
	Payload   string
	Version   int
}

// Format renders the enc_password form value.
func (p EncryptedPassword) Format() string {
	return "#PWD_INSTAGRAM:" + strconv.Itoa(p.Version) + ":" + p.Timestamp + ":" + p.Payload
}

// Encrypted reports whether the payload is an envelope rather than plaintext.
func (p EncryptedPassword) Encrypted() bool {
	return p.Version != PasswordVersionPlain
}

// EncryptPassword wraps password for submission to the login endpoint.
//
// A random AES-256 key is RSA (PKCS#1 v1.5) encrypted with the server key and
// then used to AES-GCM seal the password with the Unix-seconds timestamp as
// AAD. The envelope is
//
//	[1][keyID][iv 12][u16-LE rsaLen][rsa][tag 16][aes ciphertext]
//
// base64 encoded. With no server key the password is returned in plaintext.
func EncryptPassword(password []byte, pubKeyB64 string, keyID int, now time.Time) (EncryptedPassword, error) {
	ts := strconv.FormatInt(now.Unix(), 10)
	if pubKeyB64 == "" {
		return EncryptedPassword{Timestamp: ts, Payload: string(password), Version: PasswordVersionPlain}, nil
	}

	pub, err := ParsePublicKey(pubKeyB64)
	if err != nil {
		return EncryptedPassword{}, err
	}

	aesKey, err := util.NewAESKey()
	if err != nil {
		return EncryptedPassword{}, err
	}
	defer util.WipeBytes(aesKey)

	iv, err := util.RandomBytes(util.GCMNonceSize)
	if err != nil {
		return EncryptedPassword{}, err
	}

	wrapped, err := rsa.EncryptPKCS1v15(rand.Reader, pub, aesKey)
	if err != nil {
		return EncryptedPassword{}, fmt.Errorf("wrapping AES key: %w", err)
	}
	if len(wrapped) > 0xFFFF {
		return EncryptedPassword{}, fmt.Errorf("wrapped key too large: %d bytes", len(wrapped))
	}

	sealed, err := util.SealAESWithNonce(password, aesKey, iv, []byte(ts))
	if err != nil {
		return EncryptedPassword{}, err
	}
	ct, tag := sealed[:len(sealed)-util.GCMTagSize], sealed[len(sealed)-util.GCMTagSize:]

	buf := make([]byte, 0, 2+len(iv)+2+len(wrapped)+len(tag)+len(ct))
	buf = append(buf, envelopeVersion, byte(keyID))
	buf = append(buf, iv...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(wrapped)))
	buf = append(buf, wrapped...)
	buf = append(buf, tag...)
	buf = append(buf, ct...)

	return EncryptedPassword{
		Timestamp: ts,
		Payload:   base64.StdEncoding.EncodeToString(buf),
		Version:   PasswordVersionEncrypted,
	}, nil
}

// Envelope is a decoded password envelope.
type Envelope struct {
	KeyID      byte
	IV         []byte
	WrappedKey []byte
	Tag        []byte
	Ciphertext []byte
}

// ParseEnvelope splits a base64 password envelope into its fields.
func ParseEnvelope(envelopeB64 string) (*Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(envelopeB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	const header = 2 + util.GCMNonceSize + 2
	if len(raw) < header {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidEnvelope, len(raw))
	}
	if raw[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: envelope version %d", ErrUnsupportedVersion, raw[0])
	}
	rsaLen := int(binary.LittleEndian.Uint16(raw[2+util.GCMNonceSize : header]))
	if len(raw) < header+rsaLen+util.GCMTagSize {
		return nil, fmt.Errorf("%w: truncated", ErrInvalidEnvelope)
	}
	rest := raw[header:]
	return &Envelope{
		KeyID:      raw[1],
		IV:         raw[2 : 2+util.GCMNonceSize],
		WrappedKey: rest[:rsaLen],
		Tag:        rest[rsaLen : rsaLen+util.GCMTagSize],
		Ciphertext: rest[rsaLen+util.GCMTagSize:],
	}, nil
}

// DecryptPassword opens an envelope with the server private key. It is the
// server-side inverse of EncryptPassword.
func DecryptPassword(envelopeB64, timestamp string, priv *rsa.PrivateKey) ([]byte, error) {
	env, err := ParseEnvelope(envelopeB64)
	if err != nil {
		return nil, err
	}
	aesKey, err := rsa.DecryptPKCS1v15(nil, priv, env.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("unwrapping AES key: %w", err)
	}
	defer util.WipeBytes(aesKey)

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)
	return util.OpenAESWithNonce(sealed, aesKey, env.IV, []byte(timestamp))
}
