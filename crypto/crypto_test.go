package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServerKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := EncodePublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return priv, pub
}

func TestEncryptPasswordRoundTrip(t *testing.T) {
	priv, pub := newServerKey(t)
	now := time.Unix(1_700_000_123, 0)
	password := []byte("hunter2 ✓ with unicode")

	enc, err := EncryptPassword(password, pub, 217, now)
	require.NoError(t, err)
	assert.Equal(t, "1700000123", enc.Timestamp)
	assert.Equal(t, PasswordVersionEncrypted, enc.Version)
	assert.True(t, enc.Encrypted())
	assert.Equal(t, "#PWD_INSTAGRAM:4:1700000123:"+enc.Payload, enc.Format())

	got, err := DecryptPassword(enc.Payload, enc.Timestamp, priv)
	require.NoError(t, err)
	assert.Equal(t, password, got)
}

func TestEnvelopeLayout(t *testing.T) {
	priv, pub := newServerKey(t)
	password := []byte("s3cret")

	enc, err := EncryptPassword(password, pub, 57, time.Now())
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(enc.Payload)
	require.NoError(t, err)

	rsaLen := priv.PublicKey.Size()
	assert.Equal(t, byte(1), raw[0], "version")
	assert.Equal(t, byte(57), raw[1], "key id")
	assert.Equal(t, uint16(rsaLen), binary.LittleEndian.Uint16(raw[14:16]), "little endian rsa length after 12 byte iv")
	assert.Len(t, raw, 2+12+2+rsaLen+16+len(password))

	env, err := ParseEnvelope(enc.Payload)
	require.NoError(t, err)
	assert.Len(t, env.IV, 12)
	assert.Len(t, env.Tag, 16)
	assert.Len(t, env.Ciphertext, len(password))
	assert.Len(t, env.WrappedKey, rsaLen)
}

func TestDecryptPasswordRejectsWrongTimestamp(t *testing.T) {
	priv, pub := newServerKey(t)
	now := time.Unix(1_700_000_000, 0)
	enc, err := EncryptPassword([]byte("pw"), pub, 1, now)
	require.NoError(t, err)

	_, err = DecryptPassword(enc.Payload, strconv.FormatInt(now.Unix()+1, 10), priv)
	require.Error(t, err)
}

func TestEncryptPasswordPlaintextFallback(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	enc, err := EncryptPassword([]byte("pw"), "", 0, now)
	require.NoError(t, err)
	assert.False(t, enc.Encrypted())
	assert.Equal(t, "pw", enc.Payload)
	assert.Equal(t, "#PWD_INSTAGRAM:0:1700000000:pw", enc.Format())
}

func TestParsePublicKey(t *testing.T) {
	priv, pub := newServerKey(t)

	parsed, err := ParsePublicKey(pub)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(&priv.PublicKey))

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey)})
	parsed, err = ParsePublicKey(string(pkcs1))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(&priv.PublicKey))

	_, err = ParsePublicKey("%%%")
	require.ErrorIs(t, err, ErrInvalidPEM)
	_, err = ParsePublicKey(base64.StdEncoding.EncodeToString([]byte("no pem here")))
	require.ErrorIs(t, err, ErrInvalidPEM)
}

func TestParseEnvelopeRejectsTruncated(t *testing.T) {
	_, err := ParseEnvelope(base64.StdEncoding.EncodeToString([]byte{1, 2, 3}))
	require.ErrorIs(t, err, ErrInvalidEnvelope)

	bad := make([]byte, 40)
	bad[0] = 9
	_, err = ParseEnvelope(base64.StdEncoding.EncodeToString(bad))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestSignHMAC(t *testing.T) {
	// RFC 4231 test case 2.
	got := SignHMAC([]byte("Jefe"), []byte("what do ya want for nothing?"))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", got)
	assert.True(t, VerifyHMAC([]byte("Jefe"), []byte("what do ya want for nothing?"), got))
	assert.False(t, VerifyHMAC([]byte("Jefe"), []byte("tampered"), got))
}

func TestJazoest(t *testing.T) {
	assert.Equal(t, "2294", Jazoest("abc"))
	assert.Equal(t, "20", Jazoest(""))
	assert.True(t, strings.HasPrefix(Jazoest("9a1b2c3d-0000-4000-8000-000000000000"), "2"))
}

func TestSealSnapshot(t *testing.T) {
	data := []byte(`{"deviceId":"android-0123456789abcdef"}`)

	sealed, err := SealSnapshot(data, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, byte(1), sealed[0])

	opened, err := OpenSnapshot(sealed, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, data, opened)

	_, err = OpenSnapshot(sealed, "wrong horse")
	require.ErrorIs(t, err, ErrWrongPassphrase)

	_, err = SealSnapshot(data, "")
	require.Error(t, err)
}
