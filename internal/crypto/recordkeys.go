package icrypto

import "github.com/jmcleod/ironwire/internal/util"

const (
	snapshotKeyInfo = "ironwire:snapshot-key:v1"
	verifierKeyInfo = "ironwire:kdf-verifier:v1"
)

// DeriveSnapshotKey derives a session-specific snapshot encryption key from
// the store master key.
func DeriveSnapshotKey(master []byte, sessionID string) ([]byte, error) {
	return util.HKDF(master, []byte(sessionID), snapshotKeyInfo)
}

// DeriveVerifierKey derives the key used to seal the passphrase verifier.
func DeriveVerifierKey(master []byte, namespace string) ([]byte, error) {
	return util.HKDF(master, []byte(namespace), verifierKeyInfo)
}
