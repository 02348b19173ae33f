package icrypto

import (
	"encoding/binary"
)

const (
	aadSnapshot  = "SNAPSHOT"
	aadKDFVerify = "KDFVERIFY"
)

// AADSnapshot binds a sealed session snapshot to its session id and revision
// so envelopes cannot be swapped between sessions or replayed at another revision.
func AADSnapshot(sessionID string, revision uint64, ver int) []byte {
	return buildAAD(aadSnapshot, sessionID, revision, ver)
}

// AADKDFVerify binds the passphrase verifier record to the store namespace.
func AADKDFVerify(namespace string, ver int) []byte {
	return buildAAD(aadKDFVerify, namespace, ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			res = binary.BigEndian.AppendUint64(res, v)
		case int:
			res = binary.BigEndian.AppendUint32(res, uint32(v))
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}
