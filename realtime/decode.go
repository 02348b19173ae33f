package realtime

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
)

// maxInflatedSize bounds decompression of a single frame.
const maxInflatedSize = 8 << 20

// decodeFrame inflates payload when it is zlib compressed and parses it as
// JSON when possible. Decoded is nil for non-JSON payloads.
func decodeFrame(payload []byte) (inflated []byte, decoded any) {
	inflated = payload
	if looksZlib(payload) {
		if out, err := inflate(payload); err == nil {
			inflated = out
		}
	}
	if len(inflated) == 0 {
		return inflated, nil
	}
	var v any
	if err := json.Unmarshal(inflated, &v); err == nil {
		decoded = v
	}
	return inflated, decoded
}

// looksZlib checks the two-byte zlib header: CMF 0x78 and a valid FCHECK.
func looksZlib(b []byte) bool {
	if len(b) < 2 || b[0] != 0x78 {
		return false
	}
	return (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

func inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, maxInflatedSize))
}

// frameTopic returns the topic carried inside a decoded JSON frame, used
// when the socket itself has no topic framing.
func frameTopic(decoded any) string {
	m, ok := decoded.(map[string]any)
	if !ok {
		return ""
	}
	if t, ok := m["topic"].(string); ok {
		return t
	}
	return ""
}
