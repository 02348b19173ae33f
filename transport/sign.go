package transport

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/jmcleod/ironwire/crypto"
	"github.com/jmcleod/ironwire/state"
)

// SignedBody is a payload signed with the client signature key.
type SignedBody struct {
	KeyVersion string
	Body       string
}

// Form returns the signed body as form fields.
func (b SignedBody) Form() url.Values {
	return url.Values{
		"ig_sig_key_version": {b.KeyVersion},
		"signed_body":        {b.Body},
	}
}

// Signer signs request payloads with the session's signature key.
type Signer struct {
	st *state.State
}

// NewSigner returns a Signer reading its key from st.
func NewSigner(st *state.State) *Signer {
	return &Signer{st: st}
}

// Sign serializes payload to JSON and prefixes it with its hex HMAC-SHA256.
// Strings and byte slices are signed as-is.
func (s *Signer) Sign(payload any) (SignedBody, error) {
	var data []byte
	switch p := payload.(type) {
	case string:
		data = []byte(p)
	case []byte:
		data = p
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return SignedBody{}, fmt.Errorf("encoding signed payload: %w", err)
		}
	}
	consts := s.st.Constants()
	return SignedBody{
		KeyVersion: consts.SignatureVersion,
		Body:       crypto.SignHMAC([]byte(consts.SignatureKey), data) + "." + string(data),
	}, nil
}
