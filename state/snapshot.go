package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is the JSON-compatible persisted form of a State. Restoring a
// snapshot never contacts the server.
type Snapshot struct {
	Constants               Constants       `json:"constants"`
	Cookies                 []StoredCookie  `json:"cookies"`
	DeviceString            string          `json:"deviceString"`
	DeviceID                string          `json:"deviceId"`
	UUID                    string          `json:"uuid"`
	PhoneID                 string          `json:"phoneId"`
	AdID                    string          `json:"adid"`
	Build                   string          `json:"build"`
	Authorization           string          `json:"authorization,omitempty"`
	IGWWWClaim              string          `json:"igWWWClaim,omitempty"`
	PasswordEncryptionKeyID int             `json:"passwordEncryptionKeyId,omitempty"`
	PasswordEncryptionPub   string          `json:"passwordEncryptionPubKey,omitempty"`
	Locale                  Locale          `json:"locale"`
	ProxyURL                string          `json:"proxyUrl,omitempty"`
	Checkpoint              json.RawMessage `json:"checkpoint,omitempty"`
	Challenge               json.RawMessage `json:"challenge,omitempty"`
	ClientSessionIDLifetime int64           `json:"clientSessionIdLifetime"`
	PigeonSessionIDLifetime int64           `json:"pigeonSessionIdLifetime"`
}

// Snapshot captures the current state.
func (s *State) Snapshot() Snapshot {
	cookies := s.jar.Export()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Constants:               s.constants,
		Cookies:                 cookies,
		DeviceString:            s.device.DeviceString,
		DeviceID:                s.device.DeviceID,
		UUID:                    s.device.UUID,
		PhoneID:                 s.device.PhoneID,
		AdID:                    s.device.AdID,
		Build:                   s.device.Build,
		Authorization:           s.authorization,
		IGWWWClaim:              s.claim,
		PasswordEncryptionKeyID: s.keyID,
		PasswordEncryptionPub:   s.pubKey,
		Locale:                  s.locale,
		ProxyURL:                s.proxyURL,
		Checkpoint:              append(json.RawMessage(nil), s.checkpoint...),
		Challenge:               append(json.RawMessage(nil), s.challenge...),
		ClientSessionIDLifetime: s.clientSessionLifetime.Milliseconds(),
		PigeonSessionIDLifetime: s.pigeonSessionLifetime.Milliseconds(),
	}
}

// Restore replaces the state with snap, rebuilding the cookie jar and the
// parsed authorization cache. A host set with BindHost survives.
func (s *State) Restore(snap Snapshot) {
	s.jar.Import(snap.Cookies)

	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Constants != (Constants{}) {
		host := s.constants.Host
		s.constants = snap.Constants
		if s.hostBound {
			s.constants.Host = host
		}
	}
	s.device = Device{
		DeviceID:     snap.DeviceID,
		UUID:         snap.UUID,
		PhoneID:      snap.PhoneID,
		AdID:         snap.AdID,
		DeviceString: snap.DeviceString,
		Build:        snap.Build,
	}
	if snap.Locale != (Locale{}) {
		s.locale = snap.Locale
	}
	s.authorization = snap.Authorization
	s.parsedAuth = nil
	s.parsedValid = false
	s.claim = snap.IGWWWClaim
	s.keyID = snap.PasswordEncryptionKeyID
	s.pubKey = snap.PasswordEncryptionPub
	s.proxyURL = snap.ProxyURL
	s.checkpoint = append(json.RawMessage(nil), snap.Checkpoint...)
	s.challenge = append(json.RawMessage(nil), snap.Challenge...)
	if snap.ClientSessionIDLifetime > 0 {
		s.clientSessionLifetime = time.Duration(snap.ClientSessionIDLifetime) * time.Millisecond
	}
	if snap.PigeonSessionIDLifetime > 0 {
		s.pigeonSessionLifetime = time.Duration(snap.PigeonSessionIDLifetime) * time.Millisecond
	}
	if s.authorization != "" {
		s.updateAuthorizationLocked()
	}
}

// Serialize encodes the state as JSON.
func (s *State) Serialize() ([]byte, error) {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Deserialize restores the state from JSON produced by Serialize.
func (s *State) Deserialize(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if snap.DeviceID == "" {
		return fmt.Errorf("%w: missing device id", ErrInvalidSnapshot)
	}
	s.Restore(snap)
	return nil
}

// FromSnapshot builds a new State from serialized data.
func FromSnapshot(data []byte, opts ...Option) (*State, error) {
	s := New(opts...)
	if err := s.Deserialize(data); err != nil {
		return nil, err
	}
	return s, nil
}
