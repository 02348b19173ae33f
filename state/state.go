// Package state holds everything one logical session needs to talk to the
// upstream API: the synthetic device identity, the cookie jar, rotating tokens,
// the password encryption key and any pending checkpoint.
//
// A State is safe for concurrent use. Exactly one State should back one
// logical session; concurrent sessions need independent instances.
package state

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Response headers through which the server rotates session material.
const (
	HeaderSetClaim         = "X-Ig-Set-Www-Claim"
	HeaderSetAuthorization = "Ig-Set-Authorization"
	HeaderSetKeyID         = "Ig-Set-Password-Encryption-Key-Id"
	HeaderSetPubKey        = "Ig-Set-Password-Encryption-Pub-Key"
)

// Locale carries the locale and connection attributes reported in headers.
type Locale struct {
	Language             string `json:"language"`
	TimezoneOffset       int    `json:"timezoneOffset"`
	RadioType            string `json:"radioType"`
	CapabilitiesHeader   string `json:"capabilitiesHeader"`
	ConnectionTypeHeader string `json:"connectionTypeHeader"`
	IsLayoutRTL          bool   `json:"isLayoutRTL"`
	AdsOptOut            bool   `json:"adsOptOut"`
	ThumbnailCacheBust   int    `json:"thumbnailCacheBustingValue"`
}

// DefaultLocale returns the locale of a US English handset on WiFi.
func DefaultLocale() Locale {
	return Locale{
		Language:             DefaultLanguage,
		RadioType:            DefaultRadioType,
		CapabilitiesHeader:   DefaultCapabilities,
		ConnectionTypeHeader: DefaultConnectionType,
		ThumbnailCacheBust:   DefaultThumbnailBusting,
	}
}

// State is the mutable session context.
type State struct {
	mu sync.RWMutex

	constants Constants
	device    Device
	locale    Locale
	jar       *Jar

	authorization string
	parsedAuth    *ParsedAuthorization
	parsedTag     string
	parsedValid   bool
	claim         string
	keyID         int
	pubKey        string
	checkpoint    json.RawMessage
	challenge     json.RawMessage
	proxyURL      string
	hostBound     bool

	clientSessionLifetime time.Duration
	pigeonSessionLifetime time.Duration

	now    func() time.Time
	logger *slog.Logger
}

// New returns a State with a device derived from DefaultSeed unless an option
// says otherwise.
func New(opts ...Option) *State {
	s := &State{
		constants:             DefaultConstants(),
		device:                GenerateDevice(DefaultSeed),
		locale:                DefaultLocale(),
		jar:                   NewJar(),
		clientSessionLifetime: DefaultGUIDLifetime,
		pigeonSessionLifetime: DefaultGUIDLifetime,
		now:                   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "state")
	return s
}

// Constants returns the client build constants.
func (s *State) Constants() Constants {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.constants
}

// Device returns the current device identity.
func (s *State) Device() Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// RegenerateDevice replaces the device identity with one derived from seed.
func (s *State) RegenerateDevice(seed string) {
	d := GenerateDevice(seed)
	s.mu.Lock()
	s.device = d
	s.mu.Unlock()
	s.logger.Debug("device regenerated", "device_id", d.DeviceID)
}

// Locale returns the locale and connection attributes.
func (s *State) Locale() Locale {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locale
}

// Jar returns the session cookie jar.
func (s *State) Jar() *Jar {
	return s.jar
}

// ProxyURL returns the configured proxy, if any.
func (s *State) ProxyURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proxyURL
}

// Now returns the session clock reading.
func (s *State) Now() time.Time {
	return s.now()
}

// UserAgent renders the mobile client user agent.
func (s *State) UserAgent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return "Instagram " + s.constants.AppVersion + " Android (" + s.device.DeviceString + "; " +
		s.locale.Language + "; " + s.constants.AppVersionCode + ")"
}

// Claim returns the current claim token, or "0" before the server issued one.
func (s *State) Claim() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.claim == "" {
		return "0"
	}
	return s.claim
}

// EncryptionKey returns the password encryption key id and base64 public key.
func (s *State) EncryptionKey() (int, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyID, s.pubKey
}

// SetEncryptionKey stores a rotated password encryption key.
func (s *State) SetEncryptionKey(id int, pubKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyID = id
	s.pubKey = pubKey
}

// Cookie returns the named cookie visible to the API host.
func (s *State) Cookie(name string) (string, bool) {
	return s.jar.Lookup(s.host(), name)
}

// RequireCookie returns the named cookie or a *CookieNotFoundError.
func (s *State) RequireCookie(name string) (string, error) {
	v, ok := s.Cookie(name)
	if !ok || v == "" {
		return "", &CookieNotFoundError{Name: name}
	}
	return v, nil
}

// CSRFToken returns the csrftoken cookie.
func (s *State) CSRFToken() (string, bool) {
	v, ok := s.Cookie(CookieCSRFToken)
	return v, ok && v != ""
}

// CSRFTokenOrMissing returns the csrftoken cookie or MissingCSRFToken.
func (s *State) CSRFTokenOrMissing() string {
	if v, ok := s.CSRFToken(); ok {
		return v
	}
	return MissingCSRFToken
}

// UserID resolves the logged-in user id from the ds_user_id cookie, falling
// back to the bearer token payload.
func (s *State) UserID() (string, error) {
	if v, ok := s.Cookie(CookieUserID); ok && v != "" {
		return v, nil
	}
	if p, ok := s.ParsedAuthorization(); ok && p.UserID != "" {
		return p.UserID, nil
	}
	return "", ErrUserIDNotFound
}

// Username returns the ds_user cookie.
func (s *State) Username() (string, error) {
	return s.RequireCookie(CookieUsername)
}

// HasValidSession reports whether user id, username, CSRF token and session
// cookie are all present. It never contacts the server.
func (s *State) HasValidSession() bool {
	if _, err := s.UserID(); err != nil {
		return false
	}
	if _, err := s.Username(); err != nil {
		return false
	}
	if _, ok := s.CSRFToken(); !ok {
		return false
	}
	_, err := s.RequireCookie(CookieSessionID)
	return err == nil
}

// Checkpoint returns the pending checkpoint payload.
func (s *State) Checkpoint() (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.checkpoint) == 0 {
		return nil, ErrNoCheckpoint
	}
	return append(json.RawMessage(nil), s.checkpoint...), nil
}

// SetCheckpoint records a checkpoint payload signalled by the server.
func (s *State) SetCheckpoint(payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = append(json.RawMessage(nil), payload...)
}

// SetChallenge records the challenge state of an in-progress checkpoint.
func (s *State) SetChallenge(payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenge = append(json.RawMessage(nil), payload...)
}

// ClearCheckpoint drops any pending checkpoint and challenge.
func (s *State) ClearCheckpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = nil
	s.challenge = nil
}

// ClearCookies empties the cookie jar.
func (s *State) ClearCookies() {
	s.jar.Clear()
	s.logger.Debug("cookies cleared")
}

// ApplyResponse folds the session material carried by a response into the
// state: Set-Cookie entries, the claim token, the bearer token and the
// password encryption key. The whole update happens in one critical section.
func (s *State) ApplyResponse(u *url.URL, h http.Header) {
	if h == nil {
		return
	}
	cookies := (&http.Response{Header: h}).Cookies()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(cookies) > 0 && u != nil {
		s.jar.SetCookies(u, cookies)
	}
	if v := strings.TrimSpace(h.Get(HeaderSetClaim)); v != "" {
		s.claim = v
	}
	if v := h.Get(HeaderSetAuthorization); !isPlaceholderAuthorization(v) {
		s.authorization = v
		s.updateAuthorizationLocked()
	}
	if v := strings.TrimSpace(h.Get(HeaderSetKeyID)); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			s.keyID = id
		} else {
			s.logger.Warn("ignoring malformed encryption key id", "value", v)
		}
	}
	if v := strings.TrimSpace(h.Get(HeaderSetPubKey)); v != "" {
		s.pubKey = v
	}
}

// BindHost makes host the API host for cookie lookups and keeps it across
// Restore. The HTTP transport binds the host of its base URL so cookies set by
// responses are visible to the session queries.
func (s *State) BindHost(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return
	}
	s.mu.Lock()
	prev := s.constants.Host
	s.constants.Host = host
	s.hostBound = true
	s.mu.Unlock()
	if prev != host {
		s.logger.Debug("api host bound", "host", host, "previous", prev)
	}
}

func (s *State) host() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.constants.Host
}
