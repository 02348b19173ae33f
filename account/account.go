// Package account drives the login flow: encryption key sync, password
// submission with a single key-refresh retry, two-factor completion, logout
// and the current-user probe.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironwire/crypto"
	"github.com/jmcleod/ironwire/state"
	"github.com/jmcleod/ironwire/transport"
)

const (
	pathQESync          = "/api/v1/qe/sync/"
	pathLogin           = "/api/v1/accounts/login/"
	pathTwoFactor       = "/api/v1/accounts/two_factor_login/"
	pathLogout          = "/api/v1/accounts/logout/"
	pathCurrentUser     = "/api/v1/accounts/current_user/"
	defaultCountryCodes = `[{"country_code":"1","source":"default"}]`
)

// maxLoginAttempts allows exactly one refresh-and-retry when the server
// rejects the password encryption key.
const maxLoginAttempts = 2

// ErrNoEncryptionKey is returned when a key sync completes without the server
// issuing a password encryption key.
var ErrNoEncryptionKey = errors.New("server did not issue a password encryption key")

// LoggedInUser is the account returned by a successful login.
type LoggedInUser struct {
	PK            json.Number `json:"pk"`
	Username      string      `json:"username"`
	FullName      string      `json:"full_name"`
	IsPrivate     bool        `json:"is_private"`
	IsVerified    bool        `json:"is_verified"`
	ProfilePicURL string      `json:"profile_pic_url"`
}

// CurrentUser is the profile returned by the current-user endpoint.
type CurrentUser struct {
	LoggedInUser
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Biography   string `json:"biography"`
	ExternalURL string `json:"external_url"`
}

// VerificationMethod selects how a two-factor code was delivered.
type VerificationMethod string

const (
	VerificationSMS  VerificationMethod = "1"
	VerificationTOTP VerificationMethod = "3"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service performs account operations over a transport client.
type Service struct {
	client *transport.Client
	signer *transport.Signer
	st     *state.State
	logger *slog.Logger
}

// New returns a Service sending through client.
func New(client *transport.Client, opts ...Option) *Service {
	s := &Service{
		client: client,
		signer: client.Signer(),
		st:     client.State(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "account")
	return s
}

type qeSyncResponse struct {
	Encryption struct {
		KeyID     json.RawMessage `json:"key_id"`
		PublicKey string          `json:"public_key"`
	} `json:"encryption"`
}

// SyncEncryptionKeys runs the login experiment sync, which is where the
// server hands out the password encryption key. Keys may arrive in the body
// or in response headers; headers are already folded into the state by the
// transport.
func (s *Service) SyncEncryptionKeys(ctx context.Context) error {
	device := s.st.Device()
	signed, err := s.signer.Sign(map[string]string{
		"_csrftoken":              s.st.CSRFTokenOrMissing(),
		"id":                      device.UUID,
		"server_config_retrieval": "1",
		"experiments":             s.st.Constants().LoginExperiments,
	})
	if err != nil {
		return err
	}
	resp, err := s.client.Send(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    pathQESync,
		Form:    signed.Form(),
		Headers: http.Header{"X-Device-Id": {device.UUID}},
	})
	if err != nil {
		return fmt.Errorf("syncing encryption keys: %w", err)
	}

	var body qeSyncResponse
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.Encryption.PublicKey != "" {
		if id, ok := parseKeyID(body.Encryption.KeyID); ok {
			s.st.SetEncryptionKey(id, body.Encryption.PublicKey)
		}
	}
	if _, pub := s.st.EncryptionKey(); pub == "" {
		return ErrNoEncryptionKey
	}
	s.logger.Debug("encryption key synced")
	return nil
}

// parseKeyID accepts the key id as either a JSON number or a string.
func parseKeyID(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}

type loginResponse struct {
	LoggedInUser LoggedInUser `json:"logged_in_user"`
}

// Login authenticates username with password. The password is moved into a
// memguard enclave between attempts and the caller's slice is wiped. When
// the server rejects the encryption key, keys are refreshed and the login is
// retried exactly once.
func (s *Service) Login(ctx context.Context, username string, password []byte) (*LoggedInUser, error) {
	enclave := memguard.NewEnclave(password)
	if enclave == nil {
		return nil, errors.New("password must not be empty")
	}

	if _, pub := s.st.EncryptionKey(); pub == "" {
		if err := s.SyncEncryptionKeys(ctx); err != nil && !errors.Is(err, ErrNoEncryptionKey) {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxLoginAttempts; attempt++ {
		user, err := s.loginOnce(ctx, username, enclave)
		if err == nil {
			s.logger.Info("login succeeded", "username", username, "attempt", attempt)
			return user, nil
		}
		lastErr = err
		if !errors.Is(err, transport.ErrEncryptionKeyInvalid) || attempt == maxLoginAttempts {
			break
		}
		s.logger.Warn("encryption key rejected, refreshing", "attempt", attempt)
		if err := s.SyncEncryptionKeys(ctx); err != nil {
			return nil, err
		}
	}
	s.logger.Warn("login failed", "username", username, "error", lastErr)
	return nil, lastErr
}

func (s *Service) loginOnce(ctx context.Context, username string, enclave *memguard.Enclave) (*LoggedInUser, error) {
	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening password enclave: %w", err)
	}
	keyID, pubKey := s.st.EncryptionKey()
	enc, err := crypto.EncryptPassword(buf.Bytes(), pubKey, keyID, s.st.Now())
	buf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("encrypting password: %w", err)
	}

	device := s.st.Device()
	signed, err := s.signer.Sign(map[string]string{
		"username":            username,
		"enc_password":        enc.Format(),
		"guid":                device.UUID,
		"phone_id":            device.PhoneID,
		"_csrftoken":          s.st.CSRFTokenOrMissing(),
		"device_id":           device.DeviceID,
		"adid":                device.AdID,
		"google_tokens":       "[]",
		"login_attempt_count": "0",
		"country_codes":       defaultCountryCodes,
		"jazoest":             crypto.Jazoest(device.PhoneID),
	})
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   pathLogin,
		Form:   signed.Form(),
	})
	if err != nil {
		return nil, err
	}
	var body loginResponse
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	return &body.LoggedInUser, nil
}

// TwoFactorLogin completes a login that failed with a
// *transport.TwoFactorRequiredError.
func (s *Service) TwoFactorLogin(ctx context.Context, username, code, identifier string, method VerificationMethod) (*LoggedInUser, error) {
	if method == "" {
		method = VerificationSMS
	}
	device := s.st.Device()
	signed, err := s.signer.Sign(map[string]string{
		"verification_code":     code,
		"two_factor_identifier": identifier,
		"username":              username,
		"device_id":             device.DeviceID,
		"guid":                  device.UUID,
		"_csrftoken":            s.st.CSRFTokenOrMissing(),
		"trust_this_device":     "1",
		"verification_method":   string(method),
	})
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   pathTwoFactor,
		Form:   signed.Form(),
	})
	if err != nil {
		return nil, err
	}
	var body loginResponse
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	s.logger.Info("two factor login succeeded", "username", username)
	return &body.LoggedInUser, nil
}

// Logout ends the server session. Local cookies are left to the caller.
func (s *Service) Logout(ctx context.Context) error {
	signed, err := s.signer.Sign(map[string]string{
		"_csrftoken": s.st.CSRFTokenOrMissing(),
		"_uuid":      s.st.Device().UUID,
	})
	if err != nil {
		return err
	}
	_, err = s.client.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   pathLogout,
		Form:   signed.Form(),
	})
	if err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

type currentUserResponse struct {
	User CurrentUser `json:"user"`
}

// CurrentUser fetches the logged-in profile. It always bypasses the response
// cache since it doubles as a session liveness probe.
func (s *Service) CurrentUser(ctx context.Context) (*CurrentUser, error) {
	resp, err := s.client.Send(ctx, transport.Request{
		Path:    pathCurrentUser,
		Query:   url.Values{"edit": {"true"}},
		NoCache: true,
	})
	if err != nil {
		return nil, err
	}
	var body currentUserResponse
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	return &body.User, nil
}
