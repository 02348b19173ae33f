package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error kinds. Every *ResponseError unwraps to exactly one of these, so
// callers can branch with errors.Is.
var (
	ErrTransientNetwork     = errors.New("transient network error")
	ErrLoginRequired        = errors.New("login required")
	ErrBadPassword          = errors.New("bad password")
	ErrInvalidUser          = errors.New("invalid user")
	ErrTwoFactorRequired    = errors.New("two factor authentication required")
	ErrCheckpoint           = errors.New("checkpoint challenge required")
	ErrActionSpam           = errors.New("action blocked as spam")
	ErrSentryBlock          = errors.New("request blocked by sentry")
	ErrInactiveUser         = errors.New("user account is inactive")
	ErrNotFound             = errors.New("requested resource not found")
	ErrPrivateUser          = errors.New("user account is private")
	ErrSessionExpired       = errors.New("user has logged out")
	ErrEncryptionKeyInvalid = errors.New("password encryption key invalid")
	ErrResponse             = errors.New("request failed")
)

// ResponseError is a non-success API response.
type ResponseError struct {
	Kind      error
	Status    int
	Message   string
	ErrorType string
	Body      []byte
}

func (e *ResponseError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.ErrorType != "" {
		return fmt.Sprintf("%s (status %d, %s)", msg, e.Status, e.ErrorType)
	}
	return fmt.Sprintf("%s (status %d)", msg, e.Status)
}

func (e *ResponseError) Unwrap() error { return e.Kind }

// CheckpointError is returned when the server requires extra verification.
// The payload is also recorded on the session state.
type CheckpointError struct {
	*ResponseError
	Payload json.RawMessage
}

func (e *CheckpointError) Unwrap() error { return e.ResponseError }

// TwoFactorInfo is the second-factor context returned with a login attempt.
type TwoFactorInfo struct {
	Username             string `json:"username"`
	TwoFactorIdentifier  string `json:"two_factor_identifier"`
	ObfuscatedPhone      string `json:"obfuscated_phone_number"`
	SMSTwoFactorOn       bool   `json:"sms_two_factor_on"`
	TOTPTwoFactorOn      bool   `json:"totp_two_factor_on"`
	WhatsAppTwoFactorOn  bool   `json:"whatsapp_two_factor_on"`
	ShowTrustedDevice    bool   `json:"show_trusted_device"`
	PendingTrustedNotify bool   `json:"pending_trusted_notification"`
}

// TwoFactorRequiredError carries the information needed to finish a login
// with a second factor.
type TwoFactorRequiredError struct {
	*ResponseError
	Info TwoFactorInfo
}

func (e *TwoFactorRequiredError) Unwrap() error { return e.ResponseError }

// TransientNetworkError is returned once the retry budget for a transient
// failure is spent.
type TransientNetworkError struct {
	Attempts int
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientNetworkError) Unwrap() []error {
	return []error{ErrTransientNetwork, e.Err}
}
