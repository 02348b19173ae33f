package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jmcleod/ironwire/state"
)

// responseBody is the subset of an error body the classifier looks at.
type responseBody struct {
	Status            string          `json:"status"`
	Message           string          `json:"message"`
	ErrorType         string          `json:"error_type"`
	Spam              bool            `json:"spam"`
	TwoFactorRequired bool            `json:"two_factor_required"`
	TwoFactorInfo     *TwoFactorInfo  `json:"two_factor_info"`
	Challenge         json.RawMessage `json:"challenge"`
	CheckpointURL     string          `json:"checkpoint_url"`
	InvalidCreds      bool            `json:"invalid_credentials"`
}

// isSuccess mirrors the official client: a 200 or a body with status "ok".
func isSuccess(status int, body []byte) bool {
	if status == http.StatusOK {
		return true
	}
	var rb responseBody
	return json.Unmarshal(body, &rb) == nil && rb.Status == "ok"
}

// isTransientStatus reports whether a status is worth retrying.
func isTransientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// hasChallenge reports whether the challenge field carries a value. An
// explicit null is not a challenge.
func hasChallenge(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// classify maps a non-success response to a typed error. Checkpoint payloads
// are recorded on st.
func classify(st *state.State, status int, body []byte) error {
	var rb responseBody
	_ = json.Unmarshal(body, &rb)

	re := &ResponseError{
		Kind:      ErrResponse,
		Status:    status,
		Message:   rb.Message,
		ErrorType: rb.ErrorType,
		Body:      body,
	}
	msg := strings.ToLower(rb.Message)

	switch {
	case rb.Message == "challenge_required" || rb.Message == "checkpoint_required" ||
		strings.HasPrefix(rb.ErrorType, "checkpoint") || hasChallenge(rb.Challenge) || rb.CheckpointURL != "":
		re.Kind = ErrCheckpoint
		payload := json.RawMessage(body)
		if !json.Valid(payload) {
			payload = nil
		}
		if st != nil && payload != nil {
			st.SetCheckpoint(payload)
		}
		return &CheckpointError{ResponseError: re, Payload: payload}
	case rb.Message == "login_required":
		re.Kind = ErrLoginRequired
	case rb.Message == "user_has_logged_out":
		re.Kind = ErrSessionExpired
	case rb.ErrorType == "sentry_block":
		re.Kind = ErrSentryBlock
	case rb.ErrorType == "inactive user" || rb.ErrorType == "inactive_user":
		re.Kind = ErrInactiveUser
	case rb.Spam || rb.ErrorType == "spam" || strings.Contains(msg, "feedback_required"):
		re.Kind = ErrActionSpam
	case rb.TwoFactorRequired:
		re.Kind = ErrTwoFactorRequired
		e := &TwoFactorRequiredError{ResponseError: re}
		if rb.TwoFactorInfo != nil {
			e.Info = *rb.TwoFactorInfo
		}
		return e
	case rb.ErrorType == "bad_password":
		re.Kind = ErrBadPassword
	case rb.ErrorType == "invalid_user":
		re.Kind = ErrInvalidUser
	case rb.ErrorType == "invalid_password_encryption_key" ||
		strings.Contains(msg, "invalid password key") || strings.Contains(msg, "encryption key"):
		re.Kind = ErrEncryptionKeyInvalid
	case strings.Contains(msg, "not authorized to view user"):
		re.Kind = ErrPrivateUser
	case status == http.StatusNotFound:
		re.Kind = ErrNotFound
	}
	return re
}
