package api

import (
	"encoding/json"

	"github.com/jmcleod/ironwire/account"
	"github.com/jmcleod/ironwire/transport"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string                   `json:"error"`
	Kind       string                   `json:"kind,omitempty"`
	TwoFactor  *transport.TwoFactorInfo `json:"two_factor_info,omitempty"`
	Checkpoint json.RawMessage          `json:"checkpoint,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type SessionResponse struct {
	LoggedIn   bool   `json:"logged_in"`
	UserID     string `json:"user_id,omitempty"`
	Username   string `json:"username,omitempty"`
	DeviceID   string `json:"device_id"`
	Checkpoint bool   `json:"checkpoint_pending"`
	Realtime   string `json:"realtime"`
}

type ValidateResponse struct {
	Valid bool `json:"valid"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TwoFactorRequest struct {
	Username   string `json:"username"`
	Code       string `json:"code"`
	Identifier string `json:"two_factor_identifier"`
	Method     string `json:"method,omitempty"`
}

type LoginResponse struct {
	User *account.LoggedInUser `json:"user"`
}

type SaveRequest struct {
	ID string `json:"id,omitempty"`
}

type SaveResponse struct {
	ID       string `json:"id"`
	Revision uint64 `json:"revision"`
}

type LoadRequest struct {
	ID string `json:"id"`
}

type RealtimeResponse struct {
	State       string `json:"state"`
	Endpoint    string `json:"endpoint,omitempty"`
	Retries     int    `json:"retries"`
	MaxRetries  int    `json:"max_retries"`
	GaveUp      bool   `json:"gave_up"`
	Connects    uint64 `json:"connects"`
	Drops       uint64 `json:"drops"`
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped_events"`
}

type DirectRequest struct {
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
