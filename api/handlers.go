package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironwire/account"
	"github.com/jmcleod/ironwire/transport"
)

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// GetSession handles GET /session. It reports local state only and never
// contacts the server.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	st := a.client.State()
	resp := SessionResponse{
		LoggedIn: st.HasValidSession(),
		DeviceID: st.Device().DeviceID,
		Realtime: a.client.Realtime().State().String(),
	}
	if id, err := st.UserID(); err == nil {
		resp.UserID = id
	}
	if name, err := st.Username(); err == nil {
		resp.Username = name
	}
	if _, err := st.Checkpoint(); err == nil {
		resp.Checkpoint = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// ValidateSession handles GET /session/validate by probing the current user
// endpoint.
func (a *API) ValidateSession(w http.ResponseWriter, r *http.Request) {
	ok, err := a.client.IsSessionValid(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: ok})
}

// loginGuard checks the IP and account limiters before an upstream login.
// It returns false after writing a 429.
func (a *API) loginGuard(w http.ResponseWriter, r *http.Request, username string) (ip, acct string, ok bool) {
	ip = clientIP(r)
	acct = accountKey(username)
	if blocked, retryAfter := a.ipLimiter.check(ip); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, username, "ip rate limited")
		writeRateLimited(w, retryAfter)
		return ip, acct, false
	}
	if blocked, retryAfter := a.loginLimiter.check(acct); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, username, "account rate limited")
		writeRateLimited(w, retryAfter)
		return ip, acct, false
	}
	return ip, acct, true
}

// countsAsFailure reports whether err should count against the limiters. A
// two-factor challenge means the password was right.
func countsAsFailure(err error) bool {
	if errors.Is(err, transport.ErrTwoFactorRequired) {
		return false
	}
	return errors.Is(err, transport.ErrBadPassword) ||
		errors.Is(err, transport.ErrInvalidUser) ||
		errors.Is(err, transport.ErrResponse)
}

// Login handles POST /session/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize, false)
	if !ok {
		return
	}
	// Only the byte copy outlives decoding; it is wiped on return.
	password := []byte(req.Password)
	req.Password = ""
	defer memguard.WipeBytes(password)

	username := strings.TrimSpace(req.Username)
	if username == "" || len(password) == 0 {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	ip, acct, ok := a.loginGuard(w, r, username)
	if !ok {
		return
	}

	user, err := a.client.Login(r.Context(), username, password)
	if err != nil {
		if countsAsFailure(err) {
			a.ipLimiter.recordFailure(ip)
			a.loginLimiter.recordFailure(acct)
		}
		a.audit.logFailure(AuditLoginFailure, r, username, errorKind(err))
		mapError(w, err)
		return
	}
	a.ipLimiter.recordSuccess(ip)
	a.loginLimiter.recordSuccess(acct)
	a.audit.logAccount(AuditLoginSuccess, r, username)
	writeJSON(w, http.StatusOK, LoginResponse{User: user})
}

// TwoFactorLogin handles POST /session/two-factor.
func (a *API) TwoFactorLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[TwoFactorRequest](w, r, maxAuthBodySize, false)
	if !ok {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Code == "" || req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "username, code and two_factor_identifier are required")
		return
	}
	method := account.VerificationSMS
	switch req.Method {
	case "", "sms", string(account.VerificationSMS):
	case "totp", string(account.VerificationTOTP):
		method = account.VerificationTOTP
	default:
		writeError(w, http.StatusBadRequest, "method must be sms or totp")
		return
	}
	ip, acct, ok := a.loginGuard(w, r, username)
	if !ok {
		return
	}

	user, err := a.client.TwoFactorLogin(r.Context(), username, req.Code, req.Identifier, method)
	if err != nil {
		a.ipLimiter.recordFailure(ip)
		a.loginLimiter.recordFailure(acct)
		a.audit.logFailure(AuditLoginFailure, r, username, errorKind(err))
		mapError(w, err)
		return
	}
	a.ipLimiter.recordSuccess(ip)
	a.loginLimiter.recordSuccess(acct)
	a.audit.logAccount(AuditTwoFactorSuccess, r, username)
	writeJSON(w, http.StatusOK, LoginResponse{User: user})
}

// Logout handles POST /session/logout. Local state is cleared even when the
// server call fails.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	username, _ := a.client.State().Username()
	if err := a.client.Logout(r.Context()); err != nil {
		a.logger.Warn("upstream logout failed", "error", err)
	}
	a.audit.logAccount(AuditLogout, r, username)
	writeJSON(w, http.StatusOK, StatusResponse{Status: "logged_out"})
}

// SaveSession handles POST /session/save.
func (a *API) SaveSession(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[SaveRequest](w, r, maxSmallBodySize, true)
	if !ok {
		return
	}
	id := req.ID
	if id == "" {
		name, err := a.client.State().Username()
		if err != nil {
			mapError(w, err)
			return
		}
		id = name
	}
	rev, err := a.client.SaveSession(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.log(AuditSessionSaved, r, slog.String("session", id), slog.Uint64("revision", rev))
	writeJSON(w, http.StatusOK, SaveResponse{ID: id, Revision: rev})
}

// LoadSession handles POST /session/load.
func (a *API) LoadSession(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoadRequest](w, r, maxSmallBodySize, false)
	if !ok {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := a.client.LoadSession(r.Context(), req.ID); err != nil {
		mapError(w, err)
		return
	}
	a.audit.log(AuditSessionLoaded, r, slog.String("session", req.ID))
	a.GetSession(w, r)
}

// GetRealtime handles GET /realtime.
func (a *API) GetRealtime(w http.ResponseWriter, r *http.Request) {
	stats := a.client.Realtime().Stats()
	writeJSON(w, http.StatusOK, RealtimeResponse{
		State:       stats.State.String(),
		Endpoint:    stats.Endpoint,
		Retries:     stats.ReconnectAttempts,
		MaxRetries:  stats.MaxReconnectAttempts,
		GaveUp:      stats.GaveUp,
		Connects:    stats.Connects,
		Drops:       stats.Drops,
		Subscribers: a.client.Events().Subscribers(),
		Dropped:     stats.DroppedEvents,
	})
}

// ConnectRealtime handles POST /realtime/connect. It returns once the
// handshake completes or every endpoint failed.
func (a *API) ConnectRealtime(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.connectTimeout)
	defer cancel()
	if err := a.client.ConnectRealtime(ctx); err != nil {
		mapError(w, err)
		return
	}
	a.audit.log(AuditRealtimeConnect, r, slog.String("endpoint", a.client.Realtime().Endpoint()))
	a.GetRealtime(w, r)
}

// DisconnectRealtime handles POST /realtime/disconnect.
func (a *API) DisconnectRealtime(w http.ResponseWriter, r *http.Request) {
	if err := a.client.DisconnectRealtime(r.Context()); err != nil {
		mapError(w, err)
		return
	}
	a.audit.log(AuditRealtimeStop, r)
	a.GetRealtime(w, r)
}

// SendDirect handles POST /realtime/direct.
func (a *API) SendDirect(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[DirectRequest](w, r, maxSmallBodySize, false)
	if !ok {
		return
	}
	if req.ThreadID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "thread_id and text are required")
		return
	}
	if err := a.client.SendDirectMessage(r.Context(), req.ThreadID, req.Text); err != nil {
		mapError(w, err)
		return
	}
	a.audit.log(AuditDirectMessageSent, r, slog.String("thread_id", req.ThreadID))
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "sent"})
}

func errorKind(err error) string {
	_, resp := classifyError(err)
	if resp.Kind != "" {
		return resp.Kind
	}
	return "internal"
}
