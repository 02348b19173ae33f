package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/ironwire/client"
	"github.com/jmcleod/ironwire/persist"
	"github.com/jmcleod/ironwire/realtime"
	"github.com/jmcleod/ironwire/state"
	"github.com/jmcleod/ironwire/storage"
	"github.com/jmcleod/ironwire/transport"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// errorStatuses maps error kinds to HTTP statuses. Order matters: the first
// match wins.
var errorStatuses = []struct {
	target error
	status int
	kind   string
}{
	{transport.ErrTwoFactorRequired, http.StatusUnauthorized, "two_factor_required"},
	{transport.ErrBadPassword, http.StatusUnauthorized, "bad_password"},
	{transport.ErrInvalidUser, http.StatusUnauthorized, "invalid_user"},
	{transport.ErrLoginRequired, http.StatusUnauthorized, "login_required"},
	{transport.ErrSessionExpired, http.StatusUnauthorized, "session_expired"},
	{transport.ErrCheckpoint, http.StatusForbidden, "checkpoint_required"},
	{transport.ErrSentryBlock, http.StatusForbidden, "sentry_block"},
	{transport.ErrInactiveUser, http.StatusForbidden, "inactive_user"},
	{transport.ErrPrivateUser, http.StatusForbidden, "private_user"},
	{transport.ErrActionSpam, http.StatusTooManyRequests, "action_spam"},
	{transport.ErrNotFound, http.StatusNotFound, "not_found"},
	{transport.ErrTransientNetwork, http.StatusBadGateway, "transient_network"},
	{transport.ErrEncryptionKeyInvalid, http.StatusBadGateway, "encryption_key_invalid"},
	{transport.ErrResponse, http.StatusBadGateway, "upstream_error"},
	{storage.ErrNotFound, http.StatusNotFound, "session_not_found"},
	{persist.ErrConflict, http.StatusConflict, "revision_conflict"},
	{storage.ErrCASFailed, http.StatusConflict, "revision_conflict"},
	{storage.ErrRollbackDetected, http.StatusConflict, "rollback_detected"},
	{persist.ErrInvalidSessionID, http.StatusBadRequest, "invalid_session_id"},
	{client.ErrNoStore, http.StatusNotImplemented, "no_store"},
	{realtime.ErrNotConnected, http.StatusConflict, "realtime_not_connected"},
	{realtime.ErrConnectAborted, http.StatusConflict, "realtime_aborted"},
	{realtime.ErrAllEndpointsFailed, http.StatusBadGateway, "realtime_unreachable"},
	{realtime.ErrNoEndpoints, http.StatusServiceUnavailable, "realtime_unconfigured"},
	{state.ErrUserIDNotFound, http.StatusUnauthorized, "not_logged_in"},
}

func classifyError(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error()}

	var tf *transport.TwoFactorRequiredError
	if errors.As(err, &tf) {
		info := tf.Info
		resp.TwoFactor = &info
	}
	var cp *transport.CheckpointError
	if errors.As(err, &cp) {
		resp.Checkpoint = cp.Payload
	}
	var cookie *state.CookieNotFoundError
	if errors.As(err, &cookie) {
		resp.Kind = "not_logged_in"
		return http.StatusUnauthorized, resp
	}

	for _, e := range errorStatuses {
		if errors.Is(err, e.target) {
			resp.Kind = e.kind
			return e.status, resp
		}
	}
	return http.StatusInternalServerError, resp
}

func mapError(w http.ResponseWriter, err error) {
	status, resp := classifyError(err)
	writeJSON(w, status, resp)
}
