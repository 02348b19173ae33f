package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess      AuditEvent = "login_success"
	AuditLoginFailure      AuditEvent = "login_failure"
	AuditLoginRateLimited  AuditEvent = "login_rate_limited"
	AuditTwoFactorSuccess  AuditEvent = "two_factor_success"
	AuditLogout            AuditEvent = "logout"
	AuditSessionSaved      AuditEvent = "session_saved"
	AuditSessionLoaded     AuditEvent = "session_loaded"
	AuditRealtimeConnect   AuditEvent = "realtime_connect"
	AuditRealtimeStop      AuditEvent = "realtime_disconnect"
	AuditDirectMessageSent AuditEvent = "direct_message_sent"
)

// auditLogger wraps slog.Logger for structured audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logAccount is a convenience for events tied to an account. Only the
// hashed account key is logged.
func (al *auditLogger) logAccount(event AuditEvent, r *http.Request, username string, extra ...slog.Attr) {
	attrs := append([]slog.Attr{slog.String("account", accountKey(username))}, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed attempt with its reason.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, username, reason string) {
	al.logAccount(event, r, username, slog.String("reason", reason))
}
