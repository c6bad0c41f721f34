package session

import (
	"context"
	"log/slog"
)

// AuditEvent identifies a session transition being logged.
type AuditEvent string

const (
	AuditSessionSet           AuditEvent = "session_set"
	AuditSessionReset         AuditEvent = "session_reset"
	AuditSessionRestored      AuditEvent = "session_restored"
	AuditSessionRestoreFailed AuditEvent = "session_restore_failed"
	AuditSessionPersistFailed AuditEvent = "session_persist_failed"
)

// auditLogger writes structured session events. Tokens are never passed to it.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &auditLogger{logger: logger.With("component", "session")}
}

func (al *auditLogger) log(level slog.Level, event AuditEvent, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{slog.String("event", string(event))}, attrs...)
	al.logger.LogAttrs(context.Background(), level, "session", attrs...)
}

func userAttrs(u *User) []slog.Attr {
	if u == nil {
		return nil
	}
	return []slog.Attr{
		slog.String("user_id", u.ID),
		slog.String("role", u.Role),
	}
}
