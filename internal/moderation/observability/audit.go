// Package observability provides audit logging helpers for the moderation module.
package observability

import (
	"context"
	"log/slog"

	"chatgate/pkg/requestcontext"
)

// Audit event names.
const (
	EventIdentityBlocked   = "identity_blocked"
	EventIdentityUnblocked = "identity_unblocked"
	EventLockoutExpired    = "identity_lockout_expired"
	EventIdentityRejected  = "identity_rejected"
	EventViolationRecorded = "violation_recorded"
)

// LogAudit writes a structured audit line enriched with the request ID and client IP.
func LogAudit(ctx context.Context, logger *slog.Logger, event string, attrList ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		attrList = append(attrList, "ip", ip)
	}
	args := append(attrList, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, args...)
}
