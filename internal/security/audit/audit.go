package audit

import (
	"context"
	"log/slog"
	"time"
)

type requestIDKey struct{}

// WithRequestID attaches a request id to the context so audit events can be
// correlated with the request log.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id attached by WithRequestID, or
// the empty string.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Logger emits structured audit events for privileged admin actions. It is
// an observability signal; the durable validation audit trail lives in the
// validation_logs table.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (al *Logger) LogAction(ctx context.Context, tenantID, userID, action, resource, resourceID, status, details string) {
	requestID := RequestIDFromContext(ctx)

	al.logger.Info("audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("tenant_id", tenantID),
		slog.String("user_id", userID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", requestID),
		slog.Time("timestamp", time.Now()),
	)
}

func (al *Logger) LogKeyIssued(ctx context.Context, tenantID, userID, keyID string) {
	al.LogAction(ctx, tenantID, userID, "issue", "access_key", keyID, "created", "")
}

func (al *Logger) LogKeyRevoked(ctx context.Context, tenantID, userID, keyID, reason string) {
	al.LogAction(ctx, tenantID, userID, "revoke", "access_key", keyID, "revoked", reason)
}

func (al *Logger) LogKeyRenewed(ctx context.Context, tenantID, userID, keyID, newExpiry string) {
	al.LogAction(ctx, tenantID, userID, "renew", "access_key", keyID, "renewed", newExpiry)
}

func (al *Logger) LogDenied(ctx context.Context, tenantID, userID, reason string) {
	al.LogAction(ctx, tenantID, userID, "access_denied", "api", "", "denied", reason)
}
