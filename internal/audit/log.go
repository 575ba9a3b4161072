package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"cinemaws.org/internal/identity"
	"cinemaws.org/internal/obs"
)

// Event names emitted by the identity HTTP surface.
const (
	EventSignIn         = "identity.sign_in"
	EventSignInFailed   = "identity.sign_in_failed"
	EventRegister       = "identity.register"
	EventAccountCreate  = "identity.account_create"
	EventAccountUpdate  = "identity.account_update"
	EventAccountDelete  = "identity.account_delete"
	EventConsistencyGap = "identity.consistency_gap"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and the
// signed-in account, when known.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if id, ok := identity.AccountIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("account_id", id))
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	attrs = append(attrs, slog.Any("fields", copyFields))

	if ctx == nil {
		ctx = context.Background()
	}
	obs.Logger().LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
