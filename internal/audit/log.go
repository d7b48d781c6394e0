// Package audit persists the append-only activity trail and mirrors each
// entry to the structured log.
package audit

import (
	"context"
	"strings"
	"time"

	"auditdesk.io/internal/domain"
	"auditdesk.io/internal/ids"
	"auditdesk.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the HTTP request identifier to the context so audit
// lines can be correlated with access logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the identifier set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// Log writes audit entries. Append never fails the caller.
type Log struct {
	repo domain.AuditRepository
	now  func() time.Time
}

// New returns a Log backed by repo.
func New(repo domain.AuditRepository, opts ...Option) *Log {
	l := &Log{repo: repo, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append stamps and stores e. Storage errors are logged and swallowed.
func (l *Log) Append(ctx context.Context, e domain.AuditEntry) {
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		obs.Logger().Error("audit entry without action dropped", "user_id", e.UserID)
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.Timestamp)
	}
	LogEvent(ctx, e)
	if l.repo == nil {
		return
	}
	if err := l.repo.Append(ctx, e); err != nil {
		obs.Logger().Error("audit append failed",
			"action", e.Action,
			"user_id", e.UserID,
			"request_id", RequestIDFromContext(ctx),
			"error", err.Error(),
		)
	}
}

// List returns entries newest first. Only auditors and managers may read the
// trail.
func (l *Log) List(ctx context.Context, viewer domain.UserProfile) ([]domain.AuditEntry, error) {
	if !viewer.Role.CanReview() {
		return nil, &domain.PermissionError{Reason: "only auditors and managers can view audit logs"}
	}
	return l.repo.List(ctx)
}

// LogEvent writes the entry as a structured log line tagged type=audit.
func LogEvent(ctx context.Context, e domain.AuditEntry) {
	attrs := []any{
		"type", "audit",
		"event", e.Action,
		"user_id", e.UserID,
		"audit_id", e.ID,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	if e.RequestID != "" {
		attrs = append(attrs, "audit_request", e.RequestID)
	}
	if e.DocumentID != "" {
		attrs = append(attrs, "document_id", e.DocumentID)
	}
	fields := make(map[string]any, len(e.Details))
	for k, v := range e.Details {
		fields[k] = v
	}
	attrs = append(attrs, "fields", fields)
	obs.Logger().InfoContext(ctx, "audit", attrs...)
}
