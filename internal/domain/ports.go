package domain

import "context"

// UserRepository persists user profiles.
type UserRepository interface {
	Create(ctx context.Context, u UserProfile) error
	Get(ctx context.Context, id string) (UserProfile, error)
	FindByEmail(ctx context.Context, email string) (UserProfile, error)
	List(ctx context.Context) ([]UserProfile, error)
}

// RequestRepository persists requests. Save overwrites the whole record.
type RequestRepository interface {
	Save(ctx context.Context, r Request) error
	Get(ctx context.Context, id string) (Request, error)
	List(ctx context.Context) ([]Request, error)
}

// DocumentRepository persists document metadata, grouped by request.
type DocumentRepository interface {
	Save(ctx context.Context, d Document) error
	ListByRequest(ctx context.Context, requestID string) ([]Document, error)
}

// OTPRepository keeps one outstanding code per purpose and email.
type OTPRepository interface {
	Save(ctx context.Context, rec OTPRecord) error
	Get(ctx context.Context, purpose OTPPurpose, email string) (OTPRecord, error)
	Delete(ctx context.Context, purpose OTPPurpose, email string) error
}

// SessionRepository stores sessions under a digest of the bearer token.
type SessionRepository interface {
	Save(ctx context.Context, digest string, s Session) error
	Get(ctx context.Context, digest string) (Session, error)
	Delete(ctx context.Context, digest string) error
}

// AuditRepository appends and lists audit entries, newest first.
type AuditRepository interface {
	Append(ctx context.Context, e AuditEntry) error
	List(ctx context.Context) ([]AuditEntry, error)
}

// EmailRepository appends and lists dispatch records, newest first.
type EmailRepository interface {
	Append(ctx context.Context, e EmailRecord) error
	List(ctx context.Context) ([]EmailRecord, error)
}

// AuditLogger records activity without failing the caller.
type AuditLogger interface {
	Append(ctx context.Context, e AuditEntry)
}

// TaskRunner executes side effects after the primary mutation has committed.
type TaskRunner interface {
	Enqueue(kind string, fn func(ctx context.Context) error)
}
