package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"auditdesk.io/internal/domain"
	"auditdesk.io/internal/kv"
)

type userRepo struct{ store kv.Store }

// Create stores the profile and its email index. The existence check and the
// writes are not atomic; a concurrent signup for the same email is caught by
// the caller re-checking before creation.
func (r userRepo) Create(ctx context.Context, u domain.UserProfile) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	email := domain.NormalizeEmail(u.Email)
	if _, err := r.store.Get(ctx, prefixUserEmail+email); err == nil {
		return fmt.Errorf("%w: user %s already exists", domain.ErrConflict, email)
	} else if !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	u.Email = email
	if err := putJSON(ctx, r.store, prefixUser+u.ID, u); err != nil {
		return err
	}
	return r.store.Set(ctx, prefixUserEmail+email, []byte(`"`+u.ID+`"`))
}

func (r userRepo) Get(ctx context.Context, id string) (domain.UserProfile, error) {
	return getJSON[domain.UserProfile](ctx, r.store, prefixUser+id)
}

func (r userRepo) FindByEmail(ctx context.Context, email string) (domain.UserProfile, error) {
	id, err := getJSON[string](ctx, r.store, prefixUserEmail+domain.NormalizeEmail(email))
	if err != nil {
		return domain.UserProfile{}, err
	}
	return r.Get(ctx, id)
}

func (r userRepo) List(ctx context.Context) ([]domain.UserProfile, error) {
	return scanJSON[domain.UserProfile](ctx, r.store, prefixUser)
}

type requestRepo struct{ store kv.Store }

func (r requestRepo) Save(ctx context.Context, req domain.Request) error {
	if strings.TrimSpace(req.ID) == "" {
		return fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}
	return putJSON(ctx, r.store, prefixRequest+req.ID, req)
}

func (r requestRepo) Get(ctx context.Context, id string) (domain.Request, error) {
	return getJSON[domain.Request](ctx, r.store, prefixRequest+id)
}

func (r requestRepo) List(ctx context.Context) ([]domain.Request, error) {
	return scanJSON[domain.Request](ctx, r.store, prefixRequest)
}

type documentRepo struct{ store kv.Store }

func documentKey(requestID, id string) string {
	return prefixDocument + requestID + ":" + id
}

func (r documentRepo) Save(ctx context.Context, d domain.Document) error {
	if d.ID == "" || d.RequestID == "" {
		return fmt.Errorf("%w: document id and request id are required", domain.ErrValidation)
	}
	// FileURL is a short-lived link and is minted again on every read.
	d.FileURL = ""
	return putJSON(ctx, r.store, documentKey(d.RequestID, d.ID), d)
}

func (r documentRepo) ListByRequest(ctx context.Context, requestID string) ([]domain.Document, error) {
	return scanJSON[domain.Document](ctx, r.store, prefixDocument+requestID+":")
}

type otpRepo struct{ store kv.Store }

func otpKey(purpose domain.OTPPurpose, email string) string {
	prefix := prefixLoginOTP
	if purpose == domain.OTPSignup {
		prefix = prefixSignupOTP
	}
	return prefix + domain.NormalizeEmail(email)
}

func (r otpRepo) Save(ctx context.Context, rec domain.OTPRecord) error {
	return putJSON(ctx, r.store, otpKey(rec.Purpose, rec.Email), rec)
}

func (r otpRepo) Get(ctx context.Context, purpose domain.OTPPurpose, email string) (domain.OTPRecord, error) {
	return getJSON[domain.OTPRecord](ctx, r.store, otpKey(purpose, email))
}

func (r otpRepo) Delete(ctx context.Context, purpose domain.OTPPurpose, email string) error {
	return r.store.Delete(ctx, otpKey(purpose, email))
}

type sessionRepo struct{ store kv.Store }

func (r sessionRepo) Save(ctx context.Context, digest string, s domain.Session) error {
	return putJSON(ctx, r.store, prefixSession+digest, s)
}

func (r sessionRepo) Get(ctx context.Context, digest string) (domain.Session, error) {
	return getJSON[domain.Session](ctx, r.store, prefixSession+digest)
}

func (r sessionRepo) Delete(ctx context.Context, digest string) error {
	return r.store.Delete(ctx, prefixSession+digest)
}

type auditRepo struct{ store kv.Store }

func (r auditRepo) Append(ctx context.Context, e domain.AuditEntry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: audit entry id is required", domain.ErrValidation)
	}
	return putJSON(ctx, r.store, prefixAuditLog+e.ID, e)
}

// List returns entries newest first; ids are ULIDs so key order is time order.
func (r auditRepo) List(ctx context.Context) ([]domain.AuditEntry, error) {
	entries, err := scanJSON[domain.AuditEntry](ctx, r.store, prefixAuditLog)
	if err != nil {
		return nil, err
	}
	return reverse(entries), nil
}

type emailRepo struct{ store kv.Store }

func (r emailRepo) Append(ctx context.Context, e domain.EmailRecord) error {
	if e.ID == "" {
		return fmt.Errorf("%w: email record id is required", domain.ErrValidation)
	}
	return putJSON(ctx, r.store, prefixEmail+e.ID, e)
}

func (r emailRepo) List(ctx context.Context) ([]domain.EmailRecord, error) {
	records, err := scanJSON[domain.EmailRecord](ctx, r.store, prefixEmail)
	if err != nil {
		return nil, err
	}
	return reverse(records), nil
}
