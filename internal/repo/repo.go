// Package repo maps the domain collections onto prefixed keys of a kv.Store.
//
// Key scheme:
//
//	user:<id>                      UserProfile
//	user_email:<email>             user id index
//	request:<id>                   Request
//	document:<request_id>:<id>     Document
//	login_otp:<email>              OTPRecord (login)
//	signup_otp:<email>             OTPRecord (signup)
//	otp_session:<sha256(token)>    Session
//	audit_log:<ulid>               AuditEntry
//	email:<ulid>                   EmailRecord
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"auditdesk.io/internal/domain"
	"auditdesk.io/internal/kv"
)

const (
	prefixUser      = "user:"
	prefixUserEmail = "user_email:"
	prefixRequest   = "request:"
	prefixDocument  = "document:"
	prefixLoginOTP  = "login_otp:"
	prefixSignupOTP = "signup_otp:"
	prefixSession   = "otp_session:"
	prefixAuditLog  = "audit_log:"
	prefixEmail     = "email:"
)

// Repositories groups the typed collections over one store.
type Repositories struct {
	store kv.Store
}

// New wraps store.
func New(store kv.Store) *Repositories {
	return &Repositories{store: store}
}

func (r *Repositories) Users() domain.UserRepository         { return userRepo{r.store} }
func (r *Repositories) Requests() domain.RequestRepository   { return requestRepo{r.store} }
func (r *Repositories) Documents() domain.DocumentRepository { return documentRepo{r.store} }
func (r *Repositories) OTPs() domain.OTPRepository           { return otpRepo{r.store} }
func (r *Repositories) Sessions() domain.SessionRepository   { return sessionRepo{r.store} }
func (r *Repositories) AuditLogs() domain.AuditRepository    { return auditRepo{r.store} }
func (r *Repositories) Emails() domain.EmailRepository       { return emailRepo{r.store} }

func getJSON[T any](ctx context.Context, s kv.Store, key string) (T, error) {
	var out T
	raw, err := s.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return out, domain.ErrNotFound
	}
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

func putJSON(ctx context.Context, s kv.Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

func scanJSON[T any](ctx context.Context, s kv.Store, prefix string) ([]T, error) {
	recs, err := s.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func reverse[T any](items []T) []T {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items
}
