package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"auditdesk.io/internal/domain"
	"auditdesk.io/internal/ids"
	"auditdesk.io/internal/obs"
)

const (
	defaultOTPTTL     = 10 * time.Minute
	defaultSessionTTL = time.Hour

	// maxOTPAttempts wrong guesses burn the code.
	maxOTPAttempts = 5

	loginMethodOTP = "otp"
)

// Store is the persistence the service needs.
type Store interface {
	Users() domain.UserRepository
	OTPs() domain.OTPRepository
	Sessions() domain.SessionRepository
}

// CodeMailer delivers OTP and welcome emails.
type CodeMailer interface {
	SendOTP(ctx context.Context, purpose domain.OTPPurpose, email, code string, ttl time.Duration) error
	Welcome(ctx context.Context, user domain.UserProfile) error
}

// PendingAssigner hands requests addressed to an email over to the user who
// just signed up with it.
type PendingAssigner interface {
	AssignPending(ctx context.Context, user domain.UserProfile) ([]string, error)
}

// Service implements OTP login and signup and resolves bearer credentials.
type Service struct {
	store    Store
	mailer   CodeMailer
	audit    domain.AuditLogger
	assigner PendingAssigner
	tasks    domain.TaskRunner
	tokens   *TokenIssuer
	now      func() time.Time

	allowedDomains []string
	otpTTL         time.Duration
	sessionTTL     time.Duration
	hashCost       int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithMailer sets the code and welcome email sender.
func WithMailer(m CodeMailer) ServiceOption {
	return func(s *Service) error {
		s.mailer = m
		return nil
	}
}

// WithAudit sets the audit trail.
func WithAudit(a domain.AuditLogger) ServiceOption {
	return func(s *Service) error {
		s.audit = a
		return nil
	}
}

// WithAssigner resolves pending requests on signup.
func WithAssigner(a PendingAssigner) ServiceOption {
	return func(s *Service) error {
		s.assigner = a
		return nil
	}
}

// WithTasks routes best-effort side effects through r.
func WithTasks(r domain.TaskRunner) ServiceOption {
	return func(s *Service) error {
		s.tasks = r
		return nil
	}
}

// WithTokens enables JWT access tokens alongside opaque sessions.
func WithTokens(t *TokenIssuer) ServiceOption {
	return func(s *Service) error {
		s.tokens = t
		return nil
	}
}

// WithAllowedDomains restricts OTP requests to the given email domains.
func WithAllowedDomains(domains []string) ServiceOption {
	return func(s *Service) error {
		s.allowedDomains = s.allowedDomains[:0]
		for _, d := range domains {
			d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
			if d != "" {
				s.allowedDomains = append(s.allowedDomains, d)
			}
		}
		return nil
	}
}

// WithOTPTTL configures how long codes stay redeemable.
func WithOTPTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.otpTTL = ttl
		}
		return nil
	}
}

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithHashCost sets the bcrypt cost for stored codes.
func WithHashCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("auth: bcrypt cost %d out of range", cost)
		}
		s.hashCost = cost
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		otpTTL:     defaultOTPTTL,
		sessionTTL: defaultSessionTTL,
		hashCost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// LoginResult is returned by a successful code redemption.
type LoginResult struct {
	User         domain.UserProfile `json:"user"`
	SessionToken string             `json:"session_token"`
	AccessToken  string             `json:"access_token,omitempty"`
	ExpiresAt    time.Time          `json:"expires_at"`
}

// SignupInput carries the signup redemption fields.
type SignupInput struct {
	Email string
	Code  string
	Name  string
	Role  string
}

// ValidateEmail normalizes email and enforces the domain allow-list.
func (s *Service) ValidateEmail(email string) (string, error) {
	email = domain.NormalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if email == "" || at <= 0 || at == len(email)-1 || strings.Count(email, "@") != 1 {
		return "", domain.Invalid("a valid email address is required")
	}
	if len(s.allowedDomains) == 0 {
		return email, nil
	}
	host := email[at+1:]
	for _, d := range s.allowedDomains {
		if host == d {
			return email, nil
		}
	}
	return "", domain.Invalid("email domain %s is not allowed", host)
}

// RequestLoginCode issues a login code to an existing user.
func (s *Service) RequestLoginCode(ctx context.Context, email string) error {
	email, err := s.ValidateEmail(email)
	if err != nil {
		return err
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: no account for %s", domain.ErrNotFound, email)
	}
	if err != nil {
		return err
	}
	return s.issueCode(ctx, domain.OTPLogin, email, user.ID)
}

// RequestSignupCode issues a signup code for an email without an account.
func (s *Service) RequestSignupCode(ctx context.Context, email string) error {
	email, err := s.ValidateEmail(email)
	if err != nil {
		return err
	}
	_, err = s.store.Users().FindByEmail(ctx, email)
	switch {
	case err == nil:
		return fmt.Errorf("%w: an account for %s already exists", domain.ErrConflict, email)
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	return s.issueCode(ctx, domain.OTPSignup, email, "")
}

func (s *Service) issueCode(ctx context.Context, purpose domain.OTPPurpose, email, userID string) error {
	code, err := GenerateCode()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	hash, err := HashCode(code, s.hashCost)
	if err != nil {
		return fmt.Errorf("%w: hash code: %v", domain.ErrInternal, err)
	}
	now := s.now().UTC()
	rec := domain.OTPRecord{
		Email:     email,
		UserID:    userID,
		Purpose:   purpose,
		CodeHash:  hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.otpTTL),
	}
	if err := s.store.OTPs().Save(ctx, rec); err != nil {
		return err
	}
	if s.mailer == nil {
		return fmt.Errorf("%w: no mailer configured", domain.ErrInternal)
	}
	if err := s.mailer.SendOTP(ctx, purpose, email, code, s.otpTTL); err != nil {
		obs.ObserveOTP(string(purpose), "send_failed")
		return fmt.Errorf("%w: deliver %s code: %v", domain.ErrInternal, purpose, err)
	}
	obs.ObserveOTP(string(purpose), "issued")
	return nil
}

// redeem checks a code and consumes the record on success. Each mismatch is
// counted on the record; the record is deleted once maxOTPAttempts is reached.
func (s *Service) redeem(ctx context.Context, purpose domain.OTPPurpose, email, code string) (domain.OTPRecord, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || strings.TrimSpace(code) == "" {
		return domain.OTPRecord{}, domain.Invalid("email and code are required")
	}
	otps := s.store.OTPs()
	rec, err := otps.Get(ctx, purpose, email)
	if errors.Is(err, domain.ErrNotFound) {
		obs.ObserveOTP(string(purpose), "expired")
		return domain.OTPRecord{}, errCodeExpired
	}
	if err != nil {
		return domain.OTPRecord{}, err
	}
	if rec.Verified || rec.Expired(s.now()) {
		if err := otps.Delete(ctx, purpose, email); err != nil {
			obs.Logger().Warn("expired otp cleanup failed", "purpose", string(purpose), "error", err.Error())
		}
		obs.ObserveOTP(string(purpose), "expired")
		return domain.OTPRecord{}, errCodeExpired
	}
	if !VerifyCode(rec.CodeHash, code) {
		obs.ObserveOTP(string(purpose), "mismatch")
		rec.Attempts++
		if rec.Attempts >= maxOTPAttempts {
			if err := otps.Delete(ctx, purpose, email); err != nil {
				return domain.OTPRecord{}, err
			}
			obs.Logger().Warn("otp burned after repeated mismatches", "purpose", string(purpose), "email", email)
			return domain.OTPRecord{}, errCodeExpired
		}
		if err := otps.Save(ctx, rec); err != nil {
			return domain.OTPRecord{}, err
		}
		return domain.OTPRecord{}, errCodeMismatch
	}
	if err := otps.Delete(ctx, purpose, email); err != nil {
		return domain.OTPRecord{}, err
	}
	obs.ObserveOTP(string(purpose), "verified")
	return rec, nil
}

// VerifyLoginCode redeems a login code and opens a session.
func (s *Service) VerifyLoginCode(ctx context.Context, email, code string) (LoginResult, error) {
	rec, err := s.redeem(ctx, domain.OTPLogin, email, code)
	if err != nil {
		return LoginResult{}, err
	}
	users := s.store.Users()
	var user domain.UserProfile
	if rec.UserID != "" {
		user, err = users.Get(ctx, rec.UserID)
	} else {
		user, err = users.FindByEmail(ctx, rec.Email)
	}
	if err != nil {
		return LoginResult{}, err
	}
	res, err := s.openSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	s.appendAudit(ctx, domain.AuditEntry{
		Action:  "user_login",
		UserID:  user.ID,
		Details: map[string]any{"email": user.Email, "method": loginMethodOTP},
	})
	return res, nil
}

// VerifySignupCode redeems a signup code, creates the account and opens a
// session for it.
func (s *Service) VerifySignupCode(ctx context.Context, in SignupInput) (LoginResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return LoginResult{}, domain.Invalid("name is required")
	}
	role, ok := domain.ParseRole(in.Role)
	if !ok {
		return LoginResult{}, domain.Invalid("role must be auditor, auditee or manager")
	}
	rec, err := s.redeem(ctx, domain.OTPSignup, in.Email, in.Code)
	if err != nil {
		return LoginResult{}, err
	}

	now := s.now().UTC()
	user := domain.UserProfile{
		ID:            ids.NewAt(now),
		Email:         rec.Email,
		Name:          name,
		Role:          role,
		CreatedAt:     now,
		EmailVerified: true,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return LoginResult{}, err
	}

	if s.assigner != nil {
		if _, err := s.assigner.AssignPending(ctx, user); err != nil {
			obs.Logger().Error("pending assignment failed", "user_id", user.ID, "error", err.Error())
		}
	}
	s.appendAudit(ctx, domain.AuditEntry{
		Action:  "user_created",
		UserID:  user.ID,
		Details: map[string]any{"email": user.Email, "role": string(user.Role), "name": user.Name},
	})
	s.sendWelcome(user)

	return s.openSession(ctx, user)
}

func (s *Service) sendWelcome(user domain.UserProfile) {
	if s.mailer == nil {
		return
	}
	send := func(ctx context.Context) error { return s.mailer.Welcome(ctx, user) }
	if s.tasks == nil {
		if err := send(context.Background()); err != nil {
			obs.Logger().Warn("welcome email failed", "user_id", user.ID, "error", err.Error())
		}
		return
	}
	s.tasks.Enqueue("welcome_email", send)
}

func (s *Service) openSession(ctx context.Context, user domain.UserProfile) (LoginResult, error) {
	token, err := newSessionToken()
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: session token: %v", domain.ErrInternal, err)
	}
	now := s.now().UTC()
	session := domain.Session{
		UserID:      user.ID,
		Email:       user.Email,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.sessionTTL),
		LoginMethod: loginMethodOTP,
	}
	if err := s.store.Sessions().Save(ctx, tokenDigest(token), session); err != nil {
		return LoginResult{}, err
	}
	res := LoginResult{User: user, SessionToken: token, ExpiresAt: session.ExpiresAt}
	if s.tokens != nil {
		access, _, err := s.tokens.Issue(user, s.sessionTTL)
		if err != nil {
			return LoginResult{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
		res.AccessToken = access
	}
	return res, nil
}

// Authenticate resolves a bearer token, opaque or JWT, to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.UserProfile, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
	}
	var userID string
	if IsSessionToken(token) {
		digest := tokenDigest(token)
		sessions := s.store.Sessions()
		session, err := sessions.Get(ctx, digest)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.UserProfile{}, errSessionInvalid
		}
		if err != nil {
			return domain.UserProfile{}, err
		}
		if session.Expired(s.now()) {
			if err := sessions.Delete(ctx, digest); err != nil {
				obs.Logger().Warn("expired session cleanup failed", "user_id", session.UserID, "error", err.Error())
			}
			return domain.UserProfile{}, errSessionInvalid
		}
		userID = session.UserID
	} else {
		if s.tokens == nil {
			return domain.UserProfile{}, errSessionInvalid
		}
		claims, err := s.tokens.Parse(token)
		if err != nil {
			return domain.UserProfile{}, errSessionInvalid
		}
		userID = claims.Subject
	}
	user, err := s.store.Users().Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.UserProfile{}, errSessionInvalid
	}
	return user, err
}

// Logout revokes an opaque session. JWTs simply expire.
func (s *Service) Logout(ctx context.Context, token string) error {
	if !IsSessionToken(token) {
		return nil
	}
	return s.store.Sessions().Delete(ctx, tokenDigest(token))
}

func (s *Service) appendAudit(ctx context.Context, e domain.AuditEntry) {
	if s.audit == nil {
		return
	}
	s.audit.Append(ctx, e)
}

// OTPTTL is how long an issued code stays redeemable.
func (s *Service) OTPTTL() time.Duration { return s.otpTTL }
