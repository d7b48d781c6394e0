package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"auditdesk.io/internal/audit"
	"auditdesk.io/internal/auth"
	"auditdesk.io/internal/blob"
	"auditdesk.io/internal/domain"
	"auditdesk.io/internal/kv"
	"auditdesk.io/internal/notify"
	"auditdesk.io/internal/obs"
	"auditdesk.io/internal/requests"
)

const maxJSONBody = 1 << 20

// ReadyProbe reports whether the KV store answers.
type ReadyProbe struct {
	Store kv.Store
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// Services are the domain components the HTTP layer exposes.
type Services struct {
	Auth     *auth.Service
	Requests *requests.Engine
	Audit    *audit.Log
	Emails   domain.EmailRepository
	Notifier *notify.Notifier
	Blobs    blob.Store
	Signer   *blob.Signer
	Ready    ReadyProbe
}

// Option configures API.
type Option func(*API)

// WithVersion is reported by /healthz.
func WithVersion(v string) Option { return func(a *API) { a.version = v } }

// WithCORSOrigins sets the allowed browser origins. Without any, only
// localhost origins are allowed.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithRateLimit sets the per-IP request budget per minute.
func WithRateLimit(perMinute int) Option {
	return func(a *API) {
		if perMinute > 0 {
			a.ratePerMin = perMinute
		}
	}
}

// WithOTPRateLimit sets how many codes one email may request, and how many
// verifications it may attempt, per minute.
func WithOTPRateLimit(perMinute int) Option {
	return func(a *API) {
		if perMinute > 0 {
			a.otpPerMin = perMinute
		}
	}
}

// WithMaxUpload caps multipart upload bodies.
func WithMaxUpload(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxUpload = n
		}
	}
}

// API is the HTTP layer.
type API struct {
	svc         Services
	version     string
	corsOrigins []string
	ratePerMin  int
	otpPerMin   int
	maxUpload   int64
	otpLimiter  *keyedLimiter
}

// New builds the API over svc.
func New(svc Services, opts ...Option) *API {
	a := &API{
		svc:        svc,
		version:    "dev",
		ratePerMin: 600,
		otpPerMin:  5,
		maxUpload:  25 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.otpLimiter = newKeyedLimiter(a.otpPerMin, time.Minute)
	return a
}

// Handler returns the routed and instrumented handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		withAuditRequestID,
		Logging,
		middleware.Recoverer,
		obs.Instrument,
		SecurityHeaders,
		cors.Handler(a.corsOptions()),
		httprate.LimitByIP(a.ratePerMin, time.Minute),
	)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())
	r.Get("/files/{name}", a.handleFile)

	r.Route("/api", func(r chi.Router) {
		r.Post("/send-otp", a.handleSendLoginOTP)
		r.Post("/send-signup-otp", a.handleSendSignupOTP)
		r.Post("/verify-login-otp", a.handleVerifyLoginOTP)
		r.Post("/verify-otp-signup", a.handleVerifySignupOTP)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Get("/profile", a.handleProfile)
			r.Post("/logout", a.handleLogout)
			r.Get("/requests", a.handleListRequests)
			r.Get("/requests/{id}", a.handleGetRequest)
			r.Get("/requests/{id}/documents", a.handleListDocuments)
			r.Post("/upload", a.handleUpload)
			r.Put("/requests/{id}/status", a.handleUpdateStatus)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(domain.RoleAuditor, domain.RoleManager))
				r.Post("/requests", a.handleCreateRequest)
				r.Get("/audit-logs", a.handleAuditLogs)
				r.Get("/emails", a.handleEmails)
				r.Post("/send-report", a.handleSendReport)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (a *API) corsOptions() cors.Options {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         600,
	}
	if len(a.corsOrigins) > 0 {
		opts.AllowedOrigins = a.corsOrigins
	} else {
		opts.AllowOriginFunc = func(_ *http.Request, origin string) bool { return isLocalOrigin(origin) }
	}
	return opts
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "auditdesk",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Invalid("request body is required")
		}
		return domain.Invalid("malformed JSON body: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.Invalid("unexpected data after JSON body")
	}
	return nil
}
