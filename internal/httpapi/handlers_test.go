package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"auditdesk.io/internal/audit"
	"auditdesk.io/internal/auth"
	"auditdesk.io/internal/blob"
	"auditdesk.io/internal/domain"
	"auditdesk.io/internal/kv"
	"auditdesk.io/internal/notify"
	"auditdesk.io/internal/outbox"
	"auditdesk.io/internal/repo"
	"auditdesk.io/internal/requests"
)

// codeMailer remembers issued codes and forwards to the real notifier.
type codeMailer struct {
	mu    sync.Mutex
	codes map[string]string
	next  auth.CodeMailer
}

func (m *codeMailer) SendOTP(ctx context.Context, purpose domain.OTPPurpose, email, code string, ttl time.Duration) error {
	m.mu.Lock()
	m.codes[string(purpose)+":"+email] = code
	m.mu.Unlock()
	return m.next.SendOTP(ctx, purpose, email, code, ttl)
}

func (m *codeMailer) Welcome(ctx context.Context, u domain.UserProfile) error {
	return m.next.Welcome(ctx, u)
}

func (m *codeMailer) code(purpose domain.OTPPurpose, email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[string(purpose)+":"+email]
}

type relayRecorder struct {
	mu   sync.Mutex
	sent []notify.Envelope
}

func (r *relayRecorder) Deliver(_ context.Context, env notify.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return nil
}

type apiClient struct {
	t       *testing.T
	baseURL string
	client  *http.Client
	codes   *codeMailer
}

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	store := kv.NewMemory()
	repos := repo.New(store)
	tasks := outbox.Inline{}
	auditLog := audit.New(repos.AuditLogs())
	dispatcher := notify.NewDispatcher(&relayRecorder{}, repos.Emails(), "audits@corp.com")
	notifier := notify.NewNotifier(dispatcher, srv.URL)
	blobs := blob.NewMemory()
	signer := blob.NewSigner([]byte("file-secret"), srv.URL, time.Hour)

	engine := requests.NewEngine(repos, blobs,
		requests.WithNotifier(notifier),
		requests.WithAudit(auditLog),
		requests.WithTasks(tasks),
		requests.WithSigner(signer),
	)
	codes := &codeMailer{codes: map[string]string{}, next: notifier}
	issuer, err := auth.NewTokenIssuer("jwt-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	authSvc, err := auth.NewService(repos,
		auth.WithMailer(codes),
		auth.WithAudit(auditLog),
		auth.WithAssigner(engine),
		auth.WithTasks(tasks),
		auth.WithTokens(issuer),
		auth.WithAllowedDomains([]string{"corp.com"}),
		auth.WithHashCost(bcrypt.MinCost),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	api := New(Services{
		Auth:     authSvc,
		Requests: engine,
		Audit:    auditLog,
		Emails:   repos.Emails(),
		Notifier: notifier,
		Blobs:    blobs,
		Signer:   signer,
		Ready:    ReadyProbe{Store: store},
	}, opts...)
	handler = api.Handler()

	return &apiClient{t: t, baseURL: srv.URL, client: srv.Client(), codes: codes}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, token)
}

// signup runs the OTP signup flow and returns the session token.
func (c *apiClient) signup(email, name, role string) string {
	c.t.Helper()
	resp := c.post("/api/send-signup-otp", map[string]string{"email": email}, "")
	expectStatus(c.t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/api/verify-otp-signup", map[string]string{
		"email": email,
		"otp":   c.codes.code(domain.OTPSignup, email),
		"name":  name,
		"role":  role,
	}, "")
	expectStatus(c.t, resp, http.StatusCreated)
	res := decode[auth.LoginResult](c.t, resp)
	if res.SessionToken == "" {
		c.t.Fatal("expected a session token")
	}
	return res.SessionToken
}

func (c *apiClient) upload(token, requestID, filename, content string) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		c.t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	_ = mw.WriteField("request_id", requestID)
	_ = mw.WriteField("comments", "first pass")
	_ = mw.WriteField("is_replacement", "false")
	if err := mw.Close(); err != nil {
		c.t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("upload: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var out T
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	if r.StatusCode != want {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", want, r.StatusCode, body)
	}
}

func TestHealthzAndReady(t *testing.T) {
	c := newTestAPI(t, WithVersion("1.2.3"))

	resp := c.get("/healthz", "")
	expectStatus(t, resp, http.StatusOK)
	health := decode[map[string]string](t, resp)
	if health["version"] != "1.2.3" {
		t.Fatalf("unexpected healthz payload %v", health)
	}

	resp = c.get("/readyz", "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}
}

func TestSignupLoginProfileLogout(t *testing.T) {
	c := newTestAPI(t)
	c.signup("jane@corp.com", "Jane", "auditee")

	resp := c.post("/api/send-otp", map[string]string{"email": "jane@corp.com"}, "")
	expectStatus(t, resp, http.StatusOK)
	sent := decode[otpSentResponse](t, resp)
	if sent.ExpiresIn <= 0 {
		t.Fatalf("expected expires_in, got %+v", sent)
	}

	resp = c.post("/api/verify-login-otp", map[string]string{
		"email": "jane@corp.com",
		"otp":   c.codes.code(domain.OTPLogin, "jane@corp.com"),
	}, "")
	expectStatus(t, resp, http.StatusOK)
	login := decode[auth.LoginResult](t, resp)
	if login.AccessToken == "" {
		t.Fatal("expected a JWT access token")
	}

	for _, token := range []string{login.SessionToken, login.AccessToken} {
		resp = c.get("/api/profile", token)
		expectStatus(t, resp, http.StatusOK)
		profile := decode[domain.UserProfile](t, resp)
		if profile.Email != "jane@corp.com" || profile.Role != domain.RoleAuditee {
			t.Fatalf("unexpected profile %+v", profile)
		}
	}

	resp = c.post("/api/logout", nil, login.SessionToken)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.get("/api/profile", login.SessionToken)
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	resp.Body.Close()
}

func TestVerifyLoginRejectsWrongCode(t *testing.T) {
	c := newTestAPI(t)
	c.signup("jane@corp.com", "Jane", "auditee")

	resp := c.post("/api/send-otp", map[string]string{"email": "jane@corp.com"}, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	wrong := "000000"
	if c.codes.code(domain.OTPLogin, "jane@corp.com") == wrong {
		wrong = "111111"
	}
	resp = c.post("/api/verify-login-otp", map[string]string{"email": "jane@corp.com", "otp": wrong}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	body := decode[errorBody](t, resp)
	if body.Code != "invalid_code" || body.RequestID == "" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestSendOTPErrors(t *testing.T) {
	c := newTestAPI(t, WithOTPRateLimit(2))

	resp := c.post("/api/send-otp", map[string]string{"email": "ghost@corp.com"}, "")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.post("/api/send-signup-otp", map[string]string{"email": "a@evil.com"}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.post("/api/send-signup-otp", map[string]any{"email": "a@corp.com", "extra": true}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// Buckets are per email, case-insensitive.
	for i := 0; i < 2; i++ {
		resp = c.post("/api/send-signup-otp", map[string]string{"email": "b@corp.com"}, "")
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
	resp = c.post("/api/send-signup-otp", map[string]string{"email": "B@corp.com"}, "")
	expectStatus(t, resp, http.StatusTooManyRequests)
	resp.Body.Close()
}

func TestMissingBearerIsUnauthorized(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/api/requests", "")
	expectStatus(t, resp, http.StatusUnauthorized)
	if got := resp.Header.Get("WWW-Authenticate"); !strings.Contains(got, "Bearer") {
		t.Fatalf("unexpected WWW-Authenticate %q", got)
	}
	resp.Body.Close()
}

func TestAuditeeCannotCreateRequests(t *testing.T) {
	c := newTestAPI(t)
	token := c.signup("jane@corp.com", "Jane", "auditee")

	resp := c.post("/api/requests", map[string]any{
		"title":             "Payroll",
		"due_date":          "2030-01-01",
		"assigned_to_email": "jane@corp.com",
	}, token)
	expectStatus(t, resp, http.StatusForbidden)
	if !strings.Contains(resp.Header.Get("WWW-Authenticate"), "insufficient_scope") {
		t.Fatal("expected insufficient_scope challenge")
	}
	resp.Body.Close()
}

func TestRequestLifecycle(t *testing.T) {
	c := newTestAPI(t)
	auditor := c.signup("alice@corp.com", "Alice", "auditor")

	// Assignee has no account yet, so the request waits in pending assignment.
	resp := c.post("/api/requests", map[string]any{
		"title":             "Q3 bank statements",
		"description":       "All accounts",
		"due_date":          "2030-01-31",
		"assigned_to_email": "bob@corp.com",
		"department":        "Finance",
		"cc_emails":         []string{"cfo@corp.com"},
	}, auditor)
	expectStatus(t, resp, http.StatusCreated)
	created := decode[requests.View](t, resp)
	if !created.PendingAssignment || created.Status != domain.StatusSubmitted {
		t.Fatalf("unexpected created request %+v", created)
	}

	bob := c.signup("bob@corp.com", "Bob", "auditee")
	resp = c.get("/api/requests", bob)
	expectStatus(t, resp, http.StatusOK)
	list := decode[map[string][]requests.View](t, resp)
	if len(list["requests"]) != 1 || list["requests"][0].AssignedTo == "" {
		t.Fatalf("signup should claim the pending request, got %+v", list)
	}

	resp = c.upload(bob, created.ID, "statement.pdf", "%PDF-1.4 statement")
	expectStatus(t, resp, http.StatusCreated)
	doc := decode[domain.Document](t, resp)
	if doc.FileURL == "" || doc.Size == 0 {
		t.Fatalf("unexpected document %+v", doc)
	}

	resp = c.get("/api/requests/"+created.ID, auditor)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[requests.View](t, resp); got.Status != domain.StatusInProgress {
		t.Fatalf("expected in_progress after upload, got %s", got.Status)
	}

	resp = c.get("/api/requests/"+created.ID+"/documents", auditor)
	expectStatus(t, resp, http.StatusOK)
	docs := decode[map[string][]domain.Document](t, resp)["documents"]
	if len(docs) != 1 || docs[0].FileURL == "" {
		t.Fatalf("expected one signed document, got %+v", docs)
	}

	fileResp, err := c.client.Get(docs[0].FileURL)
	if err != nil {
		t.Fatalf("fetch file: %v", err)
	}
	expectStatus(t, fileResp, http.StatusOK)
	content, _ := io.ReadAll(fileResp.Body)
	fileResp.Body.Close()
	if string(content) != "%PDF-1.4 statement" {
		t.Fatalf("unexpected file content %q", content)
	}
	if !strings.Contains(fileResp.Header.Get("Content-Disposition"), "statement.pdf") {
		t.Fatalf("unexpected disposition %q", fileResp.Header.Get("Content-Disposition"))
	}

	resp = c.do(http.MethodPut, "/api/requests/"+created.ID+"/status", map[string]string{"status": "closed"}, auditor)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodPut, "/api/requests/"+created.ID+"/status", map[string]string{"status": "approved"}, auditor)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[requests.View](t, resp); got.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", got.Status)
	}

	resp = c.do(http.MethodPut, "/api/requests/"+created.ID+"/status", map[string]string{"status": "rejected"}, bob)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.get("/api/emails", auditor)
	expectStatus(t, resp, http.StatusOK)
	emails := decode[map[string][]domain.EmailRecord](t, resp)["emails"]
	types := map[string]bool{}
	for _, e := range emails {
		types[e.EmailType] = true
	}
	if !types[notify.TypeNewRequest] || !types[notify.TypeStatusChange] {
		t.Fatalf("expected new_request and status_change emails, got %v", types)
	}

	resp = c.get("/api/audit-logs?limit=2", auditor)
	expectStatus(t, resp, http.StatusOK)
	logs := decode[map[string][]domain.AuditEntry](t, resp)["logs"]
	if len(logs) != 2 {
		t.Fatalf("expected limit to apply, got %d entries", len(logs))
	}
	if logs[0].Action != "status_updated" {
		t.Fatalf("expected newest entry first, got %s", logs[0].Action)
	}
}

func TestHRDocumentsAreConfidentialForAuditors(t *testing.T) {
	c := newTestAPI(t)
	manager := c.signup("mia@corp.com", "Mia", "manager")
	auditor := c.signup("alice@corp.com", "Alice", "auditor")

	resp := c.post("/api/requests", map[string]any{
		"title":             "Salary bands",
		"due_date":          "2030-01-31",
		"assigned_to_email": "hr@corp.com",
		"department":        "Human Resources",
	}, manager)
	expectStatus(t, resp, http.StatusCreated)
	created := decode[requests.View](t, resp)

	resp = c.get("/api/requests/"+created.ID, auditor)
	expectStatus(t, resp, http.StatusOK)
	if view := decode[requests.View](t, resp); !view.HRConfidential {
		t.Fatal("expected hr_confidential for auditor")
	}

	resp = c.get("/api/requests/"+created.ID+"/documents", auditor)
	expectStatus(t, resp, http.StatusForbidden)
	body := decode[errorBody](t, resp)
	if !body.Confidential {
		t.Fatalf("expected confidential denial, got %+v", body)
	}

	resp = c.do(http.MethodPut, "/api/requests/"+created.ID+"/status", map[string]string{"status": "approved"}, auditor)
	expectStatus(t, resp, http.StatusForbidden)
	if body := decode[errorBody](t, resp); !body.Confidential {
		t.Fatalf("expected confidential status denial, got %+v", body)
	}

	resp = c.get("/api/requests/"+created.ID+"/documents", manager)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestSendReport(t *testing.T) {
	c := newTestAPI(t)
	auditor := c.signup("alice@corp.com", "Alice", "auditor")

	resp := c.post("/api/send-report", map[string]any{"to": []string{}, "subject": "x", "body": "y"}, auditor)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.post("/api/send-report", map[string]any{
		"to":      []string{"board@corp.com"},
		"subject": "Audit summary",
		"body":    "<p>All clear</p>",
	}, auditor)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/api/emails", auditor)
	expectStatus(t, resp, http.StatusOK)
	emails := decode[map[string][]domain.EmailRecord](t, resp)["emails"]
	if len(emails) == 0 || emails[0].EmailType != notify.TypeReport || emails[0].Status != domain.EmailStatusSent {
		t.Fatalf("expected a sent report record first, got %+v", emails)
	}
}

func TestFileLinkRejectsBadToken(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/files/statement.pdf?"+url.Values{"token": {"garbage"}}.Encode(), "")
	expectStatus(t, resp, http.StatusForbidden)
	if body := decode[errorBody](t, resp); body.Code != "link_expired" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/api/nope", "")
	expectStatus(t, resp, http.StatusNotFound)
	if body := decode[errorBody](t, resp); body.Code != "not_found" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestKeyedLimiterSweepsIdleBuckets(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("a@corp.com") || l.Allow("A@corp.com") {
		t.Fatal("expected one token per key")
	}
	now = now.Add(5 * time.Minute)
	if !l.Allow("b@corp.com") {
		t.Fatal("expected fresh bucket")
	}
	l.mu.Lock()
	_, stale := l.buckets["a@corp.com"]
	l.mu.Unlock()
	if stale {
		t.Fatal("expected idle bucket to be swept")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc":   true,
		"bearer abc":   true,
		"":             false,
		"Basic abc":    false,
		"Bearer    ":   false,
		"  Bearer xyz": true,
	}
	for header, ok := range cases {
		_, err := extractBearerToken(header)
		if ok != (err == nil) {
			t.Fatalf("extractBearerToken(%q) err=%v", header, err)
		}
	}
}

func TestEmailLogNeverExposesCodes(t *testing.T) {
	c := newTestAPI(t)
	c.signup("boss@corp.com", "Boss", "manager")
	auditor := c.signup("alice@corp.com", "Alice", "auditor")

	resp := c.post("/api/send-otp", map[string]string{"email": "boss@corp.com"}, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	code := c.codes.code(domain.OTPLogin, "boss@corp.com")
	if code == "" {
		t.Fatal("expected a login code to be issued")
	}
	secrets := []string{
		code,
		c.codes.code(domain.OTPSignup, "boss@corp.com"),
		c.codes.code(domain.OTPSignup, "alice@corp.com"),
	}

	resp = c.get("/api/emails", auditor)
	expectStatus(t, resp, http.StatusOK)
	emails := decode[map[string][]domain.EmailRecord](t, resp)["emails"]
	var otpRecords int
	for _, e := range emails {
		for _, secret := range secrets {
			if strings.Contains(e.Body, secret) || strings.Contains(e.Subject, secret) {
				t.Fatalf("%s email record exposes a code: %+v", e.EmailType, e)
			}
		}
		if e.EmailType == notify.TypeOTPLogin || e.EmailType == notify.TypeOTPSignup {
			otpRecords++
		}
	}
	if otpRecords != 3 {
		t.Fatalf("expected the 3 code emails to stay on record, got %d", otpRecords)
	}
}

func TestVerifyAttemptsAreLimitedPerEmail(t *testing.T) {
	c := newTestAPI(t, WithOTPRateLimit(2))
	c.signup("jane@corp.com", "Jane", "auditee")

	resp := c.post("/api/send-otp", map[string]string{"email": "jane@corp.com"}, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	code := c.codes.code(domain.OTPLogin, "jane@corp.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	// Each guess claims a different client address.
	verify := func(otp, forwardedFor string) *http.Response {
		buf, _ := json.Marshal(map[string]string{"email": "JANE@corp.com", "otp": otp})
		req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/verify-login-otp", bytes.NewReader(buf))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		resp, err := c.client.Do(req)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		return resp
	}
	for i, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		resp = verify(wrong, ip)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("guess %d: expected 400, got %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}
	resp = verify(code, "203.0.113.3")
	expectStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After")
	}
	resp.Body.Close()
}

func TestStatusUpdateLooksUpRequestBeforeRole(t *testing.T) {
	c := newTestAPI(t)
	auditee := c.signup("jane@corp.com", "Jane", "auditee")

	resp := c.do(http.MethodPut, "/api/requests/01HZZZZZZZZZZZZZZZZZZZZZZZ/status", map[string]string{"status": "approved"}, auditee)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}
