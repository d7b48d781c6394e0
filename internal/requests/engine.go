// Package requests implements the request lifecycle: creation, visibility,
// status transitions, document uploads and pending-assignment resolution.
package requests

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"auditdesk.io/internal/archive"
	"auditdesk.io/internal/audit"
	"auditdesk.io/internal/blob"
	"auditdesk.io/internal/domain"
	"auditdesk.io/internal/ids"
	"auditdesk.io/internal/obs"
)

const defaultMaxUpload = 25 << 20

// Store is the persistence the engine needs.
type Store interface {
	Users() domain.UserRepository
	Requests() domain.RequestRepository
	Documents() domain.DocumentRepository
}

// Notifier sends lifecycle emails.
type Notifier interface {
	NewRequest(ctx context.Context, req domain.Request, assigneeName, sentBy string) error
	StatusChanged(ctx context.Context, req domain.Request, old domain.Status, to []string, sentBy string) error
}

// Archiver pushes approved documents to the document management system.
type Archiver interface {
	Push(ctx context.Context, doc archive.Document) error
}

// URLSigner mints short-lived download links.
type URLSigner interface {
	URL(key, filename string) (string, error)
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

func WithArchiver(a Archiver) Option { return func(e *Engine) { e.archiver = a } }

func WithAudit(a domain.AuditLogger) Option { return func(e *Engine) { e.audit = a } }

func WithTasks(t domain.TaskRunner) Option { return func(e *Engine) { e.tasks = t } }

func WithSigner(s URLSigner) Option { return func(e *Engine) { e.signer = s } }

// WithMaxUpload caps the accepted document size in bytes.
func WithMaxUpload(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxUpload = n
		}
	}
}

// Engine owns request and document state transitions.
type Engine struct {
	store     Store
	blobs     blob.Store
	signer    URLSigner
	notifier  Notifier
	archiver  Archiver
	audit     domain.AuditLogger
	tasks     domain.TaskRunner
	now       func() time.Time
	maxUpload int64
}

// NewEngine wires the engine over store and blobs.
func NewEngine(store Store, blobs blob.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		blobs:     blobs,
		now:       time.Now,
		maxUpload: defaultMaxUpload,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// View is a request as presented to a particular viewer.
type View struct {
	domain.Request
	HRConfidential bool `json:"hr_confidential"`
	Overdue        bool `json:"overdue"`
}

func (e *Engine) view(viewer domain.UserProfile, req domain.Request) View {
	if req.CCEmails == nil {
		req.CCEmails = []string{}
	}
	return View{
		Request:        req,
		HRConfidential: viewer.Role == domain.RoleAuditor && req.IsHRConfidential(),
		Overdue:        IsOverdue(req, e.now()),
	}
}

// IsOverdue reports whether req is past its due date and not yet approved.
func IsOverdue(req domain.Request, now time.Time) bool {
	return !req.DueDate.IsZero() && now.After(req.DueDate) && req.Status != domain.StatusApproved
}

// ParseDueDate accepts a calendar date (due at the end of that UTC day) or an
// RFC 3339 timestamp.
func ParseDueDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, domain.Invalid("due_date is required")
	}
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d.Add(24*time.Hour - time.Second), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, domain.Invalid("due_date must be YYYY-MM-DD or RFC 3339")
}

// CreateInput holds the fields of a new request.
type CreateInput struct {
	Title           string
	Description     string
	DueDate         time.Time
	AssignedToEmail string
	Department      string
	CCEmails        []string
}

func (in CreateInput) validate() error {
	var missing []string
	if strings.TrimSpace(in.Title) == "" {
		missing = append(missing, "title")
	}
	if in.DueDate.IsZero() {
		missing = append(missing, "due_date")
	}
	if strings.TrimSpace(in.AssignedToEmail) == "" {
		missing = append(missing, "assigned_to_email")
	}
	if strings.TrimSpace(in.Department) == "" {
		missing = append(missing, "department")
	}
	if len(missing) > 0 {
		return domain.Invalid("missing required fields: %s", strings.Join(missing, ", "))
	}
	if !validEmail(in.AssignedToEmail) {
		return domain.Invalid("assigned_to_email is not a valid email address")
	}
	for _, cc := range in.CCEmails {
		if strings.TrimSpace(cc) != "" && !validEmail(cc) {
			return domain.Invalid("cc email %q is not valid", cc)
		}
	}
	return nil
}

func validEmail(raw string) bool {
	email := domain.NormalizeEmail(raw)
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && strings.Count(email, "@") == 1
}

func normalizeCC(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, cc := range in {
		cc = domain.NormalizeEmail(cc)
		if cc == "" {
			continue
		}
		if _, ok := seen[cc]; ok {
			continue
		}
		seen[cc] = struct{}{}
		out = append(out, cc)
	}
	return out
}

// Create stores a new request. If no account exists for the assignee email
// the request waits in pending assignment until that user signs up or uploads.
func (e *Engine) Create(ctx context.Context, creator domain.UserProfile, in CreateInput) (View, error) {
	if err := CanCreateRequest(creator).Err(); err != nil {
		return View{}, err
	}
	if err := in.validate(); err != nil {
		return View{}, err
	}
	now := e.now().UTC()
	req := domain.Request{
		ID:              ids.NewAt(now),
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		DueDate:         in.DueDate.UTC(),
		Status:          domain.StatusSubmitted,
		CreatedBy:       creator.ID,
		AssignedToEmail: domain.NormalizeEmail(in.AssignedToEmail),
		Department:      strings.TrimSpace(in.Department),
		CCEmails:        normalizeCC(in.CCEmails),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	assigneeName := ""
	assignee, err := e.store.Users().FindByEmail(ctx, req.AssignedToEmail)
	switch {
	case err == nil:
		req.AssignedTo = assignee.ID
		assigneeName = assignee.Name
	case errors.Is(err, domain.ErrNotFound):
		req.PendingAssignment = true
	default:
		return View{}, err
	}

	if err := e.store.Requests().Save(ctx, req); err != nil {
		return View{}, err
	}
	e.appendAudit(ctx, domain.AuditEntry{
		Action:    "request_created",
		UserID:    creator.ID,
		RequestID: req.ID,
		Details: map[string]any{
			"title":              req.Title,
			"assigned_to_email":  req.AssignedToEmail,
			"department":         req.Department,
			"pending_assignment": req.PendingAssignment,
			"hr_confidential":    req.IsHRConfidential(),
		},
	})
	if e.notifier != nil {
		e.sideEffect(ctx, "new_request_email", creator.ID, req.ID, func(ctx context.Context) error {
			return e.notifier.NewRequest(ctx, req, assigneeName, creator.ID)
		})
	}
	return e.view(creator, req), nil
}

// List returns the requests visible to viewer, newest first.
func (e *Engine) List(ctx context.Context, viewer domain.UserProfile) ([]View, error) {
	all, err := e.store.Requests().List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(all))
	for _, req := range all {
		if !CanViewRequest(viewer, req).Allowed {
			continue
		}
		out = append(out, e.view(viewer, req))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Get returns one request if viewer may see it.
func (e *Engine) Get(ctx context.Context, viewer domain.UserProfile, id string) (View, error) {
	req, err := e.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := CanViewRequest(viewer, req).Err(); err != nil {
		return View{}, err
	}
	return e.view(viewer, req), nil
}

func (e *Engine) load(ctx context.Context, id string) (domain.Request, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Request{}, domain.Invalid("request id is required")
	}
	req, err := e.store.Requests().Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Request{}, fmt.Errorf("%w: request %s", domain.ErrNotFound, id)
	}
	return req, err
}

// UpdateStatus moves a request to status. Approval queues archival of every
// document on the request.
func (e *Engine) UpdateStatus(ctx context.Context, actor domain.UserProfile, id, rawStatus string) (View, error) {
	req, err := e.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := CanUpdateStatus(actor, req).Err(); err != nil {
		return View{}, err
	}
	status, ok := domain.ParseStatus(rawStatus)
	if !ok {
		return View{}, domain.Invalid("unknown status %q", rawStatus)
	}

	old := req.Status
	req.Status = status
	req.UpdatedAt = e.now().UTC()
	if err := e.store.Requests().Save(ctx, req); err != nil {
		return View{}, err
	}
	e.appendAudit(ctx, domain.AuditEntry{
		Action:    "status_updated",
		UserID:    actor.ID,
		RequestID: req.ID,
		Details: map[string]any{
			"old_status":      string(old),
			"new_status":      string(status),
			"hr_confidential": req.IsHRConfidential(),
		},
	})

	if e.notifier != nil {
		e.sideEffect(ctx, "status_email", actor.ID, req.ID, func(ctx context.Context) error {
			to, err := e.statusRecipients(ctx, req)
			if err != nil {
				return err
			}
			return e.notifier.StatusChanged(ctx, req, old, to, actor.ID)
		})
	}
	if status == domain.StatusApproved {
		if err := e.queueArchival(ctx, actor, req); err != nil {
			obs.Logger().Error("archival scheduling failed", "request_id", req.ID, "error", err.Error())
		}
	}
	return e.view(actor, req), nil
}

// statusRecipients routes submitted to the creating auditor and every other
// status to the assignee.
func (e *Engine) statusRecipients(ctx context.Context, req domain.Request) ([]string, error) {
	if req.Status == domain.StatusSubmitted {
		creator, err := e.store.Users().Get(ctx, req.CreatedBy)
		if err != nil {
			return nil, fmt.Errorf("resolve request creator: %w", err)
		}
		return []string{creator.Email}, nil
	}
	return []string{req.AssignedToEmail}, nil
}

func (e *Engine) queueArchival(ctx context.Context, actor domain.UserProfile, req domain.Request) error {
	if e.archiver == nil {
		return nil
	}
	docs, err := e.store.Documents().ListByRequest(ctx, req.ID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		doc := doc
		e.enqueue("archive_document", func(ctx context.Context) error {
			err := e.archiveOne(ctx, actor, req, doc)
			result, action := "ok", "document_archived"
			details := map[string]any{"filename": doc.Filename}
			if err != nil {
				result, action = "error", "document_archive_failed"
				details["error"] = err.Error()
			}
			obs.ObserveArchive(result)
			e.appendAudit(ctx, domain.AuditEntry{
				Action:     action,
				UserID:     actor.ID,
				RequestID:  req.ID,
				DocumentID: doc.ID,
				Details:    details,
			})
			return err
		})
	}
	return nil
}

func (e *Engine) archiveOne(ctx context.Context, actor domain.UserProfile, req domain.Request, doc domain.Document) error {
	obj, err := e.blobs.Get(ctx, doc.FilePath)
	if err != nil {
		return fmt.Errorf("load %s: %w", doc.FilePath, err)
	}
	return e.archiver.Push(ctx, archive.Document{
		RequestID:    req.ID,
		RequestTitle: req.Title,
		Department:   req.Department,
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		ContentType:  obj.ContentType,
		UploadedBy:   doc.UploadedBy,
		UploadedAt:   doc.UploadedAt,
		ApprovedBy:   actor.ID,
		Content:      obj.Data,
	})
}

// UploadInput describes one uploaded file.
type UploadInput struct {
	RequestID     string
	Filename      string
	ContentType   string
	Data          []byte
	Comments      string
	IsReplacement bool
}

// Upload stores a document against a request and moves the request to
// in_progress. A pending assignee uploading claims the request first.
func (e *Engine) Upload(ctx context.Context, actor domain.UserProfile, in UploadInput) (domain.Document, error) {
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		return domain.Document{}, domain.Invalid("file is required")
	}
	if len(in.Data) == 0 {
		return domain.Document{}, domain.Invalid("file is empty")
	}
	if int64(len(in.Data)) > e.maxUpload {
		return domain.Document{}, domain.Invalid("file exceeds %d bytes", e.maxUpload)
	}
	req, err := e.load(ctx, in.RequestID)
	if err != nil {
		return domain.Document{}, err
	}
	decision := CanUploadDocument(actor, req)
	if err := decision.Err(); err != nil {
		return domain.Document{}, err
	}

	now := e.now().UTC()
	if decision.ResolvesAssignment {
		req.Assign(actor.ID, now)
	}

	docID := ids.NewAt(now)
	key := blob.Key(req.ID, docID, filename)
	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := e.blobs.Put(ctx, key, in.Data, contentType); err != nil {
		return domain.Document{}, fmt.Errorf("%w: store document: %v", domain.ErrInternal, err)
	}
	doc := domain.Document{
		ID:            docID,
		RequestID:     req.ID,
		Filename:      filename,
		FilePath:      key,
		ContentType:   contentType,
		Size:          int64(len(in.Data)),
		UploadedBy:    actor.ID,
		UploadedAt:    now,
		Comments:      strings.TrimSpace(in.Comments),
		IsReplacement: in.IsReplacement,
	}
	if err := e.store.Documents().Save(ctx, doc); err != nil {
		return domain.Document{}, err
	}

	req.Status = domain.StatusInProgress
	req.UpdatedAt = now
	if err := e.store.Requests().Save(ctx, req); err != nil {
		return domain.Document{}, err
	}
	if decision.ResolvesAssignment {
		e.appendAudit(ctx, domain.AuditEntry{
			Action:    "auto_assigned_on_upload",
			UserID:    actor.ID,
			RequestID: req.ID,
			Details:   map[string]any{"email": actor.Email},
		})
	}
	e.appendAudit(ctx, domain.AuditEntry{
		Action:     "document_uploaded",
		UserID:     actor.ID,
		RequestID:  req.ID,
		DocumentID: doc.ID,
		Details: map[string]any{
			"filename":       doc.Filename,
			"size":           doc.Size,
			"is_replacement": doc.IsReplacement,
		},
	})
	e.sign(&doc)
	return doc, nil
}

// Documents lists the documents of a request with fresh download links.
func (e *Engine) Documents(ctx context.Context, actor domain.UserProfile, id string) ([]domain.Document, error) {
	req, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CanViewDocuments(actor, req).Err(); err != nil {
		return nil, err
	}
	docs, err := e.store.Documents().ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		e.sign(&docs[i])
	}
	return docs, nil
}

func (e *Engine) sign(doc *domain.Document) {
	if e.signer == nil {
		return
	}
	link, err := e.signer.URL(doc.FilePath, doc.Filename)
	if err != nil {
		obs.Logger().Error("sign document url failed", "document_id", doc.ID, "error", err.Error())
		return
	}
	doc.FileURL = link
}

// AssignPending hands every request pending on user's email to user and
// returns the ids it changed.
func (e *Engine) AssignPending(ctx context.Context, user domain.UserProfile) ([]string, error) {
	all, err := e.store.Requests().List(ctx)
	if err != nil {
		return nil, err
	}
	var changed []string
	now := e.now().UTC()
	for _, req := range all {
		if !isPendingFor(user, req) {
			continue
		}
		req.Assign(user.ID, now)
		if err := e.store.Requests().Save(ctx, req); err != nil {
			return changed, err
		}
		changed = append(changed, req.ID)
		e.appendAudit(ctx, domain.AuditEntry{
			Action:    "auto_assigned_request",
			UserID:    user.ID,
			RequestID: req.ID,
			Details:   map[string]any{"email": user.Email},
		})
	}
	return changed, nil
}

// sideEffect queues a notification; a failure is recorded in the audit log.
func (e *Engine) sideEffect(ctx context.Context, kind, actorID, requestID string, fn func(ctx context.Context) error) {
	rid := audit.RequestIDFromContext(ctx)
	e.enqueue(kind, func(taskCtx context.Context) error {
		taskCtx = audit.WithRequestID(taskCtx, rid)
		err := fn(taskCtx)
		if err != nil {
			e.appendAudit(taskCtx, domain.AuditEntry{
				Action:    "notification_failed",
				UserID:    actorID,
				RequestID: requestID,
				Details:   map[string]any{"kind": kind, "error": err.Error()},
			})
		}
		return err
	})
}

func (e *Engine) enqueue(kind string, fn func(ctx context.Context) error) {
	if e.tasks == nil {
		if err := fn(context.Background()); err != nil {
			obs.Logger().Warn("side effect failed", "kind", kind, "error", err.Error())
		}
		return
	}
	e.tasks.Enqueue(kind, fn)
}

func (e *Engine) appendAudit(ctx context.Context, entry domain.AuditEntry) {
	if e.audit == nil {
		return
	}
	e.audit.Append(ctx, entry)
}
