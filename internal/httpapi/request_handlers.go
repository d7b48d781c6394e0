package httpapi

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"auditdesk.io/internal/blob"
	"auditdesk.io/internal/domain"
	"auditdesk.io/internal/requests"
)

const multipartMemory = 32 << 20

type createRequestBody struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	DueDate         string   `json:"due_date"`
	AssignedToEmail string   `json:"assigned_to_email"`
	Department      string   `json:"department"`
	CCEmails        []string `json:"cc_emails"`
}

type updateStatusBody struct {
	Status string `json:"status"`
}

type reportBody struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

func (a *API) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		handleError(w, r, err)
		return
	}
	in := requests.CreateInput{
		Title:           body.Title,
		Description:     body.Description,
		AssignedToEmail: body.AssignedToEmail,
		Department:      body.Department,
		CCEmails:        body.CCEmails,
	}
	if strings.TrimSpace(body.DueDate) != "" {
		due, err := requests.ParseDueDate(body.DueDate)
		if err != nil {
			handleError(w, r, err)
			return
		}
		in.DueDate = due
	}
	view, err := a.svc.Requests.Create(r.Context(), currentUser(r), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleListRequests(w http.ResponseWriter, r *http.Request) {
	views, err := a.svc.Requests.List(r.Context(), currentUser(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": views})
}

func (a *API) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.Requests.Get(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body updateStatusBody
	if err := decodeJSON(w, r, &body); err != nil {
		handleError(w, r, err)
		return
	}
	view, err := a.svc.Requests.UpdateStatus(r.Context(), currentUser(r), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleUpload accepts multipart/form-data with fields file, request_id,
// comments and is_replacement.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload+multipartMemory/32)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(a.maxUpload, 10)+" bytes")
			return
		}
		handleError(w, r, domain.Invalid("malformed multipart body: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		handleError(w, r, domain.Invalid("file is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, a.maxUpload+1))
	if err != nil {
		handleError(w, r, err)
		return
	}

	replacement := false
	if raw := strings.TrimSpace(r.FormValue("is_replacement")); raw != "" {
		replacement, err = strconv.ParseBool(raw)
		if err != nil {
			handleError(w, r, domain.Invalid("is_replacement must be a boolean"))
			return
		}
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	doc, err := a.svc.Requests.Upload(r.Context(), currentUser(r), requests.UploadInput{
		RequestID:     r.FormValue("request_id"),
		Filename:      header.Filename,
		ContentType:   contentType,
		Data:          data,
		Comments:      r.FormValue("comments"),
		IsReplacement: replacement,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (a *API) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := a.svc.Requests.Documents(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := a.svc.Audit.List(r.Context(), currentUser(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			handleError(w, r, domain.Invalid("limit must be a positive integer"))
			return
		}
		if n < len(entries) {
			entries = entries[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (a *API) handleEmails(w http.ResponseWriter, r *http.Request) {
	records, err := a.svc.Emails.List(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"emails": records})
}

func (a *API) handleSendReport(w http.ResponseWriter, r *http.Request) {
	var body reportBody
	if err := decodeJSON(w, r, &body); err != nil {
		handleError(w, r, err)
		return
	}
	sender := currentUser(r)
	if err := a.svc.Notifier.Report(r.Context(), sender, body.To, body.Subject, body.Body); err != nil {
		handleError(w, r, err)
		return
	}
	a.svc.Audit.Append(r.Context(), domain.AuditEntry{
		Action:  "report_sent",
		UserID:  sender.ID,
		Details: map[string]any{"to": body.To, "subject": body.Subject},
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "report sent"})
}

// handleFile serves a blob behind a signed link.
func (a *API) handleFile(w http.ResponseWriter, r *http.Request) {
	if a.svc.Signer == nil || a.svc.Blobs == nil {
		writeError(w, r, http.StatusNotFound, "file links are disabled")
		return
	}
	key, filename, err := a.svc.Signer.Verify(r.URL.Query().Get("token"))
	if err != nil {
		writeErrorBody(w, r, http.StatusForbidden, errorBody{Error: "file link is invalid or expired", Code: "link_expired"})
		return
	}
	obj, err := a.svc.Blobs.Get(r.Context(), key)
	if errors.Is(err, blob.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Cache-Control", "private, max-age=0")
	http.ServeContent(w, r, filename, obj.StoredAt.Truncate(time.Second), bytes.NewReader(obj.Data))
}
