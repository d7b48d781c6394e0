package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"auditdesk.io/internal/domain"
)

// Content is a rendered email.
type Content struct {
	Subject string
	HTML    string
}

const layout = `{{define "layout"}}<!doctype html>
<html><body style="font-family:Arial,sans-serif;color:#1f2933">
<h2 style="color:#0b5394">{{.Heading}}</h2>
{{template "body" .}}
<p style="font-size:12px;color:#7b8794">This message was sent by auditdesk. Please do not reply.</p>
</body></html>{{end}}`

var (
	newRequestTmpl = mustTemplate("new_request", `{{define "body"}}
<p>Hello {{.Name}},</p>
<p>A new document request has been assigned to you.</p>
<table cellpadding="4">
<tr><td><b>Title</b></td><td>{{.Request.Title}}</td></tr>
<tr><td><b>Department</b></td><td>{{.Request.Department}}</td></tr>
<tr><td><b>Due</b></td><td>{{.Due}}</td></tr>
</table>
{{if .Request.Description}}<p>{{.Request.Description}}</p>{{end}}
{{if .Link}}<p><a href="{{.Link}}">Open the request</a></p>{{end}}
{{if .Request.PendingAssignment}}<p>Sign up with this email address to access the request.</p>{{end}}
{{end}}`)

	statusTmpl = mustTemplate("status", `{{define "body"}}
<p>The request <b>{{.Request.Title}}</b> ({{.Request.Department}}) {{.Verb}}.</p>
<p>Previous status: {{.Old}}<br>Current status: {{.New}}</p>
{{if .Hint}}<p>{{.Hint}}</p>{{end}}
{{if .Link}}<p><a href="{{.Link}}">Open the request</a></p>{{end}}
{{end}}`)

	welcomeTmpl = mustTemplate("welcome", `{{define "body"}}
<p>Hello {{.User.Name}},</p>
<p>Your {{.User.Role}} account for {{.User.Email}} is ready.</p>
{{if .Link}}<p><a href="{{.Link}}">Sign in</a></p>{{end}}
{{end}}`)

	otpTmpl = mustTemplate("otp", `{{define "body"}}
<p>Your {{.Action}} code is:</p>
<p style="font-size:28px;letter-spacing:6px"><b>{{.Code}}</b></p>
<p>The code expires in {{.Minutes}} minutes. If you did not ask for it, ignore this email.</p>
{{end}}`)

	reportTmpl = mustTemplate("report", `{{define "body"}}
<p>Report shared by {{.Sender}}.</p>
<div>{{.Body}}</div>
{{end}}`)
)

func mustTemplate(name, body string) *template.Template {
	t := template.Must(template.New(name).Parse(layout))
	return template.Must(t.Parse(body))
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func dueLabel(t time.Time) string {
	if t.IsZero() {
		return "not set"
	}
	return t.UTC().Format("2006-01-02")
}

// RenderNewRequest renders the assignment notice for a new request.
func RenderNewRequest(req domain.Request, assigneeName, link string) (Content, error) {
	name := strings.TrimSpace(assigneeName)
	if name == "" {
		name = req.AssignedToEmail
	}
	html, err := render(newRequestTmpl, map[string]any{
		"Heading": "New document request",
		"Name":    name,
		"Request": req,
		"Due":     dueLabel(req.DueDate),
		"Link":    link,
	})
	if err != nil {
		return Content{}, err
	}
	return Content{Subject: "New document request: " + req.Title, HTML: html}, nil
}

// RenderStatusChange renders the notice for a status transition. Statuses
// without a dedicated wording fall back to a generic update.
func RenderStatusChange(req domain.Request, old domain.Status, link string) (Content, error) {
	verb, hint, subject := "was updated", "", "Request status updated: "+req.Title
	switch req.Status {
	case domain.StatusSubmitted:
		verb = "was submitted for review"
		hint = "Please review the uploaded documents."
		subject = "Request submitted for review: " + req.Title
	case domain.StatusApproved:
		verb = "was approved"
		hint = "No further action is needed."
		subject = "Request approved: " + req.Title
	case domain.StatusRejected:
		verb = "was rejected"
		hint = "Please upload corrected documents."
		subject = "Request rejected: " + req.Title
	}
	html, err := render(statusTmpl, map[string]any{
		"Heading": "Request status update",
		"Request": req,
		"Verb":    verb,
		"Hint":    hint,
		"Old":     string(old),
		"New":     string(req.Status),
		"Link":    link,
	})
	if err != nil {
		return Content{}, err
	}
	return Content{Subject: subject, HTML: html}, nil
}

// RenderWelcome renders the post-signup greeting.
func RenderWelcome(user domain.UserProfile, link string) (Content, error) {
	html, err := render(welcomeTmpl, map[string]any{
		"Heading": "Welcome to auditdesk",
		"User":    user,
		"Link":    link,
	})
	if err != nil {
		return Content{}, err
	}
	return Content{Subject: "Welcome to auditdesk", HTML: html}, nil
}

// RenderOTP renders a login or signup code.
func RenderOTP(purpose domain.OTPPurpose, code string, ttl time.Duration) (Content, error) {
	action, subject := "sign-in", "Your auditdesk sign-in code"
	if purpose == domain.OTPSignup {
		action, subject = "sign-up", "Verify your email for auditdesk"
	}
	html, err := render(otpTmpl, map[string]any{
		"Heading": "Verification code",
		"Action":  action,
		"Code":    code,
		"Minutes": int(ttl.Round(time.Minute) / time.Minute),
	})
	if err != nil {
		return Content{}, err
	}
	return Content{Subject: subject, HTML: html}, nil
}

// RenderReport wraps a report body written by an auditor or manager. The body
// is sent as authored markup.
func RenderReport(sender, subject, body string) (Content, error) {
	html, err := render(reportTmpl, map[string]any{
		"Heading": subject,
		"Sender":  sender,
		"Body":    template.HTML(body),
	})
	if err != nil {
		return Content{}, err
	}
	return Content{Subject: subject, HTML: html}, nil
}
