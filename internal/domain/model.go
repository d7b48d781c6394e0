package domain

import (
	"strings"
	"time"
)

// Role is the fixed set of capabilities a user signs up with.
type Role string

const (
	RoleAuditor Role = "auditor"
	RoleAuditee Role = "auditee"
	RoleManager Role = "manager"
)

// ParseRole normalizes raw input into a known role.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAuditor:
		return RoleAuditor, true
	case RoleAuditee:
		return RoleAuditee, true
	case RoleManager:
		return RoleManager, true
	default:
		return "", false
	}
}

// CanReview reports whether the role creates and reviews requests.
func (r Role) CanReview() bool {
	return r == RoleAuditor || r == RoleManager
}

// UserProfile is an account created after signup OTP verification.
type UserProfile struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
	EmailVerified bool      `json:"email_verified"`
}

// Status is the lifecycle state of a request.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusInProgress Status = "in_progress"
	StatusRejected   Status = "rejected"
	StatusApproved   Status = "approved"
)

// ParseStatus normalizes raw input into a known status.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusSubmitted:
		return StatusSubmitted, true
	case StatusInProgress:
		return StatusInProgress, true
	case StatusRejected:
		return StatusRejected, true
	case StatusApproved:
		return StatusApproved, true
	default:
		return "", false
	}
}

// DepartmentHumanResources marks requests whose details are hidden from auditors.
const DepartmentHumanResources = "Human Resources"

// IsHRDepartment matches the confidential department regardless of case or padding.
func IsHRDepartment(department string) bool {
	return strings.EqualFold(strings.TrimSpace(department), DepartmentHumanResources)
}

// Request is an audit document request. AssignedTo is empty exactly when
// PendingAssignment is true.
type Request struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	DueDate           time.Time `json:"due_date"`
	Status            Status    `json:"status"`
	CreatedBy         string    `json:"created_by"`
	AssignedTo        string    `json:"assigned_to,omitempty"`
	AssignedToEmail   string    `json:"assigned_to_email"`
	Department        string    `json:"department"`
	CCEmails          []string  `json:"cc_emails"`
	PendingAssignment bool      `json:"pending_assignment"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsHRConfidential reports whether the request belongs to Human Resources.
func (r Request) IsHRConfidential() bool {
	return IsHRDepartment(r.Department)
}

// Assign resolves a pending assignment to a concrete user.
func (r *Request) Assign(userID string, at time.Time) {
	r.AssignedTo = userID
	r.PendingAssignment = false
	r.UpdatedAt = at
}

// Document is a file uploaded against a request. FileURL is never persisted.
type Document struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"request_id"`
	Filename      string    `json:"filename"`
	FilePath      string    `json:"file_path"`
	FileURL       string    `json:"file_url,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	Size          int64     `json:"size"`
	UploadedBy    string    `json:"uploaded_by"`
	UploadedAt    time.Time `json:"uploaded_at"`
	Comments      string    `json:"comments"`
	IsReplacement bool      `json:"is_replacement"`
}

// OTPPurpose separates the login and signup code namespaces.
type OTPPurpose string

const (
	OTPLogin  OTPPurpose = "login"
	OTPSignup OTPPurpose = "signup"
)

// OTPRecord is an outstanding one-time code. Only the bcrypt hash of the code is stored.
type OTPRecord struct {
	Email     string     `json:"email"`
	UserID    string     `json:"user_id,omitempty"`
	Purpose   OTPPurpose `json:"purpose"`
	CodeHash  string     `json:"code_hash"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Verified  bool       `json:"verified"`
	Attempts  int        `json:"attempts,omitempty"`
}

// Expired reports whether the record is no longer redeemable at now.
func (o OTPRecord) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Session is an opaque bearer session created after OTP verification.
type Session struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	LoginMethod string    `json:"login_method"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AuditEntry is an append-only activity record.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	UserID     string         `json:"user_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	DocumentID string         `json:"document_id,omitempty"`
}

// Email delivery outcomes recorded on EmailRecord.
const (
	EmailStatusSent   = "sent"
	EmailStatusFailed = "failed"
)

// EmailRecord logs one dispatch attempt, successful or not.
type EmailRecord struct {
	ID        string    `json:"id"`
	To        []string  `json:"to"`
	CC        []string  `json:"cc,omitempty"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	SentBy    string    `json:"sent_by"`
	SentAt    time.Time `json:"sent_at"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	EmailType string    `json:"email_type"`
}

// NormalizeEmail lower-cases and trims an address for use as a lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
