package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseRoleAndStatus(t *testing.T) {
	if r, ok := ParseRole(" Manager "); !ok || r != RoleManager {
		t.Fatalf("ParseRole manager = %q, %v", r, ok)
	}
	if _, ok := ParseRole("admin"); ok {
		t.Fatal("admin is not a role")
	}
	if s, ok := ParseStatus("IN_PROGRESS"); !ok || s != StatusInProgress {
		t.Fatalf("ParseStatus = %q, %v", s, ok)
	}
	if _, ok := ParseStatus("closed"); ok {
		t.Fatal("closed is not a status")
	}
	if RoleAuditee.CanReview() || !RoleAuditor.CanReview() {
		t.Fatal("only auditors and managers review")
	}
}

func TestHRDepartmentMatching(t *testing.T) {
	for _, dept := range []string{"Human Resources", " human resources ", "HUMAN RESOURCES"} {
		if !(Request{Department: dept}).IsHRConfidential() {
			t.Fatalf("%q should be HR", dept)
		}
	}
	if (Request{Department: "Human Resources Ops"}).IsHRConfidential() {
		t.Fatal("partial match must not count as HR")
	}
}

func TestAssignClearsPending(t *testing.T) {
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	r := Request{PendingAssignment: true, AssignedToEmail: "bob@corp.com"}
	r.Assign("u2", at)
	if r.PendingAssignment || r.AssignedTo != "u2" || !r.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected request after Assign %+v", r)
	}
}

func TestExpiryBoundary(t *testing.T) {
	exp := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	otp := OTPRecord{ExpiresAt: exp}
	if otp.Expired(exp.Add(-time.Nanosecond)) {
		t.Fatal("code should be valid just before expires_at")
	}
	if !otp.Expired(exp) {
		t.Fatal("code presented at exactly expires_at must be expired")
	}
	if !(Session{ExpiresAt: exp}).Expired(exp) {
		t.Fatal("session at expires_at must be expired")
	}
}

func TestPermissionErrorMatching(t *testing.T) {
	err := fmt.Errorf("update status: %w", &PermissionError{Reason: "hr", Confidential: true})
	if !errors.Is(err, ErrPermission) {
		t.Fatal("PermissionError should match ErrPermission")
	}
	if !IsConfidential(err) {
		t.Fatal("expected confidential")
	}
	if IsConfidential(&PermissionError{Reason: "role"}) {
		t.Fatal("plain denial is not confidential")
	}
	if !errors.Is(Invalid("x %d", 1), ErrValidation) {
		t.Fatal("Invalid should wrap ErrValidation")
	}
}
