package requests

import "auditdesk.io/internal/domain"

// Decision is the outcome of a capability check.
type Decision struct {
	Allowed      bool
	Reason       string
	Confidential bool
	// ResolvesAssignment is set when the actor is acting on a request that is
	// still pending assignment to their email.
	ResolvesAssignment bool
}

// Err converts a denial into a PermissionError, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &domain.PermissionError{Reason: d.Reason, Confidential: d.Confidential}
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

func denyConfidential(reason string) Decision {
	return Decision{Reason: reason, Confidential: true}
}

const hrReason = "Human Resources requests are confidential; contact a manager"

func isAssignee(actor domain.UserProfile, req domain.Request) bool {
	return req.AssignedTo != "" && req.AssignedTo == actor.ID
}

func isPendingFor(actor domain.UserProfile, req domain.Request) bool {
	return req.PendingAssignment && req.AssignedToEmail != "" &&
		domain.NormalizeEmail(req.AssignedToEmail) == domain.NormalizeEmail(actor.Email)
}

// CanCreateRequest allows auditors and managers.
func CanCreateRequest(actor domain.UserProfile) Decision {
	if !actor.Role.CanReview() {
		return deny("only auditors and managers can create requests")
	}
	return allow()
}

// CanViewRequest allows reviewers, the assignee and the pending assignee.
func CanViewRequest(actor domain.UserProfile, req domain.Request) Decision {
	if actor.Role.CanReview() || isAssignee(actor, req) || isPendingFor(actor, req) {
		return allow()
	}
	return deny("request is not assigned to you")
}

// CanUpdateStatus allows auditors and managers, except auditors on Human
// Resources requests.
func CanUpdateStatus(actor domain.UserProfile, req domain.Request) Decision {
	if !actor.Role.CanReview() {
		return deny("only auditors and managers can update status")
	}
	if req.IsHRConfidential() && actor.Role != domain.RoleManager {
		return denyConfidential(hrReason)
	}
	return allow()
}

// CanUploadDocument allows the assignee, the pending assignee and auditors.
// Auditors are blocked on Human Resources requests.
func CanUploadDocument(actor domain.UserProfile, req domain.Request) Decision {
	switch {
	case isAssignee(actor, req):
		return allow()
	case isPendingFor(actor, req):
		return Decision{Allowed: true, ResolvesAssignment: true}
	case actor.Role == domain.RoleAuditor:
		if req.IsHRConfidential() {
			return denyConfidential(hrReason)
		}
		return allow()
	default:
		return deny("only the assignee or an auditor can upload documents")
	}
}

// CanViewDocuments follows the upload rule and also admits managers.
func CanViewDocuments(actor domain.UserProfile, req domain.Request) Decision {
	switch {
	case actor.Role == domain.RoleAuditor && req.IsHRConfidential():
		return denyConfidential(hrReason)
	case actor.Role.CanReview(), isAssignee(actor, req), isPendingFor(actor, req):
		return allow()
	default:
		return deny("request is not assigned to you")
	}
}
