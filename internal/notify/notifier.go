package notify

import (
	"context"
	"strings"
	"time"

	"auditdesk.io/internal/domain"
)

// Notifier renders domain events into messages and dispatches them.
type Notifier struct {
	dispatcher *Dispatcher
	publicURL  string
}

// NewNotifier links rendered emails to publicURL when it is set.
func NewNotifier(d *Dispatcher, publicURL string) *Notifier {
	return &Notifier{dispatcher: d, publicURL: strings.TrimRight(strings.TrimSpace(publicURL), "/")}
}

func (n *Notifier) link(path string) string {
	if n.publicURL == "" {
		return ""
	}
	return n.publicURL + path
}

// SendOTP emails a login or signup code.
func (n *Notifier) SendOTP(ctx context.Context, purpose domain.OTPPurpose, email, code string, ttl time.Duration) error {
	content, err := RenderOTP(purpose, code, ttl)
	if err != nil {
		return err
	}
	kind := TypeOTPLogin
	if purpose == domain.OTPSignup {
		kind = TypeOTPSignup
	}
	return n.dispatcher.Send(ctx, Message{
		To:        []string{email},
		Content:   content,
		SentBy:    "system",
		Type:      kind,
		Sensitive: true,
	})
}

// Welcome greets a newly created user.
func (n *Notifier) Welcome(ctx context.Context, user domain.UserProfile) error {
	content, err := RenderWelcome(user, n.link("/"))
	if err != nil {
		return err
	}
	return n.dispatcher.Send(ctx, Message{To: []string{user.Email}, Content: content, SentBy: "system", Type: TypeWelcome})
}

// NewRequest tells the assignee, and CC recipients, about a new request.
func (n *Notifier) NewRequest(ctx context.Context, req domain.Request, assigneeName, sentBy string) error {
	content, err := RenderNewRequest(req, assigneeName, n.link("/requests/"+req.ID))
	if err != nil {
		return err
	}
	return n.dispatcher.Send(ctx, Message{
		To:      []string{req.AssignedToEmail},
		CC:      req.CCEmails,
		Content: content,
		SentBy:  sentBy,
		Type:    TypeNewRequest,
	})
}

// StatusChanged notifies recipients of a status transition.
func (n *Notifier) StatusChanged(ctx context.Context, req domain.Request, old domain.Status, to []string, sentBy string) error {
	content, err := RenderStatusChange(req, old, n.link("/requests/"+req.ID))
	if err != nil {
		return err
	}
	return n.dispatcher.Send(ctx, Message{To: to, CC: req.CCEmails, Content: content, SentBy: sentBy, Type: TypeStatusChange})
}

// Report sends a freeform report on behalf of sender.
func (n *Notifier) Report(ctx context.Context, sender domain.UserProfile, to []string, subject, body string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return domain.Invalid("subject is required")
	}
	if strings.TrimSpace(body) == "" {
		return domain.Invalid("body is required")
	}
	if len(cleanAddresses(to)) == 0 {
		return domain.Invalid("at least one recipient is required")
	}
	content, err := RenderReport(sender.Name, subject, body)
	if err != nil {
		return err
	}
	return n.dispatcher.Send(ctx, Message{To: to, Content: content, SentBy: sender.ID, Type: TypeReport})
}
