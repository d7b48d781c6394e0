// Package notify renders and delivers email and keeps a record of every
// attempt.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"auditdesk.io/internal/domain"
	"auditdesk.io/internal/ids"
	"auditdesk.io/internal/obs"
)

// Email types recorded on EmailRecord.
const (
	TypeOTPLogin     = "otp_login"
	TypeOTPSignup    = "otp_signup"
	TypeWelcome      = "welcome"
	TypeNewRequest   = "new_request"
	TypeStatusChange = "status_change"
	TypeReport       = "report"
)

// Envelope is what a Mailer delivers.
type Envelope struct {
	From      string
	To        []string
	CC        []string
	Subject   string
	HTML      string
	// Sensitive marks a body carrying a secret such as a one-time code.
	Sensitive bool
}

// Mailer hands an envelope to an email relay.
type Mailer interface {
	Deliver(ctx context.Context, env Envelope) error
}

// Message is a rendered email plus bookkeeping fields.
type Message struct {
	To        []string
	CC        []string
	Content   Content
	SentBy    string
	Type      string
	// Sensitive bodies are delivered but never persisted or logged.
	Sensitive bool
}

// redactedBody replaces the stored body of a sensitive message.
const redactedBody = "verification code withheld"

// Dispatcher delivers messages and appends an EmailRecord for each attempt.
type Dispatcher struct {
	mailer Mailer
	emails domain.EmailRepository
	from   string
	now    func() time.Time
}

// NewDispatcher builds a dispatcher. emails may be nil to skip recording.
func NewDispatcher(mailer Mailer, emails domain.EmailRepository, from string) *Dispatcher {
	return &Dispatcher{
		mailer: mailer,
		emails: emails,
		from:   from,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Send delivers msg. The delivery error is returned after the attempt has been
// recorded; recording failures are only logged.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	to := cleanAddresses(msg.To)
	if len(to) == 0 {
		return domain.Invalid("email has no recipients")
	}
	cc := cleanAddresses(msg.CC)

	var err error
	if d.mailer == nil {
		err = errors.New("no mailer configured")
	} else {
		err = d.mailer.Deliver(ctx, Envelope{
			From:      d.from,
			To:        to,
			CC:        cc,
			Subject:   msg.Content.Subject,
			HTML:      msg.Content.HTML,
			Sensitive: msg.Sensitive,
		})
	}

	now := d.now()
	rec := domain.EmailRecord{
		ID:        ids.NewAt(now),
		To:        to,
		CC:        cc,
		Subject:   msg.Content.Subject,
		Body:      msg.Content.HTML,
		SentBy:    msg.SentBy,
		SentAt:    now,
		Status:    domain.EmailStatusSent,
		EmailType: msg.Type,
	}
	if msg.Sensitive {
		rec.Body = redactedBody
	}
	if err != nil {
		rec.Status = domain.EmailStatusFailed
		rec.Error = err.Error()
	}
	obs.ObserveEmail(msg.Type, rec.Status)

	if d.emails != nil {
		if recErr := d.emails.Append(ctx, rec); recErr != nil {
			obs.Logger().Error("email record append failed", "email_type", msg.Type, "error", recErr.Error())
		}
	}
	if err != nil {
		return fmt.Errorf("send %s email: %w", msg.Type, err)
	}
	return nil
}

func cleanAddresses(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, addr := range in {
		addr = domain.NormalizeEmail(addr)
		if addr == "" || !strings.Contains(addr, "@") {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
