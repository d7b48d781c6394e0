package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"auditdesk.io/internal/obs"
)

// HTTPMailer posts envelopes as JSON to a transactional email API.
type HTTPMailer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPMailer returns a relay client. timeout bounds each delivery.
func NewHTTPMailer(endpoint, apiKey string, timeout time.Duration) *HTTPMailer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPMailer{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type relayPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (m *HTTPMailer) Deliver(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(relayPayload{From: env.From, To: env.To, CC: env.CC, Subject: env.Subject, HTML: env.HTML})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("email relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// LogMailer writes envelopes to the log instead of sending them. Used when no
// relay endpoint is configured.
type LogMailer struct{}

func (LogMailer) Deliver(_ context.Context, env Envelope) error {
	obs.Logger().Info("email not sent, no relay configured",
		"to", env.To,
		"cc", env.CC,
		"subject", env.Subject,
	)
	if !env.Sensitive {
		obs.Logger().Debug("email body", "subject", env.Subject, "html", env.HTML)
	}
	return nil
}
