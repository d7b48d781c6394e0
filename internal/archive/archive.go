// Package archive pushes approved documents to the external document
// management system.
package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Document is the payload for one archived file.
type Document struct {
	RequestID    string    `json:"request_id"`
	RequestTitle string    `json:"request_title"`
	Department   string    `json:"department"`
	DocumentID   string    `json:"document_id"`
	Filename     string    `json:"filename"`
	ContentType  string    `json:"content_type,omitempty"`
	UploadedBy   string    `json:"uploaded_by"`
	UploadedAt   time.Time `json:"uploaded_at"`
	ApprovedBy   string    `json:"approved_by"`
	Content      []byte    `json:"-"`
}

type payload struct {
	Document
	ContentBase64 string `json:"content_base64"`
}

// Client posts documents to the archive endpoint.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewClient returns nil when endpoint is empty, which disables archival.
func NewClient(endpoint, token string, timeout time.Duration) *Client {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{endpoint: endpoint, token: token, client: &http.Client{Timeout: timeout}}
}

// Push uploads one document. Any non-2xx answer is an error.
func (c *Client) Push(ctx context.Context, doc Document) error {
	body, err := json.Marshal(payload{Document: doc, ContentBase64: base64.StdEncoding.EncodeToString(doc.Content)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", doc.DocumentID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("archive push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("archive returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
