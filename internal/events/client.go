package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "nybot/pkg/logx"
)

// SecretHeader carries the shared secret on ingestion calls.
const SecretHeader = "X-Auth-Secret"

// IngestPath is the backend route that accepts events.
const IngestPath = "/api/internal/events"

// Client forwards events from the bot to the admin backend.
// Delivery is best-effort: failures are logged and never returned to the chat flow.
type Client struct {
	url    string
	secret string
	http   *http.Client
	log    logx.Logger
}

// NewClient returns nil when backendURL or secret is empty; a nil *Client drops everything.
func NewClient(backendURL, secret string, log logx.Logger) *Client {
	backendURL = strings.TrimRight(strings.TrimSpace(backendURL), "/")
	if backendURL == "" || secret == "" {
		return nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		url:    backendURL + IngestPath,
		secret: secret,
		http:   &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

// Send posts e and reports the error. Use Forward from handlers.
func (c *Client) Send(ctx context.Context, e Event) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("events: backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Forward sends e and logs failures.
func (c *Client) Forward(ctx context.Context, e Event) {
	if c == nil {
		return
	}
	if err := c.Send(ctx, e); err != nil {
		c.log.Warn("failed to send event", logx.String("type", string(e.Kind())), logx.Err(err))
	}
}
