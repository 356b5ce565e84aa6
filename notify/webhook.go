package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebhookConfig configures delivery to the monitor backend.
type WebhookConfig struct {
	// MonitorURL is the backend base URL; notifications go to
	// {MonitorURL}/api/events/{id}/notify.
	MonitorURL string
	// UUID identifies this instance to the backend.
	UUID string
	// Secret signs the body: X-Signature-256: sha256=<hex hmac>.
	Secret  string
	Timeout time.Duration // Default: 30s.
	Client  *http.Client
}

// Webhook posts notifications to the monitor backend.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhook creates a Webhook notifier.
func NewWebhook(cfg WebhookConfig) *Webhook {
	cfg.MonitorURL = strings.TrimRight(cfg.MonitorURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Webhook{cfg: cfg, client: client}
}

type webhookPayload struct {
	UUID      string `json:"uuid"`
	EventID   string `json:"event_id"`
	RunID     string `json:"run_id,omitempty"`
	Content   string `json:"content"`
	Markdown  string `json:"markdown,omitempty"`
	Documents int    `json:"documents"`
	Matches   int    `json:"matches"`
}

// Notify posts n. Any transport error or non-2xx status is an *ErrSendFailed.
func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	fail := func(err error) error {
		return &ErrSendFailed{Notifier: "webhook", SubscriptionID: n.SubscriptionID, Cause: err}
	}

	body, err := json.Marshal(webhookPayload{
		UUID:      w.cfg.UUID,
		EventID:   n.SubscriptionID,
		RunID:     n.RunID,
		Content:   n.Content,
		Markdown:  n.Markdown,
		Documents: n.Documents,
		Matches:   n.Matches,
	})
	if err != nil {
		return fail(fmt.Errorf("marshal payload: %w", err))
	}

	endpoint := w.cfg.MonitorURL + "/api/events/" + url.PathEscape(n.SubscriptionID) + "/notify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	if w.cfg.Secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+Sign(w.cfg.Secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("POST: %w", err))
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(fmt.Errorf("backend returned %d", resp.StatusCode))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
