package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts run notifications to a generic HTTP endpoint.
type Webhook struct {
	client *http.Client
	url    string
	secret string
	now    func() time.Time
}

// WebhookEvent is the JSON body delivered to the endpoint.
type WebhookEvent struct {
	Event        string        `json:"event"`
	SentAt       time.Time     `json:"sent_at"`
	Notification *Notification `json:"notification"`
}

// NewWebhook creates a generic webhook notifier. A non-empty secret signs
// every body.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
		now:    time.Now,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Sign returns the X-Signature-256 value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(WebhookEvent{
		Event:        "modelwatch." + string(n.Level),
		SentAt:       w.now().UTC(),
		Notification: n,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "modelwatch/1.0")
	if n.RunID != "" {
		req.Header.Set("X-Modelwatch-Run", n.RunID)
	}
	if w.secret != "" {
		req.Header.Set("X-Signature-256", Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
