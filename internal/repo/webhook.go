package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookMessage is the JSON body posted for each notification.
type WebhookMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	RunID     int64     `json:"run_id,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookNotifier posts notifications to an HTTP endpoint.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

// NewWebhookNotifier constructs a notifier targeting url.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Notify delivers one message. Any non-2xx response is an error.
func (w *WebhookNotifier) Notify(ctx context.Context, msg WebhookMessage) error {
	if w == nil || w.url == "" {
		return fmt.Errorf("webhook url not configured")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = w.now().UTC()
	}
	return w.postJSON(ctx, msg)
}

func (w *WebhookNotifier) postJSON(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
