// Package notify implements the webhook notifier (C9): best-effort outbound
// POSTs of session-end and timeout events.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notification is the JSON body POSTed to a session's on_end_url.
type Notification struct {
	When        int64  `json:"when"`
	IsErr       bool   `json:"is_err"`
	SessionName string `json:"session_name"`
	Value       string `json:"value"`
}

// Notifier POSTs Notification payloads to external webhooks. It treats a 200
// response as success and everything else, including transport errors, as
// failure.
type Notifier struct {
	client *http.Client
	logger *zap.Logger
}

func New(logger *zap.Logger) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Post makes a single attempt and reports whether it was delivered.
func (n *Notifier) Post(ctx context.Context, url string, notification Notification) bool {
	if url == "" {
		return false
	}

	body, err := json.Marshal(notification)
	if err != nil {
		n.logger.Warn("failed to marshal webhook notification", zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("failed to build webhook request", zap.String("url", url), zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", zap.String("url", url), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	if !ok {
		n.logger.Warn("webhook rejected",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
	}
	return ok
}

// PostWithRetry retries up to attempts times, sleeping delay between tries,
// stopping at the first success. Used only by keygen's end handler, which is
// the one caller willing to hold a client request open across retries.
func (n *Notifier) PostWithRetry(ctx context.Context, url string, notification Notification, attempts int, delay time.Duration) bool {
	for i := 0; i < attempts; i++ {
		if n.Post(ctx, url, notification) {
			return true
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
	}
	return false
}
