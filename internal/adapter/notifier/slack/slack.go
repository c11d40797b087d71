// Package slack delivers operator notifications through an incoming
// webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// Notifier posts messages to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New constructs a Notifier; an empty webhook URL yields a no-op notifier.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

var _ domain.Notifier = (*Notifier)(nil)

// Notify posts one message. Callers treat failures as non-fatal.
func (n *Notifier) Notify(ctx context.Context, title, message string) error {
	if n.webhookURL == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", title, message),
	})
	if err != nil {
		return fmt.Errorf("op=slack.Notify: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("op=slack.Notify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("op=slack.Notify: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("op=slack.Notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}
