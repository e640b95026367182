// Package notify implements the best-effort Notification Emitter activity
// (spec.md §4.7): "fire-and-forget" side-channel observability that never
// blocks or retries a state transition.
//
// Grounded on the teacher's tolerant-of-transient-failure handler style
// (internal/tools/handlers: log a warning and continue rather than fail
// the caller) generalized from "a tool call that failed" to "a webhook
// POST that failed".
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Event is one state-transition notification.
type Event struct {
	RequestID string `json:"request_id"`
	State     string `json:"state"`
	Summary   string `json:"summary"`
}

// Notifier posts Event values to a configured webhook URL, falling back to
// an append-only local file when the POST fails. The workflows log and
// ignore a failed Notify activity, so a failure here is a dropped
// notification, never a blocked state transition (spec §4.7).
type Notifier struct {
	WebhookURL string
	FallbackPath string
	Client     *http.Client
}

// NewNotifier builds a Notifier. webhookURL may be empty, in which case
// every event goes straight to the fallback file.
func NewNotifier(webhookURL, fallbackPath string) *Notifier {
	return &Notifier{
		WebhookURL:   webhookURL,
		FallbackPath: fallbackPath,
		Client:       &http.Client{Timeout: 5 * time.Second},
	}
}

// Emit delivers ev. RequestWorkflow runs it as the Notify activity under
// its default activity options (up to 3 attempts) and only logs a final
// failure: a dropped notification is an acceptable loss (spec §4.7).
func (n *Notifier) Emit(ctx context.Context, ev Event) error {
	if n.WebhookURL != "" {
		if err := n.post(ctx, ev); err == nil {
			return nil
		}
	}
	return n.appendFallback(ev)
}

func (n *Notifier) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) appendFallback(ev Event) error {
	if n.FallbackPath == "" {
		return nil
	}
	f, err := os.OpenFile(n.FallbackPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line := fmt.Sprintf("%s %s %s %s\n", time.Now().UTC().Format(time.RFC3339), ev.RequestID, ev.State, ev.Summary)
	_, err = f.WriteString(line)
	return err
}
