package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// WebhookCollaborator is the deployable Collaborator: it posts outbound
// chat operations to a configured webhook URL and lets the receiving
// transport adapter map them onto whatever chat platform it fronts. The
// chat transport itself is out of scope (spec §1); this is the seam an
// adapter plugs into, grounded on internal/notify's webhook-POST shape.
type WebhookCollaborator struct {
	URL    string
	Client *http.Client
}

// NewWebhookCollaborator constructs a WebhookCollaborator posting to url
// with a bounded per-call timeout.
func NewWebhookCollaborator(url string) *WebhookCollaborator {
	return &WebhookCollaborator{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

type outboundOp struct {
	Op       string    `json:"op"` // "send" | "edit" | "delete"
	Handle   string    `json:"handle,omitempty"`
	Text     string    `json:"text,omitempty"`
	Keyboard *Keyboard `json:"keyboard,omitempty"`
}

func (w *WebhookCollaborator) Send(text string, keyboard *Keyboard) (string, error) {
	handle := uuid.NewString()
	if err := w.post(outboundOp{Op: "send", Handle: handle, Text: text, Keyboard: keyboard}); err != nil {
		return "", err
	}
	return handle, nil
}

func (w *WebhookCollaborator) Edit(handle, text string, keyboard *Keyboard) error {
	return w.post(outboundOp{Op: "edit", Handle: handle, Text: text, Keyboard: keyboard})
}

func (w *WebhookCollaborator) Delete(handle string) error {
	return w.post(outboundOp{Op: "delete", Handle: handle})
}

func (w *WebhookCollaborator) post(op outboundOp) error {
	body, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("webhook collaborator: marshal: %w", err)
	}
	resp, err := w.Client.Post(w.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook collaborator: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook collaborator: unexpected status %d", resp.StatusCode)
	}
	return nil
}
