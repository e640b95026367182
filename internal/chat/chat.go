// Package chat models the abstract chat collaborator: the operations the
// orchestrator invokes on it, the events it delivers, and the compact
// button-payload grammar used to encode operator actions.
//
// Maps to: spec.md §6 "Chat channel operations (abstract)" and "Button
// payloads", and §9's design note preferring a message-passing seam over
// closure callbacks.
//
// Grounded on the teacher's own signal-channel consumption model
// (internal/workflow/control.go, internal/workflow/handlers.go's
// workflow.GetSignalChannel loops) generalized from "user sends a chat
// reply" to "operator clicks a button or replies with a secret".
package chat

import "fmt"

// Keyboard is an ordered set of inline action buttons attached to a prompt.
type Keyboard struct {
	Buttons []Button
}

// Button is a single inline action button. Payload follows the button
// payload grammar below.
type Button struct {
	Label   string
	Payload string
}

// Collaborator is the abstract chat transport. The chat transport itself
// is out of scope (spec §1); this interface is what the orchestrator
// depends on, and what test doubles implement.
type Collaborator interface {
	// Send posts a new message with an optional inline keyboard, returning
	// an opaque handle used for later Edit/Delete calls.
	Send(text string, keyboard *Keyboard) (handle string, err error)
	// Edit updates a previously sent message in place.
	Edit(handle, text string, keyboard *Keyboard) error
	// Delete removes a previously sent message.
	Delete(handle string) error
}

// EventKind distinguishes inbound chat event types.
type EventKind string

const (
	EventButtonClick  EventKind = "button_click"
	EventTextMessage  EventKind = "text_message"
)

// Event is an inbound event from the chat collaborator, restricted to a
// single configured operator principal (spec §6).
type Event struct {
	Kind      EventKind
	Handle    string // the message the click/reply relates to
	Payload   string // for button_click: the button's payload string
	ReplyTo   string // for text_message: the handle being replied to, if any
	Text      string // for text_message: the free-text body
	Principal string // the operator identity the event arrived from
}

// Action is a parsed button payload (spec §6 "Button payloads").
//
// Compact strings of the form `action:arg1[:arg2…]`.
type Action struct {
	Verb string
	Args []string
}

// ParseAction parses a raw button payload string. Unknown actions are
// returned as-is (Verb set, Args possibly empty) — the orchestrator is
// tolerant of unknown actions per spec §6.
func ParseAction(payload string) Action {
	parts := splitColon(payload)
	if len(parts) == 0 {
		return Action{}
	}
	return Action{Verb: parts[0], Args: parts[1:]}
}

func splitColon(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// Known action verbs.
const (
	ActionApprove    = "approve"
	ActionDeny       = "deny"
	ActionAddSecret  = "add_secret"
)

// BuildApprovePayload builds `approve:<req_id>:<scope>`.
func BuildApprovePayload(requestID string, scope string) string {
	return fmt.Sprintf("%s:%s:%s", ActionApprove, requestID, scope)
}

// BuildDenyPayload builds `deny:<req_id>`.
func BuildDenyPayload(requestID string) string {
	return fmt.Sprintf("%s:%s", ActionDeny, requestID)
}

// BuildAddSecretPayload builds `add_secret:<name>[:<req_id>]`.
func BuildAddSecretPayload(name, requestID string) string {
	if requestID == "" {
		return fmt.Sprintf("%s:%s", ActionAddSecret, name)
	}
	return fmt.Sprintf("%s:%s:%s", ActionAddSecret, name, requestID)
}
