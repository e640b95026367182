package api

import (
	"encoding/json"
	"net/http"

	"github.com/mfateev/skillbroker/internal/chat"
	"github.com/mfateev/skillbroker/internal/workflow"
)

// inboundChatEvent is the webhook payload shape the chat collaborator
// delivers for an operator button click or text reply. The chat transport
// itself is out of scope (spec §1); this is the seam an adapter for any
// concrete transport would translate into.
type inboundChatEvent struct {
	Kind      string `json:"kind"`
	Handle    string `json:"handle"`
	Payload   string `json:"payload"`
	ReplyTo   string `json:"reply_to"`
	Text      string `json:"text"`
	Principal string `json:"principal"`
}

// handleChatEvent implements POST /chat/events: it resolves the target
// request's workflow id and forwards the event as a Temporal signal.
//
// Button clicks carry the request id directly in their payload
// (`approve:<id>:<scope>`, `deny:<id>`), so they route without any extra
// lookup. Free-text secret replies only carry the handle they're replying
// to, so those are resolved through the pending-secret registry populated
// by the SendPrompt activity (spec §3's "pending-secret dialogue").
func (s *Server) handleChatEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var in inboundChatEvent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	ev := chat.Event{
		Kind:      chat.EventKind(in.Kind),
		Handle:    in.Handle,
		Payload:   in.Payload,
		ReplyTo:   in.ReplyTo,
		Text:      in.Text,
		Principal: in.Principal,
	}

	requestID, ok := s.resolveRequestID(ev)
	if !ok {
		writeBadRequest(w, "could not resolve a target request for this event")
		return
	}

	if err := s.signalRequest(r.Context(), requestID, workflow.SignalRequestChatEvent, ev); err != nil {
		writeInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) resolveRequestID(ev chat.Event) (string, bool) {
	switch ev.Kind {
	case chat.EventButtonClick:
		action := chat.ParseAction(ev.Payload)
		if len(action.Args) == 0 {
			return "", false
		}
		return action.Args[0], true
	case chat.EventTextMessage:
		if s.Pending == nil {
			return "", false
		}
		entry, ok := s.Pending.Resolve(ev.ReplyTo)
		if !ok {
			return "", false
		}
		return entry.RequestID, true
	default:
		return "", false
	}
}
