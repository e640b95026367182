package api

import (
	"context"
	"net/http"

	"go.temporal.io/sdk/client"

	"github.com/mfateev/skillbroker/internal/pending"
	"github.com/mfateev/skillbroker/internal/store"
	"github.com/mfateev/skillbroker/internal/vault"
)

// Server bundles the Ingress API's dependencies: the Request Store (for
// status/view lookups), the Secret Vault (for the admin secrets endpoint),
// the Temporal client (to start RequestWorkflow and signal it with inbound
// chat events), and the pending-secret registry (to route free-text
// replies back to the right workflow).
//
// Grounded on the teacher's cmd/cli/main.go flag-assembled dependency
// bundle, generalized from "one CLI session" to "one HTTP server process".
type Server struct {
	Store     *store.Store
	Vault     *vault.Vault
	Temporal  client.Client
	Pending   *pending.Registry
	TaskQueue string

	// ViewBaseURL is this Ingress API's externally reachable base URL,
	// threaded into RequestWorkflow so the approval prompt can link to the
	// code-view endpoint (spec §4.3, §4.1 "Code view"). Empty omits the link.
	ViewBaseURL string
}

// Routes returns the full Ingress API mux, including the chat-event
// webhook. Suitable only when Server.Pending is populated in this same
// process (i.e. a single-process deployment that also hosts
// BrokerActivities) — see PublicRoutes/ChatEventRoutes for the split used
// when the Temporal worker and HTTP ingress run as separate processes.
func (s *Server) Routes() *http.ServeMux {
	mux := s.PublicRoutes()
	mux.Handle("/chat/events", s.ChatEventRoutes())
	return mux
}

// PublicRoutes returns the operator- and client-facing endpoints that
// don't depend on the pending-secret registry: submit, status, code view,
// health, and the admin secrets endpoint. This is what cmd/ingress serves.
func (s *Server) PublicRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/execute/", s.handleStatus) // /execute/{id}/status
	mux.HandleFunc("/view/", s.handleView)      // /view/{id}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/secrets", s.handleSecrets)
	return mux
}

// ChatEventRoutes returns just the inbound chat-event webhook. It depends
// on Server.Pending, which is only meaningful in the same process that
// constructs BrokerActivities (the SendPrompt activity is what populates
// it) — so this is mounted by cmd/worker, not cmd/ingress.
func (s *Server) ChatEventRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/events", s.handleChatEvent)
	return mux
}

func (s *Server) signalRequest(ctx context.Context, requestID string, signalName string, arg any) error {
	return s.Temporal.SignalWorkflow(ctx, requestID, "", signalName, arg)
}
