// Package api implements the Ingress API: the HTTP surface spec.md §4.1
// describes (submit execution, query status, code view) plus the admin
// health/secrets endpoints and the inbound chat-event webhook bridge.
//
// Grounded on Mindburn-Labs-helm's core/pkg/api package: method check →
// size-capped decode → domain call → JSON response, and its apierror.go
// helper shape (adapted here without the upstream's branded problem-type
// URIs, since this broker has no public error catalog to publish).
package api

import (
	"encoding/json"
	"log"
	"net/http"
)

// errorResponse is the JSON body for every non-2xx response.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: code, Detail: detail})
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusBadRequest, "bad-request", detail)
}

func writeNotFound(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusNotFound, "not-found", detail)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method-not-allowed", "")
}

// writeInternal logs the real error server-side and returns an opaque 500
// — the error taxonomy (spec §7) never leaks internal detail to a caller.
func writeInternal(w http.ResponseWriter, err error) {
	log.Printf("api: internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal", "")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
