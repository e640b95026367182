package api

import (
	"encoding/json"
	"net/http"
)

type putSecretRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// handleSecrets implements POST /secrets (spec §4.1, admin). Per spec §7:
// "Admin endpoints... authenticate solely by virtue of the local operator
// principal on the chat channel; HTTP admin routes are... not hardened
// against remote callers — deployments must restrict network exposure
// accordingly." No additional auth is layered on here; that is a
// deployment-network concern, not an application one.
func (s *Server) handleSecrets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var in putSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if in.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	if err := s.Vault.Put(r.Context(), in.Name, []byte(in.Value)); err != nil {
		writeInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
