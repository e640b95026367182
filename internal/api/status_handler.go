package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mfateev/skillbroker/internal/brokererr"
)

// handleStatus implements GET /execute/{id}/status (spec §4.1 "Query status").
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	id, ok := parseExecuteStatusPath(r.URL.Path)
	if !ok {
		writeNotFound(w, "")
		return
	}

	req, err := s.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, brokererr.ErrNotFound) {
			writeNotFound(w, "")
			return
		}
		writeInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, req.ToStatusView())
}

// parseExecuteStatusPath extracts {id} from "/execute/{id}/status".
func parseExecuteStatusPath(path string) (string, bool) {
	trimmed := strings.TrimPrefix(path, "/execute/")
	if trimmed == path {
		return "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[1] != "status" || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}
