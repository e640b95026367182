package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/mfateev/skillbroker/internal/brokererr"
	"github.com/mfateev/skillbroker/internal/metadata"
	"github.com/mfateev/skillbroker/internal/request"
	"github.com/mfateev/skillbroker/internal/workflow"
)

// executeRequest is the submit-execution payload (spec §4.1).
type executeRequest struct {
	SkillID  string            `json:"skill_id"`
	SkillURL string            `json:"skill_url"`
	Secrets  any               `json:"secrets"` // accepted as []string or {name: ...} map
	Args     map[string]string `json:"args"`
}

type executeResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// handleExecute implements POST /execute (spec §4.1 "Submit execution").
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var in executeRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if in.SkillID == "" || in.SkillURL == "" {
		writeBadRequest(w, "skill_id and skill_url are required")
		return
	}
	secretNames := secretNamesFrom(in.Secrets)

	code, err := fetchSkillCode(in.SkillURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "fetch-failed", err.Error())
		return
	}

	md, err := metadata.Parse(code)
	if err != nil {
		if errors.Is(err, brokererr.ErrBadMetadata) {
			writeBadRequest(w, "bad-metadata: missing required @skill header field")
			return
		}
		writeInternal(w, err)
		return
	}

	fingerprint := fingerprintOf(code)
	id := uuid.NewString()

	if len(secretNames) == 0 {
		secretNames = md.Secrets
	}
	network := md.Network
	timeout := md.Timeout

	req := &request.Request{
		ID:             id,
		SkillID:        in.SkillID,
		SkillURL:       in.SkillURL,
		Fingerprint:    fingerprint,
		Secrets:        secretNames,
		Args:           in.Args,
		Network:        network,
		TimeoutSeconds: timeout,
		State:          request.StatePending,
		CreatedAt:      time.Now(),
	}

	ctx := r.Context()
	if err := s.Store.Create(ctx, req); err != nil {
		if errors.Is(err, brokererr.ErrDuplicateID) {
			writeError(w, http.StatusConflict, "duplicate-request-id", "")
			return
		}
		writeInternal(w, err)
		return
	}
	if err := s.Store.StoreCode(ctx, id, code); err != nil {
		writeInternal(w, err)
		return
	}

	if err := s.startRequestWorkflow(ctx, req, code); err != nil {
		writeInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{RequestID: id, Status: string(request.StatePending)})
}

func (s *Server) startRequestWorkflow(ctx context.Context, req *request.Request, code []byte) error {
	opts := client.StartWorkflowOptions{
		ID:        req.ID,
		TaskQueue: s.TaskQueue,
	}
	_, err := s.Temporal.ExecuteWorkflow(ctx, opts, workflow.RequestWorkflow, workflow.RequestWorkflowInput{
		Request:     *req,
		Source:      req.SkillURL,
		Code:        code,
		ViewBaseURL: s.ViewBaseURL,
	})
	return err
}

func fingerprintOf(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:])
}

// secretNamesFrom accepts secrets declared as a JSON array of names or as
// the keys of a JSON object — spec §4.1: "may be supplied as a list or as
// the keys of a mapping — both accepted".
func secretNamesFrom(v any) []string {
	switch t := v.(type) {
	case []any:
		names := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		return names
	case map[string]any:
		names := make([]string, 0, len(t))
		for k := range t {
			names = append(names, k)
		}
		return names
	default:
		return nil
	}
}
