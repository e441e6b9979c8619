package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/credence-ai/credence/internal/guardrail"
	"github.com/credence-ai/credence/internal/service"
)

type GuardrailsHandler struct {
	mgr *service.GuardrailManager
}

func NewGuardrailsHandler(mgr *service.GuardrailManager) *GuardrailsHandler {
	return &GuardrailsHandler{mgr: mgr}
}

func (h *GuardrailsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rs := h.mgr.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  rs.Version(),
		"checksum": rs.Checksum(),
		"rules":    rs.Rules(),
	})
}

type replaceGuardrailsRequest struct {
	RulesPath    string `json:"rules_path"`
	ChecksumPath string `json:"checksum_path"`
}

// Replace swaps in a new versioned rule set from disk. The file paths are
// operator-supplied; the set must verify against its reference checksum
// and carry a strictly newer version.
func (h *GuardrailsHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var req replaceGuardrailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RulesPath == "" || req.ChecksumPath == "" {
		writeError(w, http.StatusBadRequest, "rules_path and checksum_path are required")
		return
	}

	rs, err := h.mgr.Replace(r.Context(), req.RulesPath, req.ChecksumPath)
	if err != nil {
		if errors.Is(err, guardrail.ErrIntegrity) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  rs.Version(),
		"checksum": rs.Checksum(),
	})
}
