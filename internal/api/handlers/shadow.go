package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/service"
)

type ShadowHandler struct {
	svc           *service.ReflectService
	contributions domain.ContributionStore
}

func NewShadowHandler(svc *service.ReflectService, contributions domain.ContributionStore) *ShadowHandler {
	return &ShadowHandler{svc: svc, contributions: contributions}
}

// Evaluate runs one shadow evaluation for an explicit candidate change.
// The live learner is never touched; failures surface as an inconclusive
// decision rather than an error.
func (h *ShadowHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var candidate service.CandidateChange
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if candidate.Name == "" {
		writeError(w, http.StatusBadRequest, "candidate name is required")
		return
	}

	result, err := h.svc.EvaluateCandidate(r.Context(), candidate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "shadow evaluation failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Contributions lists recent contribution records, newest first.
func (h *ShadowHandler) Contributions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	recs, err := h.contributions.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list contribution records")
		return
	}
	if recs == nil {
		recs = []domain.ContributionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}
