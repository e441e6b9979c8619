package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/service"
)

type SourcesHandler struct {
	knowledge *service.KnowledgeService
	ingest    *service.IngestService
}

func NewSourcesHandler(knowledge *service.KnowledgeService, ingest *service.IngestService) *SourcesHandler {
	return &SourcesHandler{knowledge: knowledge, ingest: ingest}
}

func (h *SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	sources := h.knowledge.Sources()
	if sources == nil {
		sources = []domain.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

type createSourceRequest struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
}

// Create registers a source, optionally under a parent whose trust it
// partially inherits. The registration is journaled like any other
// committed mutation.
func (h *SourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	src, err := h.ingest.RegisterSource(r.Context(), req.Name, req.Parent)
	if err != nil {
		if errors.Is(err, service.ErrBusy) {
			writeError(w, http.StatusServiceUnavailable, "engine is rolling back, retry shortly")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to register source")
		return
	}
	writeJSON(w, http.StatusCreated, src)
}
