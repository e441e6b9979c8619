package handlers

import (
	"errors"
	"net/http"

	"github.com/credence-ai/credence/internal/service"
	"github.com/go-chi/chi/v5"
)

type SubjectsHandler struct {
	knowledge *service.KnowledgeService
	tracker   *service.Tracker
}

func NewSubjectsHandler(knowledge *service.KnowledgeService, tracker *service.Tracker) *SubjectsHandler {
	return &SubjectsHandler{knowledge: knowledge, tracker: tracker}
}

func (h *SubjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	view, err := h.knowledge.Get(subject)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subject not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read subject")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Report merges the knowledge-side inspection document with the
// tracker-owned disagreement ratio.
func (h *SubjectsHandler) Report(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	report, err := h.knowledge.Report(subject)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subject not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	if st, ok := h.tracker.Stat(subject); ok {
		report.DisagreementRatio = st.DisagreementRatio()
	}
	writeJSON(w, http.StatusOK, report)
}
