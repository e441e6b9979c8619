package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/service"
	"github.com/credence-ai/credence/internal/store"
	"github.com/go-chi/chi/v5"
)

type CheckpointsHandler struct {
	svc *service.CheckpointService
}

func NewCheckpointsHandler(svc *service.CheckpointService) *CheckpointsHandler {
	return &CheckpointsHandler{svc: svc}
}

func (h *CheckpointsHandler) Create(w http.ResponseWriter, r *http.Request) {
	cp, err := h.svc.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to write checkpoint")
		return
	}
	writeJSON(w, http.StatusCreated, domain.CheckpointMeta{
		ID:                cp.ID,
		CreatedAt:         cp.CreatedAt,
		Version:           cp.Version,
		GuardrailChecksum: cp.GuardrailChecksum,
	})
}

func (h *CheckpointsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	metas, err := h.svc.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list checkpoints")
		return
	}
	if metas == nil {
		metas = []domain.CheckpointMeta{}
	}
	writeJSON(w, http.StatusOK, metas)
}

// Restore rolls the engine back to a checkpoint. Ingestion is halted for
// the duration; integrity failures leave the live state untouched.
func (h *CheckpointsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Rollback(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "checkpoint not found")
		case errors.Is(err, service.ErrIntegrity), errors.Is(err, store.ErrCorrupt):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to restore checkpoint")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored", "checkpoint_id": id})
}
