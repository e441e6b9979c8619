package handlers

import (
	"errors"
	"net/http"

	"github.com/credence-ai/credence/internal/service"
)

type ReflectHandler struct {
	svc *service.ReflectService
}

func NewReflectHandler(svc *service.ReflectService) *ReflectHandler {
	return &ReflectHandler{svc: svc}
}

// Trigger runs one reflection cycle on demand.
func (h *ReflectHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reflect(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrReflecting) {
			writeError(w, http.StatusConflict, "reflection already in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, "reflection failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Latest serves the most recent reflection report.
func (h *ReflectHandler) Latest(w http.ResponseWriter, r *http.Request) {
	report := h.svc.LastReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "no reflection report yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
