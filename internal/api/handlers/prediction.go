package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/credence-ai/credence/internal/guardrail"
	"github.com/credence-ai/credence/internal/service"
	"github.com/go-chi/chi/v5"
)

type PredictionHandler struct {
	svc *service.PredictService
}

func NewPredictionHandler(svc *service.PredictService) *PredictionHandler {
	return &PredictionHandler{svc: svc}
}

// Predict serves GET /v1/subjects/{subject}/prediction. An optional
// ?hint= query parameter blends fresh evidence into the stored belief.
func (h *PredictionHandler) Predict(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	var hint *float64
	if raw := r.URL.Query().Get("hint"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			writeError(w, http.StatusBadRequest, "hint must be a number in [0,1]")
			return
		}
		hint = &v
	}

	p, err := h.svc.Predict(r.Context(), subject, hint)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			writeError(w, http.StatusNotFound, "subject not found")
		case errors.Is(err, service.ErrGated):
			writeError(w, http.StatusConflict, "insufficient evidence completion for prediction")
		default:
			writeError(w, http.StatusInternalServerError, "failed to predict")
		}
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type resolveRequest struct {
	Subject        string  `json:"subject"`
	PredictedLabel float64 `json:"predicted_label"`
	Probability    float64 `json:"probability"`
	Truth          float64 `json:"truth"`
}

func (h *PredictionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	res, err := h.svc.Resolve(r.Context(), req.Subject, req.PredictedLabel, req.Probability, req.Truth)
	if err != nil {
		var v *guardrail.Violation
		switch {
		case errors.As(err, &v):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "guardrail violation",
				"rule":  v.RuleID,
			})
		case errors.Is(err, service.ErrNotFound):
			writeError(w, http.StatusNotFound, "subject not found")
		case errors.Is(err, service.ErrBusy):
			writeError(w, http.StatusServiceUnavailable, "rollback in progress, retry later")
		default:
			writeError(w, http.StatusInternalServerError, "failed to resolve prediction")
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Imagine serves POST /v1/subjects/{subject}/imagine: one bounded
// synthetic scenario plus a self-originated prediction.
func (h *PredictionHandler) Imagine(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	p, scenario, err := h.svc.ImagineAndPredict(r.Context(), subject)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			writeError(w, http.StatusNotFound, "subject not found")
		case errors.Is(err, service.ErrGated):
			writeError(w, http.StatusConflict, "insufficient evidence completion for internal scenario")
		default:
			writeError(w, http.StatusInternalServerError, "failed to generate scenario")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prediction": p,
		"scenario":   scenario,
	})
}
