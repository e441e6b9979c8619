package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/guardrail"
	"github.com/credence-ai/credence/internal/service"
	"github.com/go-chi/chi/v5"
)

type ClaimsHandler struct {
	svc *service.IngestService
}

func NewClaimsHandler(svc *service.IngestService) *ClaimsHandler {
	return &ClaimsHandler{svc: svc}
}

type createClaimRequest struct {
	Subject       string    `json:"subject"`
	Label         *float64  `json:"label,omitempty"`
	Sources       []string  `json:"sources,omitempty"`
	Confidence    float64   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
	SelfGenerated bool      `json:"self_generated,omitempty"`
}

func (h *ClaimsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	ack, err := h.svc.Ingest(r.Context(), domain.Claim{
		Subject:       req.Subject,
		Label:         req.Label,
		Sources:       req.Sources,
		Confidence:    req.Confidence,
		Timestamp:     req.Timestamp,
		SelfGenerated: req.SelfGenerated,
	})
	if err != nil {
		var v *guardrail.Violation
		switch {
		case errors.As(err, &v):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "guardrail violation",
				"rule":  v.RuleID,
			})
		case errors.Is(err, service.ErrBusy):
			writeError(w, http.StatusServiceUnavailable, "rollback in progress, retry later")
		default:
			writeError(w, http.StatusInternalServerError, "failed to ingest claim")
		}
		return
	}

	writeJSON(w, http.StatusCreated, ack)
}

// Promote merges a subject's predicted tier into its confirmed tier once
// enough independent validations have accumulated.
func (h *ClaimsHandler) Promote(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	view, err := h.svc.Promote(r.Context(), subject)
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
		case errors.Is(err, service.ErrPromotionDenied):
			writeError(w, http.StatusConflict, "insufficient validations to promote")
		case errors.Is(err, service.ErrBusy):
			writeError(w, http.StatusServiceUnavailable, "rollback in progress, retry later")
		default:
			writeError(w, http.StatusInternalServerError, "failed to promote")
		}
		return
	}
	writeJSON(w, http.StatusOK, view)
}
