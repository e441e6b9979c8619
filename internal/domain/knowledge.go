package domain

import "time"

// KnowledgeTier distinguishes self-generated beliefs from externally
// validated ones. The two tiers never merge silently; promotion is an
// explicit, gated operation.
type KnowledgeTier string

const (
	TierPredicted KnowledgeTier = "predicted"
	TierConfirmed KnowledgeTier = "confirmed"
)

// Distribution is one belief tier for a subject: a confidence in [0,1],
// the time it was last updated, and the sources that contributed to it.
type Distribution struct {
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
	Provenance []string  `json:"provenance,omitempty"`
}

// GeneralizedKnowledge is the per-subject belief state. Created on the
// first claim for a subject and never deleted; superseded confirmed
// distributions are archived but remain retrievable.
type GeneralizedKnowledge struct {
	Subject     string         `json:"subject"`
	Predicted   Distribution   `json:"predicted"`
	Confirmed   Distribution   `json:"confirmed"`
	Validations int            `json:"validations"`
	Archived    []Distribution `json:"archived,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// GKView is a read-only value copy of a subject's knowledge handed to
// callers. Mutating a view has no effect on the store.
type GKView struct {
	Subject     string       `json:"subject"`
	Predicted   Distribution `json:"predicted"`
	Confirmed   Distribution `json:"confirmed"`
	Validations int          `json:"validations"`
	CreatedAt   time.Time    `json:"created_at"`
}

// View returns a detached copy suitable for handing outside the store.
func (gk *GeneralizedKnowledge) View() GKView {
	v := GKView{
		Subject:     gk.Subject,
		Predicted:   gk.Predicted,
		Confirmed:   gk.Confirmed,
		Validations: gk.Validations,
		CreatedAt:   gk.CreatedAt,
	}
	v.Predicted.Provenance = append([]string(nil), gk.Predicted.Provenance...)
	v.Confirmed.Provenance = append([]string(nil), gk.Confirmed.Provenance...)
	return v
}

// SubjectProgress tracks how complete the engine's exposure to a subject
// is. Completion saturates toward the cap as items accumulate and sources
// diversify; it gates external and self-generated predictions.
type SubjectProgress struct {
	SeenItems       int             `json:"seen_items"`
	DistinctSources map[string]bool `json:"distinct_sources"`
	Completion      float64         `json:"completion"`
}

// SubjectReport is the per-subject inspection document.
type SubjectReport struct {
	Subject             string  `json:"subject"`
	Completion          float64 `json:"completion"`
	Items               int     `json:"items"`
	DistinctSources     int     `json:"distinct_sources"`
	PredictedConfidence float64 `json:"predicted_confidence"`
	ConfirmedConfidence float64 `json:"confirmed_confidence"`
	Validations         int     `json:"validations"`
	DisagreementRatio   float64 `json:"disagreement_ratio"`
}
