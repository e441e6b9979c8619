package domain

import "time"

// EventKind classifies replay events.
type EventKind string

const (
	EventIngest  EventKind = "ingest"
	EventPredict EventKind = "predict"
	EventResolve EventKind = "resolve"
)

// ReplayEvent is an immutable record of one engine event. Events are held
// in a fixed-capacity ring buffer in arrival order and are never mutated
// after creation.
type ReplayEvent struct {
	Kind        EventKind `json:"kind"`
	Subject     string    `json:"subject"`
	Label       *float64  `json:"label,omitempty"`
	Probability *float64  `json:"probability,omitempty"`
	Correct     *bool     `json:"correct,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// PatternStat is the per-subject disagreement aggregate. Disagreements
// increment only when a new numeric label differs from the previous one;
// missing labels are never counted.
type PatternStat struct {
	Events            int       `json:"events"`
	Disagreements     int       `json:"disagreements"`
	LastLabel         *float64  `json:"last_label,omitempty"`
	LastResolvedLabel *float64  `json:"last_resolved_label,omitempty"`
	LastSeen          time.Time `json:"last_seen"`
}

// DisagreementRatio is disagreements over events, guarding the zero case.
func (p PatternStat) DisagreementRatio() float64 {
	if p.Events < 1 {
		return 0
	}
	return float64(p.Disagreements) / float64(p.Events)
}
