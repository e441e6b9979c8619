package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContributionRecord scores one reflection or shadow-evaluation cycle.
// Records are append-only and form the audit trail for promotion
// decisions.
type ContributionRecord struct {
	ID               uuid.UUID `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	AccuracyDelta    float64   `json:"accuracy_delta"`
	ViolationCount   int64     `json:"violation_count"`
	UncertaintyDelta float64   `json:"uncertainty_delta"`
	BiasDelta        float64   `json:"bias_delta"`
	Score            float64   `json:"score"`
}

// MetricsReport is the structured document produced by each reflection
// cycle.
type MetricsReport struct {
	Timestamp       time.Time `json:"timestamp"`
	EventCount      int64     `json:"event_count"`
	Accuracy        float64   `json:"accuracy"`
	Calibration     float64   `json:"calibration"`
	BiasCount       int       `json:"bias_count"`
	ViolationCount  int64     `json:"violation_count"`
	ReflectionRatio float64   `json:"reflection_ratio"`
	CoreDrift       float64   `json:"core_drift"`
	SubjectsTracked int       `json:"subjects_tracked"`
	SourceCount     int       `json:"source_count"`
}
