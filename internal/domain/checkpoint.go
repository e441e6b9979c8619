package domain

import "time"

// CheckpointVersion is the version header embedded in every checkpoint
// artifact. Readers must reject versions they do not understand.
const CheckpointVersion = 1

// CheckpointState is the full serializable engine state. It captures
// everything needed to resume: knowledge, trust, progress, pattern stats,
// the replay buffer and the metric accumulators, plus the journal sequence
// the snapshot is current through.
type CheckpointState struct {
	Knowledge map[string]*GeneralizedKnowledge `json:"knowledge"`
	Sources   map[string]*Source               `json:"sources"`
	Progress  map[string]*SubjectProgress      `json:"progress"`
	Patterns  map[string]*PatternStat          `json:"patterns"`
	Replay    []ReplayEvent                    `json:"replay"`
	Metrics   MetricsState                     `json:"metrics"`

	// Assertions holds each source's last labeled assertion per subject,
	// needed to reproduce trust updates when resolutions replay.
	Assertions map[string]map[string]float64 `json:"assertions,omitempty"`

	// LastJournalSeq is the highest journal sequence applied before this
	// snapshot was taken. Restore replays strictly newer entries.
	LastJournalSeq int64 `json:"last_journal_seq"`
}

// MetricsState holds the running accumulators that survive checkpoints.
type MetricsState struct {
	EventCount      int64    `json:"event_count"`
	ResolvedCount   int64    `json:"resolved_count"`
	CorrectCount    int64    `json:"correct_count"`
	BrierSum        float64  `json:"brier_sum"`
	BrierCount      int64    `json:"brier_count"`
	ViolationCount  int64    `json:"violation_count"`
	ReflectionCount int64    `json:"reflection_count"`
	BiasNotes       []string `json:"bias_notes,omitempty"`

	BaselineAccuracy    float64 `json:"baseline_accuracy"`
	BaselineBias        int     `json:"baseline_bias"`
	BaselineDrift       float64 `json:"baseline_drift"`
	BaselineUncertainty float64 `json:"baseline_uncertainty"`
	BaselineViolations  int64   `json:"baseline_violations"`
}

// Checkpoint is a write-once snapshot artifact addressed by id. The
// guardrail checksum binds the snapshot to the rule set it was taken
// under; a mismatch at restore is fatal.
type Checkpoint struct {
	ID                string          `json:"id"`
	CreatedAt         time.Time       `json:"created_at"`
	Version           int             `json:"version"`
	GuardrailChecksum string          `json:"guardrail_checksum"`
	State             CheckpointState `json:"state"`
}

// CheckpointMeta is the listing view of a checkpoint.
type CheckpointMeta struct {
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	Version           int       `json:"version"`
	GuardrailChecksum string    `json:"guardrail_checksum"`
}
