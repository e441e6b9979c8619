package domain

import (
	"time"

	"github.com/google/uuid"
)

// Claim is a source-attributed assertion about a subject. Claims are
// transient: they are consumed entirely within one ingestion call and only
// their effect on knowledge, trust and history survives.
type Claim struct {
	Subject       string    `json:"subject"`
	Label         *float64  `json:"label,omitempty"`
	Sources       []string  `json:"sources"`
	Confidence    float64   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp"`
	SelfGenerated bool      `json:"self_generated,omitempty"`
}

// Source is a registered claim origin with a smoothed trust score.
type Source struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Parent  string    `json:"parent,omitempty"`
	Trust   float64   `json:"trust"`
	Samples int       `json:"samples"`
}

// IngestAck is returned on a successful ingestion. It carries a snapshot
// of the subject's knowledge after the claim was applied.
type IngestAck struct {
	Subject    string  `json:"subject"`
	Knowledge  GKView  `json:"knowledge"`
	Weight     float64 `json:"weight"`
	EventCount int64   `json:"event_count"`
}
