package store

import (
	"fmt"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Persistence driver constants
const (
	DriverPostgres = "postgres"
	DriverFile     = "file"
)

// Backends bundles the three persistence surfaces behind one driver
// choice. All three always come from the same driver; mixing is not
// supported.
type Backends struct {
	Journal       domain.JournalStore
	Checkpoints   domain.CheckpointStore
	Contributions domain.ContributionStore
}

// NewPostgresBackends wires all stores onto a shared connection pool.
func NewPostgresBackends(db *pgxpool.Pool) *Backends {
	return &Backends{
		Journal:       NewJournalStore(db),
		Checkpoints:   NewCheckpointStore(db),
		Contributions: NewContributionStore(db),
	}
}

// NewFileBackends wires all stores onto a single data directory for
// single-node deployments.
func NewFileBackends(dir string) (*Backends, error) {
	journal, err := NewFileJournalStore(dir)
	if err != nil {
		return nil, fmt.Errorf("file journal: %w", err)
	}
	checkpoints, err := NewFileCheckpointStore(dir)
	if err != nil {
		return nil, fmt.Errorf("file checkpoints: %w", err)
	}
	contributions, err := NewFileContributionStore(dir)
	if err != nil {
		return nil, fmt.Errorf("file contributions: %w", err)
	}
	return &Backends{
		Journal:       journal,
		Checkpoints:   checkpoints,
		Contributions: contributions,
	}, nil
}
