package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CheckpointStore persists write-once snapshot artifacts in postgres. The
// engine state is stored as a single jsonb blob; the listing columns are
// duplicated out of it for cheap metadata queries.
type CheckpointStore struct {
	db *pgxpool.Pool
}

func NewCheckpointStore(db *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func (s *CheckpointStore) Write(ctx context.Context, cp *domain.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO checkpoints (id, created_at, version, guardrail_checksum, state)
		 VALUES ($1, $2, $3, $4, $5)`,
		cp.ID, cp.CreatedAt, cp.Version, cp.GuardrailChecksum, state,
	)
	return err
}

func (s *CheckpointStore) Get(ctx context.Context, id string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var state []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, created_at, version, guardrail_checksum, state
		 FROM checkpoints WHERE id = $1`,
		id,
	).Scan(&cp.ID, &cp.CreatedAt, &cp.Version, &cp.GuardrailChecksum, &state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(state, &cp.State); err != nil {
		return nil, ErrCorrupt
	}
	return &cp, nil
}

func (s *CheckpointStore) List(ctx context.Context, limit int) ([]domain.CheckpointMeta, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, created_at, version, guardrail_checksum
		 FROM checkpoints
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []domain.CheckpointMeta
	for rows.Next() {
		var m domain.CheckpointMeta
		if err := rows.Scan(&m.ID, &m.CreatedAt, &m.Version, &m.GuardrailChecksum); err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}
