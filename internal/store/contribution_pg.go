package store

import (
	"context"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContributionStore persists the append-only contribution audit trail in
// postgres.
type ContributionStore struct {
	db *pgxpool.Pool
}

func NewContributionStore(db *pgxpool.Pool) *ContributionStore {
	return &ContributionStore{db: db}
}

func (s *ContributionStore) Append(ctx context.Context, rec *domain.ContributionRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO contribution_records (id, created_at, accuracy_delta, violation_count, uncertainty_delta, bias_delta, score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.Timestamp, rec.AccuracyDelta, rec.ViolationCount, rec.UncertaintyDelta, rec.BiasDelta, rec.Score,
	)
	return err
}

func (s *ContributionStore) ListRecent(ctx context.Context, limit int) ([]domain.ContributionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, created_at, accuracy_delta, violation_count, uncertainty_delta, bias_delta, score
		 FROM contribution_records
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.ContributionRecord
	for rows.Next() {
		var r domain.ContributionRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.AccuracyDelta, &r.ViolationCount, &r.UncertaintyDelta, &r.BiasDelta, &r.Score); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
