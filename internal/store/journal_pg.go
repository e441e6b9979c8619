package store

import (
	"context"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JournalStore is the postgres-backed write-ahead journal. The seq column
// is a bigserial, so sequence assignment and total ordering come from the
// database.
type JournalStore struct {
	db *pgxpool.Pool
}

func NewJournalStore(db *pgxpool.Pool) *JournalStore {
	return &JournalStore{db: db}
}

func (s *JournalStore) Append(ctx context.Context, e *domain.JournalEntry) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO journal_entries (recorded_at, action, subject, delta)
		 VALUES ($1, $2, $3, $4)
		 RETURNING seq`,
		e.Timestamp, e.Action, e.Subject, e.Delta,
	).Scan(&e.Seq)
}

func (s *JournalStore) ListSince(ctx context.Context, seq int64) ([]domain.JournalEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT seq, recorded_at, action, subject, delta
		 FROM journal_entries WHERE seq > $1
		 ORDER BY seq`,
		seq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		if err := rows.Scan(&e.Seq, &e.Timestamp, &e.Action, &e.Subject, &e.Delta); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *JournalStore) Truncate(ctx context.Context, upTo int64) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM journal_entries WHERE seq <= $1`,
		upTo,
	)
	return err
}

func (s *JournalStore) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM journal_entries`,
	).Scan(&seq)
	return seq, err
}

// Flush is a no-op: every append commits synchronously.
func (s *JournalStore) Flush(ctx context.Context) error {
	return nil
}
