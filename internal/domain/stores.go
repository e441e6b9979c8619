package domain

import "context"

// JournalStore is the write-ahead change journal. Append assigns the
// entry's sequence number; entries are totally ordered by sequence and
// replayed in that order during restore.
type JournalStore interface {
	Append(ctx context.Context, e *JournalEntry) error
	ListSince(ctx context.Context, seq int64) ([]JournalEntry, error)
	// Truncate discards entries with sequence <= upTo. Called only after a
	// newer checkpoint is confirmed durably written.
	Truncate(ctx context.Context, upTo int64) error
	// LastSeq returns the highest assigned sequence, 0 when empty.
	LastSeq(ctx context.Context) (int64, error)
	Flush(ctx context.Context) error
}

// CheckpointStore persists write-once snapshot artifacts.
type CheckpointStore interface {
	Write(ctx context.Context, cp *Checkpoint) error
	Get(ctx context.Context, id string) (*Checkpoint, error)
	List(ctx context.Context, limit int) ([]CheckpointMeta, error)
}

// ContributionStore persists the append-only contribution audit trail.
type ContributionStore interface {
	Append(ctx context.Context, rec *ContributionRecord) error
	ListRecent(ctx context.Context, limit int) ([]ContributionRecord, error)
}
