package service

import (
	"context"
	"sync"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/store"
)

// mockJournal implements domain.JournalStore in memory.
type mockJournal struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
	lastSeq int64
	failing bool
}

func newMockJournal() *mockJournal {
	return &mockJournal{}
}

func (m *mockJournal) Append(ctx context.Context, e *domain.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return context.DeadlineExceeded
	}
	m.lastSeq++
	e.Seq = m.lastSeq
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockJournal) ListSince(ctx context.Context, seq int64) ([]domain.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range m.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockJournal) Truncate(ctx context.Context, upTo int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []domain.JournalEntry
	for _, e := range m.entries {
		if e.Seq > upTo {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

func (m *mockJournal) LastSeq(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq, nil
}

func (m *mockJournal) Flush(ctx context.Context) error { return nil }

func (m *mockJournal) byAction(action domain.JournalAction) []domain.JournalEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// mockCheckpoints implements domain.CheckpointStore in memory.
type mockCheckpoints struct {
	mu  sync.Mutex
	cps map[string]*domain.Checkpoint
}

func newMockCheckpoints() *mockCheckpoints {
	return &mockCheckpoints{cps: make(map[string]*domain.Checkpoint)}
}

func (m *mockCheckpoints) Write(ctx context.Context, cp *domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[cp.ID] = cp
	return nil
}

func (m *mockCheckpoints) Get(ctx context.Context, id string) (*domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cp, nil
}

func (m *mockCheckpoints) List(ctx context.Context, limit int) ([]domain.CheckpointMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var metas []domain.CheckpointMeta
	for _, cp := range m.cps {
		metas = append(metas, domain.CheckpointMeta{
			ID:                cp.ID,
			CreatedAt:         cp.CreatedAt,
			Version:           cp.Version,
			GuardrailChecksum: cp.GuardrailChecksum,
		})
	}
	return metas, nil
}

// mockContributions implements domain.ContributionStore in memory.
type mockContributions struct {
	mu   sync.Mutex
	recs []domain.ContributionRecord
}

func newMockContributions() *mockContributions {
	return &mockContributions{}
}

func (m *mockContributions) Append(ctx context.Context, rec *domain.ContributionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, *rec)
	return nil
}

func (m *mockContributions) ListRecent(ctx context.Context, limit int) ([]domain.ContributionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ContributionRecord, len(m.recs))
	copy(out, m.recs)
	return out, nil
}

func (m *mockContributions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}
