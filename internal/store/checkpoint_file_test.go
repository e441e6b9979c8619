package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/credence-ai/credence/internal/domain"
)

func testCheckpoint(id string, createdAt time.Time) *domain.Checkpoint {
	return &domain.Checkpoint{
		ID:                id,
		CreatedAt:         createdAt,
		Version:           domain.CheckpointVersion,
		GuardrailChecksum: "abc123",
		State: domain.CheckpointState{
			LastJournalSeq: 42,
			Metrics:        domain.MetricsState{EventCount: 7},
		},
	}
}

func TestFileCheckpointRoundTrip(t *testing.T) {
	s, err := NewFileCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	want := testCheckpoint("cp-1", time.Now().UTC())
	if err := s.Write(context.Background(), want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(context.Background(), "cp-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.GuardrailChecksum != want.GuardrailChecksum {
		t.Fatalf("expected checksum %q, got %q", want.GuardrailChecksum, got.GuardrailChecksum)
	}
	if got.State.LastJournalSeq != 42 {
		t.Fatalf("expected watermark 42, got %d", got.State.LastJournalSeq)
	}
	if got.State.Metrics.EventCount != 7 {
		t.Fatalf("expected event count 7, got %d", got.State.Metrics.EventCount)
	}
}

func TestFileCheckpointMissing(t *testing.T) {
	s, err := NewFileCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileCheckpointDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileCheckpointStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(context.Background(), testCheckpoint("cp-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "checkpoints", "cp-1.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)/2] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(context.Background(), "cp-1"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestFileCheckpointListNewestFirst(t *testing.T) {
	s, err := NewFileCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		if err := s.Write(context.Background(), testCheckpoint(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	metas, err := s.List(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("expected limit applied, got %d", len(metas))
	}
	if metas[0].ID != "new" || metas[1].ID != "mid" {
		t.Fatalf("expected newest first, got %s,%s", metas[0].ID, metas[1].ID)
	}
}
