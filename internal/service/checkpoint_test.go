package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/guardrail"
	"github.com/credence-ai/credence/internal/store"
	"go.uber.org/zap"
)

type engineStack struct {
	ingest *IngestService
	cps    *CheckpointService
	k      *KnowledgeService
	tr     *Tracker
	m      *Metrics
	j      *mockJournal
	cpm    *mockCheckpoints
	guard  *guardrail.Registry
	busy   *atomic.Bool
}

func newEngineStack() *engineStack {
	guard := guardrail.NewRegistry(guardrail.Default())
	k := NewKnowledgeService(guard, zap.NewNop())
	tr := NewTracker(DefaultReplayCapacity, zap.NewNop())
	m := NewMetrics()
	j := newMockJournal()
	cpm := newMockCheckpoints()
	var busy atomic.Bool
	return &engineStack{
		ingest: NewIngestService(k, tr, m, j, &busy, zap.NewNop()),
		cps:    NewCheckpointService(k, tr, m, j, cpm, guard, &busy, zap.NewNop()),
		k:      k,
		tr:     tr,
		m:      m,
		j:      j,
		cpm:    cpm,
		guard:  guard,
		busy:   &busy,
	}
}

func (s *engineStack) mustIngest(t *testing.T, subject string, label float64, ts time.Time) {
	t.Helper()
	if _, err := s.ingest.Ingest(context.Background(), domain.Claim{
		Subject:    subject,
		Label:      &label,
		Sources:    []string{"src"},
		Confidence: 1.0,
		Timestamp:  ts,
	}); err != nil {
		t.Fatalf("ingest %s: %v", subject, err)
	}
}

func TestSnapshotBindsWatermarkAndTruncates(t *testing.T) {
	s := newEngineStack()
	now := time.Now()
	s.mustIngest(t, "a", 1.0, now)
	s.mustIngest(t, "b", 0.0, now)

	cp, err := s.cps.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cp.Version != domain.CheckpointVersion {
		t.Fatalf("expected version %d, got %d", domain.CheckpointVersion, cp.Version)
	}
	if cp.GuardrailChecksum != s.guard.Current().Checksum() {
		t.Fatal("checkpoint must be bound to the active guardrail checksum")
	}
	if cp.State.LastJournalSeq != 2 {
		t.Fatalf("expected watermark 2, got %d", cp.State.LastJournalSeq)
	}
	if len(cp.State.Knowledge) != 2 {
		t.Fatalf("expected 2 subjects captured, got %d", len(cp.State.Knowledge))
	}

	rest, err := s.j.ListSince(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected journal truncated after snapshot, got %d entries", len(rest))
	}
}

func TestRestoreReplaysJournalTail(t *testing.T) {
	s := newEngineStack()
	base := time.Now().Add(-time.Hour)
	s.mustIngest(t, "a", 1.0, base)

	cp, err := s.cps.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Post-snapshot work only exists in the journal tail.
	s.mustIngest(t, "a", 0.0, base.Add(30*time.Minute))
	s.mustIngest(t, "b", 1.0, base.Add(31*time.Minute))

	liveA, err := s.k.Get("a")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.cps.Restore(context.Background(), cp.ID); err != nil {
		t.Fatalf("expected restore to succeed, got %v", err)
	}

	restoredA, err := s.k.Get("a")
	if err != nil {
		t.Fatalf("expected subject a after restore, got %v", err)
	}
	if restoredA.Confirmed.Confidence != liveA.Confirmed.Confidence {
		t.Fatalf("replay must reproduce the live confidence: %v vs %v",
			restoredA.Confirmed.Confidence, liveA.Confirmed.Confidence)
	}
	if _, err := s.k.Get("b"); err != nil {
		t.Fatalf("expected journal-only subject b after restore, got %v", err)
	}
	if s.m.EventCount() != 3 {
		t.Fatalf("expected event count rebuilt to 3, got %d", s.m.EventCount())
	}
	if s.tr.Len() != 3 {
		t.Fatalf("expected 3 replay events rebuilt, got %d", s.tr.Len())
	}
}

func TestRestoreReplaysSourceRegistrations(t *testing.T) {
	s := newEngineStack()
	s.mustIngest(t, "a", 1.0, time.Now())
	cp, err := s.cps.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Post-snapshot registrations only exist in the journal tail.
	if _, err := s.ingest.RegisterSource(context.Background(), "agency", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ingest.RegisterSource(context.Background(), "field-station", "agency"); err != nil {
		t.Fatal(err)
	}

	liveCount := s.k.SourceCount()
	liveTrust := s.k.EffectiveTrust([]string{"field-station"})

	if err := s.cps.Restore(context.Background(), cp.ID); err != nil {
		t.Fatalf("expected restore to succeed, got %v", err)
	}

	if s.k.SourceCount() != liveCount {
		t.Fatalf("replay must rebuild the trust registry: %d vs %d", s.k.SourceCount(), liveCount)
	}
	src, ok := s.k.Source("field-station")
	if !ok || src.Parent != "agency" {
		t.Fatalf("replay must preserve the parent link, got %+v (%v)", src, ok)
	}
	if got := s.k.EffectiveTrust([]string{"field-station"}); got != liveTrust {
		t.Fatalf("replay must reproduce inherited trust: %v vs %v", got, liveTrust)
	}
}

func TestRestoreReplaysResolutionOutcome(t *testing.T) {
	s := newEngineStack()
	predict := NewPredictService(s.k, s.tr, s.m, s.j, s.busy, zap.NewNop())
	s.mustIngest(t, "a", 1.0, time.Now())
	cp, err := s.cps.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := predict.Resolve(context.Background(), "a", 1.0, 0.5, 1.0); err != nil {
		t.Fatal(err)
	}

	if err := s.cps.Restore(context.Background(), cp.ID); err != nil {
		t.Fatalf("expected restore to succeed, got %v", err)
	}

	replay, _ := s.tr.Export()
	var found bool
	for _, e := range replay {
		if e.Kind != domain.EventResolve {
			continue
		}
		found = true
		if e.Probability == nil || *e.Probability != 0.5 {
			t.Fatalf("replayed resolution must carry the probability, got %v", e.Probability)
		}
		if e.Correct == nil || !*e.Correct {
			t.Fatalf("replayed resolution must carry correctness, got %v", e.Correct)
		}
	}
	if !found {
		t.Fatal("expected a resolve event in the rebuilt replay buffer")
	}
	if s.m.Accuracy() != 1.0 {
		t.Fatalf("expected accuracy rebuilt to 1.0, got %v", s.m.Accuracy())
	}
}

func TestRestoreRejectsGuardrailChecksumMismatch(t *testing.T) {
	s := newEngineStack()
	s.mustIngest(t, "a", 1.0, time.Now())
	cp, err := s.cps.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	next, err := guardrail.New(2, guardrail.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.guard.Replace(next); err != nil {
		t.Fatal(err)
	}

	if err := s.cps.Restore(context.Background(), cp.ID); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if _, err := s.k.Get("a"); err != nil {
		t.Fatal("failed restore must leave live state untouched")
	}
}

func TestRestoreRejectsVersionSkew(t *testing.T) {
	s := newEngineStack()
	bad := &domain.Checkpoint{
		ID:                "stale",
		Version:           domain.CheckpointVersion + 1,
		GuardrailChecksum: s.guard.Current().Checksum(),
	}
	if err := s.cpm.Write(context.Background(), bad); err != nil {
		t.Fatal(err)
	}
	if err := s.cps.Restore(context.Background(), "stale"); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestRestoreRejectsMalformedJournalEntry(t *testing.T) {
	s := newEngineStack()
	s.mustIngest(t, "a", 1.0, time.Now())
	cp, err := s.cps.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.j.Append(context.Background(), &domain.JournalEntry{
		Timestamp: time.Now(),
		Action:    domain.ActionIngest,
		Subject:   "a",
		Delta:     "garbage",
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.cps.Restore(context.Background(), cp.ID); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if _, err := s.k.Get("a"); err != nil {
		t.Fatal("failed replay must leave live state untouched")
	}
}

func TestRestoreUnknownCheckpoint(t *testing.T) {
	s := newEngineStack()
	if err := s.cps.Restore(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestRollbackClearsBusyOnFailure(t *testing.T) {
	s := newEngineStack()
	if err := s.cps.Rollback(context.Background(), "missing"); err == nil {
		t.Fatal("expected rollback of unknown checkpoint to fail")
	}
	if s.busy.Load() {
		t.Fatal("busy flag must clear after a failed rollback")
	}
}

func TestRollbackBlocksIngestion(t *testing.T) {
	s := newEngineStack()
	s.busy.Store(true)
	label := 1.0
	if _, err := s.ingest.Ingest(context.Background(), domain.Claim{Subject: "s", Label: &label}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while rolling back, got %v", err)
	}
}
