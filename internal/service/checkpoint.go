package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/guardrail"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSnapshotInterval drives the background time-based snapshot when
// no interval is configured. Zero disables the worker entirely.
const DefaultSnapshotInterval = 10 * time.Minute

// CheckpointService owns snapshot and restore. Snapshots capture the
// full engine state plus the journal watermark; the journal is truncated
// only after the snapshot is durably written. Restore rebuilds state in a
// staging copy, replays journal entries newer than the watermark, and
// swaps only on full success.
type CheckpointService struct {
	knowledge   *KnowledgeService
	tracker     *Tracker
	metrics     *Metrics
	journal     domain.JournalStore
	checkpoints domain.CheckpointStore
	guard       *guardrail.Registry
	logger      *zap.Logger

	// busy is shared with the ingestion pipeline; rollback flips it so
	// ingestion refuses work for the duration.
	busy *atomic.Bool

	// mu serializes snapshot and restore against each other.
	mu sync.Mutex

	Interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewCheckpointService(k *KnowledgeService, t *Tracker, m *Metrics, journal domain.JournalStore, checkpoints domain.CheckpointStore, guard *guardrail.Registry, busy *atomic.Bool, logger *zap.Logger) *CheckpointService {
	return &CheckpointService{
		knowledge:   k,
		tracker:     t,
		metrics:     m,
		journal:     journal,
		checkpoints: checkpoints,
		guard:       guard,
		busy:        busy,
		logger:      logger,
		Interval:    DefaultSnapshotInterval,
	}
}

// Snapshot captures the engine state into a versioned checkpoint bound to
// the active guardrail checksum. The journal is flushed first so the
// watermark is exact, and truncated only after the checkpoint write is
// confirmed; a failed truncation leaves harmless duplicates behind the
// watermark.
func (s *CheckpointService) Snapshot(ctx context.Context) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.journal.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flushing journal: %w", err)
	}
	lastSeq, err := s.journal.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading journal watermark: %w", err)
	}

	knowledge, sources, progress, assertions := s.knowledge.Export()
	replay, patterns := s.tracker.Export()

	cp := &domain.Checkpoint{
		ID:                uuid.NewString(),
		CreatedAt:         time.Now(),
		Version:           domain.CheckpointVersion,
		GuardrailChecksum: s.guard.Current().Checksum(),
		State: domain.CheckpointState{
			Knowledge:      knowledge,
			Sources:        sources,
			Progress:       progress,
			Patterns:       patterns,
			Replay:         replay,
			Metrics:        s.metrics.Export(),
			Assertions:     assertions,
			LastJournalSeq: lastSeq,
		},
	}
	if err := s.checkpoints.Write(ctx, cp); err != nil {
		return nil, fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := s.journal.Truncate(ctx, lastSeq); err != nil {
		s.logger.Warn("journal truncation failed after checkpoint",
			zap.String("checkpoint_id", cp.ID), zap.Error(err))
	}

	s.logger.Info("checkpoint written",
		zap.String("checkpoint_id", cp.ID),
		zap.Int64("journal_seq", lastSeq),
		zap.Int("subjects", len(knowledge)))
	return cp, nil
}

// Restore loads a checkpoint and replays journal entries newer than its
// watermark into a staging copy. Verification failures — version skew,
// guardrail checksum mismatch against the active rule set, or a malformed
// journal entry — abort with ErrIntegrity and leave the live state
// untouched. Only a fully reconstructed staging state is swapped in.
func (s *CheckpointService) Restore(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.checkpoints.Get(ctx, id)
	if err != nil {
		return err
	}
	if cp.Version != domain.CheckpointVersion {
		return fmt.Errorf("%w: checkpoint version %d, expected %d", ErrIntegrity, cp.Version, domain.CheckpointVersion)
	}
	if sum := s.guard.Current().Checksum(); cp.GuardrailChecksum != sum {
		return fmt.Errorf("%w: checkpoint guardrail checksum %s does not match active %s", ErrIntegrity, cp.GuardrailChecksum, sum)
	}

	entries, err := s.journal.ListSince(ctx, cp.State.LastJournalSeq)
	if err != nil {
		return fmt.Errorf("listing journal entries: %w", err)
	}

	stagedKnowledge := NewKnowledgeService(s.guard, zap.NewNop())
	stagedKnowledge.TrustEta = s.knowledge.TrustEta
	stagedKnowledge.DecayLambda = s.knowledge.DecayLambda
	stagedKnowledge.BaseTrust = s.knowledge.BaseTrust
	stagedKnowledge.PromotionThreshold = s.knowledge.PromotionThreshold
	stagedTracker := NewTracker(s.tracker.Capacity(), zap.NewNop())
	stagedMetrics := NewMetrics()

	stagedKnowledge.Import(cp.State.Knowledge, cp.State.Sources, cp.State.Progress, cp.State.Assertions)
	stagedTracker.Import(cp.State.Replay, cp.State.Patterns)
	stagedMetrics.Import(cp.State.Metrics)

	for _, e := range entries {
		if err := applyJournalEntry(ctx, stagedKnowledge, stagedTracker, stagedMetrics, e); err != nil {
			return fmt.Errorf("%w: replaying journal seq %d: %v", ErrIntegrity, e.Seq, err)
		}
	}

	knowledge, sources, progress, assertions := stagedKnowledge.Export()
	replay, patterns := stagedTracker.Export()
	s.knowledge.Import(knowledge, sources, progress, assertions)
	s.tracker.Import(replay, patterns)
	s.metrics.Import(stagedMetrics.Export())

	s.logger.Info("checkpoint restored",
		zap.String("checkpoint_id", cp.ID),
		zap.Int64("journal_seq", cp.State.LastJournalSeq),
		zap.Int("replayed_entries", len(entries)))
	return nil
}

// Rollback restores a checkpoint while ingestion is halted. The busy flag
// clears even on failure so a bad rollback never wedges the engine.
func (s *CheckpointService) Rollback(ctx context.Context, id string) error {
	s.busy.Store(true)
	defer s.busy.Store(false)
	return s.Restore(ctx, id)
}

// List returns checkpoint metadata, newest first.
func (s *CheckpointService) List(ctx context.Context, limit int) ([]domain.CheckpointMeta, error) {
	return s.checkpoints.List(ctx, limit)
}

// applyJournalEntry replays one committed mutation into the staging
// state. The journaled deltas carry resolved evidence weights, so replay
// reproduces the original updates without re-deriving trust.
func applyJournalEntry(ctx context.Context, k *KnowledgeService, t *Tracker, m *Metrics, e domain.JournalEntry) error {
	switch e.Action {
	case domain.ActionIngest:
		d, err := domain.ParseIngestDelta(e.Delta)
		if err != nil {
			return err
		}
		if _, err := k.UpsertGK(ctx, e.Subject, d.Label, d.Weight, d.Sources, d.Self, e.Timestamp, nil); err != nil {
			return err
		}
		t.Append(domain.ReplayEvent{Kind: domain.EventIngest, Subject: e.Subject, Label: d.Label, Timestamp: e.Timestamp})
		t.NoteIngest(e.Subject, d.Label, e.Timestamp)
		m.RecordEvent()
	case domain.ActionResolve:
		d, err := domain.ParseResolveDelta(e.Delta)
		if err != nil {
			return err
		}
		if _, err := k.RecordValidation(ctx, e.Subject, d.Truth, e.Timestamp, nil); err != nil {
			return err
		}
		correct := d.Label == d.Truth
		brier := (d.Probability - d.Truth) * (d.Probability - d.Truth)
		m.RecordResolution(correct, brier)
		truth := d.Truth
		prob := d.Probability
		t.Append(domain.ReplayEvent{
			Kind:        domain.EventResolve,
			Subject:     e.Subject,
			Label:       &truth,
			Probability: &prob,
			Correct:     &correct,
			Timestamp:   e.Timestamp,
		})
		t.NoteResolve(e.Subject, d.Truth, e.Timestamp)
	case domain.ActionPromote:
		if _, err := domain.ParsePromoteDelta(e.Delta); err != nil {
			return err
		}
		if _, err := k.Promote(ctx, e.Subject, e.Timestamp, nil); err != nil {
			return err
		}
	case domain.ActionViolation:
		if _, err := domain.ParseViolationDelta(e.Delta); err != nil {
			return err
		}
		m.RecordViolation()
	case domain.ActionSource:
		d, err := domain.ParseSourceDelta(e.Delta)
		if err != nil {
			return err
		}
		k.RestoreSource(e.Subject, d.Parent, d.Trust)
	case domain.ActionGuardrail:
		// Audit-only: rule set replacements are verified against the
		// active registry before restore begins.
	default:
		return fmt.Errorf("unknown journal action %q", e.Action)
	}
	return nil
}

// Start launches the background time-based snapshot worker. A zero or
// negative interval disables it.
func (s *CheckpointService) Start(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		s.logger.Info("snapshot worker started", zap.Duration("interval", s.Interval))
		for {
			select {
			case <-ticker.C:
				if _, err := s.Snapshot(ctx); err != nil {
					s.logger.Error("scheduled snapshot failed", zap.Error(err))
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the snapshot worker and waits for it to exit.
func (s *CheckpointService) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("snapshot worker stopped")
}
