package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/guardrail"
	"go.uber.org/zap"
)

const (
	DefaultReflectEvery    = 25
	DefaultCheckpointEvery = 50
)

// Reflector is the cadence hook the pipeline pokes after each event.
type Reflector interface {
	MaybeReflect(ctx context.Context, eventCount int64)
}

// Snapshotter is the checkpoint hook for the event-cadence snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*domain.Checkpoint, error)
}

// IngestService runs the guarded ingestion pipeline: guardrail check,
// trust-weighted knowledge update, replay/pattern tracking, write-ahead
// journaling, and cadence triggers for reflection and checkpoints.
type IngestService struct {
	knowledge *KnowledgeService
	tracker   *Tracker
	metrics   *Metrics
	journal   domain.JournalStore
	logger    *zap.Logger

	reflector   Reflector
	snapshotter Snapshotter

	// busy is shared with the checkpoint manager; while a rollback is in
	// progress ingestion returns ErrBusy instead of queueing.
	busy *atomic.Bool

	CheckpointEvery int64
}

func NewIngestService(k *KnowledgeService, t *Tracker, m *Metrics, journal domain.JournalStore, busy *atomic.Bool, logger *zap.Logger) *IngestService {
	return &IngestService{
		knowledge:       k,
		tracker:         t,
		metrics:         m,
		journal:         journal,
		busy:            busy,
		logger:          logger,
		CheckpointEvery: DefaultCheckpointEvery,
	}
}

// SetReflector wires the reflection cadence hook.
func (s *IngestService) SetReflector(r Reflector) { s.reflector = r }

// SetSnapshotter wires the checkpoint cadence hook.
func (s *IngestService) SetSnapshotter(sn Snapshotter) { s.snapshotter = sn }

// Ingest applies one claim. Guardrail rejections short-circuit before any
// mutation; the rejection itself is journaled and counted so no failure
// is invisible.
func (s *IngestService) Ingest(ctx context.Context, claim domain.Claim) (*domain.IngestAck, error) {
	if s.busy.Load() {
		return nil, ErrBusy
	}

	now := claim.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	weight := s.knowledge.EvidenceValue(claim.Label, claim.Confidence, claim.Sources)
	delta := domain.IngestDelta{Label: claim.Label, Weight: weight, Sources: claim.Sources, Self: claim.SelfGenerated}

	wal := func(ctx context.Context) error {
		return s.journal.Append(ctx, &domain.JournalEntry{
			Timestamp: now,
			Action:    domain.ActionIngest,
			Subject:   claim.Subject,
			Delta:     delta.Encode(),
		})
	}

	view, err := s.knowledge.UpsertGK(ctx, claim.Subject, claim.Label, weight, claim.Sources, claim.SelfGenerated, now, wal)
	if err != nil {
		var v *guardrail.Violation
		if errors.As(err, &v) {
			s.recordViolation(ctx, claim.Subject, v, now)
		}
		return nil, err
	}

	s.tracker.Append(domain.ReplayEvent{
		Kind:      domain.EventIngest,
		Subject:   claim.Subject,
		Label:     claim.Label,
		Timestamp: now,
	})
	s.tracker.NoteIngest(claim.Subject, claim.Label, now)

	count := s.metrics.RecordEvent()

	s.logger.Debug("claim ingested",
		zap.String("subject", claim.Subject),
		zap.Strings("sources", claim.Sources),
		zap.Float64("weight", weight),
		zap.Int64("event_count", count))

	if s.reflector != nil {
		s.reflector.MaybeReflect(ctx, count)
	}
	if s.snapshotter != nil && s.CheckpointEvery > 0 && count%s.CheckpointEvery == 0 {
		if _, err := s.snapshotter.Snapshot(ctx); err != nil {
			s.logger.Warn("cadence checkpoint failed", zap.Error(err))
		}
	}

	return &domain.IngestAck{
		Subject:    claim.Subject,
		Knowledge:  view,
		Weight:     weight,
		EventCount: count,
	}, nil
}

// recordViolation journals the rejection in place of the state delta.
// The store stays unchanged; the audit trail does not.
func (s *IngestService) recordViolation(ctx context.Context, subject string, v *guardrail.Violation, now time.Time) {
	s.metrics.RecordViolation()
	entry := &domain.JournalEntry{
		Timestamp: now,
		Action:    domain.ActionViolation,
		Subject:   subject,
		Delta:     domain.ViolationDelta{Rule: v.RuleID, Attempted: string(domain.ActionIngest)}.Encode(),
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		s.logger.Error("failed to journal violation", zap.Error(err))
	}
	s.logger.Warn("guardrail violation",
		zap.String("subject", subject),
		zap.String("rule", v.RuleID))
}

// RegisterSource journals and registers an evidence source, optionally
// under a parent whose trust it partially inherits. Already-known sources
// are returned as-is without a duplicate journal entry.
func (s *IngestService) RegisterSource(ctx context.Context, name, parent string) (domain.Source, error) {
	if s.busy.Load() {
		return domain.Source{}, ErrBusy
	}
	if src, ok := s.knowledge.Source(name); ok {
		return src, nil
	}
	entry := &domain.JournalEntry{
		Timestamp: time.Now(),
		Action:    domain.ActionSource,
		Subject:   name,
		Delta:     domain.SourceDelta{Parent: parent, Trust: s.knowledge.BaseTrust}.Encode(),
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		return domain.Source{}, err
	}
	src := s.knowledge.RegisterSource(name, parent)
	s.logger.Info("source registered",
		zap.String("source", name),
		zap.String("parent", parent))
	return *src, nil
}

// Promote runs the gated predicted-to-confirmed promotion with the same
// journal-before-apply discipline as ingestion.
func (s *IngestService) Promote(ctx context.Context, subject string) (*domain.GKView, error) {
	if s.busy.Load() {
		return nil, ErrBusy
	}
	now := time.Now()
	view, err := s.knowledge.Promote(ctx, subject, now, func(ctx context.Context, validations int, confidence float64) error {
		return s.journal.Append(ctx, &domain.JournalEntry{
			Timestamp: now,
			Action:    domain.ActionPromote,
			Subject:   subject,
			Delta:     domain.PromoteDelta{Validations: validations, Confidence: confidence}.Encode(),
		})
	})
	if err != nil {
		var v *guardrail.Violation
		if errors.As(err, &v) {
			s.recordViolation(ctx, subject, v, now)
		}
		return nil, err
	}
	return &view, nil
}
