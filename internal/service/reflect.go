package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultShadowEvery triggers shadow evaluation from within a
	// reflection every N cumulative events, independently of the
	// reflection cadence.
	DefaultShadowEvery = 100
	// DefaultDisagreementWarn flags subjects whose disagreement ratio
	// exceeds it.
	DefaultDisagreementWarn = 0.3
	// MinEventsForBiasWarn keeps early, thin subjects from being flagged.
	MinEventsForBiasWarn = 5
	// MinItemsForSourceBias is the exposure needed before a single-source
	// subject counts as potentially biased.
	MinItemsForSourceBias = 3
)

// ContributionWeights parameterize the multi-objective contribution
// score: alpha rewards accuracy gain, beta penalizes violations, gamma
// rewards uncertainty reduction, delta penalizes bias growth.
type ContributionWeights struct {
	Alpha float64
	Beta  float64
	Gamma float64
	Delta float64
}

func DefaultContributionWeights() ContributionWeights {
	return ContributionWeights{Alpha: 1.0, Beta: 0.5, Gamma: 0.25, Delta: 0.25}
}

const (
	reflectIdle int32 = iota
	reflectRunning
)

// ReflectService aggregates multi-objective metrics on a fixed event
// cadence and dispatches shadow evaluation. It is strictly Idle →
// Reflecting → Idle; overlapping cycles are refused.
type ReflectService struct {
	knowledge     *KnowledgeService
	tracker       *Tracker
	metrics       *Metrics
	contributions domain.ContributionStore
	evaluator     ShadowEvaluator
	logger        *zap.Logger

	ReflectEvery  int64
	ShadowEvery   int64
	ShadowTimeout time.Duration
	WarnRatio     float64
	Weights       ContributionWeights

	state atomic.Int32

	mu         sync.Mutex
	lastReport *domain.MetricsReport
	pending    *CandidateChange
}

func NewReflectService(k *KnowledgeService, t *Tracker, m *Metrics, contributions domain.ContributionStore, evaluator ShadowEvaluator, logger *zap.Logger) *ReflectService {
	if evaluator == nil {
		evaluator = NullEvaluator{}
	}
	return &ReflectService{
		knowledge:     k,
		tracker:       t,
		metrics:       m,
		contributions: contributions,
		evaluator:     evaluator,
		logger:        logger,
		ReflectEvery:  DefaultReflectEvery,
		ShadowEvery:   DefaultShadowEvery,
		ShadowTimeout: DefaultShadowTimeout,
		WarnRatio:     DefaultDisagreementWarn,
		Weights:       DefaultContributionWeights(),
	}
}

// MaybeReflect fires a reflection when the cumulative event count is a
// positive multiple of the configured cadence. It never fires at zero.
func (s *ReflectService) MaybeReflect(ctx context.Context, eventCount int64) {
	if eventCount <= 0 || s.ReflectEvery <= 0 || eventCount%s.ReflectEvery != 0 {
		return
	}
	if _, err := s.Reflect(ctx); err != nil && err != ErrReflecting {
		s.logger.Warn("reflection cycle failed", zap.Error(err))
	}
}

// Reflect runs one reflection cycle: compute the metric report, score
// the cycle's contribution, persist the record, and — on its own
// independent cadence — hand a bounded summary to shadow evaluation.
func (s *ReflectService) Reflect(ctx context.Context) (*domain.MetricsReport, error) {
	if !s.state.CompareAndSwap(reflectIdle, reflectRunning) {
		return nil, ErrReflecting
	}
	defer s.state.Store(reflectIdle)

	now := time.Now()
	accuracy := s.metrics.Accuracy()
	calibration := s.metrics.Calibration()
	eventCount := s.metrics.EventCount()
	violations := s.metrics.ViolationCount()
	meanConfirmed, uncertainty := s.knowledge.ConfirmedMeans()

	biasCount := 0
	for subject, st := range s.tracker.Stats() {
		if st.Events >= MinEventsForBiasWarn && st.DisagreementRatio() > s.WarnRatio {
			biasCount++
			s.metrics.AddBiasNote("subject " + subject + " shows high disagreement ratio")
		}
	}
	for _, subject := range s.knowledge.SingleSourceSubjects(MinItemsForSourceBias) {
		biasCount++
		s.metrics.AddBiasNote("subject " + subject + " may be source-biased")
	}

	base := s.metrics.Export()
	w := s.Weights
	rec := &domain.ContributionRecord{
		ID:               uuid.New(),
		Timestamp:        now,
		AccuracyDelta:    accuracy - base.BaselineAccuracy,
		ViolationCount:   violations - base.BaselineViolations,
		UncertaintyDelta: base.BaselineUncertainty - uncertainty,
		BiasDelta:        float64(biasCount - base.BaselineBias),
	}
	rec.Score = w.Alpha*rec.AccuracyDelta - w.Beta*float64(rec.ViolationCount) + w.Gamma*rec.UncertaintyDelta - w.Delta*rec.BiasDelta

	if s.contributions != nil {
		if err := s.contributions.Append(ctx, rec); err != nil {
			s.logger.Warn("failed to persist contribution record", zap.Error(err))
		}
	}

	reflections := s.metrics.RecordReflection()
	ratio := 0.0
	if reflections > 0 {
		ratio = float64(eventCount) / float64(reflections)
	}
	report := &domain.MetricsReport{
		Timestamp:       now,
		EventCount:      eventCount,
		Accuracy:        accuracy,
		Calibration:     calibration,
		BiasCount:       biasCount,
		ViolationCount:  violations,
		ReflectionRatio: ratio,
		CoreDrift:       meanConfirmed - base.BaselineDrift,
		SubjectsTracked: s.knowledge.SubjectCount(),
		SourceCount:     s.knowledge.SourceCount(),
	}

	s.metrics.SetBaselines(accuracy, biasCount, meanConfirmed, uncertainty, violations)

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()

	s.logger.Info("reflection complete",
		zap.Int64("event_count", eventCount),
		zap.Float64("accuracy", accuracy),
		zap.Float64("calibration", calibration),
		zap.Int("bias_count", biasCount),
		zap.Float64("contribution_score", rec.Score))

	if s.ShadowEvery > 0 && eventCount > 0 && eventCount%s.ShadowEvery == 0 {
		s.runShadow(ctx, report)
	}

	return report, nil
}

// runShadow dispatches shadow evaluation with an immutable bounded
// summary. Any failure is caught here, logged as a warning, and never
// reaches the live learner.
func (s *ReflectService) runShadow(ctx context.Context, report *domain.MetricsReport) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("shadow evaluation dispatch panicked", zap.Any("panic", r))
		}
	}()

	s.mu.Lock()
	candidate := s.pending
	s.pending = nil
	s.mu.Unlock()
	if candidate == nil {
		candidate = &CandidateChange{Name: "current-parameters"}
	}

	sctx, cancel := context.WithTimeout(ctx, s.ShadowTimeout)
	defer cancel()

	result, err := s.evaluator.Evaluate(sctx, *candidate, s.baselineSummary(report))
	if err != nil {
		s.logger.Warn("shadow evaluation failed", zap.String("candidate", candidate.Name), zap.Error(err))
		return
	}
	s.logger.Info("shadow evaluation finished",
		zap.String("candidate", candidate.Name),
		zap.String("decision", string(result.Decision)),
		zap.String("reason", result.Reason))
}

// EvaluateCandidate runs one explicit shadow evaluation against current
// history. Failures surface as Inconclusive; the live state is never
// touched.
func (s *ReflectService) EvaluateCandidate(ctx context.Context, candidate CandidateChange) (*EvalResult, error) {
	sctx, cancel := context.WithTimeout(ctx, s.ShadowTimeout)
	defer cancel()

	_, uncertainty := s.knowledge.ConfirmedMeans()
	base := s.metrics.Export()
	summary := BaselineSummary{
		Calibration: s.metrics.Calibration(),
		Accuracy:    s.metrics.Accuracy(),
		Uncertainty: uncertainty,
		BiasCount:   base.BaselineBias,
		Replay:      s.tracker.Snapshot(),
	}

	result, err := s.evaluator.Evaluate(sctx, candidate, summary)
	if err != nil {
		s.logger.Warn("candidate evaluation failed", zap.String("candidate", candidate.Name), zap.Error(err))
		return &EvalResult{Decision: DecisionInconclusive, Reason: "evaluator failure"}, nil
	}
	return result, nil
}

// SetPendingCandidate queues a candidate for the next cadence-driven
// shadow evaluation.
func (s *ReflectService) SetPendingCandidate(c CandidateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &c
}

// LastReport returns the most recent reflection report, nil before the
// first cycle.
func (s *ReflectService) LastReport() *domain.MetricsReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

func (s *ReflectService) baselineSummary(report *domain.MetricsReport) BaselineSummary {
	_, uncertainty := s.knowledge.ConfirmedMeans()
	return BaselineSummary{
		Calibration: report.Calibration,
		Accuracy:    report.Accuracy,
		Uncertainty: uncertainty,
		BiasCount:   report.BiasCount,
		Replay:      s.tracker.Snapshot(),
	}
}
