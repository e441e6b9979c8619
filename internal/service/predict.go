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
	// DefaultInternalGate is the completion ratio a subject needs before
	// self-generated scenarios are allowed.
	DefaultInternalGate = 0.30
	// DefaultExternalGate is the minimal completion before any external
	// prediction is served.
	DefaultExternalGate = 0.05
	// DefaultBlendWeight is how much fresh evidence hints pull on the
	// stored belief.
	DefaultBlendWeight = 0.35

	minProbability = 0.01
	maxProbability = 0.99
)

// Prediction is a probability estimate for a subject. SelfOriginated
// marks estimates served from the predicted (unvalidated) tier for audit
// traceability.
type Prediction struct {
	Subject        string    `json:"subject"`
	Probability    float64   `json:"probability"`
	SelfOriginated bool      `json:"self_originated"`
	Timestamp      time.Time `json:"timestamp"`
}

// Scenario is the single bounded synthetic scenario generated for an
// internal prediction. It is never fed back into generation.
type Scenario struct {
	Subject     string    `json:"subject"`
	GeneratedAt time.Time `json:"generated_at"`
	Note        string    `json:"note"`
}

// ResolutionResult reports the outcome of scoring a prediction against
// ground truth.
type ResolutionResult struct {
	Subject     string        `json:"subject"`
	Correct     bool          `json:"correct"`
	Brier       float64       `json:"brier"`
	Calibration float64       `json:"calibration"`
	Knowledge   domain.GKView `json:"knowledge"`
}

// PredictService produces probability estimates and scores them on
// resolution, feeding the calibration accumulator, the replay buffer and
// source trust.
type PredictService struct {
	knowledge *KnowledgeService
	tracker   *Tracker
	metrics   *Metrics
	journal   domain.JournalStore
	busy      *atomic.Bool
	logger    *zap.Logger

	InternalGate float64
	ExternalGate float64
	BlendWeight  float64
}

func NewPredictService(k *KnowledgeService, t *Tracker, m *Metrics, journal domain.JournalStore, busy *atomic.Bool, logger *zap.Logger) *PredictService {
	return &PredictService{
		knowledge:    k,
		tracker:      t,
		metrics:      m,
		journal:      journal,
		busy:         busy,
		logger:       logger,
		InternalGate: DefaultInternalGate,
		ExternalGate: DefaultExternalGate,
		BlendWeight:  DefaultBlendWeight,
	}
}

// Predict reads the confirmed distribution, falling back to the predicted
// one when no external validation exists yet; the fallback is marked
// self-originated. An optional evidence hint blends convexly with the
// stored belief.
func (s *PredictService) Predict(ctx context.Context, subject string, evidenceHint *float64) (*Prediction, error) {
	gk, err := s.knowledge.Get(subject)
	if err != nil {
		return nil, err
	}
	if s.knowledge.Completion(subject) < s.ExternalGate {
		return nil, ErrGated
	}

	prob := gk.Confirmed.Confidence
	selfOriginated := false
	if gk.Confirmed.UpdatedAt.IsZero() {
		prob = gk.Predicted.Confidence
		selfOriginated = true
	}
	if evidenceHint != nil {
		prob = (1-s.BlendWeight)*prob + s.BlendWeight*clamp01(*evidenceHint)
	}
	prob = clampProbability(prob)

	now := time.Now()
	p := prob
	s.tracker.Append(domain.ReplayEvent{
		Kind:        domain.EventPredict,
		Subject:     subject,
		Probability: &p,
		Timestamp:   now,
	})
	if selfOriginated {
		s.logger.Info("self-originated prediction served",
			zap.String("subject", subject),
			zap.Float64("probability", prob))
	}
	return &Prediction{Subject: subject, Probability: prob, SelfOriginated: selfOriginated, Timestamp: now}, nil
}

// Resolve scores a prediction against ground truth: correctness feeds
// accuracy, squared error feeds the calibration accumulator, the truth is
// folded into the confirmed distribution, and source trust is nudged by
// agreement.
func (s *PredictService) Resolve(ctx context.Context, subject string, predictedLabel, probability, truth float64) (*ResolutionResult, error) {
	if s.busy.Load() {
		return nil, ErrBusy
	}
	now := time.Now()
	wal := func(ctx context.Context) error {
		return s.journal.Append(ctx, &domain.JournalEntry{
			Timestamp: now,
			Action:    domain.ActionResolve,
			Subject:   subject,
			Delta:     domain.ResolveDelta{Label: predictedLabel, Probability: probability, Truth: truth}.Encode(),
		})
	}

	view, err := s.knowledge.RecordValidation(ctx, subject, truth, now, wal)
	if err != nil {
		var v *guardrail.Violation
		if errors.As(err, &v) {
			s.metrics.RecordViolation()
			s.logger.Warn("guardrail violation on resolution",
				zap.String("subject", subject),
				zap.String("rule", v.RuleID))
		}
		return nil, err
	}

	correct := predictedLabel == truth
	brier := (probability - truth) * (probability - truth)
	s.metrics.RecordResolution(correct, brier)

	tv := truth
	pv := probability
	s.tracker.Append(domain.ReplayEvent{
		Kind:        domain.EventResolve,
		Subject:     subject,
		Label:       &tv,
		Probability: &pv,
		Correct:     &correct,
		Timestamp:   now,
	})
	s.tracker.NoteResolve(subject, truth, now)

	s.logger.Debug("prediction resolved",
		zap.String("subject", subject),
		zap.Bool("correct", correct),
		zap.Float64("brier", brier))

	return &ResolutionResult{
		Subject:     subject,
		Correct:     correct,
		Brier:       brier,
		Calibration: s.metrics.Calibration(),
		Knowledge:   view,
	}, nil
}

// ImagineAndPredict generates exactly one bounded synthetic scenario and
// serves a self-originated prediction for it. Gated until the subject's
// completion reaches the internal threshold.
func (s *PredictService) ImagineAndPredict(ctx context.Context, subject string) (*Prediction, *Scenario, error) {
	if s.knowledge.Completion(subject) < s.InternalGate {
		return nil, nil, ErrGated
	}
	gk, err := s.knowledge.Get(subject)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	scenario := &Scenario{Subject: subject, GeneratedAt: now, Note: "auto-generated internal scenario"}
	prob := clampProbability(gk.Predicted.Confidence)

	p := prob
	s.tracker.Append(domain.ReplayEvent{
		Kind:        domain.EventPredict,
		Subject:     subject,
		Probability: &p,
		Timestamp:   now,
	})
	s.logger.Info("internal scenario predicted",
		zap.String("subject", subject),
		zap.Float64("probability", prob))

	return &Prediction{Subject: subject, Probability: prob, SelfOriginated: true, Timestamp: now}, scenario, nil
}

func clampProbability(p float64) float64 {
	if p < minProbability {
		return minProbability
	}
	if p > maxProbability {
		return maxProbability
	}
	return p
}
