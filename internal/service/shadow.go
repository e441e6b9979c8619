package service

import (
	"context"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/guardrail"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultShadowTimeout bounds one shadow evaluation in wall-clock
	// time; past it the run counts as a failure, not a long success.
	DefaultShadowTimeout = 2 * time.Second
	// DefaultCalibrationSlack is the allowed calibration regression
	// relative to baseline before a candidate is rejected.
	DefaultCalibrationSlack = 1.1
)

// Decision is the outcome of a shadow evaluation.
type Decision string

const (
	DecisionPromote      Decision = "promote"
	DecisionReject       Decision = "reject"
	DecisionInconclusive Decision = "inconclusive"
)

// CandidateChange is a proposed parameter change evaluated in isolation
// before it may touch the live learner. Nil fields keep current values.
type CandidateChange struct {
	Name        string   `json:"name"`
	DecayLambda *float64 `json:"decay_lambda,omitempty"`
	TrustEta    *float64 `json:"trust_eta,omitempty"`
	BlendWeight *float64 `json:"blend_weight,omitempty"`
}

// BaselineSummary is the bounded, immutable snapshot the reflection
// scheduler hands to shadow evaluation. It never aliases live mutable
// state.
type BaselineSummary struct {
	Calibration float64
	Accuracy    float64
	Uncertainty float64
	BiasCount   int
	Replay      []domain.ReplayEvent
}

// EvalResult carries the decision and the candidate's contribution
// record.
type EvalResult struct {
	Decision Decision                   `json:"decision"`
	Reason   string                     `json:"reason,omitempty"`
	Record   *domain.ContributionRecord `json:"record,omitempty"`
}

// ShadowEvaluator replays bounded history against a candidate change in
// isolation. Implementations must never mutate live state.
type ShadowEvaluator interface {
	Evaluate(ctx context.Context, candidate CandidateChange, baseline BaselineSummary) (*EvalResult, error)
}

// NullEvaluator is the default when no harness is wired: always
// Inconclusive, no side effects. Callers depend only on the interface,
// never on a presence check.
type NullEvaluator struct{}

func (NullEvaluator) Evaluate(ctx context.Context, candidate CandidateChange, baseline BaselineSummary) (*EvalResult, error) {
	return &EvalResult{Decision: DecisionInconclusive, Reason: "shadow evaluation unavailable"}, nil
}

// ReplayEvaluator replays the event history through a fresh isolated
// knowledge store built with the candidate's parameters and scores the
// result against the baseline.
type ReplayEvaluator struct {
	guard         *guardrail.Registry
	contributions domain.ContributionStore
	logger        *zap.Logger

	Timeout          time.Duration
	CalibrationSlack float64
	Weights          ContributionWeights
	WarnRatio        float64
}

func NewReplayEvaluator(guard *guardrail.Registry, contributions domain.ContributionStore, logger *zap.Logger) *ReplayEvaluator {
	return &ReplayEvaluator{
		guard:            guard,
		contributions:    contributions,
		logger:           logger,
		Timeout:          DefaultShadowTimeout,
		CalibrationSlack: DefaultCalibrationSlack,
		Weights:          DefaultContributionWeights(),
		WarnRatio:        DefaultDisagreementWarn,
	}
}

// Evaluate runs the candidate against the replayed history. Promotion
// requires a positive contribution score, zero guardrail violations, and
// calibration within the baseline slack; any internal fault or timeout
// yields Inconclusive and leaves the live system untouched.
func (e *ReplayEvaluator) Evaluate(ctx context.Context, candidate CandidateChange, baseline BaselineSummary) (result *EvalResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("shadow evaluation panicked", zap.Any("panic", r))
			result = &EvalResult{Decision: DecisionInconclusive, Reason: "internal fault during replay"}
			err = nil
		}
	}()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	// Isolated copy: fresh knowledge store, same frozen rule set by
	// reference, candidate parameters applied.
	iso := NewKnowledgeService(guardrail.NewRegistry(e.guard.Current()), zap.NewNop())
	if candidate.DecayLambda != nil {
		iso.DecayLambda = *candidate.DecayLambda
	}
	if candidate.TrustEta != nil {
		iso.TrustEta = *candidate.TrustEta
	}

	var (
		violations int64
		resolved   int
		correct    int
		brierSum   float64
		patterns   = make(map[string]*domain.PatternStat)
	)

	for _, ev := range baseline.Replay {
		if ctx.Err() != nil {
			return &EvalResult{Decision: DecisionInconclusive, Reason: "evaluation timed out"}, nil
		}
		switch ev.Kind {
		case domain.EventIngest:
			if ev.Label == nil {
				continue
			}
			weight := 0.5 + 0.8*(clamp01(*ev.Label)-0.5)
			if _, uerr := iso.UpsertGK(ctx, ev.Subject, ev.Label, weight, nil, false, ev.Timestamp, nil); uerr != nil {
				violations++
			}
			notePattern(patterns, ev.Subject, *ev.Label)
		case domain.EventResolve:
			if ev.Label == nil {
				continue
			}
			truth := *ev.Label
			prob := 0.5
			if gk, gerr := iso.Get(ev.Subject); gerr == nil {
				if !gk.Confirmed.UpdatedAt.IsZero() {
					prob = gk.Confirmed.Confidence
				} else {
					prob = gk.Predicted.Confidence
				}
			}
			resolved++
			if (prob >= 0.5) == (truth >= 0.5) {
				correct++
			}
			brierSum += (prob - truth) * (prob - truth)
			if _, rerr := iso.RecordValidation(ctx, ev.Subject, truth, ev.Timestamp, nil); rerr != nil && rerr != ErrNotFound {
				violations++
			}
		}
	}

	var accuracy, calibration float64
	if resolved > 0 {
		accuracy = float64(correct) / float64(resolved)
		calibration = brierSum / float64(resolved)
	}
	biasCount := 0
	for _, st := range patterns {
		if st.Events >= MinEventsForBiasWarn && st.DisagreementRatio() > e.WarnRatio {
			biasCount++
		}
	}
	_, uncertainty := iso.ConfirmedMeans()

	w := e.Weights
	rec := &domain.ContributionRecord{
		ID:               uuid.New(),
		Timestamp:        time.Now(),
		AccuracyDelta:    accuracy - baseline.Accuracy,
		ViolationCount:   violations,
		UncertaintyDelta: baseline.Uncertainty - uncertainty,
		BiasDelta:        float64(biasCount - baseline.BiasCount),
	}
	rec.Score = w.Alpha*rec.AccuracyDelta - w.Beta*float64(rec.ViolationCount) + w.Gamma*rec.UncertaintyDelta - w.Delta*rec.BiasDelta

	if e.contributions != nil {
		if aerr := e.contributions.Append(ctx, rec); aerr != nil {
			e.logger.Warn("failed to persist shadow contribution record", zap.Error(aerr))
		}
	}

	switch {
	case violations > 0:
		return &EvalResult{Decision: DecisionReject, Reason: "guardrail violations during replay", Record: rec}, nil
	case rec.Score <= 0:
		return &EvalResult{Decision: DecisionReject, Reason: "non-positive contribution score", Record: rec}, nil
	case baseline.Calibration > 0 && calibration > baseline.Calibration*e.CalibrationSlack:
		return &EvalResult{Decision: DecisionReject, Reason: "calibration regression beyond slack", Record: rec}, nil
	}
	return &EvalResult{Decision: DecisionPromote, Record: rec}, nil
}

func notePattern(patterns map[string]*domain.PatternStat, subject string, label float64) {
	st, ok := patterns[subject]
	if !ok {
		st = &domain.PatternStat{}
		patterns[subject] = st
	}
	st.Events++
	if st.LastLabel != nil && *st.LastLabel != label {
		st.Disagreements++
	}
	v := label
	st.LastLabel = &v
}
