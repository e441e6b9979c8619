package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"go.uber.org/zap"
)

type recordingEvaluator struct {
	calls      int
	candidates []CandidateChange
	result     *EvalResult
	err        error
}

func (r *recordingEvaluator) Evaluate(ctx context.Context, candidate CandidateChange, baseline BaselineSummary) (*EvalResult, error) {
	r.calls++
	r.candidates = append(r.candidates, candidate)
	if r.result == nil {
		return &EvalResult{Decision: DecisionInconclusive}, r.err
	}
	return r.result, r.err
}

func newReflectStack(evaluator ShadowEvaluator) (*ReflectService, *KnowledgeService, *Tracker, *Metrics, *mockContributions) {
	k := newTestKnowledge()
	tr := NewTracker(DefaultReplayCapacity, zap.NewNop())
	m := NewMetrics()
	contribs := newMockContributions()
	svc := NewReflectService(k, tr, m, contribs, evaluator, zap.NewNop())
	return svc, k, tr, m, contribs
}

func TestMaybeReflectFiresOnlyOnCadence(t *testing.T) {
	svc, _, _, _, _ := newReflectStack(nil)

	svc.MaybeReflect(context.Background(), 0)
	svc.MaybeReflect(context.Background(), 24)
	if svc.LastReport() != nil {
		t.Fatal("reflection must not fire off-cadence")
	}

	svc.MaybeReflect(context.Background(), DefaultReflectEvery)
	if svc.LastReport() == nil {
		t.Fatal("reflection must fire at the cadence multiple")
	}
}

func TestReflectBuildsReport(t *testing.T) {
	svc, k, _, m, contribs := newReflectStack(nil)
	label := 1.0
	k.RegisterSource("a", "")
	if _, err := k.UpsertGK(context.Background(), "s", &label, 0.8, []string{"a"}, false, time.Now(), nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	m.RecordEvent()
	m.RecordEvent()
	m.RecordResolution(true, 0.04)

	report, err := svc.Reflect(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.EventCount != 2 {
		t.Fatalf("expected event count 2, got %d", report.EventCount)
	}
	if report.Accuracy != 1.0 {
		t.Fatalf("expected accuracy 1.0, got %v", report.Accuracy)
	}
	if report.Calibration != 0.04 {
		t.Fatalf("expected calibration 0.04, got %v", report.Calibration)
	}
	if report.SubjectsTracked != 1 || report.SourceCount != 1 {
		t.Fatalf("expected 1 subject and 1 source, got %d/%d", report.SubjectsTracked, report.SourceCount)
	}
	if report.ReflectionRatio != 2.0 {
		t.Fatalf("expected ratio 2.0 after first cycle, got %v", report.ReflectionRatio)
	}
	if contribs.count() != 1 {
		t.Fatalf("expected 1 contribution record, got %d", contribs.count())
	}
	if got := svc.LastReport(); got == nil || got.EventCount != 2 {
		t.Fatalf("expected last report retained, got %+v", got)
	}
}

func TestReflectFlagsHighDisagreementSubject(t *testing.T) {
	svc, _, tr, m, _ := newReflectStack(nil)
	now := time.Now()

	labels := []float64{1, 0, 1, 0, 1, 0}
	for i := range labels {
		tr.NoteIngest("volatile", &labels[i], now)
	}

	report, err := svc.Reflect(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.BiasCount != 1 {
		t.Fatalf("expected 1 bias flag, got %d", report.BiasCount)
	}
	if m.BiasNoteCount() != 1 {
		t.Fatalf("expected 1 bias note, got %d", m.BiasNoteCount())
	}
}

func TestReflectFlagsSingleSourceSubject(t *testing.T) {
	svc, k, _, _, _ := newReflectStack(nil)
	label := 1.0
	now := time.Now()

	for i := 0; i < MinItemsForSourceBias; i++ {
		if _, err := k.UpsertGK(context.Background(), "narrow", &label, 0.6, []string{"only"}, false, now, nil); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	report, err := svc.Reflect(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.BiasCount != 1 {
		t.Fatalf("expected single-source subject flagged, got %d", report.BiasCount)
	}
}

func TestReflectBaselinesCarryBetweenCycles(t *testing.T) {
	svc, _, _, m, contribs := newReflectStack(nil)
	m.RecordResolution(true, 0.04)

	if _, err := svc.Reflect(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Nothing changed since the baseline was set, so the second cycle's
	// deltas are all zero.
	if _, err := svc.Reflect(context.Background()); err != nil {
		t.Fatal(err)
	}

	recs, err := contribs.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	second := recs[1]
	if second.AccuracyDelta != 0 || second.Score != 0 {
		t.Fatalf("expected zero deltas on unchanged cycle, got %+v", second)
	}
}

func TestReflectRefusesOverlap(t *testing.T) {
	svc, _, _, _, _ := newReflectStack(nil)
	svc.state.Store(reflectRunning)

	if _, err := svc.Reflect(context.Background()); !errors.Is(err, ErrReflecting) {
		t.Fatalf("expected ErrReflecting, got %v", err)
	}
}

func TestReflectDispatchesShadowOnItsOwnCadence(t *testing.T) {
	eval := &recordingEvaluator{}
	svc, _, _, m, _ := newReflectStack(eval)
	svc.ShadowEvery = 2

	m.RecordEvent()
	if _, err := svc.Reflect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if eval.calls != 0 {
		t.Fatalf("expected no shadow run at count 1, got %d", eval.calls)
	}

	m.RecordEvent()
	svc.SetPendingCandidate(CandidateChange{Name: "half-decay"})
	if _, err := svc.Reflect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if eval.calls != 1 {
		t.Fatalf("expected shadow run at count 2, got %d", eval.calls)
	}
	if eval.candidates[0].Name != "half-decay" {
		t.Fatalf("expected pending candidate dispatched, got %q", eval.candidates[0].Name)
	}

	// The pending slot is consumed; the next cadence run falls back to
	// the current parameters.
	m.RecordEvent()
	m.RecordEvent()
	if _, err := svc.Reflect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if eval.candidates[1].Name != "current-parameters" {
		t.Fatalf("expected default candidate, got %q", eval.candidates[1].Name)
	}
}

func TestEvaluateCandidateWrapsEvaluatorFailure(t *testing.T) {
	eval := &recordingEvaluator{err: errors.New("boom")}
	svc, _, _, _, _ := newReflectStack(eval)

	res, err := svc.EvaluateCandidate(context.Background(), CandidateChange{Name: "c"})
	if err != nil {
		t.Fatalf("expected failure swallowed, got %v", err)
	}
	if res.Decision != DecisionInconclusive || res.Reason != "evaluator failure" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEvaluateCandidateReturnsEvaluatorResult(t *testing.T) {
	eval := &recordingEvaluator{result: &EvalResult{Decision: DecisionPromote, Record: &domain.ContributionRecord{}}}
	svc, _, _, _, _ := newReflectStack(eval)

	res, err := svc.EvaluateCandidate(context.Background(), CandidateChange{Name: "c"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Decision != DecisionPromote {
		t.Fatalf("expected promote passed through, got %s", res.Decision)
	}
}
