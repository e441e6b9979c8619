package service

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/guardrail"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultTrustEta           = 0.1
	DefaultDecayLambda        = 0.01 // per hour
	DefaultBaseTrust          = 0.5
	DefaultPromotionThreshold = 3
	MaxTrustHops              = 4

	CompletionFloor = 0.0001
	CompletionCap   = 0.9999
)

// subjectEntry bundles everything mutable for one subject under a single
// mutex. Ingestions on the same subject serialize here; unrelated
// subjects proceed concurrently.
type subjectEntry struct {
	mu         sync.Mutex
	gk         *domain.GeneralizedKnowledge
	progress   domain.SubjectProgress
	assertions map[string]float64 // source name -> last labeled assertion
}

// KnowledgeService owns per-subject generalized knowledge and the source
// trust registry. Every mutation passes the guardrail first; a rejection
// leaves the store untouched.
type KnowledgeService struct {
	guard  *guardrail.Registry
	logger *zap.Logger

	TrustEta           float64
	DecayLambda        float64
	BaseTrust          float64
	PromotionThreshold int

	mu       sync.RWMutex
	subjects map[string]*subjectEntry

	srcMu   sync.Mutex
	sources map[string]*domain.Source
}

func NewKnowledgeService(guard *guardrail.Registry, logger *zap.Logger) *KnowledgeService {
	return &KnowledgeService{
		guard:              guard,
		logger:             logger,
		TrustEta:           DefaultTrustEta,
		DecayLambda:        DefaultDecayLambda,
		BaseTrust:          DefaultBaseTrust,
		PromotionThreshold: DefaultPromotionThreshold,
		subjects:           make(map[string]*subjectEntry),
		sources:            make(map[string]*domain.Source),
	}
}

func (s *KnowledgeService) entry(subject string) *subjectEntry {
	s.mu.RLock()
	e, ok := s.subjects[subject]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.subjects[subject]; ok {
		return e
	}
	e = &subjectEntry{assertions: make(map[string]float64)}
	s.subjects[subject] = e
	return e
}

// RegisterSource adds a source at base trust if unknown and returns it.
func (s *KnowledgeService) RegisterSource(name, parent string) *domain.Source {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	return s.registerLocked(name, parent)
}

func (s *KnowledgeService) registerLocked(name, parent string) *domain.Source {
	if src, ok := s.sources[name]; ok {
		return src
	}
	src := &domain.Source{ID: uuid.New(), Name: name, Parent: parent, Trust: s.BaseTrust}
	s.sources[name] = src
	return src
}

// inheritedTrust blends a source's trust with its ancestry, bounded hops.
func (s *KnowledgeService) inheritedTrust(name string) float64 {
	src, ok := s.sources[name]
	if !ok {
		return s.BaseTrust
	}
	t := src.Trust
	for hops := 0; src.Parent != "" && hops < MaxTrustHops; hops++ {
		parent, ok := s.sources[src.Parent]
		if !ok {
			break
		}
		t = 0.7*t + 0.3*parent.Trust
		src = parent
	}
	return t
}

// EffectiveTrust combines the independent trusts of a claim's sources
// into a single evidence multiplier. It is a pure read: unknown sources
// score at base trust without entering the registry, which happens only
// once the claim's delta passes the guardrail. Extremes are softened so
// a single source never fully decides.
func (s *KnowledgeService) EffectiveTrust(names []string) float64 {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	if len(names) == 0 {
		return 0
	}
	conf := 1.0
	for _, name := range names {
		t := s.inheritedTrust(name)
		conf *= 0.9*t + 0.1
	}
	return conf
}

// UpdateTrust applies exponential smoothing toward agreement, clamped to
// [0,1].
func (s *KnowledgeService) UpdateTrust(name string, agreed bool) {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	src := s.registerLocked(name, "")
	target := 0.0
	if agreed {
		target = 1.0
	}
	src.Trust = clamp01(src.Trust + s.TrustEta*(target-src.Trust))
	src.Samples++
}

// Trust returns a source's current trust score.
func (s *KnowledgeService) Trust(name string) (float64, bool) {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	src, ok := s.sources[name]
	if !ok {
		return 0, false
	}
	return src.Trust, true
}

// Source returns a detached copy of one registered source.
func (s *KnowledgeService) Source(name string) (domain.Source, bool) {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	src, ok := s.sources[name]
	if !ok {
		return domain.Source{}, false
	}
	return *src, true
}

// RestoreSource reinstates a journaled source registration during replay.
// Existing entries are left alone; later trust movement is reproduced by
// the resolve entries that follow.
func (s *KnowledgeService) RestoreSource(name, parent string, trust float64) {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	if _, ok := s.sources[name]; ok {
		return
	}
	s.sources[name] = &domain.Source{ID: uuid.New(), Name: name, Parent: parent, Trust: trust}
}

// Sources returns a detached copy of the trust registry.
func (s *KnowledgeService) Sources() []domain.Source {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	out := make([]domain.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, *src)
	}
	return out
}

func (s *KnowledgeService) SourceCount() int {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	return len(s.sources)
}

// UpsertGK applies a recency-weighted update to the subject's knowledge.
// Externally sourced claims shape the confirmed distribution; self-
// generated claims shape the predicted one — the tiers never merge here.
// Weight is the trust-weighted evidence value the confidence moves toward;
// claims without a numeric label contribute provenance and progress but
// leave confidence untouched. The guardrail sees the implied delta first;
// on rejection the store, the trust registry and the progress counters
// are byte-for-byte unchanged — unknown sources enter the registry only
// here, after the check passes. The wal callback runs between the
// passing check and the mutation so the journal append commits before
// the change becomes visible.
func (s *KnowledgeService) UpsertGK(ctx context.Context, subject string, label *float64, weight float64, sources []string, selfGenerated bool, now time.Time, wal func(context.Context) error) (domain.GKView, error) {
	e := s.entry(subject)
	e.mu.Lock()
	defer e.mu.Unlock()

	tier := domain.TierConfirmed
	if selfGenerated {
		tier = domain.TierPredicted
	}
	var dist domain.Distribution
	if e.gk != nil {
		if tier == domain.TierConfirmed {
			dist = e.gk.Confirmed
		} else {
			dist = e.gk.Predicted
		}
	}
	before := dist.Confidence
	after := before
	if label != nil {
		after = recencyWeighted(before, weight, dist.UpdatedAt, now, s.DecayLambda)
	}

	delta := guardrail.Delta{
		Action:        domain.ActionIngest,
		Subject:       subject,
		Tier:          tier,
		Label:         label,
		Before:        before,
		After:         after,
		Sources:       sources,
		SelfGenerated: selfGenerated,
	}
	if err := s.guard.Current().Check(delta); err != nil {
		return domain.GKView{}, err
	}
	if wal != nil {
		if err := wal(ctx); err != nil {
			return domain.GKView{}, err
		}
	}

	if e.gk == nil {
		e.gk = &domain.GeneralizedKnowledge{Subject: subject, CreatedAt: now}
	}
	dist.Confidence = after
	if label != nil {
		dist.UpdatedAt = now
	}
	dist.Provenance = mergeProvenance(dist.Provenance, sources)
	if tier == domain.TierConfirmed {
		e.gk.Confirmed = dist
	} else {
		e.gk.Predicted = dist
	}
	for _, name := range sources {
		if label != nil {
			e.assertions[name] = *label
		}
	}
	s.srcMu.Lock()
	for _, name := range sources {
		s.registerLocked(name, "")
	}
	s.srcMu.Unlock()
	s.updateProgressLocked(e, sources)
	return e.gk.View(), nil
}

// EvidenceValue converts a claim into the trust-weighted value the
// confidence moves toward: neutral 0.5 pulled toward the label by the
// combined source trust and the claim's own confidence.
func (s *KnowledgeService) EvidenceValue(label *float64, claimConfidence float64, sources []string) float64 {
	if label == nil {
		return 0
	}
	w := clamp01(claimConfidence) * s.EffectiveTrust(sources)
	return 0.5 + w*(clamp01(*label)-0.5)
}

// RecordValidation folds a resolved ground truth into the confirmed
// distribution and counts an independent external validation. Source
// trust is nudged by agreement between each source's last assertion on
// the subject and the truth.
func (s *KnowledgeService) RecordValidation(ctx context.Context, subject string, truth float64, now time.Time, wal func(context.Context) error) (domain.GKView, error) {
	e := s.entry(subject)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gk == nil {
		return domain.GKView{}, ErrNotFound
	}

	before := e.gk.Confirmed.Confidence
	after := recencyWeighted(before, truth, e.gk.Confirmed.UpdatedAt, now, s.DecayLambda)
	delta := guardrail.Delta{
		Action:  domain.ActionResolve,
		Subject: subject,
		Tier:    domain.TierConfirmed,
		Label:   &truth,
		Before:  before,
		After:   after,
	}
	if err := s.guard.Current().Check(delta); err != nil {
		return domain.GKView{}, err
	}
	if wal != nil {
		if err := wal(ctx); err != nil {
			return domain.GKView{}, err
		}
	}

	e.gk.Confirmed.Confidence = after
	e.gk.Confirmed.UpdatedAt = now
	e.gk.Validations++

	for name, asserted := range e.assertions {
		s.UpdateTrust(name, asserted == truth)
	}
	return e.gk.View(), nil
}

// Promote merges the predicted distribution into the confirmed tier.
// Permitted only once independent validations reach the configured
// threshold; the superseded confirmed distribution is archived, never
// discarded.
func (s *KnowledgeService) Promote(ctx context.Context, subject string, now time.Time, wal func(ctx context.Context, validations int, confidence float64) error) (domain.GKView, error) {
	e := s.entry(subject)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gk == nil {
		return domain.GKView{}, ErrNotFound
	}
	if e.gk.Validations < s.PromotionThreshold {
		return domain.GKView{}, ErrPromotionDenied
	}

	delta := guardrail.Delta{
		Action:  domain.ActionPromote,
		Subject: subject,
		Tier:    domain.TierConfirmed,
		Before:  e.gk.Confirmed.Confidence,
		After:   e.gk.Predicted.Confidence,
	}
	if err := s.guard.Current().Check(delta); err != nil {
		return domain.GKView{}, err
	}
	if wal != nil {
		if err := wal(ctx, e.gk.Validations, e.gk.Predicted.Confidence); err != nil {
			return domain.GKView{}, err
		}
	}

	if !e.gk.Confirmed.UpdatedAt.IsZero() {
		archived := e.gk.Confirmed
		archived.Provenance = append([]string(nil), e.gk.Confirmed.Provenance...)
		e.gk.Archived = append(e.gk.Archived, archived)
	}
	e.gk.Confirmed = domain.Distribution{
		Confidence: e.gk.Predicted.Confidence,
		UpdatedAt:  now,
		Provenance: append([]string(nil), e.gk.Predicted.Provenance...),
	}
	s.logger.Info("promoted predicted knowledge",
		zap.String("subject", subject),
		zap.Int("validations", e.gk.Validations),
		zap.Float64("confidence", e.gk.Confirmed.Confidence))
	return e.gk.View(), nil
}

// Get returns a snapshot-consistent read-only view of the subject.
func (s *KnowledgeService) Get(subject string) (domain.GKView, error) {
	s.mu.RLock()
	e, ok := s.subjects[subject]
	s.mu.RUnlock()
	if !ok {
		return domain.GKView{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gk == nil {
		return domain.GKView{}, ErrNotFound
	}
	return e.gk.View(), nil
}

// Completion returns the subject's evidence completion ratio in [0,1].
func (s *KnowledgeService) Completion(subject string) float64 {
	s.mu.RLock()
	e, ok := s.subjects[subject]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress.Completion
}

// Report assembles the per-subject inspection document, minus the
// disagreement ratio owned by the tracker.
func (s *KnowledgeService) Report(subject string) (*domain.SubjectReport, error) {
	s.mu.RLock()
	e, ok := s.subjects[subject]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gk == nil {
		return nil, ErrNotFound
	}
	return &domain.SubjectReport{
		Subject:             subject,
		Completion:          e.progress.Completion,
		Items:               e.progress.SeenItems,
		DistinctSources:     len(e.progress.DistinctSources),
		PredictedConfidence: e.gk.Predicted.Confidence,
		ConfirmedConfidence: e.gk.Confirmed.Confidence,
		Validations:         e.gk.Validations,
	}, nil
}

func (s *KnowledgeService) SubjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subjects)
}

// ConfirmedMeans returns the mean confirmed confidence and the mean
// confirmed uncertainty across subjects with any confirmed evidence.
func (s *KnowledgeService) ConfirmedMeans() (confidence, uncertainty float64) {
	s.mu.RLock()
	entries := make([]*subjectEntry, 0, len(s.subjects))
	for _, e := range s.subjects {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var sum, usum float64
	var n int
	for _, e := range entries {
		e.mu.Lock()
		if e.gk != nil && !e.gk.Confirmed.UpdatedAt.IsZero() {
			c := e.gk.Confirmed.Confidence
			sum += c
			usum += 1 - math.Abs(2*c-1)
			n++
		}
		e.mu.Unlock()
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), usum / float64(n)
}

// SingleSourceSubjects lists subjects with meaningful exposure but only
// one distinct source. Reflection flags them as potentially biased.
func (s *KnowledgeService) SingleSourceSubjects(minItems int) []string {
	s.mu.RLock()
	subjects := make(map[string]*subjectEntry, len(s.subjects))
	for subj, e := range s.subjects {
		subjects[subj] = e
	}
	s.mu.RUnlock()

	var out []string
	for subj, e := range subjects {
		e.mu.Lock()
		if e.progress.SeenItems >= minItems && len(e.progress.DistinctSources) <= 1 {
			out = append(out, subj)
		}
		e.mu.Unlock()
	}
	return out
}

func (s *KnowledgeService) updateProgressLocked(e *subjectEntry, sources []string) {
	if e.progress.DistinctSources == nil {
		e.progress.DistinctSources = make(map[string]bool)
	}
	e.progress.SeenItems++
	for _, name := range sources {
		e.progress.DistinctSources[name] = true
	}
	diversity := len(e.progress.DistinctSources)
	if diversity > 10 {
		diversity = 10
	}
	k := 0.06 + 0.01*float64(diversity)
	approx := 1 - math.Exp(-k*float64(e.progress.SeenItems))
	e.progress.Completion = math.Min(CompletionCap, math.Max(CompletionFloor, approx))
}

// Export captures the full knowledge state for a checkpoint.
func (s *KnowledgeService) Export() (map[string]*domain.GeneralizedKnowledge, map[string]*domain.Source, map[string]*domain.SubjectProgress, map[string]map[string]float64) {
	s.mu.RLock()
	subjects := make(map[string]*subjectEntry, len(s.subjects))
	for subj, e := range s.subjects {
		subjects[subj] = e
	}
	s.mu.RUnlock()

	knowledge := make(map[string]*domain.GeneralizedKnowledge, len(subjects))
	progress := make(map[string]*domain.SubjectProgress, len(subjects))
	assertions := make(map[string]map[string]float64, len(subjects))
	for subj, e := range subjects {
		e.mu.Lock()
		if e.gk != nil {
			knowledge[subj] = copyGK(e.gk)
		}
		progress[subj] = copyProgress(&e.progress)
		if len(e.assertions) > 0 {
			as := make(map[string]float64, len(e.assertions))
			for k, v := range e.assertions {
				as[k] = v
			}
			assertions[subj] = as
		}
		e.mu.Unlock()
	}

	s.srcMu.Lock()
	sources := make(map[string]*domain.Source, len(s.sources))
	for name, src := range s.sources {
		cp := *src
		sources[name] = &cp
	}
	s.srcMu.Unlock()

	return knowledge, sources, progress, assertions
}

// Import replaces the knowledge state wholesale from a checkpoint.
func (s *KnowledgeService) Import(knowledge map[string]*domain.GeneralizedKnowledge, sources map[string]*domain.Source, progress map[string]*domain.SubjectProgress, assertions map[string]map[string]float64) {
	subjects := make(map[string]*subjectEntry)
	for subj, gk := range knowledge {
		subjects[subj] = &subjectEntry{gk: copyGK(gk), assertions: make(map[string]float64)}
	}
	for subj, p := range progress {
		e, ok := subjects[subj]
		if !ok {
			e = &subjectEntry{assertions: make(map[string]float64)}
			subjects[subj] = e
		}
		e.progress = *copyProgress(p)
	}
	for subj, as := range assertions {
		e, ok := subjects[subj]
		if !ok {
			e = &subjectEntry{assertions: make(map[string]float64)}
			subjects[subj] = e
		}
		for k, v := range as {
			e.assertions[k] = v
		}
	}

	src := make(map[string]*domain.Source, len(sources))
	for name, so := range sources {
		cp := *so
		src[name] = &cp
	}

	s.mu.Lock()
	s.subjects = subjects
	s.mu.Unlock()
	s.srcMu.Lock()
	s.sources = src
	s.srcMu.Unlock()
}

// recencyWeighted moves confidence toward new evidence with a decay that
// grows with elapsed time: stale beliefs yield faster.
func recencyWeighted(confidence, weight float64, last, now time.Time, lambda float64) float64 {
	if last.IsZero() {
		return clamp01(weight)
	}
	dt := now.Sub(last).Hours()
	if dt < 0 {
		dt = 0
	}
	decay := math.Exp(-lambda * dt)
	return clamp01(confidence*decay + weight*(1-decay))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func mergeProvenance(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range incoming {
		if !seen[s] {
			existing = append(existing, s)
			seen[s] = true
		}
	}
	return existing
}

func copyGK(gk *domain.GeneralizedKnowledge) *domain.GeneralizedKnowledge {
	cp := *gk
	cp.Predicted.Provenance = append([]string(nil), gk.Predicted.Provenance...)
	cp.Confirmed.Provenance = append([]string(nil), gk.Confirmed.Provenance...)
	cp.Archived = make([]domain.Distribution, len(gk.Archived))
	for i, a := range gk.Archived {
		cp.Archived[i] = a
		cp.Archived[i].Provenance = append([]string(nil), a.Provenance...)
	}
	return &cp
}

func copyProgress(p *domain.SubjectProgress) *domain.SubjectProgress {
	cp := *p
	cp.DistinctSources = make(map[string]bool, len(p.DistinctSources))
	for k, v := range p.DistinctSources {
		cp.DistinctSources[k] = v
	}
	return &cp
}
