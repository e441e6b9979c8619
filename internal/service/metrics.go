package service

import (
	"sync"

	"github.com/credence-ai/credence/internal/domain"
)

// Metrics is the shared accumulator for the engine's running counters:
// ingestion events, resolution correctness, Brier calibration, guardrail
// violations and reflection baselines. It is the only piece of metric
// state that survives checkpoints.
type Metrics struct {
	mu    sync.Mutex
	state domain.MetricsState
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordEvent counts one ingestion and returns the cumulative count.
func (m *Metrics) RecordEvent() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.EventCount++
	return m.state.EventCount
}

func (m *Metrics) RecordViolation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ViolationCount++
}

// RecordResolution folds one resolved prediction into the accuracy and
// calibration accumulators.
func (m *Metrics) RecordResolution(correct bool, brier float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ResolvedCount++
	if correct {
		m.state.CorrectCount++
	}
	m.state.BrierSum += brier
	m.state.BrierCount++
}

func (m *Metrics) AddBiasNote(note string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.BiasNotes = append(m.state.BiasNotes, note)
}

// Accuracy is the fraction of resolved predictions that were correct.
func (m *Metrics) Accuracy() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.ResolvedCount == 0 {
		return 0
	}
	return float64(m.state.CorrectCount) / float64(m.state.ResolvedCount)
}

// Calibration is the mean Brier score; lower is better.
func (m *Metrics) Calibration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.BrierCount == 0 {
		return 0
	}
	return m.state.BrierSum / float64(m.state.BrierCount)
}

func (m *Metrics) EventCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.EventCount
}

func (m *Metrics) ViolationCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ViolationCount
}

func (m *Metrics) BiasNoteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.BiasNotes)
}

// RecordReflection counts one completed reflection cycle.
func (m *Metrics) RecordReflection() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ReflectionCount++
	return m.state.ReflectionCount
}

// SetBaselines records the current cycle's values for the next cycle's
// delta computation.
func (m *Metrics) SetBaselines(accuracy float64, bias int, drift, uncertainty float64, violations int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.BaselineAccuracy = accuracy
	m.state.BaselineBias = bias
	m.state.BaselineDrift = drift
	m.state.BaselineUncertainty = uncertainty
	m.state.BaselineViolations = violations
}

// Export returns a detached copy of the metric state.
func (m *Metrics) Export() domain.MetricsState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	st.BiasNotes = append([]string(nil), m.state.BiasNotes...)
	return st
}

// Import replaces the metric state wholesale.
func (m *Metrics) Import(st domain.MetricsState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.BiasNotes = append([]string(nil), st.BiasNotes...)
	m.state = st
}
