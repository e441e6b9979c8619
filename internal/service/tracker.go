package service

import (
	"sync"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"go.uber.org/zap"
)

// DefaultReplayCapacity bounds the event history when no capacity is
// configured.
const DefaultReplayCapacity = 128

// Tracker owns the bounded replay buffer and the per-subject pattern
// stats. Events are appended in arrival order; once the buffer is full
// the oldest event is evicted. Other components see history only as
// detached copies.
type Tracker struct {
	mu       sync.Mutex
	events   []domain.ReplayEvent
	head     int
	count    int
	patterns map[string]*domain.PatternStat
	logger   *zap.Logger
}

func NewTracker(capacity int, logger *zap.Logger) *Tracker {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &Tracker{
		events:   make([]domain.ReplayEvent, capacity),
		patterns: make(map[string]*domain.PatternStat),
		logger:   logger,
	}
}

// Append records one event, evicting the oldest when full.
func (t *Tracker) Append(ev domain.ReplayEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(ev)
}

func (t *Tracker) appendLocked(ev domain.ReplayEvent) {
	cap := len(t.events)
	if t.count < cap {
		t.events[(t.head+t.count)%cap] = ev
		t.count++
		return
	}
	t.events[t.head] = ev
	t.head = (t.head + 1) % cap
}

// NoteIngest updates the subject's pattern stat for an ingested claim.
// Disagreements count only when a numeric label differs from the previous
// numeric label; missing labels never count.
func (t *Tracker) NoteIngest(subject string, label *float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.patternLocked(subject)
	st.Events++
	st.LastSeen = ts
	if label == nil {
		return
	}
	if st.LastLabel != nil && *st.LastLabel != *label {
		st.Disagreements++
	}
	v := *label
	st.LastLabel = &v
}

// NoteResolve updates the subject's pattern stat for a resolution,
// checking disagreement against the previously resolved label.
func (t *Tracker) NoteResolve(subject string, truth float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.patternLocked(subject)
	st.Events++
	st.LastSeen = ts
	if st.LastResolvedLabel != nil && *st.LastResolvedLabel != truth {
		st.Disagreements++
	}
	v := truth
	st.LastResolvedLabel = &v
}

func (t *Tracker) patternLocked(subject string) *domain.PatternStat {
	st, ok := t.patterns[subject]
	if !ok {
		st = &domain.PatternStat{}
		t.patterns[subject] = st
	}
	return st
}

// Snapshot returns the buffered events in arrival order as a detached
// copy.
func (t *Tracker) Snapshot() []domain.ReplayEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ReplayEvent, 0, t.count)
	cap := len(t.events)
	for i := 0; i < t.count; i++ {
		out = append(out, t.events[(t.head+i)%cap])
	}
	return out
}

// Stats returns a detached copy of every subject's pattern stat.
func (t *Tracker) Stats() map[string]domain.PatternStat {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]domain.PatternStat, len(t.patterns))
	for subj, st := range t.patterns {
		out[subj] = *st
	}
	return out
}

// Stat returns one subject's pattern stat.
func (t *Tracker) Stat(subject string) (domain.PatternStat, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.patterns[subject]
	if !ok {
		return domain.PatternStat{}, false
	}
	return *st, true
}

func (t *Tracker) Capacity() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Export captures buffer contents and pattern stats for a checkpoint.
func (t *Tracker) Export() ([]domain.ReplayEvent, map[string]*domain.PatternStat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := make([]domain.ReplayEvent, 0, t.count)
	cap := len(t.events)
	for i := 0; i < t.count; i++ {
		events = append(events, t.events[(t.head+i)%cap])
	}
	patterns := make(map[string]*domain.PatternStat, len(t.patterns))
	for subj, st := range t.patterns {
		cp := *st
		patterns[subj] = &cp
	}
	return events, patterns
}

// Import replaces buffer contents and pattern stats wholesale, preserving
// the configured capacity. Events beyond capacity keep only the newest.
func (t *Tracker) Import(events []domain.ReplayEvent, patterns map[string]*domain.PatternStat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cap := len(t.events)
	t.head = 0
	t.count = 0
	start := 0
	if len(events) > cap {
		start = len(events) - cap
	}
	for _, ev := range events[start:] {
		t.appendLocked(ev)
	}
	t.patterns = make(map[string]*domain.PatternStat, len(patterns))
	for subj, st := range patterns {
		cp := *st
		t.patterns[subj] = &cp
	}
}
