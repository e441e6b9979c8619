package service

import (
	"testing"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"go.uber.org/zap"
)

func TestTrackerEvictsOldestWhenFull(t *testing.T) {
	tr := NewTracker(DefaultReplayCapacity, zap.NewNop())

	for i := 0; i < DefaultReplayCapacity+1; i++ {
		v := float64(i)
		tr.Append(domain.ReplayEvent{Kind: domain.EventIngest, Subject: "s", Label: &v, Timestamp: time.Now()})
	}

	if tr.Len() != DefaultReplayCapacity {
		t.Fatalf("expected length %d, got %d", DefaultReplayCapacity, tr.Len())
	}
	snap := tr.Snapshot()
	if *snap[0].Label != 1 {
		t.Fatalf("expected event 0 evicted, oldest remaining label 1, got %v", *snap[0].Label)
	}
	if *snap[len(snap)-1].Label != float64(DefaultReplayCapacity) {
		t.Fatalf("expected newest label %d, got %v", DefaultReplayCapacity, *snap[len(snap)-1].Label)
	}
}

func TestTrackerSnapshotIsDetached(t *testing.T) {
	tr := NewTracker(4, zap.NewNop())
	v := 1.0
	tr.Append(domain.ReplayEvent{Kind: domain.EventIngest, Subject: "s", Label: &v})

	snap := tr.Snapshot()
	snap[0].Subject = "mutated"
	if tr.Snapshot()[0].Subject != "s" {
		t.Fatal("snapshot must not alias the buffer")
	}
}

func TestNoteIngestDisagreementCounting(t *testing.T) {
	tr := NewTracker(8, zap.NewNop())
	now := time.Now()
	one, zero := 1.0, 0.0

	tr.NoteIngest("s", &one, now)
	tr.NoteIngest("s", &one, now)  // agreement
	tr.NoteIngest("s", nil, now)   // unlabeled, never counts
	tr.NoteIngest("s", &zero, now) // flip

	st, ok := tr.Stat("s")
	if !ok {
		t.Fatal("expected stat for subject")
	}
	if st.Events != 4 {
		t.Fatalf("expected 4 events, got %d", st.Events)
	}
	if st.Disagreements != 1 {
		t.Fatalf("expected 1 disagreement, got %d", st.Disagreements)
	}
	if st.Disagreements > st.Events {
		t.Fatal("disagreements must never exceed events")
	}
}

func TestNoteResolveTracksResolvedLabelSeparately(t *testing.T) {
	tr := NewTracker(8, zap.NewNop())
	now := time.Now()
	one := 1.0

	// An ingest label flip must not count against resolution history.
	tr.NoteIngest("s", &one, now)
	tr.NoteResolve("s", 0.0, now)
	tr.NoteResolve("s", 1.0, now)

	st, _ := tr.Stat("s")
	if st.Disagreements != 1 {
		t.Fatalf("expected exactly the resolve flip counted, got %d", st.Disagreements)
	}
}

func TestTrackerImportPreservesCapacity(t *testing.T) {
	tr := NewTracker(4, zap.NewNop())

	events := make([]domain.ReplayEvent, 10)
	for i := range events {
		v := float64(i)
		events[i] = domain.ReplayEvent{Kind: domain.EventIngest, Subject: "s", Label: &v}
	}
	tr.Import(events, map[string]*domain.PatternStat{"s": {Events: 10}})

	if tr.Capacity() != 4 {
		t.Fatalf("expected capacity 4, got %d", tr.Capacity())
	}
	if tr.Len() != 4 {
		t.Fatalf("expected only newest 4 kept, got %d", tr.Len())
	}
	snap := tr.Snapshot()
	if *snap[0].Label != 6 || *snap[3].Label != 9 {
		t.Fatalf("expected labels 6..9, got %v..%v", *snap[0].Label, *snap[3].Label)
	}
	if st, ok := tr.Stat("s"); !ok || st.Events != 10 {
		t.Fatalf("expected imported pattern stat, got %+v (%v)", st, ok)
	}
}

func TestTrackerExportImportRoundTrip(t *testing.T) {
	tr := NewTracker(8, zap.NewNop())
	one := 1.0
	tr.Append(domain.ReplayEvent{Kind: domain.EventIngest, Subject: "a", Label: &one})
	tr.NoteIngest("a", &one, time.Now())

	events, patterns := tr.Export()

	tr2 := NewTracker(8, zap.NewNop())
	tr2.Import(events, patterns)

	if tr2.Len() != tr.Len() {
		t.Fatalf("expected length %d, got %d", tr.Len(), tr2.Len())
	}
	a, _ := tr.Stat("a")
	b, _ := tr2.Stat("a")
	if a.Events != b.Events {
		t.Fatalf("pattern stat mismatch: %+v vs %+v", a, b)
	}

	// Mutating the exported stats must not reach the importer.
	patterns["a"].Events = 99
	c, _ := tr2.Stat("a")
	if c.Events != b.Events {
		t.Fatal("import must copy pattern stats")
	}
}
