package domain

import (
	"strings"
	"testing"
	"time"
)

func TestJournalLineRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)
	label := 1.0
	e := JournalEntry{
		Seq:       7,
		Timestamp: ts,
		Action:    ActionIngest,
		Subject:   "weather.tomorrow.rain",
		Delta:     IngestDelta{Label: &label, Weight: 0.83, Sources: []string{"noaa", "blog"}, Self: false}.Encode(),
	}

	parsed, err := ParseJournalLine(e.Line())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !parsed.Timestamp.Equal(ts) {
		t.Fatalf("expected timestamp %v, got %v", ts, parsed.Timestamp)
	}
	if parsed.Action != ActionIngest {
		t.Fatalf("expected action ingest, got %s", parsed.Action)
	}
	if parsed.Subject != "weather.tomorrow.rain" {
		t.Fatalf("unexpected subject %q", parsed.Subject)
	}

	d, err := ParseIngestDelta(parsed.Delta)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if d.Label == nil || *d.Label != 1.0 {
		t.Fatalf("expected label 1.0, got %v", d.Label)
	}
	if d.Weight != 0.83 {
		t.Fatalf("expected weight 0.83, got %v", d.Weight)
	}
	if len(d.Sources) != 2 || d.Sources[0] != "noaa" || d.Sources[1] != "blog" {
		t.Fatalf("unexpected sources %v", d.Sources)
	}
	if d.Self {
		t.Fatal("expected self=false")
	}
}

func TestParseJournalLineMalformed(t *testing.T) {
	cases := []string{
		"",
		"just some text",
		"2025-03-14T09:26:53Z | ingest | subject",
		"not-a-time | ingest | subject | label=1",
	}
	for _, line := range cases {
		if _, err := ParseJournalLine(line); err == nil {
			t.Fatalf("expected error for line %q", line)
		}
	}
}

func TestIngestDeltaNilLabel(t *testing.T) {
	d := IngestDelta{Label: nil, Weight: 0, Sources: nil, Self: true}
	encoded := d.Encode()
	if !strings.Contains(encoded, "label=none") {
		t.Fatalf("expected label=none in %q", encoded)
	}

	parsed, err := ParseIngestDelta(encoded)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.Label != nil {
		t.Fatalf("expected nil label, got %v", *parsed.Label)
	}
	if !parsed.Self {
		t.Fatal("expected self=true")
	}
	if parsed.Sources != nil {
		t.Fatalf("expected no sources, got %v", parsed.Sources)
	}
}

func TestResolveDeltaRoundTrip(t *testing.T) {
	d := ResolveDelta{Label: 1, Probability: 0.75, Truth: 0}
	parsed, err := ParseResolveDelta(d.Encode())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed != d {
		t.Fatalf("expected %+v, got %+v", d, parsed)
	}
}

func TestPromoteDeltaRoundTrip(t *testing.T) {
	d := PromoteDelta{Validations: 4, Confidence: 0.9125}
	parsed, err := ParsePromoteDelta(d.Encode())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed != d {
		t.Fatalf("expected %+v, got %+v", d, parsed)
	}
}

func TestViolationDeltaRoundTrip(t *testing.T) {
	d := ViolationDelta{Rule: "GR-005", Attempted: "ingest"}
	parsed, err := ParseViolationDelta(d.Encode())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed != d {
		t.Fatalf("expected %+v, got %+v", d, parsed)
	}
}

func TestSourceDeltaRoundTrip(t *testing.T) {
	d := SourceDelta{Parent: "agency", Trust: 0.5}
	parsed, err := ParseSourceDelta(d.Encode())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed != d {
		t.Fatalf("expected %+v, got %+v", d, parsed)
	}

	// Root sources have no parent; the empty field must survive.
	root := SourceDelta{Parent: "", Trust: 0.5}
	parsed, err = ParseSourceDelta(root.Encode())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed != root {
		t.Fatalf("expected %+v, got %+v", root, parsed)
	}
}

func TestGuardrailDeltaMalformedVersion(t *testing.T) {
	if _, err := ParseGuardrailDelta("version=abc checksum=deadbeef"); err == nil {
		t.Fatal("expected error for non-numeric version")
	}
}

func TestPatternStatDisagreementRatio(t *testing.T) {
	st := PatternStat{Events: 10, Disagreements: 4}
	if got := st.DisagreementRatio(); got != 0.4 {
		t.Fatalf("expected 0.4, got %v", got)
	}
	empty := PatternStat{}
	if got := empty.DisagreementRatio(); got != 0 {
		t.Fatalf("expected 0 for empty stat, got %v", got)
	}
}
