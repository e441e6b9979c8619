package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JournalAction names the mutation class a journal entry records.
type JournalAction string

const (
	ActionIngest    JournalAction = "ingest"
	ActionResolve   JournalAction = "resolve"
	ActionPromote   JournalAction = "promote"
	ActionViolation JournalAction = "violation"
	ActionSource    JournalAction = "source_register"
	ActionGuardrail JournalAction = "guardrail_replace"
)

// JournalEntry is one append-only record of a committed mutation (or a
// rejected one, recorded as a violation). Entries are totally ordered by
// Seq, which reflects arrival order; Timestamp is audit metadata and never
// reorders replay.
type JournalEntry struct {
	Seq       int64         `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
	Action    JournalAction `json:"action"`
	Subject   string        `json:"subject"`
	Delta     string        `json:"delta"`
}

// Line renders the entry in the external journal line schema:
// timestamp | action | subject | delta-description.
func (e JournalEntry) Line() string {
	return fmt.Sprintf("%s | %s | %s | %s",
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Action, e.Subject, e.Delta)
}

// ParseJournalLine parses a single journal line. It is the inverse of
// Line and is usable independently of any checkpoint format.
func ParseJournalLine(line string) (JournalEntry, error) {
	parts := strings.SplitN(line, " | ", 4)
	if len(parts) != 4 {
		return JournalEntry{}, fmt.Errorf("malformed journal line: %q", line)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return JournalEntry{}, fmt.Errorf("malformed journal timestamp: %w", err)
	}
	return JournalEntry{
		Timestamp: ts,
		Action:    JournalAction(parts[1]),
		Subject:   parts[2],
		Delta:     parts[3],
	}, nil
}

// Delta payloads are flat key=value fields so journal lines stay greppable
// and parseable without the checkpoint codec.

type IngestDelta struct {
	Label   *float64
	Weight  float64
	Sources []string
	Self    bool
}

func (d IngestDelta) Encode() string {
	return fmt.Sprintf("label=%s weight=%s sources=%s self=%t",
		formatLabel(d.Label), formatFloat(d.Weight), strings.Join(d.Sources, ","), d.Self)
}

func ParseIngestDelta(s string) (IngestDelta, error) {
	fields, err := deltaFields(s)
	if err != nil {
		return IngestDelta{}, err
	}
	var d IngestDelta
	if d.Label, err = parseLabel(fields["label"]); err != nil {
		return IngestDelta{}, err
	}
	if d.Weight, err = strconv.ParseFloat(fields["weight"], 64); err != nil {
		return IngestDelta{}, fmt.Errorf("malformed ingest delta weight: %w", err)
	}
	if fields["sources"] != "" {
		d.Sources = strings.Split(fields["sources"], ",")
	}
	d.Self = fields["self"] == "true"
	return d, nil
}

type ResolveDelta struct {
	Label       float64
	Probability float64
	Truth       float64
}

func (d ResolveDelta) Encode() string {
	return fmt.Sprintf("label=%s prob=%s truth=%s",
		formatFloat(d.Label), formatFloat(d.Probability), formatFloat(d.Truth))
}

func ParseResolveDelta(s string) (ResolveDelta, error) {
	fields, err := deltaFields(s)
	if err != nil {
		return ResolveDelta{}, err
	}
	var d ResolveDelta
	if d.Label, err = strconv.ParseFloat(fields["label"], 64); err != nil {
		return ResolveDelta{}, fmt.Errorf("malformed resolve delta label: %w", err)
	}
	if d.Probability, err = strconv.ParseFloat(fields["prob"], 64); err != nil {
		return ResolveDelta{}, fmt.Errorf("malformed resolve delta prob: %w", err)
	}
	if d.Truth, err = strconv.ParseFloat(fields["truth"], 64); err != nil {
		return ResolveDelta{}, fmt.Errorf("malformed resolve delta truth: %w", err)
	}
	return d, nil
}

type PromoteDelta struct {
	Validations int
	Confidence  float64
}

func (d PromoteDelta) Encode() string {
	return fmt.Sprintf("validations=%d confidence=%s", d.Validations, formatFloat(d.Confidence))
}

func ParsePromoteDelta(s string) (PromoteDelta, error) {
	fields, err := deltaFields(s)
	if err != nil {
		return PromoteDelta{}, err
	}
	var d PromoteDelta
	if d.Validations, err = strconv.Atoi(fields["validations"]); err != nil {
		return PromoteDelta{}, fmt.Errorf("malformed promote delta validations: %w", err)
	}
	if d.Confidence, err = strconv.ParseFloat(fields["confidence"], 64); err != nil {
		return PromoteDelta{}, fmt.Errorf("malformed promote delta confidence: %w", err)
	}
	return d, nil
}

type ViolationDelta struct {
	Rule      string
	Attempted string
}

func (d ViolationDelta) Encode() string {
	return fmt.Sprintf("rule=%s attempted=%s", d.Rule, d.Attempted)
}

func ParseViolationDelta(s string) (ViolationDelta, error) {
	fields, err := deltaFields(s)
	if err != nil {
		return ViolationDelta{}, err
	}
	return ViolationDelta{Rule: fields["rule"], Attempted: fields["attempted"]}, nil
}

// SourceDelta records an explicit source registration. The subject of
// the entry is the source name; Trust is the registration-time base
// trust so replay reproduces it under any later configuration.
type SourceDelta struct {
	Parent string
	Trust  float64
}

func (d SourceDelta) Encode() string {
	return fmt.Sprintf("parent=%s trust=%s", d.Parent, formatFloat(d.Trust))
}

func ParseSourceDelta(s string) (SourceDelta, error) {
	fields, err := deltaFields(s)
	if err != nil {
		return SourceDelta{}, err
	}
	var d SourceDelta
	d.Parent = fields["parent"]
	if d.Trust, err = strconv.ParseFloat(fields["trust"], 64); err != nil {
		return SourceDelta{}, fmt.Errorf("malformed source delta trust: %w", err)
	}
	return d, nil
}

type GuardrailDelta struct {
	Version  int
	Checksum string
}

func (d GuardrailDelta) Encode() string {
	return fmt.Sprintf("version=%d checksum=%s", d.Version, d.Checksum)
}

func ParseGuardrailDelta(s string) (GuardrailDelta, error) {
	fields, err := deltaFields(s)
	if err != nil {
		return GuardrailDelta{}, err
	}
	var d GuardrailDelta
	if d.Version, err = strconv.Atoi(fields["version"]); err != nil {
		return GuardrailDelta{}, fmt.Errorf("malformed guardrail delta version: %w", err)
	}
	d.Checksum = fields["checksum"]
	return d, nil
}

func deltaFields(s string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, f := range strings.Fields(s) {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("malformed delta field: %q", f)
		}
		fields[k] = v
	}
	return fields, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatLabel(l *float64) string {
	if l == nil {
		return "none"
	}
	return formatFloat(*l)
}

func parseLabel(s string) (*float64, error) {
	if s == "" || s == "none" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed label: %w", err)
	}
	return &v, nil
}
