package guardrail

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/credence-ai/credence/internal/domain"
)

func TestDefaultRuleSetAllowsPlainIngest(t *testing.T) {
	rs := Default()
	label := 1.0
	err := rs.Check(Delta{
		Action:  domain.ActionIngest,
		Subject: "weather.tomorrow.rain",
		Tier:    domain.TierConfirmed,
		Label:   &label,
		Before:  0.5,
		After:   0.7,
	})
	if err != nil {
		t.Fatalf("expected delta to pass, got %v", err)
	}
}

func TestCheckFirstFailingRuleWins(t *testing.T) {
	// An empty subject in the harm namespace would fail GR-001 and GR-005;
	// declaration order means GR-001 must name the rejection.
	rs := Default()
	err := rs.Check(Delta{Action: domain.ActionIngest, Subject: "  ", After: 2.0})

	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected Violation, got %v", err)
	}
	if v.RuleID != "GR-001" {
		t.Fatalf("expected GR-001 to fire first, got %s", v.RuleID)
	}
}

func TestConfidenceBounds(t *testing.T) {
	rs := Default()
	for _, after := range []float64{-0.1, 1.5, math.NaN()} {
		err := rs.Check(Delta{Action: domain.ActionIngest, Subject: "s", After: after})
		var v *Violation
		if !errors.As(err, &v) || v.RuleID != "GR-002" {
			t.Fatalf("expected GR-002 for after=%v, got %v", after, err)
		}
	}
}

func TestLabelFinite(t *testing.T) {
	rs := Default()
	inf := math.Inf(1)
	err := rs.Check(Delta{Action: domain.ActionIngest, Subject: "s", Label: &inf, After: 0.5})
	var v *Violation
	if !errors.As(err, &v) || v.RuleID != "GR-003" {
		t.Fatalf("expected GR-003, got %v", err)
	}
}

func TestConfirmedTierProtection(t *testing.T) {
	rs := Default()

	// Self-generated evidence must not write the confirmed tier.
	err := rs.Check(Delta{
		Action:        domain.ActionIngest,
		Subject:       "s",
		Tier:          domain.TierConfirmed,
		After:         0.6,
		SelfGenerated: true,
	})
	var v *Violation
	if !errors.As(err, &v) || v.RuleID != "GR-004" {
		t.Fatalf("expected GR-004, got %v", err)
	}

	// Externally sourced ingest, resolution and promotion are allowed.
	for _, action := range []domain.JournalAction{domain.ActionIngest, domain.ActionResolve, domain.ActionPromote} {
		err := rs.Check(Delta{Action: action, Subject: "s", Tier: domain.TierConfirmed, After: 0.6})
		if err != nil {
			t.Fatalf("expected %s to confirmed tier to pass, got %v", action, err)
		}
	}
}

func TestHarmNamespaceProhibited(t *testing.T) {
	rs := Default()
	err := rs.Check(Delta{Action: domain.ActionIngest, Subject: "action.harm.anything", After: 0.1})
	var v *Violation
	if !errors.As(err, &v) || v.RuleID != "GR-005" {
		t.Fatalf("expected GR-005, got %v", err)
	}
}

func TestDeceitCap(t *testing.T) {
	rs := Default()
	err := rs.Check(Delta{
		Action:        domain.ActionIngest,
		Subject:       "s",
		Tier:          domain.TierPredicted,
		After:         0.97,
		SelfGenerated: true,
	})
	var v *Violation
	if !errors.As(err, &v) || v.RuleID != "GR-006" {
		t.Fatalf("expected GR-006, got %v", err)
	}

	if err := rs.Check(Delta{Action: domain.ActionIngest, Subject: "s", Tier: domain.TierPredicted, After: 0.95, SelfGenerated: true}); err != nil {
		t.Fatalf("expected 0.95 to pass the cap, got %v", err)
	}
}

func TestNewRejectsUnknownPredicate(t *testing.T) {
	_, err := New(1, []Rule{{ID: "GR-X", Predicate: "no.such.predicate"}})
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestChecksumDependsOnContent(t *testing.T) {
	a := ComputeChecksum(1, DefaultRules())
	if a != ComputeChecksum(1, DefaultRules()) {
		t.Fatal("checksum must be deterministic")
	}
	if a == ComputeChecksum(2, DefaultRules()) {
		t.Fatal("checksum must include the version")
	}

	reordered := DefaultRules()
	reordered[0], reordered[1] = reordered[1], reordered[0]
	if a == ComputeChecksum(1, reordered) {
		t.Fatal("checksum must depend on rule order")
	}
}

const testRulesYAML = `version: 2
rules:
  - id: GR-001
    predicate: subject.nonempty
    description: subject identifier must be non-empty
  - id: GR-002
    predicate: confidence.bounds
    description: confidence must stay within [0,1]
`

func writeRuleFiles(t *testing.T, rules, checksum string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "guardrails.yaml")
	checksumPath := filepath.Join(dir, "guardrails.sha256")
	if err := os.WriteFile(rulesPath, []byte(rules), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(checksumPath, []byte(checksum+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return rulesPath, checksumPath
}

func TestLoadVerifiesChecksum(t *testing.T) {
	want := ComputeChecksum(2, []Rule{
		{ID: "GR-001", Predicate: "subject.nonempty", Description: "subject identifier must be non-empty"},
		{ID: "GR-002", Predicate: "confidence.bounds", Description: "confidence must stay within [0,1]"},
	})

	rulesPath, checksumPath := writeRuleFiles(t, testRulesYAML, want)
	rs, err := Load(rulesPath, checksumPath)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if rs.Version() != 2 {
		t.Fatalf("expected version 2, got %d", rs.Version())
	}
	if rs.Checksum() != want {
		t.Fatalf("expected checksum %s, got %s", want, rs.Checksum())
	}
}

func TestLoadRejectsChecksumMismatch(t *testing.T) {
	rulesPath, checksumPath := writeRuleFiles(t, testRulesYAML, "deadbeef")
	if _, err := Load(rulesPath, checksumPath); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestLoadRejectsEmptyRuleFile(t *testing.T) {
	rulesPath, checksumPath := writeRuleFiles(t, "version: 1\nrules: []\n", "irrelevant")
	if _, err := Load(rulesPath, checksumPath); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestRegistryReplaceRequiresNewerVersion(t *testing.T) {
	reg := NewRegistry(Default())

	stale, err := New(1, DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Replace(stale); err == nil {
		t.Fatal("expected same-version replacement to fail")
	}

	next, err := New(2, DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Replace(next); err != nil {
		t.Fatalf("expected newer version to replace, got %v", err)
	}
	if reg.Current().Version() != 2 {
		t.Fatalf("expected current version 2, got %d", reg.Current().Version())
	}
}
