package guardrail

import (
	"math"
	"strings"

	"github.com/credence-ai/credence/internal/domain"
)

// PredicateFunc reports whether a proposed delta satisfies one rule.
type PredicateFunc func(Delta) bool

// predicates is the fixed registry of named checks rule files may
// reference. The registry itself is never extended at runtime; a rule
// naming an unknown predicate fails the load.
var predicates = map[string]PredicateFunc{
	"subject.nonempty":       subjectNonEmpty,
	"confidence.bounds":      confidenceBounds,
	"label.finite":           labelFinite,
	"confirmed.no_overwrite": confirmedNoOverwrite,
	"harm.prohibited":        harmProhibited,
	"deceit.cap":             deceitCap,
}

func subjectNonEmpty(d Delta) bool {
	return strings.TrimSpace(d.Subject) != ""
}

func confidenceBounds(d Delta) bool {
	return d.After >= 0 && d.After <= 1 && !math.IsNaN(d.After)
}

func labelFinite(d Delta) bool {
	if d.Label == nil {
		return true
	}
	return !math.IsNaN(*d.Label) && !math.IsInf(*d.Label, 0)
}

// confirmedNoOverwrite keeps self-generated evidence out of the confirmed
// tier. Confirmed knowledge is written only by externally sourced claims,
// resolutions against ground truth, or an explicit gated promotion —
// predicted and confirmed knowledge must never silently merge.
func confirmedNoOverwrite(d Delta) bool {
	if d.Tier != domain.TierConfirmed {
		return true
	}
	switch d.Action {
	case domain.ActionPromote, domain.ActionResolve:
		return true
	case domain.ActionIngest:
		return !d.SelfGenerated
	}
	return false
}

// harmProhibited rejects any delta targeting the harm-action namespace.
// Subjects under "action.harm." describe acts, not observations, and the
// engine must never accumulate belief toward performing them.
func harmProhibited(d Delta) bool {
	return !strings.HasPrefix(d.Subject, "action.harm.")
}

// deceitCap keeps self-generated evidence from asserting near-certainty.
// A self-originated claim may not push confidence above 0.95.
func deceitCap(d Delta) bool {
	if !d.SelfGenerated {
		return true
	}
	return d.After <= 0.95
}

// DefaultRules is the built-in rule set used when no external rule file
// is configured. Declaration order is evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "GR-001", Predicate: "subject.nonempty", Description: "subject identifier must be non-empty"},
		{ID: "GR-002", Predicate: "confidence.bounds", Description: "confidence must stay within [0,1]"},
		{ID: "GR-003", Predicate: "label.finite", Description: "labels must be finite numbers"},
		{ID: "GR-004", Predicate: "confirmed.no_overwrite", Description: "confirmed knowledge is written only by promotion or resolution"},
		{ID: "GR-005", Predicate: "harm.prohibited", Description: "never accumulate belief toward harmful actions"},
		{ID: "GR-006", Predicate: "deceit.cap", Description: "self-generated evidence may not assert near-certainty"},
	}
}

// Default builds the built-in rule set at version 1.
func Default() *RuleSet {
	rs, err := New(1, DefaultRules())
	if err != nil {
		// The built-in rules reference only registry predicates.
		panic(err)
	}
	return rs
}
