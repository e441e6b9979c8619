// Package guardrail holds the immutable constraint rule set consulted
// before every state-mutating operation. A rule set is frozen at
// construction, integrity-checksummed, and shared by reference; the only
// way to change rules is an explicit versioned replacement.
package guardrail

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/credence-ai/credence/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrIntegrity is returned when the rule set checksum does not match its
// reference, or a rule names an unknown predicate. It is fatal at load
// and restore; the process must not proceed with unverified rules.
var ErrIntegrity = errors.New("guardrail integrity check failed")

// Violation is the rejection produced by the first failing rule. It is
// recoverable: the triggering mutation becomes a no-op and the violation
// is journaled.
type Violation struct {
	RuleID      string
	Description string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("guardrail violation: rule %s: %s", v.RuleID, v.Description)
}

// Delta describes a proposed state change for rule evaluation. Rules see
// the delta only; evaluation has no observable side effect.
type Delta struct {
	Action        domain.JournalAction
	Subject       string
	Tier          domain.KnowledgeTier
	Label         *float64
	Before        float64
	After         float64
	Sources       []string
	SelfGenerated bool
}

// Rule pairs an identifier with a named predicate from the registry.
type Rule struct {
	ID          string `yaml:"id"`
	Predicate   string `yaml:"predicate"`
	Description string `yaml:"description"`
}

type ruleFile struct {
	Version int    `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// RuleSet is a frozen, checksummed, ordered list of rules. It exposes no
// mutating methods; replacement goes through Registry.Replace.
type RuleSet struct {
	version  int
	rules    []Rule
	preds    []PredicateFunc
	checksum string
}

// New builds a rule set from an ordered rule list, resolving predicates
// and computing the canonical checksum.
func New(version int, rules []Rule) (*RuleSet, error) {
	preds := make([]PredicateFunc, len(rules))
	for i, r := range rules {
		p, ok := predicates[r.Predicate]
		if !ok {
			return nil, fmt.Errorf("%w: rule %s names unknown predicate %q", ErrIntegrity, r.ID, r.Predicate)
		}
		preds[i] = p
	}
	return &RuleSet{
		version:  version,
		rules:    append([]Rule(nil), rules...),
		preds:    preds,
		checksum: ComputeChecksum(version, rules),
	}, nil
}

// Load reads a versioned YAML rule file and its reference checksum file,
// recomputes the checksum over the loaded rules, and fails with
// ErrIntegrity on any mismatch.
func Load(rulesPath, checksumPath string) (*RuleSet, error) {
	raw, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("read guardrail rules: %w", err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("parse guardrail rules: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("%w: rule file %s contains no rules", ErrIntegrity, rulesPath)
	}

	ref, err := os.ReadFile(checksumPath)
	if err != nil {
		return nil, fmt.Errorf("read guardrail checksum: %w", err)
	}
	want := strings.TrimSpace(string(ref))

	rs, err := New(rf.Version, rf.Rules)
	if err != nil {
		return nil, err
	}
	if rs.checksum != want {
		return nil, fmt.Errorf("%w: computed %s, reference %s", ErrIntegrity, rs.checksum, want)
	}
	return rs, nil
}

// ComputeChecksum hashes the canonical rule serialization. The same bytes
// feed the reference checksum file supplied alongside the rules.
func ComputeChecksum(version int, rules []Rule) string {
	h := sha256.New()
	fmt.Fprintf(h, "v%d\n", version)
	for _, r := range rules {
		fmt.Fprintf(h, "%s|%s|%s\n", r.ID, r.Predicate, r.Description)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Check evaluates the delta against every rule in declaration order. The
// first failing rule short-circuits and names the rejection cause; nil
// means the delta is allowed.
func (rs *RuleSet) Check(d Delta) error {
	for i, p := range rs.preds {
		if !p(d) {
			return &Violation{RuleID: rs.rules[i].ID, Description: rs.rules[i].Description}
		}
	}
	return nil
}

func (rs *RuleSet) Version() int     { return rs.version }
func (rs *RuleSet) Checksum() string { return rs.checksum }

// Rules returns a copy of the rule list for inspection.
func (rs *RuleSet) Rules() []Rule {
	return append([]Rule(nil), rs.rules...)
}

// Registry holds the process-wide current rule set. Reads are lock-cheap;
// Replace installs a strictly newer version.
type Registry struct {
	mu      sync.RWMutex
	current *RuleSet
}

func NewRegistry(rs *RuleSet) *Registry {
	return &Registry{current: rs}
}

// Current returns the live rule set by reference.
func (r *Registry) Current() *RuleSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Replace installs a new rule set. The replacement must carry a strictly
// greater version; the caller is responsible for journaling the change.
func (r *Registry) Replace(rs *RuleSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rs.version <= r.current.version {
		return fmt.Errorf("guardrail replacement version %d is not newer than %d", rs.version, r.current.version)
	}
	r.current = rs
	return nil
}
