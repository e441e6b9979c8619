package service

import (
	"context"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/guardrail"
	"go.uber.org/zap"
)

// GuardrailManager handles operator-driven rule set replacement. Rules
// are never mutated in place: a replacement loads and verifies a complete
// new set, swaps it atomically, and journals the transition.
type GuardrailManager struct {
	reg     *guardrail.Registry
	journal domain.JournalStore
	logger  *zap.Logger
}

func NewGuardrailManager(reg *guardrail.Registry, journal domain.JournalStore, logger *zap.Logger) *GuardrailManager {
	return &GuardrailManager{reg: reg, journal: journal, logger: logger}
}

// Current returns the active rule set.
func (g *GuardrailManager) Current() *guardrail.RuleSet {
	return g.reg.Current()
}

// Replace loads a rule set from disk, verifies it against its reference
// checksum, and swaps it in if its version is strictly newer. The swap is
// journaled so the audit trail records which rules governed which
// entries.
func (g *GuardrailManager) Replace(ctx context.Context, rulesPath, checksumPath string) (*guardrail.RuleSet, error) {
	rs, err := guardrail.Load(rulesPath, checksumPath)
	if err != nil {
		return nil, err
	}
	if err := g.reg.Replace(rs); err != nil {
		return nil, err
	}

	entry := &domain.JournalEntry{
		Timestamp: time.Now(),
		Action:    domain.ActionGuardrail,
		Subject:   "guardrails",
		Delta:     domain.GuardrailDelta{Version: rs.Version(), Checksum: rs.Checksum()}.Encode(),
	}
	if err := g.journal.Append(ctx, entry); err != nil {
		g.logger.Error("failed to journal guardrail replacement", zap.Error(err))
	}

	g.logger.Info("guardrail rule set replaced",
		zap.Int("version", rs.Version()),
		zap.String("checksum", rs.Checksum()))
	return rs, nil
}
