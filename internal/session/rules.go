package session

import (
	"context"
	"fmt"
	"math"

	"github.com/Simplici0/pricebook/internal/channel"
)

// EffectiveRules returns the draft rule set when rules were edited, else the
// persisted one.
func (s *Session) EffectiveRules() channel.RuleSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveRulesLocked()
}

func (s *Session) effectiveRulesLocked() channel.RuleSet {
	if s.draftRules != nil {
		return s.draftRules.Clone()
	}
	return s.baseRules.Clone()
}

func (s *Session) effectiveRuleLocked(ch channel.Channel) channel.Rule {
	if s.draftRules != nil {
		return s.draftRules[ch]
	}
	return s.baseRules[ch]
}

// SetRule replaces the draft rule of one channel. Any rule edit marks the
// whole rule set dirty.
func (s *Session) SetRule(ch channel.Channel, r channel.Rule) error {
	return s.EditRule(ch, func(cur *channel.Rule) error {
		*cur = r
		return nil
	})
}

// EditRule runs edit on a copy of the channel's effective rule and stores the
// result as its draft. Nothing changes when edit fails or leaves a value
// that is not finite.
func (s *Session) EditRule(ch channel.Channel, edit func(*channel.Rule) error) error {
	if !ch.Valid() {
		return fmt.Errorf("set rule: %w: %q", channel.ErrUnknownChannel, ch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.effectiveRuleLocked(ch)
	if err := edit(&r); err != nil {
		return fmt.Errorf("set rule: %w", err)
	}
	for _, v := range []float64{r.FeePercent, r.FixedFee, r.AverageDiscount, r.SellerFreight, r.StrikeMarkup, r.MinMarginPercent} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("set rule: %w: rule values must be finite", ErrInvalidValue)
		}
	}

	if s.draftRules == nil {
		s.draftRules = s.baseRules.Clone()
	}
	s.draftRules[ch] = r
	s.rulesDirty = true
	s.rulesRev++
	return nil
}

// ResetRules sets every channel's draft rule back to zero values.
func (s *Session) ResetRules() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.draftRules = channel.DefaultRules()
	s.rulesDirty = true
	s.rulesRev++
}

// RulesDirty reports whether any rule was edited since the last save.
func (s *Session) RulesDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rulesDirty
}

// CommitRules sends the complete, clamped three-channel rule set. On success
// the sent set becomes the base; rule edits made during the save stay dirty.
func (s *Session) CommitRules(ctx context.Context) (channel.RuleSet, error) {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return nil, ErrSaveInProgress
	}
	rules := s.effectiveRulesLocked().Backfill().Clamped()
	rev := s.rulesRev
	s.saving = true
	s.mu.Unlock()

	err := s.persister.SaveRules(ctx, rules)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false

	if err != nil {
		return nil, fmt.Errorf("commit rules: %w", err)
	}

	s.baseRules = rules.Clone()
	if s.rulesRev == rev {
		s.draftRules = nil
		s.rulesDirty = false
	}
	return rules, nil
}
