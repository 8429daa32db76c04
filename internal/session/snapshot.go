package session

import (
	"time"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
)

// DraftCell is one price draft in a snapshot.
type DraftCell struct {
	ProductID   int64           `json:"productId"`
	Channel     channel.Channel `json:"channel"`
	Price       money.Amount    `json:"price"`
	StrikePrice money.Amount    `json:"strikePrice"`
}

// Snapshot is the unsaved part of a session, enough to rebuild it on top of
// a fresh bootstrap after a restart.
type Snapshot struct {
	ID         string          `json:"id"`
	Drafts     []DraftCell     `json:"drafts"`
	Rules      channel.RuleSet `json:"rules,omitempty"`
	Calculator CalculatorState `json:"calculator"`
	TakenAt    time.Time       `json:"takenAt"`
}

// Empty reports whether the snapshot carries no unsaved edits and an
// untouched calculator.
func (s Snapshot) Empty() bool {
	return len(s.Drafts) == 0 && s.Rules == nil && s.Calculator == CalculatorState{}
}

// Snapshot captures the dirty drafts, the rule drafts and the calculator.
func (s *Session) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]catalog.Key, 0, len(s.drafts))
	for k := range s.drafts {
		if s.isDirtyLocked(k) {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)

	snap := Snapshot{ID: s.id, Drafts: make([]DraftCell, 0, len(keys)), Calculator: s.calc, TakenAt: now}
	for _, k := range keys {
		d := s.drafts[k]
		snap.Drafts = append(snap.Drafts, DraftCell{
			ProductID:   k.ProductID,
			Channel:     k.Channel,
			Price:       d.Price,
			StrikePrice: d.StrikePrice,
		})
	}
	if s.rulesDirty {
		snap.Rules = s.draftRules.Clone()
	}
	if snap.Calculator.Result != nil {
		r := *snap.Calculator.Result
		snap.Calculator.Result = &r
	}
	return snap
}

// Restore replays a snapshot on top of the current base. Drafts for products
// that no longer exist are dropped; the number of dropped cells is returned.
func (s *Session) Restore(snap Snapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for _, d := range snap.Drafts {
		if err := s.setDraftLocked(d.ProductID, d.Channel, d.Price, d.StrikePrice); err != nil {
			dropped++
		}
	}
	s.pruneLocked()

	if snap.Rules != nil {
		s.draftRules = snap.Rules.Backfill()
		s.rulesDirty = true
		s.rulesRev++
	}
	s.calc = snap.Calculator
	return dropped
}
