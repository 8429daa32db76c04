// Package session implements server-held pricing editing sessions: an overlay
// of unsaved price and rule edits on top of the persisted data, the bulk
// suggestion applier and the calculator widget.
//
// A Session is safe for concurrent use. Persistence calls are made without
// holding the session lock so reads stay responsive during a save, and a
// second commit while one is in flight is rejected with ErrSaveInProgress.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
)

var (
	ErrSaveInProgress = errors.New("save already in progress")
	ErrUnknownProduct = errors.New("unknown product")
	ErrInvalidValue   = errors.New("invalid value")
)

// State is the coarse editing state reported to clients.
type State string

const (
	StateClean   State = "clean"
	StateEditing State = "editing"
	StateSaving  State = "saving"
)

// Persister is the external collaborator that stores committed data. Both
// calls must be atomic.
type Persister interface {
	SavePrices(ctx context.Context, updates []catalog.Update) error
	SaveRules(ctx context.Context, rules channel.RuleSet) error
}

// Session is one editing context over the catalog prices and channel rules.
type Session struct {
	id        string
	persister Persister

	mu       sync.Mutex
	products []catalog.Product
	byID     map[int64]int
	base     catalog.Prices
	drafts   catalog.Prices

	baseRules  channel.RuleSet
	draftRules channel.RuleSet
	rulesDirty bool
	rulesRev   int

	saving bool
	calc   CalculatorState
}

// New builds a clean session over a freshly loaded bootstrap.
func New(id string, b catalog.Bootstrap, p Persister) *Session {
	s := &Session{id: id, persister: p, drafts: make(catalog.Prices)}
	s.load(b)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) load(b catalog.Bootstrap) {
	s.products = append([]catalog.Product(nil), b.Products...)
	s.byID = make(map[int64]int, len(s.products))
	for i, p := range s.products {
		s.byID[p.ID] = i
	}
	s.base = b.Prices.Clone()
	for k, e := range s.base {
		if e.Empty() {
			delete(s.base, k)
		}
	}
	s.baseRules = b.Rules.Backfill()
}

// Reload replaces the persisted view with a fresh bootstrap. Drafts are kept
// and those that now match the base are dropped.
func (s *Session) Reload(b catalog.Bootstrap) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load(b)
	s.pruneLocked()
	if !s.rulesDirty {
		s.draftRules = nil
	}
}

// Effective returns the draft entry if present, else the base entry, else an
// entry with both fields null.
func (s *Session) Effective(productID int64, ch channel.Channel) catalog.PriceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveLocked(catalog.Key{ProductID: productID, Channel: ch})
}

func (s *Session) effectiveLocked(k catalog.Key) catalog.PriceEntry {
	if d, ok := s.drafts[k]; ok {
		return d
	}
	return s.base[k]
}

// SetDraft overwrites the draft of one cell with both fields. Values <= 0
// are stored as null and the rest are rounded to cents.
func (s *Session) SetDraft(productID int64, ch channel.Channel, price, strike money.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setDraftLocked(productID, ch, price, strike)
}

func (s *Session) setDraftLocked(productID int64, ch channel.Channel, price, strike money.Amount) error {
	if !ch.Valid() {
		return fmt.Errorf("set draft: %w: %q", channel.ErrUnknownChannel, ch)
	}
	if _, ok := s.byID[productID]; !ok {
		return fmt.Errorf("set draft: %w: %d", ErrUnknownProduct, productID)
	}
	if !price.Finite() || !strike.Finite() {
		return fmt.Errorf("set draft: %w: price and strike price must be finite", ErrInvalidValue)
	}

	s.drafts[catalog.Key{ProductID: productID, Channel: ch}] = catalog.PriceEntry{
		Price:       catalog.NormalizeAmount(price),
		StrikePrice: catalog.NormalizeAmount(strike),
	}
	return nil
}

// EditCell changes the present fields of one cell and keeps the effective
// value of the others. It returns the resulting draft entry.
func (s *Session) EditCell(productID int64, ch channel.Channel, price, strike catalog.Field) (catalog.PriceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := catalog.Key{ProductID: productID, Channel: ch}
	next := catalog.Update{Price: price, StrikePrice: strike}.Apply(s.effectiveLocked(k))
	if err := s.setDraftLocked(productID, ch, next.Price, next.StrikePrice); err != nil {
		return catalog.PriceEntry{}, err
	}
	return s.drafts[k], nil
}

// IsDirty reports whether the cell has a draft that differs from its base.
func (s *Session) IsDirty(productID int64, ch channel.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDirtyLocked(catalog.Key{ProductID: productID, Channel: ch})
}

func (s *Session) isDirtyLocked(k catalog.Key) bool {
	d, ok := s.drafts[k]
	return ok && !d.Equal(s.base[k])
}

// DirtyCount counts dirty cells by walking the drafts only.
func (s *Session) DirtyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.drafts {
		if s.isDirtyLocked(k) {
			n++
		}
	}
	return n
}

// DirtyKeys returns the dirty cells ordered by product and channel.
func (s *Session) DirtyKeys() []catalog.Key {
	updates := s.BuildUpdates()
	keys := make([]catalog.Key, len(updates))
	for i, u := range updates {
		keys[i] = u.Key()
	}
	return keys
}

// BuildUpdates returns the current draft value of every dirty cell with both
// fields present. Drafts equal to the base are never included.
func (s *Session) BuildUpdates() []catalog.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildUpdatesLocked()
}

func (s *Session) buildUpdatesLocked() []catalog.Update {
	updates := make([]catalog.Update, 0, len(s.drafts))
	for k, d := range s.drafts {
		if !s.isDirtyLocked(k) {
			continue
		}
		updates = append(updates, catalog.Update{
			ProductID:   k.ProductID,
			Channel:     k.Channel,
			Price:       catalog.Set(d.Price),
			StrikePrice: catalog.Set(d.StrikePrice),
		})
	}
	catalog.SortUpdates(updates)
	return updates
}

// CommitPrices sends every dirty cell to the persister in one call. On
// success each sent value becomes the new base and its draft is dropped,
// unless the cell was edited again while the save was in flight. On failure
// the drafts are left untouched. It returns the updates that were sent.
func (s *Session) CommitPrices(ctx context.Context) ([]catalog.Update, error) {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return nil, ErrSaveInProgress
	}
	updates := s.buildUpdatesLocked()
	if len(updates) == 0 {
		s.pruneLocked()
		s.mu.Unlock()
		return nil, nil
	}
	s.saving = true
	s.mu.Unlock()

	err := s.persister.SavePrices(ctx, updates)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false

	if err != nil {
		return nil, fmt.Errorf("commit prices: %w", err)
	}

	for _, u := range updates {
		k := u.Key()
		sent := catalog.PriceEntry{Price: u.Price.Amount, StrikePrice: u.StrikePrice.Amount}
		if sent.Empty() {
			delete(s.base, k)
		} else {
			s.base[k] = sent
		}
		if d, ok := s.drafts[k]; ok && d.Equal(sent) {
			delete(s.drafts, k)
		}
	}
	s.pruneLocked()

	return updates, nil
}

// pruneLocked drops drafts that match their base.
func (s *Session) pruneLocked() {
	for k := range s.drafts {
		if !s.isDirtyLocked(k) {
			delete(s.drafts, k)
		}
	}
}

// DiscardAll drops every price draft and rule draft.
func (s *Session) DiscardAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drafts = make(catalog.Prices)
	s.draftRules = nil
	s.rulesDirty = false
	s.rulesRev++
}

// State reports clean, editing or saving.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.saving:
		return StateSaving
	case s.rulesDirty:
		return StateEditing
	}
	for k := range s.drafts {
		if s.isDirtyLocked(k) {
			return StateEditing
		}
	}
	return StateClean
}

// Summary is a snapshot of the session counters.
type Summary struct {
	ID         string          `json:"id"`
	State      State           `json:"state"`
	DirtyCount int             `json:"dirtyCount"`
	RulesDirty bool            `json:"rulesDirty"`
	Products   int             `json:"products"`
	Rules      channel.RuleSet `json:"rules"`
}

func (s *Session) Summary() Summary {
	state := s.State()
	dirty := s.DirtyCount()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:         s.id,
		State:      state,
		DirtyCount: dirty,
		RulesDirty: s.rulesDirty,
		Products:   len(s.products),
		Rules:      s.effectiveRulesLocked(),
	}
}

// EffectiveBootstrap returns the catalog as it would look after committing
// every draft.
func (s *Session) EffectiveBootstrap() catalog.Bootstrap {
	s.mu.Lock()
	defer s.mu.Unlock()

	prices := s.base.Clone()
	for k, d := range s.drafts {
		if d.Empty() {
			delete(prices, k)
			continue
		}
		prices[k] = d
	}
	return catalog.Bootstrap{
		Products: append([]catalog.Product(nil), s.products...),
		Prices:   prices,
		Rules:    s.effectiveRulesLocked(),
	}
}

func sortKeys(keys []catalog.Key) {
	order := make(map[channel.Channel]int)
	for i, c := range channel.All() {
		order[c] = i
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductID != keys[j].ProductID {
			return keys[i].ProductID < keys[j].ProductID
		}
		return order[keys[i].Channel] < order[keys[j].Channel]
	})
}
