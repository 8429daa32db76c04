package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
)

type fakePersister struct {
	mu      sync.Mutex
	prices  [][]catalog.Update
	rules   []channel.RuleSet
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakePersister) wait() {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
}

func (f *fakePersister) SavePrices(_ context.Context, updates []catalog.Update) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.prices = append(f.prices, append([]catalog.Update(nil), updates...))
	return nil
}

func (f *fakePersister) SaveRules(_ context.Context, rules channel.RuleSet) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rules = append(f.rules, rules.Clone())
	return nil
}

func testBootstrap() catalog.Bootstrap {
	return catalog.Bootstrap{
		Products: []catalog.Product{
			{ID: 1, Name: "Vaso Geométrico", SKU: "VAS-001", Stock: 4, AvgCost: 10},
			{ID: 2, Name: "Suporte de Headset", SKU: "SUP-010", Stock: 2, AvgCost: 22.5},
			{ID: 3, Name: "Luminária Lua", SKU: "LUM-001", AvgCost: 0},
		},
		Prices: catalog.Prices{
			{ProductID: 1, Channel: channel.Shopee}:     {Price: money.Some(29.9), StrikePrice: money.Some(39.9)},
			{ProductID: 2, Channel: channel.Presencial}: {Price: money.Some(45)},
		},
		Rules: channel.RuleSet{
			channel.Shopee:       {FeePercent: 16, FixedFee: 5.5, MinMarginPercent: 18},
			channel.MercadoLivre: {FeePercent: 20, StrikeMarkup: 10, MinMarginPercent: 30},
		},
	}
}

func newTestSession(p *fakePersister) *Session {
	return New("test", testBootstrap(), p)
}

func TestEffective_LayeredRead(t *testing.T) {
	s := newTestSession(&fakePersister{})

	base := s.Effective(1, channel.Shopee)
	assert.True(t, base.Price.Equal(money.Some(29.9)))

	empty := s.Effective(1, channel.MercadoLivre)
	assert.True(t, empty.Empty())

	require.NoError(t, s.SetDraft(1, channel.Shopee, money.Some(31.9), money.Null()))
	got := s.Effective(1, channel.Shopee)
	assert.True(t, got.Price.Equal(money.Some(31.9)))
	assert.False(t, got.StrikePrice.Valid)
}

func TestNew_BackfillsRules(t *testing.T) {
	s := newTestSession(&fakePersister{})
	rules := s.EffectiveRules()
	require.Len(t, rules, 3)
	assert.Equal(t, channel.Rule{}, rules[channel.Presencial])
}

func TestSetDraft_Validation(t *testing.T) {
	s := newTestSession(&fakePersister{})

	err := s.SetDraft(1, channel.Channel("amazon"), money.Some(10), money.Null())
	assert.ErrorIs(t, err, channel.ErrUnknownChannel)

	err = s.SetDraft(99, channel.Shopee, money.Some(10), money.Null())
	assert.ErrorIs(t, err, ErrUnknownProduct)

	err = s.SetDraft(1, channel.Shopee, money.Some(10), money.Amount{Float64: posInf(), Valid: true})
	assert.ErrorIs(t, err, ErrInvalidValue)

	assert.Zero(t, s.DirtyCount())
}

func TestSetDraft_NormalizesNonPositiveAndRounds(t *testing.T) {
	s := newTestSession(&fakePersister{})

	require.NoError(t, s.SetDraft(2, channel.Shopee, money.Some(-5), money.Some(0)))
	got := s.Effective(2, channel.Shopee)
	assert.True(t, got.Empty())
	assert.False(t, s.IsDirty(2, channel.Shopee), "null draft over missing base is not dirty")

	require.NoError(t, s.SetDraft(2, channel.Shopee, money.Some(21.065621), money.Null()))
	assert.Equal(t, 21.07, s.Effective(2, channel.Shopee).Price.Float64)
}

func TestDirtyTracking(t *testing.T) {
	s := newTestSession(&fakePersister{})

	require.NoError(t, s.SetDraft(1, channel.Shopee, money.Some(29.9), money.Some(39.9)))
	assert.False(t, s.IsDirty(1, channel.Shopee), "draft equal to base")
	assert.Zero(t, s.DirtyCount())

	require.NoError(t, s.SetDraft(1, channel.Shopee, money.Some(29.9), money.Null()))
	assert.True(t, s.IsDirty(1, channel.Shopee), "strike cleared")

	require.NoError(t, s.SetDraft(1, channel.MercadoLivre, money.Some(50), money.Null()))
	require.NoError(t, s.SetDraft(2, channel.Presencial, money.Some(45), money.Null()))
	assert.Equal(t, 2, s.DirtyCount())
	assert.Equal(t, []catalog.Key{
		{ProductID: 1, Channel: channel.Shopee},
		{ProductID: 1, Channel: channel.MercadoLivre},
	}, s.DirtyKeys())

	require.NoError(t, s.SetDraft(1, channel.Shopee, money.Some(29.9), money.Some(39.9)))
	assert.False(t, s.IsDirty(1, channel.Shopee), "reverting to base clears dirtiness")
	assert.Equal(t, 1, s.DirtyCount())
	assert.Equal(t, StateEditing, s.State())
}

func TestBuildUpdates_UsesCurrentDraftValues(t *testing.T) {
	s := newTestSession(&fakePersister{})

	require.NoError(t, s.SetDraft(2, channel.Presencial, money.Some(49.9), money.Null()))
	require.NoError(t, s.SetDraft(1, channel.Shopee, money.Some(29.9), money.Some(39.9)))
	require.NoError(t, s.SetDraft(1, channel.MercadoLivre, money.Some(55), money.Some(65)))

	updates := s.BuildUpdates()
	require.Len(t, updates, 2)

	assert.Equal(t, catalog.Key{ProductID: 1, Channel: channel.MercadoLivre}, updates[0].Key())
	assert.True(t, updates[0].Price.Present)
	assert.True(t, updates[0].StrikePrice.Present)
	assert.True(t, updates[0].StrikePrice.Amount.Equal(money.Some(65)))

	assert.Equal(t, catalog.Key{ProductID: 2, Channel: channel.Presencial}, updates[1].Key())
	assert.True(t, updates[1].StrikePrice.Present, "null strike price is sent explicitly")
	assert.False(t, updates[1].StrikePrice.Amount.Valid)
}

func TestEditCell_KeepsOtherField(t *testing.T) {
	s := newTestSession(&fakePersister{})

	got, err := s.EditCell(1, channel.Shopee, catalog.Set(money.Some(27.9)), catalog.Field{})
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(money.Some(27.9)))
	assert.True(t, got.StrikePrice.Equal(money.Some(39.9)))

	got, err = s.EditCell(1, channel.Shopee, catalog.Field{}, catalog.Set(money.Null()))
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(money.Some(27.9)))
	assert.False(t, got.StrikePrice.Valid)
}

func TestCommitPrices_FoldsIntoBase(t *testing.T) {
	p := &fakePersister{}
	s := newTestSession(p)

	require.NoError(t, s.SetDraft(1, channel.MercadoLivre, money.Some(55), money.Null()))
	require.NoError(t, s.SetDraft(2, channel.Presencial, money.Some(49.9), money.Some(59.9)))

	sent, err := s.CommitPrices(context.Background())
	require.NoError(t, err)
	assert.Len(t, sent, 2)
	require.Len(t, p.prices, 1)
	assert.Len(t, p.prices[0], 2)

	assert.Zero(t, s.DirtyCount())
	assert.Equal(t, StateClean, s.State())
	assert.True(t, s.Effective(2, channel.Presencial).StrikePrice.Equal(money.Some(59.9)))

	sent, err = s.CommitPrices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sent, "no-op commit sends nothing")
	assert.Len(t, p.prices, 1)
}

func TestCommitPrices_ClearRemovesEntry(t *testing.T) {
	p := &fakePersister{}
	s := newTestSession(p)

	require.NoError(t, s.SetDraft(1, channel.Shopee, money.Null(), money.Null()))
	require.True(t, s.IsDirty(1, channel.Shopee))

	_, err := s.CommitPrices(context.Background())
	require.NoError(t, err)

	sent := p.prices[0][0]
	assert.True(t, sent.Price.Present && !sent.Price.Amount.Valid)
	assert.True(t, sent.StrikePrice.Present && !sent.StrikePrice.Amount.Valid)

	b := s.EffectiveBootstrap()
	_, exists := b.Prices[catalog.Key{ProductID: 1, Channel: channel.Shopee}]
	assert.False(t, exists, "cleared entry must be absent, not present with nulls")
}

func TestCommitPrices_FailureKeepsDrafts(t *testing.T) {
	p := &fakePersister{err: errors.New("connection refused")}
	s := newTestSession(p)

	require.NoError(t, s.SetDraft(1, channel.MercadoLivre, money.Some(55), money.Null()))

	_, err := s.CommitPrices(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, 1, s.DirtyCount())
	assert.Equal(t, StateEditing, s.State())
	assert.True(t, s.Effective(1, channel.MercadoLivre).Price.Equal(money.Some(55)))

	p.err = nil
	sent, err := s.CommitPrices(context.Background())
	require.NoError(t, err)
	assert.Len(t, sent, 1)
}

func TestCommitPrices_RejectsConcurrentSave(t *testing.T) {
	p := &fakePersister{started: make(chan struct{}), release: make(chan struct{})}
	s := newTestSession(p)
	require.NoError(t, s.SetDraft(1, channel.MercadoLivre, money.Some(55), money.Null()))

	done := make(chan error)
	go func() {
		_, err := s.CommitPrices(context.Background())
		done <- err
	}()
	<-p.started

	assert.Equal(t, StateSaving, s.State())
	_, err := s.CommitPrices(context.Background())
	assert.ErrorIs(t, err, ErrSaveInProgress)
	_, err = s.CommitRules(context.Background())
	assert.ErrorIs(t, err, ErrSaveInProgress)

	// Edit the in-flight cell; the new value must survive the fold-back.
	require.NoError(t, s.SetDraft(1, channel.MercadoLivre, money.Some(57), money.Null()))

	close(p.release)
	require.NoError(t, <-done)

	assert.True(t, s.IsDirty(1, channel.MercadoLivre))
	assert.True(t, s.Effective(1, channel.MercadoLivre).Price.Equal(money.Some(57)))
	updates := s.BuildUpdates()
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Price.Amount.Equal(money.Some(57)))
}

func TestDiscardAll(t *testing.T) {
	s := newTestSession(&fakePersister{})

	require.NoError(t, s.SetDraft(1, channel.MercadoLivre, money.Some(55), money.Null()))
	require.NoError(t, s.SetRule(channel.Presencial, channel.Rule{FeePercent: 3}))
	assert.Equal(t, StateEditing, s.State())

	s.DiscardAll()
	assert.Equal(t, StateClean, s.State())
	assert.Zero(t, s.DirtyCount())
	assert.False(t, s.RulesDirty())
	assert.Equal(t, channel.Rule{}, s.EffectiveRules()[channel.Presencial])
}

func TestRules_CommitSendsFullClampedSet(t *testing.T) {
	p := &fakePersister{}
	s := newTestSession(p)

	require.NoError(t, s.SetRule(channel.Presencial, channel.Rule{FeePercent: 120, FixedFee: -1}))
	assert.True(t, s.RulesDirty())
	assert.Equal(t, 120.0, s.EffectiveRules()[channel.Presencial].FeePercent)

	sent, err := s.CommitRules(context.Background())
	require.NoError(t, err)
	require.Len(t, p.rules, 1)
	assert.Len(t, p.rules[0], 3)
	assert.Equal(t, 99.99, p.rules[0][channel.Presencial].FeePercent)
	assert.Equal(t, 0.0, p.rules[0][channel.Presencial].FixedFee)
	assert.Equal(t, 16.0, p.rules[0][channel.Shopee].FeePercent)
	assert.Equal(t, p.rules[0], sent)

	assert.False(t, s.RulesDirty())
	assert.Equal(t, StateClean, s.State())
}

func TestRules_FailureKeepsDraft(t *testing.T) {
	p := &fakePersister{err: errors.New("timeout")}
	s := newTestSession(p)

	require.NoError(t, s.SetRule(channel.Shopee, channel.Rule{FeePercent: 14}))
	_, err := s.CommitRules(context.Background())
	require.Error(t, err)

	assert.True(t, s.RulesDirty())
	assert.Equal(t, 14.0, s.EffectiveRules()[channel.Shopee].FeePercent)
}

func TestSetRule_Validation(t *testing.T) {
	s := newTestSession(&fakePersister{})
	assert.ErrorIs(t, s.SetRule("amazon", channel.Rule{}), channel.ErrUnknownChannel)
	assert.ErrorIs(t, s.SetRule(channel.Shopee, channel.Rule{FeePercent: nan()}), ErrInvalidValue)
	assert.False(t, s.RulesDirty())
}

func TestEditRule_KeepsUntouchedFields(t *testing.T) {
	s := newTestSession(&fakePersister{})

	require.NoError(t, s.EditRule(channel.Shopee, func(r *channel.Rule) error {
		r.FeePercent = 14
		return nil
	}))
	got := s.EffectiveRules()[channel.Shopee]
	assert.Equal(t, 14.0, got.FeePercent)
	assert.Equal(t, 5.5, got.FixedFee)
	assert.Equal(t, 18.0, got.MinMarginPercent)

	boom := errors.New("bad body")
	err := s.EditRule(channel.MercadoLivre, func(r *channel.Rule) error {
		r.FeePercent = 1
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 20.0, s.EffectiveRules()[channel.MercadoLivre].FeePercent)
}

func TestResetRules(t *testing.T) {
	s := newTestSession(&fakePersister{})
	s.ResetRules()
	assert.True(t, s.RulesDirty())
	assert.Equal(t, channel.DefaultRules(), s.EffectiveRules())
}

func TestReload_KeepsDrafts(t *testing.T) {
	s := newTestSession(&fakePersister{})
	require.NoError(t, s.SetDraft(1, channel.MercadoLivre, money.Some(55), money.Null()))
	require.NoError(t, s.SetDraft(2, channel.Shopee, money.Some(60), money.Null()))

	b := testBootstrap()
	b.Prices[catalog.Key{ProductID: 2, Channel: channel.Shopee}] = catalog.PriceEntry{Price: money.Some(60)}
	s.Reload(b)

	assert.True(t, s.IsDirty(1, channel.MercadoLivre))
	assert.False(t, s.IsDirty(2, channel.Shopee), "draft now matches the reloaded base")
	assert.Equal(t, 1, s.DirtyCount())
}
