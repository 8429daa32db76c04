package session

import (
	"errors"
	"fmt"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
	"github.com/Simplici0/pricebook/internal/pricing"
)

var (
	ErrMissingInput       = errors.New("cost and margin are required")
	ErrNotComputable      = errors.New("no price satisfies these inputs")
	ErrNothingCalculated  = errors.New("nothing calculated yet")
	ErrProductNotResolved = errors.New("product not found")
)

// CalculatorState is what the calculator widget shows.
type CalculatorState struct {
	Product         string               `json:"product"`
	Channel         channel.Channel      `json:"channel,omitempty"`
	Cost            money.Amount         `json:"cost"`
	MarginPercent   money.Amount         `json:"marginPercent"`
	FeePercent      money.Amount         `json:"feePercent"`
	FixedFee        money.Amount         `json:"fixedFee"`
	AverageDiscount money.Amount         `json:"averageDiscount"`
	SellerFreight   money.Amount         `json:"sellerFreight"`
	StrikeMarkup    money.Amount         `json:"strikePriceMarkup"`
	Rounding        pricing.RoundingMode `json:"rounding"`
	Result          *CalculatorResult    `json:"result"`
}

// CalculatorResult is the last successful calculation.
type CalculatorResult struct {
	Channel channel.Channel `json:"channel"`
	pricing.Suggestion
	Labels ResultLabels `json:"labels"`
}

// ResultLabels is a result formatted in pt-BR for display.
type ResultLabels struct {
	Price       string `json:"price"`
	StrikePrice string `json:"strikePrice"`
	Net         string `json:"net"`
	COGS        string `json:"cogs"`
	Profit      string `json:"profit"`
	Margin      string `json:"margin"`
}

const noLabel = "—"

func labelsFor(s pricing.Suggestion) ResultLabels {
	l := ResultLabels{
		Price:       money.FormatBRL(s.Price),
		StrikePrice: noLabel,
		Net:         noLabel,
		COGS:        money.FormatBRL(s.COGS),
		Profit:      noLabel,
		Margin:      noLabel,
	}
	if s.StrikePrice.Valid {
		l.StrikePrice = money.FormatBRL(s.StrikePrice.Float64)
	}
	if s.MarginPercent != nil {
		l.Net = money.FormatBRL(s.Net)
		l.Profit = money.FormatBRL(s.Profit)
		l.Margin = money.FormatPercent(*s.MarginPercent)
	}
	return l
}

// CalculatorInput edits the calculator. Nil fields are left as they are.
type CalculatorInput struct {
	Product         *string               `json:"product"`
	Channel         *channel.Channel      `json:"channel"`
	Cost            *money.Amount         `json:"cost"`
	MarginPercent   *money.Amount         `json:"marginPercent"`
	FeePercent      *money.Amount         `json:"feePercent"`
	FixedFee        *money.Amount         `json:"fixedFee"`
	AverageDiscount *money.Amount         `json:"averageDiscount"`
	SellerFreight   *money.Amount         `json:"sellerFreight"`
	StrikeMarkup    *money.Amount         `json:"strikePriceMarkup"`
	Rounding        *pricing.RoundingMode `json:"rounding"`
}

// Calculator drives the session's calculator widget.
type Calculator struct {
	s *Session
}

// Calculator returns the session's calculator.
func (s *Session) Calculator() *Calculator {
	return &Calculator{s: s}
}

// State returns a copy of the calculator fields and last result.
func (c *Calculator) State() CalculatorState {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.stateLocked()
}

func (c *Calculator) stateLocked() CalculatorState {
	st := c.s.calc
	if st.Result != nil {
		r := *st.Result
		st.Result = &r
	}
	if st.Channel == "" {
		st.Channel = channel.All()[0]
		seedFields(&st, c.s.effectiveRuleLocked(st.Channel))
	}
	if st.Rounding == "" {
		st.Rounding = pricing.RoundNone
	}
	return st
}

// Select switches the calculator to ch and fills the fields that are still
// empty from the channel's effective rule. Fields already set are kept.
func (c *Calculator) Select(ch channel.Channel) error {
	if !ch.Valid() {
		return fmt.Errorf("select channel: %w: %q", channel.ErrUnknownChannel, ch)
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	c.s.calc.Channel = ch
	c.seedLocked()
	return nil
}

// seedLocked defaults the channel to the first one and fills the empty
// fields from its effective rule.
func (c *Calculator) seedLocked() {
	st := &c.s.calc
	if st.Channel == "" {
		st.Channel = channel.All()[0]
	}
	seedFields(st, c.s.effectiveRuleLocked(st.Channel))
}

func seedFields(st *CalculatorState, r channel.Rule) {
	fill := func(a *money.Amount, v float64) {
		if !a.Valid {
			*a = money.Some(v)
		}
	}
	fill(&st.FeePercent, r.FeePercent)
	fill(&st.FixedFee, r.FixedFee)
	fill(&st.AverageDiscount, r.AverageDiscount)
	fill(&st.SellerFreight, r.SellerFreight)
	fill(&st.StrikeMarkup, r.StrikeMarkup)
	fill(&st.MarginPercent, r.MinMarginPercent)
}

// Edit applies the provided fields. Selecting a channel through Edit seeds
// empty fields like Select; so does the first edit when no channel has been
// chosen yet.
func (c *Calculator) Edit(in CalculatorInput) error {
	if in.Channel != nil && !in.Channel.Valid() {
		return fmt.Errorf("edit calculator: %w: %q", channel.ErrUnknownChannel, *in.Channel)
	}
	if in.Rounding != nil {
		if _, err := pricing.ParseRoundingMode(string(*in.Rounding)); err != nil {
			return fmt.Errorf("edit calculator: %w: %v", ErrInvalidValue, err)
		}
	}
	for _, a := range []*money.Amount{in.Cost, in.MarginPercent, in.FeePercent, in.FixedFee, in.AverageDiscount, in.SellerFreight, in.StrikeMarkup} {
		if a != nil && !a.Finite() {
			return fmt.Errorf("edit calculator: %w: values must be finite", ErrInvalidValue)
		}
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	st := &c.s.calc
	set := func(dst *money.Amount, src *money.Amount) {
		if src != nil {
			*dst = *src
		}
	}
	if in.Product != nil {
		st.Product = *in.Product
	}
	set(&st.Cost, in.Cost)
	set(&st.MarginPercent, in.MarginPercent)
	set(&st.FeePercent, in.FeePercent)
	set(&st.FixedFee, in.FixedFee)
	set(&st.AverageDiscount, in.AverageDiscount)
	set(&st.SellerFreight, in.SellerFreight)
	set(&st.StrikeMarkup, in.StrikeMarkup)
	if in.Rounding != nil {
		st.Rounding, _ = pricing.ParseRoundingMode(string(*in.Rounding))
	}
	if in.Channel != nil {
		st.Channel = *in.Channel
		c.seedLocked()
	} else if st.Channel == "" {
		c.seedLocked()
	}
	return nil
}

// PullRules clears the rule-derived fields and the target margin, then
// reseeds them from the current channel's effective rule.
func (c *Calculator) PullRules() {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	st := &c.s.calc
	st.FeePercent = money.Null()
	st.FixedFee = money.Null()
	st.AverageDiscount = money.Null()
	st.SellerFreight = money.Null()
	st.StrikeMarkup = money.Null()
	st.MarginPercent = money.Null()
	c.seedLocked()
}

// Reset clears every field and the last result. The channel is kept.
func (c *Calculator) Reset() {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	ch := c.s.calc.Channel
	c.s.calc = CalculatorState{}
	c.s.calc.Channel = ch
}

// Calculate solves the price for the current fields and remembers the
// result. Empty rule fields count as zero; cost and margin are required.
func (c *Calculator) Calculate() (CalculatorResult, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	st := &c.s.calc
	if !st.Cost.Valid || !st.MarginPercent.Valid {
		return CalculatorResult{}, ErrMissingInput
	}
	if st.Channel == "" {
		c.seedLocked()
	}

	rule := channel.Rule{
		FeePercent:       st.FeePercent.OrZero(),
		FixedFee:         st.FixedFee.OrZero(),
		AverageDiscount:  st.AverageDiscount.OrZero(),
		SellerFreight:    st.SellerFreight.OrZero(),
		StrikeMarkup:     st.StrikeMarkup.OrZero(),
		MinMarginPercent: c.s.effectiveRuleLocked(st.Channel).MinMarginPercent,
	}
	mode := st.Rounding
	if mode == "" {
		mode = pricing.RoundNone
	}

	sug, ok := pricing.Suggest(st.Cost.Float64, st.MarginPercent.Float64, rule, mode)
	if !ok {
		st.Result = nil
		return CalculatorResult{}, ErrNotComputable
	}

	res := CalculatorResult{Channel: st.Channel, Suggestion: sug, Labels: labelsFor(sug)}
	st.Result = &res
	return res, nil
}

// ApplyToTable writes the last result as a draft of the product matching
// query (exact SKU first, then name substring). An empty query uses the
// calculator's product field. Nothing changes when no product resolves.
func (c *Calculator) ApplyToTable(query string) (catalog.Product, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	st := &c.s.calc
	if st.Result == nil {
		return catalog.Product{}, ErrNothingCalculated
	}
	if query == "" {
		query = st.Product
	}

	p, ok := catalog.ResolveProduct(c.s.products, query)
	if !ok {
		return catalog.Product{}, fmt.Errorf("%w: %q", ErrProductNotResolved, query)
	}

	res := st.Result
	if err := c.s.setDraftLocked(p.ID, res.Channel, money.Some(res.Price), res.StrikePrice); err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}
