// Package pricing computes channel margins and suggested sale prices.
//
// Margin is always measured on net proceeds (sale price minus channel fees,
// average discounts and seller-paid freight), never on the gross price.
// Functions here never fail loudly: unsuitable inputs are reported through a
// false second return value and callers decide how to surface them.
package pricing

import (
	"math"

	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
)

const (
	maxMarginFraction = 0.95
	maxFeeFraction    = 0.95
)

// Margin is the forward computation for one price.
type Margin struct {
	Net    float64 `json:"net"`
	Profit float64 `json:"profit"`
	// MarginPercent is nil when net proceeds are not positive.
	MarginPercent *float64 `json:"marginPercent"`
}

// Suggestion is the result of solving a price for a target margin.
type Suggestion struct {
	Price         float64      `json:"price"`
	StrikePrice   money.Amount `json:"strikePrice"`
	Net           float64      `json:"net"`
	COGS          float64      `json:"cogs"`
	Profit        float64      `json:"profit"`
	MarginPercent *float64     `json:"marginPercent"`
	// BelowMinimum flags a margin under the channel floor. Advisory only.
	BelowMinimum bool `json:"belowMinimum"`
}

// ComputeMargin returns net proceeds, profit and margin for selling at price.
// It returns false when price is not a positive finite number or cost is
// negative or not finite. Negative margins are valid and signal a loss.
func ComputeMargin(price, cost float64, rule channel.Rule) (Margin, bool) {
	if !finite(price) || price <= 0 {
		return Margin{}, false
	}
	if !finite(cost) || cost < 0 {
		return Margin{}, false
	}

	net := price - price*rule.FeePercent/100 - rule.FixedFee - rule.AverageDiscount - rule.SellerFreight
	m := Margin{Net: net, Profit: net - cost}
	if net > 0 {
		pct := m.Profit / net * 100
		m.MarginPercent = &pct
	}
	return m, true
}

// SuggestPrice solves the sale price that leaves desiredMarginPercent of net
// proceeds as profit. The margin is clamped to [0, 95%] and the channel fee
// fraction to [0, 95%] before solving. A product without a positive cost gets
// no suggestion.
func SuggestPrice(cost, desiredMarginPercent float64, rule channel.Rule) (float64, bool) {
	if !finite(cost) || cost <= 0 || !finite(desiredMarginPercent) {
		return 0, false
	}

	m := clamp(desiredMarginPercent/100, 0, maxMarginFraction)
	netNeeded := cost / (1 - m)
	t := clamp(rule.FeePercent/100, 0, maxFeeFraction)

	price := (netNeeded + rule.FixedDeductions()) / (1 - t)
	if !finite(price) {
		return 0, false
	}
	return price, true
}

// Suggest solves the price, applies the rounding policy, derives the strike
// price from the channel markup and reports the resulting margin figures.
func Suggest(cost, desiredMarginPercent float64, rule channel.Rule, mode RoundingMode) (Suggestion, bool) {
	raw, ok := SuggestPrice(cost, desiredMarginPercent, rule)
	if !ok {
		return Suggestion{}, false
	}

	s := Suggestion{Price: Round(raw, mode), COGS: cost}
	if rule.StrikeMarkup > 0 {
		s.StrikePrice = money.Some(Round(s.Price+rule.StrikeMarkup, mode))
	}

	if m, ok := ComputeMargin(s.Price, cost, rule); ok {
		s.Net = m.Net
		s.Profit = m.Profit
		s.MarginPercent = m.MarginPercent
	}
	s.BelowMinimum = s.MarginPercent == nil || *s.MarginPercent < rule.MinMarginPercent

	return s, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
