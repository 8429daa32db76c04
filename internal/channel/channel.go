// Package channel defines the closed set of sales channels and the fee rules
// configured for each one.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Channel identifies a sales outlet.
type Channel string

const (
	Shopee       Channel = "shopee"
	MercadoLivre Channel = "ml"
	Presencial   Channel = "presencial"
)

var all = []Channel{Shopee, MercadoLivre, Presencial}

// ErrUnknownChannel is returned for any value outside the canonical set.
var ErrUnknownChannel = errors.New("unknown channel")

// All returns the canonical channels in display order.
func All() []Channel {
	out := make([]Channel, len(all))
	copy(out, all)
	return out
}

// Parse maps a wire value onto a Channel.
func Parse(raw string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, raw)
	}
	return c, nil
}

// Valid reports whether c is one of the canonical channels.
func (c Channel) Valid() bool {
	switch c {
	case Shopee, MercadoLivre, Presencial:
		return true
	}
	return false
}

// Label is the human name used in exports.
func (c Channel) Label() string {
	switch c {
	case Shopee:
		return "Shopee"
	case MercadoLivre:
		return "Mercado Livre"
	case Presencial:
		return "Presencial"
	}
	return string(c)
}

// UnmarshalJSON rejects unknown channels at decode time.
func (c *Channel) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, string(data))
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Rule is the fee structure of one channel.
type Rule struct {
	FeePercent       float64 `json:"feePercent" db:"fee_percent"`
	FixedFee         float64 `json:"fixedFee" db:"fixed_fee"`
	AverageDiscount  float64 `json:"averageDiscount" db:"average_discount"`
	SellerFreight    float64 `json:"sellerFreight" db:"seller_freight"`
	StrikeMarkup     float64 `json:"strikePriceMarkup" db:"strike_markup"`
	MinMarginPercent float64 `json:"minMarginPercent" db:"min_margin_percent"`
}

// FixedDeductions is the sum of the flat amounts taken from every sale.
func (r Rule) FixedDeductions() float64 {
	return r.FixedFee + r.AverageDiscount + r.SellerFreight
}

const maxPercent = 99.99

// Clamped applies the save-time bounds: percents within [0, 99.99] and
// currency amounts not below zero. Non-finite values become zero.
func (r Rule) Clamped() Rule {
	return Rule{
		FeePercent:       clamp(r.FeePercent, 0, maxPercent),
		FixedFee:         clamp(r.FixedFee, 0, math.MaxFloat64),
		AverageDiscount:  clamp(r.AverageDiscount, 0, math.MaxFloat64),
		SellerFreight:    clamp(r.SellerFreight, 0, math.MaxFloat64),
		StrikeMarkup:     clamp(r.StrikeMarkup, 0, math.MaxFloat64),
		MinMarginPercent: clamp(r.MinMarginPercent, 0, maxPercent),
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
