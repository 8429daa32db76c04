package session

import (
	"fmt"
	"strings"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
	"github.com/Simplici0/pricebook/internal/pricing"
)

// Table status labels.
const (
	StatusOK      = "OK"
	StatusMissing = "Sem preço"
)

// Filter selects the products shown in the price table. An empty Channel
// means all channels.
type Filter struct {
	Query       string          `json:"query"`
	Channel     channel.Channel `json:"channel,omitempty"`
	OnlyMissing bool            `json:"onlyMissing"`
}

func (s *Session) filterLocked(f Filter) []catalog.Product {
	q := strings.ToLower(strings.TrimSpace(f.Query))

	out := make([]catalog.Product, 0, len(s.products))
	for _, p := range s.products {
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.SKU), q) {
			continue
		}
		if f.OnlyMissing && s.hasPriceLocked(p.ID, f.Channel) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// hasPriceLocked reports whether the product has a positive effective price
// in ch, or in any channel when ch is empty.
func (s *Session) hasPriceLocked(productID int64, ch channel.Channel) bool {
	if ch != "" {
		return s.effectiveLocked(catalog.Key{ProductID: productID, Channel: ch}).Price.Positive()
	}
	for _, c := range channel.All() {
		if s.effectiveLocked(catalog.Key{ProductID: productID, Channel: c}).Price.Positive() {
			return true
		}
	}
	return false
}

// Row is one line of the price table.
type Row struct {
	Product       catalog.Product                        `json:"product"`
	Prices        map[channel.Channel]catalog.PriceEntry `json:"prices"`
	Dirty         []channel.Channel                      `json:"dirty"`
	MarginChannel channel.Channel                        `json:"marginChannel"`
	MarginPercent *float64                               `json:"marginPercent"`
	Status        string                                 `json:"status"`
}

// Table renders the filtered rows using effective prices. The margin column
// is computed for the filter channel, or the first channel when the filter
// covers all of them.
func (s *Session) Table(f Filter) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	marginChannel := f.Channel
	if marginChannel == "" {
		marginChannel = channel.All()[0]
	}
	rule := s.effectiveRuleLocked(marginChannel)

	products := s.filterLocked(f)
	rows := make([]Row, 0, len(products))
	for _, p := range products {
		row := Row{
			Product:       p,
			Prices:        make(map[channel.Channel]catalog.PriceEntry, 3),
			Dirty:         []channel.Channel{},
			MarginChannel: marginChannel,
			Status:        StatusMissing,
		}
		for _, c := range channel.All() {
			k := catalog.Key{ProductID: p.ID, Channel: c}
			e := s.effectiveLocked(k)
			row.Prices[c] = e
			if s.isDirtyLocked(k) {
				row.Dirty = append(row.Dirty, c)
			}
			if e.Price.Positive() {
				row.Status = StatusOK
			}
		}
		if e := row.Prices[marginChannel]; e.Price.Valid {
			if m, ok := pricing.ComputeMargin(e.Price.Float64, p.AvgCost, rule); ok {
				row.MarginPercent = m.MarginPercent
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// BulkOptions configures ApplySuggestions.
type BulkOptions struct {
	Channel  channel.Channel      `json:"channel"`
	Rounding pricing.RoundingMode `json:"rounding"`
	Filter   Filter               `json:"filter"`
	// Overwrite also replaces cells that already have a positive price.
	Overwrite bool `json:"overwrite"`
}

// BulkResult counts what ApplySuggestions did.
type BulkResult struct {
	Changed      int `json:"changed"`
	Unchanged    int `json:"unchanged"`
	SkippedCost  int `json:"skippedNoCost"`
	SkippedPrice int `json:"skippedHasPrice"`
	BelowMinimum int `json:"belowMinimum"`
}

// ApplySuggestions fills the channel's cells of every filtered product with
// a price suggested for the channel's minimum margin. Products without a
// positive cost are skipped, and so are cells that already have a positive
// price unless Overwrite is set. Only cells whose effective value changed
// are counted.
func (s *Session) ApplySuggestions(opts BulkOptions) (BulkResult, error) {
	if !opts.Channel.Valid() {
		return BulkResult{}, fmt.Errorf("apply suggestions: %w: %q", channel.ErrUnknownChannel, opts.Channel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule := s.effectiveRuleLocked(opts.Channel)
	var res BulkResult

	for _, p := range s.filterLocked(opts.Filter) {
		if p.AvgCost <= 0 {
			res.SkippedCost++
			continue
		}

		k := catalog.Key{ProductID: p.ID, Channel: opts.Channel}
		cur := s.effectiveLocked(k)
		if cur.Price.Positive() && !opts.Overwrite {
			res.SkippedPrice++
			continue
		}

		sug, ok := pricing.Suggest(p.AvgCost, rule.MinMarginPercent, rule, opts.Rounding)
		if !ok {
			res.SkippedCost++
			continue
		}

		next := catalog.PriceEntry{
			Price:       catalog.NormalizeAmount(money.Some(sug.Price)),
			StrikePrice: catalog.NormalizeAmount(sug.StrikePrice),
		}
		if next.Equal(cur) {
			res.Unchanged++
			continue
		}
		if err := s.setDraftLocked(p.ID, opts.Channel, next.Price, next.StrikePrice); err != nil {
			return res, err
		}
		res.Changed++
		if sug.BelowMinimum {
			res.BelowMinimum++
		}
	}
	return res, nil
}
