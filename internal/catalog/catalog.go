// Package catalog holds the product and price-table types shared by the
// store, the editing sessions and the HTTP layer.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
)

// Product is the cost snapshot of one catalog item. A product without an
// inventory record has AvgCost 0.
type Product struct {
	ID      int64   `json:"id" db:"id"`
	Name    string  `json:"name" db:"name"`
	SKU     string  `json:"sku" db:"sku"`
	Stock   int     `json:"stock" db:"stock"`
	AvgCost float64 `json:"avgCost" db:"avg_cost"`
}

// Key addresses one cell of the price table.
type Key struct {
	ProductID int64
	Channel   channel.Channel
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s", k.ProductID, k.Channel)
}

// PriceEntry is the sale price ("Por") and the crossed-out reference price
// ("De") of one cell.
type PriceEntry struct {
	Price       money.Amount `json:"price"`
	StrikePrice money.Amount `json:"strikePrice"`
}

// Empty reports whether both fields are null.
func (e PriceEntry) Empty() bool {
	return !e.Price.Valid && !e.StrikePrice.Valid
}

// Equal compares both fields with null-aware equality.
func (e PriceEntry) Equal(o PriceEntry) bool {
	return e.Price.Equal(o.Price) && e.StrikePrice.Equal(o.StrikePrice)
}

// Prices is the persisted price table.
type Prices map[Key]PriceEntry

// Clone copies the table.
func (p Prices) Clone() Prices {
	out := make(Prices, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Bootstrap is everything an editing session needs from the store.
type Bootstrap struct {
	Products []Product
	Prices   Prices
	Rules    channel.RuleSet
}

type bootstrapJSON struct {
	Products          []Product                                 `json:"products"`
	PricesByProductID map[string]map[channel.Channel]PriceEntry `json:"pricesByProductId"`
	Rules             channel.RuleSet                           `json:"rules"`
}

// MarshalJSON renders the {products, pricesByProductId, rules} payload.
// Rules are backfilled so every channel is present.
func (b Bootstrap) MarshalJSON() ([]byte, error) {
	out := bootstrapJSON{
		Products:          b.Products,
		PricesByProductID: make(map[string]map[channel.Channel]PriceEntry),
		Rules:             b.Rules.Backfill(),
	}
	if out.Products == nil {
		out.Products = []Product{}
	}
	for k, e := range b.Prices {
		if e.Empty() {
			continue
		}
		id := strconv.FormatInt(k.ProductID, 10)
		if out.PricesByProductID[id] == nil {
			out.PricesByProductID[id] = make(map[channel.Channel]PriceEntry)
		}
		out.PricesByProductID[id][k.Channel] = e
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the payload produced by MarshalJSON.
func (b *Bootstrap) UnmarshalJSON(data []byte) error {
	var in bootstrapJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	prices := make(Prices)
	for rawID, byChannel := range in.PricesByProductID {
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return fmt.Errorf("decode prices: product id %q: %w", rawID, err)
		}
		for c, e := range byChannel {
			if !c.Valid() {
				return fmt.Errorf("decode prices: %w: %q", channel.ErrUnknownChannel, c)
			}
			prices[Key{ProductID: id, Channel: c}] = e
		}
	}

	*b = Bootstrap{Products: in.Products, Prices: prices, Rules: in.Rules.Backfill()}
	return nil
}

// SortProducts orders products by name, then id.
func SortProducts(products []Product) {
	sort.SliceStable(products, func(i, j int) bool {
		a, b := strings.ToLower(products[i].Name), strings.ToLower(products[j].Name)
		if a != b {
			return a < b
		}
		return products[i].ID < products[j].ID
	})
}

// ResolveProduct finds a product by exact SKU (case-insensitive), then by the
// first name containing query. An empty query resolves nothing.
func ResolveProduct(products []Product, query string) (Product, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Product{}, false
	}

	for _, p := range products {
		if strings.ToLower(p.SKU) == q {
			return p, true
		}
	}
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), q) {
			return p, true
		}
	}
	return Product{}, false
}
