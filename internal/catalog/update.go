package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
)

// ErrNoValidUpdates is returned when a batch has nothing left to apply.
var ErrNoValidUpdates = errors.New("no valid updates")

// Field is one side of a price update. Present is false when the field was
// absent from the request, which leaves the stored value unchanged. A present
// null clears it.
type Field struct {
	Present bool
	Amount  money.Amount
}

// Set returns a present field holding a.
func Set(a money.Amount) Field {
	return Field{Present: true, Amount: a}
}

func (f Field) MarshalJSON() ([]byte, error) {
	return f.Amount.MarshalJSON()
}

func (f *Field) UnmarshalJSON(data []byte) error {
	f.Present = true
	return f.Amount.UnmarshalJSON(data)
}

// Update is a validated change to one price-table cell.
type Update struct {
	ProductID   int64           `json:"productId"`
	Channel     channel.Channel `json:"channel"`
	Price       Field           `json:"price"`
	StrikePrice Field           `json:"strikePrice"`
}

// Key returns the cell the update targets.
func (u Update) Key() Key {
	return Key{ProductID: u.ProductID, Channel: u.Channel}
}

// Apply merges the update into the current entry.
func (u Update) Apply(cur PriceEntry) PriceEntry {
	if u.Price.Present {
		cur.Price = u.Price.Amount
	}
	if u.StrikePrice.Present {
		cur.StrikePrice = u.StrikePrice.Amount
	}
	return cur
}

// RawUpdate is an update as received on the wire, before validation. Every
// field is kept raw so a malformed item is rejected on its own.
type RawUpdate struct {
	ProductID   json.RawMessage `json:"productId"`
	Channel     json.RawMessage `json:"channel"`
	Price       json.RawMessage `json:"price"`
	StrikePrice json.RawMessage `json:"strikePrice"`
}

// Rejected describes an item dropped by NormalizeUpdates.
type Rejected struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// NormalizeUpdates validates raw items one by one. An item with an unknown
// channel, a bad product id or a non-numeric value is rejected on its own
// without affecting the rest. Values <= 0 become null and values are rounded
// to cents. Items with neither field present are skipped.
func NormalizeUpdates(raw []RawUpdate) ([]Update, []Rejected) {
	var (
		out      []Update
		rejected []Rejected
	)
	for i, r := range raw {
		u, err := normalize(r)
		if err != nil {
			rejected = append(rejected, Rejected{Index: i, Reason: err.Error()})
			continue
		}
		if !u.Price.Present && !u.StrikePrice.Present {
			rejected = append(rejected, Rejected{Index: i, Reason: "nothing to update"})
			continue
		}
		out = append(out, u)
	}
	return out, rejected
}

func normalize(r RawUpdate) (Update, error) {
	id, err := parseProductID(r.ProductID)
	if err != nil {
		return Update{}, err
	}
	c, err := parseChannel(r.Channel)
	if err != nil {
		return Update{}, err
	}
	price, err := normalizeField(r.Price)
	if err != nil {
		return Update{}, fmt.Errorf("price: %w", err)
	}
	strike, err := normalizeField(r.StrikePrice)
	if err != nil {
		return Update{}, fmt.Errorf("strikePrice: %w", err)
	}
	return Update{ProductID: id, Channel: c, Price: price, StrikePrice: strike}, nil
}

// parseProductID accepts a JSON integer or a string holding one.
func parseProductID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	text := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("invalid product id %s", raw)
		}
	}
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %s", raw)
	}
	return id, nil
}

func parseChannel(raw json.RawMessage) (channel.Channel, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", fmt.Errorf("%w: %s", channel.ErrUnknownChannel, bytes.TrimSpace(raw))
	}
	return channel.Parse(name)
}

func normalizeField(raw json.RawMessage) (Field, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Field{}, nil
	}
	var a money.Amount
	if err := a.UnmarshalJSON(raw); err != nil {
		return Field{}, err
	}
	return Set(NormalizeAmount(a)), nil
}

// NormalizeAmount maps values <= 0 to null and rounds the rest to cents.
func NormalizeAmount(a money.Amount) money.Amount {
	if !a.Positive() {
		return money.Null()
	}
	return money.Some(money.RoundCents(a.Float64))
}

// SortUpdates orders updates by product, then by channel display order.
func SortUpdates(updates []Update) {
	order := make(map[channel.Channel]int)
	for i, c := range channel.All() {
		order[c] = i
	}
	sort.SliceStable(updates, func(i, j int) bool {
		if updates[i].ProductID != updates[j].ProductID {
			return updates[i].ProductID < updates[j].ProductID
		}
		return order[updates[i].Channel] < order[updates[j].Channel]
	})
}
