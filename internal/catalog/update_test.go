package catalog

import (
	"encoding/json"
	"testing"

	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
)

func decodeRaw(t *testing.T, body string) []RawUpdate {
	t.Helper()
	var req struct {
		Updates []RawUpdate `json:"updates"`
	}
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return req.Updates
}

func TestNormalizeUpdates_FieldPresence(t *testing.T) {
	raw := decodeRaw(t, `{"updates":[
		{"productId":1,"channel":"shopee","price":21.9},
		{"productId":1,"channel":"ml","price":null,"strikePrice":"35.5"},
		{"productId":2,"channel":"PRESENCIAL","price":0,"strikePrice":-3}
	]}`)

	updates, rejected := NormalizeUpdates(raw)
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejections: %+v", rejected)
	}
	if len(updates) != 3 {
		t.Fatalf("got %d updates, want 3", len(updates))
	}

	first := updates[0]
	if !first.Price.Present || !first.Price.Amount.Equal(money.Some(21.9)) {
		t.Fatalf("price should be present: %+v", first.Price)
	}
	if first.StrikePrice.Present {
		t.Fatalf("absent strike price should stay absent")
	}

	second := updates[1]
	if second.Channel != channel.MercadoLivre {
		t.Fatalf("channel = %q", second.Channel)
	}
	if !second.Price.Present || second.Price.Amount.Valid {
		t.Fatalf("explicit null should be present and null: %+v", second.Price)
	}
	if !second.StrikePrice.Amount.Equal(money.Some(35.5)) {
		t.Fatalf("quoted number should parse: %+v", second.StrikePrice)
	}

	third := updates[2]
	if !third.Price.Present || third.Price.Amount.Valid || third.StrikePrice.Amount.Valid {
		t.Fatalf("non-positive values should clear: %+v", third)
	}
}

func TestNormalizeUpdates_RejectsBadItemsIndividually(t *testing.T) {
	raw := decodeRaw(t, `{"updates":[
		{"productId":1,"channel":"amazon","price":10},
		{"productId":1,"channel":"shopee","price":"abc"},
		{"productId":0,"channel":"shopee","price":10},
		{"productId":1,"channel":"shopee"},
		{"productId":1,"channel":"shopee","price":10.456}
	]}`)

	updates, rejected := NormalizeUpdates(raw)
	if len(rejected) != 4 {
		t.Fatalf("got %d rejections, want 4: %+v", len(rejected), rejected)
	}
	for i, r := range rejected {
		if r.Index != i {
			t.Fatalf("rejection %d has index %d", i, r.Index)
		}
	}
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if updates[0].Price.Amount.Float64 != 10.46 {
		t.Fatalf("price should be rounded to cents, got %v", updates[0].Price.Amount)
	}
}

func TestNormalizeUpdates_LooseIdentifiers(t *testing.T) {
	raw := decodeRaw(t, `{"updates":[
		{"productId":"7","channel":"shopee","price":19.9},
		{"productId":1,"channel":7,"price":10},
		{"productId":"abc","channel":"ml","price":10},
		{"productId":1.5,"channel":"ml","price":10},
		{"channel":"ml","price":10}
	]}`)

	updates, rejected := NormalizeUpdates(raw)
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if updates[0].ProductID != 7 || updates[0].Channel != channel.Shopee {
		t.Fatalf("numeric string id should be accepted: %+v", updates[0])
	}
	if len(rejected) != 4 {
		t.Fatalf("got %d rejections, want 4: %+v", len(rejected), rejected)
	}
	for i, r := range rejected {
		if r.Index != i+1 {
			t.Fatalf("rejection %d has index %d", i, r.Index)
		}
	}
}

func TestUpdateApply(t *testing.T) {
	cur := PriceEntry{Price: money.Some(10), StrikePrice: money.Some(15)}

	got := Update{Price: Set(money.Some(12))}.Apply(cur)
	if !got.Price.Equal(money.Some(12)) || !got.StrikePrice.Equal(money.Some(15)) {
		t.Fatalf("absent strike price must be kept: %+v", got)
	}

	got = Update{StrikePrice: Set(money.Null())}.Apply(cur)
	if !got.Price.Equal(money.Some(10)) || got.StrikePrice.Valid {
		t.Fatalf("present null must clear: %+v", got)
	}
}

func TestSortUpdates(t *testing.T) {
	updates := []Update{
		{ProductID: 2, Channel: channel.Shopee},
		{ProductID: 1, Channel: channel.Presencial},
		{ProductID: 1, Channel: channel.Shopee},
		{ProductID: 1, Channel: channel.MercadoLivre},
	}
	SortUpdates(updates)

	want := []Key{
		{1, channel.Shopee}, {1, channel.MercadoLivre}, {1, channel.Presencial}, {2, channel.Shopee},
	}
	for i, u := range updates {
		if u.Key() != want[i] {
			t.Fatalf("position %d = %v, want %v", i, u.Key(), want[i])
		}
	}
}

func TestUpdateMarshal(t *testing.T) {
	u := Update{ProductID: 7, Channel: channel.Shopee, Price: Set(money.Some(19.9)), StrikePrice: Set(money.Null())}
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"productId":7,"channel":"shopee","price":19.9,"strikePrice":null}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}
