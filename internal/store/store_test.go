package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/db"
	"github.com/Simplici0/pricebook/internal/migrations"
	"github.com/Simplici0/pricebook/internal/money"
	"github.com/Simplici0/pricebook/internal/seed"
)

func newTestStore(t *testing.T) (*Store, *sqlx.DB) {
	t.Helper()

	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "store-test.db"))
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := migrations.Up(ctx, database.DB); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if _, err := seed.Run(ctx, database, seed.Config{}); err != nil {
		t.Fatalf("run seed: %v", err)
	}
	return New(database, nil), database
}

func mustProduct(t *testing.T, s *Store, name, sku string, cost float64) int64 {
	t.Helper()

	id, err := s.CreateProduct(context.Background(), name, sku)
	if err != nil {
		t.Fatalf("create product %s: %v", sku, err)
	}
	if cost > 0 {
		if err := s.SetInventory(context.Background(), id, 3, cost); err != nil {
			t.Fatalf("set inventory %s: %v", sku, err)
		}
	}
	return id
}

func set(v float64) catalog.Field { return catalog.Set(money.Some(v)) }

func cleared() catalog.Field { return catalog.Set(money.Null()) }

func TestLoad_BackfillsAndDefaultsCost(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	withCost := mustProduct(t, s, "Vaso", "VAS-1", 10)
	noCost := mustProduct(t, s, "Abajur", "ABJ-1", 0)

	b, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(b.Products) != 2 {
		t.Fatalf("got %d products, want 2", len(b.Products))
	}
	if b.Products[0].ID != noCost || b.Products[0].AvgCost != 0 {
		t.Fatalf("product without inventory should read cost 0: %+v", b.Products[0])
	}
	if b.Products[1].ID != withCost || b.Products[1].AvgCost != 10 || b.Products[1].Stock != 3 {
		t.Fatalf("unexpected product: %+v", b.Products[1])
	}
	if len(b.Rules) != 3 {
		t.Fatalf("rules should cover every channel, got %v", b.Rules)
	}
	if len(b.Prices) != 0 {
		t.Fatalf("expected empty price table, got %v", b.Prices)
	}
}

func TestSavePrices_FieldSemantics(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := mustProduct(t, s, "Vaso", "VAS-1", 10)
	key := catalog.Key{ProductID: id, Channel: channel.Shopee}

	steps := []struct {
		name   string
		update catalog.Update
		want   catalog.PriceEntry
		exists bool
	}{
		{
			name:   "insert price only",
			update: catalog.Update{Price: set(21.9)},
			want:   catalog.PriceEntry{Price: money.Some(21.9)},
			exists: true,
		},
		{
			name:   "absent price is kept",
			update: catalog.Update{StrikePrice: set(31.904)},
			want:   catalog.PriceEntry{Price: money.Some(21.9), StrikePrice: money.Some(31.9)},
			exists: true,
		},
		{
			name:   "null clears one field",
			update: catalog.Update{Price: cleared()},
			want:   catalog.PriceEntry{StrikePrice: money.Some(31.9)},
			exists: true,
		},
		{
			name:   "clearing the last field removes the row",
			update: catalog.Update{StrikePrice: cleared()},
			exists: false,
		},
		{
			name:   "both null on a missing row is a no-op",
			update: catalog.Update{Price: cleared(), StrikePrice: cleared()},
			exists: false,
		},
	}

	for _, step := range steps {
		u := step.update
		u.ProductID = id
		u.Channel = channel.Shopee
		if err := s.SavePrices(ctx, []catalog.Update{u}); err != nil {
			t.Fatalf("%s: save: %v", step.name, err)
		}

		b, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("%s: load: %v", step.name, err)
		}
		got, ok := b.Prices[key]
		if ok != step.exists {
			t.Fatalf("%s: row exists = %v, want %v", step.name, ok, step.exists)
		}
		if ok && !got.Equal(step.want) {
			t.Fatalf("%s: got %+v, want %+v", step.name, got, step.want)
		}
	}
}

func TestSavePrices_BothNullDeletesRow(t *testing.T) {
	s, database := newTestStore(t)
	ctx := context.Background()
	id := mustProduct(t, s, "Vaso", "VAS-1", 10)

	if err := s.SavePrices(ctx, []catalog.Update{
		{ProductID: id, Channel: channel.MercadoLivre, Price: set(40), StrikePrice: set(55)},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SavePrices(ctx, []catalog.Update{
		{ProductID: id, Channel: channel.MercadoLivre, Price: cleared(), StrikePrice: cleared()},
	}); err != nil {
		t.Fatalf("clear: %v", err)
	}

	var n int
	if err := database.GetContext(ctx, &n, `SELECT COUNT(*) FROM product_prices`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected row to be deleted, %d left", n)
	}
}

func TestSavePrices_IsAtomic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := mustProduct(t, s, "Vaso", "VAS-1", 10)

	err := s.SavePrices(ctx, []catalog.Update{
		{ProductID: id, Channel: channel.Shopee, Price: set(20)},
		{ProductID: 9999, Channel: channel.Shopee, Price: set(20)},
	})
	if err == nil {
		t.Fatalf("expected foreign key failure for unknown product")
	}

	b, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(b.Prices) != 0 {
		t.Fatalf("failed batch must not leave partial writes: %v", b.Prices)
	}
}

func TestSaveRules(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rules := channel.RuleSet{
		channel.Shopee:       {FeePercent: 16, FixedFee: 5.5, MinMarginPercent: 18},
		channel.MercadoLivre: {FeePercent: 150, AverageDiscount: -2, StrikeMarkup: 10},
		channel.Presencial:   {},
	}
	if err := s.SaveRules(ctx, rules); err != nil {
		t.Fatalf("save rules: %v", err)
	}

	got, err := s.Rules(ctx)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if got[channel.Shopee] != rules[channel.Shopee] {
		t.Fatalf("shopee = %+v", got[channel.Shopee])
	}
	ml := got[channel.MercadoLivre]
	if ml.FeePercent != 99.99 || ml.AverageDiscount != 0 || ml.StrikeMarkup != 10 {
		t.Fatalf("ml rule should be clamped: %+v", ml)
	}
}

func TestSaveRules_RejectsIncompleteSet(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.SaveRules(context.Background(), channel.RuleSet{channel.Shopee: {FeePercent: 10}})
	if err == nil {
		t.Fatalf("expected error for incomplete rule set")
	}

	got, err := s.Rules(context.Background())
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if got[channel.Shopee].FeePercent != 0 {
		t.Fatalf("incomplete set must not be written: %+v", got[channel.Shopee])
	}
}

func TestCreateProduct_Validates(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.CreateProduct(context.Background(), " ", "SKU"); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("err = %v, want ErrInvalidProduct", err)
	}
	if err := s.SetInventory(context.Background(), 1, 0, -1); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("err = %v, want ErrInvalidProduct", err)
	}
}

func TestSavePrices_RollsBackOnExecError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer mockDB.Close()

	s := New(sqlx.NewDb(mockDB, "sqlite"), nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO product_prices").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM product_prices").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO product_prices").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.SavePrices(context.Background(), []catalog.Update{
		{ProductID: 1, Channel: channel.Shopee, Price: set(10)},
		{ProductID: 2, Channel: channel.Shopee, Price: set(12)},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveRules_RollsBackOnExecError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer mockDB.Close()

	s := New(sqlx.NewDb(mockDB, "sqlite"), nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO channel_rules").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO channel_rules").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	if err := s.SaveRules(context.Background(), channel.DefaultRules()); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
