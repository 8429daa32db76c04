// Package store persists the catalog cost ledger, the price table and the
// channel rules in SQLite.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
)

// Store is the SQLite implementation of the pricing persistence boundary.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func New(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

type priceRow struct {
	ProductID   int64        `db:"product_id"`
	Channel     string       `db:"channel"`
	Price       money.Amount `db:"price"`
	StrikePrice money.Amount `db:"strike_price"`
}

type ruleRow struct {
	Channel string `db:"channel"`
	channel.Rule
}

// Load reads products with their average cost, the price table and the
// channel rules. Missing rules are backfilled with zero values.
func (s *Store) Load(ctx context.Context) (catalog.Bootstrap, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return catalog.Bootstrap{}, err
	}

	var prices []priceRow
	if err := s.db.SelectContext(ctx, &prices, `
		SELECT product_id, channel, price, strike_price
		FROM product_prices
	`); err != nil {
		return catalog.Bootstrap{}, fmt.Errorf("list product prices: %w", err)
	}

	table := make(catalog.Prices, len(prices))
	for _, r := range prices {
		c, err := channel.Parse(r.Channel)
		if err != nil {
			s.logger.Warn("skipping price row with unknown channel",
				zap.Int64("product_id", r.ProductID), zap.String("channel", r.Channel))
			continue
		}
		entry := catalog.PriceEntry{Price: r.Price, StrikePrice: r.StrikePrice}
		if entry.Empty() {
			continue
		}
		table[catalog.Key{ProductID: r.ProductID, Channel: c}] = entry
	}

	rules, err := s.Rules(ctx)
	if err != nil {
		return catalog.Bootstrap{}, err
	}

	return catalog.Bootstrap{Products: products, Prices: table, Rules: rules}, nil
}

// ListProducts returns every product ordered by name. Products without an
// inventory record read as stock 0 and cost 0.
func (s *Store) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	products := []catalog.Product{}
	if err := s.db.SelectContext(ctx, &products, `
		SELECT
			p.id,
			p.name,
			p.sku,
			COALESCE(i.stock, 0) AS stock,
			COALESCE(i.avg_cost, 0) AS avg_cost
		FROM products p
		LEFT JOIN product_inventory i ON i.product_id = p.id
		ORDER BY p.name ASC, p.id ASC
	`); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// Rules returns the stored channel rules, backfilled for missing channels.
func (s *Store) Rules(ctx context.Context) (channel.RuleSet, error) {
	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT channel, fee_percent, fixed_fee, average_discount, seller_freight, strike_markup, min_margin_percent
		FROM channel_rules
	`); err != nil {
		return nil, fmt.Errorf("list channel rules: %w", err)
	}

	rs := channel.RuleSet{}
	for _, r := range rows {
		c, err := channel.Parse(r.Channel)
		if err != nil {
			continue
		}
		rs[c] = r.Rule
	}
	return rs.Backfill(), nil
}

// SavePrices applies a batch of validated updates in one transaction. A field
// that is not present keeps its stored value; an update that clears both
// fields removes the row. Any failure rolls back the whole batch.
func (s *Store) SavePrices(ctx context.Context, updates []catalog.Update) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save prices transaction: %w", err)
	}

	var upserted, deleted int
	for _, u := range updates {
		if !u.Channel.Valid() {
			_ = tx.Rollback()
			return fmt.Errorf("save price %s: %w", u.Key(), channel.ErrUnknownChannel)
		}

		price := cents(u.Price)
		strike := cents(u.StrikePrice)

		if price.Present && !price.Amount.Valid && strike.Present && !strike.Amount.Valid {
			n, err := deletePrice(ctx, tx, u.Key())
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			deleted += n
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO product_prices (product_id, channel, price, strike_price, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (product_id, channel) DO UPDATE SET
				price = CASE WHEN ? THEN excluded.price ELSE product_prices.price END,
				strike_price = CASE WHEN ? THEN excluded.strike_price ELSE product_prices.strike_price END,
				updated_at = CURRENT_TIMESTAMP
		`, u.ProductID, string(u.Channel), price.Amount, strike.Amount, price.Present, strike.Present); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert price %s: %w", u.Key(), err)
		}
		upserted++

		res, err := tx.ExecContext(ctx, `
			DELETE FROM product_prices
			WHERE product_id = ? AND channel = ? AND price IS NULL AND strike_price IS NULL
		`, u.ProductID, string(u.Channel))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("prune empty price %s: %w", u.Key(), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save prices transaction: %w", err)
	}

	s.logger.Debug("prices saved",
		zap.Int("updates", len(updates)),
		zap.Int("upserted", upserted),
		zap.Int("deleted", deleted))
	return nil
}

func deletePrice(ctx context.Context, tx *sqlx.Tx, key catalog.Key) (int, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM product_prices WHERE product_id = ? AND channel = ?`,
		key.ProductID, string(key.Channel))
	if err != nil {
		return 0, fmt.Errorf("delete price %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted price %s: %w", key, err)
	}
	return int(n), nil
}

func cents(f catalog.Field) catalog.Field {
	if !f.Amount.Valid {
		return f
	}
	f.Amount = money.Some(money.RoundCents(f.Amount.Float64))
	return f
}

// SaveRules replaces the rules of all three channels in one transaction.
// Values are clamped before writing; an incomplete set is rejected.
func (s *Store) SaveRules(ctx context.Context, rules channel.RuleSet) error {
	if err := rules.Complete(); err != nil {
		return fmt.Errorf("save channel rules: %w", err)
	}
	clamped := rules.Clamped()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save rules transaction: %w", err)
	}

	for _, c := range channel.All() {
		r := clamped[c]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channel_rules (
				channel, fee_percent, fixed_fee, average_discount, seller_freight, strike_markup, min_margin_percent, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (channel) DO UPDATE SET
				fee_percent = excluded.fee_percent,
				fixed_fee = excluded.fixed_fee,
				average_discount = excluded.average_discount,
				seller_freight = excluded.seller_freight,
				strike_markup = excluded.strike_markup,
				min_margin_percent = excluded.min_margin_percent,
				updated_at = CURRENT_TIMESTAMP
		`, string(c), r.FeePercent, r.FixedFee, r.AverageDiscount, r.SellerFreight, r.StrikeMarkup, r.MinMarginPercent); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert channel rule %s: %w", c, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save rules transaction: %w", err)
	}

	s.logger.Debug("channel rules saved", zap.Int("channels", len(clamped)))
	return nil
}
