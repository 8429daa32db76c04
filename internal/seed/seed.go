package seed

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Simplici0/pricebook/internal/channel"
)

// Config contains the values required by startup seed.
type Config struct {
	// Demo also inserts a small sample catalog with inventory costs.
	Demo bool
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

type demoProduct struct {
	name    string
	sku     string
	stock   int
	avgCost float64
}

var demoCatalog = []demoProduct{
	{name: "Vaso Geométrico P", sku: "VAS-GEO-P", stock: 12, avgCost: 10},
	{name: "Vaso Geométrico G", sku: "VAS-GEO-G", stock: 5, avgCost: 18.4},
	{name: "Suporte de Headset", sku: "SUP-HEAD", stock: 20, avgCost: 22.5},
	{name: "Chaveiro Personalizado", sku: "CHV-PERS", stock: 150, avgCost: 1.35},
	{name: "Luminária Lua", sku: "LUM-LUA", stock: 0, avgCost: 0},
}

// Run executes the startup seed in an idempotent way.
func Run(ctx context.Context, db *sqlx.DB, cfg Config) (Stats, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}

	if err := ensureChannelRules(ctx, tx, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if cfg.Demo {
		if err := ensureDemoCatalog(ctx, tx, &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

// ensureChannelRules creates one zero rule per channel. Existing rules are
// never touched.
func ensureChannelRules(ctx context.Context, tx *sqlx.Tx, stats *Stats) error {
	for _, c := range channel.All() {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO channel_rules (channel) VALUES (?)
			ON CONFLICT (channel) DO NOTHING
		`, string(c))
		if err != nil {
			return fmt.Errorf("insert channel rule %s: %w", c, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("count channel rule %s insert: %w", c, err)
		}
		stats.Inserts += int(n)
	}
	return nil
}

func ensureDemoCatalog(ctx context.Context, tx *sqlx.Tx, stats *Stats) error {
	for _, p := range demoCatalog {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM products WHERE sku = ? LIMIT 1)`, p.sku); err != nil {
			return fmt.Errorf("check demo product %s existence: %w", p.sku, err)
		}
		if exists {
			continue
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO products (name, sku) VALUES (?, ?)`, p.name, p.sku)
		if err != nil {
			return fmt.Errorf("insert demo product %s: %w", p.sku, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read demo product %s id: %w", p.sku, err)
		}
		stats.Inserts++

		if p.avgCost == 0 && p.stock == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO product_inventory (product_id, stock, avg_cost)
			VALUES (?, ?, ?)
		`, id, p.stock, p.avgCost); err != nil {
			return fmt.Errorf("insert demo inventory %s: %w", p.sku, err)
		}
		stats.Inserts++
	}
	return nil
}
