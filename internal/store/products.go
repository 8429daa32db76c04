package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidProduct is returned when a product is missing its name or SKU.
var ErrInvalidProduct = errors.New("invalid product")

// CreateProduct inserts a product and returns its id.
func (s *Store) CreateProduct(ctx context.Context, name, sku string) (int64, error) {
	name = strings.TrimSpace(name)
	sku = strings.TrimSpace(sku)
	if name == "" || sku == "" {
		return 0, fmt.Errorf("create product: %w: name and sku are required", ErrInvalidProduct)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO products (name, sku) VALUES (?, ?)`, name, sku)
	if err != nil {
		return 0, fmt.Errorf("insert product %s: %w", sku, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read product id: %w", err)
	}
	return id, nil
}

// SetInventory records the stock and average unit cost of a product.
func (s *Store) SetInventory(ctx context.Context, productID int64, stock int, avgCost float64) error {
	if avgCost < 0 {
		return fmt.Errorf("set inventory: %w: negative cost", ErrInvalidProduct)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO product_inventory (product_id, stock, avg_cost, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (product_id) DO UPDATE SET
			stock = excluded.stock,
			avg_cost = excluded.avg_cost,
			updated_at = CURRENT_TIMESTAMP
	`, productID, stock, avgCost); err != nil {
		return fmt.Errorf("upsert inventory for product %d: %w", productID, err)
	}
	return nil
}
