package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Simplici0/pricebook/internal/db"
)

func TestUpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer database.Close()

	for i := 0; i < 2; i++ {
		if err := Up(ctx, database.DB); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}

	v, err := Version(database.DB)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 2 {
		t.Fatalf("schema version = %d, want 2", v)
	}

	for _, table := range []string{"products", "product_inventory", "channel_rules", "product_prices"} {
		var n int
		if err := database.GetContext(ctx, &n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table); err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
		if n != 1 {
			t.Fatalf("table %s missing", table)
		}
	}
}
