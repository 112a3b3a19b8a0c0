package core_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// setupTestDB connects to a dedicated TEST database, wipes every table the
// reconciler touches, and seeds the shared catalog fixture. Set
// TEST_DATABASE_URL (schema applied via cmd/apply-migrations) to run the
// integration tests; they are skipped otherwise to protect live databases.
func setupTestDB(t *testing.T) (*pgxpool.Pool, context.Context) {
	t.Helper()
	_ = godotenv.Load("../../.env")

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE order_items, orders, products, bundles, client_inventory,
			locations, stock_levels, inventory_alerts, inventory_movements,
			shipments, shipstation_shipments, shipengine_labels, shipping_labels
		CASCADE;

		INSERT INTO locations (id, name, location_type) VALUES
			(1, 'Shelf A',    'Pickable'),
			(2, 'Back room',  'BackStock'),
			(3, 'Prod line',  'Production'),
			(4, 'Batch bay',  'Batch');

		INSERT INTO products (id, sku, name) VALUES
			(1, 'widget', 'Widget'),
			(2, 'gadget', 'Gadget');

		INSERT INTO bundles (id, sku, name) VALUES
			(1, 'kit', 'Widget Kit');

		INSERT INTO client_inventory (id, sku, client_id) VALUES
			(10, 'widget', 7),
			(11, 'gadget', 7);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool, ctx
}
