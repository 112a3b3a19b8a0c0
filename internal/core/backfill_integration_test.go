package core_test

import (
	"testing"
	"time"

	"fulfillment-reconciler/internal/core"

	"go.uber.org/zap"
)

func TestBackfill_ShipStationWinsOverLaterSources(t *testing.T) {
	pool, ctx := setupTestDB(t)
	orderID := seedOrder(t, ctx, pool, "SO-3000", nil, "shipped")

	// Both ShipStation and ShipEngine know the order; priority says
	// ShipStation's fact is applied.
	_, err := pool.Exec(ctx, `
		INSERT INTO shipstation_shipments (shipment_id, order_number, tracking_number, carrier_code, ship_date, created_at)
		VALUES ('ss-3', 'SO-3000', 'T-SS', 'ups', NOW(), NOW());
		INSERT INTO shipengine_labels (label_id, order_number, tracking_number, carrier_code, ship_date, created_at)
		VALUES ('se-3', 'SO-3000', 'T-SE', 'fedex', NOW(), NOW());
	`)
	if err != nil {
		t.Fatalf("Failed to seed events: %v", err)
	}

	svc := core.NewBackfillService(pool, zap.NewNop(), 100, 10)
	if err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	var tracking string
	var shipDate *time.Time
	err = pool.QueryRow(ctx, "SELECT tracking_number, ship_date FROM orders WHERE id = $1", orderID).Scan(&tracking, &shipDate)
	if err != nil {
		t.Fatalf("Failed to read order: %v", err)
	}
	if tracking != "T-SS" {
		t.Errorf("Expected ShipStation tracking T-SS, got %q", tracking)
	}
	if shipDate == nil {
		t.Error("Expected ship_date applied")
	}

	// A minimal shipment row must now exist for the found tracking number.
	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM shipments WHERE tracking_number = 'T-SS'").Scan(&count); err != nil {
		t.Fatalf("Failed to count shipments: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected shipment row for T-SS, got %d", count)
	}
}

func TestBackfill_FallsThroughToLabelLedger(t *testing.T) {
	pool, ctx := setupTestDB(t)
	orderID := seedOrder(t, ctx, pool, "SO-4000", nil, "shipped")

	_, err := pool.Exec(ctx, `
		INSERT INTO shipping_labels (order_reference, tracking_number, carrier, ship_date, created_at)
		VALUES ('SO-4000', 'T-LBL', 'usps', NOW(), NOW())
	`)
	if err != nil {
		t.Fatalf("Failed to seed label: %v", err)
	}

	svc := core.NewBackfillService(pool, zap.NewNop(), 100, 10)
	if err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	var tracking string
	if err := pool.QueryRow(ctx, "SELECT tracking_number FROM orders WHERE id = $1", orderID).Scan(&tracking); err != nil {
		t.Fatalf("Failed to read order: %v", err)
	}
	if tracking != "T-LBL" {
		t.Errorf("Expected ledger tracking T-LBL, got %q", tracking)
	}
}

func TestBackfill_IgnoresOrdersWithTrackingOrUnshipped(t *testing.T) {
	pool, ctx := setupTestDB(t)

	withTracking := seedOrder(t, ctx, pool, "SO-5000", nil, "shipped")
	if _, err := pool.Exec(ctx, "UPDATE orders SET tracking_number = 'KEEP' WHERE id = $1", withTracking); err != nil {
		t.Fatalf("Failed to set tracking: %v", err)
	}
	seedOrder(t, ctx, pool, "SO-5001", nil, "awaiting_shipment")

	_, err := pool.Exec(ctx, `
		INSERT INTO shipstation_shipments (shipment_id, order_number, tracking_number, ship_date, created_at)
		VALUES ('ss-5a', 'SO-5000', 'T-NEW', NOW(), NOW()),
		       ('ss-5b', 'SO-5001', 'T-NEW2', NOW(), NOW())
	`)
	if err != nil {
		t.Fatalf("Failed to seed events: %v", err)
	}

	svc := core.NewBackfillService(pool, zap.NewNop(), 100, 10)
	if err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	var tracking string
	if err := pool.QueryRow(ctx, "SELECT tracking_number FROM orders WHERE id = $1", withTracking).Scan(&tracking); err != nil {
		t.Fatalf("Failed to read order: %v", err)
	}
	if tracking != "KEEP" {
		t.Errorf("Expected existing tracking preserved, got %q", tracking)
	}

	var unshippedTracking *string
	if err := pool.QueryRow(ctx, "SELECT tracking_number FROM orders WHERE order_number = 'SO-5001'").Scan(&unshippedTracking); err != nil {
		t.Fatalf("Failed to read order: %v", err)
	}
	if unshippedTracking != nil {
		t.Errorf("Expected unshipped order untouched, got %q", *unshippedTracking)
	}
}
