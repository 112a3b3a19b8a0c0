package core_test

import (
	"context"
	"testing"

	"fulfillment-reconciler/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func newAlerts(pool *pgxpool.Pool) core.AlertService {
	logger := zap.NewNop()
	demand := core.NewDemandService(pool, logger, 100, 10)
	stock := core.NewStockService(pool, logger)
	return core.NewAlertService(pool, demand, stock, logger)
}

func seedOrderLine(t *testing.T, ctx context.Context, pool *pgxpool.Pool, sku string, qty int, status string) {
	t.Helper()
	if _, err := pool.Exec(ctx, `
		INSERT INTO order_items (sku, quantity, order_status) VALUES ($1, $2, $3)
	`, sku, qty, status); err != nil {
		t.Fatalf("Failed to seed order line: %v", err)
	}
}

func activeAlert(t *testing.T, ctx context.Context, pool *pgxpool.Pool, sku string) (alertType, severity string, found bool) {
	t.Helper()
	err := pool.QueryRow(ctx, `
		SELECT alert_type, severity FROM inventory_alerts
		WHERE message = $1 AND is_active
	`, sku).Scan(&alertType, &severity)
	if err != nil {
		return "", "", false
	}
	return alertType, severity, true
}

func TestAlerts_PurchaseThenSelfClear(t *testing.T) {
	pool, ctx := setupTestDB(t)

	// Demand 100, total supply 50: absolute shortfall.
	seedOrderLine(t, ctx, pool, "widget", 100, "awaiting_shipment")
	levelID := seedStock(t, ctx, pool, "client_product", 10, 1, 50, 50)

	svc := newAlerts(pool)
	catalog := loadCatalog(t, ctx, pool)
	if err := svc.Reconcile(ctx, catalog); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	alertType, severity, found := activeAlert(t, ctx, pool, "widget")
	if !found {
		t.Fatal("Expected an active alert for widget")
	}
	if alertType != "purchase" || severity != "high" {
		t.Errorf("Expected purchase/high, got %s/%s", alertType, severity)
	}

	// Re-running on unchanged inputs keeps exactly one active row.
	if err := svc.Reconcile(ctx, catalog); err != nil {
		t.Fatalf("Second reconcile failed: %v", err)
	}
	var active int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM inventory_alerts WHERE message = 'widget' AND is_active").Scan(&active); err != nil {
		t.Fatalf("Failed to count alerts: %v", err)
	}
	if active != 1 {
		t.Errorf("Expected one active alert, got %d", active)
	}

	// Stock arrives; the alert must self-clear (soft delete, row retained).
	if _, err := pool.Exec(ctx, "UPDATE stock_levels SET on_hand = 500, available = 500 WHERE id = $1", levelID); err != nil {
		t.Fatalf("Failed to raise stock: %v", err)
	}
	if err := svc.Reconcile(ctx, catalog); err != nil {
		t.Fatalf("Third reconcile failed: %v", err)
	}

	if _, _, found := activeAlert(t, ctx, pool, "widget"); found {
		t.Error("Expected alert deactivated once supply recovered")
	}
	var total int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM inventory_alerts WHERE message = 'widget'").Scan(&total); err != nil {
		t.Fatalf("Failed to count alerts: %v", err)
	}
	if total == 0 {
		t.Error("Expected soft-deleted alert row to remain")
	}
}

func TestAlerts_RestockWhenBackstockCanReplenish(t *testing.T) {
	pool, ctx := setupTestDB(t)

	// Demand 100; pickable 20, backstock 50, total 200.
	seedOrderLine(t, ctx, pool, "widget", 100, "awaiting_shipment")
	seedStock(t, ctx, pool, "client_product", 10, 1, 130, 20)
	seedStock(t, ctx, pool, "client_product", 10, 2, 50, 50)
	seedStock(t, ctx, pool, "client_product", 10, 3, 20, 20)

	svc := newAlerts(pool)
	if err := svc.Reconcile(ctx, loadCatalog(t, ctx, pool)); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	alertType, severity, found := activeAlert(t, ctx, pool, "widget")
	if !found {
		t.Fatal("Expected an active alert for widget")
	}
	if alertType != "restock" || severity != "medium" {
		t.Errorf("Expected restock/medium, got %s/%s", alertType, severity)
	}
}

func TestAlerts_PurchaseSupersedesRestock(t *testing.T) {
	pool, ctx := setupTestDB(t)

	seedOrderLine(t, ctx, pool, "widget", 100, "awaiting_shipment")
	pickable := seedStock(t, ctx, pool, "client_product", 10, 1, 120, 20)
	seedStock(t, ctx, pool, "client_product", 10, 2, 50, 50)

	svc := newAlerts(pool)
	catalog := loadCatalog(t, ctx, pool)
	if err := svc.Reconcile(ctx, catalog); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if alertType, _, _ := activeAlert(t, ctx, pool, "widget"); alertType != "restock" {
		t.Fatalf("Expected restock first, got %s", alertType)
	}

	// Supply collapses below demand: purchase replaces restock.
	if _, err := pool.Exec(ctx, "UPDATE stock_levels SET on_hand = 10, available = 5 WHERE id = $1", pickable); err != nil {
		t.Fatalf("Failed to drop stock: %v", err)
	}
	if err := svc.Reconcile(ctx, catalog); err != nil {
		t.Fatalf("Second reconcile failed: %v", err)
	}

	alertType, severity, found := activeAlert(t, ctx, pool, "widget")
	if !found {
		t.Fatal("Expected an active alert for widget")
	}
	if alertType != "purchase" || severity != "high" {
		t.Errorf("Expected purchase/high after supply collapse, got %s/%s", alertType, severity)
	}
	var activeRestock int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM inventory_alerts WHERE message = 'widget' AND alert_type = 'restock' AND is_active").Scan(&activeRestock); err != nil {
		t.Fatalf("Failed to count restock alerts: %v", err)
	}
	if activeRestock != 0 {
		t.Errorf("Expected restock alert deactivated, got %d active", activeRestock)
	}
}

func TestAlerts_QueuedDemandIgnoresOtherStatuses(t *testing.T) {
	pool, ctx := setupTestDB(t)

	seedOrderLine(t, ctx, pool, "widget", 100, "shipped")
	seedOrderLine(t, ctx, pool, "widget", 100, "cancelled")
	seedStock(t, ctx, pool, "client_product", 10, 1, 50, 50)

	// A stale alert left over from when demand existed.
	if _, err := pool.Exec(ctx, `
		INSERT INTO inventory_alerts (client_id, item_type, alert_type, message, severity, is_active)
		VALUES (7, 'client_product', 'purchase', 'widget', 'high', true)
	`); err != nil {
		t.Fatalf("Failed to seed alert: %v", err)
	}

	svc := newAlerts(pool)
	if err := svc.Reconcile(ctx, loadCatalog(t, ctx, pool)); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if _, _, found := activeAlert(t, ctx, pool, "widget"); found {
		t.Error("Expected stale alert cleared once demand left the queue")
	}
}
