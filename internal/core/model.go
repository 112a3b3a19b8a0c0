package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Location types partition stock into supply classes. Pickable supply is
// everything that is not backstock or production.
const (
	LocationBackStock  = "BackStock"
	LocationProduction = "Production"
	LocationBatch      = "Batch"
)

// Item types as stored on stock_levels and inventory_alerts.
const (
	ItemTypeClientProduct = "client_product"
	ItemTypeProduct       = "product"
)

// CatalogEntry is a product or bundle row, keyed by its normalized SKU.
type CatalogEntry struct {
	ID   int
	SKU  string
	Name string
}

// ClientItem maps an opaque inventory item id to a SKU and its owning client.
type ClientItem struct {
	ID       int
	SKU      string
	ClientID int
}

// OrderItemRow is a single order line as read from the store.
type OrderItemRow struct {
	SKU         string
	Quantity    decimal.Decimal
	OrderStatus string
}

// StockRow is a stock_levels row joined with its location's type.
type StockRow struct {
	ItemType     string
	ItemID       int
	OnHand       decimal.Decimal
	Available    decimal.Decimal
	LocationID   int
	LocationType string
}

// SupplyView is the per-SKU supply summary the alert manager consumes.
type SupplyView struct {
	PickableAvailable decimal.Decimal // available at locations that are neither BackStock nor Production
	Backstock         decimal.Decimal // on_hand at BackStock locations
	Total             decimal.Decimal // on_hand everywhere
}

// Movement is an inventory_movements row. It doubles as the idempotency
// marker for shipment-driven stock deductions: ReconciledAt (or, on legacy
// rows, the reconcile stamp inside Notes) proves the deduction already ran.
type Movement struct {
	ID            int
	SKU           string
	ReferenceType string
	ReferenceID   string
	Reason        string
	Notes         string
	CreatedAt     time.Time
	ReconciledAt  *time.Time
}

// OrderRef identifies an order during tracking backfill.
type OrderRef struct {
	ID          int
	OrderNumber string
	StoreID     *int
	ExternalID  *int64
}
