package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// BuildSupplyView folds raw stock rows into the three per-SKU supply figures
// the alert manager consumes. itemSKU maps an opaque stock item id to its
// normalized SKU; rows with no mapping are orphaned stock and are dropped.
// Pure — no side effects.
func BuildSupplyView(rows []StockRow, itemSKU map[int]string) (map[string]SupplyView, int) {
	supply := make(map[string]SupplyView)
	orphaned := 0
	for _, row := range rows {
		sku, ok := itemSKU[row.ItemID]
		if !ok || sku == "" {
			orphaned++
			continue
		}

		view := supply[sku]
		view.Total = view.Total.Add(row.OnHand)
		switch row.LocationType {
		case LocationBackStock:
			view.Backstock = view.Backstock.Add(row.OnHand)
		case LocationProduction:
			// production stock is neither pickable nor backstock
		default:
			view.PickableAvailable = view.PickableAvailable.Add(row.Available)
		}
		supply[sku] = view
	}
	return supply, orphaned
}

// StockService computes the per-SKU supply view from the store.
type StockService interface {
	SupplyBySKU(ctx context.Context) (map[string]SupplyView, error)
}

type stockService struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewStockService(pool *pgxpool.Pool, logger *zap.Logger) StockService {
	return &stockService{pool: pool, logger: logger}
}

func (s *stockService) SupplyBySKU(ctx context.Context) (map[string]SupplyView, error) {
	itemSKU := make(map[int]string)
	rows, err := s.pool.Query(ctx, "SELECT id, sku FROM client_inventory")
	if err != nil {
		return nil, fmt.Errorf("failed to query client inventory: %w", err)
	}
	for rows.Next() {
		var id int
		var sku string
		if err := rows.Scan(&id, &sku); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan client inventory row: %w", err)
		}
		itemSKU[id] = NormalizeSKU(sku)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating client inventory rows: %w", err)
	}

	stockRows, err := s.loadStockRows(ctx)
	if err != nil {
		return nil, err
	}

	supply, orphaned := BuildSupplyView(stockRows, itemSKU)
	if orphaned > 0 {
		s.logger.Warn("dropped stock rows with no client inventory mapping", zap.Int("count", orphaned))
	}
	return supply, nil
}

func (s *stockService) loadStockRows(ctx context.Context) ([]StockRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sl.item_type, sl.item_id, sl.on_hand, sl.available, sl.location_id, l.location_type
		FROM stock_levels sl
		JOIN locations l ON l.id = sl.location_id
		WHERE sl.item_type = $1
	`, ItemTypeClientProduct)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	defer rows.Close()

	var out []StockRow
	for rows.Next() {
		var r StockRow
		if err := rows.Scan(&r.ItemType, &r.ItemID, &r.OnHand, &r.Available, &r.LocationID, &r.LocationType); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock levels: %w", err)
	}
	return out, nil
}
