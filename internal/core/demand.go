package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AggregateDemand resolves each open order line to its base SKU and sums
// quantities. Lines whose SKU resolves to an empty base cannot be actioned
// and are dropped; the drop count is returned for logging. Pure — no side
// effects.
func AggregateDemand(rows []OrderItemRow, catalog *Catalog) (map[string]decimal.Decimal, int) {
	demand := make(map[string]decimal.Decimal)
	dropped := 0
	for _, row := range rows {
		res := catalog.Resolve(row.SKU)
		if res.BaseSKU == "" {
			dropped++
			continue
		}
		demand[res.BaseSKU] = demand[res.BaseSKU].Add(row.Quantity)
	}
	return demand, dropped
}

// DemandService aggregates queued order demand per base SKU.
type DemandService interface {
	QueuedDemand(ctx context.Context, catalog *Catalog) (map[string]decimal.Decimal, error)
}

type demandService struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	pageSize int
	maxPages int
}

func NewDemandService(pool *pgxpool.Pool, logger *zap.Logger, pageSize, maxPages int) DemandService {
	return &demandService{pool: pool, logger: logger, pageSize: pageSize, maxPages: maxPages}
}

// QueuedDemand pages through awaiting_shipment order lines and folds them
// into a baseSKU → total queued quantity map.
func (s *demandService) QueuedDemand(ctx context.Context, catalog *Catalog) (map[string]decimal.Decimal, error) {
	demand := make(map[string]decimal.Decimal)
	dropped := 0

	for page := 0; page < s.maxPages; page++ {
		rows, err := s.pool.Query(ctx, `
			SELECT sku, quantity, order_status
			FROM order_items
			WHERE order_status = 'awaiting_shipment'
			ORDER BY id
			LIMIT $1 OFFSET $2
		`, s.pageSize, page*s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to query order items page %d: %w", page, err)
		}

		var batch []OrderItemRow
		for rows.Next() {
			var r OrderItemRow
			if err := rows.Scan(&r.SKU, &r.Quantity, &r.OrderStatus); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan order item: %w", err)
			}
			batch = append(batch, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating order items: %w", err)
		}

		pageDemand, pageDropped := AggregateDemand(batch, catalog)
		for sku, qty := range pageDemand {
			demand[sku] = demand[sku].Add(qty)
		}
		dropped += pageDropped

		if len(batch) < s.pageSize {
			break
		}
	}

	if dropped > 0 {
		s.logger.Warn("dropped order lines with unresolvable SKUs", zap.Int("count", dropped))
	}
	return demand, nil
}
