package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconcileStamp is appended to a marker's notes when its shipment's stock
// deduction has been applied. The structured reconciled_at column is the
// authoritative signal; the stamp keeps legacy rows written by the old cron
// recognizable, so the skip check honors either.
const ReconcileStamp = "Reconciled via cron"

// DeductService applies compensating stock deductions for shipped goods,
// exactly once per shipment-SKU pair. There is no transaction spanning the
// read/compute/write steps; correctness is anchored on a single durable
// marker (an inventory movement) checked before and stamped after every
// deduction. A line with no marker is never deducted — under-deduction is
// preferred over double-deduction on the next run.
type DeductService interface {
	Reconcile(ctx context.Context, catalog *Catalog) error
}

type deductService struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	lookback time.Duration
	pageSize int
	maxPages int
}

func NewDeductService(pool *pgxpool.Pool, logger *zap.Logger, lookback time.Duration, pageSize, maxPages int) DeductService {
	return &deductService{pool: pool, logger: logger, lookback: lookback, pageSize: pageSize, maxPages: maxPages}
}

type shipmentPage struct {
	ID          string
	OrderNumber string
	Items       []byte
}

func (s *deductService) Reconcile(ctx context.Context, catalog *Catalog) error {
	since := time.Now().Add(-s.lookback)
	var deducted, skipped int

	for page := 0; page < s.maxPages; page++ {
		batch, err := s.fetchPage(ctx, since, page)
		if err != nil {
			// A failed page is abandoned; the next scheduled run retries.
			s.logger.Error("failed to fetch shipment page", zap.Int("page", page), zap.Error(err))
			break
		}

		for _, shipment := range batch {
			d, sk := s.reconcileShipment(ctx, catalog, shipment)
			deducted += d
			skipped += sk
		}

		if len(batch) < s.pageSize {
			break
		}
	}

	s.logger.Info("shipment deduction pass complete",
		zap.Int("deducted", deducted), zap.Int("skipped", skipped))
	return nil
}

func (s *deductService) fetchPage(ctx context.Context, since time.Time, page int) ([]shipmentPage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(order_number, ''), items
		FROM shipments
		WHERE voided = false AND created_at > $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, since, s.pageSize, page*s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query shipments: %w", err)
	}
	defer rows.Close()

	var out []shipmentPage
	for rows.Next() {
		var sp shipmentPage
		if err := rows.Scan(&sp.ID, &sp.OrderNumber, &sp.Items); err != nil {
			return nil, fmt.Errorf("failed to scan shipment: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// reconcileShipment processes one shipment and returns (deducted, skipped)
// line counts. Every failure mode skips the single line, never the batch.
func (s *deductService) reconcileShipment(ctx context.Context, catalog *Catalog, shipment shipmentPage) (int, int) {
	items, err := ParseLineItems(shipment.Items)
	if err != nil {
		s.logger.Warn("skipping shipment with malformed line items",
			zap.String("shipment_id", shipment.ID), zap.Error(err))
		return 0, 1
	}
	quantities := AggregateLineItems(items, catalog)
	if len(quantities) == 0 {
		return 0, 0
	}

	// Deterministic order across runs.
	skus := make([]string, 0, len(quantities))
	for sku := range quantities {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	var deducted, skipped int
	for _, sku := range skus {
		qty := quantities[sku]
		log := s.logger.With(zap.String("shipment_id", shipment.ID), zap.String("sku", sku))

		marker, err := s.findMarker(ctx, shipment.ID, shipment.OrderNumber, sku)
		if err != nil {
			log.Error("failed to look up idempotency marker", zap.Error(err))
			skipped++
			continue
		}
		if marker == nil {
			// No durable marker, no deduction: stamping is what prevents a
			// double-deduction on the next run.
			log.Warn("no inventory movement marker for shipment line, skipping")
			skipped++
			continue
		}
		if marker.ReconciledAt != nil || strings.Contains(marker.Notes, ReconcileStamp) {
			skipped++
			continue
		}

		itemType, itemID, ok := resolveStockIdentity(catalog, sku)
		if !ok {
			log.Warn("shipment line SKU has no catalog identity, skipping")
			skipped++
			continue
		}

		levelID, available, err := s.pickStockRow(ctx, itemType, itemID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				log.Warn("no batch/production stock row for shipment line, skipping")
			} else {
				log.Error("failed to pick stock row", zap.Error(err))
			}
			skipped++
			continue
		}
		if available.LessThan(qty) {
			log.Warn("insufficient supply at batch/production location, skipping",
				zap.String("available", available.String()), zap.String("needed", qty.String()))
			skipped++
			continue
		}

		if _, err := s.pool.Exec(ctx,
			"UPDATE stock_levels SET on_hand = on_hand - $1 WHERE id = $2",
			qty, levelID,
		); err != nil {
			log.Error("failed to decrement stock", zap.Error(err))
			skipped++
			continue
		}

		// The decrement above and this stamp are separate statements. A crash
		// between them leaves an un-stamped deduction; accepted risk window,
		// surfaced by logs rather than silently masked.
		if err := s.stampMarker(ctx, marker.ID, sku); err != nil {
			log.Error("stock decremented but marker stamp failed", zap.Int("movement_id", marker.ID), zap.Error(err))
			skipped++
			continue
		}

		deducted++
	}
	return deducted, skipped
}

// findMarker locates the inventory movement that anchors idempotency for one
// shipment line. The structured reference (reference_type=shipment) wins;
// legacy rows that only mention the order number in free text are matched
// best-effort. A marker whose sku column is already set for a different SKU
// is not eligible.
func (s *deductService) findMarker(ctx context.Context, shipmentID, orderNumber, sku string) (*Movement, error) {
	m, err := s.scanMarker(ctx, `
		SELECT id, COALESCE(sku, ''), COALESCE(reference_type, ''), COALESCE(reference_id, ''),
		       COALESCE(reason, ''), COALESCE(notes, ''), created_at, reconciled_at
		FROM inventory_movements
		WHERE reference_type = 'shipment' AND reference_id = $1
		  AND (COALESCE(sku, '') = '' OR sku = $2)
		ORDER BY (sku = $2) DESC NULLS LAST, created_at DESC
		LIMIT 1
	`, shipmentID, sku)
	if err != nil || m != nil {
		return m, err
	}
	if orderNumber == "" {
		return nil, nil
	}
	return s.scanMarker(ctx, `
		SELECT id, COALESCE(sku, ''), COALESCE(reference_type, ''), COALESCE(reference_id, ''),
		       COALESCE(reason, ''), COALESCE(notes, ''), created_at, reconciled_at
		FROM inventory_movements
		WHERE reason = 'order_shipment'
		  AND notes LIKE '%' || $1 || '%'
		  AND (COALESCE(sku, '') = '' OR sku = $2)
		ORDER BY (sku = $2) DESC NULLS LAST, created_at DESC
		LIMIT 1
	`, orderNumber, sku)
}

func (s *deductService) scanMarker(ctx context.Context, query string, args ...any) (*Movement, error) {
	var m Movement
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&m.ID, &m.SKU, &m.ReferenceType, &m.ReferenceID,
		&m.Reason, &m.Notes, &m.CreatedAt, &m.ReconciledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory movement: %w", err)
	}
	return &m, nil
}

// resolveStockIdentity maps a base SKU to the stock identity deductions apply
// to: the owning client's inventory item when one exists, else the bare
// product. Bundles and unresolved SKUs have no stockable identity.
func resolveStockIdentity(catalog *Catalog, sku string) (string, int, bool) {
	if ci, ok := catalog.ClientItem(sku); ok {
		return ItemTypeClientProduct, ci.ID, true
	}
	res := catalog.Resolve(sku)
	if res.Match == MatchProduct && res.Entity != nil {
		return ItemTypeProduct, res.Entity.ID, true
	}
	return "", 0, false
}

// pickStockRow selects the single best supply row: batch/production stock
// ordered by available quantity descending.
func (s *deductService) pickStockRow(ctx context.Context, itemType string, itemID int) (int, decimal.Decimal, error) {
	var id int
	var available decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT sl.id, sl.available
		FROM stock_levels sl
		JOIN locations l ON l.id = sl.location_id
		WHERE sl.item_type = $1 AND sl.item_id = $2 AND l.location_type = ANY($3)
		ORDER BY sl.available DESC
		LIMIT 1
	`, itemType, itemID, []string{LocationBatch, LocationProduction}).Scan(&id, &available)
	return id, available, err
}

func (s *deductService) stampMarker(ctx context.Context, movementID int, sku string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inventory_movements
		SET reconciled_at = NOW(),
		    notes = TRIM(BOTH FROM COALESCE(notes, '') || ' ' || $2),
		    sku = CASE WHEN COALESCE(sku, '') = '' THEN $3 ELSE sku END
		WHERE id = $1
	`, movementID, ReconcileStamp, sku)
	if err != nil {
		return fmt.Errorf("failed to stamp movement %d: %w", movementID, err)
	}
	return nil
}
