package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// trackingFact is what a single source knows about a shipped order.
type trackingFact struct {
	TrackingNumber string
	ShipDate       *time.Time
	CarrierCode    *string
	Source         string
}

// trackingStrategy is one way to find tracking facts for an order. The
// backfiller tries strategies in declaration order and stops at the first
// hit, which makes the source-priority policy explicit and testable instead
// of burying it in nested conditionals.
type trackingStrategy struct {
	name string
	find func(ctx context.Context, order OrderRef) (*trackingFact, error)
}

// BackfillService repairs orders flagged shipped but missing both tracking
// number and ship date, searching ShipStation, then ShipEngine, then the
// label-issuance ledger.
type BackfillService interface {
	Reconcile(ctx context.Context) error
}

type backfillService struct {
	pool       *pgxpool.Pool
	logger     *zap.Logger
	pageSize   int
	maxPages   int
	strategies []trackingStrategy
}

func NewBackfillService(pool *pgxpool.Pool, logger *zap.Logger, pageSize, maxPages int) BackfillService {
	s := &backfillService{pool: pool, logger: logger, pageSize: pageSize, maxPages: maxPages}
	s.strategies = []trackingStrategy{
		{name: "shipstation_by_order_id", find: s.shipStationByOrderID},
		{name: "shipstation_by_order_number", find: s.shipStationByOrderNumber},
		{name: "shipengine_by_order_number", find: s.shipEngineByOrderNumber},
		{name: "label_ledger_by_reference", find: s.labelLedgerByReference},
	}
	return s
}

func (s *backfillService) Reconcile(ctx context.Context) error {
	var repaired, unmatched int

	for page := 0; page < s.maxPages; page++ {
		orders, err := s.fetchShippedWithoutTracking(ctx, page)
		if err != nil {
			s.logger.Error("failed to fetch orders page", zap.Int("page", page), zap.Error(err))
			break
		}

		for _, order := range orders {
			fact, strategyName := s.findFact(ctx, order)
			if fact == nil {
				unmatched++
				continue
			}

			if err := s.applyFact(ctx, order, fact); err != nil {
				s.logger.Error("failed to apply tracking fact",
					zap.String("order_number", order.OrderNumber),
					zap.String("strategy", strategyName), zap.Error(err))
				continue
			}
			repaired++
		}

		if len(orders) < s.pageSize {
			break
		}
	}

	s.logger.Info("tracking backfill pass complete",
		zap.Int("repaired", repaired), zap.Int("unmatched", unmatched))
	return nil
}

func (s *backfillService) fetchShippedWithoutTracking(ctx context.Context, page int) ([]OrderRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_number, store_id, external_id
		FROM orders
		WHERE order_status = 'shipped'
		  AND COALESCE(tracking_number, '') = ''
		  AND ship_date IS NULL
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, s.pageSize, page*s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query shipped orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRef
	for rows.Next() {
		var o OrderRef
		if err := rows.Scan(&o.ID, &o.OrderNumber, &o.StoreID, &o.ExternalID); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// findFact walks the strategy list in priority order. A strategy error skips
// to the next strategy rather than failing the order outright.
func (s *backfillService) findFact(ctx context.Context, order OrderRef) (*trackingFact, string) {
	for _, strategy := range s.strategies {
		fact, err := strategy.find(ctx, order)
		if err != nil {
			s.logger.Error("tracking strategy failed",
				zap.String("strategy", strategy.name),
				zap.String("order_number", order.OrderNumber), zap.Error(err))
			continue
		}
		if fact != nil {
			return fact, strategy.name
		}
	}
	return nil, ""
}

func (s *backfillService) applyFact(ctx context.Context, order OrderRef, fact *trackingFact) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE orders SET tracking_number = $1, ship_date = $2 WHERE id = $3
	`, fact.TrackingNumber, fact.ShipDate, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", order.ID, err)
	}
	return s.ensureShipment(ctx, order, fact)
}

// ensureShipment guarantees a canonical shipment row exists for the found
// tracking number. The insert is minimal; the merger enriches it on a later
// run.
func (s *backfillService) ensureShipment(ctx context.Context, order OrderRef, fact *trackingFact) error {
	var existingID string
	err := s.pool.QueryRow(ctx,
		"SELECT id FROM shipments WHERE tracking_number = $1 LIMIT 1",
		fact.TrackingNumber,
	).Scan(&existingID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to look up shipment: %w", err)
	}

	source := SourceBackfill
	_, err = s.pool.Exec(ctx, `
		INSERT INTO shipments (id, tracking_number, created_at, source, order_id, order_number, store_id, carrier_code, ship_date)
		VALUES ($1, $2, NOW(), $3, $4, $5, $6, $7, $8)
	`, uuid.NewString(), fact.TrackingNumber, source, order.ID, order.OrderNumber, order.StoreID, fact.CarrierCode, fact.ShipDate)
	if err != nil {
		return fmt.Errorf("failed to insert shipment for tracking %s: %w", fact.TrackingNumber, err)
	}
	return nil
}

// ── Source strategies ─────────────────────────────────────────────────────────

func (s *backfillService) shipStationByOrderID(ctx context.Context, order OrderRef) (*trackingFact, error) {
	if order.ExternalID == nil {
		return nil, nil
	}
	return s.scanFact(ctx, SourceShipStation, `
		SELECT tracking_number, ship_date, carrier_code
		FROM shipstation_shipments
		WHERE voided = false AND order_id = $1 AND COALESCE(tracking_number, '') <> ''
		ORDER BY created_at DESC
		LIMIT 1
	`, *order.ExternalID)
}

func (s *backfillService) shipStationByOrderNumber(ctx context.Context, order OrderRef) (*trackingFact, error) {
	return s.scanFact(ctx, SourceShipStation, `
		SELECT tracking_number, ship_date, carrier_code
		FROM shipstation_shipments
		WHERE voided = false AND order_number = $1 AND COALESCE(tracking_number, '') <> ''
		ORDER BY created_at DESC
		LIMIT 1
	`, order.OrderNumber)
}

func (s *backfillService) shipEngineByOrderNumber(ctx context.Context, order OrderRef) (*trackingFact, error) {
	return s.scanFact(ctx, SourceShipEngine, `
		SELECT tracking_number, ship_date, carrier_code
		FROM shipengine_labels
		WHERE voided = false AND order_number = $1 AND COALESCE(tracking_number, '') <> ''
		ORDER BY created_at DESC
		LIMIT 1
	`, order.OrderNumber)
}

func (s *backfillService) labelLedgerByReference(ctx context.Context, order OrderRef) (*trackingFact, error) {
	return s.scanFact(ctx, SourceLabelLedger, `
		SELECT tracking_number, ship_date, carrier
		FROM shipping_labels
		WHERE order_reference = $1 AND COALESCE(tracking_number, '') <> ''
		ORDER BY created_at DESC
		LIMIT 1
	`, order.OrderNumber)
}

func (s *backfillService) scanFact(ctx context.Context, source, query string, args ...any) (*trackingFact, error) {
	fact := trackingFact{Source: source}
	err := s.pool.QueryRow(ctx, query, args...).Scan(&fact.TrackingNumber, &fact.ShipDate, &fact.CarrierCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fact, nil
}
