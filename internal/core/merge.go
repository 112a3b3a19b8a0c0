package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ShipmentSource pages candidate shipment records out of one carrier-event
// feed. Implementations must already exclude voided events, return labels,
// and events without a tracking number.
type ShipmentSource interface {
	Name() string
	FetchPage(ctx context.Context, since time.Time, limit, offset int) ([]Shipment, error)
}

// MergeService ingests both carrier-event feeds and converges the canonical
// shipments table: unseen tracking numbers are inserted, known ones get their
// still-missing fields filled. Page lookups are batched — one query for all
// tracking numbers and one for all order numbers on the page — with per-row
// semantics identical to a one-at-a-time pass.
type MergeService interface {
	Reconcile(ctx context.Context) error
}

type mergeService struct {
	pool     *pgxpool.Pool
	sources  []ShipmentSource
	logger   *zap.Logger
	lookback time.Duration
	pageSize int
	maxPages int
}

func NewMergeService(pool *pgxpool.Pool, sources []ShipmentSource, logger *zap.Logger,
	lookback time.Duration, pageSize, maxPages int) MergeService {
	return &mergeService{pool: pool, sources: sources, logger: logger,
		lookback: lookback, pageSize: pageSize, maxPages: maxPages}
}

func (s *mergeService) Reconcile(ctx context.Context) error {
	since := time.Now().Add(-s.lookback)

	for _, source := range s.sources {
		var inserted, updated, unchanged int

		for page := 0; page < s.maxPages; page++ {
			candidates, err := source.FetchPage(ctx, since, s.pageSize, page*s.pageSize)
			if err != nil {
				s.logger.Error("failed to fetch source page",
					zap.String("source", source.Name()), zap.Int("page", page), zap.Error(err))
				break
			}

			ins, upd, noop, err := s.reconcilePage(ctx, candidates)
			if err != nil {
				s.logger.Error("failed to reconcile source page",
					zap.String("source", source.Name()), zap.Int("page", page), zap.Error(err))
				break
			}
			inserted += ins
			updated += upd
			unchanged += noop

			if len(candidates) < s.pageSize {
				break
			}
		}

		s.logger.Info("shipment merge pass complete",
			zap.String("source", source.Name()),
			zap.Int("inserted", inserted), zap.Int("updated", updated), zap.Int("unchanged", unchanged))
	}
	return nil
}

func (s *mergeService) reconcilePage(ctx context.Context, candidates []Shipment) (int, int, int, error) {
	if len(candidates) == 0 {
		return 0, 0, 0, nil
	}

	trackings := make([]string, 0, len(candidates))
	orderNumbers := make([]string, 0, len(candidates))
	seenTracking := make(map[string]bool)
	seenOrder := make(map[string]bool)
	for _, c := range candidates {
		if !seenTracking[c.TrackingNumber] {
			seenTracking[c.TrackingNumber] = true
			trackings = append(trackings, c.TrackingNumber)
		}
		if c.OrderNumber != nil && !seenOrder[*c.OrderNumber] {
			seenOrder[*c.OrderNumber] = true
			orderNumbers = append(orderNumbers, *c.OrderNumber)
		}
	}

	existing, err := s.loadExistingByTracking(ctx, trackings)
	if err != nil {
		return 0, 0, 0, err
	}
	orders, err := s.loadOrdersByNumber(ctx, orderNumbers)
	if err != nil {
		return 0, 0, 0, err
	}

	batch := &pgx.Batch{}
	var inserted, updated, unchanged int

	for i := range candidates {
		candidate := candidates[i]
		resolveOwningOrder(&candidate, orders)

		current, ok := existing[candidate.TrackingNumber]
		if !ok {
			candidate.ID = uuid.NewString()
			candidate.CreatedAt = time.Now()
			queueInsert(batch, &candidate)
			// Later rows on the same page with this tracking number merge
			// into the freshly inserted record, same as the unbatched path.
			existing[candidate.TrackingNumber] = &candidate
			inserted++
			continue
		}

		changes := FillMissing(current, &candidate)
		if len(changes) == 0 {
			unchanged++
			continue
		}
		queueUpdate(batch, current.ID, changes)
		updated++
	}

	if batch.Len() > 0 {
		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return 0, 0, 0, fmt.Errorf("failed to apply shipment batch: %w", err)
		}
	}
	return inserted, updated, unchanged, nil
}

func (s *mergeService) loadExistingByTracking(ctx context.Context, trackings []string) (map[string]*Shipment, error) {
	out := make(map[string]*Shipment, len(trackings))
	if len(trackings) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, tracking_number, created_at, voided, is_return_label,
		       source, external_id, label_id, order_id, order_number, store_id,
		       carrier_code, service_code, package_code, confirmation,
		       ship_date, voided_at, warehouse_id, batch_number,
		       weight_value, weight_unit, shipment_cost, insurance_cost,
		       recipient_name, recipient_company, street1, street2, street3,
		       city, state, postal_code, country, phone, items
		FROM shipments
		WHERE tracking_number = ANY($1)
	`, trackings)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing shipments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sh Shipment
		if err := rows.Scan(
			&sh.ID, &sh.TrackingNumber, &sh.CreatedAt, &sh.Voided, &sh.IsReturnLabel,
			&sh.Source, &sh.ExternalID, &sh.LabelID, &sh.OrderID, &sh.OrderNumber, &sh.StoreID,
			&sh.CarrierCode, &sh.ServiceCode, &sh.PackageCode, &sh.Confirmation,
			&sh.ShipDate, &sh.VoidedAt, &sh.WarehouseID, &sh.BatchNumber,
			&sh.WeightValue, &sh.WeightUnit, &sh.ShipmentCost, &sh.InsuranceCost,
			&sh.RecipientName, &sh.RecipientCompany, &sh.Street1, &sh.Street2, &sh.Street3,
			&sh.City, &sh.State, &sh.PostalCode, &sh.Country, &sh.Phone, &sh.Items,
		); err != nil {
			return nil, fmt.Errorf("failed to scan shipment: %w", err)
		}
		out[sh.TrackingNumber] = &sh
	}
	return out, rows.Err()
}

func (s *mergeService) loadOrdersByNumber(ctx context.Context, orderNumbers []string) (map[string][]OrderRef, error) {
	out := make(map[string][]OrderRef, len(orderNumbers))
	if len(orderNumbers) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, order_number, store_id, external_id
		FROM orders
		WHERE order_number = ANY($1)
	`, orderNumbers)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o OrderRef
		if err := rows.Scan(&o.ID, &o.OrderNumber, &o.StoreID, &o.ExternalID); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out[o.OrderNumber] = append(out[o.OrderNumber], o)
	}
	return out, rows.Err()
}

// resolveOwningOrder fills candidate.OrderID from the page's order lookup.
// Multiple orders sharing an order number are disambiguated by store id when
// the event carries one; otherwise the first match wins.
func resolveOwningOrder(candidate *Shipment, orders map[string][]OrderRef) {
	if candidate.OrderID != nil || candidate.OrderNumber == nil {
		return
	}
	matches := orders[*candidate.OrderNumber]
	if len(matches) == 0 {
		return
	}
	if len(matches) > 1 && candidate.StoreID != nil {
		for _, m := range matches {
			if m.StoreID != nil && *m.StoreID == *candidate.StoreID {
				id := m.ID
				candidate.OrderID = &id
				return
			}
		}
	}
	id := matches[0].ID
	candidate.OrderID = &id
}

func queueInsert(batch *pgx.Batch, sh *Shipment) {
	batch.Queue(`
		INSERT INTO shipments (
			id, tracking_number, created_at, voided, is_return_label,
			source, external_id, label_id, order_id, order_number, store_id,
			carrier_code, service_code, package_code, confirmation,
			ship_date, voided_at, warehouse_id, batch_number,
			weight_value, weight_unit, shipment_cost, insurance_cost,
			recipient_name, recipient_company, street1, street2, street3,
			city, state, postal_code, country, phone, items
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
			$29, $30, $31, $32, $33, $34
		)
	`,
		sh.ID, sh.TrackingNumber, sh.CreatedAt, sh.Voided, sh.IsReturnLabel,
		sh.Source, sh.ExternalID, sh.LabelID, sh.OrderID, sh.OrderNumber, sh.StoreID,
		sh.CarrierCode, sh.ServiceCode, sh.PackageCode, sh.Confirmation,
		sh.ShipDate, sh.VoidedAt, sh.WarehouseID, sh.BatchNumber,
		sh.WeightValue, sh.WeightUnit, sh.ShipmentCost, sh.InsuranceCost,
		sh.RecipientName, sh.RecipientCompany, sh.Street1, sh.Street2, sh.Street3,
		sh.City, sh.State, sh.PostalCode, sh.Country, sh.Phone, sh.Items,
	)
}

func queueUpdate(batch *pgx.Batch, id string, changes map[string]any) {
	set := ""
	args := make([]any, 0, len(changes)+1)
	args = append(args, id)
	for column, value := range changes {
		if set != "" {
			set += ", "
		}
		args = append(args, value)
		set += fmt.Sprintf("%s = $%d", column, len(args))
	}
	batch.Queue("UPDATE shipments SET "+set+" WHERE id = $1", args...)
}
