package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AlertType string

const (
	AlertRestock  AlertType = "restock"
	AlertPurchase AlertType = "purchase"
)

type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// DecideAlert evaluates the alert state machine for one SKU.
//
//	purchase/high   — queued demand exceeds total supply everywhere
//	restock/medium  — pickable shelves are short but backstock can replenish
//
// purchase outranks restock; ok=false means no alert is warranted and any
// active alert for the SKU must self-clear.
func DecideAlert(needed, pickable, backstock, total decimal.Decimal) (AlertType, Severity, bool) {
	if needed.GreaterThan(total) {
		return AlertPurchase, SeverityHigh, true
	}
	if needed.GreaterThan(pickable) && backstock.GreaterThan(decimal.Zero) {
		return AlertRestock, SeverityMedium, true
	}
	return "", "", false
}

// AlertService derives restock/purchase alerts from demand vs. supply and
// keeps the inventory_alerts table converged: at most one active alert per
// (client, item type, alert type, SKU), self-clearing once resolved.
type AlertService interface {
	Reconcile(ctx context.Context, catalog *Catalog) error
}

type alertService struct {
	pool   *pgxpool.Pool
	demand DemandService
	stock  StockService
	logger *zap.Logger
}

func NewAlertService(pool *pgxpool.Pool, demand DemandService, stock StockService, logger *zap.Logger) AlertService {
	return &alertService{pool: pool, demand: demand, stock: stock, logger: logger}
}

func (s *alertService) Reconcile(ctx context.Context, catalog *Catalog) error {
	demand, err := s.demand.QueuedDemand(ctx, catalog)
	if err != nil {
		return fmt.Errorf("failed to aggregate queued demand: %w", err)
	}
	supply, err := s.stock.SupplyBySKU(ctx)
	if err != nil {
		return fmt.Errorf("failed to build supply view: %w", err)
	}

	// Once a native upsert is rejected (no unique constraint configured on
	// the target), every later write this run goes through the emulation
	// path. Re-probed on the next run.
	upsertBroken := false
	var raised, cleared, skipped int

	for sku, needed := range demand {
		client, ok := catalog.ClientItem(sku)
		if !ok {
			// No owning client means no row to key the alert on.
			skipped++
			continue
		}
		view := supply[sku]

		alertType, severity, active := DecideAlert(needed, view.PickableAvailable, view.Backstock, view.Total)
		if !active {
			n, err := s.deactivate(ctx, client.ClientID, sku, AlertRestock, AlertPurchase)
			if err != nil {
				s.logger.Error("failed to clear alerts", zap.String("sku", sku), zap.Error(err))
				continue
			}
			cleared += n
			continue
		}

		// The losing alert type is always cleared so priority holds.
		other := AlertRestock
		if alertType == AlertRestock {
			other = AlertPurchase
		}
		if _, err := s.deactivate(ctx, client.ClientID, sku, other); err != nil {
			s.logger.Error("failed to clear superseded alert", zap.String("sku", sku), zap.Error(err))
		}

		if !upsertBroken {
			err = s.upsert(ctx, client.ClientID, sku, alertType, severity)
			if err != nil {
				upsertBroken = true
				s.logger.Warn("native alert upsert rejected, falling back to emulation",
					zap.String("sku", sku), zap.Error(err))
			}
		}
		if upsertBroken {
			err = s.upsertEmulated(ctx, client.ClientID, sku, alertType, severity)
		}
		if err != nil {
			s.logger.Error("failed to write alert",
				zap.String("sku", sku), zap.String("alert_type", string(alertType)), zap.Error(err))
			continue
		}
		raised++
	}

	// SKUs with no queued demand at all never enter the loop above; their
	// leftover alerts must still self-clear.
	skus := make([]string, 0, len(demand))
	for sku := range demand {
		skus = append(skus, sku)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE inventory_alerts
		SET is_active = false, updated_at = NOW()
		WHERE item_type = $1 AND is_active AND NOT (message = ANY($2))
	`, ItemTypeClientProduct, skus)
	if err != nil {
		s.logger.Error("failed to sweep stale alerts", zap.Error(err))
	} else {
		cleared += int(tag.RowsAffected())
	}

	s.logger.Info("alert reconcile pass complete",
		zap.Int("evaluated", len(demand)),
		zap.Int("raised", raised),
		zap.Int("cleared", cleared),
		zap.Int("skipped_no_client", skipped))
	return nil
}

func (s *alertService) upsert(ctx context.Context, clientID int, sku string, alertType AlertType, severity Severity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inventory_alerts (client_id, item_type, alert_type, message, severity, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, NOW())
		ON CONFLICT (client_id, item_type, alert_type, message) WHERE is_active
		DO UPDATE SET severity = EXCLUDED.severity, updated_at = NOW()
	`, clientID, ItemTypeClientProduct, alertType, sku, severity)
	return err
}

// upsertEmulated is the fallback when the store cannot honor the native
// upsert: select an active row on the logical key, update it if found, insert
// otherwise. A concurrent run may occasionally double-insert here; that is
// accepted, and this path must never crash the job.
func (s *alertService) upsertEmulated(ctx context.Context, clientID int, sku string, alertType AlertType, severity Severity) error {
	var id int
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM inventory_alerts
		WHERE client_id = $1 AND item_type = $2 AND alert_type = $3 AND message = $4 AND is_active
		ORDER BY id
		LIMIT 1
	`, clientID, ItemTypeClientProduct, alertType, sku).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to look up active alert: %w", err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO inventory_alerts (client_id, item_type, alert_type, message, severity, is_active, updated_at)
			VALUES ($1, $2, $3, $4, $5, true, NOW())
		`, clientID, ItemTypeClientProduct, alertType, sku, severity)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
		return nil
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE inventory_alerts SET severity = $1, updated_at = NOW() WHERE id = $2
	`, severity, id)
	if err != nil {
		return fmt.Errorf("failed to update alert %d: %w", id, err)
	}
	return nil
}

// deactivate soft-deletes active alerts of the given types for one SKU and
// returns how many rows it flipped. Alerts are never removed, only marked
// inactive.
func (s *alertService) deactivate(ctx context.Context, clientID int, sku string, types ...AlertType) (int, error) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE inventory_alerts
		SET is_active = false, updated_at = NOW()
		WHERE client_id = $1 AND item_type = $2 AND message = $3 AND alert_type = ANY($4) AND is_active
	`, clientID, ItemTypeClientProduct, sku, typeNames)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
