package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// shipStationSource pages the ShipStation-style event feed into candidate
// shipments. Voided events, return labels, and events without a tracking
// number never become candidates.
type shipStationSource struct {
	pool *pgxpool.Pool
}

func NewShipStationSource(pool *pgxpool.Pool) ShipmentSource {
	return &shipStationSource{pool: pool}
}

func (s *shipStationSource) Name() string { return SourceShipStation }

func (s *shipStationSource) FetchPage(ctx context.Context, since time.Time, limit, offset int) ([]Shipment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT shipment_id, tracking_number, order_number, store_id,
		       carrier_code, service_code, package_code, confirmation,
		       ship_date, warehouse_id, batch_number,
		       weight_value, weight_unit, shipment_cost, insurance_cost,
		       recipient_name, recipient_company, street1, street2, street3,
		       city, state, postal_code, country, phone, items
		FROM shipstation_shipments
		WHERE voided = false
		  AND is_return_label = false
		  AND COALESCE(tracking_number, '') <> ''
		  AND created_at > $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query shipstation events: %w", err)
	}
	defer rows.Close()

	source := SourceShipStation
	var out []Shipment
	for rows.Next() {
		var sh Shipment
		sh.Source = &source
		if err := rows.Scan(
			&sh.ExternalID, &sh.TrackingNumber, &sh.OrderNumber, &sh.StoreID,
			&sh.CarrierCode, &sh.ServiceCode, &sh.PackageCode, &sh.Confirmation,
			&sh.ShipDate, &sh.WarehouseID, &sh.BatchNumber,
			&sh.WeightValue, &sh.WeightUnit, &sh.ShipmentCost, &sh.InsuranceCost,
			&sh.RecipientName, &sh.RecipientCompany, &sh.Street1, &sh.Street2, &sh.Street3,
			&sh.City, &sh.State, &sh.PostalCode, &sh.Country, &sh.Phone, &sh.Items,
		); err != nil {
			return nil, fmt.Errorf("failed to scan shipstation event: %w", err)
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// shipEngineSource pages the ShipEngine-style label feed. It reports fewer
// descriptive fields than ShipStation; whatever it does report fills gaps on
// records ShipStation missed.
type shipEngineSource struct {
	pool *pgxpool.Pool
}

func NewShipEngineSource(pool *pgxpool.Pool) ShipmentSource {
	return &shipEngineSource{pool: pool}
}

func (s *shipEngineSource) Name() string { return SourceShipEngine }

func (s *shipEngineSource) FetchPage(ctx context.Context, since time.Time, limit, offset int) ([]Shipment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT label_id, tracking_number, order_number,
		       carrier_code, service_code,
		       ship_date, shipment_cost, insurance_cost,
		       recipient_name, city, state, postal_code, country
		FROM shipengine_labels
		WHERE voided = false
		  AND is_return_label = false
		  AND COALESCE(tracking_number, '') <> ''
		  AND created_at > $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query shipengine labels: %w", err)
	}
	defer rows.Close()

	source := SourceShipEngine
	var out []Shipment
	for rows.Next() {
		var sh Shipment
		sh.Source = &source
		if err := rows.Scan(
			&sh.LabelID, &sh.TrackingNumber, &sh.OrderNumber,
			&sh.CarrierCode, &sh.ServiceCode,
			&sh.ShipDate, &sh.ShipmentCost, &sh.InsuranceCost,
			&sh.RecipientName, &sh.City, &sh.State, &sh.PostalCode, &sh.Country,
		); err != nil {
			return nil, fmt.Errorf("failed to scan shipengine label: %w", err)
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}
