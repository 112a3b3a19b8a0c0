package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Shipment source tags.
const (
	SourceShipStation = "shipstation"
	SourceShipEngine  = "shipengine"
	SourceLabelLedger = "label_ledger"
	SourceBackfill    = "order_backfill"
)

// Shipment is the canonical record for one physical shipment, keyed by
// tracking number (uniqueness enforced by lookup-before-insert). Descriptive
// fields are nullable: a field is filled in by whichever source reports it
// first and never overwritten afterwards.
type Shipment struct {
	ID             string
	TrackingNumber string
	CreatedAt      time.Time
	Voided         bool
	IsReturnLabel  bool

	Source       *string
	ExternalID   *string
	LabelID      *string
	OrderID      *int
	OrderNumber  *string
	StoreID      *int
	CarrierCode  *string
	ServiceCode  *string
	PackageCode  *string
	Confirmation *string
	ShipDate     *time.Time
	VoidedAt     *time.Time
	WarehouseID  *int
	BatchNumber  *string

	WeightValue   *decimal.Decimal
	WeightUnit    *string
	ShipmentCost  *decimal.Decimal
	InsuranceCost *decimal.Decimal

	RecipientName    *string
	RecipientCompany *string
	Street1          *string
	Street2          *string
	Street3          *string
	City             *string
	State            *string
	PostalCode       *string
	Country          *string
	Phone            *string

	Items []byte // raw line-item payload, normalized on read by ParseLineItems
}

// FillMissing copies every non-null candidate field onto the existing record
// only where the existing field is still null — first writer wins per field,
// a later source never overwrites a recorded value. It mutates existing and
// returns the changed columns with their new values, ready to feed an UPDATE.
// An empty result means the candidate added nothing.
func FillMissing(existing *Shipment, candidate *Shipment) map[string]any {
	changes := make(map[string]any)

	fillString(changes, "source", &existing.Source, candidate.Source)
	fillString(changes, "external_id", &existing.ExternalID, candidate.ExternalID)
	fillString(changes, "label_id", &existing.LabelID, candidate.LabelID)
	fillInt(changes, "order_id", &existing.OrderID, candidate.OrderID)
	fillString(changes, "order_number", &existing.OrderNumber, candidate.OrderNumber)
	fillInt(changes, "store_id", &existing.StoreID, candidate.StoreID)
	fillString(changes, "carrier_code", &existing.CarrierCode, candidate.CarrierCode)
	fillString(changes, "service_code", &existing.ServiceCode, candidate.ServiceCode)
	fillString(changes, "package_code", &existing.PackageCode, candidate.PackageCode)
	fillString(changes, "confirmation", &existing.Confirmation, candidate.Confirmation)
	fillTime(changes, "ship_date", &existing.ShipDate, candidate.ShipDate)
	fillTime(changes, "voided_at", &existing.VoidedAt, candidate.VoidedAt)
	fillInt(changes, "warehouse_id", &existing.WarehouseID, candidate.WarehouseID)
	fillString(changes, "batch_number", &existing.BatchNumber, candidate.BatchNumber)
	fillDecimal(changes, "weight_value", &existing.WeightValue, candidate.WeightValue)
	fillString(changes, "weight_unit", &existing.WeightUnit, candidate.WeightUnit)
	fillDecimal(changes, "shipment_cost", &existing.ShipmentCost, candidate.ShipmentCost)
	fillDecimal(changes, "insurance_cost", &existing.InsuranceCost, candidate.InsuranceCost)
	fillString(changes, "recipient_name", &existing.RecipientName, candidate.RecipientName)
	fillString(changes, "recipient_company", &existing.RecipientCompany, candidate.RecipientCompany)
	fillString(changes, "street1", &existing.Street1, candidate.Street1)
	fillString(changes, "street2", &existing.Street2, candidate.Street2)
	fillString(changes, "street3", &existing.Street3, candidate.Street3)
	fillString(changes, "city", &existing.City, candidate.City)
	fillString(changes, "state", &existing.State, candidate.State)
	fillString(changes, "postal_code", &existing.PostalCode, candidate.PostalCode)
	fillString(changes, "country", &existing.Country, candidate.Country)
	fillString(changes, "phone", &existing.Phone, candidate.Phone)

	if existing.Items == nil && candidate.Items != nil {
		existing.Items = candidate.Items
		changes["items"] = candidate.Items
	}

	return changes
}

func fillString(changes map[string]any, column string, dst **string, src *string) {
	if *dst == nil && src != nil {
		*dst = src
		changes[column] = *src
	}
}

func fillInt(changes map[string]any, column string, dst **int, src *int) {
	if *dst == nil && src != nil {
		*dst = src
		changes[column] = *src
	}
}

func fillTime(changes map[string]any, column string, dst **time.Time, src *time.Time) {
	if *dst == nil && src != nil {
		*dst = src
		changes[column] = *src
	}
}

func fillDecimal(changes map[string]any, column string, dst **decimal.Decimal, src *decimal.Decimal) {
	if *dst == nil && src != nil {
		*dst = src
		changes[column] = *src
	}
}
