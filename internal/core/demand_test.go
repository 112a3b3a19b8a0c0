package core_test

import (
	"testing"

	"fulfillment-reconciler/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateDemand(t *testing.T) {
	catalog := core.NewCatalog(
		map[string]core.CatalogEntry{"kit": {ID: 1, SKU: "kit"}},
		map[string]core.CatalogEntry{"widget": {ID: 2, SKU: "widget"}},
		nil,
	)

	rows := []core.OrderItemRow{
		{SKU: "widget", Quantity: d(3), OrderStatus: "awaiting_shipment"},
		{SKU: "Widget-Blue", Quantity: d(2), OrderStatus: "awaiting_shipment"},
		{SKU: "kit", Quantity: d(1), OrderStatus: "awaiting_shipment"},
		{SKU: "_-_", Quantity: d(9), OrderStatus: "awaiting_shipment"}, // empty base, dropped
	}

	demand, dropped := core.AggregateDemand(rows, catalog)

	require.Len(t, demand, 2)
	assert.True(t, demand["widget"].Equal(decimal.NewFromInt(5)))
	assert.True(t, demand["kit"].Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 1, dropped)
}

func TestAggregateDemand_Empty(t *testing.T) {
	catalog := core.NewCatalog(nil, nil, nil)
	demand, dropped := core.AggregateDemand(nil, catalog)
	assert.Empty(t, demand)
	assert.Zero(t, dropped)
}
