package core

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// LineItem is the one canonical line-item shape. Raw shipment payloads vary
// by origin system and are normalized here before anything downstream sees
// them.
type LineItem struct {
	SKU      string
	Quantity decimal.Decimal
}

type rawLineItem struct {
	SKU      string   `json:"sku"`
	Quantity *float64 `json:"quantity"`
	Qty      *float64 `json:"qty"`
}

type itemsWrapper struct {
	Items []rawLineItem `json:"items"`
}

// ParseLineItems decodes a shipment's line-item payload. Three shapes occur
// in the wild: a bare array of items, an object wrapping an "items" array,
// and a PascalCase variant of either (Go's decoder matches keys
// case-insensitively, which covers Sku/Quantity/Items for free). Lines with
// an empty SKU or non-positive quantity are dropped.
func ParseLineItems(payload []byte) ([]LineItem, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var raw []rawLineItem
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("malformed line-item array: %w", err)
		}
	case '{':
		var wrapper itemsWrapper
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("malformed line-item object: %w", err)
		}
		raw = wrapper.Items
	default:
		return nil, fmt.Errorf("unrecognized line-item payload shape")
	}

	items := make([]LineItem, 0, len(raw))
	for _, r := range raw {
		qty := r.Quantity
		if qty == nil {
			qty = r.Qty
		}
		if r.SKU == "" || qty == nil || *qty <= 0 {
			continue
		}
		items = append(items, LineItem{
			SKU:      r.SKU,
			Quantity: decimal.NewFromFloat(*qty),
		})
	}
	return items, nil
}

// AggregateLineItems folds canonical line items into a per-base-SKU quantity
// map, summing duplicate lines. Lines whose SKU normalizes to empty are
// dropped.
func AggregateLineItems(items []LineItem, catalog *Catalog) map[string]decimal.Decimal {
	quantities := make(map[string]decimal.Decimal)
	for _, item := range items {
		res := catalog.Resolve(item.SKU)
		if res.BaseSKU == "" {
			continue
		}
		quantities[res.BaseSKU] = quantities[res.BaseSKU].Add(item.Quantity)
	}
	return quantities
}
