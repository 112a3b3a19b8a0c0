package core_test

import (
	"testing"

	"fulfillment-reconciler/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestDecideAlert(t *testing.T) {
	tests := []struct {
		name         string
		needed       int64
		pickable     int64
		backstock    int64
		total        int64
		wantType     core.AlertType
		wantSeverity core.Severity
		wantActive   bool
	}{
		{"demand exceeds total supply", 100, 0, 0, 50, core.AlertPurchase, core.SeverityHigh, true},
		{"short shelves with backstock", 100, 20, 50, 200, core.AlertRestock, core.SeverityMedium, true},
		{"enough pickable stock", 10, 20, 0, 30, "", "", false},
		{"purchase outranks restock", 100, 20, 50, 60, core.AlertPurchase, core.SeverityHigh, true},
		{"short shelves but no backstock", 100, 20, 0, 200, "", "", false},
		{"demand equal to total restocks from backstock", 50, 0, 50, 50, core.AlertRestock, core.SeverityMedium, true},
		{"zero demand", 0, 0, 0, 0, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alertType, severity, active := core.DecideAlert(d(tt.needed), d(tt.pickable), d(tt.backstock), d(tt.total))
			assert.Equal(t, tt.wantActive, active)
			assert.Equal(t, tt.wantType, alertType)
			assert.Equal(t, tt.wantSeverity, severity)
		})
	}
}
