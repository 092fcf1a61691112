package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validOrderpoint() *Orderpoint {
	return &Orderpoint{
		ProductID:     1,
		LocationID:    2,
		WarehouseID:   1,
		CompanyID:     1,
		Trigger:       TriggerAuto,
		Origin:        OriginOperator,
		Active:        true,
		ProductMinQty: decimal.NewFromInt(10),
		ProductMaxQty: decimal.NewFromInt(50),
		QtyMultiple:   decimal.NewFromInt(1),
	}
}

func TestOrderpointValidate(t *testing.T) {
	snooze := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		mutate  func(*Orderpoint)
		wantErr bool
	}{
		{"valid", func(o *Orderpoint) {}, false},
		{"missing product", func(o *Orderpoint) { o.ProductID = 0 }, true},
		{"missing location", func(o *Orderpoint) { o.LocationID = 0 }, true},
		{"missing warehouse", func(o *Orderpoint) { o.WarehouseID = 0 }, true},
		{"negative min", func(o *Orderpoint) { o.ProductMinQty = decimal.NewFromInt(-1) }, true},
		{"max below min", func(o *Orderpoint) {
			o.ProductMinQty = decimal.NewFromInt(20)
			o.ProductMaxQty = decimal.NewFromInt(10)
		}, true},
		{"negative multiple", func(o *Orderpoint) { o.QtyMultiple = decimal.NewFromInt(-5) }, true},
		{"zero multiple allowed", func(o *Orderpoint) { o.QtyMultiple = decimal.Zero }, false},
		{"negative visibility days", func(o *Orderpoint) { o.VisibilityDays = -1 }, true},
		{"snoozed auto trigger", func(o *Orderpoint) { o.SnoozedUntil = &snooze }, true},
		{"snoozed manual trigger", func(o *Orderpoint) {
			o.Trigger = TriggerManual
			o.SnoozedUntil = &snooze
		}, false},
		{"unknown trigger", func(o *Orderpoint) { o.Trigger = "cron" }, true},
		{"unknown origin", func(o *Orderpoint) { o.Origin = "import" }, true},
		{"min equals max", func(o *Orderpoint) {
			o.ProductMinQty = decimal.NewFromInt(10)
			o.ProductMaxQty = decimal.NewFromInt(10)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := validOrderpoint()
			tt.mutate(op)
			err := op.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr && !IsValidation(err) {
				t.Fatalf("expected a validation error, got %T", err)
			}
		})
	}
}

func TestOrderpointQtyToOrder(t *testing.T) {
	op := validOrderpoint()
	op.QtyToOrderComputed = decimal.NewFromInt(40)

	if got := op.QtyToOrder(); !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("computed quantity: got %s, want 40", got)
	}

	op.QtyToOrderManual = decimal.NewFromInt(15)
	if got := op.QtyToOrder(); !got.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("manual override: got %s, want 15", got)
	}
}

func TestOrderpointSnoozed(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	op := validOrderpoint()
	op.Trigger = TriggerManual

	if op.Snoozed(now) {
		t.Fatal("orderpoint without snooze date reported snoozed")
	}

	until := now.Add(24 * time.Hour)
	op.SnoozedUntil = &until
	if !op.Snoozed(now) {
		t.Fatal("orderpoint snoozed until tomorrow reported active")
	}
	if op.Snoozed(until) {
		t.Fatal("orderpoint reported snoozed at its own expiry instant")
	}
}
