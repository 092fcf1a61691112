package forecast

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/clock"
	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/leadtime"
	"github.com/andresuchdata/orderpoint/internal/repository/memory"
	"github.com/andresuchdata/orderpoint/internal/rules"
)

var testDay = time.Date(2026, 2, 2, 9, 30, 0, 0, time.UTC)

// fixture wires a one-warehouse world: stock location 2 under root 1,
// one buy rule with 2 lead days and a 3 day supplier delay, so the
// total lead time is 5 days.
type fixture struct {
	stock   *memory.StockQuerier
	catalog *memory.Catalog
	clk     *clock.Fake
}

func newFixture(t *testing.T, globalVisibilityDays int) (*Engine, *fixture) {
	t.Helper()

	f := &fixture{
		stock:   memory.NewStockQuerier(),
		catalog: memory.NewCatalog(),
		clk:     clock.NewFake(testDay),
	}

	f.catalog.AddLocation(domain.Location{ID: 1, Name: "WH", WarehouseID: 1})
	parent := int64(1)
	f.catalog.AddLocation(domain.Location{ID: 2, Name: "WH/Stock", ParentID: &parent, WarehouseID: 1, Replenish: true})
	f.catalog.AddProduct(domain.Product{ID: 1, Name: "Bolt", UomRounding: decimal.NewFromFloat(0.01)})
	f.catalog.AddRule(domain.Rule{
		ID: 1, Action: domain.ActionBuy, DestLocationID: 2,
		RouteID: 1, RouteSequence: 10, LeadDays: 2, CompanyID: 1,
	})
	f.catalog.SetSupplierDelay(1, 3)

	selector := rules.NewSelector(f.catalog.Rules(), f.catalog.Locations())
	resolver := leadtime.NewResolver(selector, f.clk)
	engine := NewEngine(f.stock, resolver, f.clk, globalVisibilityDays)
	return engine, f
}

func orderpoint(min, max, multiple int64) *domain.Orderpoint {
	return &domain.Orderpoint{
		ID: 1, ProductID: 1, LocationID: 2, WarehouseID: 1, CompanyID: 1,
		Trigger: domain.TriggerAuto, Origin: domain.OriginOperator, Active: true,
		ProductMinQty: decimal.NewFromInt(min),
		ProductMaxQty: decimal.NewFromInt(max),
		QtyMultiple:   decimal.NewFromInt(multiple),
	}
}

func mustCompute(t *testing.T, e *Engine, f *fixture, op *domain.Orderpoint) *Computation {
	t.Helper()
	product, err := f.catalog.Get(context.Background(), op.ProductID)
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	comp, err := e.Compute(context.Background(), op, product)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	return comp
}

func TestComputeBelowMinimumOrdersToMax(t *testing.T) {
	e, f := newFixture(t, 0)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(3))

	op := orderpoint(10, 50, 1)
	comp := mustCompute(t, e, f, op)

	if !comp.Qty.Equal(decimal.NewFromInt(47)) {
		t.Fatalf("qty: got %s, want 47", comp.Qty)
	}
}

func TestComputeAtMinimumOrdersNothing(t *testing.T) {
	e, f := newFixture(t, 0)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(10))

	op := orderpoint(10, 50, 1)
	comp := mustCompute(t, e, f, op)

	if !comp.Qty.IsZero() {
		t.Fatalf("qty: got %s, want 0 at exactly the minimum", comp.Qty)
	}
}

func TestComputeNoMaximumOrdersToMin(t *testing.T) {
	// max 0 < min: target is max(min, max) = min.
	e, f := newFixture(t, 0)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(4))

	op := orderpoint(10, 0, 0)
	comp := mustCompute(t, e, f, op)

	if !comp.Qty.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("qty: got %s, want 6", comp.Qty)
	}
}

func TestComputeInProgressCountsTowardForecast(t *testing.T) {
	e, f := newFixture(t, 0)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(3))
	f.stock.SetInProgress(1, decimal.NewFromInt(7))

	op := orderpoint(10, 50, 1)
	comp := mustCompute(t, e, f, op)

	// forecast = 3 + 7 = 10 >= min: nothing to order, no double
	// ordering across cycles.
	if !comp.Qty.IsZero() {
		t.Fatalf("qty: got %s, want 0 with supply already in progress", comp.Qty)
	}
	if !comp.Forecast.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("forecast: got %s, want 10", comp.Forecast)
	}
}

func TestComputeMultipleRounding(t *testing.T) {
	tests := []struct {
		name     string
		min, max int64
		multiple int64
		forecast int64
		want     int64
	}{
		// 50 - 3 = 47, ceiling 50: round down to 45.
		{"round down under ceiling", 10, 50, 5, 3, 45},
		// No max: 10 - 3 = 7, round up to 8.
		{"round up without ceiling", 10, 0, 4, 3, 8},
		// Exact multiple stays.
		{"exact multiple", 10, 50, 5, 5, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, f := newFixture(t, 0)
			f.stock.SetForecast(1, 2, decimal.NewFromInt(tt.forecast))

			op := orderpoint(tt.min, tt.max, tt.multiple)
			comp := mustCompute(t, e, f, op)

			if !comp.Qty.Equal(decimal.NewFromInt(tt.want)) {
				t.Fatalf("qty: got %s, want %d", comp.Qty, tt.want)
			}
		})
	}
}

func TestComputeDates(t *testing.T) {
	// Lead: 2 rule days + 3 supplier days = 5; today is Feb 2.
	e, f := newFixture(t, 4)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(100))

	op := orderpoint(10, 50, 1)
	op.VisibilityDays = 3
	comp := mustCompute(t, e, f, op)

	wantLead := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	if !comp.LeadDaysDate.Equal(wantLead) {
		t.Fatalf("lead date: got %s, want %s", comp.LeadDaysDate, wantLead)
	}
	// Horizon widens by both visibility windows: +3 +4.
	wantHorizon := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	if !comp.Horizon.Equal(wantHorizon) {
		t.Fatalf("horizon: got %s, want %s", comp.Horizon, wantHorizon)
	}
	// Planned date is pulled earlier by the global window only.
	wantPlanned := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	if !comp.PlannedDate.Equal(wantPlanned) {
		t.Fatalf("planned date: got %s, want %s", comp.PlannedDate, wantPlanned)
	}
}

func TestComputeDaysToOrderExtendsLead(t *testing.T) {
	e, f := newFixture(t, 0)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(100))

	op := orderpoint(10, 50, 1)
	op.DaysToOrder = 2
	comp := mustCompute(t, e, f, op)

	want := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	if !comp.LeadDaysDate.Equal(want) {
		t.Fatalf("lead date with days_to_order: got %s, want %s", comp.LeadDaysDate, want)
	}
}

func TestForceToMax(t *testing.T) {
	e, f := newFixture(t, 0)
	product, _ := f.catalog.Get(context.Background(), 1)

	t.Run("ignores the minimum test", func(t *testing.T) {
		f.stock.SetForecast(1, 2, decimal.NewFromInt(30))
		op := orderpoint(10, 50, 1)

		comp, err := e.ForceToMax(context.Background(), op, product)
		if err != nil {
			t.Fatalf("force to max: %v", err)
		}
		// Forecast 30 is above min 10 but below max 50.
		if !comp.Qty.Equal(decimal.NewFromInt(20)) {
			t.Fatalf("qty: got %s, want 20", comp.Qty)
		}
	})

	t.Run("rounds up to the multiple", func(t *testing.T) {
		f.stock.SetForecast(1, 2, decimal.NewFromInt(33))
		op := orderpoint(10, 50, 5)

		comp, err := e.ForceToMax(context.Background(), op, product)
		if err != nil {
			t.Fatalf("force to max: %v", err)
		}
		// 50 - 33 = 17, rounded up to 20.
		if !comp.Qty.Equal(decimal.NewFromInt(20)) {
			t.Fatalf("qty: got %s, want 20", comp.Qty)
		}
	})

	t.Run("already above max orders nothing", func(t *testing.T) {
		f.stock.SetForecast(1, 2, decimal.NewFromInt(80))
		op := orderpoint(10, 50, 5)

		comp, err := e.ForceToMax(context.Background(), op, product)
		if err != nil {
			t.Fatalf("force to max: %v", err)
		}
		if !comp.Qty.IsZero() {
			t.Fatalf("qty: got %s, want 0", comp.Qty)
		}
	})
}

func TestComputeNegativeForecastDeficit(t *testing.T) {
	e, f := newFixture(t, 0)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(-12))

	op := orderpoint(0, 0, 0)
	comp := mustCompute(t, e, f, op)

	// Zero-threshold orderpoint: covering the shortage exactly.
	if !comp.Qty.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("qty: got %s, want 12", comp.Qty)
	}
}
