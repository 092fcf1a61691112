package replenish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/clock"
	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/forecast"
	"github.com/andresuchdata/orderpoint/internal/leadtime"
	"github.com/andresuchdata/orderpoint/internal/repository"
	"github.com/andresuchdata/orderpoint/internal/repository/memory"
	"github.com/andresuchdata/orderpoint/internal/rules"
)

var cycleStart = time.Date(2026, 2, 2, 6, 0, 0, 0, time.UTC)

type cycleFixture struct {
	ops        *memory.OrderpointRepository
	stock      *memory.StockQuerier
	catalog    *memory.Catalog
	orders     *memory.SupplyOrderWriter
	activities *memory.ActivityRepository
	clk        *clock.Fake
}

// newCycle wires the full pipeline against a one-warehouse world:
// stock location 2 is replenishable and covered by a buy rule, location
// 3 is an output without rules, location 4 is not replenishable.
func newCycle(t *testing.T) (*Orchestrator, *cycleFixture) {
	t.Helper()

	f := &cycleFixture{
		ops:        memory.NewOrderpointRepository(),
		stock:      memory.NewStockQuerier(),
		catalog:    memory.NewCatalog(),
		orders:     memory.NewSupplyOrderWriter(),
		activities: memory.NewActivityRepository(),
		clk:        clock.NewFake(cycleStart),
	}
	f.stock.TrackOrders(f.orders)

	root := int64(1)
	f.catalog.AddLocation(domain.Location{ID: 1, Name: "WH", WarehouseID: 1})
	f.catalog.AddLocation(domain.Location{ID: 2, Name: "WH/Stock", ParentID: &root, WarehouseID: 1, Replenish: true})
	f.catalog.AddLocation(domain.Location{ID: 3, Name: "WH/Output", ParentID: &root, WarehouseID: 1, Replenish: true})
	f.catalog.AddLocation(domain.Location{ID: 4, Name: "WH/Transit", ParentID: &root, WarehouseID: 1})
	f.catalog.AddProduct(domain.Product{ID: 1, Name: "Bolt", UomRounding: decimal.NewFromFloat(0.01), ResponsibleID: 7})
	f.catalog.AddProduct(domain.Product{ID: 2, Name: "Nut", UomRounding: decimal.NewFromFloat(0.01), ResponsibleID: 7})
	f.catalog.AddRule(domain.Rule{
		ID: 1, Action: domain.ActionBuy, DestLocationID: 2,
		RouteID: 1, RouteSequence: 10, LeadDays: 2, CompanyID: 1,
	})

	selector := rules.NewSelector(f.catalog.Rules(), f.catalog.Locations())
	resolver := leadtime.NewResolver(selector, f.clk)
	forecaster := forecast.NewEngine(f.stock, resolver, f.clk, 0)
	engine := rules.NewEngine(selector, f.catalog, f.catalog.Locations(), rules.NewSupplyRunner(f.orders), zerolog.Nop())

	o := NewOrchestrator(f.ops, f.catalog, f.catalog.Locations(), f.stock, forecaster, engine, f.catalog.Rules(), f.activities, f.clk, zerolog.Nop())
	return o, f
}

func (f *cycleFixture) addOrderpoint(t *testing.T, productID, locationID, min, max int64) *domain.Orderpoint {
	t.Helper()
	op := &domain.Orderpoint{
		ProductID: productID, LocationID: locationID, WarehouseID: 1, CompanyID: 1,
		Trigger: domain.TriggerAuto, Origin: domain.OriginOperator, Active: true,
		ProductMinQty: decimal.NewFromInt(min),
		ProductMaxQty: decimal.NewFromInt(max),
		QtyMultiple:   decimal.NewFromInt(1),
	}
	if err := f.ops.Create(context.Background(), op); err != nil {
		t.Fatalf("create orderpoint: %v", err)
	}
	return op
}

func TestRunRecomputesAndCreatesOrders(t *testing.T) {
	o, f := newCycle(t)
	op := f.addOrderpoint(t, 1, 2, 10, 50)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(3))

	if err := o.Run(context.Background(), 1, true, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.orders.Orders) != 1 {
		t.Fatalf("orders: got %d, want 1", len(f.orders.Orders))
	}
	order := f.orders.Orders[0]
	if order.Kind != domain.ActionBuy {
		t.Fatalf("kind: got %s, want buy", order.Kind)
	}
	if !order.Quantity.Equal(decimal.NewFromInt(47)) {
		t.Fatalf("quantity: got %s, want 47", order.Quantity)
	}
	if order.Origin == "" {
		t.Fatal("order has no origin reference")
	}
	if order.OrderpointID == nil || *order.OrderpointID != op.ID {
		t.Fatalf("order not linked to its orderpoint: got %v, want %d", order.OrderpointID, op.ID)
	}
	if order.State != domain.SupplyOrderDraft {
		t.Fatalf("state: got %q, want draft", order.State)
	}

	saved, err := f.ops.Get(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !saved.QtyToOrderComputed.Equal(decimal.NewFromInt(47)) {
		t.Fatalf("computed qty not persisted: got %s, want 47", saved.QtyToOrderComputed)
	}
}

func TestRunCountsOpenOrdersAsSupplyInProgress(t *testing.T) {
	o, f := newCycle(t)
	op := f.addOrderpoint(t, 1, 2, 10, 50)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(3))

	// Two cycles over an unchanged shortage: the draft order emitted by
	// the first cycle covers it, so the second must not order again.
	for i := 0; i < 2; i++ {
		if err := o.Run(context.Background(), 1, true, false); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	if len(f.orders.Orders) != 1 {
		total := decimal.Zero
		for _, ord := range f.orders.Orders {
			total = total.Add(ord.Quantity)
		}
		t.Fatalf("orders: got %d totalling %s, want a single order of 47", len(f.orders.Orders), total)
	}
	saved, err := f.ops.Get(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !saved.QtyToOrderComputed.IsZero() {
		t.Fatalf("computed qty after covering order: got %s, want 0", saved.QtyToOrderComputed)
	}
}

func TestRunNothingToOrderAtMinimum(t *testing.T) {
	o, f := newCycle(t)
	op := f.addOrderpoint(t, 1, 2, 10, 50)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(10))

	if err := o.Run(context.Background(), 1, true, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.orders.Orders) != 0 {
		t.Fatalf("orders: got %d, want none at the minimum", len(f.orders.Orders))
	}
	saved, _ := f.ops.Get(context.Background(), op.ID)
	if !saved.QtyToOrderComputed.IsZero() {
		t.Fatalf("computed qty: got %s, want 0", saved.QtyToOrderComputed)
	}
}

func TestRunIsolatesFailingOrderpoint(t *testing.T) {
	o, f := newCycle(t)
	good := f.addOrderpoint(t, 1, 2, 10, 50)
	// Location 3 has no rule covering it, so lead time resolution
	// fails for this orderpoint.
	bad := f.addOrderpoint(t, 2, 3, 10, 50)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(3))
	f.stock.SetForecast(2, 3, decimal.NewFromInt(3))

	if err := o.Run(context.Background(), 1, true, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.orders.Orders) != 1 {
		t.Fatalf("orders: got %d, want 1 from the healthy orderpoint", len(f.orders.Orders))
	}
	if f.orders.Orders[0].ProductID != good.ProductID {
		t.Fatalf("ordered product: got %d, want %d", f.orders.Orders[0].ProductID, good.ProductID)
	}

	if len(f.activities.Activities) != 1 {
		t.Fatalf("follow-ups: got %d, want 1", len(f.activities.Activities))
	}
	a := f.activities.Activities[0]
	if a.ResID != bad.ID || a.UserID != 7 {
		t.Fatalf("follow-up target: res_id=%d user=%d", a.ResID, a.UserID)
	}
}

func TestRunDeduplicatesFollowUps(t *testing.T) {
	o, f := newCycle(t)
	f.addOrderpoint(t, 2, 3, 10, 50)
	f.stock.SetForecast(2, 3, decimal.NewFromInt(3))

	for i := 0; i < 2; i++ {
		if err := o.Run(context.Background(), 1, true, false); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	if len(f.activities.Activities) != 1 {
		t.Fatalf("follow-ups: got %d, want 1 after identical failures", len(f.activities.Activities))
	}
}

func TestRunRaisesOnErrorInteractively(t *testing.T) {
	o, f := newCycle(t)
	f.addOrderpoint(t, 2, 3, 10, 50)
	f.stock.SetForecast(2, 3, decimal.NewFromInt(3))

	if err := o.Run(context.Background(), 1, false, true); err == nil {
		t.Fatal("interactive run swallowed the failure")
	}
	if len(f.activities.Activities) != 0 {
		t.Fatal("interactive run opened a follow-up instead of raising")
	}
}

func TestAutoDiscoverCreatesOrderpointsFromShortages(t *testing.T) {
	o, f := newCycle(t)
	f.stock.SetShortages([]repository.ShortageLine{
		{ProductID: 2, LocationID: 2, CompanyID: 1, Shortage: decimal.NewFromInt(-15)},
		{ProductID: 2, LocationID: 4, CompanyID: 1, Shortage: decimal.NewFromInt(-5)}, // not replenishable
	})

	if err := o.AutoDiscover(context.Background(), 1); err != nil {
		t.Fatalf("auto discover: %v", err)
	}

	created, err := f.ops.ByIDs(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("by ids: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("orderpoints: got %d, want 1; non-replenishable locations must be skipped", len(created))
	}
	op := created[0]
	if op.Trigger != domain.TriggerManual || op.Origin != domain.OriginAuto {
		t.Fatalf("classification: trigger=%s origin=%s", op.Trigger, op.Origin)
	}
	if !op.QtyToOrderComputed.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("suggested qty: got %s, want 15", op.QtyToOrderComputed)
	}

	// A second pass over the same shortage is a no-op: the existing
	// orderpoint already covers the pair.
	if err := o.AutoDiscover(context.Background(), 1); err != nil {
		t.Fatalf("second auto discover: %v", err)
	}
	all, _ := f.ops.ByIDs(context.Background(), []int64{1, 2, 3})
	if len(all) != 1 {
		t.Fatalf("orderpoints after rediscovery: got %d, want 1", len(all))
	}
}

func TestAutoDiscoverScansLeadTimeHorizon(t *testing.T) {
	o, f := newCycle(t)

	// The buy rule carries a 2-day lead, so discovery must look 2 days
	// ahead: a shortage materializing within that window is actionable
	// now, one beyond it is not.
	f.stock.AddShortageAt(repository.ShortageLine{
		ProductID: 1, LocationID: 2, CompanyID: 1, Shortage: decimal.NewFromInt(-8),
	}, clock.AddDays(cycleStart, 2))
	f.stock.AddShortageAt(repository.ShortageLine{
		ProductID: 2, LocationID: 2, CompanyID: 1, Shortage: decimal.NewFromInt(-4),
	}, clock.AddDays(cycleStart, 5))

	if err := o.AutoDiscover(context.Background(), 1); err != nil {
		t.Fatalf("auto discover: %v", err)
	}

	created, err := f.ops.ByIDs(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("by ids: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("orderpoints: got %d, want 1 inside the lead-time horizon", len(created))
	}
	op := created[0]
	if op.ProductID != 1 {
		t.Fatalf("discovered product: got %d, want 1", op.ProductID)
	}
	if !op.QtyToOrderComputed.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("suggested qty: got %s, want 8", op.QtyToOrderComputed)
	}
}

func TestGarbageCollectReclaimsSpentAutoOrderpoints(t *testing.T) {
	o, f := newCycle(t)

	spent := &domain.Orderpoint{
		ProductID: 1, LocationID: 2, WarehouseID: 1, CompanyID: 1,
		Trigger: domain.TriggerManual, Origin: domain.OriginAuto, Active: true,
		QtyMultiple: decimal.NewFromInt(1),
	}
	if err := f.ops.Create(context.Background(), spent); err != nil {
		t.Fatalf("create: %v", err)
	}
	live := &domain.Orderpoint{
		ProductID: 2, LocationID: 2, WarehouseID: 1, CompanyID: 1,
		Trigger: domain.TriggerManual, Origin: domain.OriginAuto, Active: true,
		QtyMultiple:        decimal.NewFromInt(1),
		QtyToOrderComputed: decimal.NewFromInt(9),
	}
	if err := f.ops.Create(context.Background(), live); err != nil {
		t.Fatalf("create: %v", err)
	}
	operator := f.addOrderpoint(t, 1, 3, 0, 0)

	if err := o.GarbageCollect(context.Background()); err != nil {
		t.Fatalf("gc: %v", err)
	}

	if _, err := f.ops.Get(context.Background(), spent.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("spent auto orderpoint survived garbage collection")
	}
	if _, err := f.ops.Get(context.Background(), live.ID); err != nil {
		t.Fatal("auto orderpoint with a pending suggestion was collected")
	}
	if _, err := f.ops.Get(context.Background(), operator.ID); err != nil {
		t.Fatal("operator-created orderpoint was collected")
	}
}

func TestReplenishForceToMax(t *testing.T) {
	o, f := newCycle(t)
	op := f.addOrderpoint(t, 1, 2, 10, 50)
	f.stock.SetForecast(1, 2, decimal.NewFromInt(30))

	// Above the minimum: a normal run orders nothing.
	if err := o.Replenish(context.Background(), []int64{op.ID}, false); err != nil {
		t.Fatalf("replenish: %v", err)
	}
	if len(f.orders.Orders) != 0 {
		t.Fatalf("orders: got %d, want none above the minimum", len(f.orders.Orders))
	}

	if err := o.Replenish(context.Background(), []int64{op.ID}, true); err != nil {
		t.Fatalf("force to max: %v", err)
	}
	if len(f.orders.Orders) != 1 {
		t.Fatalf("orders: got %d, want 1", len(f.orders.Orders))
	}
	if !f.orders.Orders[0].Quantity.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("quantity: got %s, want 20 to fill up to the maximum", f.orders.Orders[0].Quantity)
	}
}

func TestReplenishUnknownIDs(t *testing.T) {
	o, _ := newCycle(t)
	if err := o.Replenish(context.Background(), []int64{404}, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown ids: got %v, want ErrNotFound", err)
	}
}

func TestSnooze(t *testing.T) {
	o, f := newCycle(t)
	manual := &domain.Orderpoint{
		ProductID: 1, LocationID: 2, WarehouseID: 1, CompanyID: 1,
		Trigger: domain.TriggerManual, Origin: domain.OriginOperator, Active: true,
		QtyMultiple: decimal.NewFromInt(1),
	}
	if err := f.ops.Create(context.Background(), manual); err != nil {
		t.Fatalf("create: %v", err)
	}
	auto := f.addOrderpoint(t, 2, 2, 0, 0)

	until := cycleStart.Add(48 * time.Hour)
	if err := o.Snooze(context.Background(), manual.ID, until); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	saved, _ := f.ops.Get(context.Background(), manual.ID)
	if saved.SnoozedUntil == nil || !saved.SnoozedUntil.Equal(until) {
		t.Fatal("snooze date not persisted")
	}

	if err := o.Snooze(context.Background(), auto.ID, until); !domain.IsValidation(err) {
		t.Fatalf("auto orderpoint snooze: got %v, want validation error", err)
	}
	if err := o.Snooze(context.Background(), manual.ID, cycleStart.Add(-time.Hour)); !domain.IsValidation(err) {
		t.Fatalf("past snooze: got %v, want validation error", err)
	}
}
