package rules

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository/memory"
)

func newEngineFixture(t *testing.T) (*Engine, *memory.Catalog, *memory.SupplyOrderWriter) {
	t.Helper()
	c := memory.NewCatalog()
	c.AddLocation(domain.Location{ID: 1, Name: "WH", WarehouseID: 1})
	c.AddLocation(domain.Location{ID: 2, Name: "WH/Stock", ParentID: ptr(1), WarehouseID: 1})
	c.AddProduct(domain.Product{ID: 1, Name: "Bolt"})
	c.AddRule(domain.Rule{
		ID: 1, Action: domain.ActionBuy, DestLocationID: 2, RouteID: 1,
		RouteSequence: 10, GroupPropagation: domain.PropagateGroup, CompanyID: 1,
	})

	orders := memory.NewSupplyOrderWriter()
	engine := NewEngine(NewSelector(c.Rules(), c.Locations()), c, c.Locations(), NewSupplyRunner(orders), zerolog.Nop())
	return engine, c, orders
}

func request(qty int64) domain.ProcurementRequest {
	req := domain.NewProcurementRequest(1, decimal.NewFromInt(qty), 2, 1)
	req.Origin = "test"
	return req
}

func TestEngineRunCreatesSupplyOrders(t *testing.T) {
	engine, _, orders := newEngineFixture(t)

	result, err := engine.Run(context.Background(), []domain.ProcurementRequest{request(5), request(7)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.OK) != 2 || len(result.Failed) != 0 {
		t.Fatalf("result: %d ok, %d failed, want 2/0", len(result.OK), len(result.Failed))
	}
	if len(orders.Orders) != 2 {
		t.Fatalf("orders: got %d, want 2", len(orders.Orders))
	}
	if orders.Orders[0].Kind != domain.ActionBuy {
		t.Fatalf("order kind: got %s, want buy", orders.Orders[0].Kind)
	}
}

func TestEngineRunIsolatesFailures(t *testing.T) {
	engine, _, orders := newEngineFixture(t)

	bad := request(5)
	bad.ProductID = 999 // unknown product

	result, err := engine.Run(context.Background(), []domain.ProcurementRequest{bad, request(7)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.OK) != 1 || len(result.Failed) != 1 {
		t.Fatalf("result: %d ok, %d failed, want 1/1", len(result.OK), len(result.Failed))
	}
	if result.Failed[0].Request.Reference != bad.Reference {
		t.Fatal("failure not attributed to the bad request")
	}
	if len(orders.Orders) != 1 {
		t.Fatalf("orders: got %d, want 1; a failed sibling must not block the rest", len(orders.Orders))
	}
	if result.AllFailed() {
		t.Fatal("AllFailed reported true with one success")
	}
}

func TestEngineRunRejectsNonPositiveQuantity(t *testing.T) {
	engine, _, _ := newEngineFixture(t)

	result, err := engine.Run(context.Background(), []domain.ProcurementRequest{request(0)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.AllFailed() {
		t.Fatal("zero-quantity request did not fail")
	}
}

func TestSupplyRunnerGroupPropagation(t *testing.T) {
	group := int64(11)

	tests := []struct {
		name        string
		propagation domain.GroupPropagation
		wantGroup   *int64
	}{
		{"propagate forwards the group", domain.PropagateGroup, &group},
		{"fixed drops the group", domain.FixedGroup, nil},
		{"none drops the group", domain.NoGroup, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := memory.NewSupplyOrderWriter()
			runner := NewSupplyRunner(orders)

			rule := &domain.Rule{ID: 1, Action: domain.ActionBuy, DestLocationID: 2, GroupPropagation: tt.propagation}
			req := request(5)
			req.GroupID = &group

			if err := runner.Run(context.Background(), rule, req); err != nil {
				t.Fatalf("run: %v", err)
			}
			got := orders.Orders[0].GroupID
			if (got == nil) != (tt.wantGroup == nil) {
				t.Fatalf("group: got %v, want %v", got, tt.wantGroup)
			}
			if got != nil && *got != *tt.wantGroup {
				t.Fatalf("group: got %d, want %d", *got, *tt.wantGroup)
			}
		})
	}
}
