package rules

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

// RunResult is the per-request outcome of one rule engine pass. Errors
// are data, not control flow: callers decide whether a failed request
// aborts anything.
type RunResult struct {
	OK     []domain.ProcurementRequest
	Failed []domain.ProcurementFailure
}

// AllFailed reports whether no request of a non-empty pass succeeded.
func (r *RunResult) AllFailed() bool {
	return len(r.OK) == 0 && len(r.Failed) > 0
}

// Engine turns procurement requests into downstream supply documents by
// resolving the routing graph. Each request reaches the runner exactly
// once per cycle; failures are surfaced per request.
type Engine struct {
	selector  *Selector
	products  repository.ProductReader
	locations repository.LocationReader
	runner    Runner
	log       zerolog.Logger
}

// Runner materializes a resolved (rule, request) pair. Pluggable so the
// transport producing actual purchase or manufacturing documents stays
// external.
type Runner interface {
	Run(ctx context.Context, rule *domain.Rule, req domain.ProcurementRequest) error
}

func NewEngine(selector *Selector, products repository.ProductReader, locations repository.LocationReader, runner Runner, log zerolog.Logger) *Engine {
	return &Engine{
		selector:  selector,
		products:  products,
		locations: locations,
		runner:    runner,
		log:       log,
	}
}

// Run resolves and executes every request. The returned error reports
// infrastructure trouble only; per-request failures land in the result.
func (e *Engine) Run(ctx context.Context, reqs []domain.ProcurementRequest) (*RunResult, error) {
	result := &RunResult{}

	for _, req := range reqs {
		if err := e.runOne(ctx, req); err != nil {
			result.Failed = append(result.Failed, domain.ProcurementFailure{
				Request: req,
				Message: err.Error(),
			})
			continue
		}
		result.OK = append(result.OK, req)
	}
	return result, nil
}

func (e *Engine) runOne(ctx context.Context, req domain.ProcurementRequest) error {
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("procurement quantity must be positive, got %s", req.Quantity)
	}

	product, err := e.products.Get(ctx, req.ProductID)
	if err != nil {
		return fmt.Errorf("product %d: %w", req.ProductID, err)
	}
	location, err := e.locations.Get(ctx, req.LocationID)
	if err != nil {
		return fmt.Errorf("location %d: %w", req.LocationID, err)
	}

	rule, err := e.selector.Select(ctx, SelectArgs{
		LocationID:      req.LocationID,
		RouteID:         req.RouteID,
		ProductRouteIDs: product.RouteIDs,
		WarehouseID:     location.WarehouseID,
	})
	if err != nil {
		return err
	}

	return e.runner.Run(ctx, rule, req)
}

// SupplyRunner is the default Runner: it writes draft supply orders.
// Requests sharing a procurement group are eligible for consolidation
// downstream; the group is forwarded according to the rule's
// propagation policy.
type SupplyRunner struct {
	orders repository.SupplyOrderWriter
}

func NewSupplyRunner(orders repository.SupplyOrderWriter) *SupplyRunner {
	return &SupplyRunner{orders: orders}
}

func (r *SupplyRunner) Run(ctx context.Context, rule *domain.Rule, req domain.ProcurementRequest) error {
	var group *int64
	switch rule.GroupPropagation {
	case domain.PropagateGroup:
		group = req.GroupID
	case domain.FixedGroup, domain.NoGroup:
		group = nil
	}

	order := &domain.SupplyOrder{
		Kind:        rule.Action,
		Reference:   req.Reference,
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
		SourceID:    rule.SourceLocationID,
		DestID:      rule.DestLocationID,
		CompanyID:   req.CompanyID,
		GroupID:     group,
		PlannedDate: req.PlannedDate,
		Origin:      req.Origin,
		// Kept so the next replenishment cycle sees this order as supply
		// already in progress and does not order the shortage again.
		OrderpointID: req.OrderpointID,
		State:        domain.SupplyOrderDraft,
	}
	if !order.Quantity.IsPositive() {
		return fmt.Errorf("refusing to create an empty supply order for product %d", req.ProductID)
	}
	return r.orders.Create(ctx, order)
}
