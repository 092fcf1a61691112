package forecast

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/clock"
	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/leadtime"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

// Engine computes the quantity an orderpoint should order this cycle.
type Engine struct {
	stock    repository.StockQuerier
	resolver *leadtime.Resolver
	clk      clock.Clock

	// globalVisibilityDays is the company-wide add-on. It widens the
	// forecast horizon and pulls the procurement planned date earlier.
	globalVisibilityDays int
}

func NewEngine(stock repository.StockQuerier, resolver *leadtime.Resolver, clk clock.Clock, globalVisibilityDays int) *Engine {
	return &Engine{
		stock:                stock,
		resolver:             resolver,
		clk:                  clk,
		globalVisibilityDays: globalVisibilityDays,
	}
}

// Computation carries the derived values of one orderpoint evaluation.
type Computation struct {
	LeadDaysDate time.Time
	// PlannedDate is the procurement date handed to the rule engine:
	// the lead date pulled earlier by the global visibility window.
	PlannedDate time.Time
	// Horizon is the date the stock forecast is evaluated at: the lead
	// date pushed later by the visibility windows.
	Horizon  time.Time
	Forecast decimal.Decimal
	Qty      decimal.Decimal
}

// Compute runs the orderpoint quantity rule: when forecasted stock over
// the horizon falls below the minimum, order back up to the maximum (or
// the minimum when no maximum is set), rounded to the quantity
// multiple.
func (e *Engine) Compute(ctx context.Context, op *domain.Orderpoint, product *domain.Product) (*Computation, error) {
	comp, forecast, err := e.prepare(ctx, op, product)
	if err != nil {
		return nil, err
	}

	if forecast.GreaterThanOrEqual(op.ProductMinQty) {
		comp.Qty = decimal.Zero
		return comp, nil
	}

	target := decimal.Max(op.ProductMinQty, op.ProductMaxQty)
	qty := target.Sub(forecast)

	if op.QtyMultiple.IsPositive() {
		remainder := qty.Mod(op.QtyMultiple)
		if remainder.IsPositive() && op.QtyMultiple.Sub(remainder).IsPositive() {
			if nearlyZero(op.ProductMaxQty, product.UomRounding) {
				// No ceiling: always round up to a full multiple.
				qty = qty.Add(op.QtyMultiple.Sub(remainder))
			} else {
				// Stay under the ceiling.
				qty = qty.Sub(remainder)
			}
		}
	}

	comp.Qty = qty
	return comp, nil
}

// ForceToMax bypasses the minimum test and fills the orderpoint up to
// its maximum, rounding up to the next multiple.
func (e *Engine) ForceToMax(ctx context.Context, op *domain.Orderpoint, product *domain.Product) (*Computation, error) {
	comp, forecast, err := e.prepare(ctx, op, product)
	if err != nil {
		return nil, err
	}

	qty := op.ProductMaxQty.Sub(forecast)
	if op.QtyMultiple.IsPositive() {
		remainder := qty.Mod(op.QtyMultiple)
		if remainder.IsPositive() {
			qty = qty.Add(op.QtyMultiple.Sub(remainder))
		}
	}
	if qty.IsNegative() {
		qty = decimal.Zero
	}

	comp.Qty = qty
	return comp, nil
}

func (e *Engine) prepare(ctx context.Context, op *domain.Orderpoint, product *domain.Product) (*Computation, decimal.Decimal, error) {
	leadDate, err := e.resolver.LeadDaysDate(ctx, op, product)
	if err != nil {
		return nil, decimal.Zero, err
	}

	comp := &Computation{
		LeadDaysDate: leadDate,
		PlannedDate:  clock.AddDays(leadDate, -e.globalVisibilityDays),
		Horizon:      clock.AddDays(leadDate, op.VisibilityDays+e.globalVisibilityDays),
	}

	available, err := e.stock.VirtualAvailable(ctx, op.ProductID, op.LocationID, comp.Horizon)
	if err != nil {
		return nil, decimal.Zero, err
	}

	inProgress, err := e.stock.QuantityInProgress(ctx, []int64{op.ID})
	if err != nil {
		return nil, decimal.Zero, err
	}

	forecast := available.Add(inProgress[op.ID])
	comp.Forecast = forecast
	return comp, forecast, nil
}

func nearlyZero(v, rounding decimal.Decimal) bool {
	if rounding.IsZero() {
		return v.IsZero()
	}
	return v.Abs().LessThan(rounding)
}
