package leadtime

import (
	"context"
	"time"

	"github.com/andresuchdata/orderpoint/internal/clock"
	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/rules"
)

// Resolver turns an orderpoint into the date its supply would become
// available, by walking the resolved rule chain.
type Resolver struct {
	selector *rules.Selector
	clk      clock.Clock
}

func NewResolver(selector *rules.Selector, clk clock.Clock) *Resolver {
	return &Resolver{selector: selector, clk: clk}
}

// LeadDays computes the total lead days of an orderpoint, including its
// own days_to_order buffer, with the per-component breakdown.
func (r *Resolver) LeadDays(ctx context.Context, op *domain.Orderpoint, product *domain.Product) (int, []rules.DelayComponent, error) {
	return r.selector.TotalDelay(ctx, product, rules.SelectArgs{
		LocationID:      op.LocationID,
		RouteID:         op.RouteID,
		ProductRouteIDs: product.RouteIDs,
		WarehouseID:     op.WarehouseID,
	}, op.DaysToOrder)
}

// LeadDaysDate is today plus the total lead days.
func (r *Resolver) LeadDaysDate(ctx context.Context, op *domain.Orderpoint, product *domain.Product) (time.Time, error) {
	days, _, err := r.LeadDays(ctx, op, product)
	if err != nil {
		return time.Time{}, err
	}
	return clock.AddDays(clock.Date(r.clk.Now()), days), nil
}
