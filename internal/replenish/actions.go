package replenish

import (
	"context"

	"github.com/andresuchdata/orderpoint/internal/cron"
)

// Registered cron action names.
const (
	ActionReplenish    = "orderpoint.replenish"
	ActionOrderpointGC = "orderpoint.gc"
)

// NewReplenishAction returns the scheduled replenishment cycle: one
// company per iteration, progress reported after each, so the executor
// can hand back control between companies and resume via a trigger.
func NewReplenishAction(o *Orchestrator) cron.Action {
	return func(ctx context.Context, ec *cron.ExecutionContext) error {
		companies, err := o.ops.Companies(ctx)
		if err != nil {
			return err
		}
		for i, companyID := range companies {
			if err := o.Run(ctx, companyID, true, false); err != nil {
				return err
			}
			remaining := int64(len(companies) - i - 1)
			if err := ec.NotifyProgress(ctx, 1, remaining, false); err != nil {
				return err
			}
		}
		return nil
	}
}

// NewOrderpointGCAction returns the standalone auto-orderpoint sweep.
func NewOrderpointGCAction(o *Orchestrator) cron.Action {
	return func(ctx context.Context, ec *cron.ExecutionContext) error {
		if err := o.GarbageCollect(ctx); err != nil {
			return err
		}
		return ec.NotifyProgress(ctx, 1, 0, false)
	}
}

// RegisterActions wires the replenishment actions into a registry.
func RegisterActions(reg *cron.Registry, o *Orchestrator) {
	reg.MustRegister(ActionReplenish, NewReplenishAction(o))
	reg.MustRegister(ActionOrderpointGC, NewOrderpointGCAction(o))
}
