package replenish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/clock"
	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/forecast"
	"github.com/andresuchdata/orderpoint/internal/repository"
	"github.com/andresuchdata/orderpoint/internal/rules"
)

// batchSize bounds one orchestrator batch so a huge orderpoint set
// cannot hold a transaction open for the whole cycle.
const batchSize = 1000

const activityModel = "orderpoint"

// Orchestrator drives active orderpoints through one reorder cycle:
// recompute quantities, emit procurement requests, surface per-point
// failures as follow-ups, garbage-collect spent auto orderpoints.
type Orchestrator struct {
	ops        repository.OrderpointRepository
	products   repository.ProductReader
	locations  repository.LocationReader
	stock      repository.StockQuerier
	forecaster *forecast.Engine
	engine     *rules.Engine
	rules      repository.RuleReader
	activities repository.ActivityRepository
	clk        clock.Clock
	log        zerolog.Logger
}

func NewOrchestrator(
	ops repository.OrderpointRepository,
	products repository.ProductReader,
	locations repository.LocationReader,
	stock repository.StockQuerier,
	forecaster *forecast.Engine,
	engine *rules.Engine,
	ruleReader repository.RuleReader,
	activities repository.ActivityRepository,
	clk clock.Clock,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		ops:        ops,
		products:   products,
		locations:  locations,
		stock:      stock,
		forecaster: forecaster,
		engine:     engine,
		rules:      ruleReader,
		activities: activities,
		clk:        clk,
		log:        log,
	}
}

// Run processes every current orderpoint of a company in batches. In
// batch-job mode (useNewCursor) a failing batch is logged and the run
// continues; interactively the error is returned to the caller.
func (o *Orchestrator) Run(ctx context.Context, companyID int64, useNewCursor, raiseOnError bool) error {
	if err := o.AutoDiscover(ctx, companyID); err != nil {
		if raiseOnError {
			return err
		}
		o.log.Error().Err(err).Int64("company_id", companyID).Msg("orderpoint auto-discovery failed")
	}

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := o.ops.SelectBatch(ctx, companyID, afterID, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID

		if err := o.processBatch(ctx, batch, raiseOnError); err != nil {
			if useNewCursor {
				o.log.Error().Err(err).Int64("company_id", companyID).Msg("replenishment batch aborted, continuing")
				continue
			}
			return err
		}

		if len(batch) < batchSize {
			break
		}
	}

	return o.GarbageCollect(ctx)
}

// GarbageCollect deletes auto-discovered orderpoints whose suggested
// quantity dropped to zero or below.
func (o *Orchestrator) GarbageCollect(ctx context.Context) error {
	deleted, err := o.ops.DeleteAutoGenerated(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		o.log.Info().Int64("deleted", deleted).Msg("garbage collected auto orderpoints")
	}
	return nil
}

// processBatch recomputes the batch in one pass, emits the procurement
// requests, then opens follow-ups for the failures. Failing orderpoints
// never abort their siblings.
func (o *Orchestrator) processBatch(ctx context.Context, batch []*domain.Orderpoint, raiseOnError bool) error {
	var reqs []domain.ProcurementRequest
	byRef := make(map[string]*domain.Orderpoint, len(batch))

	// Snoozing is a manual-trigger feature and SelectBatch only serves
	// auto-triggered rows, so no snooze filter is needed here.
	for _, op := range batch {
		req, err := o.buildRequest(ctx, op, false)
		if err != nil {
			if raiseOnError {
				return err
			}
			o.recordFailure(ctx, op, err.Error())
			continue
		}
		if req == nil {
			continue
		}
		reqs = append(reqs, *req)
		byRef[req.Reference] = op
	}

	if len(reqs) == 0 {
		return nil
	}

	result, err := o.engine.Run(ctx, reqs)
	if err != nil {
		return err
	}

	for _, failure := range result.Failed {
		op := byRef[failure.Request.Reference]
		if op == nil {
			continue
		}
		o.recordFailure(ctx, op, failure.Message)
	}

	if result.AllFailed() {
		err := fmt.Errorf("every orderpoint in the batch failed procurement")
		if raiseOnError {
			return err
		}
		o.log.Error().Int("failed", len(result.Failed)).Msg(err.Error())
	}
	return nil
}

// buildRequest recomputes the orderpoint and returns its procurement
// request, nil when there is nothing to order.
func (o *Orchestrator) buildRequest(ctx context.Context, op *domain.Orderpoint, forceToMax bool) (*domain.ProcurementRequest, error) {
	product, err := o.products.Get(ctx, op.ProductID)
	if err != nil {
		return nil, fmt.Errorf("orderpoint %d: %w", op.ID, err)
	}

	var comp *forecast.Computation
	if forceToMax {
		comp, err = o.forecaster.ForceToMax(ctx, op, product)
	} else {
		comp, err = o.forecaster.Compute(ctx, op, product)
	}
	if err != nil {
		return nil, fmt.Errorf("orderpoint %d: %w", op.ID, err)
	}

	// Derived quantities are recomputed once per cycle, here.
	op.QtyToOrderComputed = comp.Qty
	if err := o.ops.SetComputedQty(ctx, op.ID, comp.Qty); err != nil {
		return nil, err
	}

	qty := op.QtyToOrder()
	if !qty.IsPositive() {
		return nil, nil
	}

	opID := op.ID
	req := domain.NewProcurementRequest(op.ProductID, qty, op.LocationID, op.CompanyID)
	req.UomRounding = product.UomRounding
	req.Origin = fmt.Sprintf("reordering rule %d", op.ID)
	req.PlannedDate = comp.PlannedDate
	req.Deadline = comp.LeadDaysDate
	req.RouteID = op.RouteID
	req.OrderpointID = &opID
	req.GroupID = op.GroupID
	return &req, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, op *domain.Orderpoint, message string) {
	product, err := o.products.Get(ctx, op.ProductID)
	if err != nil {
		o.log.Error().Err(err).Int64("orderpoint_id", op.ID).Msg("cannot resolve product for follow-up")
		return
	}

	note := fmt.Sprintf("Replenishment of product %q failed: %s", product.Name, message)
	created, err := o.activities.EnsureWarning(ctx, activityModel, op.ID, product.ResponsibleID, "Replenishment error", note)
	if err != nil {
		o.log.Error().Err(err).Int64("orderpoint_id", op.ID).Msg("cannot open follow-up")
		return
	}
	if created {
		o.log.Warn().Int64("orderpoint_id", op.ID).Str("reason", message).Msg("replenishment failed, follow-up opened")
	}
}

// Replenish is the operator-initiated single-step run over an explicit
// orderpoint subset. forceToMax fills up to the maximum regardless of
// the minimum test.
func (o *Orchestrator) Replenish(ctx context.Context, ids []int64, forceToMax bool) error {
	ops, err := o.ops.ByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return domain.ErrNotFound
	}

	var reqs []domain.ProcurementRequest
	byRef := make(map[string]*domain.Orderpoint, len(ops))
	for _, op := range ops {
		req, err := o.buildRequest(ctx, op, forceToMax)
		if err != nil {
			return err
		}
		if req == nil {
			continue
		}
		reqs = append(reqs, *req)
		byRef[req.Reference] = op
	}
	if len(reqs) == 0 {
		return nil
	}

	result, err := o.engine.Run(ctx, reqs)
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		for _, failure := range result.Failed {
			if op := byRef[failure.Request.Reference]; op != nil {
				o.recordFailure(ctx, op, failure.Message)
			}
		}
		return fmt.Errorf("replenishment failed for %d of %d orderpoints", len(result.Failed), len(reqs))
	}
	return nil
}

// Snooze postpones a manual orderpoint until the given date.
func (o *Orchestrator) Snooze(ctx context.Context, id int64, until time.Time) error {
	op, err := o.ops.Get(ctx, id)
	if err != nil {
		return err
	}
	if op.Trigger != domain.TriggerManual {
		return domain.NewValidationError("only manually triggered orderpoints can be snoozed")
	}
	if !until.After(o.clk.Now()) {
		return domain.NewValidationError("snooze date must be in the future")
	}
	return o.ops.SetSnooze(ctx, id, until)
}

// AutoDiscover creates a zero-threshold manual orderpoint for every
// (product, location) pair whose forecast goes negative within the
// company's worst-case lead time and which no orderpoint covers yet.
// Scanning only today would miss shortages that materialize while the
// replacement supply is still in transit. Auto-origin orderpoints are
// reclaimed by GarbageCollect once their suggestion is consumed.
func (o *Orchestrator) AutoDiscover(ctx context.Context, companyID int64) error {
	maxLead, err := o.rules.MaxLeadDays(ctx, companyID)
	if err != nil {
		return err
	}
	horizon := clock.AddDays(o.clk.Now(), maxLead)
	shortages, err := o.stock.NegativeForecasts(ctx, companyID, horizon)
	if err != nil {
		return err
	}
	for _, line := range shortages {
		loc, err := o.locations.Get(ctx, line.LocationID)
		if err != nil {
			return fmt.Errorf("shortage location %d: %w", line.LocationID, err)
		}
		if !loc.Replenish {
			continue
		}

		op := &domain.Orderpoint{
			ProductID:   line.ProductID,
			LocationID:  line.LocationID,
			WarehouseID: loc.WarehouseID,
			CompanyID:   line.CompanyID,
			Trigger:     domain.TriggerManual,
			Origin:      domain.OriginAuto,
			Active:      true,
			QtyMultiple: decimal.NewFromInt(1),
		}
		op.QtyToOrderComputed = line.Shortage.Neg()

		err = o.ops.Create(ctx, op)
		if err != nil {
			// Already covered by an existing orderpoint.
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				continue
			}
			return err
		}
		o.log.Info().
			Int64("product_id", line.ProductID).
			Int64("location_id", line.LocationID).
			Str("shortage", line.Shortage.String()).
			Msg("auto-created orderpoint for negative forecast")
	}
	return nil
}
