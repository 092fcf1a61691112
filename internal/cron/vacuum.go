package cron

import (
	"context"

	"github.com/andresuchdata/orderpoint/internal/clock"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

// VacuumActionName is the registry name of the scheduler's own GC job.
const VacuumActionName = "cron.vacuum"

// vacuumBatch bounds one iteration of the GC action so it cannot hold
// the worker for long; leftover rows are reported as remaining work and
// the job resumes through the partial-progress protocol.
const vacuumBatch = 1000

// NewVacuumAction builds the "cron.vacuum" action: it deletes triggers
// and progress records older than GCRetention, a bounded batch per
// iteration.
func NewVacuumAction(store repository.CronStore, clk clock.Clock) Action {
	return func(ctx context.Context, ec *ExecutionContext) error {
		cutoff := clk.Now().Add(-GCRetention)

		triggers, err := store.VacuumTriggers(ctx, cutoff, vacuumBatch)
		if err != nil {
			return err
		}
		progress, err := store.VacuumProgress(ctx, cutoff, vacuumBatch)
		if err != nil {
			return err
		}

		deleted := triggers + progress
		var remaining int64
		if triggers == vacuumBatch || progress == vacuumBatch {
			// A full batch means there may be more; one unit of
			// remaining work makes the executor come back.
			remaining = 1
		}
		return ec.NotifyProgress(ctx, deleted, remaining, false)
	}
}
