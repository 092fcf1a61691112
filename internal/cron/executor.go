package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/orderpoint/internal/clock"
	"github.com/andresuchdata/orderpoint/internal/config"
	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

// Executor runs one acquired job within a time budget and classifies
// the outcome. Progress records commit independently of the job's own
// work so partial iterations survive an action failure.
type Executor struct {
	store    repository.CronStore
	registry *Registry
	clk      clock.Clock
	cfg      config.CronConfig
	admin    AdminNotifier
	log      zerolog.Logger
}

func NewExecutor(store repository.CronStore, registry *Registry, clk clock.Clock, cfg config.CronConfig, admin AdminNotifier, log zerolog.Logger) *Executor {
	return &Executor{
		store:    store,
		registry: registry,
		clk:      clk,
		cfg:      cfg,
		admin:    admin,
		log:      log,
	}
}

// Run executes the leased job and persists the outcome on the lease.
// The caller commits the lease.
func (e *Executor) Run(ctx context.Context, lease repository.CronLease, budget time.Duration) (domain.CompletionStatus, error) {
	job := lease.Job()
	start := e.clk.Now()

	if _, err := lease.ConsumeTriggers(ctx, start); err != nil {
		return domain.Failed, err
	}

	status, ec, err := e.execute(ctx, lease, budget, start)
	if err != nil {
		// Infrastructure failure around the action, not an action
		// error: propagate with the lease untouched.
		return status, err
	}

	now := e.clk.Now()
	duration := now.Sub(start)
	job.RecordRun(now, duration, status)

	switch status {
	case domain.FullyDone, domain.Failed:
		job.AdvanceNextcall(now)
		last := now
		job.Lastcall = &last
	case domain.PartiallyDone:
		// Leave nextcall alone; a fresh trigger makes the job
		// immediately eligible for the next worker poll.
		if err := lease.AddTrigger(ctx, now); err != nil {
			return status, err
		}
		if err := e.store.Notify(ctx); err != nil {
			e.log.Warn().Err(err).Int64("cron_id", job.ID).Msg("failed to notify workers of partial progress")
		}
	}

	switch status {
	case domain.Failed:
		if job.MarkFailure(now, FailCountThreshold, FailTimeThreshold) {
			job.Deactivate()
			e.notifyAdminDeactivated(ctx, job)
		}
	case domain.FullyDone, domain.PartiallyDone:
		job.ResetFailures()
	}

	if ec != nil && ec.deactivate {
		// Requested by the action itself. Last writer wins against a
		// concurrent operator reactivation.
		e.log.Warn().Int64("cron_id", job.ID).Str("name", job.Name).Msg("cron job deactivated itself via progress report")
		job.Active = false
	}

	if err := lease.Save(ctx); err != nil {
		return status, err
	}

	evt := e.log.Info().
		Int64("cron_id", job.ID).
		Str("name", job.Name).
		Str("status", string(status)).
		Dur("duration", duration)
	if ec != nil {
		evt = evt.Int64("done", ec.Done()).Int64("remaining", ec.Remaining())
	}
	evt.Msg("cron job finished")
	return status, nil
}

// execute runs the action loop and returns the completion status. A
// nil error with status Failed means the action itself failed; a
// non-nil error means the execution machinery did.
func (e *Executor) execute(ctx context.Context, lease repository.CronLease, budget time.Duration, start time.Time) (domain.CompletionStatus, *ExecutionContext, error) {
	job := lease.Job()
	prev := lease.PrevProgress()

	// Circuit breaker: three consecutive timed-out executions without
	// any committed work classify the run as failed without attempting
	// the action again.
	if prev != nil && prev.TimedOutCounter >= ConsecutiveTimeoutForFailure && prev.Done == 0 {
		e.log.Warn().
			Int64("cron_id", job.ID).
			Str("name", job.Name).
			Int("timed_out", prev.TimedOutCounter).
			Msg("cron job skipped after repeated timeouts")
		if err := e.store.ResetTimedOut(ctx, prev.ID); err != nil {
			return domain.Failed, nil, err
		}
		return domain.Failed, nil, nil
	}

	action, err := e.registry.Get(job.Action)
	if err != nil {
		// Job rows referencing unregistered actions are rejected at
		// save time; reaching this means the registry changed.
		e.log.Error().Err(err).Int64("cron_id", job.ID).Msg("cron action is not registered")
		return domain.Failed, nil, nil
	}

	prevCounter := 0
	if prev != nil {
		prevCounter = prev.TimedOutCounter
	}

	// The counter is pre-incremented: if this process is killed before
	// the action returns, the record already reflects the timeout.
	progressID, err := e.store.CreateProgress(ctx, job.ID, prevCounter+1)
	if err != nil {
		return domain.Failed, nil, err
	}

	ec := &ExecutionContext{
		CronID:     job.ID,
		UserID:     job.UserID,
		Lastcall:   job.Lastcall,
		EndTime:    start.Add(e.jobBudget(budget)),
		store:      e.store,
		progressID: progressID,
	}

	status := e.loop(ctx, action, ec, job)

	// The action returned control, so this execution did not time out:
	// clear the pre-incremented counter and write the duration. An
	// action error still counts as a return here; the counter tracks
	// killed processes, not failures.
	duration := e.clk.Now().Sub(start).Seconds()
	if err := e.store.FinishProgress(ctx, progressID, duration); err != nil {
		return status, ec, err
	}

	return status, ec, nil
}

// loop re-invokes the action while it reports remaining work and the
// next iteration is estimated to fit the budget.
func (e *Executor) loop(ctx context.Context, action Action, ec *ExecutionContext, job *domain.CronJob) domain.CompletionStatus {
	for {
		iterStart := e.clk.Now()

		err := func() (actionErr error) {
			defer func() {
				if r := recover(); r != nil {
					actionErr = fmt.Errorf("cron action panicked: %v", r)
				}
			}()
			return action(ctx, ec)
		}()

		if err != nil {
			e.log.Error().Err(err).Int64("cron_id", job.ID).Str("name", job.Name).Msg("cron action failed")
			if ec.done > 0 {
				return domain.PartiallyDone
			}
			return domain.Failed
		}

		if ec.remaining <= 0 {
			return domain.FullyDone
		}

		now := e.clk.Now()
		iterDuration := now.Sub(iterStart)
		if soft := e.cfg.IterationLimit(); soft > 0 && iterDuration < soft {
			iterDuration = soft
		}
		if now.Add(iterDuration).After(ec.EndTime) {
			return domain.PartiallyDone
		}
	}
}

func (e *Executor) jobBudget(budget time.Duration) time.Duration {
	limit := budget
	if hard := e.cfg.JobLimit(); hard > 0 && (limit <= 0 || hard < limit) {
		limit = hard
	}
	if limit <= 0 {
		limit = DefaultJobTimeLimit
	}
	return limit
}

func (e *Executor) notifyAdminDeactivated(ctx context.Context, job *domain.CronJob) {
	msg := fmt.Sprintf("cron job %q (id %d) was deactivated after repeated failures", job.Name, job.ID)
	if e.admin == nil {
		return
	}
	if err := e.admin.NotifyAdmin(ctx, msg); err != nil {
		e.log.Warn().Err(err).Int64("cron_id", job.ID).Msg("failed to notify administrator")
	}
}

// LogAdminNotifier reports deactivations through the error log when no
// richer channel is wired.
type LogAdminNotifier struct {
	Log zerolog.Logger
}

func (n LogAdminNotifier) NotifyAdmin(ctx context.Context, message string) error {
	n.Log.Error().Msg(message)
	return nil
}
