package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/orderpoint/internal/clock"
	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

// Scheduler drives one worker's pass over the ready cron jobs. Multiple
// workers may run concurrently against the same database; coordination
// is entirely row locks, there is no shared in-process state.
type Scheduler struct {
	store    repository.CronStore
	modules  repository.ModuleStore
	executor *Executor
	registry *Registry
	clk      clock.Clock
	version  string
	log      zerolog.Logger
}

func NewScheduler(store repository.CronStore, modules repository.ModuleStore, executor *Executor, registry *Registry, clk clock.Clock, version string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		modules:  modules,
		executor: executor,
		registry: registry,
		clk:      clk,
		version:  version,
		log:      log,
	}
}

// ProcessJobs is the top-level worker entry point: gate checks, one
// ready-jobs snapshot, then acquire-execute-commit per job until the
// wall clock budget runs out.
func (s *Scheduler) ProcessJobs(ctx context.Context, softLimit time.Duration) error {
	now := s.clk.Now()

	if err := s.checkGates(ctx, now); err != nil {
		s.log.Warn().Err(err).Msg("cron pass skipped")
		return err
	}

	ids, err := s.store.ReadyJobIDs(ctx, now)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	deadline := now.Add(softLimit)
	for i, id := range ids {
		loopNow := s.clk.Now()
		if !loopNow.Before(deadline) {
			s.log.Info().Int("skipped", len(ids)-i).Msg("cron pass stopped at soft time limit")
			break
		}

		// Remaining wall time split evenly over the remaining jobs.
		budget := deadline.Sub(loopNow) / time.Duration(len(ids)-i)

		if err := s.runOne(ctx, id, loopNow, budget); err != nil {
			if errors.Is(err, domain.ErrJobLocked) || errors.Is(err, domain.ErrJobNotReady) {
				continue
			}
			s.log.Error().Err(err).Int64("cron_id", id).Msg("cron job execution failed")
		}
	}
	return nil
}

func (s *Scheduler) runOne(ctx context.Context, id int64, now time.Time, budget time.Duration) error {
	lease, err := s.store.Acquire(ctx, id, now)
	if err != nil {
		return err
	}
	defer lease.Close()

	if _, err := s.executor.Run(ctx, lease, budget); err != nil {
		return err
	}
	return lease.Commit()
}

// DirectRun executes a job on operator request, with the ready
// predicate relaxed so a job whose nextcall is in the future still
// runs.
func (s *Scheduler) DirectRun(ctx context.Context, id int64) (domain.CompletionStatus, error) {
	lease, err := s.store.AcquireDirect(ctx, id)
	if err != nil {
		return domain.Failed, err
	}
	defer lease.Close()

	status, err := s.executor.Run(ctx, lease, 0)
	if err != nil {
		return status, err
	}
	return status, lease.Commit()
}

// Trigger enqueues one-shot executions and wakes workers when any of
// the requested times is already due.
func (s *Scheduler) Trigger(ctx context.Context, id int64, atTimes []time.Time) error {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return err
	}
	now := s.clk.Now()
	wake := false
	for _, at := range atTimes {
		if err := s.store.CreateTrigger(ctx, id, at); err != nil {
			return err
		}
		if !at.After(now) {
			wake = true
		}
	}
	if wake {
		if err := s.store.Notify(ctx); err != nil {
			s.log.Warn().Err(err).Msg("failed to notify workers of new trigger")
		}
	}
	return nil
}

// CreateJob validates the action name against the registry before
// persisting, then wakes workers if the job is already due.
func (s *Scheduler) CreateJob(ctx context.Context, job *domain.CronJob) error {
	if !s.registry.Has(job.Action) {
		return domain.NewValidationError(fmt.Sprintf("unknown cron action %q", job.Action))
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return err
	}
	if job.Active && !job.Nextcall.After(s.clk.Now()) {
		if err := s.store.Notify(ctx); err != nil {
			s.log.Warn().Err(err).Msg("failed to notify workers of new job")
		}
	}
	return nil
}

// checkGates refuses to run jobs when the schema version does not match
// this binary or when modules are mid-upgrade. A stuck upgrade older
// than zombieModuleAge is force-reset instead of blocking forever.
func (s *Scheduler) checkGates(ctx context.Context, now time.Time) error {
	version, err := s.modules.BaseVersion(ctx)
	if err != nil {
		return err
	}
	if version == nil {
		return fmt.Errorf("%w: base module has no recorded version", domain.ErrBadModuleState)
	}
	if *version != s.version {
		return fmt.Errorf("%w: database is %s, code is %s", domain.ErrBadVersion, *version, s.version)
	}

	transient, err := s.modules.TransientCount(ctx)
	if err != nil {
		return err
	}
	if transient == 0 {
		return nil
	}

	oldest, err := s.store.OldestReadyNextcall(ctx, now)
	if err != nil {
		return err
	}
	if oldest != nil && now.Sub(*oldest) > zombieModuleAge {
		s.log.Warn().Int("modules", transient).Msg("resetting zombie module states")
		return s.modules.ResetTransient(ctx)
	}
	return fmt.Errorf("%w: %d modules installing or upgrading", domain.ErrBadModuleState, transient)
}
