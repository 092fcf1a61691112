package repository

import (
	"context"
	"time"

	"github.com/andresuchdata/orderpoint/internal/domain"
)

// CronStore is the persistence surface of the cron scheduler. The
// postgres implementation backs it with row locks; the memory
// implementation backs the scheduler tests.
type CronStore interface {
	// ReadyJobIDs returns the ids of jobs ready at now, ordered by
	// (failure_count, mean_duration, id) so healthy cheap jobs go first.
	ReadyJobIDs(ctx context.Context, now time.Time) ([]int64, error)

	// Acquire takes the per-job lock without waiting. It fails with
	// domain.ErrJobLocked when another worker holds the job and with
	// domain.ErrJobNotReady when the ready predicate no longer holds.
	Acquire(ctx context.Context, id int64, now time.Time) (CronLease, error)

	// AcquireDirect is Acquire with the ready predicate relaxed to
	// active-only, used for operator-initiated direct runs.
	AcquireDirect(ctx context.Context, id int64) (CronLease, error)

	CreateJob(ctx context.Context, job *domain.CronJob) error
	GetJob(ctx context.Context, id int64) (*domain.CronJob, error)
	ListJobs(ctx context.Context) ([]*domain.CronJob, error)

	// CreateTrigger enqueues a one-shot execution request.
	CreateTrigger(ctx context.Context, cronID int64, at time.Time) error

	// OldestReadyNextcall returns the oldest nextcall among ready jobs,
	// or nil when none is ready. Used for zombie-module recovery.
	OldestReadyNextcall(ctx context.Context, now time.Time) (*time.Time, error)

	// Progress records commit independently of the lease transaction so
	// partial work survives an action rollback.
	CreateProgress(ctx context.Context, cronID int64, timedOutCounter int) (int64, error)
	UpdateProgress(ctx context.Context, progressID int64, done, remaining int64, deactivate bool) error
	FinishProgress(ctx context.Context, progressID int64, duration float64) error
	ResetTimedOut(ctx context.Context, progressID int64) error
	LatestProgress(ctx context.Context, cronID int64) (*domain.CronProgress, error)

	// VacuumTriggers and VacuumProgress delete at most limit stale rows
	// and return how many were removed.
	VacuumTriggers(ctx context.Context, before time.Time, limit int) (int64, error)
	VacuumProgress(ctx context.Context, before time.Time, limit int) (int64, error)

	// Notify wakes idle workers over the cron_trigger channel. Best
	// effort; a lost notification only delays the next poll.
	Notify(ctx context.Context) error
}

// CronLease is one acquired job. Mutations made through Job() are
// persisted by Save and become visible at Commit; Close rolls back a
// lease that was never committed.
type CronLease interface {
	Job() *domain.CronJob

	// PrevProgress is the most recent progress record at acquisition
	// time, nil for a first run.
	PrevProgress() *domain.CronProgress

	// ConsumeTriggers deletes the triggers with call_at at or before
	// now and returns how many were consumed.
	ConsumeTriggers(ctx context.Context, now time.Time) (int64, error)

	// AddTrigger enqueues a trigger inside the lease transaction, used
	// to make a partially done job immediately eligible again.
	AddTrigger(ctx context.Context, at time.Time) error

	Save(ctx context.Context) error
	Commit() error
	Close() error
}

// ModuleStore exposes the installed-module registry the scheduler
// checks before running anything.
type ModuleStore interface {
	// BaseVersion returns the recorded version of the base module, nil
	// when the column is unset.
	BaseVersion(ctx context.Context) (*string, error)

	// TransientCount counts modules in an installing or upgrading state.
	TransientCount(ctx context.Context) (int, error)

	// ResetTransient force-clears transient states after a crashed
	// upgrade left them behind.
	ResetTransient(ctx context.Context) error
}
