package cron

import (
	"context"
	"time"

	"github.com/andresuchdata/orderpoint/internal/repository"
)

// Thresholds governing failure accounting, the timeout circuit breaker
// and garbage collection.
const (
	FailCountThreshold           = 5
	FailTimeThreshold            = 7 * 24 * time.Hour
	ConsecutiveTimeoutForFailure = 3
	DefaultJobTimeLimit          = 60 * time.Second
	GCRetention                  = 7 * 24 * time.Hour

	// zombieModuleAge is how stale the oldest ready job must be before
	// a stuck module upgrade is considered dead and force-reset.
	zombieModuleAge = 5 * time.Hour
)

// ExecutionContext is the explicit state handed to a running action:
// identity, timing and the progress reporting channel. It replaces any
// ambient per-request state.
type ExecutionContext struct {
	CronID   int64
	UserID   int64
	Lastcall *time.Time

	// EndTime is the instant the action loop must not run past. Actions
	// sizing their own batches should stop before it.
	EndTime time.Time

	store      repository.CronStore
	progressID int64

	done       int64
	remaining  int64
	deactivate bool
}

// NotifyProgress commits the action's progress so far. done is the
// increment since the previous call; remaining is the work left. The
// committed record survives a later rollback of the action itself.
func (ec *ExecutionContext) NotifyProgress(ctx context.Context, done, remaining int64, deactivate bool) error {
	ec.done += done
	ec.remaining = remaining
	if deactivate {
		ec.deactivate = true
	}
	return ec.store.UpdateProgress(ctx, ec.progressID, ec.done, ec.remaining, ec.deactivate)
}

// Done reports the cumulative committed work of this execution.
func (ec *ExecutionContext) Done() int64 { return ec.done }

// Remaining reports the work left as of the last NotifyProgress call.
func (ec *ExecutionContext) Remaining() int64 { return ec.remaining }

// Action is a registered cron action. It may call NotifyProgress any
// number of times and should return once a batch of work is done; the
// executor re-invokes it while work remains and the budget allows.
type Action func(ctx context.Context, ec *ExecutionContext) error

// AdminNotifier is the best-effort channel used when a job is
// auto-deactivated.
type AdminNotifier interface {
	NotifyAdmin(ctx context.Context, message string) error
}
