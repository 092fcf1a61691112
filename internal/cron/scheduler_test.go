package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository/memory"
)

const testVersion = "1.0"

type schedHarness struct {
	*harness
	modules   *memory.ModuleStore
	scheduler *Scheduler
}

func newSchedHarness(t *testing.T) *schedHarness {
	t.Helper()
	h := newHarness(t)
	sh := &schedHarness{harness: h, modules: memory.NewModuleStore(testVersion)}
	sh.scheduler = NewScheduler(h.store, sh.modules, h.executor, h.registry, h.clk, testVersion, zerolog.Nop())
	return sh
}

func TestProcessJobsRunsDueJobs(t *testing.T) {
	h := newSchedHarness(t)
	ran := make(map[int64]bool)
	h.registry.MustRegister("mark", func(ctx context.Context, ec *ExecutionContext) error {
		ran[ec.CronID] = true
		return ec.NotifyProgress(ctx, 1, 0, false)
	})
	due := h.addJob(t, "mark")
	notDue := &domain.CronJob{
		Name:           "later",
		Action:         "mark",
		UserID:         1,
		Active:         true,
		IntervalNumber: 1,
		IntervalType:   domain.IntervalDays,
		Nextcall:       testStart.Add(time.Hour),
	}
	if err := h.store.CreateJob(context.Background(), notDue); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := h.scheduler.ProcessJobs(context.Background(), 15*time.Minute); err != nil {
		t.Fatalf("process jobs: %v", err)
	}

	if !ran[due.ID] {
		t.Fatal("due job did not run")
	}
	if ran[notDue.ID] {
		t.Fatal("future job ran ahead of its nextcall")
	}
}

func TestProcessJobsVersionGate(t *testing.T) {
	h := newSchedHarness(t)
	h.registry.MustRegister("noop", func(ctx context.Context, ec *ExecutionContext) error {
		t.Fatal("job ran despite the version gate")
		return nil
	})
	h.addJob(t, "noop")

	other := "0.9"
	h.modules.Version = &other
	if err := h.scheduler.ProcessJobs(context.Background(), time.Minute); !errors.Is(err, domain.ErrBadVersion) {
		t.Fatalf("version mismatch: got %v, want ErrBadVersion", err)
	}

	h.modules.Version = nil
	if err := h.scheduler.ProcessJobs(context.Background(), time.Minute); !errors.Is(err, domain.ErrBadModuleState) {
		t.Fatalf("missing version: got %v, want ErrBadModuleState", err)
	}
}

func TestProcessJobsModuleUpgradeGate(t *testing.T) {
	h := newSchedHarness(t)
	ran := false
	h.registry.MustRegister("noop", func(ctx context.Context, ec *ExecutionContext) error {
		ran = true
		return ec.NotifyProgress(ctx, 1, 0, false)
	})
	h.addJob(t, "noop")
	h.modules.Transient = 2

	if err := h.scheduler.ProcessJobs(context.Background(), time.Minute); !errors.Is(err, domain.ErrBadModuleState) {
		t.Fatalf("upgrade in flight: got %v, want ErrBadModuleState", err)
	}
	if ran {
		t.Fatal("job ran while modules were upgrading")
	}

	// The job has been ready for longer than the zombie cutoff: the
	// stuck state is reset and the pass continues.
	h.clk.Advance(6 * time.Hour)
	if err := h.scheduler.ProcessJobs(context.Background(), time.Minute); err != nil {
		t.Fatalf("zombie reset pass: %v", err)
	}
	if h.modules.Resets != 1 || h.modules.Transient != 0 {
		t.Fatalf("transient state not reset: resets=%d transient=%d", h.modules.Resets, h.modules.Transient)
	}
	if !ran {
		t.Fatal("job did not run once the zombie state was reset")
	}
}

func TestProcessJobsSkipsLockedJobs(t *testing.T) {
	h := newSchedHarness(t)
	ran := false
	h.registry.MustRegister("noop", func(ctx context.Context, ec *ExecutionContext) error {
		ran = true
		return ec.NotifyProgress(ctx, 1, 0, false)
	})
	job := h.addJob(t, "noop")

	// Another worker holds the row.
	lease, err := h.store.Acquire(context.Background(), job.ID, h.clk.Now())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Close()

	if err := h.scheduler.ProcessJobs(context.Background(), time.Minute); err != nil {
		t.Fatalf("process jobs: %v", err)
	}
	if ran {
		t.Fatal("locked job ran twice")
	}
}

func TestDirectRunIgnoresSchedule(t *testing.T) {
	h := newSchedHarness(t)
	h.registry.MustRegister("noop", func(ctx context.Context, ec *ExecutionContext) error {
		return ec.NotifyProgress(ctx, 1, 0, false)
	})
	job := &domain.CronJob{
		Name:           "future",
		Action:         "noop",
		UserID:         1,
		Active:         true,
		IntervalNumber: 1,
		IntervalType:   domain.IntervalDays,
		Nextcall:       testStart.Add(48 * time.Hour),
	}
	if err := h.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	status, err := h.scheduler.DirectRun(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("direct run: %v", err)
	}
	if status != domain.FullyDone {
		t.Fatalf("status: got %s, want fully_done", status)
	}
}

func TestDirectRunRefusesInactiveJob(t *testing.T) {
	h := newSchedHarness(t)
	h.registry.MustRegister("noop", func(ctx context.Context, ec *ExecutionContext) error {
		return ec.NotifyProgress(ctx, 1, 0, false)
	})
	job := &domain.CronJob{
		Name:           "off",
		Action:         "noop",
		UserID:         1,
		Active:         false,
		IntervalNumber: 1,
		IntervalType:   domain.IntervalDays,
		Nextcall:       testStart.Add(-time.Hour),
	}
	if err := h.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if _, err := h.scheduler.DirectRun(context.Background(), job.ID); !errors.Is(err, domain.ErrJobNotReady) {
		t.Fatalf("inactive job: got %v, want ErrJobNotReady", err)
	}
}

func TestTriggerWakesWorkersWhenDue(t *testing.T) {
	h := newSchedHarness(t)
	h.registry.MustRegister("noop", func(ctx context.Context, ec *ExecutionContext) error {
		return ec.NotifyProgress(ctx, 1, 0, false)
	})
	job := h.addJob(t, "noop")

	if err := h.scheduler.Trigger(context.Background(), job.ID, []time.Time{testStart.Add(time.Hour)}); err != nil {
		t.Fatalf("future trigger: %v", err)
	}
	if h.store.Notifications != 0 {
		t.Fatal("future-only trigger woke workers")
	}

	if err := h.scheduler.Trigger(context.Background(), job.ID, []time.Time{testStart}); err != nil {
		t.Fatalf("due trigger: %v", err)
	}
	if h.store.Notifications != 1 {
		t.Fatalf("notifications: got %d, want 1", h.store.Notifications)
	}
	if h.store.TriggerCount(job.ID) != 2 {
		t.Fatalf("triggers: got %d, want 2", h.store.TriggerCount(job.ID))
	}
}

func TestTriggerUnknownJob(t *testing.T) {
	h := newSchedHarness(t)
	err := h.scheduler.Trigger(context.Background(), 404, []time.Time{testStart})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown job: got %v, want ErrNotFound", err)
	}
}

func TestCreateJobValidatesAction(t *testing.T) {
	h := newSchedHarness(t)
	job := &domain.CronJob{
		Name:           "bad",
		Action:         "no.such.action",
		UserID:         1,
		Active:         true,
		IntervalNumber: 1,
		IntervalType:   domain.IntervalDays,
		Nextcall:       testStart,
	}
	err := h.scheduler.CreateJob(context.Background(), job)
	if !domain.IsValidation(err) {
		t.Fatalf("unknown action: got %v, want validation error", err)
	}
}

func TestCreateJobNotifiesWhenDue(t *testing.T) {
	h := newSchedHarness(t)
	h.registry.MustRegister("noop", func(ctx context.Context, ec *ExecutionContext) error {
		return ec.NotifyProgress(ctx, 1, 0, false)
	})
	job := &domain.CronJob{
		Name:           "due",
		Action:         "noop",
		UserID:         1,
		Active:         true,
		IntervalNumber: 1,
		IntervalType:   domain.IntervalDays,
		Nextcall:       testStart.Add(-time.Hour),
	}
	if err := h.scheduler.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if h.store.Notifications != 1 {
		t.Fatalf("notifications: got %d, want 1 for an already-due job", h.store.Notifications)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, ec *ExecutionContext) error { return nil }
	if err := r.Register("a", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("a", noop); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if err := r.Register("", noop); err == nil {
		t.Fatal("empty name accepted")
	}
	if !r.Has("a") {
		t.Fatal("registered action not found")
	}
	if _, err := r.Get("b"); err == nil {
		t.Fatal("unknown action lookup succeeded")
	}
}
