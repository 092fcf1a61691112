package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

// CronStore is an in-memory CronStore used by the scheduler and
// executor tests. Locking semantics mirror the SKIP LOCKED behavior of
// the postgres implementation: acquiring a held job fails immediately.
type CronStore struct {
	mu sync.Mutex

	jobs     map[int64]*domain.CronJob
	triggers map[int64]*domain.CronTrigger
	progress map[int64]*domain.CronProgress
	locked   map[int64]bool

	nextJobID      int64
	nextTriggerID  int64
	nextProgressID int64

	// Notifications counts Notify calls so tests can assert wake-ups.
	Notifications int
}

func NewCronStore() *CronStore {
	return &CronStore{
		jobs:     make(map[int64]*domain.CronJob),
		triggers: make(map[int64]*domain.CronTrigger),
		progress: make(map[int64]*domain.CronProgress),
		locked:   make(map[int64]bool),
	}
}

func (s *CronStore) ready(job *domain.CronJob, now time.Time) bool {
	if !job.Active {
		return false
	}
	if !job.Nextcall.After(now) {
		return true
	}
	for _, t := range s.triggers {
		if t.CronID == job.ID && !t.CallAt.After(now) {
			return true
		}
	}
	return false
}

func (s *CronStore) ReadyJobIDs(ctx context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*domain.CronJob
	for _, job := range s.jobs {
		if s.ready(job, now) {
			ready = append(ready, job)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.FailureCount != b.FailureCount {
			return a.FailureCount < b.FailureCount
		}
		if a.MeanDuration != b.MeanDuration {
			return a.MeanDuration < b.MeanDuration
		}
		return a.ID < b.ID
	})

	ids := make([]int64, len(ready))
	for i, job := range ready {
		ids[i] = job.ID
	}
	return ids, nil
}

func (s *CronStore) Acquire(ctx context.Context, id int64, now time.Time) (repository.CronLease, error) {
	return s.acquire(id, &now)
}

func (s *CronStore) AcquireDirect(ctx context.Context, id int64) (repository.CronLease, error) {
	return s.acquire(id, nil)
}

func (s *CronStore) acquire(id int64, now *time.Time) (repository.CronLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotReady
	}
	if s.locked[id] {
		return nil, domain.ErrJobLocked
	}
	if now != nil {
		if !s.ready(job, *now) {
			return nil, domain.ErrJobNotReady
		}
	} else if !job.Active {
		return nil, domain.ErrJobNotReady
	}

	s.locked[id] = true
	copy := *job
	return &cronLease{store: s, job: &copy, prev: s.latestProgressLocked(id)}, nil
}

func (s *CronStore) latestProgressLocked(cronID int64) *domain.CronProgress {
	var latest *domain.CronProgress
	for _, p := range s.progress {
		if p.CronID != cronID {
			continue
		}
		if latest == nil || p.ID > latest.ID {
			latest = p
		}
	}
	if latest == nil {
		return nil
	}
	copy := *latest
	return &copy
}

func (s *CronStore) CreateJob(ctx context.Context, job *domain.CronJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextJobID++
	job.ID = s.nextJobID
	copy := *job
	s.jobs[job.ID] = &copy
	return nil
}

func (s *CronStore) GetJob(ctx context.Context, id int64) (*domain.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copy := *job
	return &copy, nil
}

func (s *CronStore) ListJobs(ctx context.Context) ([]*domain.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*domain.CronJob
	for _, job := range s.jobs {
		copy := *job
		jobs = append(jobs, &copy)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *CronStore) CreateTrigger(ctx context.Context, cronID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTriggerID++
	s.triggers[s.nextTriggerID] = &domain.CronTrigger{ID: s.nextTriggerID, CronID: cronID, CallAt: at}
	return nil
}

// TriggerCount reports the pending triggers of a job.
func (s *CronStore) TriggerCount(cronID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.triggers {
		if t.CronID == cronID {
			n++
		}
	}
	return n
}

func (s *CronStore) OldestReadyNextcall(ctx context.Context, now time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *time.Time
	for _, job := range s.jobs {
		if !s.ready(job, now) {
			continue
		}
		if oldest == nil || job.Nextcall.Before(*oldest) {
			t := job.Nextcall
			oldest = &t
		}
	}
	return oldest, nil
}

func (s *CronStore) CreateProgress(ctx context.Context, cronID int64, timedOutCounter int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProgressID++
	s.progress[s.nextProgressID] = &domain.CronProgress{
		ID:              s.nextProgressID,
		CronID:          cronID,
		CreateDate:      time.Now(),
		TimedOutCounter: timedOutCounter,
	}
	return s.nextProgressID, nil
}

func (s *CronStore) UpdateProgress(ctx context.Context, progressID int64, done, remaining int64, deactivate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[progressID]
	if !ok {
		return domain.ErrNotFound
	}
	p.Done = done
	p.Remaining = remaining
	p.Deactivate = deactivate
	return nil
}

func (s *CronStore) FinishProgress(ctx context.Context, progressID int64, duration float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[progressID]
	if !ok {
		return domain.ErrNotFound
	}
	p.TimedOutCounter = 0
	p.Duration = duration
	return nil
}

func (s *CronStore) ResetTimedOut(ctx context.Context, progressID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[progressID]
	if !ok {
		return domain.ErrNotFound
	}
	p.TimedOutCounter = 0
	return nil
}

func (s *CronStore) LatestProgress(ctx context.Context, cronID int64) (*domain.CronProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestProgressLocked(cronID), nil
}

// SeedProgress injects a progress record, used to simulate killed
// executions in circuit breaker tests.
func (s *CronStore) SeedProgress(p domain.CronProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProgressID++
	p.ID = s.nextProgressID
	s.progress[p.ID] = &p
}

func (s *CronStore) VacuumTriggers(ctx context.Context, before time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, t := range s.triggers {
		if int(deleted) >= limit {
			break
		}
		if t.CallAt.Before(before) {
			delete(s.triggers, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *CronStore) VacuumProgress(ctx context.Context, before time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, p := range s.progress {
		if int(deleted) >= limit {
			break
		}
		if p.CreateDate.Before(before) {
			delete(s.progress, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *CronStore) Notify(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Notifications++
	return nil
}

type cronLease struct {
	store    *CronStore
	job      *domain.CronJob
	prev     *domain.CronProgress
	released bool
}

func (l *cronLease) Job() *domain.CronJob                { return l.job }
func (l *cronLease) PrevProgress() *domain.CronProgress { return l.prev }

func (l *cronLease) ConsumeTriggers(ctx context.Context, now time.Time) (int64, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	var consumed int64
	for id, t := range l.store.triggers {
		if t.CronID == l.job.ID && !t.CallAt.After(now) {
			delete(l.store.triggers, id)
			consumed++
		}
	}
	return consumed, nil
}

func (l *cronLease) AddTrigger(ctx context.Context, at time.Time) error {
	return l.store.CreateTrigger(ctx, l.job.ID, at)
}

func (l *cronLease) Save(ctx context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	copy := *l.job
	l.store.jobs[l.job.ID] = &copy
	return nil
}

func (l *cronLease) Commit() error {
	return l.release()
}

func (l *cronLease) Close() error {
	return l.release()
}

func (l *cronLease) release() error {
	if l.released {
		return nil
	}
	l.released = true
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	delete(l.store.locked, l.job.ID)
	return nil
}

// ModuleStore is the in-memory module registry fake.
type ModuleStore struct {
	mu        sync.Mutex
	Version   *string
	Transient int
	Resets    int
}

func NewModuleStore(version string) *ModuleStore {
	return &ModuleStore{Version: &version}
}

func (s *ModuleStore) BaseVersion(ctx context.Context) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Version, nil
}

func (s *ModuleStore) TransientCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Transient, nil
}

func (s *ModuleStore) ResetTransient(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Transient = 0
	s.Resets++
	return nil
}
