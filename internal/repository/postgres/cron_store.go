package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

// readyPredicate matches spec'd job readiness: active, and either due
// by schedule or woken by a pending trigger. $1 is "now".
const readyPredicate = `j.active AND (j.nextcall <= $1
	OR EXISTS (SELECT 1 FROM cron_trigger t WHERE t.cron_id = j.id AND t.call_at <= $1))`

type cronStore struct {
	db *DB
}

func NewCronStore(db *DB) repository.CronStore {
	return &cronStore{db: db}
}

func (s *cronStore) ReadyJobIDs(ctx context.Context, now time.Time) ([]int64, error) {
	query := `
		SELECT j.id
		FROM cron_job j
		WHERE ` + readyPredicate + `
		ORDER BY j.failure_count ASC, j.mean_duration ASC, j.id ASC
	`

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, now); err != nil {
		return nil, fmt.Errorf("failed to select ready jobs: %w", err)
	}
	return ids, nil
}

// acquiredRow surfaces the job columns together with the latest
// progress record in a single locking statement.
type acquiredRow struct {
	domain.CronJob
	PID        *int64   `db:"p_id"`
	PDone      *int64   `db:"p_done"`
	PRemaining *int64   `db:"p_remaining"`
	PDeactivate *bool   `db:"p_deactivate"`
	PTimedOut  *int     `db:"p_timed_out_counter"`
	PCreateDate *time.Time `db:"p_create_date"`
}

// Acquire locks one ready job. FOR NO KEY UPDATE keeps the lock
// compatible with the implicit FOR KEY SHARE taken by cron_trigger and
// cron_progress foreign keys; SKIP LOCKED makes contention non-blocking.
func (s *cronStore) Acquire(ctx context.Context, id int64, now time.Time) (repository.CronLease, error) {
	return s.acquire(ctx, id, &now)
}

func (s *cronStore) AcquireDirect(ctx context.Context, id int64) (repository.CronLease, error) {
	return s.acquire(ctx, id, nil)
}

func (s *cronStore) acquire(ctx context.Context, id int64, now *time.Time) (repository.CronLease, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin acquisition transaction: %w", err)
	}

	predicate := `j.active`
	args := []interface{}{id}
	if now != nil {
		predicate = readyPredicate
		args = []interface{}{*now, id}
	}
	argPos := len(args)

	query := fmt.Sprintf(`
		SELECT j.*,
			p.id AS p_id, p.done AS p_done, p.remaining AS p_remaining,
			p.deactivate AS p_deactivate, p.timed_out_counter AS p_timed_out_counter,
			p.create_date AS p_create_date
		FROM cron_job j
		LEFT JOIN LATERAL (
			SELECT * FROM cron_progress cp
			WHERE cp.cron_id = j.id
			ORDER BY cp.id DESC
			LIMIT 1
		) p ON TRUE
		WHERE j.id = $%d AND %s
		FOR NO KEY UPDATE OF j SKIP LOCKED
	`, argPos, predicate)

	var row acquiredRow
	if err := tx.GetContext(ctx, &row, query, args...); err != nil {
		tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMiss(ctx, id, now)
		}
		return nil, fmt.Errorf("failed to acquire cron job %d: %w", id, err)
	}

	lease := &cronLease{tx: tx, job: &row.CronJob}
	if row.PID != nil {
		lease.prev = &domain.CronProgress{
			ID:              *row.PID,
			CronID:          row.CronJob.ID,
			Done:            *row.PDone,
			Remaining:       *row.PRemaining,
			Deactivate:      *row.PDeactivate,
			TimedOutCounter: *row.PTimedOut,
			CreateDate:      *row.PCreateDate,
		}
	}
	return lease, nil
}

// classifyMiss distinguishes a job held by another worker from one that
// is simply no longer ready.
func (s *cronStore) classifyMiss(ctx context.Context, id int64, now *time.Time) error {
	if now == nil {
		return domain.ErrJobLocked
	}
	var ready bool
	query := `SELECT EXISTS (SELECT 1 FROM cron_job j WHERE j.id = $2 AND ` + readyPredicate + `)`
	if err := s.db.GetContext(ctx, &ready, query, *now, id); err != nil {
		return fmt.Errorf("failed to re-check job %d readiness: %w", id, err)
	}
	if ready {
		return domain.ErrJobLocked
	}
	return domain.ErrJobNotReady
}

func (s *cronStore) CreateJob(ctx context.Context, job *domain.CronJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO cron_job (name, action, user_id, active, interval_number, interval_type, nextcall)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query,
		job.Name, job.Action, job.UserID, job.Active,
		job.IntervalNumber, job.IntervalType, job.Nextcall,
	).Scan(&job.ID); err != nil {
		return fmt.Errorf("failed to create cron job: %w", err)
	}
	return nil
}

func (s *cronStore) GetJob(ctx context.Context, id int64) (*domain.CronJob, error) {
	var job domain.CronJob
	err := s.db.GetContext(ctx, &job, `SELECT * FROM cron_job WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cron job %d: %w", id, err)
	}
	return &job, nil
}

func (s *cronStore) ListJobs(ctx context.Context) ([]*domain.CronJob, error) {
	var jobs []*domain.CronJob
	if err := s.db.SelectContext(ctx, &jobs, `SELECT * FROM cron_job ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list cron jobs: %w", err)
	}
	return jobs, nil
}

func (s *cronStore) CreateTrigger(ctx context.Context, cronID int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_trigger (cron_id, call_at) VALUES ($1, $2)`, cronID, at); err != nil {
		return fmt.Errorf("failed to create cron trigger: %w", err)
	}
	return nil
}

func (s *cronStore) OldestReadyNextcall(ctx context.Context, now time.Time) (*time.Time, error) {
	var oldest *time.Time
	query := `SELECT MIN(j.nextcall) FROM cron_job j WHERE ` + readyPredicate
	if err := s.db.GetContext(ctx, &oldest, query, now); err != nil {
		return nil, fmt.Errorf("failed to read oldest ready nextcall: %w", err)
	}
	return oldest, nil
}

func (s *cronStore) CreateProgress(ctx context.Context, cronID int64, timedOutCounter int) (int64, error) {
	var id int64
	query := `
		INSERT INTO cron_progress (cron_id, timed_out_counter, done, remaining)
		VALUES ($1, $2, 0, 0)
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, cronID, timedOutCounter).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create cron progress: %w", err)
	}
	return id, nil
}

func (s *cronStore) UpdateProgress(ctx context.Context, progressID int64, done, remaining int64, deactivate bool) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE cron_progress SET done = $2, remaining = $3, deactivate = $4 WHERE id = $1`,
		progressID, done, remaining, deactivate); err != nil {
		return fmt.Errorf("failed to update cron progress: %w", err)
	}
	return nil
}

func (s *cronStore) FinishProgress(ctx context.Context, progressID int64, duration float64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE cron_progress SET timed_out_counter = 0, duration = $2 WHERE id = $1`,
		progressID, duration); err != nil {
		return fmt.Errorf("failed to finish cron progress: %w", err)
	}
	return nil
}

func (s *cronStore) ResetTimedOut(ctx context.Context, progressID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE cron_progress SET timed_out_counter = 0 WHERE id = $1`, progressID); err != nil {
		return fmt.Errorf("failed to reset timed out counter: %w", err)
	}
	return nil
}

func (s *cronStore) LatestProgress(ctx context.Context, cronID int64) (*domain.CronProgress, error) {
	var p domain.CronProgress
	query := `SELECT * FROM cron_progress WHERE cron_id = $1 ORDER BY id DESC LIMIT 1`
	err := s.db.GetContext(ctx, &p, query, cronID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest progress: %w", err)
	}
	return &p, nil
}

func (s *cronStore) VacuumTriggers(ctx context.Context, before time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cron_trigger
		WHERE id IN (SELECT id FROM cron_trigger WHERE call_at < $1 LIMIT $2)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to vacuum cron triggers: %w", err)
	}
	return res.RowsAffected()
}

func (s *cronStore) VacuumProgress(ctx context.Context, before time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cron_progress
		WHERE id IN (SELECT id FROM cron_progress WHERE create_date < $1 LIMIT $2)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to vacuum cron progress: %w", err)
	}
	return res.RowsAffected()
}

func (s *cronStore) Notify(ctx context.Context) error {
	// notifyFn is validated as an identifier at config load, safe to
	// interpolate.
	query := fmt.Sprintf(`SELECT %s('cron_trigger', $1)`, s.db.notifyFn)
	if _, err := s.db.ExecContext(ctx, query, s.db.Name()); err != nil {
		return fmt.Errorf("failed to notify cron workers: %w", err)
	}
	return nil
}

type cronLease struct {
	tx       *sqlx.Tx
	job      *domain.CronJob
	prev     *domain.CronProgress
	finished bool
}

func (l *cronLease) Job() *domain.CronJob                { return l.job }
func (l *cronLease) PrevProgress() *domain.CronProgress { return l.prev }

func (l *cronLease) ConsumeTriggers(ctx context.Context, now time.Time) (int64, error) {
	res, err := l.tx.ExecContext(ctx,
		`DELETE FROM cron_trigger WHERE cron_id = $1 AND call_at <= $2`, l.job.ID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to consume triggers: %w", err)
	}
	return res.RowsAffected()
}

func (l *cronLease) AddTrigger(ctx context.Context, at time.Time) error {
	if _, err := l.tx.ExecContext(ctx,
		`INSERT INTO cron_trigger (cron_id, call_at) VALUES ($1, $2)`, l.job.ID, at); err != nil {
		return fmt.Errorf("failed to add trigger: %w", err)
	}
	return nil
}

func (l *cronLease) Save(ctx context.Context) error {
	query := `
		UPDATE cron_job SET
			active = :active,
			nextcall = :nextcall,
			lastcall = :lastcall,
			failure_count = :failure_count,
			first_failure_date = :first_failure_date,
			mean_duration = :mean_duration,
			variance_duration = :variance_duration,
			total_duration = :total_duration,
			total_count = :total_count,
			total_failure_count = :total_failure_count,
			last_duration = :last_duration,
			has_progress = :has_progress,
			first_date = :first_date,
			stat_date = :stat_date
		WHERE id = :id
	`
	if _, err := l.tx.NamedExecContext(ctx, query, l.job); err != nil {
		return fmt.Errorf("failed to save cron job %d: %w", l.job.ID, err)
	}
	return nil
}

func (l *cronLease) Commit() error {
	l.finished = true
	if err := l.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cron lease: %w", err)
	}
	return nil
}

func (l *cronLease) Close() error {
	if l.finished {
		return nil
	}
	l.finished = true
	if err := l.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
