package domain

import (
	"time"
)

// IntervalType is the unit of a cron job's recurrence interval.
type IntervalType string

const (
	IntervalMinutes IntervalType = "minutes"
	IntervalHours   IntervalType = "hours"
	IntervalDays    IntervalType = "days"
	IntervalWeeks   IntervalType = "weeks"
	IntervalMonths  IntervalType = "months"
)

// AddInterval advances t by n units of the given type. Month steps use
// calendar arithmetic, everything else is a fixed duration.
func AddInterval(t time.Time, typ IntervalType, n int) time.Time {
	switch typ {
	case IntervalMinutes:
		return t.Add(time.Duration(n) * time.Minute)
	case IntervalHours:
		return t.Add(time.Duration(n) * time.Hour)
	case IntervalDays:
		return t.AddDate(0, 0, n)
	case IntervalWeeks:
		return t.AddDate(0, 0, 7*n)
	case IntervalMonths:
		return t.AddDate(0, n, 0)
	}
	return t
}

// CompletionStatus classifies one finished cron execution.
type CompletionStatus string

const (
	FullyDone     CompletionStatus = "fully_done"
	PartiallyDone CompletionStatus = "partially_done"
	Failed        CompletionStatus = "failed"
)

// CronJob is a periodic task descriptor persisted in cron_job.
type CronJob struct {
	ID             int64        `json:"id" db:"id"`
	Name           string       `json:"name" db:"name"`
	Action         string       `json:"action" db:"action"`
	UserID         int64        `json:"user_id" db:"user_id"`
	Active         bool         `json:"active" db:"active"`
	IntervalNumber int          `json:"interval_number" db:"interval_number"`
	IntervalType   IntervalType `json:"interval_type" db:"interval_type"`
	Nextcall       time.Time    `json:"nextcall" db:"nextcall"`
	Lastcall       *time.Time   `json:"lastcall" db:"lastcall"`
	FailureCount   int          `json:"failure_count" db:"failure_count"`
	FirstFailureDate *time.Time `json:"first_failure_date" db:"first_failure_date"`

	// Running statistics, maintained by the executor.
	MeanDuration      float64    `json:"mean_duration" db:"mean_duration"`
	VarianceDuration  float64    `json:"variance_duration" db:"variance_duration"`
	TotalDuration     float64    `json:"total_duration" db:"total_duration"`
	TotalCount        int64      `json:"total_count" db:"total_count"`
	TotalFailureCount int64      `json:"total_failure_count" db:"total_failure_count"`
	LastDuration      float64    `json:"last_duration" db:"last_duration"`
	HasProgress       bool       `json:"has_progress" db:"has_progress"`
	FirstDate         *time.Time `json:"first_date" db:"first_date"`
	StatDate          *time.Time `json:"stat_date" db:"stat_date"`
}

// Validate enforces the cron_job write-time invariants.
func (j *CronJob) Validate() error {
	if j.Name == "" {
		return NewValidationError("cron job requires a name")
	}
	if j.Action == "" {
		return NewValidationError("cron job requires an action")
	}
	if j.IntervalNumber < 1 {
		return NewValidationError("cron interval must be at least 1")
	}
	switch j.IntervalType {
	case IntervalMinutes, IntervalHours, IntervalDays, IntervalWeeks, IntervalMonths:
	default:
		return NewValidationError("unknown cron interval type")
	}
	return nil
}

// Ready reports whether the job may run at now on its own schedule. A
// pending trigger makes a job ready regardless of nextcall.
func (j *CronJob) Ready(now time.Time) bool {
	return j.Active && !j.Nextcall.After(now)
}

// AdvanceNextcall pushes nextcall forward by whole interval steps until
// it lands strictly after now. The step count stays aligned with the
// original schedule so a late worker does not drift the phase.
func (j *CronJob) AdvanceNextcall(now time.Time) {
	for !j.Nextcall.After(now) {
		j.Nextcall = AddInterval(j.Nextcall, j.IntervalType, j.IntervalNumber)
	}
}

// RecordRun folds one execution into the running statistics using
// Welford's online mean/variance update.
func (j *CronJob) RecordRun(now time.Time, duration time.Duration, status CompletionStatus) {
	d := duration.Seconds()
	j.TotalCount++
	j.TotalDuration += d
	j.LastDuration = d
	if j.FirstDate == nil {
		first := now
		j.FirstDate = &first
	}
	stat := now
	j.StatDate = &stat

	delta := d - j.MeanDuration
	j.MeanDuration += delta / float64(j.TotalCount)
	j.VarianceDuration += delta * (d - j.MeanDuration)

	switch status {
	case Failed:
		j.TotalFailureCount++
	case PartiallyDone:
		j.HasProgress = true
	}
}

// MarkFailure updates the failure window counters and reports whether
// both deactivation thresholds are now reached.
func (j *CronJob) MarkFailure(now time.Time, countThreshold int, timeThreshold time.Duration) bool {
	j.FailureCount++
	if j.FirstFailureDate == nil {
		first := now
		j.FirstFailureDate = &first
	}
	return j.FailureCount >= countThreshold && now.Sub(*j.FirstFailureDate) >= timeThreshold
}

// ResetFailures clears the failure window after a successful run.
func (j *CronJob) ResetFailures() {
	j.FailureCount = 0
	j.FirstFailureDate = nil
}

// Deactivate turns the job off and clears the failure window.
func (j *CronJob) Deactivate() {
	j.Active = false
	j.ResetFailures()
}

// CronTrigger is a one-shot request to run a job at or after CallAt.
// Triggers for the same job coalesce into a single execution.
type CronTrigger struct {
	ID     int64     `json:"id" db:"id"`
	CronID int64     `json:"cron_id" db:"cron_id"`
	CallAt time.Time `json:"call_at" db:"call_at"`
}

// CronProgress is the committed intermediate state of one execution.
type CronProgress struct {
	ID              int64     `json:"id" db:"id"`
	CronID          int64     `json:"cron_id" db:"cron_id"`
	CreateDate      time.Time `json:"create_date" db:"create_date"`
	Done            int64     `json:"done" db:"done"`
	Remaining       int64     `json:"remaining" db:"remaining"`
	Deactivate      bool      `json:"deactivate" db:"deactivate"`
	TimedOutCounter int       `json:"timed_out_counter" db:"timed_out_counter"`
	Duration        float64   `json:"duration" db:"duration"`
}
