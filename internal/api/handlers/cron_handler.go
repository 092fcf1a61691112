package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/orderpoint/internal/cron"
	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

type CronHandler struct {
	store     repository.CronStore
	scheduler *cron.Scheduler
}

func NewCronHandler(store repository.CronStore, scheduler *cron.Scheduler) *CronHandler {
	return &CronHandler{store: store, scheduler: scheduler}
}

// ListJobs returns every scheduled job with its running statistics.
func (h *CronHandler) ListJobs(c *gin.Context) {
	jobs, err := h.store.ListJobs(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list cron jobs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list cron jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

type triggerRequest struct {
	At []time.Time `json:"at"`
}

// Trigger enqueues one-shot execution requests for a job. An empty
// body requests an immediate run.
func (h *CronHandler) Trigger(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	var req triggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if len(req.At) == 0 {
		req.At = []time.Time{time.Now()}
	}

	if err := h.scheduler.Trigger(c.Request.Context(), id, req.At); err != nil {
		writeCronError(c, err, "failed to trigger job")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "trigger queued"})
}

// Run executes a job immediately, bypassing the schedule.
func (h *CronHandler) Run(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	status, err := h.scheduler.DirectRun(c.Request.Context(), id)
	if err != nil {
		writeCronError(c, err, "failed to run job")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}

func writeCronError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, domain.ErrJobLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "job is running on another worker"})
	case errors.Is(err, domain.ErrJobNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "job is not ready to run"})
	case errors.Is(err, domain.ErrBadVersion), errors.Is(err, domain.ErrBadModuleState):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case domain.IsValidation(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
