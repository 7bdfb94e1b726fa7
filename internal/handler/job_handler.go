package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mumbaionweb/algoai-console/internal/engine"
	"github.com/mumbaionweb/algoai-console/internal/middleware"
	"github.com/mumbaionweb/algoai-console/internal/service"
	"github.com/mumbaionweb/algoai-console/pkg/response"
)

const defaultChartPoints = 2000

// JobHandler handles backtest job API requests: submission, live status,
// commands, and the ledger/chart views of completed runs
type JobHandler struct {
	jobService *service.JobService
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobService *service.JobService) *JobHandler {
	return &JobHandler{jobService: jobService}
}

// Submit launches a new backtest
// POST /api/v1/jobs
func (h *JobHandler) Submit(c *gin.Context) {
	var req engine.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	job, err := h.jobService.Submit(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.engineError(c, err)
		return
	}

	response.Created(c, job)
}

// Status returns the freshest snapshot of a job, with the stall flag
// GET /api/v1/jobs/:job_id
func (h *JobHandler) Status(c *gin.Context) {
	view, err := h.jobService.Status(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.engineError(c, err)
		return
	}

	response.Success(c, view)
}

// Watch switches the live progress subscription to this job
// POST /api/v1/jobs/:job_id/watch
func (h *JobHandler) Watch(c *gin.Context) {
	jobID := c.Param("job_id")
	h.jobService.Watch(jobID)
	response.Success(c, gin.H{"job_id": jobID, "watching": true})
}

// Unwatch tears down the live subscription for this job
// DELETE /api/v1/jobs/:job_id/watch
func (h *JobHandler) Unwatch(c *gin.Context) {
	jobID := c.Param("job_id")
	h.jobService.Unwatch(jobID)
	response.Success(c, gin.H{"job_id": jobID, "watching": false})
}

// List returns recent jobs from the engine
// GET /api/v1/jobs
func (h *JobHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	jobs, err := h.jobService.List(c.Request.Context(), limit)
	if err != nil {
		h.engineError(c, err)
		return
	}

	response.Success(c, jobs)
}

// Archive returns the caller's archived runs
// GET /api/v1/jobs/archive
func (h *JobHandler) Archive(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	records, total, err := h.jobService.Archive(middleware.GetUserID(c), page, pageSize)
	if err != nil {
		response.InternalError(c, "failed to load archive")
		return
	}

	response.SuccessPaginated(c, records, total, page, pageSize)
}

// Cancel requests job cancellation
// POST /api/v1/jobs/:job_id/cancel
func (h *JobHandler) Cancel(c *gin.Context) {
	h.command(c, h.jobService.Cancel)
}

// Pause requests the job be paused
// POST /api/v1/jobs/:job_id/pause
func (h *JobHandler) Pause(c *gin.Context) {
	h.command(c, h.jobService.Pause)
}

// Resume requests the job be resumed
// POST /api/v1/jobs/:job_id/resume
func (h *JobHandler) Resume(c *gin.Context) {
	h.command(c, h.jobService.Resume)
}

// command runs one job command and reports the snapshot the optimistic
// refresh produced. The engine can acknowledge commands for jobs that no
// longer accept them, so a command error still returns the fresh status.
func (h *JobHandler) command(c *gin.Context, call func(ctx context.Context, jobID string) error) {
	jobID := c.Param("job_id")

	err := call(c.Request.Context(), jobID)

	view, statusErr := h.jobService.Status(c.Request.Context(), jobID)
	if err != nil {
		msg := "command rejected"
		if errors.Is(err, engine.ErrJobNotFound) {
			msg = "job not found"
		}
		if view != nil {
			response.SuccessWithDiagnostics(c, view, gin.H{"command_error": msg})
			return
		}
		h.engineError(c, err)
		return
	}
	if statusErr != nil {
		response.Success(c, gin.H{"job_id": jobID, "accepted": true})
		return
	}

	response.Success(c, view)
}

// Positions returns the reconciled position view of a completed job,
// annotated with the trade count diagnostic when the counters disagree
// GET /api/v1/jobs/:job_id/positions
func (h *JobHandler) Positions(c *gin.Context) {
	views, err := h.jobService.Ledger(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, service.ErrNoResult) {
			response.BadRequest(c, "job has not completed yet")
			return
		}
		h.engineError(c, err)
		return
	}

	if views.Diagnostic != nil {
		response.SuccessWithDiagnostics(c, views.Positions, views.Diagnostic)
		return
	}
	response.Success(c, views.Positions)
}

// Transactions returns the chronological ledger view with grand totals
// GET /api/v1/jobs/:job_id/transactions
func (h *JobHandler) Transactions(c *gin.Context) {
	views, err := h.jobService.Ledger(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, service.ErrNoResult) {
			response.BadRequest(c, "job has not completed yet")
			return
		}
		h.engineError(c, err)
		return
	}

	response.Success(c, views.Chronological)
}

// Chart returns the assembled interval series for a job's chart
// GET /api/v1/jobs/:job_id/chart?intervals=day,week&max_points=2000
func (h *JobHandler) Chart(c *gin.Context) {
	intervalsParam := c.DefaultQuery("intervals", "day")
	intervals := strings.Split(intervalsParam, ",")
	for i := range intervals {
		intervals[i] = strings.TrimSpace(intervals[i])
	}

	maxPoints, _ := strconv.Atoi(c.DefaultQuery("max_points", strconv.Itoa(defaultChartPoints)))

	series, err := h.jobService.Chart(c.Request.Context(), c.Param("job_id"), intervals, maxPoints)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, series)
}

// engineError maps engine client errors onto API responses
func (h *JobHandler) engineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrJobNotFound):
		response.NotFound(c, "job not found")
	case errors.Is(err, engine.ErrUnauthorized):
		response.Forbidden(c, "engine rejected the configured credential")
	default:
		response.BadGateway(c, "engine request failed")
	}
}

// RegisterRoutes registers job routes behind the auth middleware
func (h *JobHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	jobs := rg.Group("/jobs")
	jobs.Use(authMiddleware)
	{
		jobs.POST("", h.Submit)
		jobs.GET("", h.List)
		jobs.GET("/archive", h.Archive)
		jobs.GET("/:job_id", h.Status)
		jobs.POST("/:job_id/watch", h.Watch)
		jobs.DELETE("/:job_id/watch", h.Unwatch)
		jobs.POST("/:job_id/cancel", h.Cancel)
		jobs.POST("/:job_id/pause", h.Pause)
		jobs.POST("/:job_id/resume", h.Resume)
		jobs.GET("/:job_id/positions", h.Positions)
		jobs.GET("/:job_id/transactions", h.Transactions)
		jobs.GET("/:job_id/chart", h.Chart)
	}
}
