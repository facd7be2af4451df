package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/conveyor/pkg/metrics"
	"github.com/codeready-toolchain/conveyor/pkg/models"
	"github.com/codeready-toolchain/conveyor/pkg/services"
)

// createJobHandler handles POST /jobs.
func (s *Server) createJobHandler(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}

	id, err := s.jobs.Create(c.Request.Context(), req.Command, req.Payload, req.Requires)
	if err != nil {
		slog.Error("Failed to create job", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "failed to create job"})
		return
	}
	metrics.ObserveJobCreated(req.Command)
	c.JSON(http.StatusOK, CreateJobResponse{ID: id, Status: models.StatusQueued})
}

// getJobHandler handles GET /jobs/:id.
func (s *Server) getJobHandler(c *gin.Context) {
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Detail: "job not found"})
		return
	}
	if err != nil {
		slog.Error("Failed to fetch job", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "failed to fetch job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// claimHandler handles GET /jobs/next: the atomic claim.
func (s *Server) claimHandler(c *gin.Context) {
	workerID := c.GetHeader(HeaderWorkerID)
	caps := models.ParseWorkerCaps(c.GetHeader(HeaderWorkerCaps))

	job, err := s.jobs.Claim(c.Request.Context(), workerID, caps)
	if errors.Is(err, services.ErrNoJobsAvailable) {
		metrics.ObserveClaim(false)
		c.JSON(http.StatusOK, ClaimResponse{Job: nil})
		return
	}
	if err != nil {
		slog.Error("Claim failed", "error", err, "worker_id", workerID)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "claim failed"})
		return
	}
	metrics.ObserveClaim(true)
	c.JSON(http.StatusOK, ClaimResponse{Job: job})
}

// resultHandler handles POST /jobs/:id/result. Idempotent.
func (s *Server) resultHandler(c *gin.Context) {
	var req JobResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}

	outcome, err := s.jobs.Complete(c.Request.Context(), c.Param("id"), req.Result)
	if s.writeTerminalError(c, err) {
		return
	}
	if outcome.Changed {
		metrics.ObserveTerminal(false)
	}
	c.JSON(http.StatusOK, TerminalResponse{OK: true, Status: outcome.Status, Note: outcome.Note})
}

// failHandler handles POST /jobs/:id/fail. Idempotent.
func (s *Server) failHandler(c *gin.Context) {
	var req JobFailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}

	outcome, err := s.jobs.Fail(c.Request.Context(), c.Param("id"), req.Error)
	if s.writeTerminalError(c, err) {
		return
	}
	if outcome.Changed {
		metrics.ObserveTerminal(true)
	}
	c.JSON(http.StatusOK, TerminalResponse{OK: true, Status: outcome.Status, Note: outcome.Note})
}

// writeTerminalError maps service errors from terminal transitions onto HTTP
// responses. Returns true when a response was written.
func (s *Server) writeTerminalError(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Detail: "job not found"})
	case errors.Is(err, services.ErrNotRunning):
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "job not in running state: queued"})
	default:
		slog.Error("Terminal transition failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "terminal transition failed"})
	}
	return true
}
