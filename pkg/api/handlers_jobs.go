package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/arkflow/jobqueue/pkg/lifecycle"
	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/storage"
)

var validate = validator.New()

// CreateJobRequest is the payload for submitting a new job.
type CreateJobRequest struct {
	Type     string             `json:"type" binding:"required" validate:"required"`
	Priority models.JobPriority `json:"priority" validate:"omitempty,oneof=high medium low"`
	Payload  models.Payload     `json:"payload"`
	// MaxRetries is a pointer so an omitted field and an explicit 0 (single
	// failure quarantines immediately) are distinguishable all the way
	// through to lifecycle.SubmitInput.
	MaxRetries   *int       `json:"max_retries" validate:"omitempty,min=0,max=25"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// JobResponse is the API representation of a job.
type JobResponse struct {
	ID           uuid.UUID          `json:"id"`
	Type         string             `json:"type"`
	Priority     models.JobPriority `json:"priority"`
	Status       models.JobStatus   `json:"status"`
	Payload      models.Payload     `json:"payload"`
	MaxRetries   int                `json:"max_retries"`
	RetryCount   int                `json:"retry_count"`
	CreatedAt    interface{}        `json:"created_at"`
	StartedAt    interface{}        `json:"started_at,omitempty"`
	CompletedAt  interface{}        `json:"completed_at,omitempty"`
	ErrorMessage *string            `json:"error_message,omitempty"`
}

// createJob handles POST /api/v1/jobs
func (s *Server) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.jobTypes != nil {
		if err := s.jobTypes.ValidateJobType(req.Type); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	job, err := s.lifecycle.Submit(c.Request.Context(), lifecycle.SubmitInput{
		Type:         req.Type,
		Priority:     req.Priority,
		Payload:      req.Payload,
		MaxRetries:   req.MaxRetries,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit job: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, jobToResponse(job))
}

// listJobs handles GET /api/v1/jobs
func (s *Server) listJobs(c *gin.Context) {
	status := models.JobStatus(c.Query("status"))
	jobType := c.Query("type")
	limit := 50
	offset := 0

	jobs, err := s.lifecycle.List(c.Request.Context(), status, jobType, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs: " + err.Error()})
		return
	}

	response := make([]JobResponse, len(jobs))
	for i := range jobs {
		response[i] = jobToResponse(&jobs[i])
	}

	c.JSON(http.StatusOK, gin.H{"jobs": response, "count": len(response)})
}

// getJob handles GET /api/v1/jobs/:id
func (s *Server) getJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}

	job, err := s.lifecycle.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

// cancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) cancelJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}

	if err := s.lifecycle.Cancel(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "job cannot be cancelled once terminal"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job cancelled", "id": id})
}

func jobToResponse(job *models.Job) JobResponse {
	return JobResponse{
		ID:           job.ID,
		Type:         job.Type,
		Priority:     job.Priority,
		Status:       job.Status,
		Payload:      job.Payload,
		MaxRetries:   job.MaxRetries,
		RetryCount:   job.RetryCount,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		ErrorMessage: job.ErrorMessage,
	}
}
