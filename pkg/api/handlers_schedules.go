package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/scheduler"
)

// CreateScheduleRequest is the payload for registering a recurring job
// template.
type CreateScheduleRequest struct {
	Name           string             `json:"name" binding:"required" validate:"required"`
	JobType        string             `json:"job_type" binding:"required" validate:"required"`
	CronExpression string             `json:"cron_expression" binding:"required" validate:"required"`
	Payload        models.Payload     `json:"payload"`
	Priority       models.JobPriority `json:"priority" validate:"omitempty,oneof=high medium low"`
}

// ScheduleResponse is the API representation of a recurring job template.
type ScheduleResponse struct {
	ID             interface{}        `json:"id"`
	Name           string             `json:"name"`
	JobType        string             `json:"job_type"`
	CronExpression string             `json:"cron_expression"`
	Priority       models.JobPriority `json:"priority"`
	IsActive       bool               `json:"is_active"`
	NextRunAt      interface{}        `json:"next_run_at"`
}

// createSchedule handles POST /api/v1/schedules
func (s *Server) createSchedule(c *gin.Context) {
	if s.schedules == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "scheduling is not enabled on this server"})
		return
	}

	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.jobTypes != nil {
		if err := s.jobTypes.ValidateJobType(req.JobType); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	sj, err := s.schedules.Create(c.Request.Context(), scheduler.NewScheduleInput{
		Name:           req.Name,
		JobType:        req.JobType,
		CronExpression: req.CronExpression,
		Payload:        req.Payload,
		Priority:       req.Priority,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create schedule: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, ScheduleResponse{
		ID:             sj.ID,
		Name:           sj.Name,
		JobType:        sj.JobType,
		CronExpression: sj.CronExpression,
		Priority:       sj.Priority,
		IsActive:       sj.IsActive,
		NextRunAt:      sj.NextRunAt,
	})
}
