package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/storage"
)

func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	if err := s.dbFor(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := s.dbFor(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *Store) ListJobs(ctx context.Context, status models.JobStatus, jobType string, limit, offset int) ([]models.Job, error) {
	var jobs []models.Job
	q := s.dbFor(ctx).Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if jobType != "" {
		q = q.Where("type = ?", jobType)
	}
	if err := q.Limit(limit).Offset(offset).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning only succeeds from pending or retrying, preventing a
// concurrently re-delivered copy of the same message from double-starting
// a job already picked up by another worker.
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID, workerID string, startedAt time.Time) error {
	result := s.dbFor(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.StatusPending, models.StatusRetrying}).
		Updates(map[string]interface{}{
			"status":     models.StatusRunning,
			"worker_id":  workerID,
			"started_at": startedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	result := s.dbFor(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.StatusRunning).
		Updates(map[string]interface{}{
			"status":       models.StatusCompleted,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

// MarkFailed succeeds from running, and also from pending or retrying so a
// job quarantined before it ever ran (an unregistered type) still reaches
// failed.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	now := time.Now().UTC()
	result := s.dbFor(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.StatusPending, models.StatusRetrying, models.StatusRunning}).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"completed_at":  now,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) MarkRetrying(ctx context.Context, id uuid.UUID, scheduledFor time.Time, errorMessage string) error {
	result := s.dbFor(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.StatusRunning).
		Updates(map[string]interface{}{
			"status":        models.StatusRetrying,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"scheduled_for": scheduledFor,
			"error_message": errorMessage,
			"worker_id":     nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	result := s.dbFor(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.StatusPending, models.StatusRetrying, models.StatusRunning}).
		Update("status", models.StatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	var rows []struct {
		Status models.JobStatus
		Count  int64
	}
	err := s.dbFor(ctx).
		Model(&models.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	counts := make(map[models.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
