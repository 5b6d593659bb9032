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

func (s *Store) CreateScheduledJob(ctx context.Context, sj *models.ScheduledJob) error {
	if err := s.db.WithContext(ctx).Create(sj).Error; err != nil {
		return fmt.Errorf("failed to create scheduled job: %w", err)
	}
	return nil
}

func (s *Store) GetScheduledJob(ctx context.Context, id uuid.UUID) (*models.ScheduledJob, error) {
	var sj models.ScheduledJob
	err := s.db.WithContext(ctx).First(&sj, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &sj, nil
}

func (s *Store) ListActive(ctx context.Context) ([]models.ScheduledJob, error) {
	var sjs []models.ScheduledJob
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&sjs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active scheduled jobs: %w", err)
	}
	return sjs, nil
}

// ListDue returns active schedules overdue as of asOf, oldest first, so a
// single poll catches up on a backlog without reordering by arrival.
func (s *Store) ListDue(ctx context.Context, asOf time.Time, limit int) ([]models.ScheduledJob, error) {
	var sjs []models.ScheduledJob
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND next_run_at <= ?", true, asOf).
		Order("next_run_at asc").
		Limit(limit).
		Find(&sjs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled jobs: %w", err)
	}
	return sjs, nil
}

func (s *Store) UpdateNextRun(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.ScheduledJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_run_at": lastRunAt,
			"next_run_at": nextRunAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
