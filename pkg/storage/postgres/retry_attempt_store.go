package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/arkflow/jobqueue/pkg/models"
)

func (s *Store) CreateAttempt(ctx context.Context, attempt *models.RetryAttempt) error {
	if err := s.dbFor(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to create retry attempt: %w", err)
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, jobID uuid.UUID) ([]models.RetryAttempt, error) {
	var attempts []models.RetryAttempt
	err := s.dbFor(ctx).
		Where("job_id = ?", jobID).
		Order("attempt_number asc").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list retry attempts: %w", err)
	}
	return attempts, nil
}
