package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/storage"
)

func (s *Store) CreateDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	if err := s.dbFor(ctx).Create(dl).Error; err != nil {
		return fmt.Errorf("failed to create dead letter: %w", err)
	}
	return nil
}

func (s *Store) GetDeadLetter(ctx context.Context, jobID uuid.UUID) (*models.DeadLetter, error) {
	var dl models.DeadLetter
	err := s.dbFor(ctx).First(&dl, "job_id = ?", jobID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &dl, nil
}

func (s *Store) ListDeadLetters(ctx context.Context, limit, offset int) ([]models.DeadLetter, error) {
	var dls []models.DeadLetter
	err := s.dbFor(ctx).
		Order("final_failure_at desc").
		Limit(limit).
		Offset(offset).
		Find(&dls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return dls, nil
}
