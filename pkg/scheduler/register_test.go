package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/storage"
)

// fakeScheduledJobStore is an in-memory stand-in for MS's scheduled_jobs
// table, enough to exercise Registrar without a real Postgres instance.
type fakeScheduledJobStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*models.ScheduledJob
}

func newFakeScheduledJobStore() *fakeScheduledJobStore {
	return &fakeScheduledJobStore{items: make(map[uuid.UUID]*models.ScheduledJob)}
}

func (s *fakeScheduledJobStore) CreateScheduledJob(ctx context.Context, sj *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sj
	s.items[sj.ID] = &cp
	return nil
}

func (s *fakeScheduledJobStore) GetScheduledJob(ctx context.Context, id uuid.UUID) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj, ok := s.items[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *sj
	return &cp, nil
}

func (s *fakeScheduledJobStore) ListActive(ctx context.Context) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduledJob
	for _, sj := range s.items {
		if sj.IsActive {
			out = append(out, *sj)
		}
	}
	return out, nil
}

func (s *fakeScheduledJobStore) ListDue(ctx context.Context, asOf time.Time, limit int) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduledJob
	for _, sj := range s.items {
		if sj.IsActive && !sj.NextRunAt.After(asOf) {
			out = append(out, *sj)
		}
	}
	return out, nil
}

func (s *fakeScheduledJobStore) UpdateNextRun(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj, ok := s.items[id]
	if !ok {
		return storage.ErrNotFound
	}
	sj.LastRunAt = &lastRunAt
	sj.NextRunAt = nextRunAt
	return nil
}

func TestRegistrar_Create_PersistsWithComputedNextRun(t *testing.T) {
	store := newFakeScheduledJobStore()
	r := NewRegistrar(store)

	before := time.Now().UTC()
	sj, err := r.Create(context.Background(), NewScheduleInput{
		Name:           "nightly-report",
		JobType:        "report.generate",
		CronExpression: "0 2 * * *",
		Payload:        models.Payload{"format": "pdf"},
	})
	require.NoError(t, err)

	require.NotEqual(t, uuid.Nil, sj.ID)
	assert.Equal(t, "nightly-report", sj.Name)
	assert.Equal(t, models.PriorityMedium, sj.Priority)
	assert.True(t, sj.IsActive)
	assert.True(t, sj.NextRunAt.After(before))

	stored, err := store.GetScheduledJob(context.Background(), sj.ID)
	require.NoError(t, err)
	assert.Equal(t, sj.CronExpression, stored.CronExpression)
}

func TestRegistrar_Create_RejectsInvalidCronExpression(t *testing.T) {
	store := newFakeScheduledJobStore()
	r := NewRegistrar(store)

	_, err := r.Create(context.Background(), NewScheduleInput{
		Name:           "broken",
		JobType:        "report.generate",
		CronExpression: "not a cron expression",
	})
	require.Error(t, err)

	active, err := store.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRegistrar_Create_PreservesExplicitPriority(t *testing.T) {
	store := newFakeScheduledJobStore()
	r := NewRegistrar(store)

	sj, err := r.Create(context.Background(), NewScheduleInput{
		Name:           "urgent-sweep",
		JobType:        "sweep.run",
		CronExpression: "*/5 * * * *",
		Priority:       models.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, sj.Priority)
}
