package retry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/storage"
)

// txJobStore is a fake JobStore that also implements storage.Transactor,
// recording whether writes within HandleFailure/Quarantine actually ran
// inside a Transaction call rather than as independent writes.
type txJobStore struct {
	mu           sync.Mutex
	jobs         map[uuid.UUID]*models.Job
	inTx         bool
	sawWriteInTx bool
}

type txKey struct{}

func newTxJobStore() *txJobStore {
	return &txJobStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *txJobStore) put(job *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
}

func (s *txJobStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.inTx = true
	s.mu.Unlock()
	err := fn(context.WithValue(ctx, txKey{}, true))
	s.mu.Lock()
	s.inTx = false
	s.mu.Unlock()
	return err
}

func (s *txJobStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.put(job)
	return nil
}

func (s *txJobStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *txJobStore) ListJobs(ctx context.Context, status models.JobStatus, jobType string, limit, offset int) ([]models.Job, error) {
	return nil, nil
}

func (s *txJobStore) recordWrite(ctx context.Context) {
	if ctx.Value(txKey{}) != nil {
		s.mu.Lock()
		s.sawWriteInTx = true
		s.mu.Unlock()
	}
}

func (s *txJobStore) MarkRunning(ctx context.Context, id uuid.UUID, workerID string, startedAt time.Time) error {
	return nil
}

func (s *txJobStore) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	return nil
}

func (s *txJobStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	s.recordWrite(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	job.Status = models.StatusFailed
	job.RetryCount++
	return nil
}

func (s *txJobStore) MarkRetrying(ctx context.Context, id uuid.UUID, scheduledFor time.Time, errorMessage string) error {
	s.recordWrite(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	job.Status = models.StatusRetrying
	job.RetryCount++
	return nil
}

func (s *txJobStore) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (s *txJobStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	return nil, nil
}

type txAttemptStore struct {
	mu       sync.Mutex
	attempts []models.RetryAttempt
}

func (s *txAttemptStore) CreateAttempt(ctx context.Context, attempt *models.RetryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *attempt)
	return nil
}

func (s *txAttemptStore) ListAttempts(ctx context.Context, jobID uuid.UUID) ([]models.RetryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RetryAttempt
	for _, a := range s.attempts {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeDeadStore struct {
	mu  sync.Mutex
	dls map[uuid.UUID]*models.DeadLetter
}

func newFakeDeadStore() *fakeDeadStore {
	return &fakeDeadStore{dls: make(map[uuid.UUID]*models.DeadLetter)}
}

func (s *fakeDeadStore) CreateDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dls[dl.JobID] = dl
	return nil
}

func (s *fakeDeadStore) GetDeadLetter(ctx context.Context, jobID uuid.UUID) (*models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.dls[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return dl, nil
}

func (s *fakeDeadStore) ListDeadLetters(ctx context.Context, limit, offset int) ([]models.DeadLetter, error) {
	return nil, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	delayed []uuid.UUID
	dead    []uuid.UUID
}

func (p *fakePublisher) Publish(ctx context.Context, job *models.Job) error { return nil }

func (p *fakePublisher) PublishDelayed(ctx context.Context, job *models.Job, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delayed = append(p.delayed, job.ID)
	return nil
}

func (p *fakePublisher) PublishDead(ctx context.Context, job *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = append(p.dead, job.ID)
	return nil
}

func TestController_HandleFailure_WrapsAttemptAndTransitionInOneTransaction(t *testing.T) {
	jobs := newTxJobStore()
	attempts := &txAttemptStore{}
	dead := newFakeDeadStore()
	pub := &fakePublisher{}
	c := NewController(jobs, attempts, dead, pub, NewPolicyTable())

	job := &models.Job{ID: uuid.New(), Type: "email", MaxRetries: 3}
	jobs.put(job)

	require.NoError(t, c.HandleFailure(context.Background(), job, fmt.Errorf("smtp timeout"), time.Now().UTC(), time.Now().UTC()))

	assert.True(t, jobs.sawWriteInTx, "MarkRetrying should run inside the MS transaction")
	assert.False(t, jobs.inTx, "transaction must be closed by the time HandleFailure returns")
	assert.Len(t, pub.delayed, 1)
}

func TestController_Quarantine_WrapsAttemptAndDeadLetterInOneTransaction(t *testing.T) {
	jobs := newTxJobStore()
	attempts := &txAttemptStore{}
	dead := newFakeDeadStore()
	pub := &fakePublisher{}
	c := NewController(jobs, attempts, dead, pub, NewPolicyTable())

	job := &models.Job{ID: uuid.New(), Type: "video", MaxRetries: 0}
	jobs.put(job)

	attempt := &models.RetryAttempt{JobID: job.ID, AttemptNumber: 1, StartedAt: time.Now().UTC(), FailedAt: time.Now().UTC(), ErrorMessage: "boom"}
	require.NoError(t, c.Quarantine(context.Background(), job, attempt, fmt.Errorf("boom")))

	assert.True(t, jobs.sawWriteInTx, "MarkFailed should run inside the MS transaction")
	assert.Len(t, pub.dead, 1)

	dl, err := dead.GetDeadLetter(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, dl.TotalAttempts)
}

func TestController_HandleFailure_QuarantinesAtMaxRetriesBoundary(t *testing.T) {
	jobs := newTxJobStore()
	attempts := &txAttemptStore{}
	dead := newFakeDeadStore()
	pub := &fakePublisher{}
	c := NewController(jobs, attempts, dead, pub, NewPolicyTable())

	// max_retries=0: a single failure must quarantine immediately, never
	// schedule a retry.
	job := &models.Job{ID: uuid.New(), Type: "scrape", MaxRetries: 0}
	jobs.put(job)

	require.NoError(t, c.HandleFailure(context.Background(), job, fmt.Errorf("blocked"), time.Now().UTC(), time.Now().UTC()))

	assert.Empty(t, pub.delayed)
	assert.Len(t, pub.dead, 1)
}
