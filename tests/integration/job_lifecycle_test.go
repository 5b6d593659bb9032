package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/arkflow/jobqueue/pkg/lifecycle"
	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/retry"
	"github.com/arkflow/jobqueue/pkg/storage"
)

// fakeJobStore is an in-memory stand-in for MS's job table, enough to
// exercise LM/RC/WR wiring without a real Postgres instance.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *fakeJobStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeJobStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *fakeJobStore) ListJobs(ctx context.Context, status models.JobStatus, jobType string, limit, offset int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if status != "" && j.Status != status {
			continue
		}
		if jobType != "" && j.Type != jobType {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (s *fakeJobStore) MarkRunning(ctx context.Context, id uuid.UUID, workerID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	if job.Status != models.StatusPending && job.Status != models.StatusRetrying {
		return storage.ErrConflict
	}
	job.Status = models.StatusRunning
	job.StartedAt = &startedAt
	job.WorkerID = &workerID
	return nil
}

func (s *fakeJobStore) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	job.Status = models.StatusCompleted
	job.CompletedAt = &completedAt
	return nil
}

func (s *fakeJobStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	job.Status = models.StatusFailed
	job.RetryCount++
	job.ErrorMessage = &errorMessage
	return nil
}

func (s *fakeJobStore) MarkRetrying(ctx context.Context, id uuid.UUID, scheduledFor time.Time, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	job.Status = models.StatusRetrying
	job.RetryCount++
	job.ScheduledFor = &scheduledFor
	job.ErrorMessage = &errorMessage
	return nil
}

func (s *fakeJobStore) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	if job.Status.Terminal() {
		return storage.ErrConflict
	}
	job.Status = models.StatusCancelled
	return nil
}

func (s *fakeJobStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.JobStatus]int64)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// fakeRetryAttemptStore is an in-memory stand-in for MS's retry_attempts table.
type fakeRetryAttemptStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID][]models.RetryAttempt
}

func newFakeRetryAttemptStore() *fakeRetryAttemptStore {
	return &fakeRetryAttemptStore{attempts: make(map[uuid.UUID][]models.RetryAttempt)}
}

func (s *fakeRetryAttemptStore) CreateAttempt(ctx context.Context, attempt *models.RetryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	s.attempts[attempt.JobID] = append(s.attempts[attempt.JobID], *attempt)
	return nil
}

func (s *fakeRetryAttemptStore) ListAttempts(ctx context.Context, jobID uuid.UUID) ([]models.RetryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RetryAttempt, len(s.attempts[jobID]))
	copy(out, s.attempts[jobID])
	return out, nil
}

// fakeDeadLetterStore is an in-memory stand-in for MS's dead_letters table.
type fakeDeadLetterStore struct {
	mu      sync.Mutex
	letters map[uuid.UUID]models.DeadLetter
}

func newFakeDeadLetterStore() *fakeDeadLetterStore {
	return &fakeDeadLetterStore{letters: make(map[uuid.UUID]models.DeadLetter)}
}

func (s *fakeDeadLetterStore) CreateDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	s.letters[dl.JobID] = *dl
	return nil
}

func (s *fakeDeadLetterStore) GetDeadLetter(ctx context.Context, jobID uuid.UUID) (*models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.letters[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &dl, nil
}

func (s *fakeDeadLetterStore) ListDeadLetters(ctx context.Context, limit, offset int) ([]models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DeadLetter, 0, len(s.letters))
	for _, dl := range s.letters {
		out = append(out, dl)
	}
	return out, nil
}

// fakeBroker is an in-memory stand-in for MB: it records every publish
// without modeling the priority streams or fairness discipline; these
// tests do not exercise either.
type fakeBroker struct {
	mu        sync.Mutex
	publishes []uuid.UUID
	delayed   []uuid.UUID
	dead      []uuid.UUID
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{}
}

func (b *fakeBroker) Publish(ctx context.Context, job *models.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishes = append(b.publishes, job.ID)
	return nil
}

func (b *fakeBroker) PublishDelayed(ctx context.Context, job *models.Job, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delayed = append(b.delayed, job.ID)
	return nil
}

func (b *fakeBroker) PublishDead(ctx context.Context, job *models.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead = append(b.dead, job.ID)
	return nil
}

// fakeCache is an in-memory stand-in for SC.
type fakeCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]models.JobStatus
}

func newFakeCache() *fakeCache {
	return &fakeCache{statuses: make(map[uuid.UUID]models.JobStatus)}
}

func (c *fakeCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = status
	return nil
}

func (c *fakeCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[jobID]
	return status, ok, nil
}

func (c *fakeCache) SetHeartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	return nil
}

func (c *fakeCache) ActiveWorkerCount(ctx context.Context) (int, error) {
	return 0, nil
}

// JobLifecycleTestSuite exercises LM and RC wired together against an
// in-memory MS/MB/SC, the way WR drives them in production.
type JobLifecycleTestSuite struct {
	suite.Suite

	jobs     *fakeJobStore
	attempts *fakeRetryAttemptStore
	dead     *fakeDeadLetterStore
	broker   *fakeBroker
	cache    *fakeCache

	lm *lifecycle.Manager
	rc *retry.Controller
}

func (s *JobLifecycleTestSuite) SetupTest() {
	s.jobs = newFakeJobStore()
	s.attempts = newFakeRetryAttemptStore()
	s.dead = newFakeDeadLetterStore()
	s.broker = newFakeBroker()
	s.cache = newFakeCache()

	s.lm = lifecycle.NewManager(s.jobs, s.cache, s.broker)

	policies := retry.NewPolicyTable()
	s.rc = retry.NewController(s.jobs, s.attempts, s.dead, s.broker, policies)
}

// TestSubmitPublishesImmediately covers the common path: a job submitted
// with no scheduled_for is created pending and published right away.
func (s *JobLifecycleTestSuite) TestSubmitPublishesImmediately() {
	ctx := context.Background()

	job, err := s.lm.Submit(ctx, lifecycle.SubmitInput{
		Type:     "shell",
		Priority: models.PriorityHigh,
	})
	require.NoError(s.T(), err)

	stored, err := s.jobs.GetJob(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusPending, stored.Status)

	assert.Contains(s.T(), s.broker.publishes, job.ID)
	assert.Empty(s.T(), s.broker.delayed)
}

// TestSubmitDefersFutureJobs covers scheduled_for in the future: the job
// must not appear on the immediate-dispatch stream at all.
func (s *JobLifecycleTestSuite) TestSubmitDefersFutureJobs() {
	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)

	job, err := s.lm.Submit(ctx, lifecycle.SubmitInput{
		Type:         "shell",
		ScheduledFor: &future,
	})
	require.NoError(s.T(), err)

	assert.NotContains(s.T(), s.broker.publishes, job.ID)
	assert.Contains(s.T(), s.broker.delayed, job.ID)
}

// TestRetryThenSuccess simulates a worker failing once, then succeeding on
// redelivery: the job should pass through retrying back to completed with
// exactly one recorded attempt.
func (s *JobLifecycleTestSuite) TestRetryThenSuccess() {
	ctx := context.Background()

	job, err := s.lm.Submit(ctx, lifecycle.SubmitInput{Type: "email", MaxRetries: intPtr(3)})
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.lm.MarkRunning(ctx, job.ID, "worker-1"))
	startedAt := time.Now().UTC()

	loaded, err := s.lm.Get(ctx, job.ID)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.rc.HandleFailure(ctx, loaded, fmt.Errorf("smtp timeout"), startedAt, time.Now().UTC()))

	afterFailure, err := s.lm.Get(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusRetrying, afterFailure.Status)
	assert.Equal(s.T(), 1, afterFailure.RetryCount)

	attempts, err := s.attempts.ListAttempts(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Len(s.T(), attempts, 1)

	require.NoError(s.T(), s.lm.MarkRunning(ctx, job.ID, "worker-1"))
	require.NoError(s.T(), s.lm.MarkCompleted(ctx, job.ID))

	final, err := s.lm.Get(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusCompleted, final.Status)

	_, err = s.dead.GetDeadLetter(ctx, job.ID)
	assert.ErrorIs(s.T(), err, storage.ErrNotFound)
}

// TestQuarantineAfterMaxRetries covers the retry-budget boundary: with
// max_retries=2, the job should accumulate exactly 2 RetryAttempt rows
// before landing in dead-letter, never a 3rd.
func (s *JobLifecycleTestSuite) TestQuarantineAfterMaxRetries() {
	ctx := context.Background()

	job, err := s.lm.Submit(ctx, lifecycle.SubmitInput{Type: "video", MaxRetries: intPtr(2)})
	require.NoError(s.T(), err)

	for i := 0; i < 2; i++ {
		require.NoError(s.T(), s.lm.MarkRunning(ctx, job.ID, "worker-1"))
		loaded, err := s.lm.Get(ctx, job.ID)
		require.NoError(s.T(), err)
		require.NoError(s.T(), s.rc.HandleFailure(ctx, loaded, fmt.Errorf("transcode failed"), time.Now().UTC(), time.Now().UTC()))
	}

	final, err := s.lm.Get(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusFailed, final.Status)
	assert.Equal(s.T(), 2, final.RetryCount)

	attempts, err := s.attempts.ListAttempts(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Len(s.T(), attempts, 2)

	dl, err := s.dead.GetDeadLetter(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2, dl.TotalAttempts)
	assert.Contains(s.T(), s.broker.dead, job.ID)
}

// TestSubmitDefaultsMaxRetriesWhenUnset covers the pointer-vs-zero-value
// distinction: omitting MaxRetries entirely gets the default budget.
func (s *JobLifecycleTestSuite) TestSubmitDefaultsMaxRetriesWhenUnset() {
	ctx := context.Background()

	job, err := s.lm.Submit(ctx, lifecycle.SubmitInput{Type: "shell"})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), lifecycle.DefaultMaxRetries, job.MaxRetries)
}

// TestSubmitZeroMaxRetriesQuarantinesOnFirstFailure covers the boundary
// explicit max_retries=0 must reach: a single failure quarantines
// immediately, with no retry in between.
func (s *JobLifecycleTestSuite) TestSubmitZeroMaxRetriesQuarantinesOnFirstFailure() {
	ctx := context.Background()

	job, err := s.lm.Submit(ctx, lifecycle.SubmitInput{Type: "shell", MaxRetries: intPtr(0)})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 0, job.MaxRetries)

	require.NoError(s.T(), s.lm.MarkRunning(ctx, job.ID, "worker-1"))
	loaded, err := s.lm.Get(ctx, job.ID)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.rc.HandleFailure(ctx, loaded, fmt.Errorf("boom"), time.Now().UTC(), time.Now().UTC()))

	final, err := s.lm.Get(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusFailed, final.Status)
	assert.Equal(s.T(), 1, final.RetryCount)

	dl, err := s.dead.GetDeadLetter(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, dl.TotalAttempts)
}

// TestCancelRunningJob covers the cancellation precondition: running jobs
// are cancellable, terminal ones are not.
func (s *JobLifecycleTestSuite) TestCancelRunningJob() {
	ctx := context.Background()

	job, err := s.lm.Submit(ctx, lifecycle.SubmitInput{Type: "scrape"})
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.lm.MarkRunning(ctx, job.ID, "worker-1"))

	require.NoError(s.T(), s.lm.Cancel(ctx, job.ID))

	cancelled, err := s.lm.Get(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusCancelled, cancelled.Status)

	err = s.lm.Cancel(ctx, job.ID)
	assert.ErrorIs(s.T(), err, storage.ErrConflict)
}

func TestJobLifecycle(t *testing.T) {
	suite.Run(t, new(JobLifecycleTestSuite))
}

func intPtr(v int) *int {
	return &v
}
