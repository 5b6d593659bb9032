// Package stats implements SA: a read-only aggregator over MS and SC,
// answering operational questions without ever mutating job state.
package stats

import (
	"context"
	"fmt"

	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/storage"
)

// Aggregator is SA.
type Aggregator struct {
	jobs  storage.JobStore
	dead  storage.DeadLetterStore
	cache storage.StatusCache
}

func NewAggregator(jobs storage.JobStore, dead storage.DeadLetterStore, cache storage.StatusCache) *Aggregator {
	return &Aggregator{jobs: jobs, dead: dead, cache: cache}
}

// Snapshot is the point-in-time statistics payload served by /api/v1/stats.
type Snapshot struct {
	CountsByStatus  map[models.JobStatus]int64 `json:"counts_by_status"`
	ActiveWorkers   int                        `json:"active_workers"`
	RecentDeadLetters []models.DeadLetter      `json:"recent_dead_letters"`
}

func (a *Aggregator) Snapshot(ctx context.Context) (*Snapshot, error) {
	counts, err := a.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}

	workers, err := a.cache.ActiveWorkerCount(ctx)
	if err != nil {
		// SC is never authoritative; a scan failure degrades the stat to
		// zero rather than failing the whole snapshot.
		workers = 0
	}

	deadLetters, err := a.dead.ListDeadLetters(ctx, 20, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent dead letters: %w", err)
	}

	return &Snapshot{
		CountsByStatus:    counts,
		ActiveWorkers:     workers,
		RecentDeadLetters: deadLetters,
	}, nil
}
