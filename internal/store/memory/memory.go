// Package memory implements the store interfaces with in-process maps.
// Every exported method runs under one mutex, so ClaimNext's scan and claim
// form a single critical section.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"deployplane/internal/apperr"
	"deployplane/internal/apprun"
	"deployplane/internal/job"
	"deployplane/internal/placement"
)

// Store keeps all control plane state in memory. It is lost on restart.
type Store struct {
	mu         sync.Mutex
	jobs       map[string]job.Job
	nodes      map[int64]placement.Node
	nextNodeID int64
	placements map[string]placement.Placement
	appRuns    map[string]apprun.AppRun
}

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:       make(map[string]job.Job),
		nodes:      make(map[int64]placement.Node),
		placements: make(map[string]placement.Placement),
		appRuns:    make(map[string]apprun.AppRun),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

// Save implements store.JobStore.
func (s *Store) Save(ctx context.Context, j job.Job) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(j)
}

func (s *Store) saveLocked(j job.Job) (job.Job, error) {
	if strings.TrimSpace(j.ID) == "" {
		return job.Job{}, apperr.Invalid("job id is required")
	}
	current, exists := s.jobs[j.ID]
	switch {
	case j.Version == 0 && exists:
		return job.Job{}, apperr.Conflict("job %s already exists", j.ID)
	case j.Version != 0 && !exists:
		return job.Job{}, apperr.NotFound("job not found: %s", j.ID)
	case exists && current.Version != j.Version:
		return job.Job{}, apperr.Conflict("job %s was modified concurrently", j.ID)
	}
	stored := j.Clone()
	stored.Version = j.Version + 1
	s.jobs[j.ID] = stored
	return stored.Clone(), nil
}

// Get implements store.JobStore.
func (s *Store) Get(ctx context.Context, id string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, apperr.NotFound("job not found: %s", id)
	}
	return j.Clone(), nil
}

// List implements store.JobStore.
func (s *Store) List(ctx context.Context, limit int) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.sortedLocked(func(a, b job.Job) bool { return a.CreatedAt.After(b.CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]job.Job, len(all))
	for i, j := range all {
		out[i] = j.Clone()
	}
	return out, nil
}

// sortedLocked returns the jobs ordered by less, ties broken by id.
func (s *Store) sortedLocked(less func(a, b job.Job) bool) []job.Job {
	all := make([]job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		all = append(all, j)
	}
	sort.Slice(all, func(i, k int) bool {
		if !all[i].CreatedAt.Equal(all[k].CreatedAt) {
			return less(all[i], all[k])
		}
		return all[i].ID < all[k].ID
	})
	return all
}

// ExistsActiveJobForApp implements store.JobStore.
func (s *Store) ExistsActiveJobForApp(ctx context.Context, appID string, now time.Time) (bool, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.AppID() != appID {
			continue
		}
		if j.Status == job.StatusPending {
			return true, nil
		}
		if j.Status == job.StatusRunning && !j.LeaseExpired(now) {
			return true, nil
		}
	}
	return false, nil
}

// ClaimNext implements store.JobStore.
func (s *Store) ClaimNext(ctx context.Context, runnerID string, leaseDuration time.Duration, now time.Time) (job.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldestFirst := s.sortedLocked(func(a, b job.Job) bool { return a.CreatedAt.Before(b.CreatedAt) })

	var candidate *job.Job
	for i := range oldestFirst {
		if oldestFirst[i].Status == job.StatusPending {
			candidate = &oldestFirst[i]
			break
		}
	}
	if candidate == nil {
		for i := range oldestFirst {
			j := oldestFirst[i]
			if j.Status != job.StatusRunning || !j.LeaseExpired(now) {
				continue
			}
			reclaimed, err := j.ReclaimByLeaseTimeout(now)
			if err != nil {
				return job.Job{}, false, err
			}
			candidate = &reclaimed
			break
		}
	}
	if candidate == nil {
		return job.Job{}, false, nil
	}

	claimed, err := candidate.Claim(runnerID, now.Add(leaseDuration), now)
	if err != nil {
		return job.Job{}, false, err
	}
	saved, err := s.saveLocked(claimed)
	if err != nil {
		return job.Job{}, false, err
	}
	return saved, true, nil
}

// DeleteByAppID implements store.JobStore.
func (s *Store) DeleteByAppID(ctx context.Context, appID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.AppID() == appID {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// CountByStatus implements store.JobStore.
func (s *Store) CountByStatus(ctx context.Context, status job.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.Status == status {
			n++
		}
	}
	return n, nil
}
